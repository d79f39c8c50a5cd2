// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 The Genie Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package prompt adapts an assembled context into the variable surface each
// prompt template call site expects.
package prompt

import (
	"context"
	"fmt"

	"github.com/genie-ai/genie/pkg/session"
	"github.com/genie-ai/genie/pkg/tokens"
	"github.com/genie-ai/genie/pkg/window"
)

// Call types, each with a known template variable surface.
const (
	CallStrategic = "strategic"
	CallTactical  = "tactical"
	CallSynthesis = "synthesis"
	CallUtility   = "utility"
)

// PhaseContext carries the assembled context plus caller-supplied control
// data for one template call.
type PhaseContext struct {
	Assembled *window.AssembledContext

	UserID    string
	SessionID string
	Provider  string

	// Caller-supplied control data merged into the variables.
	Goals     []string
	Errors    []string
	PhaseInfo map[string]any
}

// PromptContext is the template-ready output: a variable mapping plus a
// per-call snapshot derived from the assembly snapshot.
type PromptContext struct {
	CallType  string
	Variables map[string]any
	Snapshot  *window.Snapshot
}

// Builder maps module contents to template variables per call type.
type Builder struct {
	sessions  session.Service
	estimator *tokens.Estimator
}

// NewBuilder creates a prompt builder.
func NewBuilder(sessions session.Service) *Builder {
	return &Builder{
		sessions:  sessions,
		estimator: tokens.NewEstimator(),
	}
}

// Build produces the variable mapping for a call type, applying format
// adapters where a module's native output does not match the template's
// expectation.
func (b *Builder) Build(ctx context.Context, callType string, phase *PhaseContext) (*PromptContext, error) {
	if phase == nil || phase.Assembled == nil {
		return nil, fmt.Errorf("phase context with assembled context is required")
	}
	assembled := phase.Assembled

	vars := map[string]any{
		"system_prompt":          assembled.Content("system_prompt"),
		"component_instructions": assembled.Content("component_instructions"),
	}

	switch callType {
	case CallStrategic:
		vars["tool_definitions"] = assembled.Content("tool_definitions")
		vars["rag_examples"] = assembled.Content("rag_context")
		vars["knowledge"] = assembled.Content("knowledge_context")
		vars["documents"] = assembled.Content("document_context")

		// The strategic template expects structured turn history, not the
		// module's markdown summary.
		history, err := b.workflowHistoryJSON(ctx, phase)
		if err != nil {
			return nil, err
		}
		vars["workflow_history"] = history

	case CallTactical:
		vars["tool_definitions"] = assembled.Content("tool_definitions")
		vars["conversation_history"] = assembled.Content("conversation_history")
		vars["documents"] = assembled.Content("document_context")

	case CallSynthesis:
		vars["conversation_history"] = assembled.Content("conversation_history")
		vars["knowledge"] = assembled.Content("knowledge_context")
		vars["documents"] = assembled.Content("document_context")

	case CallUtility:
		// Utility calls are cheap one-shots: system prompt only.

	default:
		return nil, fmt.Errorf("unknown call type: %s", callType)
	}

	if len(phase.Goals) > 0 {
		vars["goals"] = phase.Goals
	}
	if len(phase.Errors) > 0 {
		vars["errors"] = phase.Errors
	}
	for k, v := range phase.PhaseInfo {
		vars[k] = v
	}

	return &PromptContext{
		CallType:  callType,
		Variables: vars,
		Snapshot:  b.rescaleSnapshot(assembled.Snapshot, vars, phase.Provider),
	}, nil
}

// rescaleSnapshot derives a per-call snapshot from the base assembly
// snapshot: totals reflect this call's actual variable payload while the
// per-module figures stay those of the base assembly.
func (b *Builder) rescaleSnapshot(base *window.Snapshot, vars map[string]any, provider string) *window.Snapshot {
	if base == nil {
		return nil
	}
	cp := *base

	total := 0
	for _, v := range vars {
		if s, ok := v.(string); ok {
			total += b.estimator.Estimate(s, provider)
		}
	}
	cp.TotalUsed = total
	if cp.AvailableBudget > 0 {
		cp.UtilizationPct = float64(total) / float64(cp.AvailableBudget) * 100
	}
	cp.OverBudget = cp.AvailableBudget > 0 && total > cp.AvailableBudget
	return &cp
}
