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

package modules

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/genie-ai/genie/pkg/config"
	"github.com/genie-ai/genie/pkg/session"
	"github.com/genie-ai/genie/pkg/window"
)

// WorkflowHistory contributes a compact markdown summary of past turn
// strategies: what was asked, which strategy ran, and which SQL statements
// executed. The strategic prompt template consumes a richer JSON form; the
// prompt builder adapts this module's output there.
type WorkflowHistory struct {
	contributions atomic.Int64
	condensations atomic.Int64
}

// NewWorkflowHistory creates the workflow history module.
func NewWorkflowHistory() *WorkflowHistory {
	return &WorkflowHistory{}
}

// Definition returns the registry entry for this module.
func (m *WorkflowHistory) Definition() *window.ModuleDefinition {
	return &window.ModuleDefinition{
		ID:           "workflow_history",
		Name:         "Workflow History",
		Abbrev:       "Wf",
		Version:      "1.0.0",
		Category:     "history",
		Capabilities: window.Capabilities{Condensable: true},
		Profiles:     []string{config.ProfileToolEnabled, config.ProfileGenie},
		Defaults:     window.Defaults{Priority: 55, TargetPct: 15, MinPct: 3, MaxPct: 25},
		Source:       window.SourceBuiltin,
		Handler:      m,
	}
}

// ModuleID returns the stable module id.
func (m *WorkflowHistory) ModuleID() string { return "workflow_history" }

// AppliesTo reports profile applicability.
func (m *WorkflowHistory) AppliesTo(profileType string) bool {
	return appliesTo([]string{config.ProfileToolEnabled, config.ProfileGenie}, profileType)
}

// Contribute summarizes past turns, newest last, within budget.
func (m *WorkflowHistory) Contribute(ctx context.Context, budgetTokens int, actx *window.AssemblyContext) (*window.Contribution, error) {
	svc, ok := actx.Dependency(DepSessions).(session.Service)
	if !ok {
		return nil, window.NewModuleError(m.ModuleID(), "contribute", "session service dependency missing", nil)
	}

	sess, err := svc.Load(ctx, actx.UserID, actx.SessionID)
	if err != nil {
		return nil, window.NewModuleError(m.ModuleID(), "contribute", "failed to load session", err)
	}
	if sess == nil || len(sess.Turns) == 0 {
		return &window.Contribution{Metadata: map[string]any{"turns_included": 0}}, nil
	}

	// Largest suffix of summaries that fits.
	start := len(sess.Turns)
	var content string
	for start > 0 {
		candidate := renderWorkflowSummary(sess.Turns[start-1:])
		if estimator.Estimate(candidate, actx.Provider) > budgetTokens {
			break
		}
		content = candidate
		start--
	}

	m.contributions.Add(1)
	return &window.Contribution{
		Content:     content,
		TokensUsed:  estimator.Estimate(content, actx.Provider),
		Condensable: true,
		Metadata: map[string]any{
			"turns_included": len(sess.Turns) - start,
			"turns_total":    len(sess.Turns),
		},
	}, nil
}

// Condense drops the oldest summary entries until the target fits.
func (m *WorkflowHistory) Condense(ctx context.Context, content string, targetTokens int, actx *window.AssemblyContext) (*window.Contribution, error) {
	lines := strings.Split(content, "\n")
	kept := lines
	for len(kept) > 2 { // keep the header line plus at least one entry
		candidate := strings.Join(kept, "\n")
		if estimator.Estimate(candidate, actx.Provider) <= targetTokens {
			break
		}
		// Header is kept[0]; oldest entry is kept[1].
		kept = append(kept[:1], kept[2:]...)
	}

	condensed := strings.Join(kept, "\n")
	if estimator.Estimate(condensed, actx.Provider) > targetTokens {
		condensed = truncateToTokens(condensed, targetTokens, actx.Provider)
	}

	m.condensations.Add(1)
	return &window.Contribution{
		Content:     condensed,
		TokensUsed:  estimator.Estimate(condensed, actx.Provider),
		Condensable: false,
		Metadata:    map[string]any{"strategy": "drop_oldest"},
	}, nil
}

// GetStatus exposes counters for the admin dashboard.
func (m *WorkflowHistory) GetStatus() map[string]any {
	return map[string]any{
		"healthy":       true,
		"contributions": m.contributions.Load(),
		"condensations": m.condensations.Load(),
	}
}

func renderWorkflowSummary(turns []session.Turn) string {
	var b strings.Builder
	b.WriteString("# Workflow History")
	for _, t := range turns {
		fmt.Fprintf(&b, "\n- turn %d: %q", t.Number, t.UserQuery)
		if t.StrategyType != "" {
			fmt.Fprintf(&b, " [%s]", t.StrategyType)
		}
		if len(t.SQLStatements) > 0 {
			fmt.Fprintf(&b, " sql=%d", len(t.SQLStatements))
		}
		if t.Error != "" {
			b.WriteString(" (failed)")
		}
	}
	return b.String()
}

var (
	_ window.Module         = (*WorkflowHistory)(nil)
	_ window.Condenser      = (*WorkflowHistory)(nil)
	_ window.StatusReporter = (*WorkflowHistory)(nil)
)
