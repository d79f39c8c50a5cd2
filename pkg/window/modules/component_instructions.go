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
	"sync/atomic"

	"github.com/genie-ai/genie/pkg/window"
)

// ComponentInstructions contributes profile-specific behavioral
// instructions layered on top of the system prompt (output formatting,
// component usage rules).
type ComponentInstructions struct {
	contributions atomic.Int64
}

// NewComponentInstructions creates the component instructions module.
func NewComponentInstructions() *ComponentInstructions {
	return &ComponentInstructions{}
}

// Definition returns the registry entry for this module.
func (m *ComponentInstructions) Definition() *window.ModuleDefinition {
	return &window.ModuleDefinition{
		ID:       "component_instructions",
		Name:     "Component Instructions",
		Abbrev:   "Comp",
		Version:  "1.0.0",
		Category: "core",
		Defaults: window.Defaults{Priority: 85, TargetPct: 5, MinPct: 1, MaxPct: 10},
		Source:   window.SourceBuiltin,
		Handler:  m,
	}
}

// ModuleID returns the stable module id.
func (m *ComponentInstructions) ModuleID() string { return "component_instructions" }

// AppliesTo reports profile applicability.
func (m *ComponentInstructions) AppliesTo(profileType string) bool {
	return appliesTo(allProfiles, profileType)
}

// Contribute produces the instruction text. Missing instructions are not an
// error: many profiles define none.
func (m *ComponentInstructions) Contribute(ctx context.Context, budgetTokens int, actx *window.AssemblyContext) (*window.Contribution, error) {
	source, ok := actx.Dependency(DepPrompts).(PromptSource)
	if !ok {
		return nil, window.NewModuleError(m.ModuleID(), "contribute", "prompt source dependency missing", nil)
	}

	text, ok := source.Prompt("component_instructions", actx.ProfileType)
	if !ok {
		return &window.Contribution{}, nil
	}

	text = truncateToTokens(text, budgetTokens, actx.Provider)
	m.contributions.Add(1)
	return &window.Contribution{
		Content:    text,
		TokensUsed: estimator.Estimate(text, actx.Provider),
	}, nil
}

// GetStatus exposes counters for the admin dashboard.
func (m *ComponentInstructions) GetStatus() map[string]any {
	return map[string]any{
		"healthy":       true,
		"contributions": m.contributions.Load(),
	}
}

var (
	_ window.Module         = (*ComponentInstructions)(nil)
	_ window.StatusReporter = (*ComponentInstructions)(nil)
)
