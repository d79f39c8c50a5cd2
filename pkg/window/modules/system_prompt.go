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

// SystemPrompt contributes the profile's base system prompt. Critical
// priority; never condensed.
type SystemPrompt struct {
	contributions atomic.Int64
}

// NewSystemPrompt creates the system prompt module.
func NewSystemPrompt() *SystemPrompt {
	return &SystemPrompt{}
}

// Definition returns the registry entry for this module.
func (m *SystemPrompt) Definition() *window.ModuleDefinition {
	return &window.ModuleDefinition{
		ID:       "system_prompt",
		Name:     "System Prompt",
		Abbrev:   "Sys",
		Version:  "1.0.0",
		Category: "core",
		Required: true,
		Defaults: window.Defaults{Priority: 95, TargetPct: 5, MinPct: 2, MaxPct: 10},
		Source:   window.SourceBuiltin,
		Handler:  m,
	}
}

// ModuleID returns the stable module id.
func (m *SystemPrompt) ModuleID() string { return "system_prompt" }

// AppliesTo reports profile applicability.
func (m *SystemPrompt) AppliesTo(profileType string) bool {
	return appliesTo(allProfiles, profileType)
}

// Contribute produces the system prompt text.
func (m *SystemPrompt) Contribute(ctx context.Context, budgetTokens int, actx *window.AssemblyContext) (*window.Contribution, error) {
	source, ok := actx.Dependency(DepPrompts).(PromptSource)
	if !ok {
		return nil, window.NewModuleError(m.ModuleID(), "contribute", "prompt source dependency missing", nil)
	}

	text, ok := source.Prompt("system", actx.ProfileType)
	if !ok {
		return nil, window.NewModuleError(m.ModuleID(), "contribute", "no system prompt for profile "+actx.ProfileType, nil)
	}

	text = truncateToTokens(text, budgetTokens, actx.Provider)
	m.contributions.Add(1)
	return &window.Contribution{
		Content:    text,
		TokensUsed: estimator.Estimate(text, actx.Provider),
	}, nil
}

// GetStatus exposes counters for the admin dashboard.
func (m *SystemPrompt) GetStatus() map[string]any {
	return map[string]any{
		"healthy":       true,
		"contributions": m.contributions.Load(),
	}
}

var (
	_ window.Module         = (*SystemPrompt)(nil)
	_ window.StatusReporter = (*SystemPrompt)(nil)
)
