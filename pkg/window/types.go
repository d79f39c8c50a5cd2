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

// Package window implements the context window orchestrator: a four-pass
// budget scheduler that composes an LLM prompt from pluggable context
// modules under a hard token budget.
package window

import (
	"context"
)

// Priority bands for active modules.
const (
	PriorityCriticalMin = 90 // 90-100: critical
	PriorityNormalMin   = 30 // 30-89: normal
	PriorityOptionalMin = 1  // 1-29: optional
)

// AssemblyContext is the read-only input passed to every module during one
// assembly. Modules may read it but must not mutate it.
type AssemblyContext struct {
	// Identity.
	ProfileType string
	ProfileID   string
	SessionID   string
	UserID      string

	// State.
	SessionData map[string]any
	Attachments []string
	TurnNumber  int // 1-based
	IsFirstTurn bool

	// Limits.
	ModelContextLimit int
	OutputReserve     int

	// Provider is the LLM provider family, used for token estimation.
	Provider string

	// Dependencies maps capability names to external handles (tool
	// registries, prompt sources, config snapshots).
	Dependencies map[string]any

	// PreviousContributions holds the contributions already produced by
	// strictly higher-priority modules in this assembly, keyed by module id.
	PreviousContributions map[string]*Contribution
}

// AvailableBudget returns the tokens left for context after the output
// reservation.
func (c *AssemblyContext) AvailableBudget() int {
	return c.ModelContextLimit - c.OutputReserve
}

// Dependency returns a named external handle, or nil.
func (c *AssemblyContext) Dependency(name string) any {
	return c.Dependencies[name]
}

// Contribution is the output of one module for one assembly.
type Contribution struct {
	// Content is the produced context text. May be empty.
	Content string `json:"content"`

	// TokensUsed is the estimated token cost of Content.
	TokensUsed int `json:"tokens_used"`

	// Metadata carries module-specific observability data.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Condensable marks whether this content can still be condensed.
	Condensable bool `json:"condensable"`
}

// Meta returns a metadata value, or nil.
func (c *Contribution) Meta(key string) any {
	if c.Metadata == nil {
		return nil
	}
	return c.Metadata[key]
}

// Module is the contract every context module implements.
type Module interface {
	// ModuleID returns the stable unique module id, identical to the
	// manifest id.
	ModuleID() string

	// AppliesTo reports whether the module participates in assemblies for
	// the given profile type. Modules returning false are excluded in
	// Pass 1 and their budget share is redistributed.
	AppliesTo(profileType string) bool

	// Contribute produces content whose estimated token cost should not
	// exceed budgetTokens. It may read actx.PreviousContributions and may
	// block on I/O; ctx carries cancellation and the per-module timeout.
	Contribute(ctx context.Context, budgetTokens int, actx *AssemblyContext) (*Contribution, error)
}

// Condenser is implemented by modules that can reduce their content.
type Condenser interface {
	// Condense reduces content to at most targetTokens, preserving the most
	// recent / highest-salience material. The returned contribution's
	// metadata should name the strategy used under "strategy".
	Condense(ctx context.Context, content string, targetTokens int, actx *AssemblyContext) (*Contribution, error)
}

// Purger is implemented by modules that own persistent or cached state
// scoped to a user or session.
type Purger interface {
	Purge(ctx context.Context, sessionID, userID string) (*PurgeResult, error)
}

// PurgeResult reports what a purge removed.
type PurgeResult struct {
	Purged  bool           `json:"purged"`
	Details map[string]any `json:"details,omitempty"`
}

// StatusReporter exposes health and counters for the admin dashboard.
type StatusReporter interface {
	GetStatus() map[string]any
}

// Capabilities declares what a module can do, from its manifest.
type Capabilities struct {
	Condensable bool `yaml:"condensable" json:"condensable"`
	Purgeable   bool `yaml:"purgeable" json:"purgeable"`
	HasCache    bool `yaml:"has_cache" json:"has_cache"`
}

// Defaults are a module's budget defaults, overridable per window type.
type Defaults struct {
	Priority  int     `yaml:"priority" json:"priority"`
	TargetPct float64 `yaml:"target_pct" json:"target_pct"`
	MinPct    float64 `yaml:"min_pct" json:"min_pct"`
	MaxPct    float64 `yaml:"max_pct" json:"max_pct"`
}

// Module sources, in override order (later wins on id collision).
const (
	SourceBuiltin = "builtin"
	SourcePack    = "pack"
	SourceUser    = "user"
)

// ModuleDefinition is a registry entry: manifest data plus the loaded
// handler instance.
type ModuleDefinition struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Abbrev       string       `json:"abbrev,omitempty"`
	Version      string       `json:"version"`
	Category     string       `json:"category"`
	Capabilities Capabilities `json:"capabilities"`
	Profiles     []string     `json:"profiles,omitempty"`
	Required     bool         `json:"required"`
	Defaults     Defaults     `json:"defaults"`
	Source       string       `json:"source"`

	// Handler is the loaded module instance. Nil on metadata snapshots.
	Handler Module `json:"-"`
}

// ModuleSource is the registry view the orchestrator needs.
type ModuleSource interface {
	// Definition returns the definition for a module id.
	Definition(id string) (*ModuleDefinition, bool)
}

// activeModule is a resolved module for one assembly.
type activeModule struct {
	id          string
	handler     Module
	label       string
	abbrev      string
	category    string
	priority    int
	targetPct   float64
	minPct      float64
	maxPct      float64
	condensable bool

	allocated    int
	contribution *Contribution
}

// AssembledContext is the orchestrator's output: contributions in assembly
// order (descending priority) plus the snapshot.
type AssembledContext struct {
	// Order lists module ids in assembly order.
	Order []string

	// Contributions maps module id to its contribution.
	Contributions map[string]*Contribution

	// Snapshot holds the per-assembly metrics.
	Snapshot *Snapshot

	// TotalTokens is the summed token usage after condensation.
	TotalTokens int
}

// Get returns the contribution for a module id, or nil.
func (a *AssembledContext) Get(moduleID string) *Contribution {
	return a.Contributions[moduleID]
}

// Content returns the content for a module id, or "".
func (a *AssembledContext) Content(moduleID string) string {
	if c := a.Contributions[moduleID]; c != nil {
		return c.Content
	}
	return ""
}
