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

package window

import (
	"fmt"
	"strings"
	"time"
)

// Snapshot is the single source of truth for assembly observability.
type Snapshot struct {
	AssemblyID string    `json:"assembly_id"`
	Timestamp  time.Time `json:"timestamp"`

	TypeID   string `json:"type_id"`
	TypeName string `json:"type_name"`

	ModelContextLimit int `json:"model_context_limit"`
	OutputReserve     int `json:"output_reserve"`
	AvailableBudget   int `json:"available_budget"`
	TotalUsed         int `json:"total_used"`

	// UtilizationPct is total_used / available_budget x 100. May exceed 100
	// when the condensation order was exhausted while still over budget.
	UtilizationPct float64 `json:"utilization_pct"`

	Modules            []ModuleSnapshot    `json:"modules"`
	CondensationEvents []CondensationEvent `json:"condensation_events,omitempty"`
	AdjustmentsFired   []string            `json:"adjustments_fired,omitempty"`

	ProfileType       string   `json:"profile_type"`
	SkippedModules    []string `json:"skipped_modules,omitempty"`
	ActiveModuleCount int      `json:"active_module_count"`

	SessionID  string `json:"session_id"`
	TurnNumber int    `json:"turn_number"`

	Cancelled  bool `json:"cancelled,omitempty"`
	OverBudget bool `json:"over_budget,omitempty"`

	// Post hoc authoritative counts from the provider response. They
	// overwrite the estimate-based figures for accounting; the per-module
	// numbers above stay estimates.
	ActualInputTokens  int `json:"actual_input_tokens,omitempty"`
	ActualOutputTokens int `json:"actual_output_tokens,omitempty"`
}

// ModuleSnapshot records one module's allocation and use.
type ModuleSnapshot struct {
	ModuleID        string         `json:"module_id"`
	Label           string         `json:"label"`
	Category        string         `json:"category"`
	TokensAllocated int            `json:"tokens_allocated"`
	TokensUsed      int            `json:"tokens_used"`
	UtilizationPct  float64        `json:"utilization_pct"`
	WasCondensed    bool           `json:"was_condensed"`
	IsActive        bool           `json:"is_active"`
	Metadata        map[string]any `json:"metadata,omitempty"`

	abbrev string
}

// CondensationEvent records one Pass-4 condensation.
type CondensationEvent struct {
	ModuleID     string  `json:"module_id"`
	TokensBefore int     `json:"tokens_before"`
	TokensAfter  int     `json:"tokens_after"`
	ReductionPct float64 `json:"reduction_pct"`
	Strategy     string  `json:"strategy,omitempty"`
}

// SnapshotEventType is the wire event type for snapshot emission.
const SnapshotEventType = "context_window_snapshot"

// SnapshotEvent is the structured payload emitted after each assembly.
type SnapshotEvent struct {
	Type     string    `json:"type"`
	Snapshot *Snapshot `json:"snapshot"`
}

// Event returns the wire payload for this snapshot.
func (s *Snapshot) Event() *SnapshotEvent {
	return &SnapshotEvent{Type: SnapshotEventType, Snapshot: s}
}

// RecordActualUsage overwrites the post hoc token fields with
// provider-reported counts.
func (s *Snapshot) RecordActualUsage(inputTokens, outputTokens int) {
	s.ActualInputTokens = inputTokens
	s.ActualOutputTokens = outputTokens
}

// Summary returns the compact single-line log form, e.g.
// "Context: 10.4K/184K (5.7%) | Sys:1.0K Tools:3.2K Hist:4.1K".
func (s *Snapshot) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Context: %s/%s (%.1f%%)",
		humanTokens(s.TotalUsed), humanTokens(s.AvailableBudget), s.UtilizationPct)

	parts := make([]string, 0, len(s.Modules))
	for _, m := range s.Modules {
		if !m.IsActive || m.TokensUsed == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s:%s", m.shortLabel(), humanTokens(m.TokensUsed)))
	}
	if len(parts) > 0 {
		b.WriteString(" | ")
		b.WriteString(strings.Join(parts, " "))
	}
	if s.Cancelled {
		b.WriteString(" [cancelled]")
	} else if s.OverBudget {
		b.WriteString(" [over budget]")
	}
	return b.String()
}

func (m *ModuleSnapshot) shortLabel() string {
	if m.abbrev != "" {
		return m.abbrev
	}
	label := m.Label
	if label == "" {
		label = m.ModuleID
	}
	// First word, capped at 5 runes.
	if i := strings.IndexAny(label, " _-"); i > 0 {
		label = label[:i]
	}
	runes := []rune(label)
	if len(runes) > 5 {
		runes = runes[:5]
	}
	return string(runes)
}

func humanTokens(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%.1fK", float64(n)/1000)
}
