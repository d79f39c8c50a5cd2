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

package prompt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/genie-ai/genie/pkg/session"
	"github.com/genie-ai/genie/pkg/window"
)

// historyTurn is the structured turn record the strategic template expects.
type historyTurn struct {
	Turn          int      `json:"turn"`
	UserQuery     string   `json:"user_query"`
	StrategyType  string   `json:"strategy_type,omitempty"`
	SQLStatements []string `json:"sql_statements,omitempty"`
	OutputTokens  int      `json:"output_tokens,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// workflowHistoryJSON is the format adapter for the strategic call: the
// workflow history module produces a markdown summary, but the template
// wants JSON with turn metadata and SQL extraction. The adapter re-reads
// the raw session turns, scrubs UI-only state, and truncates oldest turns
// until the serialized JSON fits the module's token budget.
func (b *Builder) workflowHistoryJSON(ctx context.Context, phase *PhaseContext) (string, error) {
	budget := moduleAllocation(phase.Assembled.Snapshot, "workflow_history")
	if budget <= 0 {
		return "[]", nil
	}

	sess, err := b.sessions.Load(ctx, phase.UserID, phase.SessionID)
	if err != nil {
		return "", fmt.Errorf("failed to load session for workflow history: %w", err)
	}
	if sess == nil || len(sess.Turns) == 0 {
		return "[]", nil
	}

	turns := adaptTurns(sess.Turns)
	for len(turns) > 0 {
		data, err := json.Marshal(turns)
		if err != nil {
			return "", fmt.Errorf("failed to serialize workflow history: %w", err)
		}
		if b.estimator.Estimate(string(data), phase.Provider) <= budget {
			return string(data), nil
		}
		turns = turns[1:] // drop oldest
	}
	return "[]", nil
}

// adaptTurns maps session turns to the template's record shape, dropping
// UI-only state along the way.
func adaptTurns(turns []session.Turn) []historyTurn {
	out := make([]historyTurn, 0, len(turns))
	for _, t := range turns {
		out = append(out, historyTurn{
			Turn:          t.Number,
			UserQuery:     t.UserQuery,
			StrategyType:  t.StrategyType,
			SQLStatements: t.SQLStatements,
			OutputTokens:  t.OutputTokens,
			Error:         t.Error,
		})
	}
	return out
}

// moduleAllocation returns the allocated token budget a module received in
// the base assembly, or 0 when it was not active.
func moduleAllocation(snap *window.Snapshot, moduleID string) int {
	if snap == nil {
		return 0
	}
	for _, m := range snap.Modules {
		if m.ModuleID == moduleID && m.IsActive {
			return m.TokensAllocated
		}
	}
	return 0
}
