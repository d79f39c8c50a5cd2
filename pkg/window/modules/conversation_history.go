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
	"sync"
	"sync/atomic"

	"github.com/genie-ai/genie/pkg/session"
	"github.com/genie-ai/genie/pkg/window"
)

// ConversationHistory contributes the recent user/assistant exchanges. A
// sliding window keeps the most recent turns that fit the budget; condensing
// shrinks the window further. Rendered history is cached per session and
// invalidated by Purge.
type ConversationHistory struct {
	mu    sync.Mutex
	cache map[string]string // session key -> last rendered history

	contributions atomic.Int64
	condensations atomic.Int64
}

// NewConversationHistory creates the conversation history module.
func NewConversationHistory() *ConversationHistory {
	return &ConversationHistory{cache: make(map[string]string)}
}

// Definition returns the registry entry for this module.
func (m *ConversationHistory) Definition() *window.ModuleDefinition {
	return &window.ModuleDefinition{
		ID:       "conversation_history",
		Name:     "Conversation History",
		Abbrev:   "Hist",
		Version:  "1.0.0",
		Category: "history",
		Capabilities: window.Capabilities{
			Condensable: true,
			Purgeable:   true,
			HasCache:    true,
		},
		Defaults: window.Defaults{Priority: 60, TargetPct: 40, MinPct: 10, MaxPct: 60},
		Source:   window.SourceBuiltin,
		Handler:  m,
	}
}

// ModuleID returns the stable module id.
func (m *ConversationHistory) ModuleID() string { return "conversation_history" }

// AppliesTo reports profile applicability.
func (m *ConversationHistory) AppliesTo(profileType string) bool {
	return appliesTo(allProfiles, profileType)
}

// Contribute renders the most recent turns that fit the budget, oldest
// first so the model reads the conversation in order.
func (m *ConversationHistory) Contribute(ctx context.Context, budgetTokens int, actx *window.AssemblyContext) (*window.Contribution, error) {
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

	content, included := renderTurnWindow(sess.Turns, budgetTokens, actx.Provider)

	m.mu.Lock()
	m.cache[actx.UserID+":"+actx.SessionID] = content
	m.mu.Unlock()

	m.contributions.Add(1)
	return &window.Contribution{
		Content:     content,
		TokensUsed:  estimator.Estimate(content, actx.Provider),
		Condensable: true,
		Metadata: map[string]any{
			"turns_included": included,
			"turns_total":    len(sess.Turns),
		},
	}, nil
}

// Condense shrinks the window by dropping oldest exchanges until the target
// fits.
func (m *ConversationHistory) Condense(ctx context.Context, content string, targetTokens int, actx *window.AssemblyContext) (*window.Contribution, error) {
	blocks := strings.Split(content, "\n\n")
	kept := blocks
	for len(kept) > 1 {
		candidate := strings.Join(kept, "\n\n")
		if estimator.Estimate(candidate, actx.Provider) <= targetTokens {
			break
		}
		kept = kept[1:] // drop oldest exchange
	}

	condensed := strings.Join(kept, "\n\n")
	if estimator.Estimate(condensed, actx.Provider) > targetTokens {
		condensed = truncateToTokens(condensed, targetTokens, actx.Provider)
	}

	m.condensations.Add(1)
	return &window.Contribution{
		Content:     condensed,
		TokensUsed:  estimator.Estimate(condensed, actx.Provider),
		Condensable: len(kept) > 1,
		Metadata: map[string]any{
			"strategy":       "sliding_window",
			"turns_included": len(kept),
		},
	}, nil
}

// Purge drops cached rendered history for the session (or all sessions of
// the user when sessionID is empty).
func (m *ConversationHistory) Purge(ctx context.Context, sessionID, userID string) (*window.PurgeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key := range m.cache {
		if sessionID != "" && key != userID+":"+sessionID {
			continue
		}
		if sessionID == "" && !strings.HasPrefix(key, userID+":") {
			continue
		}
		delete(m.cache, key)
		removed++
	}
	return &window.PurgeResult{
		Purged:  removed > 0,
		Details: map[string]any{"cache_entries_removed": removed},
	}, nil
}

// GetStatus exposes counters for the admin dashboard.
func (m *ConversationHistory) GetStatus() map[string]any {
	m.mu.Lock()
	cached := len(m.cache)
	m.mu.Unlock()
	return map[string]any{
		"healthy":       true,
		"contributions": m.contributions.Load(),
		"condensations": m.condensations.Load(),
		"cached":        cached,
	}
}

// renderTurnWindow renders the largest suffix of turns fitting the budget.
// Returns the content and the number of turns included.
func renderTurnWindow(turns []session.Turn, budgetTokens int, provider string) (string, int) {
	start := len(turns)
	var content string
	for start > 0 {
		candidate := renderTurns(turns[start-1:])
		if estimator.Estimate(candidate, provider) > budgetTokens {
			break
		}
		content = candidate
		start--
	}
	if content == "" && len(turns) > 0 {
		// Even one turn overflows: keep it truncated rather than empty.
		content = truncateToTokens(renderTurns(turns[len(turns)-1:]), budgetTokens, provider)
		return content, 1
	}
	return content, len(turns) - start
}

func renderTurns(turns []session.Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "User: %s", t.UserQuery)
		if t.Response != "" {
			fmt.Fprintf(&b, "\nAssistant: %s", t.Response)
		}
		if t.Error != "" {
			fmt.Fprintf(&b, "\nError: %s", t.Error)
		}
	}
	return b.String()
}

var (
	_ window.Module         = (*ConversationHistory)(nil)
	_ window.Condenser      = (*ConversationHistory)(nil)
	_ window.Purger         = (*ConversationHistory)(nil)
	_ window.StatusReporter = (*ConversationHistory)(nil)
)
