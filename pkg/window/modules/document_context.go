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

// DocumentContext contributes the session's attached documents. The budget
// is split evenly across attachments; each file is truncated to its share.
// Parsed attachment text is cached per session and cleared by Purge.
type DocumentContext struct {
	mu    sync.Mutex
	cache map[string][]session.Attachment

	contributions atomic.Int64
	condensations atomic.Int64
}

// NewDocumentContext creates the document context module.
func NewDocumentContext() *DocumentContext {
	return &DocumentContext{cache: make(map[string][]session.Attachment)}
}

// Definition returns the registry entry for this module.
func (m *DocumentContext) Definition() *window.ModuleDefinition {
	return &window.ModuleDefinition{
		ID:       "document_context",
		Name:     "Attached Documents",
		Abbrev:   "Docs",
		Version:  "1.0.0",
		Category: "documents",
		Capabilities: window.Capabilities{
			Condensable: true,
			Purgeable:   true,
			HasCache:    true,
		},
		Defaults: window.Defaults{Priority: 40, TargetPct: 15, MinPct: 0, MaxPct: 40},
		Source:   window.SourceBuiltin,
		Handler:  m,
	}
}

// ModuleID returns the stable module id.
func (m *DocumentContext) ModuleID() string { return "document_context" }

// AppliesTo reports profile applicability.
func (m *DocumentContext) AppliesTo(profileType string) bool {
	return appliesTo(allProfiles, profileType)
}

// Contribute renders attachments, truncating each to its share of the
// budget.
func (m *DocumentContext) Contribute(ctx context.Context, budgetTokens int, actx *window.AssemblyContext) (*window.Contribution, error) {
	attachments, err := m.loadAttachments(ctx, actx)
	if err != nil {
		return nil, err
	}
	if len(attachments) == 0 {
		return &window.Contribution{Metadata: map[string]any{"documents": 0}}, nil
	}

	content := renderAttachments(attachments, budgetTokens, actx.Provider)
	m.contributions.Add(1)
	return &window.Contribution{
		Content:     content,
		TokensUsed:  estimator.Estimate(content, actx.Provider),
		Condensable: true,
		Metadata:    map[string]any{"documents": len(attachments)},
	}, nil
}

// Condense re-renders the attachments with smaller per-file shares.
func (m *DocumentContext) Condense(ctx context.Context, content string, targetTokens int, actx *window.AssemblyContext) (*window.Contribution, error) {
	attachments, err := m.loadAttachments(ctx, actx)
	if err != nil || len(attachments) == 0 {
		condensed := truncateToTokens(content, targetTokens, actx.Provider)
		return &window.Contribution{
			Content:     condensed,
			TokensUsed:  estimator.Estimate(condensed, actx.Provider),
			Condensable: false,
			Metadata:    map[string]any{"strategy": "per_file_truncation"},
		}, nil
	}

	condensed := renderAttachments(attachments, targetTokens, actx.Provider)
	m.condensations.Add(1)
	return &window.Contribution{
		Content:     condensed,
		TokensUsed:  estimator.Estimate(condensed, actx.Provider),
		Condensable: false,
		Metadata: map[string]any{
			"strategy":  "per_file_truncation",
			"documents": len(attachments),
		},
	}, nil
}

// Purge drops cached attachment text for the session (or all of the user's
// sessions when sessionID is empty).
func (m *DocumentContext) Purge(ctx context.Context, sessionID, userID string) (*window.PurgeResult, error) {
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
func (m *DocumentContext) GetStatus() map[string]any {
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

func (m *DocumentContext) loadAttachments(ctx context.Context, actx *window.AssemblyContext) ([]session.Attachment, error) {
	key := actx.UserID + ":" + actx.SessionID

	m.mu.Lock()
	if cached, ok := m.cache[key]; ok {
		m.mu.Unlock()
		return cached, nil
	}
	m.mu.Unlock()

	svc, ok := actx.Dependency(DepSessions).(session.Service)
	if !ok {
		return nil, window.NewModuleError(m.ModuleID(), "contribute", "session service dependency missing", nil)
	}
	sess, err := svc.Load(ctx, actx.UserID, actx.SessionID)
	if err != nil {
		return nil, window.NewModuleError(m.ModuleID(), "contribute", "failed to load session", err)
	}

	var attachments []session.Attachment
	if sess != nil {
		attachments = sess.Attachments
	}

	m.mu.Lock()
	m.cache[key] = attachments
	m.mu.Unlock()
	return attachments, nil
}

// renderAttachments gives each attachment an even share of the budget and
// truncates its content to that share.
func renderAttachments(attachments []session.Attachment, budgetTokens int, provider string) string {
	if len(attachments) == 0 {
		return ""
	}
	perFile := budgetTokens / len(attachments)

	var b strings.Builder
	for i, a := range attachments {
		if i > 0 {
			b.WriteString("\n\n")
		}
		header := fmt.Sprintf("=== Document: %s ===\n", a.Name)
		body := truncateToTokens(a.Content, perFile-estimator.Estimate(header, provider), provider)
		b.WriteString(header)
		b.WriteString(body)
		if len(body) < len(a.Content) {
			b.WriteString("\n[truncated]")
		}
	}
	return b.String()
}

var (
	_ window.Module         = (*DocumentContext)(nil)
	_ window.Condenser      = (*DocumentContext)(nil)
	_ window.Purger         = (*DocumentContext)(nil)
	_ window.StatusReporter = (*DocumentContext)(nil)
)
