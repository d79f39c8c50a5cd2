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
	"github.com/genie-ai/genie/pkg/rag"
	"github.com/genie-ai/genie/pkg/window"
)

const (
	knowledgeDefaultK        = 5
	knowledgeDefaultMinScore = 0.4
)

// KnowledgeContext contributes semantically relevant snippets from the
// user's knowledge collections.
type KnowledgeContext struct {
	contributions atomic.Int64
	condensations atomic.Int64
}

// NewKnowledgeContext creates the knowledge context module.
func NewKnowledgeContext() *KnowledgeContext {
	return &KnowledgeContext{}
}

// Definition returns the registry entry for this module.
func (m *KnowledgeContext) Definition() *window.ModuleDefinition {
	return &window.ModuleDefinition{
		ID:           "knowledge_context",
		Name:         "Knowledge Base",
		Abbrev:       "Know",
		Version:      "1.0.0",
		Category:     "retrieval",
		Capabilities: window.Capabilities{Condensable: true},
		Profiles:     []string{config.ProfileRAGFocused, config.ProfileGenie},
		Defaults:     window.Defaults{Priority: 45, TargetPct: 10, MinPct: 2, MaxPct: 30},
		Source:       window.SourceBuiltin,
		Handler:      m,
	}
}

// ModuleID returns the stable module id.
func (m *KnowledgeContext) ModuleID() string { return "knowledge_context" }

// AppliesTo reports profile applicability.
func (m *KnowledgeContext) AppliesTo(profileType string) bool {
	return appliesTo([]string{config.ProfileRAGFocused, config.ProfileGenie}, profileType)
}

// Contribute retrieves and renders knowledge snippets for the current query.
func (m *KnowledgeContext) Contribute(ctx context.Context, budgetTokens int, actx *window.AssemblyContext) (*window.Contribution, error) {
	retriever, ok := actx.Dependency(DepRetriever).(ExampleRetriever)
	if !ok {
		return nil, window.NewModuleError(m.ModuleID(), "contribute", "retriever dependency missing", nil)
	}

	query, _ := actx.SessionData[DataCurrentQuery].(string)
	if query == "" {
		return &window.Contribution{Metadata: map[string]any{"snippets": 0}}, nil
	}

	results, err := retriever.RetrieveExamples(ctx, &rag.RetrieveRequest{
		Query:          query,
		K:              knowledgeDefaultK,
		MinScore:       knowledgeDefaultMinScore,
		UserID:         actx.UserID,
		RepositoryType: rag.RepositoryKnowledge,
	})
	if err != nil {
		return nil, window.NewModuleError(m.ModuleID(), "contribute", "knowledge search failed", err)
	}
	if len(results) == 0 {
		return &window.Contribution{Metadata: map[string]any{"snippets": 0}}, nil
	}

	content := renderSnippets(results)
	for len(results) > 1 && estimator.Estimate(content, actx.Provider) > budgetTokens {
		results = results[:len(results)-1]
		content = renderSnippets(results)
	}
	if estimator.Estimate(content, actx.Provider) > budgetTokens {
		content = truncateToTokens(content, budgetTokens, actx.Provider)
	}

	m.contributions.Add(1)
	return &window.Contribution{
		Content:     content,
		TokensUsed:  estimator.Estimate(content, actx.Provider),
		Condensable: true,
		Metadata:    map[string]any{"snippets": len(results)},
	}, nil
}

// Condense drops lowest-ranked snippets until the target fits.
func (m *KnowledgeContext) Condense(ctx context.Context, content string, targetTokens int, actx *window.AssemblyContext) (*window.Contribution, error) {
	blocks := strings.Split(content, "\n\n---\n\n")
	kept := blocks
	for len(kept) > 1 {
		candidate := strings.Join(kept, "\n\n---\n\n")
		if estimator.Estimate(candidate, actx.Provider) <= targetTokens {
			break
		}
		kept = kept[:len(kept)-1]
	}

	condensed := strings.Join(kept, "\n\n---\n\n")
	if estimator.Estimate(condensed, actx.Provider) > targetTokens {
		condensed = truncateToTokens(condensed, targetTokens, actx.Provider)
	}

	m.condensations.Add(1)
	return &window.Contribution{
		Content:     condensed,
		TokensUsed:  estimator.Estimate(condensed, actx.Provider),
		Condensable: len(kept) > 1,
		Metadata: map[string]any{
			"strategy": "fewer_snippets",
			"snippets": len(kept),
		},
	}, nil
}

// GetStatus exposes counters for the admin dashboard.
func (m *KnowledgeContext) GetStatus() map[string]any {
	return map[string]any{
		"healthy":       true,
		"contributions": m.contributions.Load(),
		"condensations": m.condensations.Load(),
	}
}

func renderSnippets(results []*rag.RetrievedCase) string {
	parts := make([]string, 0, len(results))
	for _, rc := range results {
		var b strings.Builder
		fmt.Fprintf(&b, "## %s (score %.2f)\n", rc.CollectionName, rc.AdjustedScore)
		b.WriteString(rc.Document)
		parts = append(parts, strings.TrimRight(b.String(), "\n"))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

var (
	_ window.Module         = (*KnowledgeContext)(nil)
	_ window.Condenser      = (*KnowledgeContext)(nil)
	_ window.StatusReporter = (*KnowledgeContext)(nil)
)
