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

// ExampleRetriever is the RAG engine surface modules consume.
type ExampleRetriever interface {
	RetrieveExamples(ctx context.Context, req *rag.RetrieveRequest) ([]*rag.RetrievedCase, error)
}

const (
	ragDefaultK        = 3
	ragDefaultMinScore = 0.5
)

// RAGContext contributes past successful strategies similar to the current
// query. The top match's adjusted score is reported as "confidence" in the
// contribution metadata, which the high_confidence_rag dynamic adjustment
// reads.
type RAGContext struct {
	contributions atomic.Int64
	condensations atomic.Int64
}

// NewRAGContext creates the RAG context module.
func NewRAGContext() *RAGContext {
	return &RAGContext{}
}

// Definition returns the registry entry for this module.
func (m *RAGContext) Definition() *window.ModuleDefinition {
	return &window.ModuleDefinition{
		ID:           "rag_context",
		Name:         "RAG Strategy Examples",
		Abbrev:       "RAG",
		Version:      "1.0.0",
		Category:     "retrieval",
		Capabilities: window.Capabilities{Condensable: true},
		Profiles: []string{
			config.ProfileToolEnabled,
			config.ProfileRAGFocused,
			config.ProfileGenie,
		},
		Defaults: window.Defaults{Priority: 50, TargetPct: 15, MinPct: 3, MaxPct: 30},
		Source:   window.SourceBuiltin,
		Handler:  m,
	}
}

// ModuleID returns the stable module id.
func (m *RAGContext) ModuleID() string { return "rag_context" }

// AppliesTo reports profile applicability.
func (m *RAGContext) AppliesTo(profileType string) bool {
	return appliesTo([]string{
		config.ProfileToolEnabled,
		config.ProfileRAGFocused,
		config.ProfileGenie,
	}, profileType)
}

// Contribute retrieves and renders strategy examples for the current query.
func (m *RAGContext) Contribute(ctx context.Context, budgetTokens int, actx *window.AssemblyContext) (*window.Contribution, error) {
	retriever, ok := actx.Dependency(DepRetriever).(ExampleRetriever)
	if !ok {
		return nil, window.NewModuleError(m.ModuleID(), "contribute", "retriever dependency missing", nil)
	}

	query, _ := actx.SessionData[DataCurrentQuery].(string)
	if query == "" {
		return &window.Contribution{Metadata: map[string]any{"examples": 0}}, nil
	}
	serverID, _ := actx.SessionData[DataMCPServerID].(string)

	cases, err := retriever.RetrieveExamples(ctx, &rag.RetrieveRequest{
		Query:          query,
		K:              ragDefaultK,
		MinScore:       ragDefaultMinScore,
		UserID:         actx.UserID,
		MCPServerID:    serverID,
		RepositoryType: rag.RepositoryPlanner,
	})
	if err != nil {
		return nil, window.NewModuleError(m.ModuleID(), "contribute", "retrieval failed", err)
	}
	if len(cases) == 0 {
		return &window.Contribution{Metadata: map[string]any{"examples": 0, "confidence": 0.0}}, nil
	}

	content := renderExamples(cases)
	// Shed lowest-ranked examples until the budget fits.
	for len(cases) > 1 && estimator.Estimate(content, actx.Provider) > budgetTokens {
		cases = cases[:len(cases)-1]
		content = renderExamples(cases)
	}
	if estimator.Estimate(content, actx.Provider) > budgetTokens {
		content = truncateToTokens(content, budgetTokens, actx.Provider)
	}

	confidence := cases[0].AdjustedScore
	if confidence > 1 {
		confidence = 1
	}
	if confidence < 0 {
		confidence = 0
	}

	m.contributions.Add(1)
	return &window.Contribution{
		Content:     content,
		TokensUsed:  estimator.Estimate(content, actx.Provider),
		Condensable: true,
		Metadata: map[string]any{
			"examples":   len(cases),
			"confidence": confidence,
		},
	}, nil
}

// Condense drops lowest-ranked examples until the target fits.
func (m *RAGContext) Condense(ctx context.Context, content string, targetTokens int, actx *window.AssemblyContext) (*window.Contribution, error) {
	blocks := strings.Split(content, "\n\n---\n\n")
	kept := blocks
	for len(kept) > 1 {
		candidate := strings.Join(kept, "\n\n---\n\n")
		if estimator.Estimate(candidate, actx.Provider) <= targetTokens {
			break
		}
		kept = kept[:len(kept)-1] // examples are rank-ordered, drop the tail
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
			"strategy": "fewer_examples",
			"examples": len(kept),
		},
	}, nil
}

// GetStatus exposes counters for the admin dashboard.
func (m *RAGContext) GetStatus() map[string]any {
	return map[string]any{
		"healthy":       true,
		"contributions": m.contributions.Load(),
		"condensations": m.condensations.Load(),
	}
}

func renderExamples(cases []*rag.RetrievedCase) string {
	parts := make([]string, 0, len(cases))
	for _, rc := range cases {
		var b strings.Builder
		fmt.Fprintf(&b, "## Similar Strategy (score %.2f)\n", rc.AdjustedScore)
		fmt.Fprintf(&b, "Query: %s\n", rc.Case.UserQuery)
		if rc.CollectionName != "" {
			fmt.Fprintf(&b, "Collection: %s\n", rc.CollectionName)
		}
		if strategy := rc.Case.StrategyText(); strategy != "" {
			b.WriteString(strategy)
		}
		parts = append(parts, strings.TrimRight(b.String(), "\n"))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

var (
	_ window.Module         = (*RAGContext)(nil)
	_ window.Condenser      = (*RAGContext)(nil)
	_ window.StatusReporter = (*RAGContext)(nil)
)
