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
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genie-ai/genie/pkg/config"
	"github.com/genie-ai/genie/pkg/rag"
	"github.com/genie-ai/genie/pkg/session"
	"github.com/genie-ai/genie/pkg/window"
)

type fakePrompts struct {
	prompts map[string]string // name -> text, profile-independent
}

func (f *fakePrompts) Prompt(name, profileType string) (string, bool) {
	text, ok := f.prompts[name]
	return text, ok
}

type fakeTools struct {
	tools []mcp.Tool
	err   error
}

func (f *fakeTools) ListTools(ctx context.Context, serverID string) ([]mcp.Tool, error) {
	return f.tools, f.err
}

type fakeRetriever struct {
	cases   []*rag.RetrievedCase
	err     error
	lastReq *rag.RetrieveRequest
}

func (f *fakeRetriever) RetrieveExamples(ctx context.Context, req *rag.RetrieveRequest) ([]*rag.RetrievedCase, error) {
	f.lastReq = req
	return f.cases, f.err
}

func testCtx(deps map[string]any) *window.AssemblyContext {
	return &window.AssemblyContext{
		ProfileType:  config.ProfileToolEnabled,
		UserID:       "u1",
		SessionID:    "s1",
		SessionData:  map[string]any{},
		Dependencies: deps,
	}
}

func saveSession(t *testing.T, svc session.Service, sess *session.Session) {
	t.Helper()
	require.NoError(t, svc.Save(context.Background(), sess.UserID, sess.ID, sess))
}

func TestBuiltinsComplete(t *testing.T) {
	defs := Builtins()
	require.Len(t, defs, 8)

	want := []string{
		"system_prompt", "component_instructions", "tool_definitions",
		"conversation_history", "workflow_history", "rag_context",
		"knowledge_context", "document_context",
	}
	ids := make([]string, 0, len(defs))
	for _, d := range defs {
		ids = append(ids, d.ID)
		require.NotNil(t, d.Handler, d.ID)
		assert.Equal(t, d.ID, d.Handler.ModuleID())
		assert.Equal(t, window.SourceBuiltin, d.Source)

		// Capability claims match what the handler actually implements.
		_, condenses := d.Handler.(window.Condenser)
		assert.Equal(t, d.Capabilities.Condensable, condenses, d.ID)
		_, purges := d.Handler.(window.Purger)
		assert.Equal(t, d.Capabilities.Purgeable, purges, d.ID)
	}
	assert.ElementsMatch(t, want, ids)

	// Handlers are fresh per call so registry reloads get clean instances.
	again := Builtins()
	assert.NotSame(t, defs[0].Handler, again[0].Handler)

	sys, _ := findDef(defs, "system_prompt")
	assert.True(t, sys.Required)
}

func findDef(defs []*window.ModuleDefinition, id string) (*window.ModuleDefinition, bool) {
	for _, d := range defs {
		if d.ID == id {
			return d, true
		}
	}
	return nil, false
}

func TestAppliesToProfiles(t *testing.T) {
	assert.True(t, appliesTo(nil, "anything"))

	tools := NewToolDefinitions()
	assert.True(t, tools.AppliesTo(config.ProfileToolEnabled))
	assert.True(t, tools.AppliesTo(config.ProfileGenie))
	assert.False(t, tools.AppliesTo(config.ProfileLLMOnly))

	know := NewKnowledgeContext()
	assert.True(t, know.AppliesTo(config.ProfileRAGFocused))
	assert.False(t, know.AppliesTo(config.ProfileToolEnabled))

	hist := NewConversationHistory()
	assert.True(t, hist.AppliesTo(config.ProfileLLMOnly))
}

func TestTruncateToTokens(t *testing.T) {
	assert.Equal(t, "", truncateToTokens("anything", 0, ""))
	assert.Equal(t, "short", truncateToTokens("short", 100, ""))

	// Backs up to the newline when it falls past the midpoint of the cut.
	text := strings.Repeat("a", 100) + "\n" + strings.Repeat("b", 100)
	got := truncateToTokens(text, 30, "")
	assert.Equal(t, strings.Repeat("a", 100), got)

	// A newline too early in the cut is ignored.
	text = "ab\n" + strings.Repeat("c", 200)
	got = truncateToTokens(text, 30, "")
	assert.Len(t, got, 120)
}

func TestConversationHistorySlidingWindow(t *testing.T) {
	svc := session.InMemoryService()
	saveSession(t, svc, &session.Session{
		ID: "s1", UserID: "u1",
		Turns: []session.Turn{
			{Number: 1, UserQuery: strings.Repeat("x", 94)},
			{Number: 2, UserQuery: strings.Repeat("y", 94)},
			{Number: 3, UserQuery: strings.Repeat("z", 94)},
		},
	})

	m := NewConversationHistory()
	actx := testCtx(map[string]any{DepSessions: svc})

	// Each rendered turn is 100 chars; only the newest two fit 60 tokens.
	c, err := m.Contribute(context.Background(), 60, actx)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Metadata["turns_included"])
	assert.Equal(t, 3, c.Metadata["turns_total"])
	assert.Contains(t, c.Content, "y")
	assert.Contains(t, c.Content, "z")
	assert.NotContains(t, c.Content, "x")
	assert.True(t, c.Condensable)
	assert.LessOrEqual(t, c.TokensUsed, 60)
}

func TestConversationHistorySingleTurnOverflow(t *testing.T) {
	svc := session.InMemoryService()
	saveSession(t, svc, &session.Session{
		ID: "s1", UserID: "u1",
		Turns: []session.Turn{{Number: 1, UserQuery: strings.Repeat("q", 1000)}},
	})

	m := NewConversationHistory()
	c, err := m.Contribute(context.Background(), 25, testCtx(map[string]any{DepSessions: svc}))
	require.NoError(t, err)

	// One turn over budget is truncated rather than dropped entirely.
	assert.Equal(t, 1, c.Metadata["turns_included"])
	assert.NotEmpty(t, c.Content)
	assert.LessOrEqual(t, c.TokensUsed, 25)
}

func TestConversationHistoryEmptySession(t *testing.T) {
	m := NewConversationHistory()
	c, err := m.Contribute(context.Background(), 100, testCtx(map[string]any{DepSessions: session.InMemoryService()}))
	require.NoError(t, err)
	assert.Empty(t, c.Content)
	assert.Equal(t, 0, c.Metadata["turns_included"])

	_, err = m.Contribute(context.Background(), 100, testCtx(nil))
	assert.Error(t, err, "missing session service dependency")
}

func TestConversationHistoryCondense(t *testing.T) {
	blocks := []string{
		"User: " + strings.Repeat("x", 94),
		"User: " + strings.Repeat("y", 94),
		"User: " + strings.Repeat("z", 94),
	}
	m := NewConversationHistory()
	c, err := m.Condense(context.Background(), strings.Join(blocks, "\n\n"), 51, testCtx(nil))
	require.NoError(t, err)

	assert.Equal(t, "sliding_window", c.Metadata["strategy"])
	assert.Equal(t, 2, c.Metadata["turns_included"])
	assert.NotContains(t, c.Content, "x")
	assert.Contains(t, c.Content, "z")
	assert.LessOrEqual(t, c.TokensUsed, 51)
}

func TestConversationHistoryPurge(t *testing.T) {
	svc := session.InMemoryService()
	saveSession(t, svc, &session.Session{
		ID: "s1", UserID: "u1",
		Turns: []session.Turn{{Number: 1, UserQuery: "hello"}},
	})

	m := NewConversationHistory()
	_, err := m.Contribute(context.Background(), 100, testCtx(map[string]any{DepSessions: svc}))
	require.NoError(t, err)
	assert.Equal(t, 1, m.GetStatus()["cached"])

	res, err := m.Purge(context.Background(), "s1", "u1")
	require.NoError(t, err)
	assert.True(t, res.Purged)
	assert.Equal(t, 0, m.GetStatus()["cached"])

	res, err = m.Purge(context.Background(), "s1", "u1")
	require.NoError(t, err)
	assert.False(t, res.Purged)
}

func TestToolDefinitionsContribute(t *testing.T) {
	source := &fakeTools{tools: []mcp.Tool{
		{
			Name:        "query_db",
			Description: "Runs SQL",
			InputSchema: mcp.ToolInputSchema{
				Type: "object",
				Properties: map[string]any{
					"sql":   map[string]any{"type": "string"},
					"limit": map[string]any{"type": "integer"},
				},
				Required: []string{"sql"},
			},
		},
		{Name: "list_tables", Description: "Lists tables"},
	}}

	m := NewToolDefinitions()
	c, err := m.Contribute(context.Background(), 1000, testCtx(map[string]any{DepToolRegistry: source}))
	require.NoError(t, err)

	assert.Equal(t, 2, c.Metadata["tool_count"])
	assert.Contains(t, c.Content, "## query_db")
	assert.Contains(t, c.Content, "Runs SQL")
	assert.Contains(t, c.Content, "- sql (required)")
	assert.Contains(t, c.Content, "- limit")
	// Tools render sorted by name.
	assert.Less(t, strings.Index(c.Content, "list_tables"), strings.Index(c.Content, "query_db"))

	// Under pressure the full surface degrades to names only.
	c, err = m.Contribute(context.Background(), 10, testCtx(map[string]any{DepToolRegistry: source}))
	require.NoError(t, err)
	assert.NotContains(t, c.Content, "##")
	assert.Contains(t, c.Content, "- query_db")
	assert.Contains(t, c.Content, "- list_tables")
}

func TestToolDefinitionsEmptyAndErrors(t *testing.T) {
	m := NewToolDefinitions()

	c, err := m.Contribute(context.Background(), 100, testCtx(map[string]any{DepToolRegistry: &fakeTools{}}))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Metadata["tool_count"])
	assert.Empty(t, c.Content)

	_, err = m.Contribute(context.Background(), 100, testCtx(map[string]any{DepToolRegistry: &fakeTools{err: assert.AnError}}))
	assert.Error(t, err)

	_, err = m.Contribute(context.Background(), 100, testCtx(nil))
	assert.Error(t, err)
}

func TestToolDefinitionsCondenseToNames(t *testing.T) {
	content := "# Available Tools\n\n## list_tables\nLists tables\n\n## query_db\nRuns SQL"
	m := NewToolDefinitions()

	// Room for the header plus the first name only.
	c, err := m.Condense(context.Background(), content, 8, testCtx(nil))
	require.NoError(t, err)
	assert.Equal(t, "names_only", c.Metadata["strategy"])
	assert.Contains(t, c.Content, "- list_tables")
	assert.NotContains(t, c.Content, "query_db")
	assert.False(t, c.Condensable)

	// A names-only listing condenses again without losing entries it can keep.
	c, err = m.Condense(context.Background(), "# Available Tools\n- alpha\n- beta", 100, testCtx(nil))
	require.NoError(t, err)
	assert.Contains(t, c.Content, "- alpha")
	assert.Contains(t, c.Content, "- beta")
	assert.Equal(t, 2, c.Metadata["tool_count"])
}

func TestRAGContextContribute(t *testing.T) {
	retriever := &fakeRetriever{cases: []*rag.RetrievedCase{
		{
			Case:          &rag.Case{UserQuery: "monthly revenue", Intent: "aggregate by month"},
			AdjustedScore: 0.9,
		},
		{
			Case:          &rag.Case{UserQuery: "weekly revenue", Intent: "aggregate by week"},
			AdjustedScore: 0.6,
		},
	}}

	m := NewRAGContext()
	actx := testCtx(map[string]any{DepRetriever: retriever})
	actx.SessionData[DataCurrentQuery] = "revenue by month"
	actx.SessionData[DataMCPServerID] = "srv-1"

	c, err := m.Contribute(context.Background(), 1000, actx)
	require.NoError(t, err)

	assert.Equal(t, 2, c.Metadata["examples"])
	assert.Equal(t, 0.9, c.Metadata["confidence"])
	assert.Contains(t, c.Content, "monthly revenue")
	assert.Contains(t, c.Content, "aggregate by week")

	// The retrieval request carries the session scoping.
	require.NotNil(t, retriever.lastReq)
	assert.Equal(t, rag.RepositoryPlanner, retriever.lastReq.RepositoryType)
	assert.Equal(t, "srv-1", retriever.lastReq.MCPServerID)
	assert.Equal(t, ragDefaultK, retriever.lastReq.K)
	assert.Equal(t, ragDefaultMinScore, retriever.lastReq.MinScore)
}

func TestRAGContextShedsExamplesUnderBudget(t *testing.T) {
	retriever := &fakeRetriever{cases: []*rag.RetrievedCase{
		{Case: &rag.Case{UserQuery: "q1", Intent: strings.Repeat("p", 200)}, AdjustedScore: 0.9},
		{Case: &rag.Case{UserQuery: "q2", Intent: strings.Repeat("s", 200)}, AdjustedScore: 0.6},
	}}

	m := NewRAGContext()
	actx := testCtx(map[string]any{DepRetriever: retriever})
	actx.SessionData[DataCurrentQuery] = "q"

	c, err := m.Contribute(context.Background(), 70, actx)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Metadata["examples"])
	assert.NotContains(t, c.Content, "q2")
	assert.LessOrEqual(t, c.TokensUsed, 70)
}

func TestRAGContextConfidenceClamped(t *testing.T) {
	retriever := &fakeRetriever{cases: []*rag.RetrievedCase{
		{Case: &rag.Case{UserQuery: "q", Intent: "i"}, AdjustedScore: 1.4},
	}}
	m := NewRAGContext()
	actx := testCtx(map[string]any{DepRetriever: retriever})
	actx.SessionData[DataCurrentQuery] = "q"

	c, err := m.Contribute(context.Background(), 1000, actx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, c.Metadata["confidence"])
}

func TestRAGContextDegenerateCases(t *testing.T) {
	m := NewRAGContext()

	// Empty query never hits the retriever.
	retriever := &fakeRetriever{}
	c, err := m.Contribute(context.Background(), 100, testCtx(map[string]any{DepRetriever: retriever}))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Metadata["examples"])
	assert.Nil(t, retriever.lastReq)

	// No matches reports zero confidence for the dynamic adjustment.
	actx := testCtx(map[string]any{DepRetriever: retriever})
	actx.SessionData[DataCurrentQuery] = "q"
	c, err = m.Contribute(context.Background(), 100, actx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, c.Metadata["confidence"])

	_, err = m.Contribute(context.Background(), 100, testCtx(nil))
	assert.Error(t, err)
}

func TestKnowledgeContextContribute(t *testing.T) {
	retriever := &fakeRetriever{cases: []*rag.RetrievedCase{
		{CollectionName: "Product Docs", Document: "Refunds take 5 days.", AdjustedScore: 0.8},
	}}

	m := NewKnowledgeContext()
	actx := testCtx(map[string]any{DepRetriever: retriever})
	actx.SessionData[DataCurrentQuery] = "refund policy"

	c, err := m.Contribute(context.Background(), 1000, actx)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Metadata["snippets"])
	assert.Contains(t, c.Content, "Product Docs")
	assert.Contains(t, c.Content, "Refunds take 5 days.")
	assert.Equal(t, rag.RepositoryKnowledge, retriever.lastReq.RepositoryType)
	assert.Equal(t, knowledgeDefaultK, retriever.lastReq.K)
}

func TestWorkflowHistoryContribute(t *testing.T) {
	svc := session.InMemoryService()
	saveSession(t, svc, &session.Session{
		ID: "s1", UserID: "u1",
		Turns: []session.Turn{
			{Number: 1, UserQuery: "show revenue", StrategyType: "successful", SQLStatements: []string{"SELECT 1", "SELECT 2"}},
			{Number: 2, UserQuery: "and costs", Error: "timeout"},
		},
	})

	m := NewWorkflowHistory()
	c, err := m.Contribute(context.Background(), 1000, testCtx(map[string]any{DepSessions: svc}))
	require.NoError(t, err)

	assert.Equal(t, 2, c.Metadata["turns_included"])
	assert.Contains(t, c.Content, "# Workflow History")
	assert.Contains(t, c.Content, `turn 1: "show revenue" [successful] sql=2`)
	assert.Contains(t, c.Content, "(failed)")
}

func TestWorkflowHistorySuffixFitsBudget(t *testing.T) {
	svc := session.InMemoryService()
	saveSession(t, svc, &session.Session{
		ID: "s1", UserID: "u1",
		Turns: []session.Turn{
			{Number: 1, UserQuery: "q1"},
			{Number: 2, UserQuery: "q2"},
			{Number: 3, UserQuery: "q3"},
		},
	})

	m := NewWorkflowHistory()
	c, err := m.Contribute(context.Background(), 12, testCtx(map[string]any{DepSessions: svc}))
	require.NoError(t, err)
	assert.Equal(t, 2, c.Metadata["turns_included"])
	assert.NotContains(t, c.Content, "turn 1")
	assert.Contains(t, c.Content, "turn 3")
}

func TestWorkflowHistoryCondenseDropsOldest(t *testing.T) {
	content := "# Workflow History\n- turn 1: \"q1\"\n- turn 2: \"q2\"\n- turn 3: \"q3\""
	m := NewWorkflowHistory()

	c, err := m.Condense(context.Background(), content, 12, testCtx(nil))
	require.NoError(t, err)
	assert.Equal(t, "drop_oldest", c.Metadata["strategy"])
	assert.Contains(t, c.Content, "# Workflow History")
	assert.NotContains(t, c.Content, "turn 1")
	assert.Contains(t, c.Content, "turn 2")
	assert.Contains(t, c.Content, "turn 3")
}

func TestSystemPromptContribute(t *testing.T) {
	prompts := &fakePrompts{prompts: map[string]string{"system": "You analyze business data."}}
	m := NewSystemPrompt()

	c, err := m.Contribute(context.Background(), 100, testCtx(map[string]any{DepPrompts: prompts}))
	require.NoError(t, err)
	assert.Equal(t, "You analyze business data.", c.Content)
	assert.Equal(t, 7, c.TokensUsed)

	// A missing system prompt is a hard failure; the module is required.
	_, err = m.Contribute(context.Background(), 100, testCtx(map[string]any{DepPrompts: &fakePrompts{}}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), config.ProfileToolEnabled)
}

func TestComponentInstructionsOptional(t *testing.T) {
	m := NewComponentInstructions()

	// Profiles without instructions contribute nothing, without error.
	c, err := m.Contribute(context.Background(), 100, testCtx(map[string]any{DepPrompts: &fakePrompts{}}))
	require.NoError(t, err)
	assert.Empty(t, c.Content)
	assert.Zero(t, c.TokensUsed)

	prompts := &fakePrompts{prompts: map[string]string{"component_instructions": "Use tables for numbers."}}
	c, err = m.Contribute(context.Background(), 100, testCtx(map[string]any{DepPrompts: prompts}))
	require.NoError(t, err)
	assert.Equal(t, "Use tables for numbers.", c.Content)
}

func TestDocumentContextContribute(t *testing.T) {
	svc := session.InMemoryService()
	saveSession(t, svc, &session.Session{
		ID: "s1", UserID: "u1",
		Attachments: []session.Attachment{
			{Name: "a.txt", Content: "alpha contents"},
			{Name: "b.txt", Content: "beta contents"},
		},
	})

	m := NewDocumentContext()
	c, err := m.Contribute(context.Background(), 1000, testCtx(map[string]any{DepSessions: svc}))
	require.NoError(t, err)

	assert.Equal(t, 2, c.Metadata["documents"])
	assert.Contains(t, c.Content, "=== Document: a.txt ===")
	assert.Contains(t, c.Content, "=== Document: b.txt ===")
	assert.Contains(t, c.Content, "alpha contents")
	assert.NotContains(t, c.Content, "[truncated]")
}

func TestDocumentContextTruncatesPerFile(t *testing.T) {
	svc := session.InMemoryService()
	saveSession(t, svc, &session.Session{
		ID: "s1", UserID: "u1",
		Attachments: []session.Attachment{
			{Name: "a.txt", Content: strings.Repeat("a", 400)},
			{Name: "b.txt", Content: strings.Repeat("b", 400)},
		},
	})

	m := NewDocumentContext()
	c, err := m.Contribute(context.Background(), 60, testCtx(map[string]any{DepSessions: svc}))
	require.NoError(t, err)

	assert.Contains(t, c.Content, "[truncated]")
	assert.Contains(t, c.Content, "=== Document: a.txt ===")
	assert.Contains(t, c.Content, "=== Document: b.txt ===")
}

func TestDocumentContextNoAttachments(t *testing.T) {
	m := NewDocumentContext()
	c, err := m.Contribute(context.Background(), 100, testCtx(map[string]any{DepSessions: session.InMemoryService()}))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Metadata["documents"])
	assert.Empty(t, c.Content)
}

func TestDocumentContextCacheAndPurge(t *testing.T) {
	svc := session.InMemoryService()
	saveSession(t, svc, &session.Session{
		ID: "s1", UserID: "u1",
		Attachments: []session.Attachment{{Name: "a.txt", Content: "original"}},
	})

	m := NewDocumentContext()
	actx := testCtx(map[string]any{DepSessions: svc})
	_, err := m.Contribute(context.Background(), 1000, actx)
	require.NoError(t, err)

	// The cache serves until purged, even after the session changes.
	saveSession(t, svc, &session.Session{
		ID: "s1", UserID: "u1",
		Attachments: []session.Attachment{{Name: "a.txt", Content: "replaced"}},
	})
	c, err := m.Contribute(context.Background(), 1000, actx)
	require.NoError(t, err)
	assert.Contains(t, c.Content, "original")

	res, err := m.Purge(context.Background(), "s1", "u1")
	require.NoError(t, err)
	assert.True(t, res.Purged)

	c, err = m.Contribute(context.Background(), 1000, actx)
	require.NoError(t, err)
	assert.Contains(t, c.Content, "replaced")
}
