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

package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plannerRequest(user, query string) *RetrieveRequest {
	return &RetrieveRequest{
		Query:          query,
		K:              5,
		UserID:         user,
		MCPServerID:    "srv-1",
		RepositoryType: RepositoryPlanner,
	}
}

func resultIDs(results []*RetrievedCase) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Case.ID)
	}
	return out
}

func TestRetrieveFiltersPlannerCandidates(t *testing.T) {
	e := newTestEngine(t, "")
	ctx := context.Background()
	require.NoError(t, e.RegisterCollection(plannerCollection("col-1", "u1")))

	query := "weekly sales per store"

	// Champion at feedback 0: retrievable.
	champ, err := e.ProcessTurnForRAG(ctx, successfulTurn("t1", "u1", query, 1000), "col-1")
	require.NoError(t, err)

	// Non-champion at feedback 0: filtered out.
	shadow, err := e.ProcessTurnForRAG(ctx, successfulTurn("t2", "u1", query, 2000), "col-1")
	require.NoError(t, err)

	// Non-champion with positive feedback: retrievable.
	ok, err := e.UpdateCaseFeedback(ctx, shadow, 1)
	require.NoError(t, err)
	require.True(t, ok)

	// Failed strategy: excluded by the index-side strategy_type filter.
	failed := successfulTurn("t3", "u1", query, 100)
	failed.Trace = append(failed.Trace, TraceEntry{Error: "timeout", Unrecoverable: true})
	failedID, err := e.ProcessTurnForRAG(ctx, failed, "col-1")
	require.NoError(t, err)
	require.NotEmpty(t, failedID)

	// Downvoted champion of its own cohort: excluded.
	downID, err := e.ProcessTurnForRAG(ctx, successfulTurn("t4", "u1", "unrelated report", 100), "col-1")
	require.NoError(t, err)
	ok, err = e.UpdateCaseFeedback(ctx, downID, -1)
	require.NoError(t, err)
	require.True(t, ok)

	results, err := e.RetrieveExamples(ctx, plannerRequest("u1", query))
	require.NoError(t, err)

	ids := resultIDs(results)
	assert.Contains(t, ids, champ)
	assert.Contains(t, ids, shadow)
	assert.NotContains(t, ids, failedID)
	assert.NotContains(t, ids, downID)
	assert.Len(t, ids, 2)
}

func TestRetrieveUpdatedFeedbackVisibleWithoutReload(t *testing.T) {
	e := newTestEngine(t, "")
	ctx := context.Background()
	require.NoError(t, e.RegisterCollection(plannerCollection("col-1", "u1")))

	query := "weekly sales per store"
	champ, err := e.ProcessTurnForRAG(ctx, successfulTurn("t1", "u1", query, 1000), "col-1")
	require.NoError(t, err)

	results, err := e.RetrieveExamples(ctx, plannerRequest("u1", query))
	require.NoError(t, err)
	require.Len(t, results, 1)

	// Downvoting the only champion empties the retrievable set immediately.
	ok, err := e.UpdateCaseFeedback(ctx, champ, -1)
	require.NoError(t, err)
	require.True(t, ok)

	results, err = e.RetrieveExamples(ctx, plannerRequest("u1", query))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieveCleanlinessPenalty(t *testing.T) {
	e := newTestEngine(t, "")
	ctx := context.Background()
	require.NoError(t, e.RegisterCollection(plannerCollection("col-1", "u1")))

	// The hash embedder is a bag of words, so a word permutation embeds
	// identically and both cohorts tie on raw similarity.
	clean, err := e.ProcessTurnForRAG(ctx, successfulTurn("t1", "u1", "alpha beta gamma", 1000), "col-1")
	require.NoError(t, err)

	dirty := successfulTurn("t2", "u1", "gamma beta alpha", 1000)
	dirty.HadPlanImprovements = true
	dirty.HadTacticalImprovements = true
	dirtyID, err := e.ProcessTurnForRAG(ctx, dirty, "col-1")
	require.NoError(t, err)

	results, err := e.RetrieveExamples(ctx, plannerRequest("u1", "alpha beta gamma"))
	require.NoError(t, err)
	require.Len(t, results, 2)

	// The clean run ranks first; the improvement flags cost 0.05 each but
	// never exclude the case outright.
	assert.Equal(t, clean, results[0].Case.ID)
	assert.Equal(t, dirtyID, results[1].Case.ID)
	assert.InDelta(t, results[0].Similarity, results[1].Similarity, 1e-6)
	assert.InDelta(t, results[1].Similarity-0.10, results[1].AdjustedScore, 1e-6)
}

func TestRetrieveMinScoreAndK(t *testing.T) {
	e := newTestEngine(t, "")
	ctx := context.Background()
	require.NoError(t, e.RegisterCollection(plannerCollection("col-1", "u1")))

	queries := []string{"alpha report", "beta report", "gamma report"}
	for i, q := range queries {
		_, err := e.ProcessTurnForRAG(ctx, successfulTurn("t"+q, "u1", q, 1000+i), "col-1")
		require.NoError(t, err)
	}

	req := plannerRequest("u1", "alpha report")
	req.K = 2
	results, err := e.RetrieveExamples(ctx, req)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 2)
	require.NotEmpty(t, results)
	assert.Equal(t, "alpha report", results[0].Case.UserQuery)

	// A min score above the exact-match similarity excludes everything.
	req.MinScore = 1.01
	results, err = e.RetrieveExamples(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrievePlannerGatedByMCPServer(t *testing.T) {
	e := newTestEngine(t, "")
	ctx := context.Background()
	require.NoError(t, e.RegisterCollection(plannerCollection("col-1", "u1")))

	_, err := e.ProcessTurnForRAG(ctx, successfulTurn("t1", "u1", "gated query", 500), "col-1")
	require.NoError(t, err)

	// A session bound to a different MCP server sees nothing.
	req := plannerRequest("u1", "gated query")
	req.MCPServerID = "srv-other"
	results, err := e.RetrieveExamples(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, results)

	// The matching server sees the case.
	req.MCPServerID = "srv-1"
	results, err = e.RetrieveExamples(ctx, req)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, "srv-1", results[0].MCPServerID)
}

func TestRetrieveAccessScoped(t *testing.T) {
	e := newTestEngine(t, "")
	ctx := context.Background()

	require.NoError(t, e.RegisterCollection(plannerCollection("mine", "u1")))
	require.NoError(t, e.RegisterCollection(plannerCollection("theirs", "u2")))

	_, err := e.ProcessTurnForRAG(ctx, successfulTurn("t1", "u1", "shared phrasing", 500), "mine")
	require.NoError(t, err)
	_, err = e.ProcessTurnForRAG(ctx, successfulTurn("t2", "u2", "shared phrasing", 500), "theirs")
	require.NoError(t, err)

	results, err := e.RetrieveExamples(ctx, plannerRequest("u1", "shared phrasing"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Collection mine", results[0].CollectionName)

	// Subscribing u1 to the other private collection widens the set.
	require.NoError(t, e.Subscribe("u1", "theirs"))
	results, err = e.RetrieveExamples(ctx, plannerRequest("u1", "shared phrasing"))
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRetrieveAllowedCollectionIntersection(t *testing.T) {
	e := newTestEngine(t, "")
	ctx := context.Background()

	require.NoError(t, e.RegisterCollection(plannerCollection("col-a", "u1")))
	require.NoError(t, e.RegisterCollection(plannerCollection("col-b", "u1")))

	_, err := e.ProcessTurnForRAG(ctx, successfulTurn("t1", "u1", "same question", 500), "col-a")
	require.NoError(t, err)
	_, err = e.ProcessTurnForRAG(ctx, successfulTurn("t2", "u1", "same question", 500), "col-b")
	require.NoError(t, err)

	req := plannerRequest("u1", "same question")
	req.AllowedCollectionIDs = []string{"col-b", "not-accessible"}
	results, err := e.RetrieveExamples(ctx, req)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "col-b", results[0].Case.CollectionID)
}

func TestRetrieveRepositoryTypeSelection(t *testing.T) {
	e := newTestEngine(t, "")
	ctx := context.Background()

	require.NoError(t, e.RegisterCollection(plannerCollection("plans", "u1")))
	knowledge := &Collection{
		ID: "docs", Name: "Docs", RepositoryType: RepositoryKnowledge,
		OwnerID: "u1", Enabled: true,
	}
	require.NoError(t, e.RegisterCollection(knowledge))

	_, err := e.ProcessTurnForRAG(ctx, successfulTurn("t1", "u1", "shipping policy", 500), "plans")
	require.NoError(t, err)

	// Knowledge chunks are indexed directly, without a case file.
	vec, err := e.embed(ctx, knowledge, "shipping policy")
	require.NoError(t, err)
	require.NoError(t, e.store.Upsert(ctx, "docs", "chunk-1", "shipping policy details here",
		map[string]any{"strategy_type": ""}, vec))

	req := &RetrieveRequest{
		Query:          "shipping policy",
		K:              5,
		UserID:         "u1",
		RepositoryType: RepositoryKnowledge,
	}
	results, err := e.RetrieveExamples(ctx, req)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "chunk-1", results[0].Case.ID)
	assert.Equal(t, "shipping policy details here", results[0].Document)

	// The planner request does not see knowledge chunks and vice versa.
	planner, err := e.RetrieveExamples(ctx, plannerRequest("u1", "shipping policy"))
	require.NoError(t, err)
	require.Len(t, planner, 1)
	assert.NotEqual(t, "chunk-1", planner[0].Case.ID)
}

func TestRetrieveDegenerateRequests(t *testing.T) {
	e := newTestEngine(t, "")
	ctx := context.Background()

	results, err := e.RetrieveExamples(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = e.RetrieveExamples(ctx, &RetrieveRequest{Query: "", K: 3})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = e.RetrieveExamples(ctx, &RetrieveRequest{Query: "q", K: 0})
	require.NoError(t, err)
	assert.Empty(t, results)
}
