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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// indexChampionFlag reads is_most_efficient straight from the vector index.
func indexChampionFlag(t *testing.T, e *Engine, collectionID, caseID string) bool {
	t.Helper()
	results, err := e.store.Get(context.Background(), collectionID, []string{caseID})
	require.NoError(t, err)
	require.Len(t, results, 1)
	return metaBool(results[0].Metadata, "is_most_efficient")
}

// diskChampionFlag reads is_most_efficient from the persisted case JSON.
func diskChampionFlag(t *testing.T, e *Engine, collectionID, caseID string) bool {
	t.Helper()
	c, err := readCaseFile(e.casePath(collectionID, caseID))
	require.NoError(t, err)
	return c.IsMostEfficient
}

func championsInCohort(e *Engine, collectionID, query, user string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []string
	for _, c := range e.cases[collectionID] {
		if c.IsMostEfficient && c.UserQuery == query && c.UserUUID == user {
			out = append(out, c.ID)
		}
	}
	return out
}

func TestChampionReplacedByMoreEfficientCase(t *testing.T) {
	e := newTestEngine(t, "")
	ctx := context.Background()
	require.NoError(t, e.RegisterCollection(plannerCollection("col-1", "u1")))

	query := "monthly revenue by product"

	oldID, err := e.ProcessTurnForRAG(ctx, successfulTurn("t1", "u1", query, 1800), "col-1")
	require.NoError(t, err)
	assert.True(t, indexChampionFlag(t, e, "col-1", oldID))
	assert.True(t, diskChampionFlag(t, e, "col-1", oldID))

	// Same query, same user, same feedback, fewer output tokens: the new
	// case takes the flag and the old one is demoted everywhere.
	newID, err := e.ProcessTurnForRAG(ctx, successfulTurn("t2", "u1", query, 1200), "col-1")
	require.NoError(t, err)
	require.NotEqual(t, oldID, newID)

	assert.True(t, indexChampionFlag(t, e, "col-1", newID))
	assert.True(t, diskChampionFlag(t, e, "col-1", newID))
	assert.False(t, indexChampionFlag(t, e, "col-1", oldID))
	assert.False(t, diskChampionFlag(t, e, "col-1", oldID))

	assert.Equal(t, []string{newID}, championsInCohort(e, "col-1", query, "u1"))
}

func TestChampionTieKeepsIncumbent(t *testing.T) {
	e := newTestEngine(t, "")
	ctx := context.Background()
	require.NoError(t, e.RegisterCollection(plannerCollection("col-1", "u1")))

	query := "monthly revenue by product"
	firstID, err := e.ProcessTurnForRAG(ctx, successfulTurn("t1", "u1", query, 1500), "col-1")
	require.NoError(t, err)

	// Equal feedback, equal tokens: no churn.
	secondID, err := e.ProcessTurnForRAG(ctx, successfulTurn("t2", "u1", query, 1500), "col-1")
	require.NoError(t, err)

	assert.True(t, diskChampionFlag(t, e, "col-1", firstID))
	assert.False(t, diskChampionFlag(t, e, "col-1", secondID))
}

func TestChampionCohortIsolation(t *testing.T) {
	e := newTestEngine(t, "")
	ctx := context.Background()
	require.NoError(t, e.RegisterCollection(plannerCollection("col-1", "u1")))
	require.NoError(t, e.RegisterCollection(plannerCollection("col-2", "u2")))

	query := "monthly revenue by product"

	// Different queries, users, and collections each get their own champion.
	a, err := e.ProcessTurnForRAG(ctx, successfulTurn("t1", "u1", query, 1000), "col-1")
	require.NoError(t, err)
	b, err := e.ProcessTurnForRAG(ctx, successfulTurn("t2", "u1", "churn rate by cohort", 2000), "col-1")
	require.NoError(t, err)
	c, err := e.ProcessTurnForRAG(ctx, successfulTurn("t3", "u2", query, 3000), "col-2")
	require.NoError(t, err)

	assert.True(t, diskChampionFlag(t, e, "col-1", a))
	assert.True(t, diskChampionFlag(t, e, "col-1", b))
	assert.True(t, diskChampionFlag(t, e, "col-2", c))
}

func TestFailedCaseNeverElected(t *testing.T) {
	e := newTestEngine(t, "")
	ctx := context.Background()
	require.NoError(t, e.RegisterCollection(plannerCollection("col-1", "u1")))

	s := successfulTurn("t1", "u1", "broken query", 100)
	s.Trace = append(s.Trace, TraceEntry{Error: "syntax error", Unrecoverable: true})
	caseID, err := e.ProcessTurnForRAG(ctx, s, "col-1")
	require.NoError(t, err)
	require.NotEmpty(t, caseID)

	// Stored for analysis, but never a champion.
	c, err := readCaseFile(e.casePath("col-1", caseID))
	require.NoError(t, err)
	assert.Equal(t, StrategyFailed, c.StrategyType)
	assert.False(t, c.IsMostEfficient)
}

func TestDownvoteDemotesAndReelects(t *testing.T) {
	e := newTestEngine(t, "")
	ctx := context.Background()
	require.NoError(t, e.RegisterCollection(plannerCollection("col-1", "u1")))

	query := "top ten customers"

	// a arrives first and becomes champion; b and c lose on output tokens.
	a, err := e.ProcessTurnForRAG(ctx, successfulTurn("t1", "u1", query, 1000), "col-1")
	require.NoError(t, err)
	b, err := e.ProcessTurnForRAG(ctx, successfulTurn("t2", "u1", query, 1500), "col-1")
	require.NoError(t, err)
	c, err := e.ProcessTurnForRAG(ctx, successfulTurn("t3", "u1", query, 2000), "col-1")
	require.NoError(t, err)
	require.True(t, diskChampionFlag(t, e, "col-1", a))

	ok, err := e.UpdateCaseFeedback(ctx, a, -1)
	require.NoError(t, err)
	require.True(t, ok)

	// a is demoted in memory, on disk, and in the index; b (fewest tokens
	// among the eligible remainder) is promoted.
	assert.False(t, diskChampionFlag(t, e, "col-1", a))
	assert.False(t, indexChampionFlag(t, e, "col-1", a))
	assert.True(t, diskChampionFlag(t, e, "col-1", b))
	assert.True(t, indexChampionFlag(t, e, "col-1", b))
	assert.False(t, diskChampionFlag(t, e, "col-1", c))

	assert.Equal(t, []string{b}, championsInCohort(e, "col-1", query, "u1"))

	score, _ := e.FeedbackScore(a)
	assert.Equal(t, -1, score)
}

func TestDownvoteEmptyCohortLeavesNoChampion(t *testing.T) {
	e := newTestEngine(t, "")
	ctx := context.Background()
	require.NoError(t, e.RegisterCollection(plannerCollection("col-1", "u1")))

	a, err := e.ProcessTurnForRAG(ctx, successfulTurn("t1", "u1", "lonely query", 500), "col-1")
	require.NoError(t, err)

	ok, err := e.UpdateCaseFeedback(ctx, a, -1)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Empty(t, championsInCohort(e, "col-1", "lonely query", "u1"))
}

func TestUpvoteDoesNotChurnChampion(t *testing.T) {
	e := newTestEngine(t, "")
	ctx := context.Background()
	require.NoError(t, e.RegisterCollection(plannerCollection("col-1", "u1")))

	query := "orders per week"
	a, err := e.ProcessTurnForRAG(ctx, successfulTurn("t1", "u1", query, 1000), "col-1")
	require.NoError(t, err)
	b, err := e.ProcessTurnForRAG(ctx, successfulTurn("t2", "u1", query, 2000), "col-1")
	require.NoError(t, err)

	// Upvoting a non-champion records the score but does not re-elect.
	ok, err := e.UpdateCaseFeedback(ctx, b, 1)
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, diskChampionFlag(t, e, "col-1", a))
	assert.False(t, diskChampionFlag(t, e, "col-1", b))

	// A later equal-feedback arrival loses against the upvoted case only
	// once it becomes relevant; the incumbent champion is untouched.
	assert.Equal(t, []string{a}, championsInCohort(e, "col-1", query, "u1"))
}

func TestDownvotedCaseNeverWinsElection(t *testing.T) {
	e := newTestEngine(t, "")
	ctx := context.Background()
	require.NoError(t, e.RegisterCollection(plannerCollection("col-1", "u1")))

	query := "failed deliveries by carrier"
	a, err := e.ProcessTurnForRAG(ctx, successfulTurn("t1", "u1", query, 1000), "col-1")
	require.NoError(t, err)

	// Downvoted case with fewer tokens must not displace the champion.
	downvoted := successfulTurn("t2", "u1", query, 100)
	downvoted.FeedbackScore = -1
	b, err := e.ProcessTurnForRAG(ctx, downvoted, "col-1")
	require.NoError(t, err)

	assert.True(t, diskChampionFlag(t, e, "col-1", a))
	assert.False(t, diskChampionFlag(t, e, "col-1", b))
}

func TestFeedbackUnknownCase(t *testing.T) {
	e := newTestEngine(t, "")
	ok, err := e.UpdateCaseFeedback(context.Background(), "00000000-0000-0000-0000-000000000000", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFeedbackFindsCaseOnDiskAfterRestart(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	e1 := newTestEngine(t, root)
	require.NoError(t, e1.RegisterCollection(plannerCollection("col-1", "u1")))
	caseID, err := e1.ProcessTurnForRAG(ctx, successfulTurn("t1", "u1", "restart survivor", 800), "col-1")
	require.NoError(t, err)

	// Fresh engine, nothing loaded yet: feedback must still find the case.
	e2 := newTestEngine(t, root)
	require.NoError(t, e2.RegisterCollection(plannerCollection("col-1", "u1")))

	ok, err := e2.UpdateCaseFeedback(ctx, caseID, 1)
	require.NoError(t, err)
	require.True(t, ok)

	c, err := readCaseFile(e2.casePath("col-1", caseID))
	require.NoError(t, err)
	assert.Equal(t, 1, c.UserFeedbackScore)
	assert.True(t, c.IsMostEfficient)
}

func TestFirstIngestionLoadsCollection(t *testing.T) {
	e := newTestEngine(t, "")
	ctx := context.Background()
	require.NoError(t, e.RegisterCollection(plannerCollection("col-1", "u1")))

	// The very first operation on a collection triggers lazy loading inside
	// the ingestion transaction. It must complete, not block.
	done := make(chan struct{})
	var caseID string
	var err error
	go func() {
		defer close(done)
		caseID, err = e.ProcessTurnForRAG(ctx, successfulTurn("t1", "u1", "daily signups", 700), "col-1")
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ingestion into an unloaded collection did not complete")
	}
	require.NoError(t, err)
	require.NotEmpty(t, caseID)

	count, err := e.store.Count(ctx, "col-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFirstIngestionAfterRestartSeesPriorChampion(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	query := "weekly active users"

	e1 := newTestEngine(t, root)
	require.NoError(t, e1.RegisterCollection(plannerCollection("col-1", "u1")))
	oldID, err := e1.ProcessTurnForRAG(ctx, successfulTurn("t1", "u1", query, 1500), "col-1")
	require.NoError(t, err)

	// Fresh engine over the same case files; ingestion is its first
	// operation, so it hydrates the collection mid-transaction and the
	// election must see the persisted incumbent.
	e2 := newTestEngine(t, root)
	require.NoError(t, e2.RegisterCollection(plannerCollection("col-1", "u1")))

	newID, err := e2.ProcessTurnForRAG(ctx, successfulTurn("t2", "u1", query, 900), "col-1")
	require.NoError(t, err)
	require.NotEqual(t, oldID, newID)

	assert.True(t, diskChampionFlag(t, e2, "col-1", newID))
	assert.False(t, diskChampionFlag(t, e2, "col-1", oldID))
	assert.Equal(t, []string{newID}, championsInCohort(e2, "col-1", query, "u1"))
}

func TestFeedbackPropagatesToAllCollections(t *testing.T) {
	e := newTestEngine(t, "")
	ctx := context.Background()
	require.NoError(t, e.RegisterCollection(plannerCollection("col-1", "u1")))
	require.NoError(t, e.RegisterCollection(plannerCollection("col-2", "u1")))

	query := "refund volume by region"

	// The same turn ingested into two collections shares one case id.
	id1, err := e.ProcessTurnForRAG(ctx, successfulTurn("t1", "u1", query, 1000), "col-1")
	require.NoError(t, err)
	id2, err := e.ProcessTurnForRAG(ctx, successfulTurn("t1", "u1", query, 1000), "col-2")
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	backup1, err := e.ProcessTurnForRAG(ctx, successfulTurn("t2", "u1", query, 1500), "col-1")
	require.NoError(t, err)
	backup2, err := e.ProcessTurnForRAG(ctx, successfulTurn("t2", "u1", query, 1500), "col-2")
	require.NoError(t, err)
	require.Equal(t, backup1, backup2)

	ok, err := e.UpdateCaseFeedback(ctx, id1, -1)
	require.NoError(t, err)
	require.True(t, ok)

	// One downvote demotes and re-elects in every collection holding the case.
	for _, colID := range []string{"col-1", "col-2"} {
		assert.False(t, diskChampionFlag(t, e, colID, id1), colID)
		assert.False(t, indexChampionFlag(t, e, colID, id1), colID)
		assert.True(t, diskChampionFlag(t, e, colID, backup1), colID)
		assert.True(t, indexChampionFlag(t, e, colID, backup1), colID)

		c, err := readCaseFile(e.casePath(colID, id1))
		require.NoError(t, err)
		assert.Equal(t, -1, c.UserFeedbackScore, colID)
	}
}

func TestBeatsChampion(t *testing.T) {
	tests := []struct {
		name      string
		candidate *Case
		incumbent *Case
		want      bool
	}{
		{"no incumbent", &Case{}, nil, true},
		{"downvoted candidate", &Case{UserFeedbackScore: -1}, nil, false},
		{"downvoted incumbent loses", &Case{OutputTokens: 9999}, &Case{UserFeedbackScore: -1}, true},
		{"higher feedback wins", &Case{UserFeedbackScore: 1, OutputTokens: 9999}, &Case{OutputTokens: 1}, true},
		{"lower feedback loses", &Case{OutputTokens: 1}, &Case{UserFeedbackScore: 1, OutputTokens: 9999}, false},
		{"fewer tokens wins on tie", &Case{OutputTokens: 100}, &Case{OutputTokens: 200}, true},
		{"equal everything keeps incumbent", &Case{OutputTokens: 100}, &Case{OutputTokens: 100}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, beatsChampion(tt.candidate, tt.incumbent))
		})
	}
}
