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
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/genie-ai/genie/pkg/vector"
)

// Candidate over-fetch factor: each collection is queried for k times this
// many records before filtering and re-ranking.
const candidateMultiplier = 10

// cleanlinessPenalty is subtracted from similarity once per improvement
// flag, preferring strategies that ran clean without hard-filtering
// relevant ones.
const cleanlinessPenalty = 0.05

// RetrieveRequest describes one retrieval.
type RetrieveRequest struct {
	Query    string
	K        int
	MinScore float64

	// UserID scopes the accessible collection set.
	UserID string

	// MCPServerID gates planner collections to the session's server.
	MCPServerID string

	// RepositoryType selects planner or knowledge collections.
	RepositoryType string

	// AllowedCollectionIDs optionally restricts the search further; it is
	// intersected with the user's accessible set.
	AllowedCollectionIDs []string
}

// RetrievedCase is one ranked retrieval result.
type RetrievedCase struct {
	Case           *Case
	Document       string
	Similarity     float64
	AdjustedScore  float64
	CollectionName string
	MCPServerID    string
}

// RetrieveExamples performs access-scoped semantic retrieval across the
// user's collections of the requested repository type. Candidates are
// over-fetched, filtered to retrievable strategies, scored with the
// cleanliness penalty, and the global top k returned.
func (e *Engine) RetrieveExamples(ctx context.Context, req *RetrieveRequest) ([]*RetrievedCase, error) {
	if req == nil || req.Query == "" || req.K <= 0 {
		return nil, nil
	}

	cols := e.accessibleCollections(req.UserID)
	if len(req.AllowedCollectionIDs) > 0 {
		allowed := make(map[string]bool, len(req.AllowedCollectionIDs))
		for _, id := range req.AllowedCollectionIDs {
			allowed[id] = true
		}
		filtered := cols[:0]
		for _, col := range cols {
			if allowed[col.ID] {
				filtered = append(filtered, col)
			}
		}
		cols = filtered
	}

	var (
		mu      sync.Mutex
		results []*RetrievedCase
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, col := range cols {
		if col.RepositoryType != req.RepositoryType {
			continue
		}
		g.Go(func() error {
			found, err := e.retrieveFromCollection(gctx, col, req)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].AdjustedScore != results[j].AdjustedScore {
			return results[i].AdjustedScore > results[j].AdjustedScore
		}
		return results[i].Case.ID < results[j].Case.ID
	})
	if len(results) > req.K {
		results = results[:req.K]
	}

	slog.Debug("Retrieval complete",
		"query_len", len(req.Query), "repository", req.RepositoryType,
		"collections", len(cols), "returned", len(results))
	return results, nil
}

func (e *Engine) retrieveFromCollection(ctx context.Context, col *Collection, req *RetrieveRequest) ([]*RetrievedCase, error) {
	loaded, err := e.ensureLoaded(ctx, col, req.MCPServerID)
	if err != nil {
		return nil, err
	}
	if !loaded {
		return nil, nil
	}

	vec, err := e.embed(ctx, col, req.Query)
	if err != nil {
		return nil, NewStoreError(col.ID, "embed", err)
	}

	// Planner retrieval only surfaces successful strategies; the remaining
	// predicates are applied on the returned metadata, since the store's
	// where filter is equality-only.
	var where map[string]any
	if col.RepositoryType == RepositoryPlanner {
		where = map[string]any{"strategy_type": StrategySuccessful}
	}

	candidates, err := e.store.Query(ctx, col.ID, vec, req.K*candidateMultiplier, where)
	if err != nil {
		return nil, NewStoreError(col.ID, "query", err)
	}

	out := make([]*RetrievedCase, 0, len(candidates))
	for _, cand := range candidates {
		similarity := float64(cand.Score)
		if similarity < req.MinScore {
			continue
		}

		adjusted := similarity
		if col.RepositoryType == RepositoryPlanner {
			feedback := metaInt(cand.Metadata, "user_feedback_score")
			champion := metaBool(cand.Metadata, "is_most_efficient")
			if feedback < 0 || (!champion && feedback == 0) {
				continue
			}
			if metaBool(cand.Metadata, "had_tactical_improvements") {
				adjusted -= cleanlinessPenalty
			}
			if metaBool(cand.Metadata, "had_plan_improvements") {
				adjusted -= cleanlinessPenalty
			}
		}

		out = append(out, &RetrievedCase{
			Case:           e.resolveCase(col.ID, cand),
			Document:       cand.Document,
			Similarity:     similarity,
			AdjustedScore:  adjusted,
			CollectionName: col.Name,
			MCPServerID:    col.MCPServerID,
		})
	}
	return out, nil
}

// resolveCase returns the full case record for a search hit, falling back
// to a minimal record built from the hit itself (knowledge chunks have no
// case file).
func (e *Engine) resolveCase(collectionID string, hit vector.Result) *Case {
	e.mu.RLock()
	c, ok := e.cases[collectionID][hit.ID]
	e.mu.RUnlock()
	if ok {
		return c
	}
	return &Case{
		ID:           hit.ID,
		CollectionID: collectionID,
		UserQuery:    hit.Document,
		StrategyType: metaString(hit.Metadata, "strategy_type"),
	}
}

func metaInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func metaBool(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func metaString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
