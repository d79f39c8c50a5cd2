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
)

// ProcessTurnForRAG ingests a completed turn: extracts a case, elects the
// champion for its (query, user) cohort, and persists case and index
// transactionally under the collection's lock. Returns the case id, or ""
// when the turn produced nothing indexable.
func (e *Engine) ProcessTurnForRAG(ctx context.Context, summary *TurnSummary, collectionID string) (string, error) {
	if summary == nil {
		return "", nil
	}

	if collectionID == "" {
		e.mu.RLock()
		collectionID = e.defaults[summary.UserID]
		e.mu.RUnlock()
	}
	if collectionID == "" {
		slog.Debug("No target collection for turn, skipping RAG ingestion",
			"user", summary.UserID)
		return "", nil
	}

	col, ok := e.Collection(collectionID)
	if !ok {
		return "", NewCollectionNotFoundError(collectionID)
	}
	if !col.Writable(summary.UserID) {
		return "", NewAccessDeniedError(summary.UserID, collectionID, "write")
	}

	newCase := ExtractCase(summary, collectionID)
	if newCase == nil {
		return "", nil
	}

	mu := e.lockCollection(collectionID)
	mu.Lock()
	defer mu.Unlock()

	if err := e.ensureLoadedLocked(ctx, col); err != nil {
		return "", err
	}

	// Champion election only applies to retrievable strategies.
	var demoted *Case
	if newCase.StrategyType == StrategySuccessful {
		incumbent := e.championFor(collectionID, newCase.UserQuery, newCase.UserUUID)
		if beatsChampion(newCase, incumbent) {
			newCase.IsMostEfficient = true
			if incumbent != nil && incumbent.ID != newCase.ID {
				demoted = incumbent
			}
		}
	}

	if err := e.indexCase(ctx, col, newCase); err != nil {
		return "", err
	}
	if err := e.writeCaseFile(newCase); err != nil {
		return "", NewStoreError(collectionID, "persist", err)
	}

	if demoted != nil {
		demoted.IsMostEfficient = false
		if err := e.store.Update(ctx, collectionID, demoted.ID, demoted.IndexMetadata()); err != nil {
			return "", NewStoreError(collectionID, "demote", err)
		}
		if err := e.writeCaseFile(demoted); err != nil {
			return "", NewStoreError(collectionID, "demote_persist", err)
		}
	}

	e.mu.Lock()
	if e.cases[collectionID] == nil {
		e.cases[collectionID] = make(map[string]*Case)
	}
	e.cases[collectionID][newCase.ID] = newCase
	e.mu.Unlock()

	e.feedbackMu.Lock()
	e.feedback[newCase.ID] = newCase.UserFeedbackScore
	e.feedback[caseFilePrefix+newCase.ID] = newCase.UserFeedbackScore
	e.feedbackMu.Unlock()

	slog.Info("Turn indexed",
		"collection", collectionID, "case", newCase.ID,
		"type", newCase.StrategyType, "champion", newCase.IsMostEfficient)
	return newCase.ID, nil
}

// UpdateCaseFeedback records explicit user feedback on a case, propagating
// the score to the feedback cache, the on-disk JSON, and the vector index.
// Case ids derive from session and turn, so the same turn ingested into
// several collections shares one id; the score is applied in every
// collection that holds it. A negative score demotes the case from champion
// status and re-elects the best remaining case in each affected query
// cohort. Returns false when the case is unknown.
func (e *Engine) UpdateCaseFeedback(ctx context.Context, caseID string, score int) (bool, error) {
	caseID = normalizeCaseID(caseID)
	score = clampFeedback(score)

	refs := e.casesWithID(ctx, caseID)
	if len(refs) == 0 {
		slog.Warn("Feedback for unknown case", "case", caseID)
		return false, nil
	}

	for _, ref := range refs {
		if err := e.applyFeedback(ctx, ref.col, ref.c, score); err != nil {
			return false, err
		}
	}

	e.feedbackMu.Lock()
	e.feedback[caseID] = score
	e.feedback[caseFilePrefix+caseID] = score
	e.feedbackMu.Unlock()

	slog.Info("Case feedback updated",
		"case", caseID, "score", score, "collections", len(refs))
	return true, nil
}

// applyFeedback records a score on one collection's copy of a case under
// that collection's lock.
func (e *Engine) applyFeedback(ctx context.Context, col *Collection, c *Case, score int) error {
	mu := e.lockCollection(col.ID)
	mu.Lock()
	defer mu.Unlock()

	c.UserFeedbackScore = score
	demote := score < 0 && c.IsMostEfficient
	if demote {
		c.IsMostEfficient = false
	}

	if err := e.writeCaseFile(c); err != nil {
		return NewStoreError(col.ID, "persist", err)
	}
	if err := e.store.Update(ctx, col.ID, c.ID, c.IndexMetadata()); err != nil {
		return NewStoreError(col.ID, "update", err)
	}

	if score < 0 {
		if err := e.reelectChampion(ctx, col, c.UserQuery, c.UserUUID); err != nil {
			return err
		}
	}
	return nil
}

// FeedbackScore returns the cached feedback score for a case id (with or
// without the file-name prefix).
func (e *Engine) FeedbackScore(caseID string) (int, bool) {
	e.feedbackMu.RLock()
	defer e.feedbackMu.RUnlock()
	score, ok := e.feedback[caseID]
	return score, ok
}

// championFor returns the current champion of a (query, user) cohort, or
// nil. Caller holds the collection lock.
func (e *Engine) championFor(collectionID, userQuery, userUUID string) *Case {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, c := range e.cases[collectionID] {
		if c.IsMostEfficient && c.UserQuery == userQuery && c.UserUUID == userUUID {
			return c
		}
	}
	return nil
}

// beatsChampion decides whether a new case takes the champion flag from the
// incumbent: downvoted cases never win; downvoted incumbents always lose;
// otherwise higher feedback wins, then fewer output tokens. Ties keep the
// incumbent.
func beatsChampion(candidate, incumbent *Case) bool {
	if candidate.UserFeedbackScore < 0 {
		return false
	}
	if incumbent == nil {
		return true
	}
	if incumbent.UserFeedbackScore < 0 {
		return true
	}
	if candidate.UserFeedbackScore != incumbent.UserFeedbackScore {
		return candidate.UserFeedbackScore > incumbent.UserFeedbackScore
	}
	return candidate.OutputTokens < incumbent.OutputTokens
}

// reelectChampion promotes the best remaining case in a (query, user)
// cohort after a demotion. Caller holds the collection lock.
func (e *Engine) reelectChampion(ctx context.Context, col *Collection, userQuery, userUUID string) error {
	e.mu.RLock()
	var best *Case
	for _, c := range e.cases[col.ID] {
		if c.UserQuery != userQuery || c.UserUUID != userUUID {
			continue
		}
		if c.StrategyType != StrategySuccessful || c.UserFeedbackScore < 0 {
			continue
		}
		if best == nil || beatsChampion(c, best) {
			best = c
		}
	}
	e.mu.RUnlock()

	if best == nil || best.IsMostEfficient {
		return nil
	}

	best.IsMostEfficient = true
	if err := e.store.Update(ctx, col.ID, best.ID, best.IndexMetadata()); err != nil {
		return NewStoreError(col.ID, "promote", err)
	}
	if err := e.writeCaseFile(best); err != nil {
		return NewStoreError(col.ID, "promote_persist", err)
	}
	slog.Info("Champion re-elected", "collection", col.ID, "case", best.ID)
	return nil
}

// caseRef pairs one collection's copy of a case with its collection.
type caseRef struct {
	c   *Case
	col *Collection
}

// casesWithID finds every collection holding a case, checking loaded tables
// first and falling back to collection directories on disk. A disk hit
// hydrates that collection so cohort scans see its full contents.
func (e *Engine) casesWithID(ctx context.Context, caseID string) []caseRef {
	e.mu.RLock()
	cols := make([]*Collection, 0, len(e.collections))
	for _, col := range e.collections {
		cols = append(cols, col)
	}
	e.mu.RUnlock()

	var refs []caseRef
	for _, col := range cols {
		e.mu.RLock()
		c, ok := e.cases[col.ID][caseID]
		loaded := e.loaded[col.ID]
		e.mu.RUnlock()
		if ok {
			refs = append(refs, caseRef{c: c, col: col})
			continue
		}
		if loaded {
			continue
		}
		if _, err := readCaseFile(e.casePath(col.ID, caseID)); err != nil {
			continue
		}
		if _, err := e.ensureLoaded(ctx, col, ""); err != nil {
			slog.Warn("Failed to load collection for feedback",
				"collection", col.ID, "error", err)
			continue
		}
		e.mu.RLock()
		c, ok = e.cases[col.ID][caseID]
		e.mu.RUnlock()
		if ok {
			refs = append(refs, caseRef{c: c, col: col})
		}
	}
	return refs
}
