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

// Package rag implements the retrieval and feedback engine: per-collection
// vector indexes over past strategies, access-scoped semantic retrieval, and
// transactional champion maintenance driven by turns and user feedback.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/genie-ai/genie/pkg/config"
	"github.com/genie-ai/genie/pkg/embedders"
	"github.com/genie-ai/genie/pkg/vector"
)

// Engine is the RAG retriever and feedback maintainer. One engine serves
// all collections; collections are loaded lazily on first use.
type Engine struct {
	casesRoot    string
	defaultModel string
	store        vector.Provider
	encoders     *embedders.Registry

	mu            sync.RWMutex
	collections   map[string]*Collection
	subscriptions map[string]map[string]bool // user id -> collection id set
	defaults      map[string]string          // user id -> default collection id
	loaded        map[string]bool
	cases         map[string]map[string]*Case // collection id -> case id -> case

	// colLocks serializes champion transactions per collection.
	colLocks sync.Map // collection id -> *sync.Mutex

	feedbackMu sync.RWMutex
	feedback   map[string]int // case id (with and without prefix) -> score
}

// NewEngine creates the RAG engine, migrating any legacy flat case layout.
func NewEngine(cfg *config.RAGConfig, store vector.Provider, encoders *embedders.Registry) (*Engine, error) {
	if cfg == nil || cfg.CasesRoot == "" {
		return nil, fmt.Errorf("rag cases root is required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}

	e := &Engine{
		casesRoot:     cfg.CasesRoot,
		defaultModel:  cfg.DefaultEmbeddingModel,
		store:         store,
		encoders:      encoders,
		collections:   make(map[string]*Collection),
		subscriptions: make(map[string]map[string]bool),
		defaults:      make(map[string]string),
		loaded:        make(map[string]bool),
		cases:         make(map[string]map[string]*Case),
		feedback:      make(map[string]int),
	}
	if err := e.migrateLegacyLayout(); err != nil {
		return nil, err
	}
	return e, nil
}

// RegisterCollection adds or replaces a collection record.
func (e *Engine) RegisterCollection(col *Collection) error {
	col.SetDefaults()
	if err := col.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.collections[col.ID] = col
	if col.IsDefault && col.OwnerID != "" {
		e.defaults[col.OwnerID] = col.ID
	}
	return nil
}

// RemoveCollection deletes a collection record and its index. Default
// collections cannot be removed while set as default.
func (e *Engine) RemoveCollection(ctx context.Context, collectionID string) error {
	e.mu.Lock()
	col, ok := e.collections[collectionID]
	if !ok {
		e.mu.Unlock()
		return NewCollectionNotFoundError(collectionID)
	}
	if col.IsDefault {
		e.mu.Unlock()
		return fmt.Errorf("collection %s is a default collection and cannot be removed", collectionID)
	}
	delete(e.collections, collectionID)
	delete(e.loaded, collectionID)
	delete(e.cases, collectionID)
	e.mu.Unlock()

	if err := e.store.DeleteCollection(ctx, collectionID); err != nil {
		return NewStoreError(collectionID, "delete_collection", err)
	}
	return nil
}

// Collection returns a collection record by id.
func (e *Engine) Collection(id string) (*Collection, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	col, ok := e.collections[id]
	return col, ok
}

// Subscribe grants a user read access to a collection.
func (e *Engine) Subscribe(userID, collectionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.collections[collectionID]; !ok {
		return NewCollectionNotFoundError(collectionID)
	}
	if e.subscriptions[userID] == nil {
		e.subscriptions[userID] = make(map[string]bool)
	}
	e.subscriptions[userID][collectionID] = true
	return nil
}

// SetDefaultCollection sets a user's default collection for turn ingestion.
func (e *Engine) SetDefaultCollection(userID, collectionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.collections[collectionID]; !ok {
		return NewCollectionNotFoundError(collectionID)
	}
	e.defaults[userID] = collectionID
	return nil
}

// accessibleCollections returns the collections a user may read:
// admin-owned, owned, public/unlisted, and subscribed.
func (e *Engine) accessibleCollections(userID string) []*Collection {
	e.mu.RLock()
	defer e.mu.RUnlock()

	subs := e.subscriptions[userID]
	out := make([]*Collection, 0, len(e.collections))
	for _, col := range e.collections {
		if !col.Enabled {
			continue
		}
		if col.Readable(userID, subs[col.ID]) {
			out = append(out, col)
		}
	}
	return out
}

// lockCollection returns the champion-transaction mutex for a collection.
func (e *Engine) lockCollection(collectionID string) *sync.Mutex {
	mu, _ := e.colLocks.LoadOrStore(collectionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// ensureLoaded lazily loads a collection: hydrates the in-memory case table
// and feedback cache from disk and rebuilds an empty index from non-empty
// on-disk state. Planner collections load only for sessions on their
// assigned MCP server; mcpServerID == "" bypasses the gate (feedback paths).
func (e *Engine) ensureLoaded(ctx context.Context, col *Collection, mcpServerID string) (bool, error) {
	if col.RepositoryType == RepositoryPlanner && mcpServerID != "" && col.MCPServerID != mcpServerID {
		return false, nil
	}

	e.mu.RLock()
	done := e.loaded[col.ID]
	e.mu.RUnlock()
	if done {
		return true, nil
	}

	mu := e.lockCollection(col.ID)
	mu.Lock()
	defer mu.Unlock()
	if err := e.ensureLoadedLocked(ctx, col); err != nil {
		return false, err
	}
	return true, nil
}

// ensureLoadedLocked performs the actual load. The collection lock is not
// reentrant, so callers already inside a champion transaction use this
// variant directly. Caller holds the collection lock.
func (e *Engine) ensureLoadedLocked(ctx context.Context, col *Collection) error {
	e.mu.RLock()
	done := e.loaded[col.ID]
	e.mu.RUnlock()
	if done {
		return nil
	}

	cases, err := e.loadCollectionDir(col.ID)
	if err != nil {
		return NewStoreError(col.ID, "load", err)
	}

	table := make(map[string]*Case, len(cases))
	e.feedbackMu.Lock()
	for _, c := range cases {
		table[c.ID] = c
		e.feedback[c.ID] = c.UserFeedbackScore
		e.feedback[caseFilePrefix+c.ID] = c.UserFeedbackScore
	}
	e.feedbackMu.Unlock()

	count, err := e.store.Count(ctx, col.ID)
	if err != nil {
		return NewStoreError(col.ID, "count", err)
	}
	if count == 0 && len(cases) > 0 {
		slog.Info("Rebuilding empty vector index from case files",
			"collection", col.ID, "cases", len(cases))
		for _, c := range cases {
			if err := e.indexCase(ctx, col, c); err != nil {
				return err
			}
		}
	}

	e.mu.Lock()
	e.cases[col.ID] = table
	e.loaded[col.ID] = true
	e.mu.Unlock()

	slog.Debug("Collection loaded", "collection", col.ID, "cases", len(cases))
	return nil
}

// indexCase embeds the case's query and upserts it into the collection's
// vector index.
func (e *Engine) indexCase(ctx context.Context, col *Collection, c *Case) error {
	vec, err := e.embed(ctx, col, c.UserQuery)
	if err != nil {
		return NewStoreError(col.ID, "embed", err)
	}
	if err := e.store.Upsert(ctx, col.ID, c.ID, c.UserQuery, c.IndexMetadata(), vec); err != nil {
		return NewStoreError(col.ID, "upsert", err)
	}
	return nil
}

// embed computes the embedding of text using the collection's model.
func (e *Engine) embed(ctx context.Context, col *Collection, text string) ([]float32, error) {
	model := col.EmbeddingModel
	if model == "" {
		model = e.defaultModel
	}
	encoder, err := e.encoders.Get(model)
	if err != nil {
		return nil, err
	}
	return encoder.Embed(ctx, text)
}

// Close releases the engine's store and encoders.
func (e *Engine) Close() error {
	if err := e.encoders.Close(); err != nil {
		return err
	}
	return e.store.Close()
}
