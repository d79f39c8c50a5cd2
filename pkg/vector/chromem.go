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

package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemProvider implements Provider using chromem-go for embedded vector
// storage. It requires no external services: vectors live in memory with
// optional gzip-compressed file persistence.
//
// Single-process only; the RAG engine's single-writer-per-collection
// assumption matches this.
type ChromemProvider struct {
	db          *chromem.DB
	persistPath string
	compress    bool
	mu          sync.RWMutex

	collections map[string]*chromem.Collection

	// embeddingFunc must never run: vectors are pre-computed externally.
	embeddingFunc chromem.EmbeddingFunc
}

// ChromemConfig configures the chromem provider.
type ChromemConfig struct {
	// PersistPath for file persistence (optional). In-memory when empty.
	PersistPath string `yaml:"persist_path,omitempty"`

	// Compress enables gzip compression for persistence.
	Compress bool `yaml:"compress,omitempty"`
}

// NewChromemProvider creates a new chromem-based vector provider.
func NewChromemProvider(cfg ChromemConfig) (*ChromemProvider, error) {
	var db *chromem.DB

	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}

		// Export writes a single gob file, so restore goes through Import
		// rather than NewPersistentDB, which expects a directory layout.
		dbPath := chromemDBPath(cfg.PersistPath, cfg.Compress)
		if _, statErr := os.Stat(dbPath); statErr == nil {
			db = chromem.NewDB()
			if err := db.ImportFromFile(dbPath, ""); err != nil {
				slog.Warn("Failed to load existing vector database, creating new",
					"path", dbPath, "error", err)
				db = chromem.NewDB()
			} else {
				slog.Info("Loaded vector database from file", "path", dbPath)
			}
		} else {
			db = chromem.NewDB()
			slog.Info("Created new vector database", "path", dbPath)
		}
	} else {
		db = chromem.NewDB()
		slog.Debug("Created in-memory vector database (no persistence)")
	}

	identityEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding function called but vectors should be pre-computed")
	}

	return &ChromemProvider{
		db:            db,
		persistPath:   cfg.PersistPath,
		compress:      cfg.Compress,
		collections:   make(map[string]*chromem.Collection),
		embeddingFunc: identityEmbed,
	}, nil
}

func chromemDBPath(persistPath string, compress bool) string {
	p := persistPath + "/vectors.gob"
	if compress {
		p += ".gz"
	}
	return p
}

func (p *ChromemProvider) getCollection(name string) (*chromem.Collection, error) {
	p.mu.RLock()
	if col, ok := p.collections[name]; ok {
		p.mu.RUnlock()
		return col, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if col, ok := p.collections[name]; ok {
		return col, nil
	}

	col, err := p.db.GetOrCreateCollection(name, nil, p.embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection %q: %w", name, err)
	}
	p.collections[name] = col
	return col, nil
}

// Upsert adds or replaces a document with its pre-computed embedding.
func (p *ChromemProvider) Upsert(ctx context.Context, collection, id, document string, metadata map[string]any, vec []float32) error {
	if err := ValidateMetadata(metadata); err != nil {
		return err
	}
	col, err := p.getCollection(collection)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        id,
		Content:   document,
		Metadata:  stringifyMetadata(metadata),
		Embedding: vec,
	}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	if err := p.persist(); err != nil {
		slog.Warn("Failed to persist after upsert", "error", err)
	}
	return nil
}

// Query returns the k nearest records with equality metadata filtering.
func (p *ChromemProvider) Query(ctx context.Context, collection string, vec []float32, k int, where map[string]any) ([]Result, error) {
	col, err := p.getCollection(collection)
	if err != nil {
		return nil, err
	}

	// chromem caps nResults at the collection size.
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	var whereFilter map[string]string
	if len(where) > 0 {
		whereFilter = stringifyMetadata(where)
	}

	results, err := col.QueryEmbedding(ctx, vec, k, whereFilter, nil)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := make([]Result, 0, len(results))
	for _, r := range results {
		out = append(out, Result{
			ID:       r.ID,
			Document: r.Content,
			Metadata: parseMetadata(r.Metadata),
			Vector:   r.Embedding,
			Score:    r.Similarity,
		})
	}
	return out, nil
}

// Get retrieves records by id.
func (p *ChromemProvider) Get(ctx context.Context, collection string, ids []string) ([]Result, error) {
	col, err := p.getCollection(collection)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		doc, err := col.GetByID(ctx, id)
		if err != nil {
			continue // missing ids are skipped
		}
		out = append(out, Result{
			ID:       doc.ID,
			Document: doc.Content,
			Metadata: parseMetadata(doc.Metadata),
			Vector:   doc.Embedding,
		})
	}
	return out, nil
}

// Update replaces a record's metadata, keeping its vector and document.
// chromem has no in-place update, so the document is re-added.
func (p *ChromemProvider) Update(ctx context.Context, collection, id string, metadata map[string]any) error {
	if err := ValidateMetadata(metadata); err != nil {
		return err
	}
	col, err := p.getCollection(collection)
	if err != nil {
		return err
	}

	doc, err := col.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("record %q not found: %w", id, err)
	}

	doc.Metadata = stringifyMetadata(metadata)
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}

	if err := p.persist(); err != nil {
		slog.Warn("Failed to persist after update", "error", err)
	}
	return nil
}

// Delete removes records by id.
func (p *ChromemProvider) Delete(ctx context.Context, collection string, ids ...string) error {
	col, err := p.getCollection(collection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	if err := p.persist(); err != nil {
		slog.Warn("Failed to persist after delete", "error", err)
	}
	return nil
}

// Count returns the number of records in a collection.
func (p *ChromemProvider) Count(ctx context.Context, collection string) (int, error) {
	col, err := p.getCollection(collection)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

// DeleteCollection removes a collection and all its records.
func (p *ChromemProvider) DeleteCollection(ctx context.Context, collection string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	delete(p.collections, collection)

	if err := p.persist(); err != nil {
		slog.Warn("Failed to persist after collection delete", "error", err)
	}
	return nil
}

// Name returns the provider name.
func (p *ChromemProvider) Name() string {
	return "chromem"
}

// Close persists the database and releases resources.
func (p *ChromemProvider) Close() error {
	return p.persist()
}

func (p *ChromemProvider) persist() error {
	if p.persistPath == "" {
		return nil
	}
	if err := p.db.ExportToFile(chromemDBPath(p.persistPath, p.compress), p.compress, ""); err != nil {
		return fmt.Errorf("failed to persist database: %w", err)
	}
	return nil
}

// stringifyMetadata converts metadata to chromem's string map.
func stringifyMetadata(metadata map[string]any) map[string]string {
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// parseMetadata recovers scalar types from chromem's string map. Booleans
// and numbers round-trip; everything else stays a string.
func parseMetadata(metadata map[string]string) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		switch v {
		case "true":
			out[k] = true
			continue
		case "false":
			out[k] = false
			continue
		}
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			out[k] = i
			continue
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			out[k] = f
			continue
		}
		out[k] = v
	}
	return out
}

// Ensure ChromemProvider implements Provider.
var _ Provider = (*ChromemProvider)(nil)
