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

// Package vector abstracts per-collection vector storage for the RAG
// engine. Vectors are computed externally (see pkg/embedders); providers
// receive pre-computed embeddings.
package vector

import (
	"context"
	"fmt"
)

// Provider is a per-collection vector store.
//
// Metadata values must be flat scalars (string, bool, int, float); nested
// objects and nils are rejected. Where filters match by equality; richer
// predicates are applied by the caller on the returned metadata.
type Provider interface {
	// Upsert adds or replaces a document with its vector embedding.
	Upsert(ctx context.Context, collection, id, document string, metadata map[string]any, vec []float32) error

	// Query returns the k most similar records, optionally filtered by
	// metadata equality. Score is cosine similarity in [0, 1].
	Query(ctx context.Context, collection string, vec []float32, k int, where map[string]any) ([]Result, error)

	// Get retrieves records by id. Missing ids are silently skipped.
	Get(ctx context.Context, collection string, ids []string) ([]Result, error)

	// Update replaces the metadata of an existing record, keeping its
	// vector and document.
	Update(ctx context.Context, collection, id string, metadata map[string]any) error

	// Delete removes records by id.
	Delete(ctx context.Context, collection string, ids ...string) error

	// Count returns the number of records in a collection.
	Count(ctx context.Context, collection string) (int, error)

	// DeleteCollection removes a collection and all its records.
	DeleteCollection(ctx context.Context, collection string) error

	// Name returns the provider name.
	Name() string

	// Close releases resources.
	Close() error
}

// Result is one stored record, with similarity score when returned from
// Query (zero from Get).
type Result struct {
	ID       string
	Document string
	Metadata map[string]any
	Vector   []float32
	Score    float32
}

// ValidateMetadata rejects nested and nil metadata values.
func ValidateMetadata(metadata map[string]any) error {
	for k, v := range metadata {
		switch v.(type) {
		case nil:
			return fmt.Errorf("metadata key %q: nil values are not allowed", k)
		case string, bool, int, int32, int64, float32, float64:
			// ok
		default:
			return fmt.Errorf("metadata key %q: value must be a flat scalar, got %T", k, v)
		}
	}
	return nil
}
