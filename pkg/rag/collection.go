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

import "fmt"

// Collection visibilities.
const (
	VisibilityPrivate  = "private"
	VisibilityUnlisted = "unlisted"
	VisibilityPublic   = "public"
)

// Collection is a per-owner container of cases: a directory of case JSON
// files plus a vector index keyed on the embedding of each case's query.
type Collection struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	EmbeddingModel string `json:"embedding_model,omitempty" yaml:"embedding_model,omitempty"`
	RepositoryType string `json:"repository_type" yaml:"repository_type"`

	// OwnerID is empty for admin-owned collections, which every user can
	// read.
	OwnerID    string `json:"owner_id,omitempty" yaml:"owner_id,omitempty"`
	Visibility string `json:"visibility" yaml:"visibility"`
	Enabled    bool   `json:"enabled" yaml:"enabled"`

	// MCPServerID gates planner collections to sessions on the same server.
	MCPServerID string `json:"mcp_server_id,omitempty" yaml:"mcp_server_id,omitempty"`

	// Chunking parameters, knowledge collections only.
	ChunkSize    int `json:"chunk_size,omitempty" yaml:"chunk_size,omitempty"`
	ChunkOverlap int `json:"chunk_overlap,omitempty" yaml:"chunk_overlap,omitempty"`

	// IsDefault marks the owner's default collection, which cannot be
	// removed while set.
	IsDefault bool `json:"is_default,omitempty" yaml:"is_default,omitempty"`
}

// SetDefaults applies default values.
func (c *Collection) SetDefaults() {
	if c.RepositoryType == "" {
		c.RepositoryType = RepositoryPlanner
	}
	if c.Visibility == "" {
		c.Visibility = VisibilityPrivate
	}
	if c.RepositoryType == RepositoryKnowledge && c.ChunkSize == 0 {
		c.ChunkSize = 1000
		c.ChunkOverlap = 200
	}
}

// Validate checks the collection record for errors.
func (c *Collection) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("collection id is required")
	}
	switch c.RepositoryType {
	case RepositoryPlanner:
		if c.MCPServerID == "" {
			return fmt.Errorf("collection %s: planner collections require an MCP server id", c.ID)
		}
	case RepositoryKnowledge:
	default:
		return fmt.Errorf("collection %s: invalid repository type %q", c.ID, c.RepositoryType)
	}
	switch c.Visibility {
	case VisibilityPrivate, VisibilityUnlisted, VisibilityPublic:
	default:
		return fmt.Errorf("collection %s: invalid visibility %q", c.ID, c.Visibility)
	}
	return nil
}

// AdminOwned reports whether the collection belongs to the platform rather
// than a user.
func (c *Collection) AdminOwned() bool {
	return c.OwnerID == ""
}

// Readable reports whether a user may retrieve from the collection:
// admin-owned, owned, public/unlisted, or subscribed.
func (c *Collection) Readable(userID string, subscribed bool) bool {
	if c.AdminOwned() || c.OwnerID == userID {
		return true
	}
	if c.Visibility == VisibilityPublic || c.Visibility == VisibilityUnlisted {
		return true
	}
	return subscribed
}

// Writable reports whether a user may index into the collection. Only
// ownership confers write access; subscriptions and public visibility do
// not.
func (c *Collection) Writable(userID string) bool {
	return c.OwnerID == userID && userID != ""
}
