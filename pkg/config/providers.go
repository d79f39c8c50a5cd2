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

package config

import "fmt"

// VectorStoreConfig configures a vector database provider.
//
// Example YAML:
//
//	vector_store:
//	  type: chromem
//	  persist_path: .genie/vectors
type VectorStoreConfig struct {
	// Type is the vector store type: "chromem" or "qdrant".
	Type string `yaml:"type"`

	// Host for external vector stores (qdrant).
	Host string `yaml:"host,omitempty"`

	// Port for external vector stores.
	Port int `yaml:"port,omitempty"`

	// APIKey for authenticated access.
	APIKey string `yaml:"api_key,omitempty"`

	// EnableTLS enables TLS connections.
	EnableTLS bool `yaml:"enable_tls,omitempty"`

	// PersistPath for chromem file persistence.
	PersistPath string `yaml:"persist_path,omitempty"`

	// Compress enables gzip compression for chromem persistence.
	Compress bool `yaml:"compress,omitempty"`
}

// SetDefaults applies default values.
func (c *VectorStoreConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "chromem" // embedded, zero-config
	}
	if c.Type == "qdrant" && c.Port == 0 {
		c.Port = 6334
	}
}

// Validate checks the configuration for errors.
func (c *VectorStoreConfig) Validate() error {
	switch c.Type {
	case "chromem":
		return nil
	case "qdrant":
		if c.Host == "" {
			return fmt.Errorf("host is required for qdrant vector store")
		}
		return nil
	default:
		return fmt.Errorf("invalid vector store type %q (valid: chromem, qdrant)", c.Type)
	}
}

// IsEmbedded returns true for embedded vector stores (chromem).
func (c *VectorStoreConfig) IsEmbedded() bool {
	return c.Type == "chromem"
}

// EmbedderConfig configures an embedding provider.
type EmbedderConfig struct {
	// Type is the embedder type: "ollama", "openai", or "hash" (tests only).
	Type string `yaml:"type"`

	// Model is the embedding model name.
	Model string `yaml:"model,omitempty"`

	// Host is the base URL for the provider API.
	Host string `yaml:"host,omitempty"`

	// APIKey for authenticated providers.
	APIKey string `yaml:"api_key,omitempty"`

	// Dimension is the embedding dimension (provider default if zero).
	Dimension int `yaml:"dimension,omitempty"`

	// Timeout in seconds for embedding calls.
	Timeout int `yaml:"timeout,omitempty"`

	// MaxRetries for transient failures.
	MaxRetries int `yaml:"max_retries,omitempty"`
}

// SetDefaults applies default values.
func (c *EmbedderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "ollama"
	}
	if c.Model == "" {
		switch c.Type {
		case "ollama":
			c.Model = "all-minilm"
		case "openai":
			c.Model = "text-embedding-3-small"
		}
	}
	if c.Host == "" && c.Type == "ollama" {
		c.Host = "http://localhost:11434"
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// Validate checks the configuration for errors.
func (c *EmbedderConfig) Validate() error {
	switch c.Type {
	case "ollama", "hash":
		return nil
	case "openai":
		if c.APIKey == "" {
			return fmt.Errorf("api_key is required for openai embedder")
		}
		return nil
	default:
		return fmt.Errorf("invalid embedder type %q (valid: ollama, openai, hash)", c.Type)
	}
}
