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

// Package config defines the platform configuration records consumed by the
// context window orchestrator and the RAG engine.
package config

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"
)

// Profile classes.
const (
	ProfileToolEnabled = "tool_enabled"
	ProfileLLMOnly     = "llm_only"
	ProfileRAGFocused  = "rag_focused"
	ProfileGenie       = "genie"
)

var validProfileTypes = map[string]bool{
	ProfileToolEnabled: true,
	ProfileLLMOnly:     true,
	ProfileRAGFocused:  true,
	ProfileGenie:       true,
}

// Profile describes one agent profile.
type Profile struct {
	// ID identifies the profile. Set from the map key on load.
	ID string `yaml:"id,omitempty"`

	// Type is the profile class: tool_enabled, llm_only, rag_focused, genie.
	Type string `yaml:"type"`

	// Provider is the LLM provider family, used for token estimation.
	Provider string `yaml:"provider,omitempty"`

	// ModelContextLimit is the model's context window in tokens.
	ModelContextLimit int `yaml:"model_context_limit"`

	// ContextWindowType references a context window type by id.
	ContextWindowType string `yaml:"context_window_type"`

	// DefaultCollection is the user's default RAG collection id (optional).
	DefaultCollection string `yaml:"default_collection,omitempty"`
}

// SetDefaults applies default values.
func (p *Profile) SetDefaults() {
	if p.Type == "" {
		p.Type = ProfileToolEnabled
	}
	if p.ModelContextLimit == 0 {
		p.ModelContextLimit = 200_000
	}
}

// Validate checks the profile for errors.
func (p *Profile) Validate() error {
	if !validProfileTypes[p.Type] {
		return fmt.Errorf("profile %q: invalid type %q", p.ID, p.Type)
	}
	if p.ModelContextLimit <= 0 {
		return fmt.Errorf("profile %q: model_context_limit must be positive", p.ID)
	}
	return nil
}

// ModuleDirsConfig configures the module registry's discovery sources.
type ModuleDirsConfig struct {
	// BuiltinDir holds the built-in module manifests.
	BuiltinDir string `yaml:"builtin_dir,omitempty"`

	// PackDirs hold installed agent-pack modules.
	PackDirs []string `yaml:"pack_dirs,omitempty"`

	// UserDir holds the user's private modules. Install targets this dir.
	UserDir string `yaml:"user_dir,omitempty"`

	// Watch enables fsnotify watching of UserDir with automatic reload.
	Watch bool `yaml:"watch,omitempty"`
}

// RAGConfig configures the RAG engine's persistence.
type RAGConfig struct {
	// CasesRoot is the directory holding per-collection case files.
	CasesRoot string `yaml:"cases_root"`

	// DefaultEmbeddingModel is used for collections that don't name one.
	DefaultEmbeddingModel string `yaml:"default_embedding_model,omitempty"`
}

// SetDefaults applies default values.
func (c *RAGConfig) SetDefaults() {
	if c.DefaultEmbeddingModel == "" {
		c.DefaultEmbeddingModel = "all-minilm"
	}
}

// Config is the root platform configuration for the core.
type Config struct {
	ContextWindowTypes map[string]*ContextWindowType `yaml:"context_window_types"`
	Profiles           map[string]*Profile           `yaml:"profiles"`
	VectorStore        VectorStoreConfig             `yaml:"vector_store"`
	Embedder           EmbedderConfig                `yaml:"embedder"`
	Modules            ModuleDirsConfig              `yaml:"modules"`
	RAG                RAGConfig                     `yaml:"rag"`
}

// Load reads and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates raw YAML config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies defaults and back-fills ids from map keys.
func (c *Config) SetDefaults() {
	for id, cwt := range c.ContextWindowTypes {
		cwt.ID = id
		cwt.SetDefaults()
	}
	for id, p := range c.Profiles {
		p.ID = id
		p.SetDefaults()
	}
	c.VectorStore.SetDefaults()
	c.Embedder.SetDefaults()
	c.RAG.SetDefaults()
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	for _, cwt := range c.ContextWindowTypes {
		if err := cwt.Validate(); err != nil {
			return err
		}
	}
	for _, p := range c.Profiles {
		if err := p.Validate(); err != nil {
			return err
		}
		if p.ContextWindowType != "" {
			if _, ok := c.ContextWindowTypes[p.ContextWindowType]; !ok {
				return fmt.Errorf("profile %q references unknown context window type %q", p.ID, p.ContextWindowType)
			}
		}
	}
	if err := c.VectorStore.Validate(); err != nil {
		return err
	}
	if err := c.Embedder.Validate(); err != nil {
		return err
	}
	return nil
}
