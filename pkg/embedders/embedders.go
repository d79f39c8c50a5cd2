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

// Package embedders provides text embedding providers for the RAG engine.
// Supported: Ollama (local), OpenAI (hosted), and a deterministic hash
// embedder for tests.
package embedders

import (
	"context"
	"fmt"

	"github.com/genie-ai/genie/pkg/config"
)

// Provider computes embedding vectors for text.
type Provider interface {
	// Embed returns the embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// GetDimension returns the embedding dimension.
	GetDimension() int

	// GetModelName returns the model name.
	GetModelName() string

	// Close releases resources.
	Close() error
}

// NewProvider builds an embedding provider from configuration.
func NewProvider(cfg *config.EmbedderConfig) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("embedder config is required")
	}

	switch cfg.Type {
	case "ollama", "":
		return NewOllamaProvider(cfg), nil
	case "openai":
		return NewOpenAIProvider(cfg)
	case "hash":
		return NewHashProvider(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedder type: %s", cfg.Type)
	}
}
