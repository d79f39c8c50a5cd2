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

package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/genie-ai/genie/pkg/config"
)

// Global mutex to serialize Ollama embedding requests.
// Ollama's llama runner crashes when receiving concurrent embedding requests.
var ollamaEmbedMu sync.Mutex

// OllamaProvider embeds text via a local Ollama server.
type OllamaProvider struct {
	config *config.EmbedderConfig
	client *http.Client
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllamaProvider creates an Ollama embedding provider.
func NewOllamaProvider(cfg *config.EmbedderConfig) *OllamaProvider {
	return &OllamaProvider{
		config: cfg,
		client: &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
	}
}

// Embed returns the embedding vector for text.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	// Serialize all Ollama embedding requests to prevent runner crashes.
	ollamaEmbedMu.Lock()
	defer ollamaEmbedMu.Unlock()

	textLen := len(text)
	slog.Debug("Ollama embedding request", "model", p.config.Model, "text_length", textLen)

	body, err := json.Marshal(ollamaEmbedRequest{Model: p.config.Model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	var resp *http.Response
	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		resp, err = p.post(ctx, body)
		if err == nil {
			break
		}
		slog.Debug("Ollama embedding retry", "attempt", attempt+1, "error", err)
		if attempt < p.config.MaxRetries-1 {
			time.Sleep(time.Duration(attempt+1) * time.Second)
		}
	}
	if err != nil {
		slog.Error("Ollama embedding failed", "error", err, "model", p.config.Model)
		return nil, fmt.Errorf("failed to send request to Ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var response ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(response.Embedding) == 0 {
		return nil, fmt.Errorf("received empty embedding from Ollama")
	}
	return response.Embedding, nil
}

func (p *OllamaProvider) post(ctx context.Context, body []byte) (*http.Response, error) {
	url := strings.TrimSuffix(p.config.Host, "/") + "/api/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return p.client.Do(req)
}

// GetDimension returns the configured embedding dimension.
func (p *OllamaProvider) GetDimension() int {
	if p.config.Dimension > 0 {
		return p.config.Dimension
	}
	return 384 // all-minilm default
}

// GetModelName returns the model name.
func (p *OllamaProvider) GetModelName() string {
	return p.config.Model
}

// Close releases resources.
func (p *OllamaProvider) Close() error {
	return nil
}

var _ Provider = (*OllamaProvider)(nil)
