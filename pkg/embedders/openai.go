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
	"net/http"
	"time"

	"github.com/genie-ai/genie/pkg/config"
)

// OpenAIProvider embeds text via the OpenAI embeddings API.
type OpenAIProvider struct {
	client    *http.Client
	apiKey    string
	baseURL   string
	model     string
	dimension int
	retries   int
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewOpenAIProvider creates an OpenAI embedding provider.
func NewOpenAIProvider(cfg *config.EmbedderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for OpenAI embedder")
	}

	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}

	dimension := cfg.Dimension
	if dimension == 0 {
		switch model {
		case "text-embedding-3-large":
			dimension = 3072
		default:
			dimension = 1536
		}
	}

	baseURL := cfg.Host
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	timeout := 30 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	retries := cfg.MaxRetries
	if retries == 0 {
		retries = 3
	}

	return &OpenAIProvider{
		client:    &http.Client{Timeout: timeout},
		apiKey:    cfg.APIKey,
		baseURL:   baseURL,
		model:     model,
		dimension: dimension,
		retries:   retries,
	}, nil
}

// Embed returns the embedding vector for text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(openAIEmbedRequest{Model: p.model, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp *http.Response
	for attempt := 0; attempt < p.retries; attempt++ {
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost,
			p.baseURL+"/embeddings", bytes.NewReader(reqBody))
		if reqErr != nil {
			return nil, fmt.Errorf("failed to create request: %w", reqErr)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

		resp, err = p.client.Do(httpReq)
		if err == nil && resp.StatusCode == http.StatusOK {
			break
		}
		if resp != nil && resp.StatusCode != http.StatusOK && attempt == p.retries-1 {
			break
		}
		if resp != nil {
			resp.Body.Close()
			resp = nil
		}
		if attempt < p.retries-1 {
			backoff := time.Duration(attempt+1) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to send request to OpenAI: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("no response from OpenAI after %d attempts", p.retries)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errorResp openAIErrorResponse
		if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
			return nil, fmt.Errorf("OpenAI API error: %s (type: %s, code: %s)",
				errorResp.Error.Message, errorResp.Error.Type, errorResp.Error.Code)
		}
		return nil, fmt.Errorf("OpenAI API returned status %d: %s", resp.StatusCode, string(body))
	}

	var response openAIEmbedResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(response.Data) == 0 {
		return nil, fmt.Errorf("received empty embedding from OpenAI")
	}
	return response.Data[0].Embedding, nil
}

// GetDimension returns the embedding dimension.
func (p *OpenAIProvider) GetDimension() int {
	return p.dimension
}

// GetModelName returns the model name.
func (p *OpenAIProvider) GetModelName() string {
	return p.model
}

// Close releases resources.
func (p *OpenAIProvider) Close() error {
	return nil
}

var _ Provider = (*OpenAIProvider)(nil)
