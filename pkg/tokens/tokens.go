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

// Package tokens estimates token counts for context window budgeting.
//
// Estimates are used for pre-allocation only; authoritative counts come from
// provider responses and overwrite estimates on the assembly snapshot.
package tokens

import (
	"math"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Message represents a chat message for token counting.
type Message struct {
	Role    string
	Content string
}

// Per-message wrapping overhead (role markers, separators).
const messageOverhead = 4

// Characters-per-token ratios used when no accurate encoding is available.
const (
	defaultCharsPerToken   = 4.0
	anthropicCharsPerToken = 3.8
)

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// Estimator maps text to token counts and token budgets back to character
// budgets. The zero value is usable; all methods are safe for concurrent use.
type Estimator struct{}

// NewEstimator returns a token estimator.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Estimate returns the estimated token count for text under the given
// provider. Accurate tiktoken counting is used when an encoding is known for
// the provider family; otherwise a character-ratio fallback applies.
func (e *Estimator) Estimate(text string, provider string) int {
	if text == "" {
		return 0
	}

	if enc := encodingFor(provider); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}

	ratio := charsPerToken(provider)
	return int(math.Ceil(float64(len(text)) / ratio))
}

// EstimateMessages returns the estimated token count for a message list.
// Each message contributes its role and content tokens plus a fixed
// per-message overhead.
func (e *Estimator) EstimateMessages(messages []Message, provider string) int {
	total := 0
	for _, msg := range messages {
		total += messageOverhead
		total += e.Estimate(msg.Role, provider)
		total += e.Estimate(msg.Content, provider)
	}
	return total
}

// ToChars converts a token budget into a character budget for the given
// provider. Used by modules that truncate text to fit an allocation.
func (e *Estimator) ToChars(tokens int, provider string) int {
	if tokens <= 0 {
		return 0
	}
	return int(float64(tokens) * charsPerToken(provider))
}

// charsPerToken returns the fallback ratio for a provider family.
func charsPerToken(provider string) float64 {
	switch normalizeProvider(provider) {
	case "anthropic", "bedrock":
		return anthropicCharsPerToken
	default:
		return defaultCharsPerToken
	}
}

// encodingFor resolves a cached tiktoken encoding for the provider family,
// or nil when the ratio fallback should be used.
func encodingFor(provider string) *tiktoken.Tiktoken {
	name := encodingName(provider)
	if name == "" {
		return nil
	}

	cacheMu.RLock()
	enc, ok := encodingCache[name]
	cacheMu.RUnlock()
	if ok {
		return enc
	}

	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		// Offline or unknown encoding: fall back to the ratio estimate.
		return nil
	}

	cacheMu.Lock()
	encodingCache[name] = enc
	cacheMu.Unlock()
	return enc
}

// encodingName maps a provider family to a tiktoken encoding.
// Anthropic-family providers have no public tokenizer, so they use the
// character-ratio path and return "".
func encodingName(provider string) string {
	switch normalizeProvider(provider) {
	case "openai", "azure", "azure_openai":
		return "cl100k_base"
	default:
		return ""
	}
}

func normalizeProvider(provider string) string {
	p := strings.ToLower(strings.TrimSpace(provider))
	switch {
	case strings.HasPrefix(p, "anthropic"), strings.HasPrefix(p, "claude"):
		return "anthropic"
	case strings.HasPrefix(p, "bedrock"), strings.HasPrefix(p, "aws"):
		return "bedrock"
	case strings.HasPrefix(p, "openai"), strings.HasPrefix(p, "gpt"):
		return "openai"
	case strings.HasPrefix(p, "azure"):
		return "azure"
	default:
		return p
	}
}
