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

package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateEmpty(t *testing.T) {
	e := NewEstimator()
	assert.Zero(t, e.Estimate("", "anthropic"))
	assert.Zero(t, e.Estimate("", ""))
}

func TestEstimateRatioFallback(t *testing.T) {
	e := NewEstimator()
	text := strings.Repeat("a", 400)

	// Anthropic-family providers have no public tokenizer and use the
	// 3.8 chars/token ratio.
	assert.Equal(t, 106, e.Estimate(text, "anthropic"))
	assert.Equal(t, 106, e.Estimate(text, "claude-sonnet"))
	assert.Equal(t, 106, e.Estimate(text, "bedrock"))

	// Unknown providers use the 4.0 default ratio.
	assert.Equal(t, 100, e.Estimate(text, ""))
	assert.Equal(t, 100, e.Estimate(text, "ollama"))
}

func TestEstimateRoundsUp(t *testing.T) {
	e := NewEstimator()
	assert.Equal(t, 1, e.Estimate("ab", ""))
	assert.Equal(t, 2, e.Estimate("abcde", ""))
}

func TestEstimateMessages(t *testing.T) {
	e := NewEstimator()
	msgs := []Message{
		{Role: "user", Content: strings.Repeat("x", 40)},
		{Role: "assistant", Content: strings.Repeat("y", 80)},
	}
	// Each message adds the fixed wrapping overhead on top of role and
	// content estimates.
	want := 4 + e.Estimate("user", "") + 10 + 4 + e.Estimate("assistant", "") + 20
	assert.Equal(t, want, e.EstimateMessages(msgs, ""))
}

func TestToChars(t *testing.T) {
	e := NewEstimator()
	assert.Equal(t, 400, e.ToChars(100, ""))
	assert.Equal(t, 380, e.ToChars(100, "anthropic"))
	assert.Zero(t, e.ToChars(0, ""))
	assert.Zero(t, e.ToChars(-5, ""))
}

func TestNormalizeProvider(t *testing.T) {
	tests := map[string]string{
		"Anthropic":       "anthropic",
		"claude-opus":     "anthropic",
		"bedrock/haiku":   "bedrock",
		"aws":             "bedrock",
		"openai":          "openai",
		"gpt-4o":          "openai",
		"azure_openai":    "azure",
		"something-else":  "something-else",
		"  OpenAI  ":      "openai",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeProvider(in), in)
	}
}
