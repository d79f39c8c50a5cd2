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
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// HashProvider is a deterministic, offline embedder. Token hashes are
// accumulated into a fixed-size bag-of-words vector, then L2-normalized so
// cosine similarity behaves sensibly. Similar texts get similar vectors,
// which is all tests and local development need.
type HashProvider struct {
	dimension int
}

// NewHashProvider creates a hash embedder with the given dimension
// (default 128).
func NewHashProvider(dimension int) *HashProvider {
	if dimension <= 0 {
		dimension = 128
	}
	return &HashProvider{dimension: dimension}
}

// Embed returns a deterministic vector for text.
func (p *HashProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dimension)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(token))
		sum := h.Sum32()
		idx := int(sum) % p.dimension
		if idx < 0 {
			idx += p.dimension
		}
		// Sign bit spreads tokens across both directions.
		if sum&1 == 0 {
			vec[idx]++
		} else {
			vec[idx]--
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

// GetDimension returns the embedding dimension.
func (p *HashProvider) GetDimension() int {
	return p.dimension
}

// GetModelName returns the model name.
func (p *HashProvider) GetModelName() string {
	return "hash"
}

// Close releases resources.
func (p *HashProvider) Close() error {
	return nil
}

var _ Provider = (*HashProvider)(nil)
