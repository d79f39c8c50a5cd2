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
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/genie-ai/genie/pkg/config"
)

// Registry caches embedding providers by model so that collections sharing
// a model share one provider. Concurrent first-use of the same model
// collapses into a single construction via singleflight.
type Registry struct {
	base config.EmbedderConfig

	mu        sync.RWMutex
	providers map[string]Provider
	group     singleflight.Group
}

// NewRegistry creates a provider registry. base supplies the provider type,
// host and credentials; the model varies per Get call.
func NewRegistry(base *config.EmbedderConfig) *Registry {
	cfg := config.EmbedderConfig{}
	if base != nil {
		cfg = *base
	}
	cfg.SetDefaults()
	return &Registry{
		base:      cfg,
		providers: make(map[string]Provider),
	}
}

// Get returns the provider for a model, creating it on first use. An empty
// model uses the configured default.
func (r *Registry) Get(model string) (Provider, error) {
	if model == "" {
		model = r.base.Model
	}

	r.mu.RLock()
	if p, ok := r.providers[model]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.group.Do(model, func() (any, error) {
		r.mu.RLock()
		if p, ok := r.providers[model]; ok {
			r.mu.RUnlock()
			return p, nil
		}
		r.mu.RUnlock()

		cfg := r.base
		cfg.Model = model
		p, err := NewProvider(&cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder for model %q: %w", model, err)
		}

		r.mu.Lock()
		r.providers[model] = p
		r.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Provider), nil
}

// Close closes all cached providers.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for model, p := range r.providers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close embedder %q: %w", model, err)
		}
	}
	r.providers = make(map[string]Provider)
	return firstErr
}
