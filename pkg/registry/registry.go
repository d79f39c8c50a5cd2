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

// Package registry provides a generic thread-safe name→item registry.
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
)

type Registry[T any] interface {
	Register(name string, item T) error
	Get(name string) (T, bool)
	List() []T
	Names() []string
	Remove(name string) error
	Count() int
	Clear()
}

type BaseRegistry[T any] struct {
	mu    sync.Mutex
	items atomic.Pointer[map[string]T]
}

func NewBaseRegistry[T any]() *BaseRegistry[T] {
	r := &BaseRegistry[T]{}
	empty := make(map[string]T)
	r.items.Store(&empty)
	return r
}

// current returns the live map. Reads are lock-free; the map is never
// mutated in place, only swapped.
func (r *BaseRegistry[T]) current() map[string]T {
	return *r.items.Load()
}

func (r *BaseRegistry[T]) swap(next map[string]T) {
	r.items.Store(&next)
}

func (r *BaseRegistry[T]) Register(name string, item T) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current()
	if _, exists := cur[name]; exists {
		return fmt.Errorf("item with name '%s' already registered", name)
	}

	next := make(map[string]T, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[name] = item
	r.swap(next)
	return nil
}

func (r *BaseRegistry[T]) Get(name string) (T, bool) {
	item, exists := r.current()[name]
	return item, exists
}

func (r *BaseRegistry[T]) List() []T {
	cur := r.current()
	items := make([]T, 0, len(cur))
	for _, item := range cur {
		items = append(items, item)
	}
	return items
}

func (r *BaseRegistry[T]) Names() []string {
	cur := r.current()
	names := make([]string, 0, len(cur))
	for name := range cur {
		names = append(names, name)
	}
	return names
}

func (r *BaseRegistry[T]) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current()
	if _, exists := cur[name]; !exists {
		return fmt.Errorf("item '%s' not found", name)
	}

	next := make(map[string]T, len(cur))
	for k, v := range cur {
		if k != name {
			next[k] = v
		}
	}
	r.swap(next)
	return nil
}

func (r *BaseRegistry[T]) Count() int {
	return len(r.current())
}

func (r *BaseRegistry[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	empty := make(map[string]T)
	r.swap(empty)
}

// Snapshot returns a copy of the current contents.
func (r *BaseRegistry[T]) Snapshot() map[string]T {
	cur := r.current()
	out := make(map[string]T, len(cur))
	for k, v := range cur {
		out[k] = v
	}
	return out
}

// ReplaceAll atomically swaps the registry contents for the given map.
// Used by discovery to publish a complete new view in one step.
func (r *BaseRegistry[T]) ReplaceAll(items map[string]T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]T, len(items))
	for k, v := range items {
		next[k] = v
	}
	r.swap(next)
}

var _ Registry[any] = (*BaseRegistry[any])(nil)
