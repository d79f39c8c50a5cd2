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

// Package modreg is the context module registry: it discovers modules from
// built-in, agent-pack, and user directories, and exposes install,
// uninstall, purge, and reload operations. Reads are lock-free against an
// immutable view swapped in atomically at the end of each discovery.
package modreg

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/genie-ai/genie/pkg/config"
	"github.com/genie-ai/genie/pkg/registry"
	"github.com/genie-ai/genie/pkg/window"
)

// RegistryError reports a module that could not be loaded or operated on.
type RegistryError struct {
	ModuleID string
	Message  string
	Err      error
}

// Error implements the error interface.
func (e *RegistryError) Error() string {
	msg := fmt.Sprintf("module %s: %s", e.ModuleID, e.Message)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *RegistryError) Unwrap() error {
	return e.Err
}

// NewRegistryError creates a new RegistryError.
func NewRegistryError(moduleID, message string, err error) *RegistryError {
	return &RegistryError{ModuleID: moduleID, Message: message, Err: err}
}

// Factory constructs a module handler instance. Discovery calls the factory
// named by each manifest's handler field.
type Factory func() window.Module

// Registry discovers and serves context modules.
type Registry struct {
	cfg config.ModuleDirsConfig

	// builtins supplies the compiled-in module definitions on every
	// discovery, so reload gets fresh handler instances.
	builtins func() []*window.ModuleDefinition

	defs *registry.BaseRegistry[*window.ModuleDefinition]

	mu        sync.Mutex // serializes discovery, install, uninstall
	factories map[string]Factory

	watcher *dirWatcher
}

// Option configures a Registry.
type Option func(*Registry)

// WithBuiltins sets the compiled-in module definitions provider.
func WithBuiltins(fn func() []*window.ModuleDefinition) Option {
	return func(r *Registry) { r.builtins = fn }
}

// New creates a module registry. Call DiscoverModules before first use.
func New(cfg config.ModuleDirsConfig, opts ...Option) *Registry {
	r := &Registry{
		cfg:       cfg,
		builtins:  func() []*window.ModuleDefinition { return nil },
		defs:      registry.NewBaseRegistry[*window.ModuleDefinition](),
		factories: make(map[string]Factory),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterFactory registers a handler factory under a name manifests can
// reference.
func (r *Registry) RegisterFactory(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// DiscoverModules scans all sources, (re)loads handlers, and atomically
// publishes the new view. Later sources override earlier ones on id
// collision with a warning. Idempotent.
func (r *Registry) DiscoverModules() (map[string]*window.ModuleDefinition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discoverLocked()
}

func (r *Registry) discoverLocked() (map[string]*window.ModuleDefinition, error) {
	result := make(map[string]*window.ModuleDefinition)

	for _, def := range r.builtins() {
		result[def.ID] = def
	}

	type source struct {
		dir  string
		kind string
	}
	sources := []source{{r.cfg.BuiltinDir, window.SourceBuiltin}}
	for _, dir := range r.cfg.PackDirs {
		sources = append(sources, source{dir, window.SourcePack})
	}
	sources = append(sources, source{r.cfg.UserDir, window.SourceUser})

	for _, src := range sources {
		if src.dir == "" {
			continue
		}
		r.scanSource(src.dir, src.kind, result)
	}

	r.defs.ReplaceAll(result)
	slog.Info("Module discovery complete", "modules", len(result))
	return result, nil
}

// scanSource loads every module subdirectory of dir into result.
func (r *Registry) scanSource(dir, sourceKind string, result map[string]*window.ModuleDefinition) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to read module source directory", "dir", dir, "error", err)
		}
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		moduleDir := filepath.Join(dir, entry.Name())

		manifest, err := LoadManifest(moduleDir)
		if err != nil {
			if os.IsNotExist(err) {
				slog.Warn("Module directory has no manifest, skipping", "dir", moduleDir)
			} else {
				slog.Warn("Invalid module manifest, skipping", "dir", moduleDir, "error", err)
			}
			continue
		}

		def, err := r.loadDefinition(manifest, sourceKind)
		if err != nil {
			slog.Error("Failed to load module, skipping", "module", manifest.ID, "error", err)
			continue
		}

		if prev, exists := result[def.ID]; exists {
			slog.Warn("Module id collision, later source wins",
				"module", def.ID, "previous", prev.Source, "winner", sourceKind)
		}
		result[def.ID] = def
		slog.Debug("Module loaded", "module", def.ID, "source", sourceKind, "version", def.Version)
	}
}

// loadDefinition resolves the manifest's handler factory and verifies the
// instance supports the declared capabilities.
func (r *Registry) loadDefinition(manifest *Manifest, sourceKind string) (*window.ModuleDefinition, error) {
	factory, ok := r.factories[manifest.Handler]
	if !ok {
		return nil, NewRegistryError(manifest.ID, "handler factory not found: "+manifest.Handler, nil)
	}
	handler := factory()
	if handler == nil {
		return nil, NewRegistryError(manifest.ID, "handler factory returned nil", nil)
	}

	if manifest.Capabilities.Condensable {
		if _, ok := handler.(window.Condenser); !ok {
			return nil, NewRegistryError(manifest.ID, "manifest declares condensable but handler cannot condense", nil)
		}
	}
	if manifest.Capabilities.Purgeable {
		if _, ok := handler.(window.Purger); !ok {
			return nil, NewRegistryError(manifest.ID, "manifest declares purgeable but handler cannot purge", nil)
		}
	}
	return manifest.definition(sourceKind, handler), nil
}

// Definition returns the definition for a module id. Lock-free.
func (r *Registry) Definition(id string) (*window.ModuleDefinition, bool) {
	return r.defs.Get(id)
}

// GetHandler returns the handler instance for a module id.
func (r *Registry) GetHandler(id string) (window.Module, bool) {
	def, ok := r.defs.Get(id)
	if !ok || def.Handler == nil {
		return nil, false
	}
	return def.Handler, true
}

// GetInstalledModules returns metadata snapshots (no handler instances)
// sorted by id, for UI listings.
func (r *Registry) GetInstalledModules() []*window.ModuleDefinition {
	defs := r.defs.List()
	out := make([]*window.ModuleDefinition, 0, len(defs))
	for _, def := range defs {
		cp := *def
		cp.Handler = nil
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// InstallModule copies a module directory into the user location, loads it,
// and registers it. Fails if the id is already installed.
func (r *Registry) InstallModule(path string) error {
	if r.cfg.UserDir == "" {
		return fmt.Errorf("no user module directory configured")
	}

	manifest, err := LoadManifest(path)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs.Get(manifest.ID); exists {
		return NewRegistryError(manifest.ID, "already installed", nil)
	}

	dest := filepath.Join(r.cfg.UserDir, manifest.ID)
	if err := copyDir(path, dest); err != nil {
		return fmt.Errorf("failed to copy module directory: %w", err)
	}

	if _, err := r.discoverLocked(); err != nil {
		return err
	}
	slog.Info("Module installed", "module", manifest.ID, "dest", dest)
	return nil
}

// UninstallModule removes a non-built-in module from disk and the registry.
// Built-ins and required modules cannot be uninstalled.
func (r *Registry) UninstallModule(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	def, ok := r.defs.Get(id)
	if !ok {
		return NewRegistryError(id, "not installed", nil)
	}
	if def.Source == window.SourceBuiltin {
		return NewRegistryError(id, "built-in modules cannot be uninstalled", nil)
	}
	if def.Required {
		return NewRegistryError(id, "required modules cannot be uninstalled", nil)
	}

	if def.Source == window.SourceUser && r.cfg.UserDir != "" {
		dir := filepath.Join(r.cfg.UserDir, id)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove module directory: %w", err)
		}
	}

	if _, err := r.discoverLocked(); err != nil {
		return err
	}
	slog.Info("Module uninstalled", "module", id)
	return nil
}

// PurgeModule delegates to the handler's purge. Fails if the module is not
// purgeable.
func (r *Registry) PurgeModule(ctx context.Context, id, sessionID, userID string) (*window.PurgeResult, error) {
	def, ok := r.defs.Get(id)
	if !ok {
		return nil, NewRegistryError(id, "not installed", nil)
	}
	purger, ok := def.Handler.(window.Purger)
	if !ok || !def.Capabilities.Purgeable {
		return nil, NewRegistryError(id, "module is not purgeable", nil)
	}
	return purger.Purge(ctx, sessionID, userID)
}

// Reload re-runs discovery, replacing handler instances.
func (r *Registry) Reload() error {
	_, err := r.DiscoverModules()
	return err
}

// Status aggregates GetStatus across handlers that report one.
func (r *Registry) Status() map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, def := range r.defs.List() {
		if reporter, ok := def.Handler.(window.StatusReporter); ok {
			out[def.ID] = reporter.GetStatus()
		}
	}
	return out
}

var _ window.ModuleSource = (*Registry)(nil)

// copyDir recursively copies a module directory.
func copyDir(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}

		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()

		out, err := os.Create(target)
		if err != nil {
			return err
		}
		defer out.Close()

		_, err = io.Copy(out, in)
		return err
	})
}
