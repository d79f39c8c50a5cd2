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

package modreg

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/genie-ai/genie/pkg/window"
)

// ManifestFileName is the manifest every module directory must contain.
const ManifestFileName = "module.yaml"

// Manifest is the on-disk contract of a module directory.
type Manifest struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Abbrev      string   `yaml:"abbrev,omitempty"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description,omitempty"`
	Category    string   `yaml:"category,omitempty"`
	Profiles    []string `yaml:"profiles,omitempty"`
	Required    bool     `yaml:"required,omitempty"`

	Capabilities window.Capabilities `yaml:"capabilities"`
	Defaults     window.Defaults     `yaml:"defaults"`

	// Handler names the registered factory that constructs the module
	// instance.
	Handler string `yaml:"handler"`
}

// Validate checks the manifest for errors.
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("manifest id is required")
	}
	if m.Handler == "" {
		return fmt.Errorf("manifest %s: handler is required", m.ID)
	}
	if m.Defaults.TargetPct < 0 || m.Defaults.TargetPct > 100 {
		return fmt.Errorf("manifest %s: target_pct must be in [0, 100]", m.ID)
	}
	if m.Defaults.MinPct < 0 || m.Defaults.MaxPct < 0 {
		return fmt.Errorf("manifest %s: min_pct/max_pct must be non-negative", m.ID)
	}
	if m.Defaults.MaxPct > 0 && m.Defaults.MinPct > m.Defaults.MaxPct {
		return fmt.Errorf("manifest %s: min_pct exceeds max_pct", m.ID)
	}
	return nil
}

// LoadManifest reads and validates the manifest inside a module directory.
func LoadManifest(moduleDir string) (*Manifest, error) {
	path := filepath.Join(moduleDir, ManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// definition converts a manifest plus a loaded handler into a registry
// entry.
func (m *Manifest) definition(source string, handler window.Module) *window.ModuleDefinition {
	return &window.ModuleDefinition{
		ID:           m.ID,
		Name:         m.Name,
		Abbrev:       m.Abbrev,
		Version:      m.Version,
		Category:     m.Category,
		Capabilities: m.Capabilities,
		Profiles:     m.Profiles,
		Required:     m.Required,
		Defaults:     m.Defaults,
		Source:       source,
		Handler:      handler,
	}
}
