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

package rag

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	collectionDirPrefix = "collection_"
	caseFilePrefix      = "case_"
)

// collectionDir returns the on-disk directory for a collection's cases.
func (e *Engine) collectionDir(collectionID string) string {
	return filepath.Join(e.casesRoot, collectionDirPrefix+collectionID)
}

// casePath returns the JSON file path for a case.
func (e *Engine) casePath(collectionID, caseID string) string {
	return filepath.Join(e.collectionDir(collectionID), caseFilePrefix+caseID+".json")
}

// writeCaseFile persists a case atomically (temp file + rename).
func (e *Engine) writeCaseFile(c *Case) error {
	dir := e.collectionDir(c.CollectionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create collection directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize case %s: %w", c.ID, err)
	}

	tmp, err := os.CreateTemp(dir, ".case-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	path := e.casePath(c.CollectionID, c.ID)
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// readCaseFile loads one case JSON file.
func readCaseFile(path string) (*Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Case
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse case file %s: %w", path, err)
	}
	return &c, nil
}

// loadCollectionDir reads every case file in a collection directory.
// Unparseable files are skipped with a warning.
func (e *Engine) loadCollectionDir(collectionID string) ([]*Case, error) {
	dir := e.collectionDir(collectionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read collection directory %s: %w", dir, err)
	}

	cases := make([]*Case, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, caseFilePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		c, err := readCaseFile(filepath.Join(dir, name))
		if err != nil {
			slog.Warn("Skipping unreadable case file", "file", name, "error", err)
			continue
		}
		cases = append(cases, c)
	}
	return cases, nil
}

// migrateLegacyLayout moves flat case files sitting directly under the cases
// root into their collection subdirectory, keyed by the collection_id each
// file records. Runs once at startup.
func (e *Engine) migrateLegacyLayout() error {
	entries, err := os.ReadDir(e.casesRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read cases root: %w", err)
	}

	migrated := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, caseFilePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}

		src := filepath.Join(e.casesRoot, name)
		c, err := readCaseFile(src)
		if err != nil || c.CollectionID == "" {
			slog.Warn("Legacy case file has no collection id, leaving in place",
				"file", name, "error", err)
			continue
		}

		dir := e.collectionDir(c.CollectionID)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create collection directory: %w", err)
		}
		if err := os.Rename(src, filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("failed to migrate case file %s: %w", name, err)
		}
		migrated++
	}
	if migrated > 0 {
		slog.Info("Migrated legacy case files into collection directories", "count", migrated)
	}
	return nil
}

// normalizeCaseID strips the file-name prefix so callers may pass either
// "case_<uuid>" or the bare uuid.
func normalizeCaseID(id string) string {
	return strings.TrimPrefix(id, caseFilePrefix)
}
