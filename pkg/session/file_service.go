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

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileService persists sessions as JSON files under
// <root>/<user_id>/<session_id>.json with atomic temp+rename writes.
type FileService struct {
	root  string
	locks keyedLocks
}

// NewFileService creates a file-backed session service rooted at dir.
func NewFileService(dir string) (*FileService, error) {
	if dir == "" {
		return nil, fmt.Errorf("session root directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session root: %w", err)
	}
	return &FileService{root: dir}, nil
}

func (s *FileService) path(userID, sessionID string) string {
	return filepath.Join(s.root, userID, sessionID+".json")
}

// Load reads a session record. Returns (nil, nil) when it does not exist.
func (s *FileService) Load(ctx context.Context, userID, sessionID string) (*Session, error) {
	data, err := os.ReadFile(s.path(userID, sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session %s/%s: %w", userID, sessionID, err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse session %s/%s: %w", userID, sessionID, err)
	}
	return &sess, nil
}

// Save writes a session record atomically.
func (s *FileService) Save(ctx context.Context, userID, sessionID string, sess *Session) error {
	sess.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize session %s/%s: %w", userID, sessionID, err)
	}

	path := s.path(userID, sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	return atomicWrite(path, data)
}

// Update runs fn on the session under its per-session lock, then saves.
// Returns ErrSessionNotFound when the session does not exist.
func (s *FileService) Update(ctx context.Context, userID, sessionID string, fn func(*Session) error) error {
	mu := s.locks.lock(sessionKey(userID, sessionID))
	mu.Lock()
	defer mu.Unlock()

	sess, err := s.Load(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrSessionNotFound
	}
	if err := fn(sess); err != nil {
		return err
	}
	return s.Save(ctx, userID, sessionID, sess)
}

// atomicWrite writes data via a temp file in the target directory followed
// by a rename, so readers never observe a partial file.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
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
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

var _ Service = (*FileService)(nil)
