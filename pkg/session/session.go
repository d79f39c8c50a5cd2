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

// Package session provides session persistence for the Genie core.
//
// A session is a series of turns between one user and the platform. The
// store guarantees per-session serialization of load-modify-save cycles and
// atomic writes (temp file + rename).
package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrSessionNotFound is returned when a session doesn't exist.
var ErrSessionNotFound = errors.New("session not found")

// Session is one user's conversation record.
type Session struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	ProfileID   string         `json:"profile_id,omitempty"`
	MCPServerID string         `json:"mcp_server_id,omitempty"`
	Turns       []Turn         `json:"turns,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	State       map[string]any `json:"state,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Turn is one completed exchange.
type Turn struct {
	Number        int            `json:"number"`
	UserQuery     string         `json:"user_query"`
	Response      string         `json:"response,omitempty"`
	StrategyType  string         `json:"strategy_type,omitempty"`
	SQLStatements []string       `json:"sql_statements,omitempty"`
	OutputTokens  int            `json:"output_tokens,omitempty"`
	Error         string         `json:"error,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`

	// UIState holds presentation-only data (chart configs, pagination).
	// The prompt builder scrubs it before feeding history to templates.
	UIState map[string]any `json:"ui_state,omitempty"`
}

// Attachment is a document attached to the session.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type,omitempty"`
	Content  string `json:"content"`
}

// Service manages session persistence.
//
// Load returns (nil, nil) when the session does not exist. Update runs the
// given function under the per-session lock, making read-modify-write
// cycles safe against concurrent writers.
type Service interface {
	Load(ctx context.Context, userID, sessionID string) (*Session, error)
	Save(ctx context.Context, userID, sessionID string, s *Session) error
	Update(ctx context.Context, userID, sessionID string, fn func(*Session) error) error
}

// keyedLocks hands out one mutex per session key.
type keyedLocks struct {
	locks sync.Map // key -> *sync.Mutex
}

func (k *keyedLocks) lock(key string) *sync.Mutex {
	mu, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func sessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// InMemoryService returns an in-memory session service for tests and
// development.
func InMemoryService() Service {
	return &inMemoryService{sessions: make(map[string]*Session)}
}

type inMemoryService struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	locks    keyedLocks
}

func (s *inMemoryService) Load(ctx context.Context, userID, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionKey(userID, sessionID)]
	if !ok {
		return nil, nil
	}
	cp := *sess
	return &cp, nil
}

func (s *inMemoryService) Save(ctx context.Context, userID, sessionID string, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.UpdatedAt = time.Now().UTC()
	cp := *sess
	s.sessions[sessionKey(userID, sessionID)] = &cp
	return nil
}

func (s *inMemoryService) Update(ctx context.Context, userID, sessionID string, fn func(*Session) error) error {
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

var _ Service = (*inMemoryService)(nil)
