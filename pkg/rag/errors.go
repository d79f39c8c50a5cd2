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

import "fmt"

// NotFoundError reports a referenced case or collection that does not exist.
type NotFoundError struct {
	Kind string // "case" or "collection"
	ID   string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// NewCaseNotFoundError creates a NotFoundError for a case id.
func NewCaseNotFoundError(id string) *NotFoundError {
	return &NotFoundError{Kind: "case", ID: id}
}

// NewCollectionNotFoundError creates a NotFoundError for a collection id.
func NewCollectionNotFoundError(id string) *NotFoundError {
	return &NotFoundError{Kind: "collection", ID: id}
}

// AccessDeniedError reports a user lacking read or write access to a
// collection. Access violations propagate; they are never swallowed.
type AccessDeniedError struct {
	UserID       string
	CollectionID string
	Operation    string // "read" or "write"
}

// Error implements the error interface.
func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("user %q has no %s access to collection %q",
		e.UserID, e.Operation, e.CollectionID)
}

// NewAccessDeniedError creates a new AccessDeniedError.
func NewAccessDeniedError(userID, collectionID, operation string) *AccessDeniedError {
	return &AccessDeniedError{UserID: userID, CollectionID: collectionID, Operation: operation}
}

// StoreError reports a vector store or file persistence failure during an
// indexing operation.
type StoreError struct {
	CollectionID string
	Operation    string
	Err          error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("[%s] %s failed: %v", e.CollectionID, e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(collectionID, operation string, err error) *StoreError {
	return &StoreError{CollectionID: collectionID, Operation: operation, Err: err}
}
