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

package window

import "fmt"

// ConfigError reports a malformed context window type or profile.
// It fails the assembly and surfaces to the caller.
type ConfigError struct {
	TypeID  string // Context window type id
	Field   string // Offending field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("[%s] invalid config field %s: %s", e.TypeID, e.Field, e.Message)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(typeID, field, message string) *ConfigError {
	return &ConfigError{TypeID: typeID, Field: field, Message: message}
}

// ModuleError reports a module contribute/condense failure. The
// orchestrator records an empty contribution and continues.
type ModuleError struct {
	ModuleID  string // Module that failed
	Operation string // "contribute" or "condense"
	Message   string // Error message
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *ModuleError) Error() string {
	msg := fmt.Sprintf("[%s] %s failed: %s", e.ModuleID, e.Operation, e.Message)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ModuleError) Unwrap() error {
	return e.Err
}

// NewModuleError creates a new ModuleError.
func NewModuleError(moduleID, operation, message string, err error) *ModuleError {
	return &ModuleError{ModuleID: moduleID, Operation: operation, Message: message, Err: err}
}

// ModuleTimeoutError reports that a module exceeded its soft per-call
// timeout. Treated like ModuleError: record and continue.
type ModuleTimeoutError struct {
	ModuleID  string
	Operation string
	Timeout   string // Human-readable timeout, e.g. "30s"
}

// Error implements the error interface.
func (e *ModuleTimeoutError) Error() string {
	return fmt.Sprintf("[%s] %s timed out after %s", e.ModuleID, e.Operation, e.Timeout)
}

// NewModuleTimeoutError creates a new ModuleTimeoutError.
func NewModuleTimeoutError(moduleID, operation, timeout string) *ModuleTimeoutError {
	return &ModuleTimeoutError{ModuleID: moduleID, Operation: operation, Timeout: timeout}
}
