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

// Package modules provides the built-in context modules: content producers
// the orchestrator schedules under per-module token budgets.
package modules

import (
	"strings"

	"github.com/genie-ai/genie/pkg/config"
	"github.com/genie-ai/genie/pkg/tokens"
	"github.com/genie-ai/genie/pkg/window"
)

// Dependency keys modules resolve from AssemblyContext.Dependencies.
const (
	// DepSessions is a session.Service for reading turns and attachments.
	DepSessions = "sessions"

	// DepToolRegistry is a ToolSource for the active MCP server.
	DepToolRegistry = "tool_registry"

	// DepRetriever is an ExampleRetriever backed by the RAG engine.
	DepRetriever = "rag"

	// DepPrompts is a PromptSource for profile-scoped prompt text.
	DepPrompts = "prompts"
)

// SessionData keys modules read from AssemblyContext.SessionData.
const (
	// DataCurrentQuery is the user query of the turn being assembled.
	DataCurrentQuery = "current_query"

	// DataMCPServerID is the session's active MCP server.
	DataMCPServerID = "mcp_server_id"

	// DataDefaultCollection is the user's default RAG collection id.
	DataDefaultCollection = "default_collection_id"
)

// PromptSource supplies named prompt text per profile type.
type PromptSource interface {
	// Prompt returns the text for a prompt name and profile type, with
	// ok=false when undefined.
	Prompt(name, profileType string) (string, bool)
}

var estimator = tokens.NewEstimator()

// appliesTo reports whether profileType is in the allow list. An empty list
// means all profiles.
func appliesTo(allowed []string, profileType string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, p := range allowed {
		if p == profileType {
			return true
		}
	}
	return false
}

// truncateToTokens cuts text so its estimated cost fits budgetTokens,
// breaking on a line boundary when one is close.
func truncateToTokens(text string, budgetTokens int, provider string) string {
	if budgetTokens <= 0 {
		return ""
	}
	if estimator.Estimate(text, provider) <= budgetTokens {
		return text
	}

	chars := estimator.ToChars(budgetTokens, provider)
	if chars >= len(text) {
		return text
	}
	cut := text[:chars]
	if idx := strings.LastIndexByte(cut, '\n'); idx > chars/2 {
		cut = cut[:idx]
	}
	return cut
}

// Builtins returns the definitions of all built-in modules with their
// default budget shares. Handlers are constructed fresh on each call so a
// registry reload gets clean instances.
func Builtins() []*window.ModuleDefinition {
	return []*window.ModuleDefinition{
		NewSystemPrompt().Definition(),
		NewComponentInstructions().Definition(),
		NewToolDefinitions().Definition(),
		NewConversationHistory().Definition(),
		NewWorkflowHistory().Definition(),
		NewRAGContext().Definition(),
		NewKnowledgeContext().Definition(),
		NewDocumentContext().Definition(),
	}
}

var allProfiles = []string{
	config.ProfileToolEnabled,
	config.ProfileLLMOnly,
	config.ProfileRAGFocused,
	config.ProfileGenie,
}
