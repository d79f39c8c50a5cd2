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

package modules

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/genie-ai/genie/pkg/config"
	"github.com/genie-ai/genie/pkg/window"
)

// ToolSource lists the tools available on a session's active MCP server.
type ToolSource interface {
	ListTools(ctx context.Context, serverID string) ([]mcp.Tool, error)
}

// ToolDefinitions contributes the available tool surface: full definitions
// with descriptions and parameters when the budget allows, condensing to a
// names-only listing under pressure.
type ToolDefinitions struct {
	contributions atomic.Int64
	condensations atomic.Int64
}

// NewToolDefinitions creates the tool definitions module.
func NewToolDefinitions() *ToolDefinitions {
	return &ToolDefinitions{}
}

// Definition returns the registry entry for this module.
func (m *ToolDefinitions) Definition() *window.ModuleDefinition {
	return &window.ModuleDefinition{
		ID:           "tool_definitions",
		Name:         "Tool Definitions",
		Abbrev:       "Tools",
		Version:      "1.0.0",
		Category:     "tools",
		Capabilities: window.Capabilities{Condensable: true},
		Profiles:     []string{config.ProfileToolEnabled, config.ProfileGenie},
		Defaults:     window.Defaults{Priority: 80, TargetPct: 25, MinPct: 5, MaxPct: 40},
		Source:       window.SourceBuiltin,
		Handler:      m,
	}
}

// ModuleID returns the stable module id.
func (m *ToolDefinitions) ModuleID() string { return "tool_definitions" }

// AppliesTo reports profile applicability.
func (m *ToolDefinitions) AppliesTo(profileType string) bool {
	return appliesTo([]string{config.ProfileToolEnabled, config.ProfileGenie}, profileType)
}

// Contribute renders the tool surface for the session's active MCP server.
func (m *ToolDefinitions) Contribute(ctx context.Context, budgetTokens int, actx *window.AssemblyContext) (*window.Contribution, error) {
	source, ok := actx.Dependency(DepToolRegistry).(ToolSource)
	if !ok {
		return nil, window.NewModuleError(m.ModuleID(), "contribute", "tool registry dependency missing", nil)
	}

	serverID, _ := actx.SessionData[DataMCPServerID].(string)
	tools, err := source.ListTools(ctx, serverID)
	if err != nil {
		return nil, window.NewModuleError(m.ModuleID(), "contribute", "failed to list tools", err)
	}
	if len(tools) == 0 {
		return &window.Contribution{Metadata: map[string]any{"tool_count": 0}}, nil
	}

	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })

	content := renderToolDefinitions(tools)
	used := estimator.Estimate(content, actx.Provider)
	if used > budgetTokens {
		content = renderToolNames(tools)
		used = estimator.Estimate(content, actx.Provider)
	}

	m.contributions.Add(1)
	return &window.Contribution{
		Content:     content,
		TokensUsed:  used,
		Condensable: true,
		Metadata:    map[string]any{"tool_count": len(tools)},
	}, nil
}

// Condense drops descriptions and parameters, keeping one line per tool.
func (m *ToolDefinitions) Condense(ctx context.Context, content string, targetTokens int, actx *window.AssemblyContext) (*window.Contribution, error) {
	names := make([]string, 0)
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "## ") {
			names = append(names, strings.TrimPrefix(line, "## "))
		} else if strings.HasPrefix(line, "- ") {
			names = append(names, strings.TrimPrefix(line, "- "))
		}
	}

	var b strings.Builder
	b.WriteString("# Available Tools\n")
	for _, name := range names {
		line := "- " + name + "\n"
		if estimator.Estimate(b.String()+line, actx.Provider) > targetTokens {
			break
		}
		b.WriteString(line)
	}

	condensed := b.String()
	m.condensations.Add(1)
	return &window.Contribution{
		Content:     condensed,
		TokensUsed:  estimator.Estimate(condensed, actx.Provider),
		Condensable: false,
		Metadata: map[string]any{
			"strategy":   "names_only",
			"tool_count": len(names),
		},
	}, nil
}

// GetStatus exposes counters for the admin dashboard.
func (m *ToolDefinitions) GetStatus() map[string]any {
	return map[string]any{
		"healthy":       true,
		"contributions": m.contributions.Load(),
		"condensations": m.condensations.Load(),
	}
}

func renderToolDefinitions(tools []mcp.Tool) string {
	var b strings.Builder
	b.WriteString("# Available Tools\n\n")
	for _, t := range tools {
		b.WriteString("## " + t.Name + "\n")
		if t.Description != "" {
			b.WriteString(t.Description + "\n")
		}
		if len(t.InputSchema.Properties) > 0 {
			params := make([]string, 0, len(t.InputSchema.Properties))
			for name := range t.InputSchema.Properties {
				params = append(params, name)
			}
			sort.Strings(params)
			required := make(map[string]bool, len(t.InputSchema.Required))
			for _, r := range t.InputSchema.Required {
				required[r] = true
			}
			b.WriteString("Parameters:\n")
			for _, name := range params {
				if required[name] {
					fmt.Fprintf(&b, "- %s (required)\n", name)
				} else {
					fmt.Fprintf(&b, "- %s\n", name)
				}
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderToolNames(tools []mcp.Tool) string {
	var b strings.Builder
	b.WriteString("# Available Tools\n")
	for _, t := range tools {
		b.WriteString("- " + t.Name + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

var (
	_ window.Module         = (*ToolDefinitions)(nil)
	_ window.Condenser      = (*ToolDefinitions)(nil)
	_ window.StatusReporter = (*ToolDefinitions)(nil)
)
