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

package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// ContextWindowType configures one assembly profile: which modules are
// active, their budgets and priorities, the condensation order, and the
// dynamic adjustment rules.
//
// Example YAML:
//
//	context_window_types:
//	  analyst:
//	    name: Analyst
//	    output_reserve_pct: 12
//	    modules:
//	      system_prompt: {priority: 95, target_pct: 5}
//	      tool_definitions: {priority: 80, target_pct: 25}
//	      conversation_history: {priority: 60, target_pct: 40}
//	    condensation_order: [conversation_history, tool_definitions]
//	    dynamic_adjustments:
//	      - condition: first_turn
//	        action: {kind: transfer, from: rag_context, to: knowledge_context}
type ContextWindowType struct {
	// ID identifies this window type. Set from the map key on load.
	ID string `yaml:"id,omitempty"`

	// Name is the human-readable display name.
	Name string `yaml:"name"`

	// OutputReservePct is the percentage of the model context limit reserved
	// for the model's output.
	OutputReservePct float64 `yaml:"output_reserve_pct"`

	// Modules maps module id to its per-type overrides.
	Modules map[string]ModuleOverride `yaml:"modules"`

	// CondensationOrder lists module ids to condense first when the
	// assembly exceeds the available budget, lowest priority first.
	CondensationOrder []string `yaml:"condensation_order,omitempty"`

	// DynamicAdjustments are condition/action rules evaluated after
	// contribution (Pass 3).
	DynamicAdjustments []DynamicAdjustment `yaml:"dynamic_adjustments,omitempty"`
}

// ModuleOverride overrides a module's registry defaults for one window type.
// Nil fields fall back to the module definition's defaults.
type ModuleOverride struct {
	Active    *bool    `yaml:"active,omitempty"`
	Priority  *int     `yaml:"priority,omitempty"`
	TargetPct *float64 `yaml:"target_pct,omitempty"`
	MinPct    *float64 `yaml:"min_pct,omitempty"`
	MaxPct    *float64 `yaml:"max_pct,omitempty"`
}

// DynamicAdjustment is one data-driven budget rule.
type DynamicAdjustment struct {
	// Condition names a recognised predicate. See AdjustmentConditions.
	Condition string `yaml:"condition"`

	// Action is the raw action record; decoded into an Action at load.
	Action map[string]any `yaml:"action"`

	// Decoded action, populated by Validate.
	Parsed Action `yaml:"-"`
}

// Action is a decoded adjustment action.
type Action struct {
	// Kind is one of "reduce", "transfer", "force_full".
	Kind string `mapstructure:"kind"`

	// Target is the module acted on (reduce, force_full).
	Target string `mapstructure:"target"`

	// From and To name the modules for a transfer.
	From string `mapstructure:"from"`
	To   string `mapstructure:"to"`

	// ByPct is the reduction percentage for "reduce".
	ByPct float64 `mapstructure:"by_pct"`
}

// Recognised adjustment conditions. The set is closed: unknown conditions
// are a config error, not a silent no-op.
const (
	CondFirstTurn         = "first_turn"
	CondNoDocuments       = "no_documents_attached"
	CondLongConversation  = "long_conversation"
	CondHighConfidenceRAG = "high_confidence_rag"
)

// HighConfidenceRAGThreshold is the confidence score (scale [0,1], reported
// by the rag_context module in its contribution metadata) above which
// high_confidence_rag fires.
const HighConfidenceRAGThreshold = 0.85

// AdjustmentConditions is the closed set of recognised condition names.
var AdjustmentConditions = map[string]bool{
	CondFirstTurn:         true,
	CondNoDocuments:       true,
	CondLongConversation:  true,
	CondHighConfidenceRAG: true,
}

// Recognised action kinds.
const (
	ActionReduce    = "reduce"
	ActionTransfer  = "transfer"
	ActionForceFull = "force_full"
)

// SetDefaults applies default values.
func (c *ContextWindowType) SetDefaults() {
	if c.OutputReservePct == 0 {
		c.OutputReservePct = 15
	}
}

// Validate checks the window type for errors, decoding adjustment actions
// as a side effect.
func (c *ContextWindowType) Validate() error {
	if c.OutputReservePct < 0 || c.OutputReservePct >= 100 {
		return fmt.Errorf("context window type %q: output_reserve_pct must be in [0, 100), got %.2f", c.ID, c.OutputReservePct)
	}

	for id, ov := range c.Modules {
		if err := ov.validate(); err != nil {
			return fmt.Errorf("context window type %q, module %q: %w", c.ID, id, err)
		}
	}

	for i := range c.DynamicAdjustments {
		adj := &c.DynamicAdjustments[i]
		if !AdjustmentConditions[adj.Condition] {
			return fmt.Errorf("context window type %q: unknown adjustment condition %q", c.ID, adj.Condition)
		}
		if err := adj.decodeAction(); err != nil {
			return fmt.Errorf("context window type %q, condition %q: %w", c.ID, adj.Condition, err)
		}
	}

	return nil
}

func (o *ModuleOverride) validate() error {
	check := func(name string, v *float64) error {
		if v != nil && (*v < 0 || *v > 100) {
			return fmt.Errorf("%s must be in [0, 100], got %.2f", name, *v)
		}
		return nil
	}
	if err := check("target_pct", o.TargetPct); err != nil {
		return err
	}
	if err := check("min_pct", o.MinPct); err != nil {
		return err
	}
	if err := check("max_pct", o.MaxPct); err != nil {
		return err
	}
	if o.MinPct != nil && o.MaxPct != nil && *o.MinPct > *o.MaxPct {
		return fmt.Errorf("min_pct %.2f exceeds max_pct %.2f", *o.MinPct, *o.MaxPct)
	}
	if o.Priority != nil && (*o.Priority < 0 || *o.Priority > 100) {
		return fmt.Errorf("priority must be in [0, 100], got %d", *o.Priority)
	}
	return nil
}

func (a *DynamicAdjustment) decodeAction() error {
	if len(a.Action) == 0 {
		return fmt.Errorf("action is required")
	}

	var parsed Action
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &parsed,
		ErrorUnused: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(a.Action); err != nil {
		return fmt.Errorf("malformed action: %w", err)
	}

	switch parsed.Kind {
	case ActionReduce:
		if parsed.Target == "" {
			return fmt.Errorf("reduce action requires target")
		}
		if parsed.ByPct <= 0 || parsed.ByPct > 100 {
			return fmt.Errorf("reduce action by_pct must be in (0, 100], got %.2f", parsed.ByPct)
		}
	case ActionTransfer:
		if parsed.From == "" || parsed.To == "" {
			return fmt.Errorf("transfer action requires from and to")
		}
	case ActionForceFull:
		if parsed.Target == "" {
			return fmt.Errorf("force_full action requires target")
		}
	default:
		return fmt.Errorf("unknown action kind %q", parsed.Kind)
	}

	a.Parsed = parsed
	return nil
}
