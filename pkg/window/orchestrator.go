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

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/genie-ai/genie/pkg/config"
	"github.com/genie-ai/genie/pkg/tokens"
)

// DefaultModuleTimeout is the soft per-call timeout for contribute/condense.
const DefaultModuleTimeout = 30 * time.Second

// Orchestrator assembles context windows in four passes:
// resolve -> allocate+contribute -> adjust -> condense.
//
// One assembly runs on a single task; modules are invoked sequentially in
// descending priority order so each can observe the contributions of all
// higher-priority modules. Assemblies for different sessions never block
// each other.
type Orchestrator struct {
	source        ModuleSource
	estimator     *tokens.Estimator
	moduleTimeout time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithModuleTimeout overrides the soft per-module call timeout.
func WithModuleTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.moduleTimeout = d }
}

// WithEstimator overrides the token estimator.
func WithEstimator(e *tokens.Estimator) Option {
	return func(o *Orchestrator) { o.estimator = e }
}

// NewOrchestrator creates an orchestrator reading module definitions from
// the given source.
func NewOrchestrator(source ModuleSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source:        source,
		estimator:     tokens.NewEstimator(),
		moduleTimeout: DefaultModuleTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Assemble runs the four-pass assembly for one turn.
//
// Individual module failures never abort the assembly; they yield empty
// contributions with an error annotation. Malformed window types fail the
// assembly with a ConfigError.
func (o *Orchestrator) Assemble(ctx context.Context, cwt *config.ContextWindowType, actx *AssemblyContext) (*AssembledContext, error) {
	if cwt == nil {
		return nil, NewConfigError("", "context_window_type", "window type is required")
	}
	if err := cwt.Validate(); err != nil {
		return nil, NewConfigError(cwt.ID, "context_window_type", err.Error())
	}
	if actx.ModelContextLimit <= 0 {
		return nil, NewConfigError(cwt.ID, "model_context_limit", "must be positive")
	}

	outputReserve := int(math.Floor(float64(actx.ModelContextLimit) * cwt.OutputReservePct / 100))
	actx.OutputReserve = outputReserve
	available := actx.ModelContextLimit - outputReserve

	// Pass 1: resolve active modules.
	active, skipped := o.resolveModules(cwt, actx)
	if len(active) == 0 {
		snap := o.buildSnapshot(cwt, actx, nil, skipped, nil, nil, available, 0, false, false)
		slog.Info(snap.Summary(), "type", cwt.ID, "session", actx.SessionID)
		return &AssembledContext{
			Order:         nil,
			Contributions: map[string]*Contribution{},
			Snapshot:      snap,
		}, nil
	}
	redistributeTargets(active)

	// Pass 2: allocate and contribute, in priority order.
	prev := make(map[string]*Contribution, len(active))
	cancelled := false
	for _, m := range active {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		m.allocated = allocate(available, m)
		actx.PreviousContributions = copyContributions(prev)

		contrib := o.invokeContribute(ctx, m, actx)
		o.normalize(contrib, actx.Provider)
		if over := contrib.TokensUsed - m.allocated; over > 0 {
			if contrib.Metadata == nil {
				contrib.Metadata = map[string]any{}
			}
			contrib.Metadata["over_allocation"] = over
		}

		m.contribution = contrib
		prev[m.id] = contrib
	}

	if cancelled {
		// Pending modules are not invoked and completed contributions are
		// discarded; only the snapshot survives.
		snap := o.buildSnapshot(cwt, actx, active, skipped, nil, nil, available, 0, true, false)
		slog.Warn(snap.Summary(), "type", cwt.ID, "session", actx.SessionID)
		return &AssembledContext{
			Order:         nil,
			Contributions: map[string]*Contribution{},
			Snapshot:      snap,
		}, nil
	}

	// Pass 3: dynamic adjustments. These reshape the budget view only;
	// contribute is never re-invoked.
	fired := o.applyAdjustments(cwt, actx, active, available)

	// Pass 4: condense if over budget.
	total := 0
	for _, m := range active {
		total += m.contribution.TokensUsed
	}
	var events []CondensationEvent
	if total > available {
		total, events = o.condense(ctx, cwt, actx, active, available, total)
	}
	overBudget := total > available

	snap := o.buildSnapshot(cwt, actx, active, skipped, fired, events, available, total, false, overBudget)

	order := make([]string, len(active))
	contributions := make(map[string]*Contribution, len(active))
	for i, m := range active {
		order[i] = m.id
		contributions[m.id] = m.contribution
	}

	slog.Info(snap.Summary(), "type", cwt.ID, "session", actx.SessionID, "turn", actx.TurnNumber)

	return &AssembledContext{
		Order:         order,
		Contributions: contributions,
		Snapshot:      snap,
		TotalTokens:   total,
	}, nil
}

// resolveModules walks the type's modules, skipping inactive, unknown, and
// non-applicable ones, and returns the survivors sorted by descending
// priority (ties broken by id ascending).
func (o *Orchestrator) resolveModules(cwt *config.ContextWindowType, actx *AssemblyContext) ([]*activeModule, []string) {
	var active []*activeModule
	var skipped []string

	for id, ov := range cwt.Modules {
		def, ok := o.source.Definition(id)
		if !ok || def.Handler == nil {
			slog.Warn("Skipping unknown module", "module", id, "type", cwt.ID)
			skipped = append(skipped, id)
			continue
		}

		if ov.Active != nil && !*ov.Active {
			if def.Required {
				slog.Warn("Required module cannot be deactivated, keeping active",
					"module", id, "type", cwt.ID)
			} else {
				skipped = append(skipped, id)
				continue
			}
		}

		if !def.Handler.AppliesTo(actx.ProfileType) {
			skipped = append(skipped, id)
			continue
		}

		m := &activeModule{
			id:          id,
			handler:     def.Handler,
			label:       def.Name,
			abbrev:      def.Abbrev,
			category:    def.Category,
			priority:    def.Defaults.Priority,
			targetPct:   def.Defaults.TargetPct,
			minPct:      def.Defaults.MinPct,
			maxPct:      def.Defaults.MaxPct,
			condensable: def.Capabilities.Condensable,
		}
		if ov.Priority != nil {
			m.priority = *ov.Priority
		}
		if ov.TargetPct != nil {
			m.targetPct = *ov.TargetPct
		}
		if ov.MinPct != nil {
			m.minPct = *ov.MinPct
		}
		if ov.MaxPct != nil {
			m.maxPct = *ov.MaxPct
		}
		active = append(active, m)
	}

	sort.Slice(active, func(i, j int) bool {
		if active[i].priority != active[j].priority {
			return active[i].priority > active[j].priority
		}
		return active[i].id < active[j].id
	})
	sort.Strings(skipped)

	return active, skipped
}

// redistributeTargets renormalizes target percentages so the surviving set
// consumes the full available budget regardless of how many modules were
// skipped.
func redistributeTargets(active []*activeModule) {
	sum := 0.0
	for _, m := range active {
		sum += m.targetPct
	}
	if sum <= 0 {
		return
	}
	for _, m := range active {
		m.targetPct = m.targetPct * 100 / sum
	}
}

// allocate computes a module's token allocation: target share of the
// available budget, clamped to [min, max].
func allocate(available int, m *activeModule) int {
	alloc := int(math.Floor(float64(available) * m.targetPct / 100))
	minTokens := int(math.Floor(float64(available) * m.minPct / 100))
	maxPct := m.maxPct
	if maxPct <= 0 {
		maxPct = 100
	}
	maxTokens := int(math.Floor(float64(available) * maxPct / 100))

	if alloc < minTokens {
		alloc = minTokens
	}
	if alloc > maxTokens {
		alloc = maxTokens
	}
	return alloc
}

// invokeContribute calls the module with the soft per-call timeout. Failures
// and timeouts yield an empty contribution with an error annotation.
func (o *Orchestrator) invokeContribute(ctx context.Context, m *activeModule, actx *AssemblyContext) *Contribution {
	callCtx, cancel := context.WithTimeout(ctx, o.moduleTimeout)
	defer cancel()

	type result struct {
		contrib *Contribution
		err     error
	}
	done := make(chan result, 1)
	go func() {
		c, err := m.handler.Contribute(callCtx, m.allocated, actx)
		done <- result{c, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			merr := NewModuleError(m.id, "contribute", "module failed", res.err)
			slog.Warn("Module contribution failed", "module", m.id, "error", res.err)
			return &Contribution{Metadata: map[string]any{"error": merr.Error()}}
		}
		if res.contrib == nil {
			return &Contribution{}
		}
		return res.contrib
	case <-callCtx.Done():
		terr := NewModuleTimeoutError(m.id, "contribute", o.moduleTimeout.String())
		slog.Warn("Module contribution timed out", "module", m.id, "timeout", o.moduleTimeout)
		return &Contribution{Metadata: map[string]any{"error": terr.Error()}}
	}
}

// normalize enforces the contribution invariants: non-negative token counts
// and tokens_used == 0 iff content is empty.
func (o *Orchestrator) normalize(c *Contribution, provider string) {
	if c.TokensUsed < 0 {
		c.TokensUsed = 0
	}
	if c.Content == "" {
		c.TokensUsed = 0
		return
	}
	if c.TokensUsed == 0 {
		c.TokensUsed = o.estimator.Estimate(c.Content, provider)
	}
}

// applyAdjustments evaluates the dynamic adjustment rules in order and
// applies the actions of those that fire to the in-flight budget view.
func (o *Orchestrator) applyAdjustments(cwt *config.ContextWindowType, actx *AssemblyContext, active []*activeModule, available int) []string {
	if len(cwt.DynamicAdjustments) == 0 {
		return nil
	}

	byID := make(map[string]*activeModule, len(active))
	for _, m := range active {
		byID[m.id] = m
	}

	var fired []string
	for _, adj := range cwt.DynamicAdjustments {
		if !o.conditionMet(adj.Condition, actx, byID) {
			continue
		}

		act := adj.Parsed
		switch act.Kind {
		case config.ActionReduce:
			if m, ok := byID[act.Target]; ok {
				m.targetPct *= 1 - act.ByPct/100
			}
		case config.ActionTransfer:
			from, okFrom := byID[act.From]
			to, okTo := byID[act.To]
			if okFrom && okTo {
				to.targetPct += from.targetPct
				from.targetPct = 0
			}
		case config.ActionForceFull:
			if m, ok := byID[act.Target]; ok {
				m.targetPct = m.maxPct
			}
		}

		fired = append(fired, adj.Condition)
		slog.Debug("Dynamic adjustment fired", "condition", adj.Condition, "kind", act.Kind)
	}

	// Re-derive the budget view Pass 4 reports against.
	for _, m := range active {
		m.allocated = allocate(available, m)
	}

	return fired
}

func (o *Orchestrator) conditionMet(condition string, actx *AssemblyContext, byID map[string]*activeModule) bool {
	switch condition {
	case config.CondFirstTurn:
		return actx.IsFirstTurn
	case config.CondNoDocuments:
		return len(actx.Attachments) == 0
	case config.CondLongConversation:
		return actx.TurnNumber > 10
	case config.CondHighConfidenceRAG:
		m, ok := byID["rag_context"]
		if !ok || m.contribution == nil {
			return false
		}
		return confidenceOf(m.contribution) > config.HighConfidenceRAGThreshold
	default:
		// Unknown conditions are rejected at config load.
		return false
	}
}

// confidenceOf reads the rag_context confidence score, scale [0, 1].
func confidenceOf(c *Contribution) float64 {
	switch v := c.Meta("confidence").(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

// condense walks the condensation order (lowest priority first) shrinking
// contributions until the assembly fits. Condensation never increases
// total usage.
func (o *Orchestrator) condense(ctx context.Context, cwt *config.ContextWindowType, actx *AssemblyContext, active []*activeModule, available, total int) (int, []CondensationEvent) {
	byID := make(map[string]*activeModule, len(active))
	for _, m := range active {
		byID[m.id] = m
	}

	var events []CondensationEvent
	for _, id := range cwt.CondensationOrder {
		if total <= available {
			break
		}

		m, ok := byID[id]
		if !ok {
			// Unknown or inactive ids in the order are ignored.
			continue
		}
		if !m.condensable || m.contribution == nil || m.contribution.Content == "" || !m.contribution.Condensable {
			continue
		}
		condenser, ok := m.handler.(Condenser)
		if !ok {
			continue
		}

		overage := total - available
		target := m.contribution.TokensUsed - overage
		if target < 0 {
			target = 0
		}

		before := m.contribution.TokensUsed
		condensed := o.invokeCondense(ctx, condenser, m, target, actx)
		if condensed == nil {
			continue
		}
		o.normalize(condensed, actx.Provider)
		if condensed.TokensUsed >= before {
			continue
		}

		m.contribution = condensed
		total -= before - condensed.TokensUsed

		events = append(events, CondensationEvent{
			ModuleID:     m.id,
			TokensBefore: before,
			TokensAfter:  condensed.TokensUsed,
			ReductionPct: float64(before-condensed.TokensUsed) / float64(before) * 100,
			Strategy:     strategyOf(condensed),
		})
	}

	if total > available {
		slog.Warn("Condensation order exhausted, still over budget",
			"type", cwt.ID, "total", total, "available", available)
	}
	return total, events
}

func (o *Orchestrator) invokeCondense(ctx context.Context, condenser Condenser, m *activeModule, target int, actx *AssemblyContext) *Contribution {
	callCtx, cancel := context.WithTimeout(ctx, o.moduleTimeout)
	defer cancel()

	type result struct {
		contrib *Contribution
		err     error
	}
	done := make(chan result, 1)
	go func() {
		c, err := condenser.Condense(callCtx, m.contribution.Content, target, actx)
		done <- result{c, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			slog.Warn("Module condensation failed", "module", m.id, "error", res.err)
			return nil
		}
		return res.contrib
	case <-callCtx.Done():
		slog.Warn("Module condensation timed out", "module", m.id, "timeout", o.moduleTimeout)
		return nil
	}
}

func strategyOf(c *Contribution) string {
	if s, ok := c.Meta("strategy").(string); ok {
		return s
	}
	return ""
}

func (o *Orchestrator) buildSnapshot(cwt *config.ContextWindowType, actx *AssemblyContext, active []*activeModule, skipped, fired []string, events []CondensationEvent, available, total int, cancelled, overBudget bool) *Snapshot {
	snap := &Snapshot{
		AssemblyID:         uuid.NewString(),
		Timestamp:          time.Now().UTC(),
		TypeID:             cwt.ID,
		TypeName:           cwt.Name,
		ModelContextLimit:  actx.ModelContextLimit,
		OutputReserve:      actx.OutputReserve,
		AvailableBudget:    available,
		TotalUsed:          total,
		AdjustmentsFired:   fired,
		CondensationEvents: events,
		ProfileType:        actx.ProfileType,
		SkippedModules:     skipped,
		ActiveModuleCount:  len(active),
		SessionID:          actx.SessionID,
		TurnNumber:         actx.TurnNumber,
		Cancelled:          cancelled,
		OverBudget:         overBudget,
	}
	if available > 0 {
		snap.UtilizationPct = float64(total) / float64(available) * 100
	}

	for _, m := range active {
		ms := ModuleSnapshot{
			ModuleID:        m.id,
			Label:           m.label,
			Category:        m.category,
			TokensAllocated: m.allocated,
			IsActive:        true,
			abbrev:          m.abbrev,
		}
		if m.contribution != nil && !cancelled {
			ms.TokensUsed = m.contribution.TokensUsed
			ms.Metadata = m.contribution.Metadata
			if m.allocated > 0 {
				ms.UtilizationPct = float64(ms.TokensUsed) / float64(m.allocated) * 100
			}
		}
		for _, ev := range events {
			if ev.ModuleID == m.id {
				ms.WasCondensed = true
				break
			}
		}
		snap.Modules = append(snap.Modules, ms)
	}

	return snap
}

func copyContributions(src map[string]*Contribution) map[string]*Contribution {
	out := make(map[string]*Contribution, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
