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
	"time"

	"github.com/google/uuid"
)

// Strategy outcome classes.
const (
	StrategySuccessful     = "successful"
	StrategyFailed         = "failed"
	StrategyConversational = "conversational"
)

// Repository types.
const (
	RepositoryPlanner   = "planner"
	RepositoryKnowledge = "knowledge"
)

// Phase id used when a turn was answered straight from history; such turns
// are not worth indexing as strategies.
const contextReportPhase = "TDA_ContextReport"

// Case is one indexed strategy record, persisted as a JSON file and mirrored
// into the collection's vector index.
type Case struct {
	ID           string `json:"id"`
	CollectionID string `json:"collection_id"`
	UserUUID     string `json:"user_uuid"`
	UserQuery    string `json:"user_query"`
	StrategyType string `json:"strategy_type"`

	// Payload.
	Intent   string         `json:"intent,omitempty"`
	Strategy map[string]any `json:"strategy,omitempty"`
	Metrics  map[string]any `json:"metrics,omitempty"`

	// Scalar metadata, mirrored into the vector index.
	IsMostEfficient         bool      `json:"is_most_efficient"`
	UserFeedbackScore       int       `json:"user_feedback_score"`
	OutputTokens            int       `json:"output_tokens"`
	HadPlanImprovements     bool      `json:"had_plan_improvements"`
	HadTacticalImprovements bool      `json:"had_tactical_improvements"`
	HasOrchestration        bool      `json:"has_orchestration"`
	Timestamp               time.Time `json:"timestamp"`
}

// IndexMetadata returns the flat scalar metadata stored in the vector index
// alongside the query embedding.
func (c *Case) IndexMetadata() map[string]any {
	return map[string]any{
		"collection_id":             c.CollectionID,
		"user_uuid":                 c.UserUUID,
		"strategy_type":             c.StrategyType,
		"is_most_efficient":         c.IsMostEfficient,
		"user_feedback_score":       c.UserFeedbackScore,
		"output_tokens":             c.OutputTokens,
		"had_plan_improvements":     c.HadPlanImprovements,
		"had_tactical_improvements": c.HadTacticalImprovements,
		"has_orchestration":         c.HasOrchestration,
		"timestamp":                 c.Timestamp.Unix(),
	}
}

// StrategyText renders the case's strategy payload for prompt inclusion.
func (c *Case) StrategyText() string {
	if len(c.Strategy) == 0 {
		return c.Intent
	}
	data, err := json.MarshalIndent(c.Strategy, "", "  ")
	if err != nil {
		return c.Intent
	}
	return string(data)
}

// CaseID derives the stable case id from a session and turn.
func CaseID(sessionID, turnID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(sessionID+":"+turnID)).String()
}

// Phase is one planned step of a turn's strategy.
type Phase struct {
	ID               string `json:"id"`
	Tool             string `json:"tool,omitempty"`
	Required         bool   `json:"required"`
	CompletedActions int    `json:"completed_actions"`
}

// TraceEntry is one recorded execution event of a turn.
type TraceEntry struct {
	Phase         string `json:"phase,omitempty"`
	Tool          string `json:"tool,omitempty"`
	Error         string `json:"error,omitempty"`
	Unrecoverable bool   `json:"unrecoverable,omitempty"`
	Succeeded     bool   `json:"succeeded"`
}

// TurnSummary is the completed-turn record the feedback pipeline consumes.
type TurnSummary struct {
	SessionID string `json:"session_id"`
	TurnID    string `json:"turn_id"`
	UserID    string `json:"user_id"`
	UserQuery string `json:"user_query"`

	OriginalPlan []Phase      `json:"original_plan,omitempty"`
	Trace        []TraceEntry `json:"trace,omitempty"`

	Intent   string         `json:"intent,omitempty"`
	Strategy map[string]any `json:"strategy,omitempty"`
	Metrics  map[string]any `json:"metrics,omitempty"`

	OutputTokens            int  `json:"output_tokens"`
	FeedbackScore           int  `json:"feedback_score"`
	HadPlanImprovements     bool `json:"had_plan_improvements"`
	HadTacticalImprovements bool `json:"had_tactical_improvements"`
	HasOrchestration        bool `json:"has_orchestration"`
	Conversational          bool `json:"conversational"`
}

// ExtractCase derives a case from a completed turn, classifying it as
// successful, failed, or nil (not indexable). The successful classification
// is strict: a partial or shortcut execution never becomes a retrievable
// strategy.
func ExtractCase(summary *TurnSummary, collectionID string) *Case {
	if summary == nil || summary.UserQuery == "" || summary.Conversational {
		return nil
	}

	base := &Case{
		ID:                      CaseID(summary.SessionID, summary.TurnID),
		CollectionID:            collectionID,
		UserUUID:                summary.UserID,
		UserQuery:               summary.UserQuery,
		Intent:                  summary.Intent,
		Strategy:                summary.Strategy,
		Metrics:                 summary.Metrics,
		UserFeedbackScore:       clampFeedback(summary.FeedbackScore),
		OutputTokens:            summary.OutputTokens,
		HadPlanImprovements:     summary.HadPlanImprovements,
		HadTacticalImprovements: summary.HadTacticalImprovements,
		HasOrchestration:        summary.HasOrchestration,
		Timestamp:               time.Now().UTC(),
	}

	if turnSucceeded(summary) {
		base.StrategyType = StrategySuccessful
	} else {
		// Stored for analysis, excluded from retrieval.
		base.StrategyType = StrategyFailed
	}
	return base
}

// turnSucceeded applies the strict success rules.
func turnSucceeded(summary *TurnSummary) bool {
	// A non-empty plan with at least one valid phase.
	validPhases := 0
	for _, p := range summary.OriginalPlan {
		if p.ID == "" {
			continue
		}
		if p.ID == contextReportPhase || p.Tool == contextReportPhase {
			return false
		}
		validPhases++
	}
	if validPhases == 0 {
		return false
	}

	// No unrecoverable error in the trace.
	anySucceeded := false
	for _, t := range summary.Trace {
		if t.Unrecoverable {
			return false
		}
		if t.Succeeded {
			anySucceeded = true
		}
	}

	// Every required phase completed, unless orchestration ran and at least
	// one action succeeded.
	for _, p := range summary.OriginalPlan {
		if p.ID == "" || !p.Required {
			continue
		}
		if p.CompletedActions == 0 {
			if summary.HasOrchestration && anySucceeded {
				continue
			}
			return false
		}
	}
	return true
}

func clampFeedback(score int) int {
	if score < -1 {
		return -1
	}
	if score > 1 {
		return 1
	}
	return score
}
