package core

import (
	"fmt"
	"time"
)

// SharedContext holds cross-stage artifacts. Citations is the run-wide
// registry; Extra carries free-form values such as research feedback.
type SharedContext struct {
	Citations *CitationRegistry `json:"citations"`
	Extra     map[string]string `json:"extra,omitempty"`
}

const (
	extraResearchFeedback = "research_feedback"
	extraOverallOutline   = "overall_outline"
)

// AgentState is the single mutable context of one user turn.
type AgentState struct {
	RunID                 string        `json:"run_id"`
	Input                 string        `json:"input"`
	ResearchPlan          []*PlanItem   `json:"research_plan"`
	WritingPlan           []*PlanItem   `json:"writing_plan"`
	SharedContext         SharedContext `json:"shared_context"`
	CurrentPlanItemID     string        `json:"current_plan_item_id,omitempty"`
	SupervisorDecision    MacroAction   `json:"supervisor_decision"`
	StepCount             int           `json:"step_count"`
	ErrorLog              []ErrorRecord `json:"error_log"`
	FinalAnswer           string        `json:"final_answer,omitempty"`
	FinalSources          []Source      `json:"final_sources,omitempty"`
	IntermediateSteps     []string      `json:"intermediate_steps"`
	ConsecutiveNoProgress int           `json:"consecutive_no_progress"`
	PlanningAttempts      int           `json:"planning_attempts"`
	WritingAttempts       int           `json:"writing_planning_attempts"`
	ReplanNeeded          bool          `json:"replan_needed"`
	Recommendation        *Outcome      `json:"-"`
	StartedAt             time.Time     `json:"started_at"`
}

// NewAgentState creates the state for one turn with an empty citation
// registry numbered from 1.
func NewAgentState(runID, input string) *AgentState {
	return &AgentState{
		RunID:         runID,
		Input:         input,
		SharedContext: SharedContext{Citations: NewCitationRegistry(), Extra: map[string]string{}},
		ErrorLog:      []ErrorRecord{},
		StartedAt:     time.Now().UTC(),
	}
}

// StateUpdate is a partial update returned by a stage. Slice fields are
// appended, non-nil scalar fields replace the current value.
type StateUpdate struct {
	ResearchPlan          []*PlanItem
	WritingPlan           []*PlanItem
	ErrorLog              []ErrorRecord
	IntermediateSteps     []string
	CurrentPlanItemID     *string
	SupervisorDecision    *MacroAction
	FinalAnswer           *string
	ConsecutiveNoProgress *int
	PlanningAttempts      *int
	ReplanNeeded          *bool
}

// Apply merges u into s.
func (s *AgentState) Apply(u StateUpdate) {
	s.ResearchPlan = append(s.ResearchPlan, u.ResearchPlan...)
	s.WritingPlan = append(s.WritingPlan, u.WritingPlan...)
	s.ErrorLog = append(s.ErrorLog, u.ErrorLog...)
	s.IntermediateSteps = append(s.IntermediateSteps, u.IntermediateSteps...)
	if u.CurrentPlanItemID != nil {
		s.CurrentPlanItemID = *u.CurrentPlanItemID
	}
	if u.SupervisorDecision != nil {
		s.SupervisorDecision = *u.SupervisorDecision
	}
	if u.FinalAnswer != nil {
		s.FinalAnswer = *u.FinalAnswer
	}
	if u.ConsecutiveNoProgress != nil {
		s.ConsecutiveNoProgress = *u.ConsecutiveNoProgress
	}
	if u.PlanningAttempts != nil {
		s.PlanningAttempts = *u.PlanningAttempts
	}
	if u.ReplanNeeded != nil {
		s.ReplanNeeded = *u.ReplanNeeded
	}
}

// RecordError appends to the run-wide error log.
func (s *AgentState) RecordError(stage, itemID string, err error) {
	s.Apply(StateUpdate{ErrorLog: []ErrorRecord{{Stage: stage, ItemID: itemID, Error: err.Error()}}})
}

// Step appends a human-readable entry to intermediate_steps.
func (s *AgentState) Step(format string, args ...any) {
	s.Apply(StateUpdate{IntermediateSteps: []string{fmt.Sprintf(format, args...)}})
}

// Item looks an id up in both plans.
func (s *AgentState) Item(id string) *PlanItem {
	if it := FindItem(s.ResearchPlan, id); it != nil {
		return it
	}
	return FindItem(s.WritingPlan, id)
}

func (s *AgentState) setExtra(key, value string) {
	if s.SharedContext.Extra == nil {
		s.SharedContext.Extra = map[string]string{}
	}
	s.SharedContext.Extra[key] = value
}

// IsWritingItem reports whether id names an item of the writing plan.
func (s *AgentState) IsWritingItem(id string) bool {
	return FindItem(s.WritingPlan, id) != nil
}

func ptr[T any](v T) *T { return &v }
