package server

import (
	"time"

	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/agent/core"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// ChatRequest starts one research turn.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// SessionResponse describes a session and its latest turn.
type SessionResponse struct {
	SessionID string        `json:"session_id"`
	Turns     int           `json:"turns"`
	ExpiresAt time.Time     `json:"expires_at"`
	Last      *TurnSnapshot `json:"last,omitempty"`
}

// TurnSnapshot is the outcome of a finished turn.
type TurnSnapshot struct {
	RunID       string        `json:"run_id"`
	Input       string        `json:"input"`
	Outcome     string        `json:"outcome"`
	StepCount   int           `json:"step_count"`
	FinalAnswer string        `json:"final_answer"`
	Sources     []core.Source `json:"sources"`
	Errors      int           `json:"errors"`
}

func snapshotOf(st *core.AgentState) *TurnSnapshot {
	if st == nil {
		return nil
	}
	return &TurnSnapshot{
		RunID:       st.RunID,
		Input:       st.Input,
		Outcome:     st.SupervisorDecision.String(),
		StepCount:   st.StepCount,
		FinalAnswer: st.FinalAnswer,
		Sources:     st.FinalSources,
		Errors:      len(st.ErrorLog),
	}
}
