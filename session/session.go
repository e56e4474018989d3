package session

import (
	"errors"
	"time"

	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/agent/core"
)

var (
	ErrNotFound = errors.New("session not found")
	// ErrBusy is returned when a turn is already running on the session.
	ErrBusy = errors.New("session has a turn in progress")
)

// Store keeps sessions for the lifetime of the process. Nothing is durable.
type Store interface {
	// EnsureSession returns the session for id, creating one with a fresh id
	// when id is empty or unknown. The expiry is pushed out by ttl.
	EnsureSession(id string, ttl time.Duration) (Session, error)
	GetSession(id string) (Session, error)
	// Sweep drops sessions that expired before now and are not busy.
	Sweep(now time.Time) int
	Len() int
}

// Session serializes turns. Begin and End bracket one turn.
type Session interface {
	ID() string
	Expire(ttl time.Duration)
	ExpiresAt() time.Time
	Begin() error
	End(st *core.AgentState)
	Last() *core.AgentState
	Turns() int
}
