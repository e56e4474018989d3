package inmemory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/agent/core"
	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/session"
)

type Store struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

func NewInMemorySessionStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

func (store *Store) EnsureSession(id string, ttl time.Duration) (session.Session, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if id != "" {
		if sess, ok := store.sessions[id]; ok {
			sess.Expire(ttl)
			return sess, nil
		}
	}

	sess := newSession(uuid.NewString(), ttl)
	store.sessions[sess.ID()] = sess
	return sess, nil
}

func (store *Store) GetSession(id string) (session.Session, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()
	sess, ok := store.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return sess, nil
}

func (store *Store) Sweep(now time.Time) int {
	store.mu.Lock()
	defer store.mu.Unlock()
	n := 0
	for id, sess := range store.sessions {
		if sess.expired(now) {
			delete(store.sessions, id)
			n++
		}
	}
	return n
}

func (store *Store) Len() int {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return len(store.sessions)
}

type Session struct {
	id        string
	mu        sync.Mutex
	expiresAt time.Time
	busy      bool
	last      *core.AgentState
	turns     int
}

func newSession(id string, ttl time.Duration) *Session {
	return &Session{id: id, expiresAt: time.Now().Add(ttl)}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Expire(ttl time.Duration) {
	s.mu.Lock()
	s.expiresAt = time.Now().Add(ttl)
	s.mu.Unlock()
}

func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return session.ErrBusy
	}
	s.busy = true
	return nil
}

// End releases the session and keeps st as the latest turn.
func (s *Session) End(st *core.AgentState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if st != nil {
		s.last = st
		s.turns++
	}
}

func (s *Session) Last() *core.AgentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Session) Turns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns
}

func (s *Session) expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.busy && now.After(s.expiresAt)
}

var (
	_ session.Store   = (*Store)(nil)
	_ session.Session = (*Session)(nil)
)
