package inmemory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/internal/agent/core"
	"github.com/LordFoxFairy/deepseek-deepsearch-quickstart/session"
)

func TestEnsureSessionReusesKnownID(t *testing.T) {
	store := NewInMemorySessionStore()
	a, err := store.EnsureSession("", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, a.ID())

	b, err := store.EnsureSession(a.ID(), time.Hour)
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := store.EnsureSession("unknown", time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, "unknown", c.ID())
	assert.Equal(t, 2, store.Len())
}

func TestGetSessionMissing(t *testing.T) {
	_, err := NewInMemorySessionStore().GetSession("nope")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestBeginRejectsConcurrentTurn(t *testing.T) {
	sess := newSession("s", time.Hour)
	require.NoError(t, sess.Begin())
	assert.ErrorIs(t, sess.Begin(), session.ErrBusy)

	st := core.NewAgentState("run", "q")
	sess.End(st)
	assert.Same(t, st, sess.Last())
	assert.Equal(t, 1, sess.Turns())
	assert.NoError(t, sess.Begin())
}

func TestSweepKeepsBusyAndLiveSessions(t *testing.T) {
	store := NewInMemorySessionStore()
	expired, _ := store.EnsureSession("", -time.Minute)
	busy, _ := store.EnsureSession("", -time.Minute)
	require.NoError(t, busy.Begin())
	live, _ := store.EnsureSession("", time.Hour)

	assert.Equal(t, 1, store.Sweep(time.Now()))

	_, err := store.GetSession(expired.ID())
	assert.ErrorIs(t, err, session.ErrNotFound)
	_, err = store.GetSession(busy.ID())
	assert.NoError(t, err)
	_, err = store.GetSession(live.ID())
	assert.NoError(t, err)
}
