package badger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/session"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := New(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func ref(sessionID string) core.SessionRef {
	return core.SessionRef{AppName: "app", UserID: "u1", SessionID: sessionID}
}

func TestNew_RequiresDir(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestService_CreateGetDelete(t *testing.T) {
	svc := newTestService(t)

	sess, err := svc.Create(ref("s1"))
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID)
	assert.Equal(t, "app", sess.AppName)

	_, err = svc.Create(ref("s1"))
	require.Error(t, err, "duplicate create must fail")

	_, err = svc.Get(ref("missing"))
	assert.ErrorIs(t, err, session.ErrNotFound)

	require.NoError(t, svc.Delete(ref("s1")))
	_, err = svc.Get(ref("s1"))
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ref("s1")), session.ErrNotFound)
}

func TestService_List(t *testing.T) {
	svc := newTestService(t)
	_, _ = svc.Create(ref("s1"))
	_, _ = svc.Create(ref("s2"))
	_, _ = svc.Create(core.SessionRef{AppName: "app", UserID: "u2", SessionID: "other"})

	refs, err := svc.List("app", "u1")
	require.NoError(t, err)
	require.Len(t, refs, 2)
	ids := map[string]bool{}
	for _, r := range refs {
		ids[r.SessionID] = true
		assert.Equal(t, "app", r.AppName)
		assert.Equal(t, "u1", r.UserID)
	}
	assert.Equal(t, map[string]bool{"s1": true, "s2": true}, ids)

	refs, err = svc.List("app", "nobody")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestService_AppendEventRoundTrip(t *testing.T) {
	svc := newTestService(t)
	_, _ = svc.Create(ref("s1"))

	ev := core.NewTextEvent("inv-1", "agent", "hello")
	ev.Actions.StateDelta = map[string]any{"k": "v"}
	require.NoError(t, svc.AppendEvent(ref("s1"), ev))
	require.NoError(t, svc.AppendEvent(ref("s1"), core.NewTextEvent("inv-1", "agent", "again")))

	got, err := svc.Get(ref("s1"))
	require.NoError(t, err)
	events := got.EventsSnapshot()
	require.Len(t, events, 2)
	assert.Equal(t, ev.ID, events[0].ID)
	assert.Equal(t, "agent", events[0].Author)
	assert.Equal(t, "v", events[0].Actions.StateDelta["k"])

	assert.ErrorIs(t, svc.AppendEvent(ref("missing"), core.Event{}), session.ErrNotFound)
}

func TestService_StateRouting(t *testing.T) {
	svc := newTestService(t)
	_, _ = svc.Create(ref("s1"))

	err := svc.ApplyStateDelta(ref("s1"), map[string]any{
		"local":     "here",
		"user:lang": "en",
		"app:theme": "dark",
		"temp:gone": true,
	})
	require.NoError(t, err)

	got, _ := svc.Get(ref("s1"))
	v, _ := got.GetState("local")
	assert.Equal(t, "here", v)
	v, _ = got.GetState("user:lang")
	assert.Equal(t, "en", v)
	v, _ = got.GetState("app:theme")
	assert.Equal(t, "dark", v)
	_, ok := got.GetState("temp:gone")
	assert.False(t, ok, "temp keys must never persist")

	// Scoped state is shared with other sessions.
	_, _ = svc.Create(ref("s2"))
	other, _ := svc.Get(ref("s2"))
	v, _ = other.GetState("user:lang")
	assert.Equal(t, "en", v)
	_, ok = other.GetState("local")
	assert.False(t, ok)

	stranger := core.SessionRef{AppName: "app", UserID: "u2", SessionID: "s9"}
	_, _ = svc.Create(stranger)
	theirSession, _ := svc.Get(stranger)
	v, _ = theirSession.GetState("app:theme")
	assert.Equal(t, "dark", v)
	_, ok = theirSession.GetState("user:lang")
	assert.False(t, ok)
}

func TestService_ScopedOnlyDelta(t *testing.T) {
	svc := newTestService(t)
	_, _ = svc.Create(ref("s1"))

	require.NoError(t, svc.ApplyStateDelta(ref("s1"), map[string]any{"user:only": 1}))

	got, err := svc.Get(ref("s1"))
	require.NoError(t, err)
	v, ok := got.GetState("user:only")
	require.True(t, ok)
	assert.Equal(t, float64(1), v, "numbers round-trip as JSON numbers")
}
