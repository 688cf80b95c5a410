package core

import "sync"

// MutableSession is the live, per-invocation view of a session. It overlays
// uncommitted ("dirty") writes on top of a loaded snapshot so that agents and
// tools cooperating within one invocation see each other's writes before any
// event is committed. Exactly one MutableSession exists per invocation and is
// shared, not copied, across agent transfers.
//
// A dirty write becomes durable only once it is packaged into an event's
// state delta and that event is committed by the Runner; a crash before that
// point loses the write.
//
// All methods serialize on an internal mutex, which is what keeps commits
// atomic and ordered when parallel branches generate events concurrently.
type MutableSession struct {
	mu    sync.Mutex
	base  *Session
	dirty map[string]any
}

// NewMutableSession wraps a session snapshot.
func NewMutableSession(base *Session) *MutableSession {
	return &MutableSession{base: base, dirty: map[string]any{}}
}

// Ref returns the underlying session's identity.
func (ms *MutableSession) Ref() SessionRef { return ms.base.Ref() }

// Get reads a state value, preferring dirty writes over the committed
// snapshot.
func (ms *MutableSession) Get(key string) (any, bool) {
	ms.mu.Lock()
	if v, ok := ms.dirty[key]; ok {
		ms.mu.Unlock()
		return v, true
	}
	ms.mu.Unlock()
	return ms.base.GetState(key)
}

// SetDirty stages an uncommitted write visible to subsequent reads within
// this invocation.
func (ms *MutableSession) SetDirty(key string, value any) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.dirty[key] = value
}

// CommitDelta applies a committed event's state delta to the snapshot and
// retires any matching dirty entries. Called by the Runner once the delta has
// been accepted by the SessionService.
func (ms *MutableSession) CommitDelta(delta map[string]any) {
	if len(delta) == 0 {
		return
	}
	ms.base.ApplyStateDelta(delta)
	ms.mu.Lock()
	for k := range delta {
		delete(ms.dirty, k)
	}
	ms.mu.Unlock()
}

// AppendEvent records a committed event in the live history so later agents
// in the same invocation see it without re-loading from storage.
func (ms *MutableSession) AppendEvent(ev Event) { ms.base.AppendEvent(ev) }

// Events returns the committed event history including events appended
// during this invocation.
func (ms *MutableSession) Events() []Event { return ms.base.EventsSnapshot() }

// ConversationHistory returns model-facing history (see
// Session.ConversationHistory).
func (ms *MutableSession) ConversationHistory() []Event { return ms.base.ConversationHistory() }
