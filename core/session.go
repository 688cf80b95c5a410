package core

import (
	"sync"
	"time"
)

// SessionRef identifies a session within a SessionService.
type SessionRef struct {
	AppName   string `json:"app_name"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// Session is the persisted conversational container: ordered event history
// plus merged key/value state (session-local keys together with the user: and
// app: scoped entries visible to it). Sessions returned by a SessionService
// are snapshots; mutation happens only through committed state deltas.
type Session struct {
	ID      string         `json:"id"`
	AppName string         `json:"app_name"`
	UserID  string         `json:"user_id"`
	State   map[string]any `json:"state"`
	Events  []Event        `json:"events"`
	Created time.Time      `json:"created"`
	Updated time.Time      `json:"updated"`

	mu sync.RWMutex
}

// NewSession creates an empty session.
func NewSession(ref SessionRef) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:      ref.SessionID,
		AppName: ref.AppName,
		UserID:  ref.UserID,
		State:   map[string]any{},
		Created: now,
		Updated: now,
	}
}

// Ref returns the identifying triple for this session.
func (s *Session) Ref() SessionRef {
	return SessionRef{AppName: s.AppName, UserID: s.UserID, SessionID: s.ID}
}

// GetState returns a state value and whether it exists.
func (s *Session) GetState(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.State[key]
	return v, ok
}

// ApplyStateDelta merges delta into the session state.
func (s *Session) ApplyStateDelta(delta map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range delta {
		s.State[k] = v
	}
	s.Updated = time.Now().UTC()
}

// AppendEvent appends to the event history.
func (s *Session) AppendEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, ev)
	s.Updated = time.Now().UTC()
}

// EventsSnapshot returns a copy of the event history.
func (s *Session) EventsSnapshot() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.Events))
	copy(out, s.Events)
	return out
}

// ConversationHistory returns committed events carrying conversational
// content (user/assistant/tool roles), excluding partial fragments.
func (s *Session) ConversationHistory() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	allowed := map[string]bool{"user": true, "assistant": true, "tool": true}
	out := make([]Event, 0, len(s.Events))
	for _, ev := range s.Events {
		if ev.Content == nil || !allowed[ev.Content.Role] || ev.Partial {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Clone deep-copies the session (state map and event slice).
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &Session{
		ID:      s.ID,
		AppName: s.AppName,
		UserID:  s.UserID,
		State:   make(map[string]any, len(s.State)),
		Events:  make([]Event, len(s.Events)),
		Created: s.Created,
		Updated: s.Updated,
	}
	for k, v := range s.State {
		clone.State[k] = v
	}
	copy(clone.Events, s.Events)
	return clone
}

// SessionService persists sessions and their evolving state and history.
// ApplyStateDelta is assumed atomic per call; implementations route scoped
// keys (user:, app:) to their wider namespaces and must never persist temp:
// keys.
type SessionService interface {
	Create(ref SessionRef) (*Session, error)
	Get(ref SessionRef) (*Session, error)
	List(appName, userID string) ([]SessionRef, error)
	Delete(ref SessionRef) error
	AppendEvent(ref SessionRef, ev Event) error
	ApplyStateDelta(ref SessionRef, delta map[string]any) error
}
