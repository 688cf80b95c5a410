package session

import (
	"fmt"
	"sync"

	"github.com/agentloop/agentloop/core"
)

// ErrNotFound is returned when the referenced session does not exist.
var ErrNotFound = fmt.Errorf("session not found")

// InMemoryService is a volatile SessionService keeping sessions in process
// local maps. Safe for concurrent access; each returned session is a merged
// snapshot, so external mutation cannot corrupt internal state.
//
// State routing: bare keys live on the session, user: keys are shared across
// all sessions of a user, app: keys across all users of the app. temp: keys
// are silently dropped, they must never reach storage.
type InMemoryService struct {
	mu       sync.RWMutex
	sessions map[core.SessionRef]*core.Session
	userKV   map[string]map[string]any // appName/userID -> key -> value
	appKV    map[string]map[string]any // appName -> key -> value
}

// NewInMemoryService constructs an empty in-memory session service.
func NewInMemoryService() *InMemoryService {
	return &InMemoryService{
		sessions: make(map[core.SessionRef]*core.Session),
		userKV:   make(map[string]map[string]any),
		appKV:    make(map[string]map[string]any),
	}
}

// Create allocates a new empty session. Creating an existing ref is an error.
func (s *InMemoryService) Create(ref core.SessionRef) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[ref]; exists {
		return nil, fmt.Errorf("session %s already exists", ref.SessionID)
	}
	s.sessions[ref] = core.NewSession(ref)
	return s.snapshotLocked(ref)
}

// Get returns a merged snapshot of the session, or ErrNotFound.
func (s *InMemoryService) Get(ref core.SessionRef) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(ref)
}

// List enumerates session refs for one app/user pair.
func (s *InMemoryService) List(appName, userID string) ([]core.SessionRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	refs := []core.SessionRef{}
	for ref := range s.sessions {
		if ref.AppName == appName && ref.UserID == userID {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// Delete removes a session. Scoped user/app state is untouched.
func (s *InMemoryService) Delete(ref core.SessionRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[ref]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, ref)
	return nil
}

// AppendEvent adds an event to the session history.
func (s *InMemoryService) AppendEvent(ref core.SessionRef, ev core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[ref]
	if !ok {
		return ErrNotFound
	}
	sess.AppendEvent(ev)
	return nil
}

// ApplyStateDelta routes each key to its scope's store. temp: keys are
// dropped.
func (s *InMemoryService) ApplyStateDelta(ref core.SessionRef, delta map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[ref]
	if !ok {
		return ErrNotFound
	}
	local := map[string]any{}
	for k, v := range delta {
		switch {
		case core.IsTempKey(k):
		case core.IsUserKey(k):
			userKey := ref.AppName + "/" + ref.UserID
			if s.userKV[userKey] == nil {
				s.userKV[userKey] = map[string]any{}
			}
			s.userKV[userKey][k] = v
		case core.IsAppKey(k):
			if s.appKV[ref.AppName] == nil {
				s.appKV[ref.AppName] = map[string]any{}
			}
			s.appKV[ref.AppName][k] = v
		default:
			local[k] = v
		}
	}
	if len(local) > 0 {
		sess.ApplyStateDelta(local)
	}
	return nil
}

// snapshotLocked clones the stored session and merges in the scoped state
// visible to it. Caller holds at least the read lock.
func (s *InMemoryService) snapshotLocked(ref core.SessionRef) (*core.Session, error) {
	sess, ok := s.sessions[ref]
	if !ok {
		return nil, ErrNotFound
	}
	snap := sess.Clone()
	merged := map[string]any{}
	for k, v := range s.appKV[ref.AppName] {
		merged[k] = v
	}
	for k, v := range s.userKV[ref.AppName+"/"+ref.UserID] {
		merged[k] = v
	}
	if len(merged) > 0 {
		snap.ApplyStateDelta(merged)
	}
	return snap, nil
}
