package artifact

import (
	"errors"
	"sync"

	"github.com/agentloop/agentloop/core"
)

// ErrNotFound is returned when the requested artifact or version does not
// exist.
var ErrNotFound = errors.New("artifact not found")

// InMemoryService is a process-local ArtifactService useful for tests,
// examples and single-process prototypes. Every Save appends a new version
// (starting at 1 per name); data is copied on save and load so callers can
// never mutate internal buffers.
//
// It enforces no retention limits or size quotas. For production, prefer a
// durable implementation that survives process restarts.
type InMemoryService struct {
	mu    sync.RWMutex
	store map[core.SessionRef]map[string][]core.Artifact // ref -> name -> versions
}

// NewInMemoryService returns an empty in-memory artifact service.
func NewInMemoryService() *InMemoryService {
	return &InMemoryService{store: make(map[core.SessionRef]map[string][]core.Artifact)}
}

// Save appends a new version of the named artifact and returns its version
// number. The input slice is copied before storage.
func (s *InMemoryService) Save(ref core.SessionRef, name string, data []byte, mimeType string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store[ref] == nil {
		s.store[ref] = make(map[string][]core.Artifact)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	version := len(s.store[ref][name]) + 1
	s.store[ref][name] = append(s.store[ref][name], core.Artifact{
		Name:     name,
		Version:  version,
		Data:     cp,
		MimeType: mimeType,
	})
	return version, nil
}

// Load returns a copy of the requested version, or the latest when
// version <= 0. Missing names or versions yield ErrNotFound.
func (s *InMemoryService) Load(ref core.SessionRef, name string, version int) (*core.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.store[ref][name]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	if version <= 0 {
		version = len(versions)
	}
	if version > len(versions) {
		return nil, ErrNotFound
	}
	stored := versions[version-1]
	cp := make([]byte, len(stored.Data))
	copy(cp, stored.Data)
	return &core.Artifact{
		Name:     stored.Name,
		Version:  stored.Version,
		Data:     cp,
		MimeType: stored.MimeType,
	}, nil
}

// List returns the artifact names stored for the session. The slice is a
// snapshot and safe for caller mutation.
func (s *InMemoryService) List(ref core.SessionRef) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.store[ref]))
	for name := range s.store[ref] {
		names = append(names, name)
	}
	return names, nil
}
