package memory

import (
	"strings"
	"sync"

	"github.com/agentloop/agentloop/core"
)

// InMemoryService is a naive process-local MemoryService. Entries are
// scoped per app/user pair and searched with a linear substring scan that
// assigns every hit a constant score of 1.0. Suitable for tests and demos;
// swap for a vector store or semantic index for production retrieval.
type InMemoryService struct {
	mu      sync.RWMutex
	entries map[string][]core.MemoryEntry // appName/userID -> stored entries
}

// NewInMemoryService creates an empty in-memory memory service.
func NewInMemoryService() *InMemoryService {
	return &InMemoryService{entries: make(map[string][]core.MemoryEntry)}
}

func scopeKey(appName, userID string) string {
	return appName + "/" + userID
}

// Search performs a case-insensitive substring match over stored entries,
// returned in insertion order up to limit. limit <= 0 means no limit.
func (s *InMemoryService) Search(appName, userID, query string, limit int) ([]core.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(query)
	results := []core.MemoryEntry{}
	for _, stored := range s.entries[scopeKey(appName, userID)] {
		if limit > 0 && len(results) >= limit {
			break
		}
		if query != "" && !strings.Contains(strings.ToLower(stored.Content), needle) {
			continue
		}
		md := make(map[string]any, len(stored.Metadata))
		for k, v := range stored.Metadata {
			md[k] = v
		}
		results = append(results, core.MemoryEntry{
			Content:  stored.Content,
			Metadata: md,
			Score:    1.0,
		})
	}
	return results, nil
}

// Store appends a new memory entry for the app/user pair.
func (s *InMemoryService) Store(appName, userID, content string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	md := make(map[string]any, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	key := scopeKey(appName, userID)
	s.entries[key] = append(s.entries[key], core.MemoryEntry{
		Content:  content,
		Metadata: md,
	})
	return nil
}
