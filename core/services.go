package core

// Artifact is one stored version of named binary content.
type Artifact struct {
	Name     string
	Version  int
	Data     []byte
	MimeType string
}

// ArtifactService stores versioned binary artifacts scoped to a session.
// Save returns the version written (starting at 1 per name). Load with
// version <= 0 returns the latest.
type ArtifactService interface {
	Save(ref SessionRef, name string, data []byte, mimeType string) (int, error)
	Load(ref SessionRef, name string, version int) (*Artifact, error)
	List(ref SessionRef) ([]string, error)
}

// MemoryEntry is one recalled item from long-term memory.
type MemoryEntry struct {
	Content  string
	Metadata map[string]any
	Score    float64
}

// MemoryService provides read access to long-term memory plus an ingestion
// hook. The execution core only searches; populating memory is an
// application concern.
type MemoryService interface {
	Search(appName, userID, query string, limit int) ([]MemoryEntry, error)
	Store(appName, userID, content string, metadata map[string]any) error
}
