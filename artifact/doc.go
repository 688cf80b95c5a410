// Package artifact provides ArtifactService implementations for versioned
// binary content scoped to a session.
package artifact
