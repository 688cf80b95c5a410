package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryService_Search(t *testing.T) {
	svc := NewInMemoryService()
	require.NoError(t, svc.Store("app", "u1", "The user prefers dark mode", nil))
	require.NoError(t, svc.Store("app", "u1", "Lives in Berlin", map[string]any{"source": "profile"}))
	require.NoError(t, svc.Store("app", "u1", "Prefers short answers", nil))

	results, err := svc.Search("app", "u1", "prefers", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "The user prefers dark mode", results[0].Content)
	assert.Equal(t, "Prefers short answers", results[1].Content)
	for _, r := range results {
		assert.Equal(t, 1.0, r.Score)
	}
}

func TestInMemoryService_SearchLimit(t *testing.T) {
	svc := NewInMemoryService()
	require.NoError(t, svc.Store("app", "u1", "fact one", nil))
	require.NoError(t, svc.Store("app", "u1", "fact two", nil))
	require.NoError(t, svc.Store("app", "u1", "fact three", nil))

	results, err := svc.Search("app", "u1", "fact", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "fact one", results[0].Content)
	assert.Equal(t, "fact two", results[1].Content)
}

func TestInMemoryService_SearchEmptyQuery(t *testing.T) {
	svc := NewInMemoryService()
	require.NoError(t, svc.Store("app", "u1", "anything", nil))

	results, err := svc.Search("app", "u1", "", 0)
	require.NoError(t, err)
	assert.Len(t, results, 1, "empty query matches all entries")
}

func TestInMemoryService_ScopeIsolation(t *testing.T) {
	svc := NewInMemoryService()
	require.NoError(t, svc.Store("app", "u1", "private note", nil))

	results, err := svc.Search("app", "u2", "private", 0)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = svc.Search("other-app", "u1", "private", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestInMemoryService_MetadataCopied(t *testing.T) {
	svc := NewInMemoryService()
	md := map[string]any{"tag": "original"}
	require.NoError(t, svc.Store("app", "u1", "tagged entry", md))
	md["tag"] = "mutated"

	results, err := svc.Search("app", "u1", "tagged", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "original", results[0].Metadata["tag"])

	results[0].Metadata["tag"] = "changed again"
	again, err := svc.Search("app", "u1", "tagged", 0)
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].Metadata["tag"])
}
