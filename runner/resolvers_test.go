package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop/agentloop/agent"
	"github.com/agentloop/agentloop/core"
)

func TestRootResolver(t *testing.T) {
	root := agent.NewCustomAgent("Root", yieldText("x"))
	got, err := RootResolver{}.Resolve(root, nil, core.Content{})
	require.NoError(t, err)
	assert.Equal(t, root, got.(*agent.CustomAgent))
}

func TestLastAuthorResolver(t *testing.T) {
	child := agent.NewCustomAgent("Child", yieldText("x"))
	root := agent.NewSequentialAgent("Root", child)
	ref := core.SessionRef{AppName: "app", UserID: "u1", SessionID: "s1"}

	t.Run("fresh session falls back to root", func(t *testing.T) {
		sess := core.NewSession(ref)
		got, err := LastAuthorResolver{}.Resolve(root, sess, core.Content{})
		require.NoError(t, err)
		assert.Equal(t, "Root", got.Name())
	})

	t.Run("nil session falls back to root", func(t *testing.T) {
		got, err := LastAuthorResolver{}.Resolve(root, nil, core.Content{})
		require.NoError(t, err)
		assert.Equal(t, "Root", got.Name())
	})

	t.Run("resumes with the last authoring agent", func(t *testing.T) {
		sess := core.NewSession(ref)
		sess.AppendEvent(core.NewUserEvent("inv-1", core.NewTextContent("user", "hi")))
		sess.AppendEvent(core.NewTextEvent("inv-1", "Child", "parked"))
		sess.AppendEvent(core.NewUserEvent("inv-2", core.NewTextContent("user", "continue")))

		got, err := LastAuthorResolver{}.Resolve(root, sess, core.Content{})
		require.NoError(t, err)
		assert.Equal(t, "Child", got.Name())
	})

	t.Run("skips partial events", func(t *testing.T) {
		sess := core.NewSession(ref)
		sess.AppendEvent(core.NewTextEvent("inv-1", "Child", "full"))
		frag := core.NewTextEvent("inv-1", "Ghost", "frag")
		frag.Partial = true
		sess.AppendEvent(frag)

		got, err := LastAuthorResolver{}.Resolve(root, sess, core.Content{})
		require.NoError(t, err)
		assert.Equal(t, "Child", got.Name())
	})

	t.Run("unknown author falls back to root", func(t *testing.T) {
		sess := core.NewSession(ref)
		sess.AppendEvent(core.NewTextEvent("inv-1", "Departed", "bye"))

		got, err := LastAuthorResolver{}.Resolve(root, sess, core.Content{})
		require.NoError(t, err)
		assert.Equal(t, "Root", got.Name())
	})
}
