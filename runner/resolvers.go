package runner

import "github.com/agentloop/agentloop/core"

// AgentResolver picks the agent that handles a new invocation, given the
// agent tree, the stored session, and the incoming content.
type AgentResolver interface {
	Resolve(root core.Agent, sess *core.Session, content core.Content) (core.Agent, error)
}

// RootResolver always dispatches the root agent. The default.
type RootResolver struct{}

// Resolve implements AgentResolver.
func (RootResolver) Resolve(root core.Agent, _ *core.Session, _ core.Content) (core.Agent, error) {
	return root, nil
}

// LastAuthorResolver continues the conversation with the agent that authored
// the most recent committed event, falling back to the root when the session
// is fresh or the author has left the tree. Useful for resuming long-running
// tool turns with the agent that parked them.
type LastAuthorResolver struct{}

// Resolve implements AgentResolver.
func (LastAuthorResolver) Resolve(root core.Agent, sess *core.Session, _ core.Content) (core.Agent, error) {
	if sess == nil {
		return root, nil
	}
	events := sess.EventsSnapshot()
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.Partial || ev.Author == core.UserAuthor {
			continue
		}
		if found := root.FindAgent(ev.Author); found != nil {
			return found, nil
		}
	}
	return root, nil
}
