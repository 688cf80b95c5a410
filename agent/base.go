package agent

import (
	"fmt"
	"sync"

	"github.com/agentloop/agentloop/core"
)

// BaseAgent bundles identity and hierarchy management shared by all agent
// implementations. Embed it and supply Run to satisfy core.Agent. Exported
// methods are goroutine-safe.
type BaseAgent struct {
	name        string
	description string
	mu          sync.Mutex
	parent      core.Agent
	subAgents   []core.Agent
}

// NewBaseAgent constructs a BaseAgent with a default description.
func NewBaseAgent(name string) BaseAgent {
	return BaseAgent{
		name:        name,
		description: fmt.Sprintf("Agent %s", name),
	}
}

// Name returns the agent's unique name.
func (b *BaseAgent) Name() string { return b.name }

// Description returns the agent's purpose description, shown to sibling
// agents when routing transfers.
func (b *BaseAgent) Description() string { return b.description }

// SetDescription updates the agent's description.
func (b *BaseAgent) SetDescription(desc string) { b.description = desc }

// parentSetter is implemented by embedders via BaseAgent.
type parentSetter interface{ setParent(core.Agent) }

// adopt records children on this base and links their parent references to
// owner, which must be the embedding agent.
func (b *BaseAgent) adopt(owner core.Agent, children []core.Agent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, child := range b.subAgents {
		if setter, ok := child.(parentSetter); ok {
			setter.setParent(nil)
		}
	}
	b.subAgents = nil
	for _, child := range children {
		if setter, ok := child.(parentSetter); ok {
			setter.setParent(owner)
		}
		b.subAgents = append(b.subAgents, child)
	}
}

func (b *BaseAgent) setParent(p core.Agent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parent = p
}

// Parent returns the parent agent, or nil for a root agent.
func (b *BaseAgent) Parent() core.Agent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parent
}

// SubAgents returns a copy of the child agent list.
func (b *BaseAgent) SubAgents() []core.Agent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]core.Agent, len(b.subAgents))
	copy(out, b.subAgents)
	return out
}

// findIn searches the subtree below this base, excluding the base itself
// (the embedding agent handles the self match).
func (b *BaseAgent) findIn(name string) core.Agent {
	for _, child := range b.SubAgents() {
		if child.Name() == name {
			return child
		}
		if found := child.FindAgent(name); found != nil {
			return found
		}
	}
	return nil
}

// findAgent implements the depth-first search for an embedding agent self.
func (b *BaseAgent) findAgent(self core.Agent, name string) core.Agent {
	if b.name == name {
		return self
	}
	return b.findIn(name)
}

// buildBranchPath composes a hierarchical branch identifier. An empty parent
// returns child and vice versa.
func buildBranchPath(parent, child string) string {
	if parent == "" {
		return child
	}
	if child == "" {
		return parent
	}
	return parent + "." + child
}
