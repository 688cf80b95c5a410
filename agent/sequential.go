package agent

import (
	"fmt"

	"github.com/agentloop/agentloop/core"
)

// SequentialAgent executes its children one after another over the shared
// session, so each child sees the committed output of the previous one. The
// first child error stops the sequence.
type SequentialAgent struct {
	BaseAgent
}

// NewSequentialAgent creates an ordered execution coordinator.
func NewSequentialAgent(name string, children ...core.Agent) *SequentialAgent {
	a := &SequentialAgent{BaseAgent: NewBaseAgent(name)}
	a.adopt(a, children)
	return a
}

// FindAgent implements core.Agent.
func (s *SequentialAgent) FindAgent(name string) core.Agent { return s.findAgent(s, name) }

// Run implements core.Agent.
func (s *SequentialAgent) Run(ic *core.InvocationContext) error {
	for _, child := range s.SubAgents() {
		if err := ic.Err(); err != nil {
			return err
		}
		if err := child.Run(ic.ForAgent(child.Name())); err != nil {
			return fmt.Errorf("sequential step %s failed: %w", child.Name(), err)
		}
	}
	return nil
}
