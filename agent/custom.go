package agent

import "github.com/agentloop/agentloop/core"

// RunFunc is the body of a CustomAgent.
type RunFunc func(ic *core.InvocationContext) error

// CustomAgent wraps an arbitrary function as an agent. The function emits
// events through the invocation context like any other agent and may read
// and write session state.
type CustomAgent struct {
	BaseAgent
	run RunFunc
}

// NewCustomAgent creates an agent from a function.
func NewCustomAgent(name string, run RunFunc, children ...core.Agent) *CustomAgent {
	a := &CustomAgent{BaseAgent: NewBaseAgent(name), run: run}
	a.adopt(a, children)
	return a
}

// FindAgent implements core.Agent.
func (c *CustomAgent) FindAgent(name string) core.Agent { return c.findAgent(c, name) }

// Run implements core.Agent.
func (c *CustomAgent) Run(ic *core.InvocationContext) error {
	if c.run == nil {
		return core.NewConfigError("custom agent %s has no run function", c.Name())
	}
	return c.run(ic.ForAgent(c.Name()))
}
