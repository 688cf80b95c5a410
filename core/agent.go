package core

// Agent is the polymorphic execution unit of the runtime. An agent's Run
// produces events through the InvocationContext's emit channel and suspends
// between events until the Runner has committed the previous one (the
// cooperative yield point, see InvocationContext.EmitEvent/WaitForResume).
//
// Implementations must respect context cancellation and must declare every
// agent they directly invoke via the sub-agent hierarchy so the Runner can
// resolve transfers.
type Agent interface {
	Name() string
	Description() string
	Run(ictx *InvocationContext) error
	SubAgents() []Agent
	Parent() Agent
	// FindAgent searches the subtree rooted at this agent (inclusive) for a
	// name, depth first.
	FindAgent(name string) Agent
}
