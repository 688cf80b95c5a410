package agent

import (
	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/flow"
	"github.com/agentloop/agentloop/model"
	"github.com/agentloop/agentloop/tool"
)

// LLMAgentOptions configure an LLMAgent. Use functional options with
// NewLLMAgent to override defaults.
type LLMAgentOptions struct {
	// Description is shown to peer agents when they decide where to transfer.
	Description string
	// Instruction becomes the system prompt, after template expansion.
	Instruction Instruction
	// Tools the model may call.
	Tools []tool.Tool
	// SubAgents reachable from this agent, for delegation and transfer.
	SubAgents []core.Agent
	// OutputKey saves the final response text (or parsed document when
	// OutputSchema is set) into session state under this key.
	OutputKey string
	// OutputSchema constrains the final response to a JSON document.
	OutputSchema map[string]any
	// MaxIterations caps model turns per invocation.
	MaxIterations int
	// MaxRetries caps repeated attempts after model errors.
	MaxRetries int
	// MaxHistoryMessages caps conversation history sent to the model.
	MaxHistoryMessages int
	// Streaming forwards partial model output as partial events.
	Streaming bool
	// DisallowTransferToParent removes the parent from transfer targets.
	DisallowTransferToParent bool
	// DisallowTransferToPeers removes sibling agents from transfer targets.
	DisallowTransferToPeers bool
	// MaxParallelTools bounds concurrent tool execution; 0 means unbounded.
	MaxParallelTools int
}

// LLMAgent is the model-driven conversational agent. Each Run performs the
// request -> model -> tool loop until the model produces a final response,
// requests a transfer, escalates, or parks on long-running tools.
type LLMAgent struct {
	BaseAgent
	llm  model.Model
	opts LLMAgentOptions

	tools map[string]tool.Tool
}

// NewLLMAgent creates a model-backed agent.
//
// Defaults: streaming on, 100 model turns, no retries, 20 history messages,
// transfer to parent and peers allowed.
func NewLLMAgent(name string, llm model.Model, optFns ...func(o *LLMAgentOptions)) *LLMAgent {
	opts := LLMAgentOptions{
		Instruction:        NewInstructionFromText("You are " + name + ", a helpful AI assistant."),
		MaxIterations:      100,
		MaxHistoryMessages: 20,
		Streaming:          true,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	a := &LLMAgent{
		BaseAgent: NewBaseAgent(name),
		llm:       llm,
		opts:      opts,
		tools:     make(map[string]tool.Tool, len(opts.Tools)),
	}
	if opts.Description != "" {
		a.SetDescription(opts.Description)
	}
	for _, t := range opts.Tools {
		a.tools[t.Name()] = t
	}
	a.adopt(a, opts.SubAgents)
	return a
}

// RegisterTool adds a tool to the agent's capability set.
func (a *LLMAgent) RegisterTool(t tool.Tool) { a.tools[t.Name()] = t }

// RegisterTools adds multiple tools.
func (a *LLMAgent) RegisterTools(tools ...tool.Tool) {
	for _, t := range tools {
		a.RegisterTool(t)
	}
}

// FindAgent implements core.Agent.
func (a *LLMAgent) FindAgent(name string) core.Agent { return a.findAgent(a, name) }

// Run implements core.Agent by executing the flow loop.
func (a *LLMAgent) Run(ic *core.InvocationContext) error {
	ic.Logger.Debug("agent.run.start", "agent", a.Name(), "invocation", ic.InvocationID)
	fl := flow.NewLLMFlow(a, flow.ExecutorConfig{MaxParallel: a.opts.MaxParallelTools})
	err := fl.Run(ic.ForAgent(a.Name()))
	if err != nil {
		ic.Logger.Error("agent.run.error", "agent", a.Name(), "error", err.Error())
		return err
	}
	ic.Logger.Debug("agent.run.complete", "agent", a.Name())
	return nil
}

// Model implements flow.FlowAgent.
func (a *LLMAgent) Model() model.Model { return a.llm }

// Instruction implements flow.FlowAgent.
func (a *LLMAgent) Instruction(ic *core.InvocationContext) (string, error) {
	return a.opts.Instruction.Resolve(ic)
}

// Tools implements flow.FlowAgent. The returned registry includes the
// transfer tool whenever this agent has somewhere to transfer to.
func (a *LLMAgent) Tools() map[string]tool.Tool {
	out := make(map[string]tool.Tool, len(a.tools)+1)
	for name, t := range a.tools {
		out[name] = t
	}
	if len(a.TransferTargets()) > 0 {
		t := tool.NewTransferToAgentTool()
		out[t.Name()] = t
	}
	return out
}

// TransferTargets implements flow.FlowAgent: sub-agents, plus the parent and
// peers unless disallowed.
func (a *LLMAgent) TransferTargets() []flow.TransferTarget {
	var targets []flow.TransferTarget
	seen := map[string]bool{a.Name(): true}
	add := func(ag core.Agent) {
		if ag == nil || seen[ag.Name()] {
			return
		}
		seen[ag.Name()] = true
		targets = append(targets, flow.TransferTarget{
			Name:        ag.Name(),
			Description: ag.Description(),
		})
	}
	for _, sub := range a.SubAgents() {
		add(sub)
	}
	parent := a.Parent()
	if parent != nil && !a.opts.DisallowTransferToParent {
		add(parent)
	}
	if parent != nil && !a.opts.DisallowTransferToPeers {
		for _, peer := range parent.SubAgents() {
			add(peer)
		}
	}
	return targets
}

// OutputKey implements flow.FlowAgent.
func (a *LLMAgent) OutputKey() string { return a.opts.OutputKey }

// OutputSchema implements flow.FlowAgent.
func (a *LLMAgent) OutputSchema() map[string]any { return a.opts.OutputSchema }

// MaxHistoryMessages implements flow.FlowAgent.
func (a *LLMAgent) MaxHistoryMessages() int { return a.opts.MaxHistoryMessages }

// MaxIterations implements flow.FlowAgent.
func (a *LLMAgent) MaxIterations() int { return a.opts.MaxIterations }

// MaxRetries implements flow.FlowAgent.
func (a *LLMAgent) MaxRetries() int { return a.opts.MaxRetries }

// StreamingEnabled implements flow.FlowAgent.
func (a *LLMAgent) StreamingEnabled() bool { return a.opts.Streaming }
