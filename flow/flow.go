// Package flow drives the model turn loop for LLM-backed agents: request
// assembly through pluggable processors, streaming generation, tool
// execution, and the yield protocol for every produced event.
package flow

import (
	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/model"
	"github.com/agentloop/agentloop/tool"
)

// FlowAgent exposes the agent capabilities the flow needs without pulling in
// the full agent implementation.
type FlowAgent interface {
	// Name returns the agent's display name, used as event author.
	Name() string

	// Model returns the language model driving generation.
	Model() model.Model

	// Instruction resolves the raw (untemplated) instruction text.
	Instruction(ic *core.InvocationContext) (string, error)

	// Tools returns the registered tools keyed by name.
	Tools() map[string]tool.Tool

	// TransferTargets lists the agents this one may hand control to.
	TransferTargets() []TransferTarget

	// OutputKey names the state key the final response is saved under, or "".
	OutputKey() string

	// OutputSchema constrains the final response to a JSON document, or nil.
	OutputSchema() map[string]any

	// MaxHistoryMessages caps the conversation history sent to the model;
	// 0 means unlimited.
	MaxHistoryMessages() int

	// MaxIterations caps model turns within one invocation.
	MaxIterations() int

	// MaxRetries caps repeat attempts after a model error.
	MaxRetries() int

	// StreamingEnabled reports whether partial responses should be forwarded.
	StreamingEnabled() bool
}

// TransferTarget describes an agent reachable via transfer_to_agent.
type TransferTarget struct {
	Name        string
	Description string
}

// RequestProcessor mutates the model request before generation.
type RequestProcessor interface {
	// Name returns the processor's identifier.
	Name() string
	// ProcessRequest modifies the request before model execution.
	ProcessRequest(ic *core.InvocationContext, req *model.Request, agent FlowAgent) error
}
