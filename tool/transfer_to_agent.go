package tool

import (
	"fmt"

	"github.com/agentloop/agentloop/core"
)

// transferToAgentTool lets a model hand the conversation to a different
// agent in the tree. Calling it stages a transfer action on the produced
// event; the orchestrator re-dispatches the named agent over the same
// invocation. Summarization is skipped since the target agent produces the
// next response.
type transferToAgentTool struct{}

// NewTransferToAgentTool returns the transfer_to_agent tool. LLM agents with
// transfer targets inject it automatically.
func NewTransferToAgentTool() Tool { return &transferToAgentTool{} }

func (t *transferToAgentTool) Name() string { return "transfer_to_agent" }

func (t *transferToAgentTool) Description() string {
	return "Hand the conversation to the named agent when it is better suited to handle the current request."
}

func (t *transferToAgentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent": map[string]any{"type": "string", "description": "Name of the agent to hand control to"},
		},
		"required": []string{"agent"},
	}
}

func (t *transferToAgentTool) Call(tc *core.ToolContext, args map[string]any) (any, error) {
	raw, ok := args["agent"]
	if !ok {
		return nil, fmt.Errorf("missing required field 'agent'")
	}
	agentName, ok := raw.(string)
	if !ok || agentName == "" {
		return nil, fmt.Errorf("field 'agent' must be a non-empty string")
	}
	tc.Transfer(agentName)
	tc.SkipSummarization()
	return map[string]any{"transferred": true, "agent": agentName}, nil
}
