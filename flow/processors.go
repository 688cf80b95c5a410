package flow

import (
	"fmt"
	"strings"

	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/internal/util"
	"github.com/agentloop/agentloop/model"
)

// stateResolver adapts an InvocationContext to the template resolver.
type stateResolver struct {
	ic *core.InvocationContext
}

func (r stateResolver) State(key string) (any, bool) { return r.ic.GetState(key) }

func (r stateResolver) Artifact(name string) (string, error) {
	art, err := r.ic.LoadArtifact(name, 0)
	if err != nil {
		return "", err
	}
	return string(art.Data), nil
}

// InstructionsProcessor resolves the agent instruction and expands state and
// artifact placeholders against the current session.
type InstructionsProcessor struct{}

// NewInstructionsProcessor creates a new instructions processor.
func NewInstructionsProcessor() *InstructionsProcessor { return &InstructionsProcessor{} }

// Name returns the processor's identifier.
func (p *InstructionsProcessor) Name() string { return "instructions" }

// ProcessRequest sets req.Instructions from the agent's templated instruction.
func (p *InstructionsProcessor) ProcessRequest(ic *core.InvocationContext, req *model.Request, agent FlowAgent) error {
	raw, err := agent.Instruction(ic)
	if err != nil {
		return fmt.Errorf("failed to resolve instruction: %w", err)
	}
	if raw == "" {
		return nil
	}
	expanded, err := util.ExpandTemplate(raw, stateResolver{ic: ic})
	if err != nil {
		return err
	}
	req.Instructions = expanded
	ic.Logger.Debug("agent.instruction.resolved", "agent", agent.Name(), "length", len(expanded))
	return nil
}

// ContentsProcessor assembles the conversation history for the request.
type ContentsProcessor struct{}

// NewContentsProcessor creates a new contents processor.
func NewContentsProcessor() *ContentsProcessor { return &ContentsProcessor{} }

// Name returns the processor's identifier.
func (p *ContentsProcessor) Name() string { return "contents" }

// ProcessRequest fills req.Contents from the session's conversation history.
// The session overlay already contains events committed earlier in this
// invocation, including tool responses, so each model turn sees them.
func (p *ContentsProcessor) ProcessRequest(ic *core.InvocationContext, req *model.Request, agent FlowAgent) error {
	if ic.Session == nil {
		req.Contents = []core.Content{ic.UserContent}
		return nil
	}
	events := ic.Session.ConversationHistory()
	if limit := agent.MaxHistoryMessages(); limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	contents := make([]core.Content, 0, len(events))
	for _, ev := range events {
		if ev.Content != nil && len(ev.Content.Parts) > 0 {
			contents = append(contents, *ev.Content)
		}
	}
	req.Contents = contents
	return nil
}

// TransferInstructionsProcessor appends the directory of reachable agents to
// the instructions so the model knows where transfer_to_agent can route.
type TransferInstructionsProcessor struct{}

// NewTransferInstructionsProcessor creates a new transfer instructions processor.
func NewTransferInstructionsProcessor() *TransferInstructionsProcessor {
	return &TransferInstructionsProcessor{}
}

// Name returns the processor's identifier.
func (p *TransferInstructionsProcessor) Name() string { return "transfer_instructions" }

// ProcessRequest appends the transfer directory when targets exist.
func (p *TransferInstructionsProcessor) ProcessRequest(ic *core.InvocationContext, req *model.Request, agent FlowAgent) error {
	targets := agent.TransferTargets()
	if len(targets) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString("\n\nYou can transfer the conversation to another agent with the transfer_to_agent tool. Available agents:\n")
	for _, t := range targets {
		sb.WriteString("- ")
		sb.WriteString(t.Name)
		if t.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(t.Description)
		}
		sb.WriteString("\n")
	}
	req.Instructions += sb.String()
	return nil
}
