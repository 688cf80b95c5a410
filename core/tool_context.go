package core

import "github.com/agentloop/agentloop/logging"

// ToolContext is passed to tool handlers. It exposes session reads, buffers
// state and artifact writes, and records action flags. The accumulated
// actions are folded into the function-response event so they take effect on
// commit together with the tool result.
type ToolContext struct {
	ic *InvocationContext

	// FunctionCallID identifies the call being executed, useful for tools
	// that correlate deferred results.
	FunctionCallID string

	stateDelta    map[string]any
	artifactDelta map[string]int
	transferTo    string
	escalate      bool
	skipSummarize bool
}

// NewToolContext wraps an invocation context for a single tool call.
func NewToolContext(ic *InvocationContext, callID string) *ToolContext {
	return &ToolContext{
		ic:             ic,
		FunctionCallID: callID,
		stateDelta:     map[string]any{},
		artifactDelta:  map[string]int{},
	}
}

// InvocationID returns the enclosing invocation's id.
func (tc *ToolContext) InvocationID() string { return tc.ic.InvocationID }

// AgentName returns the agent executing the tool.
func (tc *ToolContext) AgentName() string { return tc.ic.AgentName }

// Logger returns the invocation logger.
func (tc *ToolContext) Logger() logging.Logger { return tc.ic.Logger }

// GetState reads through the invocation's dirty overlay plus any writes made
// earlier by this tool call.
func (tc *ToolContext) GetState(key string) (any, bool) {
	if v, ok := tc.stateDelta[key]; ok {
		return v, true
	}
	return tc.ic.GetState(key)
}

// SetState buffers a state write. It becomes dirty-visible immediately and is
// carried on the function-response event for commit.
func (tc *ToolContext) SetState(key string, value any) {
	tc.stateDelta[key] = value
	if tc.ic.Session != nil {
		tc.ic.Session.SetDirty(key, value)
	}
}

// SaveArtifact stores bytes and records the version in the artifact delta.
func (tc *ToolContext) SaveArtifact(name string, data []byte, mimeType string) (int, error) {
	version, err := tc.ic.SaveArtifact(name, data, mimeType)
	if err != nil {
		return 0, err
	}
	tc.artifactDelta[name] = version
	return version, nil
}

// LoadArtifact retrieves a stored artifact; version <= 0 means latest.
func (tc *ToolContext) LoadArtifact(name string, version int) (*Artifact, error) {
	return tc.ic.LoadArtifact(name, version)
}

// SearchMemory queries long-term memory.
func (tc *ToolContext) SearchMemory(query string, limit int) ([]MemoryEntry, error) {
	return tc.ic.SearchMemory(query, limit)
}

// Transfer requests control be handed to the named agent after this event
// commits.
func (tc *ToolContext) Transfer(agentName string) { tc.transferTo = agentName }

// Escalate signals the nearest enclosing loop to terminate.
func (tc *ToolContext) Escalate() { tc.escalate = true }

// SkipSummarization marks the tool result as final, suppressing the followup
// model turn.
func (tc *ToolContext) SkipSummarization() { tc.skipSummarize = true }

// ApplyActions merges the buffered deltas and flags into the event that will
// carry this tool call's response.
func (tc *ToolContext) ApplyActions(ev *Event) {
	if len(tc.stateDelta) > 0 {
		if ev.Actions.StateDelta == nil {
			ev.Actions.StateDelta = make(map[string]any, len(tc.stateDelta))
		}
		for k, v := range tc.stateDelta {
			ev.Actions.StateDelta[k] = v
		}
	}
	if len(tc.artifactDelta) > 0 {
		if ev.Actions.ArtifactDelta == nil {
			ev.Actions.ArtifactDelta = make(map[string]int, len(tc.artifactDelta))
		}
		for k, v := range tc.artifactDelta {
			ev.Actions.ArtifactDelta[k] = v
		}
	}
	if tc.transferTo != "" {
		ev.Actions.TransferToAgent = tc.transferTo
	}
	if tc.escalate {
		ev.Actions.Escalate = true
	}
	if tc.skipSummarize {
		ev.Actions.SkipSummarization = true
	}
}
