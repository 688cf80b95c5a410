package core

import (
	"time"

	"github.com/google/uuid"
)

// EventActions describes the side effects an event intends. They take effect
// only when the Runner processes the owning event; until then they are inert
// data.
type EventActions struct {
	// StateDelta holds key/value changes to commit to session state.
	StateDelta map[string]any `json:"state_delta,omitempty"`
	// ArtifactDelta maps artifact name to the version written during the turn.
	ArtifactDelta map[string]int `json:"artifact_delta,omitempty"`
	// TransferToAgent redirects the remainder of the invocation to the named
	// agent when non-empty.
	TransferToAgent string `json:"transfer_to_agent,omitempty"`
	// Escalate asks an enclosing LoopAgent to stop iterating.
	Escalate bool `json:"escalate,omitempty"`
	// SkipSummarization bypasses post-processing of a tool result.
	SkipSummarization bool `json:"skip_summarization,omitempty"`
}

// Event is the atomic record exchanged between agents, the Runner and
// callers. Treat as immutable after emission.
type Event struct {
	ID           string       `json:"id"`
	InvocationID string       `json:"invocation_id"`
	Author       string       `json:"author"` // agent name or "user"
	Content      *Content     `json:"content,omitempty"`
	Actions      EventActions `json:"actions"`
	// Partial marks an in-progress streamed fragment. Partial events are
	// forwarded but never committed.
	Partial bool `json:"partial,omitempty"`
	// LongRunningToolIDs names function calls whose results will arrive in a
	// later invocation rather than synchronously.
	LongRunningToolIDs []string `json:"long_running_tool_ids,omitempty"`
	// Branch labels the parallel branch that produced the event, if any.
	Branch       string    `json:"branch,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewEvent creates a bare event authored by author within an invocation.
func NewEvent(invocationID, author string) Event {
	return Event{
		ID:           NewID(),
		InvocationID: invocationID,
		Author:       author,
		Timestamp:    time.Now().UTC(),
	}
}

// NewUserEvent wraps user-supplied content as an event authored by "user".
func NewUserEvent(invocationID string, content Content) Event {
	ev := NewEvent(invocationID, UserAuthor)
	ev.Content = &content
	return ev
}

// NewTextEvent creates an assistant text event.
func NewTextEvent(invocationID, author, text string) Event {
	ev := NewEvent(invocationID, author)
	content := NewTextContent("assistant", text)
	ev.Content = &content
	return ev
}

// NewFunctionResponseEvent records the completion (or failure) of a function
// call, correlated by id.
func NewFunctionResponseEvent(invocationID, author, callID, name string, result any, err error) Event {
	ev := NewEvent(invocationID, author)
	fr := FunctionResponse{ID: callID, Name: name, Response: result}
	if err != nil {
		fr.Error = err.Error()
	}
	ev.Content = &Content{Role: "tool", Parts: []Part{FunctionResponsePart{FunctionResponse: fr}}}
	return ev
}

// NewErrorEvent builds the terminal event of a failed turn, carrying the
// error kind and message so callers can render a meaningful failure.
func NewErrorEvent(invocationID, author, code, message string) Event {
	ev := NewEvent(invocationID, author)
	ev.ErrorCode = code
	ev.ErrorMessage = message
	return ev
}

// UserAuthor is the reserved author name for caller-supplied events.
const UserAuthor = "user"

// NewID returns a fresh unique identifier for events and invocations.
func NewID() string { return uuid.NewString() }

// NewInvocationID returns an invocation identifier in the canonical
// "inv-<uuid>" form.
func NewInvocationID() string { return "inv-" + uuid.NewString() }

// FunctionCalls returns function call parts within the event content.
func (e Event) FunctionCalls() []FunctionCall {
	if e.Content == nil {
		return nil
	}
	return e.Content.FunctionCalls()
}

// FunctionResponses returns function response parts within the event content.
func (e Event) FunctionResponses() []FunctionResponse {
	if e.Content == nil {
		return nil
	}
	return e.Content.FunctionResponses()
}

// IsFinalResponse reports whether the event completes an assistant turn: not
// partial, no pending tool traffic, or a turn parked on long-running tools.
func (e Event) IsFinalResponse() bool {
	if e.Actions.SkipSummarization || len(e.LongRunningToolIDs) > 0 {
		return true
	}
	return len(e.FunctionCalls()) == 0 &&
		len(e.FunctionResponses()) == 0 &&
		!e.Partial
}

// IsError reports whether the event records a failure.
func (e Event) IsError() bool { return e.ErrorCode != "" }
