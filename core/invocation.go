package core

import (
	"context"

	"github.com/agentloop/agentloop/logging"
)

// InvocationContext is the per-invocation execution scope handed to an
// agent's Run. It aggregates:
//
//   - the ambient cancellation Context and identifiers
//   - the user content that started the invocation
//   - the emit/resume channel pair implementing the yield protocol
//   - the shared MutableSession and backing services
//   - a branch label for parallel fan-out
//
// State written via SetState is immediately visible to reads within the
// invocation (dirty read) and is additionally staged so the next emitted
// non-partial event carries it as a state delta for commit.
type InvocationContext struct {
	Context      context.Context
	InvocationID string
	AgentName    string
	Ref          SessionRef
	UserContent  Content
	Branch       string

	Emit   chan<- Event
	Resume <-chan struct{}

	Session   *MutableSession
	Artifacts ArtifactService
	Memory    MemoryService
	Budget    *CallBudget
	Logger    logging.Logger

	pending map[string]any
}

// NewInvocationContext constructs a context with empty staging buffers. A nil
// logger defaults to NoOp.
func NewInvocationContext(
	ctx context.Context,
	invocationID string,
	agentName string,
	ref SessionRef,
	userContent Content,
	emit chan<- Event,
	resume <-chan struct{},
	session *MutableSession,
	logger logging.Logger,
) *InvocationContext {
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &InvocationContext{
		Context:      ctx,
		InvocationID: invocationID,
		AgentName:    agentName,
		Ref:          ref,
		UserContent:  userContent,
		Emit:         emit,
		Resume:       resume,
		Session:      session,
		Logger:       logger,
		pending:      map[string]any{},
	}
}

// Done mirrors context.Context's Done.
func (ic *InvocationContext) Done() <-chan struct{} { return ic.Context.Done() }

// Err returns the cancellation error, if any.
func (ic *InvocationContext) Err() error { return ic.Context.Err() }

// GetState reads session state through the dirty overlay.
func (ic *InvocationContext) GetState(key string) (any, bool) {
	if ic.Session == nil {
		return nil, false
	}
	return ic.Session.Get(key)
}

// SetState stages a write: visible immediately within the invocation, and
// attached to the next emitted non-partial event for commit.
func (ic *InvocationContext) SetState(key string, value any) {
	if ic.Session != nil {
		ic.Session.SetDirty(key, value)
	}
	ic.pending[key] = value
}

// SaveArtifact stores bytes and stages the written version on the next
// emitted event's artifact delta.
func (ic *InvocationContext) SaveArtifact(name string, data []byte, mimeType string) (int, error) {
	if ic.Artifacts == nil {
		return 0, &StateError{Op: "artifact", Key: name, Msg: "artifact service not configured"}
	}
	return ic.Artifacts.Save(ic.Ref, name, data, mimeType)
}

// LoadArtifact retrieves a stored artifact; version <= 0 means latest.
func (ic *InvocationContext) LoadArtifact(name string, version int) (*Artifact, error) {
	if ic.Artifacts == nil {
		return nil, &StateError{Op: "artifact", Key: name, Msg: "artifact service not configured"}
	}
	return ic.Artifacts.Load(ic.Ref, name, version)
}

// SearchMemory queries long-term memory; without a configured service it
// returns no results.
func (ic *InvocationContext) SearchMemory(query string, limit int) ([]MemoryEntry, error) {
	if ic.Memory == nil {
		return nil, nil
	}
	return ic.Memory.Search(ic.Ref.AppName, ic.Ref.UserID, query, limit)
}

// EmitEvent yields an event to the Runner. Pending state writes are folded
// into non-partial events as a state delta and the staging buffer cleared.
// Returns the cancellation error if the invocation ends first.
func (ic *InvocationContext) EmitEvent(ev Event) error {
	if !ev.Partial && len(ic.pending) > 0 {
		if ev.Actions.StateDelta == nil {
			ev.Actions.StateDelta = make(map[string]any, len(ic.pending))
		}
		for k, v := range ic.pending {
			ev.Actions.StateDelta[k] = v
		}
		ic.pending = map[string]any{}
	}
	if ev.Branch == "" {
		ev.Branch = ic.Branch
	}
	select {
	case <-ic.Context.Done():
		return ic.Context.Err()
	case ic.Emit <- ev:
		return nil
	}
}

// WaitForResume blocks until the Runner signals that the previously emitted
// event has been committed, or the invocation is cancelled. A nil Resume
// channel returns immediately (used by intercepting composites that manage
// their own pacing).
func (ic *InvocationContext) WaitForResume() error {
	if ic.Resume == nil {
		return nil
	}
	select {
	case <-ic.Resume:
		return nil
	case <-ic.Context.Done():
		return ic.Context.Err()
	}
}

// Yield emits a non-partial event and waits for its commit in one step.
func (ic *InvocationContext) Yield(ev Event) error {
	if err := ic.EmitEvent(ev); err != nil {
		return err
	}
	if ev.Partial {
		return nil
	}
	return ic.WaitForResume()
}

// Child derives a context for a nested execution path with its own emit and
// resume channels and fresh staging buffers. An empty branch inherits the
// parent's label. The MutableSession is shared, never copied.
func (ic *InvocationContext) Child(emit chan<- Event, resume <-chan struct{}, branch string) *InvocationContext {
	if branch == "" {
		branch = ic.Branch
	}
	return &InvocationContext{
		Context:      ic.Context,
		InvocationID: ic.InvocationID,
		AgentName:    ic.AgentName,
		Ref:          ic.Ref,
		UserContent:  ic.UserContent,
		Branch:       branch,
		Emit:         emit,
		Resume:       resume,
		Session:      ic.Session,
		Artifacts:    ic.Artifacts,
		Memory:       ic.Memory,
		Budget:       ic.Budget,
		Logger:       ic.Logger,
		pending:      map[string]any{},
	}
}

// ForAgent returns a shallow copy positioned at the named agent. Used by the
// Runner when dispatching and by composites that delegate.
func (ic *InvocationContext) ForAgent(name string) *InvocationContext {
	c := *ic
	c.AgentName = name
	c.pending = map[string]any{}
	return &c
}
