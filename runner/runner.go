// Package runner hosts the orchestrator that owns the event loop: it
// dispatches agents, commits each yielded event (state delta, then history,
// then the live session view), forwards committed events to the caller, and
// resumes the producing agent. Partial events are forwarded without commit.
// Transfers abandon the current agent and re-dispatch the target over the
// same invocation and the same mutable session.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/agentloop/agentloop/artifact"
	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/logging"
	"github.com/agentloop/agentloop/memory"
	"github.com/agentloop/agentloop/session"
)

// Options hold dependency and configuration overrides passed to New.
type Options struct {
	// EventBufferSize sets channel buffering for event delivery.
	EventBufferSize int
	// MaxModelCalls caps model calls within one invocation. Zero or less
	// means unlimited.
	MaxModelCalls int
	// MaxTransfers caps agent transfers within one invocation.
	MaxTransfers int
	// Resolver picks the agent that handles a new invocation.
	Resolver AgentResolver

	Sessions  core.SessionService
	Artifacts core.ArtifactService
	Memory    core.MemoryService
	Logger    logging.Logger
}

// Runner coordinates agent execution for one application. Public methods are
// safe for concurrent use.
type Runner struct {
	appName string
	root    core.Agent

	eventBufferSize int
	maxModelCalls   int
	maxTransfers    int
	resolver        AgentResolver

	sessions  core.SessionService
	artifacts core.ArtifactService
	memory    core.MemoryService
	logger    logging.Logger

	active map[string]context.CancelFunc
	mu     sync.Mutex
}

// New constructs a Runner for the agent tree rooted at root. Construction
// fails with a ConfigError when two agents in the tree share a name, since
// transfer routing is by name.
func New(appName string, root core.Agent, optFns ...func(o *Options)) (*Runner, error) {
	if root == nil {
		return nil, core.NewConfigError("root agent must not be nil")
	}
	if err := validateNames(root); err != nil {
		return nil, err
	}

	opts := Options{
		EventBufferSize: 100,
		MaxModelCalls:   100,
		MaxTransfers:    25,
		Resolver:        RootResolver{},
		Sessions:        session.NewInMemoryService(),
		Artifacts:       artifact.NewInMemoryService(),
		Memory:          memory.NewInMemoryService(),
		Logger:          logging.NoOp{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Runner{
		appName:         appName,
		root:            root,
		eventBufferSize: opts.EventBufferSize,
		maxModelCalls:   opts.MaxModelCalls,
		maxTransfers:    opts.MaxTransfers,
		resolver:        opts.Resolver,
		sessions:        opts.Sessions,
		artifacts:       opts.Artifacts,
		memory:          opts.Memory,
		logger:          opts.Logger,
		active:          make(map[string]context.CancelFunc),
	}, nil
}

func validateNames(root core.Agent) error {
	seen := map[string]bool{}
	var walk func(a core.Agent) error
	walk = func(a core.Agent) error {
		if seen[a.Name()] {
			return core.NewConfigError("duplicate agent name %q in tree", a.Name())
		}
		seen[a.Name()] = true
		for _, sub := range a.SubAgents() {
			if err := walk(sub); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(root)
}

// Run starts an asynchronous invocation over the identified session, which is
// created on first use. It returns the invocation id, a channel of committed
// (and partial) events, and an error channel that carries at most one fatal
// error before both channels close.
func (r *Runner) Run(
	ctx context.Context,
	userID, sessionID string,
	userContent core.Content,
) (string, <-chan core.Event, <-chan error, error) {
	ref := core.SessionRef{AppName: r.appName, UserID: userID, SessionID: sessionID}
	sess, err := r.sessions.Get(ref)
	if err != nil {
		sess, err = r.sessions.Create(ref)
		if err != nil {
			return "", nil, nil, fmt.Errorf("failed to open session: %w", err)
		}
	}

	invocationID := core.NewInvocationID()
	start, err := r.resolver.Resolve(r.root, sess, userContent)
	if err != nil {
		return "", nil, nil, err
	}

	userEvent := core.NewUserEvent(invocationID, userContent)
	if err := r.sessions.AppendEvent(ref, userEvent); err != nil {
		return "", nil, nil, fmt.Errorf("failed to append user event: %w", err)
	}

	ms := core.NewMutableSession(sess.Clone())
	ms.AppendEvent(userEvent)

	eventsCh := make(chan core.Event, r.eventBufferSize)
	errorsCh := make(chan error, 1)

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.active[invocationID] = cancel
	r.mu.Unlock()

	inv := &invocation{
		runner:      r,
		id:          invocationID,
		ref:         ref,
		session:     ms,
		userContent: userContent,
		budget:      core.NewCallBudget(r.maxModelCalls),
		events:      eventsCh,
		branchOwner: map[string]string{},
	}

	go func() {
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.active, invocationID)
			r.mu.Unlock()
			close(eventsCh)
			close(errorsCh)
		}()
		if err := inv.run(ctx, start); err != nil && !errors.Is(err, context.Canceled) {
			select {
			case errorsCh <- err:
			default:
			}
		}
	}()

	return invocationID, eventsCh, errorsCh, nil
}

// Cancel aborts a running invocation by id.
func (r *Runner) Cancel(invocationID string) error {
	r.mu.Lock()
	cancel, ok := r.active[invocationID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("invocation %s not found", invocationID)
	}
	cancel()
	return nil
}

// invocation carries the per-Run state shared across transfers.
type invocation struct {
	runner      *Runner
	id          string
	ref         core.SessionRef
	session     *core.MutableSession
	userContent core.Content
	budget      *core.CallBudget
	events      chan<- core.Event

	// branchOwner tracks which branch last wrote each state key, to surface
	// concurrent-writer collisions from parallel branches.
	branchOwner map[string]string
}

// run drives the transfer loop: dispatch an agent, and when its committed
// stream requests a transfer, abandon it and dispatch the target with the
// same invocation id and session view.
func (inv *invocation) run(ctx context.Context, agent core.Agent) error {
	r := inv.runner
	for hop := 0; ; hop++ {
		if hop > r.maxTransfers {
			return core.NewConfigError("invocation %s exceeded %d transfers", inv.id, r.maxTransfers)
		}
		target, err := inv.dispatch(ctx, agent)
		if err != nil {
			return err
		}
		if target == "" {
			return nil
		}
		next := r.root.FindAgent(target)
		if next == nil {
			r.logger.Error("runner.transfer.unknown_target", "target", target, "invocation", inv.id)
			ev := core.NewErrorEvent(inv.id, agent.Name(), core.CodeConfigError,
				fmt.Sprintf("transfer target %q not found", target))
			inv.forward(ctx, ev)
			return core.NewConfigError("transfer target %q not found", target)
		}
		r.logger.Info("runner.transfer", "from", agent.Name(), "to", target, "invocation", inv.id)
		agent = next
	}
}

// dispatch runs one agent until it finishes or requests a transfer. It
// returns the transfer target, or "" when the invocation is complete.
func (inv *invocation) dispatch(ctx context.Context, agent core.Agent) (string, error) {
	r := inv.runner
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()

	emit := make(chan core.Event, r.eventBufferSize)
	resume := make(chan struct{}, 1)

	ic := core.NewInvocationContext(
		dctx, inv.id, agent.Name(), inv.ref, inv.userContent,
		emit, resume, inv.session, r.logger,
	)
	ic.Artifacts = r.artifacts
	ic.Memory = r.memory
	ic.Budget = inv.budget

	done := make(chan error, 1)
	go func() { done <- agent.Run(ic) }()

	for {
		select {
		case <-ctx.Done():
			cancel()
			<-done
			return "", ctx.Err()
		case ev := <-emit:
			target, err := inv.handleEvent(ctx, ev, resume)
			if err != nil {
				cancel()
				<-done
				return "", err
			}
			if target != "" {
				cancel()
				<-done
				return target, nil
			}
		case err := <-done:
			// Drain events emitted before the agent returned.
			for {
				select {
				case ev := <-emit:
					target, hErr := inv.handleEvent(ctx, ev, resume)
					if hErr != nil {
						return "", hErr
					}
					if target != "" {
						return target, nil
					}
				default:
					if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
						inv.emitFailure(ctx, agent.Name(), err)
					}
					return "", err
				}
			}
		}
	}
}

// handleEvent applies the commit protocol to one yielded event: partials are
// forwarded only; full events are committed, forwarded, and acknowledged with
// a resume signal. A non-empty return requests a transfer.
func (inv *invocation) handleEvent(ctx context.Context, ev core.Event, resume chan<- struct{}) (string, error) {
	if ev.Partial {
		inv.forward(ctx, ev)
		return "", nil
	}
	if err := inv.commit(ev); err != nil {
		return "", err
	}
	inv.forward(ctx, ev)
	if target := ev.Actions.TransferToAgent; target != "" {
		return target, nil
	}
	select {
	case resume <- struct{}{}:
	default:
	}
	return "", nil
}

// commit makes an event durable: persist the durable part of its state delta,
// append it to stored history, then update the live session view. A failure
// at any stage is fatal for the invocation.
func (inv *invocation) commit(ev core.Event) error {
	r := inv.runner
	durable, temp := core.SplitTempKeys(ev.Actions.StateDelta)
	inv.noteCollisions(ev)

	if len(durable) > 0 {
		if err := r.sessions.ApplyStateDelta(inv.ref, durable); err != nil {
			return &core.CommitError{Stage: "state_delta", Err: err}
		}
	}

	persisted := ev
	persisted.Actions.StateDelta = durable
	if err := r.sessions.AppendEvent(inv.ref, persisted); err != nil {
		return &core.CommitError{Stage: "append_event", Err: err}
	}

	// temp: keys stay visible within the invocation but are never persisted.
	merged := durable
	if len(temp) > 0 {
		merged = make(map[string]any, len(durable)+len(temp))
		for k, v := range durable {
			merged[k] = v
		}
		for k, v := range temp {
			merged[k] = v
		}
	}
	inv.session.CommitDelta(merged)
	inv.session.AppendEvent(persisted)

	r.logger.Debug("runner.event.committed",
		"event_id", ev.ID,
		"author", ev.Author,
		"invocation", inv.id,
		"delta_keys", len(ev.Actions.StateDelta),
	)
	return nil
}

// noteCollisions logs when parallel branches write the same state key. The
// later commit wins deterministically in arrival order.
func (inv *invocation) noteCollisions(ev core.Event) {
	for key := range ev.Actions.StateDelta {
		prev, ok := inv.branchOwner[key]
		if ok && prev != ev.Branch {
			inv.runner.logger.Warn("runner.state.collision",
				"key", key,
				"previous_branch", prev,
				"branch", ev.Branch,
				"invocation", inv.id,
			)
		}
		inv.branchOwner[key] = ev.Branch
	}
}

func (inv *invocation) forward(ctx context.Context, ev core.Event) {
	select {
	case <-ctx.Done():
	case inv.events <- ev:
	}
}

// emitFailure surfaces an agent error to the caller as a terminal error
// event. The commit path is skipped; the event is delivery only.
func (inv *invocation) emitFailure(ctx context.Context, author string, err error) {
	code := core.CodeModelError
	var (
		stateErr  *core.StateError
		commitErr *core.CommitError
		cfgErr    *core.ConfigError
	)
	switch {
	case errors.As(err, &stateErr):
		code = core.CodeStateError
	case errors.As(err, &commitErr):
		code = core.CodeCommitError
	case errors.As(err, &cfgErr):
		code = core.CodeConfigError
	}
	inv.forward(ctx, core.NewErrorEvent(inv.id, author, code, err.Error()))
}
