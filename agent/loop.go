package agent

import (
	"errors"
	"time"

	"github.com/agentloop/agentloop/core"
)

// errEscalated signals loop termination requested by a child event.
var errEscalated = errors.New("child agent escalated")

// LoopAgent executes its children repeatedly over the shared session until
// one escalates or the configured iteration cap is reached. Each iteration
// is a sequential pass over the children in order. The cap is mandatory;
// loops without a bound are a construction error.
type LoopAgent struct {
	BaseAgent
	children []core.Agent
	maxIters int
	interval time.Duration
}

// LoopOption configures a LoopAgent.
type LoopOption func(*LoopAgent)

// WithInterval inserts a delay between iterations, for polling-style loops.
func WithInterval(d time.Duration) LoopOption {
	return func(l *LoopAgent) { l.interval = d }
}

// NewLoopAgent constructs a looping coordinator. maxIterations must be
// positive; a child signals early exit by escalating (for example through
// the exit_loop tool).
func NewLoopAgent(name string, children []core.Agent, maxIterations int, opts ...LoopOption) (*LoopAgent, error) {
	if maxIterations <= 0 {
		return nil, core.NewConfigError("loop agent %s: maxIterations must be positive, got %d", name, maxIterations)
	}
	if len(children) == 0 {
		return nil, core.NewConfigError("loop agent %s: at least one child is required", name)
	}
	for _, c := range children {
		if c == nil {
			return nil, core.NewConfigError("loop agent %s: child must not be nil", name)
		}
	}
	l := &LoopAgent{
		BaseAgent: NewBaseAgent(name),
		children:  children,
		maxIters:  maxIterations,
	}
	for _, o := range opts {
		o(l)
	}
	l.adopt(l, children)
	return l, nil
}

// FindAgent implements core.Agent.
func (l *LoopAgent) FindAgent(name string) core.Agent { return l.findAgent(l, name) }

// Run implements core.Agent. Each iteration reuses the same session so state
// accumulates across passes. Escalation by any child ends the loop without
// error, skipping the rest of the pass.
func (l *LoopAgent) Run(ic *core.InvocationContext) error {
	for i := 0; i < l.maxIters; i++ {
		if err := ic.Err(); err != nil {
			return err
		}
		ic.Logger.Debug("agent.loop.iteration", "agent", l.Name(), "iteration", i+1, "max", l.maxIters)

		for _, child := range l.children {
			err := l.runChildIntercepted(ic, child)
			if errors.Is(err, errEscalated) {
				ic.Logger.Info("agent.loop.escalated", "agent", l.Name(), "iteration", i+1)
				return nil
			}
			if err != nil {
				return err
			}
		}

		if l.interval > 0 && i < l.maxIters-1 {
			select {
			case <-ic.Done():
				return ic.Err()
			case <-time.After(l.interval):
			}
		}
	}
	ic.Logger.Debug("agent.loop.complete", "agent", l.Name(), "iterations", l.maxIters)
	return nil
}

// runChildIntercepted routes the child's events through an intercept channel
// so escalation flags are observed before forwarding to the parent context.
// The resume signal is relayed the other way after the parent's commit.
func (l *LoopAgent) runChildIntercepted(ic *core.InvocationContext, child core.Agent) error {
	intercept := make(chan core.Event, 16)
	resume := make(chan struct{}, 16)
	childCtx := ic.Child(intercept, resume, ic.Branch)
	childCtx.AgentName = child.Name()

	done := make(chan error, 1)
	go func() {
		done <- child.Run(childCtx)
	}()

	escalated := false
	for {
		select {
		case ev := <-intercept:
			if ev.Actions.Escalate {
				escalated = true
			}
			if err := ic.EmitEvent(ev); err != nil {
				<-done
				return err
			}
			if !ev.Partial {
				if err := ic.WaitForResume(); err != nil {
					<-done
					return err
				}
				select {
				case resume <- struct{}{}:
				case <-ic.Done():
					<-done
					return ic.Err()
				}
			}
		case err := <-done:
			// Drain any events emitted before the child returned.
			for {
				select {
				case ev := <-intercept:
					if ev.Actions.Escalate {
						escalated = true
					}
					if emitErr := ic.EmitEvent(ev); emitErr != nil {
						return emitErr
					}
					if !ev.Partial {
						if waitErr := ic.WaitForResume(); waitErr != nil {
							return waitErr
						}
					}
				default:
					if err != nil {
						return err
					}
					if escalated {
						return errEscalated
					}
					return nil
				}
			}
		case <-ic.Done():
			<-done
			return ic.Err()
		}
	}
}
