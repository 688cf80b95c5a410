package agent

import (
	"errors"
	"fmt"
	"sync"

	"github.com/agentloop/agentloop/core"
)

// ParallelAgent executes its children concurrently. Each child runs under a
// branch label of the form Parent.Child appended to any existing branch, so
// consumers can attribute interleaved events. Children share the session;
// their events are committed in arrival order. A failing child does not
// cancel its siblings; the errors of all failed branches are joined and
// returned after every child finishes.
type ParallelAgent struct {
	BaseAgent
}

// NewParallelAgent creates a concurrent execution coordinator.
func NewParallelAgent(name string, children ...core.Agent) *ParallelAgent {
	a := &ParallelAgent{BaseAgent: NewBaseAgent(name)}
	a.adopt(a, children)
	return a
}

// FindAgent implements core.Agent.
func (p *ParallelAgent) FindAgent(name string) core.Agent { return p.findAgent(p, name) }

// Run implements core.Agent.
func (p *ParallelAgent) Run(ic *core.InvocationContext) error {
	children := p.SubAgents()
	var wg sync.WaitGroup
	var yieldMu sync.Mutex
	errCh := make(chan error, len(children))

	for _, child := range children {
		wg.Add(1)
		go func(c core.Agent) {
			defer wg.Done()
			branch := buildBranchPath(ic.Branch, p.Name()+"."+c.Name())
			if err := p.runBranch(ic, c, branch, &yieldMu); err != nil {
				errCh <- fmt.Errorf("parallel branch %s failed: %w", c.Name(), err)
			}
		}(child)
	}

	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// runBranch runs one child behind an intercept channel pair so each of its
// committed events is acknowledged individually. yieldMu serializes the
// emit-then-wait window across branches: only one branch has an
// unacknowledged event in flight at a time, so the resume signal a branch
// receives is always for its own event, never a sibling's.
func (p *ParallelAgent) runBranch(ic *core.InvocationContext, c core.Agent, branch string, yieldMu *sync.Mutex) error {
	intercept := make(chan core.Event, 16)
	resume := make(chan struct{}, 16)
	childCtx := ic.Child(intercept, resume, branch)
	childCtx.AgentName = c.Name()

	done := make(chan error, 1)
	go func() { done <- c.Run(childCtx) }()

	relay := func(ev core.Event) error {
		if ev.Partial {
			return ic.EmitEvent(ev)
		}
		yieldMu.Lock()
		err := ic.EmitEvent(ev)
		if err == nil {
			err = ic.WaitForResume()
		}
		yieldMu.Unlock()
		if err != nil {
			return err
		}
		select {
		case resume <- struct{}{}:
		case <-ic.Done():
			return ic.Err()
		}
		return nil
	}

	for {
		select {
		case ev := <-intercept:
			if err := relay(ev); err != nil {
				<-done
				return err
			}
		case err := <-done:
			// Drain events emitted before the child returned.
			for {
				select {
				case ev := <-intercept:
					if rErr := relay(ev); rErr != nil {
						return rErr
					}
				default:
					return err
				}
			}
		case <-ic.Done():
			<-done
			return ic.Err()
		}
	}
}
