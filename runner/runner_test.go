package runner

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop/agentloop/agent"
	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/model"
	"github.com/agentloop/agentloop/session"
	"github.com/agentloop/agentloop/tool"
)

func yieldText(text string) agent.RunFunc {
	return func(ic *core.InvocationContext) error {
		return ic.Yield(core.NewTextEvent(ic.InvocationID, ic.AgentName, text))
	}
}

// collect drains both channels until the event stream closes.
func collect(events <-chan core.Event, errs <-chan error) ([]core.Event, error) {
	var out []core.Event
	for ev := range events {
		out = append(out, ev)
	}
	return out, <-errs
}

func TestNew_Validation(t *testing.T) {
	var cfgErr *core.ConfigError

	_, err := New("app", nil)
	require.Error(t, err)
	require.ErrorAs(t, err, &cfgErr)

	dup := agent.NewSequentialAgent("Root",
		agent.NewCustomAgent("Same", yieldText("a")),
		agent.NewCustomAgent("Same", yieldText("b")),
	)
	_, err = New("app", dup)
	require.Error(t, err)
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "Same")
}

func TestRunner_CommitsEventsAndState(t *testing.T) {
	svc := session.NewInMemoryService()
	root := agent.NewCustomAgent("Greeter", func(ic *core.InvocationContext) error {
		ic.SetState("greeted", true)
		return ic.Yield(core.NewTextEvent(ic.InvocationID, ic.AgentName, "hello"))
	})

	r, err := New("app", root, func(o *Options) { o.Sessions = svc })
	require.NoError(t, err)

	invID, events, errs, err := r.Run(context.Background(), "u1", "s1", core.NewTextContent("user", "hi"))
	require.NoError(t, err)

	got, runErr := collect(events, errs)
	require.NoError(t, runErr)
	require.Len(t, got, 1)
	assert.Equal(t, invID, got[0].InvocationID)
	assert.Equal(t, "Greeter", got[0].Author)
	assert.Equal(t, true, got[0].Actions.StateDelta["greeted"])

	ref := core.SessionRef{AppName: "app", UserID: "u1", SessionID: "s1"}
	stored, err := svc.Get(ref)
	require.NoError(t, err)
	// User event plus the agent's committed event.
	require.Len(t, stored.EventsSnapshot(), 2)
	v, ok := stored.GetState("greeted")
	require.True(t, ok)
	assert.Equal(t, true, v)
}

func TestRunner_CommitBeforeForward(t *testing.T) {
	svc := session.NewInMemoryService()
	ref := core.SessionRef{AppName: "app", UserID: "u1", SessionID: "s1"}

	committedAtResume := false
	root := agent.NewCustomAgent("Checker", func(ic *core.InvocationContext) error {
		ic.SetState("k", "v")
		if err := ic.Yield(core.NewTextEvent(ic.InvocationID, ic.AgentName, "one")); err != nil {
			return err
		}
		// Yield returned, so the runner has committed: the write must be
		// durable in the service already.
		stored, err := svc.Get(ref)
		if err != nil {
			return err
		}
		if v, ok := stored.GetState("k"); ok && v == "v" {
			committedAtResume = true
		}
		return nil
	})

	r, err := New("app", root, func(o *Options) { o.Sessions = svc })
	require.NoError(t, err)
	_, events, errs, err := r.Run(context.Background(), "u1", "s1", core.NewTextContent("user", "go"))
	require.NoError(t, err)
	_, runErr := collect(events, errs)
	require.NoError(t, runErr)
	assert.True(t, committedAtResume, "commit must land before the agent resumes")
}

func TestRunner_PartialsForwardedNotCommitted(t *testing.T) {
	svc := session.NewInMemoryService()
	root := agent.NewCustomAgent("Streamer", func(ic *core.InvocationContext) error {
		for _, chunk := range []string{"he", "llo"} {
			ev := core.NewTextEvent(ic.InvocationID, ic.AgentName, chunk)
			ev.Partial = true
			if err := ic.EmitEvent(ev); err != nil {
				return err
			}
		}
		return ic.Yield(core.NewTextEvent(ic.InvocationID, ic.AgentName, "hello"))
	})

	r, err := New("app", root, func(o *Options) { o.Sessions = svc })
	require.NoError(t, err)
	_, events, errs, err := r.Run(context.Background(), "u1", "s1", core.NewTextContent("user", "go"))
	require.NoError(t, err)

	got, runErr := collect(events, errs)
	require.NoError(t, runErr)
	require.Len(t, got, 3, "partials are forwarded to the caller")
	assert.True(t, got[0].Partial)
	assert.True(t, got[1].Partial)
	assert.False(t, got[2].Partial)

	ref := core.SessionRef{AppName: "app", UserID: "u1", SessionID: "s1"}
	stored, _ := svc.Get(ref)
	assert.Len(t, stored.EventsSnapshot(), 2, "only user event and final event are persisted")
}

func TestRunner_TempKeysNeverPersisted(t *testing.T) {
	svc := session.NewInMemoryService()
	sawTemp := false
	root := agent.NewSequentialAgent("Root",
		agent.NewCustomAgent("Producer", func(ic *core.InvocationContext) error {
			ic.SetState("temp:scratch", "volatile")
			ic.SetState("kept", "durable")
			return ic.Yield(core.NewTextEvent(ic.InvocationID, ic.AgentName, "wrote"))
		}),
		agent.NewCustomAgent("Consumer", func(ic *core.InvocationContext) error {
			// temp keys stay visible within the invocation.
			if v, ok := ic.GetState("temp:scratch"); ok && v == "volatile" {
				sawTemp = true
			}
			return ic.Yield(core.NewTextEvent(ic.InvocationID, ic.AgentName, "read"))
		}),
	)

	r, err := New("app", root, func(o *Options) { o.Sessions = svc })
	require.NoError(t, err)
	_, events, errs, err := r.Run(context.Background(), "u1", "s1", core.NewTextContent("user", "go"))
	require.NoError(t, err)

	got, runErr := collect(events, errs)
	require.NoError(t, runErr)
	assert.True(t, sawTemp)

	// The persisted copy of the producer's event carries only durable keys.
	for _, ev := range got {
		if ev.Author == "Producer" {
			assert.Contains(t, ev.Actions.StateDelta, "temp:scratch",
				"callers still see the full delta")
		}
	}
	ref := core.SessionRef{AppName: "app", UserID: "u1", SessionID: "s1"}
	stored, _ := svc.Get(ref)
	if _, ok := stored.GetState("temp:scratch"); ok {
		t.Fatal("temp key leaked into storage")
	}
	if v, _ := stored.GetState("kept"); v != "durable" {
		t.Fatal("durable key missing from storage")
	}
	for _, ev := range stored.EventsSnapshot() {
		assert.NotContains(t, ev.Actions.StateDelta, "temp:scratch")
	}
}

func TestRunner_ScopedKeysRouted(t *testing.T) {
	svc := session.NewInMemoryService()
	root := agent.NewCustomAgent("Writer", func(ic *core.InvocationContext) error {
		ic.SetState("user:lang", "de")
		ic.SetState("app:theme", "dark")
		return ic.Yield(core.NewTextEvent(ic.InvocationID, ic.AgentName, "ok"))
	})

	r, err := New("app", root, func(o *Options) { o.Sessions = svc })
	require.NoError(t, err)
	_, events, errs, err := r.Run(context.Background(), "u1", "s1", core.NewTextContent("user", "go"))
	require.NoError(t, err)
	_, runErr := collect(events, errs)
	require.NoError(t, runErr)

	// Scoped state is visible from a different session of the same user.
	other := core.SessionRef{AppName: "app", UserID: "u1", SessionID: "s2"}
	_, err = svc.Create(other)
	require.NoError(t, err)
	stored, err := svc.Get(other)
	require.NoError(t, err)
	v, ok := stored.GetState("user:lang")
	require.True(t, ok)
	assert.Equal(t, "de", v)
	v, ok = stored.GetState("app:theme")
	require.True(t, ok)
	assert.Equal(t, "dark", v)
}

func TestRunner_Transfer(t *testing.T) {
	target := agent.NewCustomAgent("Target", func(ic *core.InvocationContext) error {
		v, _ := ic.GetState("handoff")
		return ic.Yield(core.NewTextEvent(ic.InvocationID, ic.AgentName, "got "+v.(string)))
	})
	root := agent.NewCustomAgent("Root", func(ic *core.InvocationContext) error {
		ic.SetState("handoff", "baton")
		ev := core.NewTextEvent(ic.InvocationID, ic.AgentName, "passing")
		ev.Actions.TransferToAgent = "Target"
		return ic.Yield(ev)
	}, target)

	r, err := New("app", root)
	require.NoError(t, err)
	invID, events, errs, err := r.Run(context.Background(), "u1", "s1", core.NewTextContent("user", "go"))
	require.NoError(t, err)

	got, runErr := collect(events, errs)
	require.NoError(t, runErr)
	require.Len(t, got, 2)
	assert.Equal(t, "Root", got[0].Author)
	assert.Equal(t, "Target", got[1].Author)
	// Same invocation, shared session state across the hop.
	assert.Equal(t, invID, got[1].InvocationID)
	assert.Equal(t, "got baton", got[1].Content.Text())
}

func TestRunner_TransferUnknownTarget(t *testing.T) {
	root := agent.NewCustomAgent("Root", func(ic *core.InvocationContext) error {
		ev := core.NewTextEvent(ic.InvocationID, ic.AgentName, "passing")
		ev.Actions.TransferToAgent = "Ghost"
		return ic.Yield(ev)
	})

	r, err := New("app", root)
	require.NoError(t, err)
	_, events, errs, err := r.Run(context.Background(), "u1", "s1", core.NewTextContent("user", "go"))
	require.NoError(t, err)

	got, runErr := collect(events, errs)
	require.Error(t, runErr)
	var cfgErr *core.ConfigError
	require.ErrorAs(t, runErr, &cfgErr)

	last := got[len(got)-1]
	assert.Equal(t, core.CodeConfigError, last.ErrorCode)
	assert.Contains(t, last.ErrorMessage, "Ghost")
}

func TestRunner_TransferCap(t *testing.T) {
	transferTo := func(name string) agent.RunFunc {
		return func(ic *core.InvocationContext) error {
			ev := core.NewTextEvent(ic.InvocationID, ic.AgentName, "ping")
			ev.Actions.TransferToAgent = name
			return ic.Yield(ev)
		}
	}
	b := agent.NewCustomAgent("B", transferTo("A"))
	root := agent.NewCustomAgent("A", transferTo("B"), b)

	r, err := New("app", root, func(o *Options) { o.MaxTransfers = 3 })
	require.NoError(t, err)
	_, events, errs, err := r.Run(context.Background(), "u1", "s1", core.NewTextContent("user", "go"))
	require.NoError(t, err)

	_, runErr := collect(events, errs)
	require.Error(t, runErr)
	var cfgErr *core.ConfigError
	require.ErrorAs(t, runErr, &cfgErr)
	assert.Contains(t, runErr.Error(), "transfers")
}

func TestRunner_AgentErrorSurfacedAsEvent(t *testing.T) {
	root := agent.NewCustomAgent("Broken", func(*core.InvocationContext) error {
		return &core.StateError{Op: "template", Key: "x", Msg: "missing"}
	})

	r, err := New("app", root)
	require.NoError(t, err)
	_, events, errs, err := r.Run(context.Background(), "u1", "s1", core.NewTextContent("user", "go"))
	require.NoError(t, err)

	got, runErr := collect(events, errs)
	require.Error(t, runErr)
	var stateErr *core.StateError
	require.ErrorAs(t, runErr, &stateErr)

	require.Len(t, got, 1)
	assert.Equal(t, core.CodeStateError, got[0].ErrorCode)
}

func TestRunner_Cancel(t *testing.T) {
	started := make(chan struct{})
	root := agent.NewCustomAgent("Blocker", func(ic *core.InvocationContext) error {
		close(started)
		<-ic.Done()
		return ic.Err()
	})

	r, err := New("app", root)
	require.NoError(t, err)
	invID, events, errs, err := r.Run(context.Background(), "u1", "s1", core.NewTextContent("user", "go"))
	require.NoError(t, err)

	<-started
	require.NoError(t, r.Cancel(invID))

	got, runErr := collect(events, errs)
	assert.NoError(t, runErr, "cancellation is not reported as a failure")
	assert.Empty(t, got)

	// Cancelled invocations are forgotten.
	assert.Error(t, r.Cancel(invID))
}

func TestRunner_SessionContinuity(t *testing.T) {
	svc := session.NewInMemoryService()
	root := agent.NewCustomAgent("Echo", func(ic *core.InvocationContext) error {
		history := ic.Session.ConversationHistory()
		return ic.Yield(core.NewTextEvent(ic.InvocationID, ic.AgentName,
			history[0].Content.Text()))
	})

	r, err := New("app", root, func(o *Options) { o.Sessions = svc })
	require.NoError(t, err)

	_, events, errs, err := r.Run(context.Background(), "u1", "s1", core.NewTextContent("user", "first"))
	require.NoError(t, err)
	_, runErr := collect(events, errs)
	require.NoError(t, runErr)

	// Second invocation sees the first one's history.
	_, events, errs, err = r.Run(context.Background(), "u1", "s1", core.NewTextContent("user", "second"))
	require.NoError(t, err)
	got, runErr := collect(events, errs)
	require.NoError(t, runErr)
	require.Len(t, got, 1)
	assert.Equal(t, "first", got[0].Content.Text())

	ref := core.SessionRef{AppName: "app", UserID: "u1", SessionID: "s1"}
	stored, _ := svc.Get(ref)
	assert.Len(t, stored.EventsSnapshot(), 4)
}

func TestRunner_EndToEndLLMTransfer(t *testing.T) {
	writerModel := model.NewMockModel("writer").Script(
		model.MockTurn{Text: "the finished draft"},
	)
	writer := agent.NewLLMAgent("Writer", writerModel, func(o *agent.LLMAgentOptions) {
		o.Description = "Writes drafts"
		o.OutputKey = "draft"
		o.Streaming = false
	})

	coordModel := model.NewMockModel("coord").Script(
		model.MockTurn{Calls: []core.FunctionCall{
			{ID: "c1", Name: "transfer_to_agent", Arguments: `{"agent":"Writer"}`},
		}},
	)
	coordinator := agent.NewLLMAgent("Coordinator", coordModel, func(o *agent.LLMAgentOptions) {
		o.SubAgents = []core.Agent{writer}
		o.Streaming = false
	})

	svc := session.NewInMemoryService()
	r, err := New("app", coordinator, func(o *Options) { o.Sessions = svc })
	require.NoError(t, err)

	invID, events, errs, err := r.Run(context.Background(), "u1", "s1", core.NewTextContent("user", "write it"))
	require.NoError(t, err)

	got, runErr := collect(events, errs)
	require.NoError(t, runErr)
	require.Len(t, got, 3)

	assert.Equal(t, "Coordinator", got[0].Author)
	require.Len(t, got[0].FunctionCalls(), 1)

	assert.Equal(t, "Coordinator", got[1].Author)
	assert.Equal(t, "Writer", got[1].Actions.TransferToAgent)
	assert.True(t, got[1].Actions.SkipSummarization)

	assert.Equal(t, "Writer", got[2].Author)
	assert.Equal(t, invID, got[2].InvocationID)
	assert.Equal(t, "the finished draft", got[2].Content.Text())

	ref := core.SessionRef{AppName: "app", UserID: "u1", SessionID: "s1"}
	stored, _ := svc.Get(ref)
	v, ok := stored.GetState("draft")
	require.True(t, ok)
	assert.Equal(t, "the finished draft", v)
}

func TestRunner_ModelCallBudget(t *testing.T) {
	looping := model.NewMockModel("loop").Script(
		model.MockTurn{Calls: []core.FunctionCall{{ID: "c", Name: "noop"}}},
		model.MockTurn{Calls: []core.FunctionCall{{ID: "c", Name: "noop"}}},
		model.MockTurn{Calls: []core.FunctionCall{{ID: "c", Name: "noop"}}},
	)
	a := agent.NewLLMAgent("Looper", looping, func(o *agent.LLMAgentOptions) {
		o.Streaming = false
		o.Tools = []tool.Tool{
			tool.NewFunctionTool("noop", "", map[string]any{"type": "object"},
				func(_ *core.ToolContext, _ map[string]any) (any, error) { return "ok", nil }),
		}
	})

	r, err := New("app", a, func(o *Options) { o.MaxModelCalls = 2 })
	require.NoError(t, err)
	_, events, errs, err := r.Run(context.Background(), "u1", "s1", core.NewTextContent("user", "go"))
	require.NoError(t, err)

	_, runErr := collect(events, errs)
	require.Error(t, runErr)
	assert.Contains(t, runErr.Error(), "budget")
	assert.Equal(t, 2, looping.CallCount())
}

func TestRunner_ParallelBranchesCommitted(t *testing.T) {
	fanout := agent.NewParallelAgent("Fanout",
		agent.NewCustomAgent("A", func(ic *core.InvocationContext) error {
			ic.SetState("a_out", 1)
			return ic.Yield(core.NewTextEvent(ic.InvocationID, ic.AgentName, "a"))
		}),
		agent.NewCustomAgent("B", func(ic *core.InvocationContext) error {
			ic.SetState("b_out", 2)
			return ic.Yield(core.NewTextEvent(ic.InvocationID, ic.AgentName, "b"))
		}),
	)

	svc := session.NewInMemoryService()
	r, err := New("app", fanout, func(o *Options) { o.Sessions = svc })
	require.NoError(t, err)
	_, events, errs, err := r.Run(context.Background(), "u1", "s1", core.NewTextContent("user", "go"))
	require.NoError(t, err)

	got, runErr := collect(events, errs)
	require.NoError(t, runErr)
	require.Len(t, got, 2)

	branches := map[string]bool{}
	for _, ev := range got {
		branches[ev.Branch] = true
	}
	assert.Equal(t, map[string]bool{"Fanout.A": true, "Fanout.B": true}, branches)

	ref := core.SessionRef{AppName: "app", UserID: "u1", SessionID: "s1"}
	stored, _ := svc.Get(ref)
	_, okA := stored.GetState("a_out")
	_, okB := stored.GetState("b_out")
	assert.True(t, okA)
	assert.True(t, okB)
}

func TestRunner_ParallelYieldReturnsAfterOwnCommit(t *testing.T) {
	const perBranch = 10
	svc := session.NewInMemoryService()
	ref := core.SessionRef{AppName: "app", UserID: "u1", SessionID: "s1"}

	var violations atomic.Int64
	branchFn := func(ic *core.InvocationContext) error {
		for i := 0; i < perBranch; i++ {
			ev := core.NewTextEvent(ic.InvocationID, ic.AgentName, fmt.Sprintf("%s %d", ic.AgentName, i))
			if err := ic.Yield(ev); err != nil {
				return err
			}
			stored, err := svc.Get(ref)
			if err != nil {
				return err
			}
			found := false
			for _, committed := range stored.Events {
				if committed.ID == ev.ID {
					found = true
					break
				}
			}
			if !found {
				violations.Add(1)
			}
		}
		return nil
	}

	fanout := agent.NewParallelAgent("Fanout",
		agent.NewCustomAgent("A", branchFn),
		agent.NewCustomAgent("B", branchFn),
		agent.NewCustomAgent("C", branchFn),
		agent.NewCustomAgent("D", branchFn),
	)

	r, err := New("app", fanout, func(o *Options) { o.Sessions = svc })
	require.NoError(t, err)
	_, events, errs, err := r.Run(context.Background(), "u1", "s1", core.NewTextContent("user", "go"))
	require.NoError(t, err)

	got, runErr := collect(events, errs)
	require.NoError(t, runErr)
	assert.Len(t, got, 4*perBranch)
	assert.Zero(t, violations.Load(), "a branch resumed before its own event was committed")
}

func TestRunner_RunTimeout(t *testing.T) {
	root := agent.NewCustomAgent("Slow", func(ic *core.InvocationContext) error {
		select {
		case <-ic.Done():
			return ic.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})

	r, err := New("app", root)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, events, errs, err := r.Run(ctx, "u1", "s1", core.NewTextContent("user", "go"))
	require.NoError(t, err)

	got, runErr := collect(events, errs)
	assert.Empty(t, got)
	// Deadline surfaces as an error, unlike an explicit Cancel.
	require.Error(t, runErr)
}
