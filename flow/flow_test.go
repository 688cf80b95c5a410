package flow

import (
	"context"

	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/model"
	"github.com/agentloop/agentloop/tool"
)

// fakeAgent is a minimal FlowAgent for driving the flow in tests.
type fakeAgent struct {
	name            string
	llm             model.Model
	instruction     string
	instructionErr  error
	tools           map[string]tool.Tool
	transferTargets []TransferTarget
	outputKey       string
	outputSchema    map[string]any
	maxHistory      int
	maxIterations   int
	maxRetries      int
	streaming       bool
}

func newFakeAgent(llm model.Model) *fakeAgent {
	return &fakeAgent{
		name:          "TestAgent",
		llm:           llm,
		instruction:   "You are a test agent.",
		tools:         map[string]tool.Tool{},
		maxIterations: 10,
	}
}

func (a *fakeAgent) Name() string       { return a.name }
func (a *fakeAgent) Model() model.Model { return a.llm }
func (a *fakeAgent) Instruction(*core.InvocationContext) (string, error) {
	return a.instruction, a.instructionErr
}
func (a *fakeAgent) Tools() map[string]tool.Tool       { return a.tools }
func (a *fakeAgent) TransferTargets() []TransferTarget { return a.transferTargets }
func (a *fakeAgent) OutputKey() string                 { return a.outputKey }
func (a *fakeAgent) OutputSchema() map[string]any      { return a.outputSchema }
func (a *fakeAgent) MaxHistoryMessages() int           { return a.maxHistory }
func (a *fakeAgent) MaxIterations() int                { return a.maxIterations }
func (a *fakeAgent) MaxRetries() int                   { return a.maxRetries }
func (a *fakeAgent) StreamingEnabled() bool            { return a.streaming }

// runFlow executes the flow against a fresh session, pumping the resume
// channel like the runner would, and returns the emitted events.
func runFlow(fl *LLMFlow, userText string) ([]core.Event, error) {
	ref := core.SessionRef{AppName: "app", UserID: "u1", SessionID: "s1"}
	ms := core.NewMutableSession(core.NewSession(ref))
	userContent := core.NewTextContent("user", userText)
	ms.AppendEvent(core.NewUserEvent("inv-1", userContent))

	emit := make(chan core.Event, 64)
	resume := make(chan struct{}, 64)
	ic := core.NewInvocationContext(
		context.Background(), "inv-1", "TestAgent", ref,
		userContent, emit, resume, ms, nil,
	)

	done := make(chan error, 1)
	go func() { done <- fl.Run(ic) }()

	var events []core.Event
	for {
		select {
		case ev := <-emit:
			events = append(events, ev)
			if !ev.Partial {
				ms.CommitDelta(ev.Actions.StateDelta)
				ms.AppendEvent(ev)
				resume <- struct{}{}
			}
		case err := <-done:
			for {
				select {
				case ev := <-emit:
					events = append(events, ev)
				default:
					return events, err
				}
			}
		}
	}
}
