package flow

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/kaptinlin/jsonrepair"

	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/internal/util"
	"github.com/agentloop/agentloop/model"
	"github.com/agentloop/agentloop/tool"
)

// LLMFlow runs the request -> model -> tool loop for a single LLM agent. One
// Run call covers one invocation turn: repeated model turns until the model
// produces a final response, transfers, escalates, or parks on long-running
// tools.
type LLMFlow struct {
	agent      FlowAgent
	processors []RequestProcessor
	executor   *FunctionExecutor
}

// NewLLMFlow wires the default processors for an agent.
func NewLLMFlow(agent FlowAgent, executorCfg ExecutorConfig) *LLMFlow {
	return &LLMFlow{
		agent: agent,
		processors: []RequestProcessor{
			NewInstructionsProcessor(),
			NewTransferInstructionsProcessor(),
			NewContentsProcessor(),
		},
		executor: NewFunctionExecutor(executorCfg),
	}
}

// AddRequestProcessor appends a processor; registration order is execution
// order.
func (f *LLMFlow) AddRequestProcessor(p RequestProcessor) {
	f.processors = append(f.processors, p)
}

// turn outcome values.
type outcome int

const (
	outcomeContinue outcome = iota
	outcomeDone
)

// Run drives model turns until the invocation's portion of the conversation
// is complete. Events are yielded through ic; errors abort the invocation.
func (f *LLMFlow) Run(ic *core.InvocationContext) error {
	maxIters := f.agent.MaxIterations()
	for i := 0; i < maxIters; i++ {
		oc, err := f.runTurn(ic)
		if err != nil {
			return err
		}
		if oc == outcomeDone {
			return nil
		}
	}

	ic.Logger.Warn("agent.turn.limit", "agent", f.agent.Name(), "max_iterations", maxIters)
	ev := core.NewTextEvent(ic.InvocationID, f.agent.Name(),
		"Stopped: reached the maximum number of model turns for this request.")
	return ic.Yield(ev)
}

func (f *LLMFlow) runTurn(ic *core.InvocationContext) (outcome, error) {
	req := &model.Request{Stream: f.agent.StreamingEnabled()}
	for _, p := range f.processors {
		if err := p.ProcessRequest(ic, req, f.agent); err != nil {
			return outcomeDone, fmt.Errorf("request processor %s failed: %w", p.Name(), err)
		}
	}
	registry := f.agent.Tools()
	req.Tools = toolDefinitions(registry)

	if ic.Budget != nil {
		if err := ic.Budget.Consume(); err != nil {
			return outcomeDone, err
		}
	}

	resp, err := f.generate(ic, *req)
	if err != nil {
		return outcomeDone, err
	}

	ev := core.NewEvent(ic.InvocationID, f.agent.Name())
	ev.Content = &resp.Content

	calls := resp.Content.FunctionCalls()
	if len(calls) == 0 {
		if err := f.finishResponse(ic, &ev); err != nil {
			return outcomeDone, err
		}
		return outcomeDone, ic.Yield(ev)
	}

	var executable []core.FunctionCall
	for _, fc := range calls {
		impl, ok := registry[fc.Name]
		if ok && tool.IsLongRunning(impl) {
			ev.LongRunningToolIDs = append(ev.LongRunningToolIDs, fc.ID)
			continue
		}
		executable = append(executable, fc)
	}

	if err := ic.Yield(ev); err != nil {
		return outcomeDone, err
	}
	if len(executable) == 0 {
		// All calls park on out-of-band completion; the turn is final.
		return outcomeDone, nil
	}

	var stop bool
	emitFn := func(respEv core.Event) error {
		if respEv.Actions.TransferToAgent != "" || respEv.Actions.Escalate ||
			respEv.Actions.SkipSummarization {
			stop = true
		}
		return ic.Yield(respEv)
	}
	if err := f.executor.Execute(ic, f.agent.Name(), registry, executable, emitFn); err != nil {
		return outcomeDone, err
	}
	if stop {
		return outcomeDone, nil
	}
	return outcomeContinue, nil
}

// generate performs the model call with retries, forwarding partial chunks
// when streaming is enabled, and returns the final response.
func (f *LLMFlow) generate(ic *core.InvocationContext, req model.Request) (model.Response, error) {
	llm := f.agent.Model()
	attempts := f.agent.MaxRetries() + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ic.Err(); err != nil {
			return model.Response{}, err
		}
		resp, err := f.generateOnce(ic, llm, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		ic.Logger.Warn("agent.model.retry",
			"agent", f.agent.Name(),
			"attempt", attempt,
			"error", err.Error(),
		)
	}
	return model.Response{}, &core.ModelError{
		Provider: llm.Info().Provider,
		Attempts: attempts,
		Err:      lastErr,
	}
}

func (f *LLMFlow) generateOnce(ic *core.InvocationContext, llm model.Model, req model.Request) (model.Response, error) {
	respCh, errCh := llm.Generate(ic.Context, req)
	var final *model.Response
	for respCh != nil || errCh != nil {
		select {
		case <-ic.Done():
			return model.Response{}, ic.Err()
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if resp.Partial {
				if req.Stream {
					ev := core.NewEvent(ic.InvocationID, f.agent.Name())
					content := resp.Content
					ev.Content = &content
					ev.Partial = true
					if err := ic.EmitEvent(ev); err != nil {
						return model.Response{}, err
					}
				}
				continue
			}
			r := resp
			final = &r
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return model.Response{}, err
			}
		}
	}
	if final == nil {
		return model.Response{}, fmt.Errorf("model produced no final response")
	}
	return *final, nil
}

// finishResponse applies output handling to the turn's final text response:
// optional schema validation and optional state capture under the output key.
func (f *LLMFlow) finishResponse(ic *core.InvocationContext, ev *core.Event) error {
	text := ""
	if ev.Content != nil {
		text = ev.Content.Text()
	}
	schema := f.agent.OutputSchema()
	outputKey := f.agent.OutputKey()
	if schema == nil {
		if outputKey != "" && text != "" {
			ic.SetState(outputKey, text)
		}
		return nil
	}

	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return &core.StateError{Op: "output", Key: outputKey,
			Msg: fmt.Sprintf("response is not valid JSON: %v", err)}
	}
	var doc any
	if err := json.Unmarshal([]byte(repaired), &doc); err != nil {
		return &core.StateError{Op: "output", Key: outputKey,
			Msg: fmt.Sprintf("response is not valid JSON: %v", err)}
	}
	if err := util.ValidateJSON(doc, schema); err != nil {
		return &core.StateError{Op: "output", Key: outputKey,
			Msg: fmt.Sprintf("response does not match output schema: %v", err)}
	}
	if outputKey != "" {
		ic.SetState(outputKey, doc)
	}
	return nil
}

func toolDefinitions(registry map[string]tool.Tool) []model.ToolDefinition {
	if len(registry) == 0 {
		return nil
	}
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]model.ToolDefinition, len(names))
	for i, name := range names {
		t := registry[name]
		defs[i] = model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		}
	}
	return defs
}
