package flow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/model"
	"github.com/agentloop/agentloop/tool"
)

func TestLLMFlow_SimpleTextTurn(t *testing.T) {
	mock := model.NewMockModel("test").Script(model.MockTurn{Text: "Hello there"})
	agent := newFakeAgent(mock)

	events, err := runFlow(NewLLMFlow(agent, ExecutorConfig{}), "hi")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "TestAgent", events[0].Author)
	assert.Equal(t, "Hello there", events[0].Content.Text())
	assert.True(t, events[0].IsFinalResponse())
	assert.Equal(t, 1, mock.CallCount())
}

func TestLLMFlow_Streaming(t *testing.T) {
	mock := model.NewMockModel("test").Script(model.MockTurn{Text: "abc"})
	agent := newFakeAgent(mock)
	agent.streaming = true

	events, err := runFlow(NewLLMFlow(agent, ExecutorConfig{}), "hi")
	require.NoError(t, err)
	require.Len(t, events, 4, "three partial chunks plus the final event")
	for _, ev := range events[:3] {
		assert.True(t, ev.Partial)
	}
	final := events[3]
	assert.False(t, final.Partial)
	assert.Equal(t, "abc", final.Content.Text())
}

func TestLLMFlow_OutputKey(t *testing.T) {
	mock := model.NewMockModel("test").Script(model.MockTurn{Text: "the draft text"})
	agent := newFakeAgent(mock)
	agent.outputKey = "draft"

	events, err := runFlow(NewLLMFlow(agent, ExecutorConfig{}), "write")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "the draft text", events[0].Actions.StateDelta["draft"])
}

func TestLLMFlow_OutputSchema(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
		},
		"required": []string{"title"},
	}

	mock := model.NewMockModel("test").Script(model.MockTurn{Text: `{"title": "Report"}`})
	agent := newFakeAgent(mock)
	agent.outputKey = "doc"
	agent.outputSchema = schema

	events, err := runFlow(NewLLMFlow(agent, ExecutorConfig{}), "go")
	require.NoError(t, err)
	require.Len(t, events, 1)
	doc, ok := events[0].Actions.StateDelta["doc"].(map[string]any)
	require.True(t, ok, "parsed document stored under the output key")
	assert.Equal(t, "Report", doc["title"])
}

func TestLLMFlow_OutputSchemaRepairsJSON(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
		},
		"required": []string{"title"},
	}

	// Trailing comma and unquoted key, the kind of almost-JSON models emit.
	mock := model.NewMockModel("test").Script(model.MockTurn{Text: "{title: \"Report\",}"})
	agent := newFakeAgent(mock)
	agent.outputKey = "doc"
	agent.outputSchema = schema

	events, err := runFlow(NewLLMFlow(agent, ExecutorConfig{}), "go")
	require.NoError(t, err)
	doc := events[0].Actions.StateDelta["doc"].(map[string]any)
	assert.Equal(t, "Report", doc["title"])
}

func TestLLMFlow_OutputSchemaViolation(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
		},
		"required": []string{"title"},
	}

	mock := model.NewMockModel("test").Script(model.MockTurn{Text: `{"other": 1}`})
	agent := newFakeAgent(mock)
	agent.outputSchema = schema

	_, err := runFlow(NewLLMFlow(agent, ExecutorConfig{}), "go")
	require.Error(t, err)
	var stateErr *core.StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "output", stateErr.Op)
}

func TestLLMFlow_ToolCallLoop(t *testing.T) {
	mock := model.NewMockModel("test").Script(
		model.MockTurn{Calls: []core.FunctionCall{
			{ID: "c1", Name: "lookup", Arguments: `{"q":"go"}`},
		}},
		model.MockTurn{Text: "The answer is 42"},
	)
	agent := newFakeAgent(mock)
	agent.tools["lookup"] = tool.NewFunctionTool("lookup", "looks things up",
		map[string]any{"type": "object"},
		func(_ *core.ToolContext, _ map[string]any) (any, error) {
			return 42, nil
		})

	events, err := runFlow(NewLLMFlow(agent, ExecutorConfig{}), "what?")
	require.NoError(t, err)
	require.Len(t, events, 3)

	require.Len(t, events[0].FunctionCalls(), 1)
	resps := events[1].FunctionResponses()
	require.Len(t, resps, 1)
	assert.Equal(t, "c1", resps[0].ID)
	assert.Equal(t, "The answer is 42", events[2].Content.Text())
	assert.Equal(t, 2, mock.CallCount())

	// The second request carried the tool result back to the model.
	secondReq := mock.Requests[1]
	var sawToolResult bool
	for _, c := range secondReq.Contents {
		if len(c.FunctionResponses()) > 0 {
			sawToolResult = true
		}
	}
	assert.True(t, sawToolResult)
}

func TestLLMFlow_ToolDefinitionsSorted(t *testing.T) {
	mock := model.NewMockModel("test").Script(model.MockTurn{Text: "done"})
	agent := newFakeAgent(mock)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		agent.tools[name] = tool.NewFunctionTool(name, "", map[string]any{"type": "object"}, nil)
	}

	_, err := runFlow(NewLLMFlow(agent, ExecutorConfig{}), "hi")
	require.NoError(t, err)
	require.Len(t, mock.Requests, 1)
	var names []string
	for _, def := range mock.Requests[0].Tools {
		names = append(names, def.Function.Name)
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestLLMFlow_SkipSummarizationStops(t *testing.T) {
	mock := model.NewMockModel("test").Script(
		model.MockTurn{Calls: []core.FunctionCall{{ID: "c1", Name: "final_answer"}}},
	)
	agent := newFakeAgent(mock)
	agent.tools["final_answer"] = tool.NewFunctionTool("final_answer", "",
		map[string]any{"type": "object"},
		func(tc *core.ToolContext, _ map[string]any) (any, error) {
			tc.SkipSummarization()
			return "direct result", nil
		})

	events, err := runFlow(NewLLMFlow(agent, ExecutorConfig{}), "go")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[1].Actions.SkipSummarization)
	assert.Equal(t, 1, mock.CallCount(), "no summarization turn after skip")
}

func TestLLMFlow_LongRunningParksTurn(t *testing.T) {
	mock := model.NewMockModel("test").Script(
		model.MockTurn{Calls: []core.FunctionCall{{ID: "c1", Name: "ask_human"}}},
	)
	agent := newFakeAgent(mock)
	agent.tools["ask_human"] = tool.NewFunctionTool("ask_human", "",
		map[string]any{"type": "object"},
		func(_ *core.ToolContext, _ map[string]any) (any, error) {
			t.Fatal("long-running tool must not execute inline")
			return nil, nil
		}, tool.WithLongRunning())

	events, err := runFlow(NewLLMFlow(agent, ExecutorConfig{}), "go")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"c1"}, events[0].LongRunningToolIDs)
	assert.True(t, events[0].IsFinalResponse())
	assert.Equal(t, 1, mock.CallCount())
}

func TestLLMFlow_IterationCapTruncates(t *testing.T) {
	loopCall := model.MockTurn{Calls: []core.FunctionCall{{ID: "c", Name: "noop"}}}
	mock := model.NewMockModel("test").Script(loopCall, loopCall, loopCall)
	agent := newFakeAgent(mock)
	agent.maxIterations = 2
	agent.tools["noop"] = tool.NewFunctionTool("noop", "", map[string]any{"type": "object"},
		func(_ *core.ToolContext, _ map[string]any) (any, error) { return "ok", nil })

	events, err := runFlow(NewLLMFlow(agent, ExecutorConfig{}), "go")
	require.NoError(t, err)
	assert.Equal(t, 2, mock.CallCount())

	final := events[len(events)-1]
	assert.Contains(t, final.Content.Text(), "maximum number of model turns")
}

func TestLLMFlow_ModelErrorAfterRetries(t *testing.T) {
	mock := model.NewMockModel("test").Script(
		model.MockTurn{Err: errors.New("rate limited")},
		model.MockTurn{Err: errors.New("rate limited")},
	)
	agent := newFakeAgent(mock)
	agent.maxRetries = 1

	_, err := runFlow(NewLLMFlow(agent, ExecutorConfig{}), "go")
	require.Error(t, err)
	var modelErr *core.ModelError
	require.ErrorAs(t, err, &modelErr)
	assert.Equal(t, "mock", modelErr.Provider)
	assert.Equal(t, 2, modelErr.Attempts)
	assert.Equal(t, 2, mock.CallCount())
}

func TestLLMFlow_RetrySucceeds(t *testing.T) {
	mock := model.NewMockModel("test").Script(
		model.MockTurn{Err: fmt.Errorf("transient")},
		model.MockTurn{Text: "recovered"},
	)
	agent := newFakeAgent(mock)
	agent.maxRetries = 2

	events, err := runFlow(NewLLMFlow(agent, ExecutorConfig{}), "go")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "recovered", events[0].Content.Text())
}
