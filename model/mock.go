package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentloop/agentloop/core"
)

// MockTurn scripts one model turn for MockModel.
type MockTurn struct {
	// Text is emitted as assistant text; when Stream is requested it is
	// chunked rune by rune before the final response.
	Text string
	// Calls are function calls attached to the final response.
	Calls []core.FunctionCall
	// Err aborts the turn with this error instead of producing content.
	Err error
}

// MockModel is a scripted in-memory Model for tests and examples. Turns are
// consumed in order; beyond the script it echoes the last user text.
type MockModel struct {
	mu    sync.Mutex
	info  Info
	turns []MockTurn
	next  int

	// Requests records every request seen, for assertions.
	Requests []Request
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info: Info{Name: name, Provider: "mock", SupportsTools: true},
	}
}

// Script appends turns to the playback queue.
func (m *MockModel) Script(turns ...MockTurn) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turns...)
	return m
}

// CallCount reports how many turns have been consumed.
func (m *MockModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	var turn MockTurn
	if m.next < len(m.turns) {
		turn = m.turns[m.next]
	} else {
		turn = MockTurn{Text: fmt.Sprintf("Mock response to: %s", lastUserText(req.Contents))}
	}
	m.next++
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)
		if turn.Err != nil {
			errCh <- turn.Err
			return
		}
		if req.Stream && turn.Text != "" {
			for _, r := range turn.Text {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{
					Partial: true,
					Content: core.Content{
						Role:  "assistant",
						Parts: []core.Part{core.TextPart{Text: string(r)}},
					},
				}:
				}
			}
		}
		final := Response{
			Content:      core.Content{Role: "assistant"},
			FinishReason: "stop",
		}
		if turn.Text != "" {
			final.Content.Parts = append(final.Content.Parts, core.TextPart{Text: turn.Text})
		}
		for _, call := range turn.Calls {
			final.Content.Parts = append(final.Content.Parts, core.FunctionCallPart{FunctionCall: call})
		}
		if len(turn.Calls) > 0 {
			final.FinishReason = "tool_calls"
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- final:
		}
	}()
	return respCh, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }

func lastUserText(contents []core.Content) string {
	for i := len(contents) - 1; i >= 0; i-- {
		if contents[i].Role == "user" {
			return contents[i].Text()
		}
	}
	return ""
}
