package tool

import "github.com/agentloop/agentloop/core"

// exitLoopTool lets an agent break out of an enclosing loop by setting the
// escalate action on its next event.
type exitLoopTool struct{}

// NewExitLoopTool constructs the exit_loop tool instance.
func NewExitLoopTool() Tool { return &exitLoopTool{} }

func (t *exitLoopTool) Name() string { return "exit_loop" }

func (t *exitLoopTool) Description() string {
	return "Exit the current loop. Call this when the task is complete and no further iterations are needed."
}

func (t *exitLoopTool) Parameters() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *exitLoopTool) Call(tc *core.ToolContext, _ map[string]any) (any, error) {
	tc.Escalate()
	tc.SkipSummarization()
	return map[string]any{"exited": true}, nil
}
