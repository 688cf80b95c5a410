// Package tool implements the function calling subsystem that lets agents
// invoke structured capabilities with schema validated arguments and uniform
// error handling.
package tool

import (
	"fmt"

	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/internal/util"
)

// Tool is a callable capability exposed to a model.
//
// Implementations should provide descriptive names (snake_case recommended),
// a JSON schema for Parameters, and be safe for concurrent use.
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description is shown to the model so it knows when to call the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool. Arguments have been decoded from the model's
	// JSON and validated against Parameters.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// LongRunningTool marks a tool whose result arrives out of band. The executor
// records the pending call instead of waiting for a result, and the turn ends
// so the caller can resume later with a function response.
type LongRunningTool interface {
	Tool
	IsLongRunning() bool
}

// SequentialTool marks a tool that must not run concurrently with other calls
// from the same model turn.
type SequentialTool interface {
	Tool
	MustRunSequentially() bool
}

// IsLongRunning reports whether a tool declares deferred completion.
func IsLongRunning(t Tool) bool {
	lr, ok := t.(LongRunningTool)
	return ok && lr.IsLongRunning()
}

// IsSequential reports whether a tool opts out of parallel execution.
func IsSequential(t Tool) bool {
	st, ok := t.(SequentialTool)
	return ok && st.MustRunSequentially()
}

// ValidationError re-exports the schema validation error type.
type ValidationError = util.ValidationError

// Error codes attached to ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
)

// ToolError represents a failure during tool execution. Tool errors are fed
// back to the model as function responses rather than aborting the turn.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a ToolError with the given code.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}
