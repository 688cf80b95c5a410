package core

import "fmt"

// Event error codes carried by terminal error events.
const (
	CodeModelError  = "MODEL_ERROR"
	CodeToolError   = "TOOL_ERROR"
	CodeStateError  = "STATE_ERROR"
	CodeCommitError = "COMMIT_ERROR"
	CodeConfigError = "CONFIG_ERROR"
)

// ModelError wraps a failed provider call, after retries were exhausted.
// Recoverable from the orchestrating agent's point of view.
type ModelError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model call failed after %d attempt(s) (%s): %v", e.Attempts, e.Provider, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// StateError reports template or schema failures against session state:
// a missing required variable, or model output that does not conform to a
// declared schema. Reported as a failed terminal event, not a crash.
type StateError struct {
	Op  string // "template", "output_schema"
	Key string
	Msg string
}

func (e *StateError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("state error in %s (%s): %s", e.Op, e.Key, e.Msg)
	}
	return fmt.Sprintf("state error in %s: %s", e.Op, e.Msg)
}

// CommitError reports a SessionService or ArtifactService failure while
// processing an event. Always fatal to the invocation: no partial commit is
// retried.
type CommitError struct {
	Stage string // "state_delta", "append_event", "artifact"
	Err   error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit failed at %s: %v", e.Stage, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// ConfigError reports invalid construction-time configuration (duplicate
// agent names, a loop without an iteration cap). Never raised at run time.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config error: " + e.Msg }

// NewConfigError formats a ConfigError.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}
