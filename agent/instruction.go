package agent

import "github.com/agentloop/agentloop/core"

// InstructionProvider supplies dynamic instruction text at runtime, derived
// from session state, the environment, or anything else.
type InstructionProvider interface {
	Instruction(*core.InvocationContext) (string, error)
}

// InstructionFunc adapts an ordinary function to InstructionProvider.
type InstructionFunc func(*core.InvocationContext) (string, error)

// Instruction implements InstructionProvider.
func (f InstructionFunc) Instruction(ic *core.InvocationContext) (string, error) { return f(ic) }

// Instruction is either a static string or a dynamic provider, mirroring a
// string-or-provider union in a Go-idiomatic way. Placeholders like {key},
// {key?} and {artifact.name} in the resolved text are expanded against
// session state before reaching the model.
type Instruction struct {
	text     string
	provider InstructionProvider
}

// NewInstructionFromText creates an Instruction from a static string.
func NewInstructionFromText(text string) Instruction { return Instruction{text: text} }

// NewInstructionFromProvider creates an Instruction from a dynamic provider.
func NewInstructionFromProvider(p InstructionProvider) Instruction { return Instruction{provider: p} }

// NewInstructionFromFunc creates an Instruction from a function.
func NewInstructionFromFunc(f func(*core.InvocationContext) (string, error)) Instruction {
	return Instruction{provider: InstructionFunc(f)}
}

// IsStatic reports whether the instruction is a fixed string.
func (i Instruction) IsStatic() bool { return i.provider == nil }

// Resolve returns the instruction text, invoking the provider if present.
func (i Instruction) Resolve(ic *core.InvocationContext) (string, error) {
	if i.provider != nil {
		return i.provider.Instruction(ic)
	}
	return i.text, nil
}
