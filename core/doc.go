// Package core contains the shared data model and contracts of the agentloop
// runtime: Events and their side-effect actions, session state with scoped
// keys, the per-invocation mutable session view, invocation and tool contexts,
// and the service interfaces (sessions, artifacts, memory) the orchestrator
// commits against.
//
// Everything in core is transport-agnostic. The Runner (package runner) drives
// agents that emit Events through an InvocationContext; core defines the
// vocabulary both sides speak.
package core
