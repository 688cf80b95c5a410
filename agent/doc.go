// Package agent contains first-class agent implementations for building
// composable reasoning and orchestration graphs:
//
//  1. Hierarchy plumbing shared by all agents (BaseAgent)
//  2. Workflow coordinators (SequentialAgent, ParallelAgent, LoopAgent)
//  3. The model-driven conversational agent (LLMAgent)
//  4. CustomAgent for arbitrary Run logic
//
// Agents nest arbitrarily via WithSubAgents / FindAgent. Execution receives a
// *core.InvocationContext; composites coordinate child Runs over the same
// shared session while the runner owns commits.
package agent
