package flow

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/agentloop/agentloop/core"
	"github.com/agentloop/agentloop/tool"
)

// ExecutorConfig configures the default function executor.
type ExecutorConfig struct {
	// MaxParallel bounds concurrent tool calls; 0 or less means unbounded.
	MaxParallel int
	// PreserveOrder buffers results and emits them in call order instead of
	// completion order.
	PreserveOrder bool
}

// FunctionExecutor runs a batch of function calls from one model turn and
// emits exactly one function response event per executed call through emit.
// Long-running calls are skipped entirely; their ids were already recorded on
// the call event. Tools marked sequential run one at a time after the
// parallel batch. Panics inside tools are recovered and surfaced as tool
// errors.
type FunctionExecutor struct {
	cfg ExecutorConfig
}

// NewFunctionExecutor constructs an executor with the given config.
func NewFunctionExecutor(cfg ExecutorConfig) *FunctionExecutor {
	return &FunctionExecutor{cfg: cfg}
}

// Execute runs the calls and reports whether any response was emitted. The
// emit callback handles yield synchronization; its error aborts the batch.
func (e *FunctionExecutor) Execute(
	ic *core.InvocationContext,
	author string,
	registry map[string]tool.Tool,
	calls []core.FunctionCall,
	emit func(core.Event) error,
) error {
	var parallel, sequential []core.FunctionCall
	for _, fc := range calls {
		impl, ok := registry[fc.Name]
		if ok && tool.IsLongRunning(impl) {
			continue
		}
		if ok && tool.IsSequential(impl) {
			sequential = append(sequential, fc)
			continue
		}
		parallel = append(parallel, fc)
	}

	batchStart := time.Now()
	if len(parallel) == 1 && len(sequential) == 0 {
		ev := e.executeOne(ic, author, registry, parallel[0])
		return emit(ev)
	}

	if len(parallel) > 0 {
		maxPar := e.cfg.MaxParallel
		if maxPar <= 0 || maxPar > len(parallel) {
			maxPar = len(parallel)
		}
		results := make([]core.Event, len(parallel))
		done := make([]bool, len(parallel))
		var (
			mu      sync.Mutex
			wg      sync.WaitGroup
			emitErr error
		)
		sem := make(chan struct{}, maxPar)
		for i := range parallel {
			if ic.Err() != nil {
				break
			}
			wg.Add(1)
			sem <- struct{}{}
			go func(idx int, fc core.FunctionCall) {
				defer wg.Done()
				defer func() { <-sem }()
				if ic.Err() != nil {
					return
				}
				ev := e.executeOne(ic, author, registry, fc)
				mu.Lock()
				defer mu.Unlock()
				if e.cfg.PreserveOrder {
					results[idx] = ev
					done[idx] = true
					return
				}
				if emitErr == nil {
					emitErr = emit(ev)
				}
			}(i, parallel[i])
		}
		wg.Wait()
		if emitErr != nil {
			return emitErr
		}
		if e.cfg.PreserveOrder {
			for i := range results {
				if !done[i] {
					continue
				}
				if err := emit(results[i]); err != nil {
					return err
				}
			}
		}
	}

	for _, fc := range sequential {
		if ic.Err() != nil {
			return ic.Err()
		}
		ev := e.executeOne(ic, author, registry, fc)
		if err := emit(ev); err != nil {
			return err
		}
	}

	ic.Logger.Debug("agent.functions.batch.complete",
		"agent", author,
		"count", len(parallel)+len(sequential),
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)
	return nil
}

func (e *FunctionExecutor) executeOne(
	ic *core.InvocationContext,
	author string,
	registry map[string]tool.Tool,
	fc core.FunctionCall,
) core.Event {
	toolCtx := core.NewToolContext(ic, fc.ID)
	start := time.Now()
	var (
		result any
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = panicError(r)
				ic.Logger.Error("agent.function.panic", "agent", author, "function", fc.Name, "recover", r)
			}
		}()
		result, err = callTool(registry, toolCtx, fc.Name, fc.Arguments)
	}()

	ic.Logger.Info("agent.function.executed",
		"agent", author,
		"function", fc.Name,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil,
	)

	ev := core.NewFunctionResponseEvent(ic.InvocationID, author, fc.ID, fc.Name, result, err)
	toolCtx.ApplyActions(&ev)
	return ev
}

// callTool centralizes tool lookup, argument decoding, and execution.
func callTool(registry map[string]tool.Tool, toolCtx *core.ToolContext, name, args string) (any, error) {
	impl, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("tool %s not found", name)
	}
	argMap := map[string]any{}
	if args != "" {
		if err := json.Unmarshal([]byte(args), &argMap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal args: %w", err)
		}
	}
	return impl.Call(toolCtx, argMap)
}

func panicError(r any) error { return &panicErr{val: r, stack: debug.Stack()} }

type panicErr struct {
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return fmt.Sprintf("panic recovered: %v", p.val) }
