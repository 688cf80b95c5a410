package core

import (
	"fmt"
	"sync"
)

// CallBudget caps the number of model calls one invocation may make,
// shared across every agent participating in it (transfers included).
// A max of 0 means unlimited.
type CallBudget struct {
	mu    sync.Mutex
	max   int
	count int
}

// NewCallBudget creates a budget with the given cap.
func NewCallBudget(max int) *CallBudget { return &CallBudget{max: max} }

// Consume records one call, returning an error once the cap is exceeded.
func (b *CallBudget) Consume() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.count++
	if b.max > 0 && b.count > b.max {
		return fmt.Errorf("model call budget exceeded: %d", b.max)
	}
	return nil
}

// Count returns calls made so far.
func (b *CallBudget) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Remaining returns calls left, or -1 when unlimited.
func (b *CallBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max == 0 {
		return -1
	}
	return b.max - b.count
}
