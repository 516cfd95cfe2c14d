package core

import (
	"errors"
	"fmt"
	"sync"
)

// ErrCallLimitExceeded is returned once a CallLimiter's budget is used up.
var ErrCallLimitExceeded = errors.New("model call limit exceeded")

// CallLimiter bounds the number of model calls made while answering one user
// message, so a model that keeps requesting tools cannot loop forever.
// A limit of 0 means unlimited.
type CallLimiter struct {
	mu    sync.Mutex
	limit int
	count int
}

// NewCallLimiter creates a limiter allowing limit calls per turn.
func NewCallLimiter(limit int) *CallLimiter {
	return &CallLimiter{limit: limit}
}

// Increment records one call. It fails with ErrCallLimitExceeded when the
// call would exceed the limit.
func (cl *CallLimiter) Increment() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.limit > 0 && cl.count >= cl.limit {
		return fmt.Errorf("%w: %d", ErrCallLimitExceeded, cl.limit)
	}
	cl.count++

	return nil
}

// Reset starts a new turn.
func (cl *CallLimiter) Reset() {
	cl.mu.Lock()
	cl.count = 0
	cl.mu.Unlock()
}

// Count returns the number of calls recorded in the current turn.
func (cl *CallLimiter) Count() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	return cl.count
}

// Remaining returns how many calls are left, or -1 when unlimited.
func (cl *CallLimiter) Remaining() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.limit == 0 {
		return -1
	}

	return cl.limit - cl.count
}
