package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentcontext/core"
)

// Batch is the set of invocations requested by one model turn, in call
// order. A batch is complete only when every invocation is terminal.
type Batch struct {
	invocations []*Invocation
}

// SubmitBatch submits every call in order. Invocations awaiting approval do
// not hold up the evaluation of later calls.
func (l *Lifecycle) SubmitBatch(ctx context.Context, calls []core.FunctionCall) *Batch {
	start := time.Now()
	b := &Batch{invocations: make([]*Invocation, 0, len(calls))}
	for _, call := range calls {
		b.invocations = append(b.invocations, l.Submit(ctx, call))
	}
	l.logger.Debug("tool.batch.submitted",
		"count", len(calls),
		"pending", len(b.Pending()),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return b
}

// Invocations returns the invocations in call order. A re-delivered ID
// appears once per delivery and points to the same invocation.
func (b *Batch) Invocations() []*Invocation {
	return append([]*Invocation(nil), b.invocations...)
}

// Len returns the number of calls in the batch.
func (b *Batch) Len() int { return len(b.invocations) }

// Pending returns the invocations awaiting a prompt decision.
func (b *Batch) Pending() []*Invocation {
	var out []*Invocation
	seen := make(map[string]bool)
	for _, inv := range b.invocations {
		if !seen[inv.ID] && inv.Status() == StatusPendingPrompt {
			out = append(out, inv)
		}
		seen[inv.ID] = true
	}
	return out
}

// Complete reports whether every invocation is terminal.
func (b *Batch) Complete() bool {
	for _, inv := range b.invocations {
		if !inv.Status().Terminal() {
			return false
		}
	}
	return true
}

// Wait blocks until every invocation is terminal or ctx is done.
func (b *Batch) Wait(ctx context.Context) error {
	for _, inv := range b.invocations {
		if _, err := inv.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Results returns one result per call in call order. It fails with
// ErrBatchIncomplete so callers never observe a partial set.
func (b *Batch) Results() ([]*Result, error) {
	results := make([]*Result, 0, len(b.invocations))
	for _, inv := range b.invocations {
		res := inv.Result()
		if res == nil {
			return nil, fmt.Errorf("invocation %s is %s: %w", inv.ID, inv.Status(), ErrBatchIncomplete)
		}
		results = append(results, res)
	}
	return results, nil
}

// Message builds the tool-role message folding the batch back into history.
// Re-delivered IDs contribute a single response. Parts attached by methods
// follow the response of their invocation.
func (b *Batch) Message() (core.Message, error) {
	results, err := b.Results()
	if err != nil {
		return core.Message{}, err
	}
	seen := make(map[string]bool, len(results))
	var parts []core.Part
	for _, r := range results {
		if seen[r.InvocationID] {
			continue
		}
		seen[r.InvocationID] = true
		parts = append(parts, core.FunctionResponsePart{FunctionResponse: r.FunctionResponse()})
		parts = append(parts, core.CloneParts(r.Parts)...)
	}
	return core.NewMessage(core.RoleTool, parts...), nil
}
