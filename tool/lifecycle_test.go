package tool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcontext/core"
)

func newTestLifecycle(t *testing.T, methods []Method, optFns ...func(o *Options)) *Lifecycle {
	t.Helper()
	reg, err := NewRegistry(methods...)
	require.NoError(t, err)
	return NewLifecycle(reg, optFns...)
}

func countingMethod(name string, calls *int32, fn Func) Method {
	return NewMethod(name, "test method", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string"},
		},
	}, func(tc *ToolContext, args map[string]any) (any, error) {
		atomic.AddInt32(calls, 1)
		if fn != nil {
			return fn(tc, args)
		}
		return "ok", nil
	})
}

func TestLifecycle_AlwaysAskDeniedNeverExecutes(t *testing.T) {
	var calls int32
	var prompted []*Invocation
	readFile := NewMethod("readFile", "Read a file", map[string]any{
		"type":       "object",
		"properties": map[string]any{"path": map[string]any{"type": "string"}},
		"required":   []string{"path"},
	}, func(*ToolContext, map[string]any) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "content", nil
	})

	l := newTestLifecycle(t, []Method{readFile}, func(o *Options) {
		o.Preferences = NewPreferences(AlwaysAllow)
		o.Prompter = func(inv *Invocation) { prompted = append(prompted, inv) }
	})
	l.Preferences().Set("readFile", AlwaysAsk)

	inv := l.Submit(context.Background(), core.FunctionCall{ID: "c1", Name: "readFile", Arguments: `{"path":"/tmp/a.txt"}`})
	require.Equal(t, StatusPendingPrompt, inv.Status())
	require.Len(t, prompted, 1)
	assert.Same(t, inv, prompted[0])
	assert.Nil(t, inv.Result())

	require.NoError(t, l.Decide(context.Background(), "c1", Deferred))
	assert.Equal(t, StatusPendingPrompt, inv.Status())

	require.NoError(t, l.Decide(context.Background(), "c1", Denied))
	assert.Equal(t, StatusDenied, inv.Status())
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	res := inv.Result()
	require.NotNil(t, res)
	require.NotNil(t, res.Error)
	assert.Equal(t, CodeDenied, res.Error.Code)

	assert.ErrorIs(t, l.Decide(context.Background(), "c1", Approved), ErrNotPending)
	assert.ErrorIs(t, l.Decide(context.Background(), "nope", Approved), ErrUnknownInvocation)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestLifecycle_AlwaysAskApproved(t *testing.T) {
	var calls int32
	l := newTestLifecycle(t, []Method{countingMethod("m", &calls, nil)})

	inv := l.Submit(context.Background(), core.FunctionCall{ID: "c1", Name: "m"})
	require.Equal(t, StatusPendingPrompt, inv.Status())
	assert.Len(t, l.Pending(), 1)

	require.NoError(t, l.Decide(context.Background(), "c1", Approved))
	assert.Equal(t, StatusSucceeded, inv.Status())
	assert.Equal(t, "ok", inv.Result().Value)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, l.Pending())
}

func TestLifecycle_DuplicateIDExecutesOnce(t *testing.T) {
	var calls int32
	getTime := countingMethod("getTime", &calls, func(*ToolContext, map[string]any) (any, error) {
		return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), nil
	})
	l := newTestLifecycle(t, []Method{getTime}, func(o *Options) {
		o.Preferences = NewPreferences(AlwaysAllow)
	})

	call := core.FunctionCall{ID: "dup", Name: "getTime"}
	batch := l.SubmitBatch(context.Background(), []core.FunctionCall{call, call})
	require.NoError(t, batch.Wait(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	results, err := batch.Results()
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Same(t, results[0], results[1])

	// A later re-delivery short-circuits as well.
	again := l.Submit(context.Background(), call)
	assert.Same(t, results[0], again.Result())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	msg, err := batch.Message()
	require.NoError(t, err)
	assert.Equal(t, core.RoleTool, msg.Role)
	assert.Len(t, msg.FunctionResponses(), 1)
}

func TestLifecycle_ValidationBypassesApproval(t *testing.T) {
	var calls int32
	prompted := 0
	m := NewMethod("typed", "typed args", map[string]any{
		"type":       "object",
		"properties": map[string]any{"n": map[string]any{"type": "integer"}},
		"required":   []string{"n"},
	}, func(*ToolContext, map[string]any) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, nil
	})
	l := newTestLifecycle(t, []Method{m}, func(o *Options) {
		o.Prompter = func(*Invocation) { prompted++ }
	})

	for _, args := range []string{`{"n":"x"}`, `{}`, `{"n":null}`, `{not json`} {
		inv := l.Submit(context.Background(), core.FunctionCall{Name: "typed", Arguments: args})
		assert.Equal(t, StatusFailed, inv.Status(), args)
		require.NotNil(t, inv.Result().Error)
		assert.Equal(t, CodeValidationError, inv.Result().Error.Code, args)
		assert.NotEmpty(t, inv.ID)
	}
	assert.Zero(t, prompted)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestLifecycle_UnknownMethod(t *testing.T) {
	l := newTestLifecycle(t, nil)
	inv := l.Submit(context.Background(), core.FunctionCall{ID: "x", Name: "missing"})
	assert.Equal(t, StatusFailed, inv.Status())
	assert.Equal(t, CodeUnknownMethod, inv.Result().Error.Code)
}

func TestLifecycle_AlwaysDeny(t *testing.T) {
	var calls int32
	l := newTestLifecycle(t, []Method{countingMethod("m", &calls, nil)}, func(o *Options) {
		o.Preferences = NewPreferences(AlwaysDeny)
	})
	inv := l.Submit(context.Background(), core.FunctionCall{Name: "m"})
	assert.Equal(t, StatusDenied, inv.Status())
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestLifecycle_ExecutionErrorsAndPanics(t *testing.T) {
	var calls int32
	methods := []Method{
		countingMethod("fails", &calls, func(*ToolContext, map[string]any) (any, error) {
			return nil, errors.New("disk on fire")
		}),
		countingMethod("custom", &calls, func(*ToolContext, map[string]any) (any, error) {
			return nil, &Error{Message: "quota", Code: "QUOTA"}
		}),
		countingMethod("panics", &calls, func(*ToolContext, map[string]any) (any, error) {
			panic("boom")
		}),
	}
	l := newTestLifecycle(t, methods, func(o *Options) { o.Preferences = NewPreferences(AlwaysAllow) })

	inv := l.Submit(context.Background(), core.FunctionCall{Name: "fails"})
	assert.Equal(t, StatusFailed, inv.Status())
	assert.Equal(t, CodeExecutionError, inv.Result().Error.Code)
	assert.Equal(t, "EXECUTION_ERROR: disk on fire", inv.Result().FunctionResponse().Error)

	inv = l.Submit(context.Background(), core.FunctionCall{Name: "custom"})
	assert.Equal(t, "QUOTA", inv.Result().Error.Code)
	assert.Equal(t, "custom", inv.Result().Error.Method)

	inv = l.Submit(context.Background(), core.FunctionCall{Name: "panics"})
	assert.Equal(t, StatusFailed, inv.Status())
	assert.Contains(t, inv.Result().Error.Message, "boom")
}

func TestLifecycle_PendingDoesNotBlockBatch(t *testing.T) {
	var calls int32
	l := newTestLifecycle(t, []Method{
		countingMethod("ask", &calls, nil),
		countingMethod("allow", &calls, nil),
	})
	l.Preferences().Set("allow", AlwaysAllow)

	batch := l.SubmitBatch(context.Background(), []core.FunctionCall{
		{ID: "1", Name: "ask"},
		{ID: "2", Name: "allow"},
	})
	assert.False(t, batch.Complete())
	require.Len(t, batch.Pending(), 1)
	assert.Equal(t, StatusSucceeded, batch.Invocations()[1].Status())

	_, err := batch.Results()
	assert.ErrorIs(t, err, ErrBatchIncomplete)
	_, err = batch.Message()
	assert.ErrorIs(t, err, ErrBatchIncomplete)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, batch.Wait(ctx), context.DeadlineExceeded)

	require.NoError(t, l.Cancel("1"))
	assert.True(t, batch.Complete())
	require.NoError(t, batch.Wait(context.Background()))

	results, err := batch.Results()
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, results[0].Status)
	assert.Equal(t, StatusSucceeded, results[1].Status)
}

func TestLifecycle_AsyncMethodsRunConcurrentlyWithinLimit(t *testing.T) {
	var (
		running, peak int32
		calls         int32
		release       = make(chan struct{})
	)
	slow := countingMethod("slow", &calls, func(*ToolContext, map[string]any) (any, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&running, -1)
		return "done", nil
	}).AsAsync()

	l := newTestLifecycle(t, []Method{slow}, func(o *Options) {
		o.Preferences = NewPreferences(AlwaysAllow)
		o.MaxParallel = 2
	})

	batch := l.SubmitBatch(context.Background(), []core.FunctionCall{
		{Name: "slow"}, {Name: "slow"}, {Name: "slow"},
	})
	assert.False(t, batch.Complete())

	require.Eventually(t, func() bool { return atomic.LoadInt32(&running) == 2 }, time.Second, time.Millisecond)
	close(release)
	require.NoError(t, batch.Wait(context.Background()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestLifecycle_ConcurrentDecisionsExecuteOnce(t *testing.T) {
	var calls int32
	l := newTestLifecycle(t, []Method{countingMethod("m", &calls, nil)})
	l.Submit(context.Background(), core.FunctionCall{ID: "c", Name: "m"})

	var wg sync.WaitGroup
	var okCount int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Decide(context.Background(), "c", Approved) == nil {
				atomic.AddInt32(&okCount, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), okCount)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPreferences(t *testing.T) {
	p := NewPreferences(AlwaysAsk)
	p.Set("a", AlwaysAllow)
	assert.Equal(t, AlwaysAllow, p.For("a"))
	assert.Equal(t, AlwaysAsk, p.For("b"))

	def, methods := p.Snapshot()
	methods["a"] = AlwaysDeny // snapshot is a copy
	assert.Equal(t, AlwaysAllow, p.For("a"))

	p.Clear("a")
	assert.Equal(t, def, p.For("a"))

	p.Restore(AlwaysDeny, map[string]Preference{"x": AlwaysAllow})
	assert.Equal(t, AlwaysDeny, p.Default())
	assert.Equal(t, AlwaysAllow, p.For("x"))

	for _, pref := range []Preference{AlwaysAllow, AlwaysAsk, AlwaysDeny} {
		parsed, err := ParsePreference(pref.String())
		require.NoError(t, err)
		assert.Equal(t, pref, parsed)
	}
	_, err := ParsePreference("sometimes")
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	var calls int32
	r, err := NewRegistry(countingMethod("a", &calls, nil))
	require.NoError(t, err)
	assert.ErrorIs(t, r.Register(countingMethod("a", &calls, nil)), ErrDuplicateMethod)
	assert.Error(t, r.Register(Method{Declaration: Declaration{Name: "nofunc"}}))
	require.NoError(t, r.Register(countingMethod("b", &calls, nil)))

	assert.Equal(t, []string{"a", "b"}, r.Names())
	decls := r.Declarations()
	require.Len(t, decls, 2)
	assert.Equal(t, "b", decls[1].Name)
}
