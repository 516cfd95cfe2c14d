package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hupe1980/agentcontext/core"
	"github.com/hupe1980/agentcontext/internal/util"
	"github.com/hupe1980/agentcontext/logging"
	"github.com/hupe1980/agentcontext/resource"
)

// Output lets a Func attach content parts (for example a binary blob) to
// its result next to the structured value.
type Output struct {
	Value any
	Parts []core.Part
}

// Result is the immutable outcome of an invocation.
type Result struct {
	InvocationID string
	Method       string
	Status       Status
	Value        any
	Parts        []core.Part
	Error        *Error // nil when the invocation succeeded
	Duration     time.Duration
	FinishedAt   time.Time
}

// FunctionResponse converts the result into the response part folded back
// into history.
func (r *Result) FunctionResponse() core.FunctionResponse {
	fr := core.FunctionResponse{
		ID:       r.InvocationID,
		Name:     r.Method,
		Status:   r.Status.String(),
		Response: r.Value,
	}
	if r.Error != nil {
		fr.Error = r.Error.Message
		if r.Error.Code != "" {
			fr.Error = r.Error.Code + ": " + r.Error.Message
		}
	}
	return fr
}

// Invocation is one model-requested call of a method. Its identity is the
// invocation ID. All accessors are safe for concurrent use.
type Invocation struct {
	ID           string
	Method       string
	RawArguments string
	CreatedAt    time.Time

	args     map[string]any
	parseErr error

	mu     sync.Mutex
	status Status
	result *Result
	done   chan struct{}
}

func newInvocation(call core.FunctionCall, now time.Time) *Invocation {
	inv := &Invocation{
		ID:           call.ID,
		Method:       call.Name,
		RawArguments: call.Arguments,
		CreatedAt:    now,
		status:       StatusDeclared,
		done:         make(chan struct{}),
	}
	inv.args, inv.parseErr = parseArguments(call.Arguments)
	return inv
}

// Arguments returns the decoded arguments, or nil when they did not parse.
func (i *Invocation) Arguments() map[string]any { return i.args }

// Status returns the current lifecycle state.
func (i *Invocation) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// Result returns the final result, or nil while the invocation is not terminal.
func (i *Invocation) Result() *Result {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.result
}

// Done is closed when the invocation reaches a terminal state.
func (i *Invocation) Done() <-chan struct{} { return i.done }

// Wait blocks until the invocation is terminal or ctx is done.
func (i *Invocation) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-i.done:
		return i.Result(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// transition moves from one of the allowed states to next.
func (i *Invocation) transition(next Status, from ...Status) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, f := range from {
		if i.status == f {
			i.status = next
			return true
		}
	}
	return false
}

// finish records the terminal result when the current state is one of from.
func (i *Invocation) finish(res *Result, from ...Status) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	allowed := false
	for _, f := range from {
		if i.status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}
	i.status = res.Status
	i.result = res
	close(i.done)
	return true
}

// Prompter is notified when an invocation enters PendingPrompt. It is called
// with no lock held and must not block; the decision is delivered later via
// Lifecycle.Decide.
type Prompter func(inv *Invocation)

// Options configures a Lifecycle.
type Options struct {
	// Preferences is the approval policy store. Defaults to AlwaysAsk for all.
	Preferences *Preferences
	// Prompter is notified of invocations awaiting approval.
	Prompter Prompter
	// SessionID and Tracker are exposed to methods through ToolContext.
	SessionID string
	Tracker   *resource.Tracker
	// MaxParallel bounds concurrently executing methods. 0 means unbounded.
	MaxParallel int
	Logger      logging.Logger
	Now         func() time.Time
}

// Lifecycle drives invocations through the state machine. Invocations are
// independent: an invocation waiting for approval never blocks another.
type Lifecycle struct {
	registry *Registry
	prefs    *Preferences
	prompter Prompter

	sessionID string
	tracker   *resource.Tracker
	sem       chan struct{}
	logger    logging.Logger
	now       func() time.Time

	mu          sync.Mutex
	invocations map[string]*Invocation
	order       []string
}

// NewLifecycle creates a lifecycle dispatching to the methods in registry.
func NewLifecycle(registry *Registry, optFns ...func(o *Options)) *Lifecycle {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Now:    time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Preferences == nil {
		opts.Preferences = NewPreferences(AlwaysAsk)
	}
	if registry == nil {
		registry, _ = NewRegistry()
	}
	l := &Lifecycle{
		registry:    registry,
		prefs:       opts.Preferences,
		prompter:    opts.Prompter,
		sessionID:   opts.SessionID,
		tracker:     opts.Tracker,
		logger:      logging.OrNoOp(opts.Logger),
		now:         opts.Now,
		invocations: make(map[string]*Invocation),
	}
	if opts.MaxParallel > 0 {
		l.sem = make(chan struct{}, opts.MaxParallel)
	}
	return l
}

// Registry returns the method registry.
func (l *Lifecycle) Registry() *Registry { return l.registry }

// Preferences returns the approval policy store.
func (l *Lifecycle) Preferences() *Preferences { return l.prefs }

// SetPrompter replaces the prompt notification hook.
func (l *Lifecycle) SetPrompter(p Prompter) {
	l.mu.Lock()
	l.prompter = p
	l.mu.Unlock()
}

// Submit declares an invocation and evaluates it. A call without ID gets a
// fresh one. Re-submitting a known ID returns the original invocation
// without evaluating it again.
func (l *Lifecycle) Submit(ctx context.Context, call core.FunctionCall) *Invocation {
	if call.ID == "" {
		call.ID = core.NewID()
	}

	l.mu.Lock()
	if inv, ok := l.invocations[call.ID]; ok {
		l.mu.Unlock()
		l.logger.Debug("tool.invocation.duplicate", "invocation_id", call.ID, "method", call.Name, "status", inv.Status().String())
		return inv
	}
	inv := newInvocation(call, l.now().UTC())
	l.invocations[call.ID] = inv
	l.order = append(l.order, call.ID)
	l.mu.Unlock()

	l.logger.Debug("tool.invocation.declared", "invocation_id", inv.ID, "method", inv.Method)
	l.evaluate(ctx, inv)
	return inv
}

// Get returns a known invocation.
func (l *Lifecycle) Get(id string) (*Invocation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	inv, ok := l.invocations[id]
	return inv, ok
}

// Pending returns invocations awaiting a prompt decision in submission order.
func (l *Lifecycle) Pending() []*Invocation {
	l.mu.Lock()
	all := make([]*Invocation, 0, len(l.order))
	for _, id := range l.order {
		all = append(all, l.invocations[id])
	}
	l.mu.Unlock()

	var pending []*Invocation
	for _, inv := range all {
		if inv.Status() == StatusPendingPrompt {
			pending = append(pending, inv)
		}
	}
	return pending
}

// Decide supplies the outcome of an approval prompt. Deferred leaves the
// invocation pending.
func (l *Lifecycle) Decide(ctx context.Context, id string, d Decision) error {
	inv, ok := l.Get(id)
	if !ok {
		return fmt.Errorf("decide %q: %w", id, ErrUnknownInvocation)
	}
	l.logger.Debug("tool.invocation.decision", "invocation_id", id, "decision", d.String())

	switch d {
	case Approved:
		if !inv.transition(StatusApproved, StatusPendingPrompt) {
			return fmt.Errorf("decide %q: %w", id, ErrNotPending)
		}
		method, _ := l.registry.Get(inv.Method)
		l.execute(ctx, inv, method)
	case Denied:
		if !inv.finish(l.denied(inv, "denied by user"), StatusPendingPrompt) {
			return fmt.Errorf("decide %q: %w", id, ErrNotPending)
		}
	default:
		if inv.Status() != StatusPendingPrompt {
			return fmt.Errorf("decide %q: %w", id, ErrNotPending)
		}
	}
	return nil
}

// Cancel resolves a pending invocation to Denied.
func (l *Lifecycle) Cancel(id string) error {
	return l.Decide(context.Background(), id, Denied)
}

func (l *Lifecycle) evaluate(ctx context.Context, inv *Invocation) {
	method, ok := l.registry.Get(inv.Method)
	if !ok {
		l.fail(inv, NewError(inv.Method, fmt.Sprintf("method %q is not registered", inv.Method), CodeUnknownMethod))
		return
	}
	if inv.parseErr != nil {
		l.fail(inv, &Error{
			Method:  inv.Method,
			Message: fmt.Sprintf("invalid arguments: %v", inv.parseErr),
			Code:    CodeValidationError,
		})
		return
	}
	if err := util.ValidateParameters(inv.args, method.Parameters); err != nil {
		l.logger.Warn("tool.invocation.validation_failed", "invocation_id", inv.ID, "method", inv.Method, "error", err.Error())
		l.fail(inv, &Error{
			Method:  inv.Method,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidationError,
			Details: err,
		})
		return
	}

	switch pref := l.prefs.For(inv.Method); pref {
	case AlwaysAllow:
		if inv.transition(StatusApproved, StatusDeclared) {
			l.execute(ctx, inv, method)
		}
	case AlwaysDeny:
		inv.finish(l.denied(inv, "denied by preference"), StatusDeclared)
	default:
		if !inv.transition(StatusPendingPrompt, StatusDeclared) {
			return
		}
		l.logger.Info("tool.invocation.pending", "invocation_id", inv.ID, "method", inv.Method)
		l.mu.Lock()
		prompter := l.prompter
		l.mu.Unlock()
		if prompter != nil {
			prompter(inv)
		}
	}
}

func (l *Lifecycle) execute(ctx context.Context, inv *Invocation, method Method) {
	if !inv.transition(StatusExecuting, StatusApproved) {
		return
	}
	// Executing invocations are not cancelled with the submitting turn.
	ctx = context.WithoutCancel(ctx)
	if method.Declaration.Async {
		go l.run(ctx, inv, method)
		return
	}
	l.run(ctx, inv, method)
}

func (l *Lifecycle) run(ctx context.Context, inv *Invocation, method Method) {
	if l.sem != nil {
		l.sem <- struct{}{}
		defer func() { <-l.sem }()
	}

	tc := NewToolContext(ctx, inv.ID, l.sessionID, l.tracker, l.logger)
	l.logger.Debug("tool.invocation.start", "invocation_id", inv.ID, "method", inv.Method, "async", method.Declaration.Async)

	start := time.Now()
	var (
		value any
		err   error
	)
	func() { // panic safety
		defer func() {
			if r := recover(); r != nil {
				err = panicError(r)
				l.logger.Error("tool.invocation.panic", "invocation_id", inv.ID, "method", inv.Method, "recover", r)
			}
		}()
		value, err = method.Func(tc, inv.args)
	}()
	dur := time.Since(start)
	logging.LogToolCall(l.logger, inv.Method, inv.ID, dur, err == nil, err)

	res := &Result{
		InvocationID: inv.ID,
		Method:       inv.Method,
		Duration:     dur,
		FinishedAt:   l.now().UTC(),
	}
	if err != nil {
		res.Status = StatusFailed
		res.Error = toError(inv.Method, err)
	} else {
		res.Status = StatusSucceeded
		switch out := value.(type) {
		case Output:
			res.Value, res.Parts = out.Value, core.CloneParts(out.Parts)
		case *Output:
			res.Value, res.Parts = out.Value, core.CloneParts(out.Parts)
		default:
			res.Value = value
		}
	}
	inv.finish(res, StatusExecuting)
}

func (l *Lifecycle) fail(inv *Invocation, e *Error) {
	inv.finish(&Result{
		InvocationID: inv.ID,
		Method:       inv.Method,
		Status:       StatusFailed,
		Error:        e,
		FinishedAt:   l.now().UTC(),
	}, StatusDeclared)
	l.logger.Warn("tool.invocation.failed", "invocation_id", inv.ID, "method", inv.Method, "code", e.Code, "error", e.Message)
}

func (l *Lifecycle) denied(inv *Invocation, reason string) *Result {
	l.logger.Info("tool.invocation.denied", "invocation_id", inv.ID, "method", inv.Method, "reason", reason)
	return &Result{
		InvocationID: inv.ID,
		Method:       inv.Method,
		Status:       StatusDenied,
		Error:        NewError(inv.Method, reason, CodeDenied),
		FinishedAt:   l.now().UTC(),
	}
}

// toError keeps *Error values returned by methods and wraps anything else
// as EXECUTION_ERROR.
func toError(method string, err error) *Error {
	if te, ok := err.(*Error); ok {
		if te.Method == "" {
			cp := *te
			cp.Method = method
			return &cp
		}
		return te
	}
	return &Error{Method: method, Message: err.Error(), Code: CodeExecutionError}
}

func parseArguments(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil { // literal "null"
		args = map[string]any{}
	}
	return args, nil
}

// panicError converts a recovered panic value to an error.
func panicError(r any) error { return &panicErr{val: r, stack: debug.Stack()} }

type panicErr struct {
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return fmt.Sprintf("panic recovered: %v", p.val) }
