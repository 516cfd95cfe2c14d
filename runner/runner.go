package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/agentcontext/conversation"
	"github.com/hupe1980/agentcontext/core"
	"github.com/hupe1980/agentcontext/logging"
	"github.com/hupe1980/agentcontext/model"
	"github.com/hupe1980/agentcontext/tool"
)

// ErrTurnInProgress is returned when a turn is started while another turn of
// the same conversation is still running.
var ErrTurnInProgress = errors.New("turn in progress")

// EventType classifies runner events.
type EventType int

const (
	// EventPartial carries streamed text of the model reply.
	EventPartial EventType = iota
	// EventMessage carries a message committed to history.
	EventMessage
	// EventApprovalRequired carries an invocation awaiting a decision. The
	// consumer resolves it with tool.Lifecycle.Decide.
	EventApprovalRequired
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventPartial:
		return "partial"
	case EventMessage:
		return "message"
	case EventApprovalRequired:
		return "approval_required"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is emitted while a turn runs.
type Event struct {
	Type       EventType
	RunID      string
	Text       string
	Message    core.Message
	Invocation *tool.Invocation
}

// Options holds configuration overrides passed to New().
type Options struct {
	// MaxModelCalls limits model calls per user turn. 0 means unlimited.
	MaxModelCalls int
	// EnableStreaming requests streamed model replies.
	EnableStreaming bool
	// EventBufferSize sets channel buffering for events.
	EventBufferSize int
	// AfterTurn runs once a turn ends, successful or not. The façade uses it
	// for autosave. Its error is logged and counted, never returned.
	AfterTurn func(ctx context.Context) error
	Logger    logging.Logger
}

// Runner drives turns of one conversation: build the payload, call the
// model, run requested tools and fold their results back into history.
type Runner struct {
	conv      *conversation.Manager
	lifecycle *tool.Lifecycle
	model     model.Model

	limiter         *core.CallLimiter
	enableStreaming bool
	eventBufferSize int
	afterTurn       func(ctx context.Context) error
	logger          logging.Logger

	afterTurnFailures atomic.Uint64

	turnMu     sync.Mutex
	mu         sync.Mutex
	activeRuns map[string]context.CancelFunc
}

// New constructs a Runner with optional overrides.
func New(conv *conversation.Manager, lifecycle *tool.Lifecycle, m model.Model, optFns ...func(o *Options)) *Runner {
	opts := Options{
		MaxModelCalls:   25,
		EventBufferSize: 100,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Runner{
		conv:            conv,
		lifecycle:       lifecycle,
		model:           m,
		limiter:         core.NewCallLimiter(opts.MaxModelCalls),
		enableStreaming: opts.EnableStreaming,
		eventBufferSize: opts.EventBufferSize,
		afterTurn:       opts.AfterTurn,
		logger:          logging.OrNoOp(opts.Logger),
		activeRuns:      make(map[string]context.CancelFunc),
	}
}

// Run starts a turn for msg asynchronously. The event channel closes when
// the turn ends; a terminal error, if any, is delivered on the error channel.
func (r *Runner) Run(ctx context.Context, msg core.Message) (string, <-chan Event, <-chan error, error) {
	if !r.turnMu.TryLock() {
		return "", nil, nil, ErrTurnInProgress
	}

	runID := core.NewID()
	eventsCh := make(chan Event, r.eventBufferSize)
	errorsCh := make(chan error, 1)

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.activeRuns[runID] = cancel
	r.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			r.mu.Lock()
			delete(r.activeRuns, runID)
			r.mu.Unlock()
			close(eventsCh)
			close(errorsCh)
			r.turnMu.Unlock()
		}()

		emit := func(ev Event) {
			ev.RunID = runID
			select {
			case eventsCh <- ev:
			case <-ctx.Done():
			}
		}
		if err := r.turn(ctx, msg, emit); err != nil {
			errorsCh <- err
		}
	}()

	return runID, eventsCh, errorsCh, nil
}

// RunSync runs a turn and returns all events. Invocations awaiting approval
// must be resolved by a tool.Prompter or the call blocks until ctx is done.
func (r *Runner) RunSync(ctx context.Context, msg core.Message) ([]Event, error) {
	_, eventsCh, errorsCh, err := r.Run(ctx, msg)
	if err != nil {
		return nil, err
	}
	var events []Event
	for ev := range eventsCh {
		events = append(events, ev)
	}
	return events, <-errorsCh
}

// AfterTurnFailures counts AfterTurn errors. They are logged and counted but
// never returned from a turn.
func (r *Runner) AfterTurnFailures() uint64 { return r.afterTurnFailures.Load() }

// Cancel cancels a running turn by ID. Executing tools are not interrupted.
func (r *Runner) Cancel(runID string) error {
	r.mu.Lock()
	cancel, exists := r.activeRuns[runID]
	r.mu.Unlock()
	if !exists {
		return fmt.Errorf("run %s not found", runID)
	}
	cancel()
	return nil
}

func (r *Runner) turn(ctx context.Context, msg core.Message, emit func(Event)) (err error) {
	start := time.Now()
	r.limiter.Reset()
	defer func() {
		if r.afterTurn != nil {
			if hookErr := r.afterTurn(context.WithoutCancel(ctx)); hookErr != nil {
				r.afterTurnFailures.Add(1)
				r.logger.Warn("runner.after_turn.failed", "session_id", r.conv.SessionID(), "error", hookErr.Error())
			}
		}
		r.logger.Info("runner.turn.finished",
			"session_id", r.conv.SessionID(),
			"model_calls", r.limiter.Count(),
			"duration_ms", time.Since(start).Milliseconds(),
			"success", err == nil,
		)
	}()

	committed, err := r.conv.AppendMessage(msg)
	if err != nil {
		return fmt.Errorf("append user message: %w", err)
	}
	emit(Event{Type: EventMessage, Message: committed})

	for {
		if err := r.limiter.Increment(); err != nil {
			return err
		}
		reply, err := r.generate(ctx, emit)
		if err != nil {
			return err
		}
		if len(reply.Parts) == 0 {
			r.logger.Warn("runner.model.empty_reply", "session_id", r.conv.SessionID(), "finish_reason", reply.FinishReason)
			return nil
		}

		modelMsg, err := r.conv.AppendMessage(core.NewModelMessage(r.model.Info().Name, reply.Parts...))
		if err != nil {
			return fmt.Errorf("append model message: %w", err)
		}
		emit(Event{Type: EventMessage, Message: modelMsg})

		calls := modelMsg.FunctionCalls()
		if len(calls) == 0 {
			return nil
		}
		batch := r.lifecycle.SubmitBatch(ctx, calls)
		for _, inv := range batch.Pending() {
			emit(Event{Type: EventApprovalRequired, Invocation: inv})
		}
		if err := batch.Wait(ctx); err != nil {
			r.abandon(ctx, batch, emit)
			return fmt.Errorf("wait for tool results: %w", err)
		}
		toolMsg, err := r.conv.CommitBatch(batch)
		if err != nil {
			return fmt.Errorf("commit tool results: %w", err)
		}
		emit(Event{Type: EventMessage, Message: toolMsg})
	}
}

// abandon denies the batch's undecided invocations, waits for executing ones
// and commits the results, so the calls already in history keep a matching
// response.
func (r *Runner) abandon(ctx context.Context, batch *tool.Batch, emit func(Event)) {
	for _, inv := range batch.Pending() {
		if err := r.lifecycle.Cancel(inv.ID); err != nil {
			r.logger.Debug("runner.batch.cancel_skipped", "invocation_id", inv.ID, "error", err.Error())
		}
	}
	if err := batch.Wait(context.WithoutCancel(ctx)); err != nil {
		r.logger.Warn("runner.batch.abandon_failed", "session_id", r.conv.SessionID(), "error", err.Error())
		return
	}
	toolMsg, err := r.conv.CommitBatch(batch)
	if err != nil {
		r.logger.Warn("runner.batch.abandon_failed", "session_id", r.conv.SessionID(), "error", err.Error())
		return
	}
	r.logger.Info("runner.batch.abandoned", "session_id", r.conv.SessionID(), "invocations", batch.Len())
	emit(Event{Type: EventMessage, Message: toolMsg})
}

func (r *Runner) generate(ctx context.Context, emit func(Event)) (model.Response, error) {
	req := model.NewRequest(r.conv.BuildTurnPayload(ctx), r.lifecycle.Registry().Declarations())
	req.Stream = r.enableStreaming

	respCh, errCh := r.model.Generate(ctx, req)
	var final *model.Response
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return model.Response{}, ctx.Err()
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if resp.Partial {
				if text := core.Text(resp.Parts); text != "" {
					emit(Event{Type: EventPartial, Text: text})
				}
				continue
			}
			final = &resp
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return model.Response{}, fmt.Errorf("model %s: %w", r.model.Info().Name, err)
			}
		}
	}
	if final == nil {
		return model.Response{}, fmt.Errorf("model %s returned no final response", r.model.Info().Name)
	}
	return *final, nil
}
