// Package agentcontext provides a high-level façade over the context
// runtime: the provider registry, the resource tracker, the conversation
// manager, the tool lifecycle, the audit trail and session persistence.
// Most applications interact with this package by:
//  1. Creating a Runtime via New() or NewFromConfig()
//  2. Registering providers and tool methods through Options
//  3. Running turns with Run (async) or RunSync
//  4. Saving the session and resuming it later with Restore
//
// All defaults are safe for local development and testing: an in-memory
// session store, the mock model and no audit trail.
package agentcontext

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hupe1980/agentcontext/conversation"
	"github.com/hupe1980/agentcontext/core"
	"github.com/hupe1980/agentcontext/history"
	"github.com/hupe1980/agentcontext/logging"
	"github.com/hupe1980/agentcontext/model"
	"github.com/hupe1980/agentcontext/provider"
	"github.com/hupe1980/agentcontext/resource"
	"github.com/hupe1980/agentcontext/runner"
	"github.com/hupe1980/agentcontext/session"
	"github.com/hupe1980/agentcontext/tool"
)

// Options configures a Runtime.
type Options struct {
	// SessionID identifies the conversation. Generated when empty.
	SessionID string
	// Title is an optional human-readable session title.
	Title core.Optional[string]

	// Model answers turns. Defaults to a MockModel.
	Model model.Model
	// Store persists sessions. Defaults to an in-memory store.
	Store session.Store
	// Autosave saves the session after every turn.
	Autosave bool

	// HistoryDir enables the audit trail when non-empty.
	HistoryDir       string
	HistoryWorkers   int
	HistoryQueueSize int

	// Instructions is the system instruction template. Empty disables it.
	Instructions string
	// Providers are registered after the built-in providers.
	Providers []provider.Provider
	// ResourceOverview registers the tracked-resource table.
	ResourceOverview bool

	// Methods are registered with the tool lifecycle.
	Methods []tool.Method
	// FileTools registers read_file, write_file and resource_status.
	FileTools bool
	// Preferences is the approval policy. Defaults to AlwaysAsk.
	Preferences *tool.Preferences
	// Prompter is notified of invocations awaiting approval.
	Prompter    tool.Prompter
	MaxParallel int

	// MaxModelCalls bounds model calls per user turn.
	MaxModelCalls   int
	EnableStreaming bool

	// Stater overrides how the tracker stats resources.
	Stater resource.Stater

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Runtime aggregates the components serving one conversation.
type Runtime struct {
	opts      Options
	createdAt time.Time

	providers *provider.Registry
	tracker   *resource.Tracker
	conv      *conversation.Manager
	lifecycle *tool.Lifecycle
	audit     *history.Logger
	runner    *runner.Runner
	store     session.Store
	ownsStore bool
	logger    logging.Logger

	titleMu sync.RWMutex
	title   core.Optional[string]

	closeOnce sync.Once
	closeErr  error
}

// New creates a Runtime with optional overrides.
func New(optFns ...func(o *Options)) (*Runtime, error) {
	opts := Options{
		Store:            session.NewInMemoryStore(),
		ResourceOverview: true,
		MaxModelCalls:    25,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.SessionID == "" {
		opts.SessionID = core.NewID()
	}
	if opts.Model == nil {
		opts.Model = model.NewMockModel("mock")
	}
	if opts.Preferences == nil {
		opts.Preferences = tool.NewPreferences(tool.AlwaysAsk)
	}
	logger := logging.OrNoOp(opts.Logger)

	r := &Runtime{
		opts:      opts,
		createdAt: time.Now().UTC(),
		store:     opts.Store,
		logger:    logger,
		title:     opts.Title,
	}

	r.tracker = resource.NewTracker(func(o *resource.Options) {
		o.Logger = logger
		if opts.Stater != nil {
			o.Stater = opts.Stater
		}
	})

	r.providers = provider.NewRegistry(func(o *provider.RegistryOptions) { o.Logger = logger })
	var builtins []provider.Provider
	if opts.Instructions != "" {
		builtins = append(builtins, provider.NewInstructions("instructions", opts.Instructions))
	}
	if opts.ResourceOverview {
		builtins = append(builtins, provider.NewResourceOverview())
	}
	for _, p := range append(builtins, opts.Providers...) {
		if err := r.providers.Register(p); err != nil {
			return nil, err
		}
	}

	methods := opts.Methods
	if opts.FileTools {
		methods = append(tool.FileMethods(), methods...)
	}
	methodRegistry, err := tool.NewRegistry(methods...)
	if err != nil {
		return nil, err
	}

	if opts.HistoryDir != "" {
		r.audit, err = history.New(opts.HistoryDir, func(o *history.Options) {
			o.SessionID = opts.SessionID
			o.Logger = logger
			if opts.HistoryWorkers > 0 {
				o.Workers = opts.HistoryWorkers
			}
			if opts.HistoryQueueSize > 0 {
				o.QueueSize = opts.HistoryQueueSize
			}
		})
		if err != nil {
			return nil, fmt.Errorf("open audit trail: %w", err)
		}
	}

	r.conv = conversation.NewManager(func(o *conversation.Options) {
		o.SessionID = opts.SessionID
		o.Registry = r.providers
		o.Tracker = r.tracker
		o.Logger = logger
		if r.audit != nil {
			o.Sink = r.audit
		}
	})

	r.lifecycle = tool.NewLifecycle(methodRegistry, func(o *tool.Options) {
		o.Preferences = opts.Preferences
		o.Prompter = opts.Prompter
		o.SessionID = opts.SessionID
		o.Tracker = r.tracker
		o.MaxParallel = opts.MaxParallel
		o.Logger = logger
	})

	r.runner = runner.New(r.conv, r.lifecycle, opts.Model, func(o *runner.Options) {
		o.MaxModelCalls = opts.MaxModelCalls
		o.EnableStreaming = opts.EnableStreaming
		o.Logger = logger
		if opts.Autosave {
			o.AfterTurn = r.Save
		}
	})

	return r, nil
}

// Restore loads a stored session and creates a Runtime continuing it. The
// store given in optFns, if any, is replaced by store.
func Restore(ctx context.Context, store session.Store, id string, optFns ...func(o *Options)) (*Runtime, error) {
	st, err := store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	r, err := New(append(optFns, func(o *Options) {
		o.SessionID = st.ID
		o.Store = store
		if st.Title.Present() {
			o.Title = st.Title
		}
	})...)
	if err != nil {
		return nil, err
	}
	if err := r.restore(st); err != nil {
		if r.audit != nil {
			_ = r.audit.Close(ctx)
		}
		return nil, err
	}
	r.logger.Info("runtime.session.restored", "session_id", st.ID, "messages", len(st.History), "resources", len(st.Resources))
	return r, nil
}

func (r *Runtime) restore(st session.State) error {
	if err := r.conv.Import(conversation.Snapshot{SessionID: st.ID, History: st.History, State: st.Values}); err != nil {
		return fmt.Errorf("restore history: %w", err)
	}
	if err := r.tracker.Restore(st.Resources); err != nil {
		return fmt.Errorf("restore resources: %w", err)
	}
	r.lifecycle.Preferences().Restore(st.DefaultPreference, st.Preferences)
	if !st.CreatedAt.IsZero() {
		r.createdAt = st.CreatedAt
	}
	return nil
}

// Title returns the session title.
func (r *Runtime) Title() core.Optional[string] {
	r.titleMu.RLock()
	defer r.titleMu.RUnlock()
	return r.title
}

// SetTitle sets the session title persisted by Save.
func (r *Runtime) SetTitle(title string) {
	r.titleMu.Lock()
	r.title = core.Some(title)
	r.titleMu.Unlock()
}

// SessionID returns the conversation's session identifier.
func (r *Runtime) SessionID() string { return r.conv.SessionID() }

// Conversation returns the context manager.
func (r *Runtime) Conversation() *conversation.Manager { return r.conv }

// Providers returns the provider registry.
func (r *Runtime) Providers() *provider.Registry { return r.providers }

// Tracker returns the resource tracker.
func (r *Runtime) Tracker() *resource.Tracker { return r.tracker }

// Lifecycle returns the tool invocation lifecycle.
func (r *Runtime) Lifecycle() *tool.Lifecycle { return r.lifecycle }

// Model returns the model answering turns.
func (r *Runtime) Model() model.Model { return r.opts.Model }

// Run starts a turn for the user text asynchronously.
func (r *Runtime) Run(ctx context.Context, text string) (string, <-chan runner.Event, <-chan error, error) {
	return r.runner.Run(ctx, core.NewUserMessage(text))
}

// RunSync runs a turn for the user text and returns its events.
func (r *Runtime) RunSync(ctx context.Context, text string) ([]runner.Event, error) {
	return r.runner.RunSync(ctx, core.NewUserMessage(text))
}

// Cancel cancels a running turn.
func (r *Runtime) Cancel(runID string) error { return r.runner.Cancel(runID) }

// Decide resolves an invocation awaiting approval.
func (r *Runtime) Decide(ctx context.Context, invocationID string, d tool.Decision) error {
	return r.lifecycle.Decide(ctx, invocationID, d)
}

// State captures the persistable state of the session.
func (r *Runtime) State() session.State {
	def, prefs := r.lifecycle.Preferences().Snapshot()
	return session.State{
		ID:                r.SessionID(),
		Title:             r.Title(),
		CreatedAt:         r.createdAt,
		UpdatedAt:         time.Now().UTC(),
		History:           r.conv.History(),
		Resources:         r.tracker.Baselines(),
		DefaultPreference: def,
		Preferences:       prefs,
		Values:            r.conv.State(),
	}
}

// Save persists the session to the store.
func (r *Runtime) Save(ctx context.Context) error {
	if err := r.store.Save(ctx, r.State()); err != nil {
		return fmt.Errorf("save session %s: %w", r.SessionID(), err)
	}
	return nil
}

// SaveFailures counts autosaves that failed. Failed saves never fail a turn.
func (r *Runtime) SaveFailures() uint64 { return r.runner.AfterTurnFailures() }

// AuditStats reports the audit trail counters. All zero without an audit trail.
func (r *Runtime) AuditStats() (written, failed, dropped uint64) {
	if r.audit == nil {
		return 0, 0, 0
	}
	return r.audit.Written(), r.audit.Failed(), r.audit.Dropped()
}

// Close drains the audit trail. A store opened by NewFromConfig is closed
// as well.
func (r *Runtime) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		var errs []error
		if r.audit != nil {
			errs = append(errs, r.audit.Close(ctx))
		}
		if c, ok := r.store.(io.Closer); ok && r.ownsStore {
			errs = append(errs, c.Close())
		}
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}
