// Package conversation implements the context manager: it owns the
// append-only message history of one session and assembles the payload sent
// to the model on every turn.
//
// A turn payload is ordered as system instructions, then history, then the
// augmented workspace. System instructions are collected once and reused
// until a provider is registered or toggled. The augmented workspace is
// collected fresh on every call and never enters history.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/hupe1980/agentcontext/core"
	"github.com/hupe1980/agentcontext/logging"
	"github.com/hupe1980/agentcontext/provider"
	"github.com/hupe1980/agentcontext/resource"
	"github.com/hupe1980/agentcontext/tool"
)

var (
	// ErrInvalidMessage is returned by AppendMessage for malformed messages.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrBatchIncomplete is returned by CommitBatch while invocations are
	// still pending or executing.
	ErrBatchIncomplete = tool.ErrBatchIncomplete
)

// Sink receives every committed message. Implementations must not block;
// history.Logger is the production sink.
type Sink interface {
	LogEntry(msg core.Message)
}

// TurnPayload is the content of one outbound model request.
type TurnPayload struct {
	SystemInstructions []core.Part
	History            []core.Message
	AugmentedWorkspace []core.Part
}

// Options configures a Manager.
type Options struct {
	// SessionID identifies the conversation. Generated when empty.
	SessionID string
	// Registry supplies provider content. An empty registry is used when nil.
	Registry *provider.Registry
	// Tracker records resources pulled into context. A new tracker is used when nil.
	Tracker *resource.Tracker
	// Sink mirrors committed messages, typically to the audit trail.
	Sink   Sink
	Logger logging.Logger
	Now    func() time.Time
}

// Manager owns the history of one conversation. It is safe for concurrent
// use; AppendMessage is the only mutator of history.
type Manager struct {
	sessionID string
	registry  *provider.Registry
	tracker   *resource.Tracker
	sink      Sink
	logger    logging.Logger
	now       func() time.Time

	mu      sync.RWMutex
	history []core.Message
	state   map[string]any

	sysMu    sync.Mutex
	sysParts []core.Part
	sysGen   uint64
	sysValid bool
}

// NewManager creates an empty conversation.
func NewManager(optFns ...func(o *Options)) *Manager {
	opts := Options{
		Logger: logging.NoOpLogger{},
		Now:    time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.SessionID == "" {
		opts.SessionID = core.NewID()
	}
	if opts.Registry == nil {
		opts.Registry = provider.NewRegistry()
	}
	if opts.Tracker == nil {
		opts.Tracker = resource.NewTracker()
	}
	return &Manager{
		sessionID: opts.SessionID,
		registry:  opts.Registry,
		tracker:   opts.Tracker,
		sink:      opts.Sink,
		logger:    logging.OrNoOp(opts.Logger),
		now:       opts.Now,
		state:     make(map[string]any),
	}
}

// SessionID returns the conversation's session identifier.
func (m *Manager) SessionID() string { return m.sessionID }

// Tracker returns the resource tracker of the conversation.
func (m *Manager) Tracker() *resource.Tracker { return m.tracker }

// Registry returns the provider registry.
func (m *Manager) Registry() *provider.Registry { return m.registry }

// AppendMessage validates msg, assigns an ID and timestamp when missing and
// commits a private copy to history. The committed message is mirrored to
// the sink and returned.
func (m *Manager) AppendMessage(msg core.Message) (core.Message, error) {
	if err := validate(msg); err != nil {
		return core.Message{}, err
	}
	stored := msg.Clone()
	if stored.ID == "" {
		stored.ID = core.NewID()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = m.now().UTC()
	}

	m.mu.Lock()
	m.history = append(m.history, stored)
	n := len(m.history)
	m.mu.Unlock()

	m.logger.Debug("conversation.message.appended",
		"session_id", m.sessionID,
		"message_id", stored.ID,
		"role", string(stored.Role),
		"parts", len(stored.Parts),
		"history_len", n,
	)
	if m.sink != nil {
		m.sink.LogEntry(stored)
	}
	return stored.Clone(), nil
}

func validate(msg core.Message) error {
	if !msg.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, msg.Role)
	}
	if len(msg.Parts) == 0 {
		return fmt.Errorf("%w: no parts", ErrInvalidMessage)
	}
	for i, p := range msg.Parts {
		if p == nil {
			return fmt.Errorf("%w: part %d is nil", ErrInvalidMessage, i)
		}
	}
	return nil
}

// CommitBatch appends the tool-role message holding every result of a
// completed batch. An empty batch commits nothing.
func (m *Manager) CommitBatch(b *tool.Batch) (core.Message, error) {
	if b == nil || b.Len() == 0 {
		return core.Message{}, nil
	}
	msg, err := b.Message()
	if err != nil {
		return core.Message{}, err
	}
	return m.AppendMessage(msg)
}

// History returns a copy of the committed messages.
func (m *Manager) History() []core.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.Message, len(m.history))
	for i, msg := range m.history {
		out[i] = msg.Clone()
	}
	return out
}

// Len returns the number of committed messages.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.history)
}

// State returns a copy of the template variables.
func (m *Manager) State() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.state)
}

// SetState sets a template variable. Cached system instructions are not
// re-rendered; call InvalidateSystemInstructions to pick up the change.
func (m *Manager) SetState(key string, value any) {
	m.mu.Lock()
	m.state[key] = value
	m.mu.Unlock()
}

// InvalidateSystemInstructions forces the next payload to re-collect the
// system instructions.
func (m *Manager) InvalidateSystemInstructions() {
	m.sysMu.Lock()
	m.sysValid = false
	m.sysMu.Unlock()
}

// BuildTurnPayload assembles the outbound payload of a turn.
func (m *Manager) BuildTurnPayload(ctx context.Context) TurnPayload {
	start := time.Now()
	payload := TurnPayload{
		SystemInstructions: m.systemInstructions(ctx),
		History:            m.History(),
		AugmentedWorkspace: m.registry.Collect(ctx, core.PositionAugmentedWorkspace, m),
	}
	m.logger.Debug("conversation.payload.built",
		"session_id", m.sessionID,
		"system_parts", len(payload.SystemInstructions),
		"history_len", len(payload.History),
		"augmented_parts", len(payload.AugmentedWorkspace),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return payload
}

func (m *Manager) systemInstructions(ctx context.Context) []core.Part {
	m.sysMu.Lock()
	defer m.sysMu.Unlock()

	gen := m.registry.Generation()
	if !m.sysValid || gen != m.sysGen {
		m.sysParts = m.registry.Collect(ctx, core.PositionSystemInstruction, m)
		m.sysGen = gen
		m.sysValid = true
		m.logger.Debug("conversation.system.collected", "session_id", m.sessionID, "generation", gen, "parts", len(m.sysParts))
	}
	return core.CloneParts(m.sysParts)
}

// Snapshot is the restorable part of a conversation.
type Snapshot struct {
	SessionID string
	History   []core.Message
	State     map[string]any
}

// Export returns a snapshot for persistence.
func (m *Manager) Export() Snapshot {
	return Snapshot{SessionID: m.sessionID, History: m.History(), State: m.State()}
}

// Import replaces history and state of an empty conversation. History is
// append-only, so importing into a conversation that already has messages
// fails.
func (m *Manager) Import(s Snapshot) error {
	for _, msg := range s.History {
		if err := validate(msg); err != nil {
			return fmt.Errorf("import message %s: %w", msg.ID, err)
		}
	}
	history := make([]core.Message, len(s.History))
	for i, msg := range s.History {
		history[i] = msg.Clone()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) > 0 {
		return fmt.Errorf("import into non-empty conversation %s", m.sessionID)
	}
	m.history = history
	m.state = maps.Clone(s.State)
	if m.state == nil {
		m.state = make(map[string]any)
	}
	return nil
}

var _ provider.Conversation = (*Manager)(nil)
