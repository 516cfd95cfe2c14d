// Package provider implements the content provider registry: pluggable
// contributors that produce content parts for a turn, tagged with the
// position where the parts are injected.
//
// Providers are invoked in registration order on the caller's goroutine. A
// provider that fails or panics never aborts collection; its failure is turned
// into a single diagnostic text part and the remaining providers still run.
package provider

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/hupe1980/agentcontext/core"
	"github.com/hupe1980/agentcontext/logging"
	"github.com/hupe1980/agentcontext/resource"
)

var (
	// ErrDuplicateProvider is returned when a provider ID is registered twice.
	ErrDuplicateProvider = errors.New("provider already registered")
	// ErrUnknownProvider is returned for operations on unregistered IDs.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Conversation is the read-only view of a conversation handed to providers.
type Conversation interface {
	SessionID() string
	// History returns a copy of the committed messages.
	History() []core.Message
	// Tracker returns the resource tracker of the conversation.
	Tracker() *resource.Tracker
	// State returns a copy of the template variables of the conversation.
	State() map[string]any
}

// Provider contributes content parts at a fixed position.
type Provider interface {
	// ID returns a stable, unique identifier.
	ID() string
	// DisplayName returns a human-readable name used in diagnostics.
	DisplayName() string
	// Position returns where the produced parts are injected.
	Position() core.Position
	// Produce returns the parts for the current turn. It may perform I/O.
	Produce(ctx context.Context, conv Conversation) ([]core.Part, error)
}

// Info describes a registered provider.
type Info struct {
	ID          string
	DisplayName string
	Position    core.Position
	Enabled     bool
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Logger logging.Logger
}

type registration struct {
	provider Provider
	enabled  bool
}

// Registry holds providers in registration order together with their
// enabled flags. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	entries    []*registration
	index      map[string]*registration
	generation uint64

	logger logging.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		index:  make(map[string]*registration),
		logger: logging.OrNoOp(opts.Logger),
	}
}

// Register adds an enabled provider at the end of the registration order.
func (r *Registry) Register(p Provider) error {
	if p == nil || p.ID() == "" {
		return fmt.Errorf("register provider: missing id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.index[p.ID()]; exists {
		return fmt.Errorf("register provider %q: %w", p.ID(), ErrDuplicateProvider)
	}
	reg := &registration{provider: p, enabled: true}
	r.entries = append(r.entries, reg)
	r.index[p.ID()] = reg
	r.generation++
	r.logger.Debug("provider.registered", "provider", p.ID(), "position", p.Position().String())
	return nil
}

// Providers lists registered providers in registration order.
func (r *Registry) Providers() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, Info{
			ID:          e.provider.ID(),
			DisplayName: e.provider.DisplayName(),
			Position:    e.provider.Position(),
			Enabled:     e.enabled,
		})
	}
	return out
}

// SetEnabled toggles a provider. Changing the flag bumps the generation.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.index[id]
	if !ok {
		return fmt.Errorf("set enabled %q: %w", id, ErrUnknownProvider)
	}
	if reg.enabled != enabled {
		reg.enabled = enabled
		r.generation++
		r.logger.Debug("provider.toggled", "provider", id, "enabled", enabled)
	}
	return nil
}

// Enabled reports whether a provider is registered and enabled.
func (r *Registry) Enabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.index[id]
	return ok && reg.enabled
}

// Generation changes whenever the set of providers or an enabled flag
// changes. Consumers compare it to invalidate cached collections.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Collect invokes every enabled provider assigned to pos in registration
// order and concatenates their parts. Failures become diagnostic parts in
// the failing provider's slot.
func (r *Registry) Collect(ctx context.Context, pos core.Position, conv Conversation) []core.Part {
	r.mu.RLock()
	selected := make([]Provider, 0, len(r.entries))
	for _, e := range r.entries {
		if e.enabled && e.provider.Position() == pos {
			selected = append(selected, e.provider)
		}
	}
	r.mu.RUnlock()

	var parts []core.Part
	for _, p := range selected {
		produced, err := r.produce(ctx, p, conv)
		if err != nil {
			r.logger.Warn("provider.produce.failed",
				"provider", p.ID(),
				"position", pos.String(),
				"error", err.Error(),
			)
			parts = append(parts, Diagnostic(p, err))
			continue
		}
		parts = append(parts, produced...)
	}
	return parts
}

// Diagnostic renders the text part that replaces a failed provider's output.
func Diagnostic(p Provider, err error) core.TextPart {
	return core.TextPart{Text: fmt.Sprintf("[provider %s (%s) failed: %v]", p.ID(), p.DisplayName(), err)}
}

func (r *Registry) produce(ctx context.Context, p Provider, conv Conversation) (parts []core.Part, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("provider.produce.panic", "provider", p.ID(), "recover", rec, "stack", string(debug.Stack()))
			parts, err = nil, fmt.Errorf("panic: %v", rec)
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.Produce(ctx, conv)
}
