package testutil

import (
	"time"

	"github.com/hupe1980/agentcontext/core"
	"github.com/hupe1980/agentcontext/resource"
	"github.com/hupe1980/agentcontext/session"
	"github.com/hupe1980/agentcontext/tool"
)

// StateBuilder helps construct session states with fluent chaining for tests.
// Example:
//
//	st := NewStateBuilder("sess-1").Title("notes").Value("k", "v").Messages(m1, m2).Build()
type StateBuilder struct {
	state session.State
}

// NewStateBuilder creates a builder for a session with the given id. The
// timestamps default to a fixed instant so states compare deterministically.
func NewStateBuilder(id string) *StateBuilder {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return &StateBuilder{state: session.State{
		ID:          id,
		CreatedAt:   at,
		UpdatedAt:   at,
		Preferences: map[string]tool.Preference{},
		Values:      map[string]any{},
	}}
}

// Title sets the session title (chainable).
func (b *StateBuilder) Title(t string) *StateBuilder { b.state.Title = core.Some(t); return b }

// UpdatedAt sets the last update time (chainable).
func (b *StateBuilder) UpdatedAt(t time.Time) *StateBuilder { b.state.UpdatedAt = t; return b }

// Value sets or overwrites a state key/value pair (chainable).
func (b *StateBuilder) Value(key string, val any) *StateBuilder {
	b.state.Values[key] = val
	return b
}

// Messages appends messages to the history (chainable).
func (b *StateBuilder) Messages(msgs ...core.Message) *StateBuilder {
	b.state.History = append(b.state.History, msgs...)
	return b
}

// Resource appends a tracked resource baseline (chainable).
func (b *StateBuilder) Resource(id string, size int64, modTime time.Time) *StateBuilder {
	b.state.Resources = append(b.state.Resources, resource.Record{
		ID:        id,
		Context:   resource.Snapshot{Size: size, ModTime: modTime},
		TrackedAt: b.state.UpdatedAt,
	})
	return b
}

// Preference sets the approval policy of a method (chainable).
func (b *StateBuilder) Preference(method string, p tool.Preference) *StateBuilder {
	b.state.Preferences[method] = p
	return b
}

// Default sets the default approval policy (chainable).
func (b *StateBuilder) Default(p tool.Preference) *StateBuilder {
	b.state.DefaultPreference = p
	return b
}

// Build returns a copy of the assembled state.
func (b *StateBuilder) Build() session.State { return b.state.Clone() }
