package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/hupe1980/agentcontext/core"
	"github.com/hupe1980/agentcontext/resource"
	"github.com/hupe1980/agentcontext/tool"
)

var (
	// ErrNotFound is returned when a session ID is unknown to a store.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidID is returned for session IDs that cannot be stored safely.
	ErrInvalidID = errors.New("invalid session id")
)

// State is the serializable snapshot of one conversation.
type State struct {
	ID        string
	Title     core.Optional[string]
	CreatedAt time.Time
	UpdatedAt time.Time

	History   []core.Message
	Resources []resource.Record // Baselines only; live status is never persisted

	DefaultPreference tool.Preference
	Preferences       map[string]tool.Preference

	Values map[string]any
}

// Clone returns a copy that shares no mutable memory with s, except for
// the values held in Values and in structured parts.
func (s State) Clone() State {
	out := s
	if s.History != nil {
		out.History = make([]core.Message, len(s.History))
		for i, m := range s.History {
			out.History[i] = m.Clone()
		}
	}
	if s.Resources != nil {
		out.Resources = append([]resource.Record(nil), s.Resources...)
	}
	out.Preferences = maps.Clone(s.Preferences)
	out.Values = maps.Clone(s.Values)
	return out
}

// Info summarizes a stored session for listings.
type Info struct {
	ID        string
	Title     core.Optional[string]
	CreatedAt time.Time
	UpdatedAt time.Time
	Messages  int
}

// InfoOf derives the listing summary of a state.
func InfoOf(s State) Info {
	return Info{
		ID:        s.ID,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		Messages:  len(s.History),
	}
}

// Store persists session states.
type Store interface {
	// Save creates or replaces the state with s.ID.
	Save(ctx context.Context, s State) error
	// Load returns the state or ErrNotFound.
	Load(ctx context.Context, id string) (State, error)
	// List returns all sessions, most recently updated first.
	List(ctx context.Context) ([]Info, error)
	// Delete removes the state or returns ErrNotFound.
	Delete(ctx context.Context, id string) error
}

// ValidateID accepts IDs made of letters, digits, '.', '-' and '_' that
// are safe to use as file names.
func ValidateID(id string) error {
	if id == "" || id == "." || id == ".." || len(id) > 128 {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	return nil
}
