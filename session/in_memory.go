package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InMemoryStore is a volatile Store keeping states in a process local map.
// It is safe for concurrent access and best suited for tests or ephemeral
// runs. States are cloned on the way in and out to prevent external
// mutation of stored data.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]State
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]State)}
}

// Save stores a clone of s.
func (s *InMemoryStore) Save(_ context.Context, st State) error {
	if err := ValidateID(st.ID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[st.ID] = st.Clone()
	return nil
}

// Load returns a clone of the stored state.
func (s *InMemoryStore) Load(_ context.Context, id string) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[id]
	if !ok {
		return State{}, fmt.Errorf("load %q: %w", id, ErrNotFound)
	}
	return st.Clone(), nil
}

// List returns all sessions, most recently updated first.
func (s *InMemoryStore) List(_ context.Context) ([]Info, error) {
	s.mu.RLock()
	infos := make([]Info, 0, len(s.sessions))
	for _, st := range s.sessions {
		infos = append(infos, InfoOf(st))
	}
	s.mu.RUnlock()
	sortInfos(infos)
	return infos, nil
}

// Delete removes a stored state.
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("delete %q: %w", id, ErrNotFound)
	}
	delete(s.sessions, id)
	return nil
}

func sortInfos(infos []Info) {
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].UpdatedAt.Equal(infos[j].UpdatedAt) {
			return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
		}
		return infos[i].ID < infos[j].ID
	})
}
