package tool

import "sync"

// Preferences stores the approval policy per method with a session-wide
// default for methods without an explicit entry. It is user controlled and
// safe for concurrent use.
type Preferences struct {
	mu      sync.RWMutex
	def     Preference
	methods map[string]Preference
}

// NewPreferences creates a store with the given session default.
func NewPreferences(def Preference) *Preferences {
	return &Preferences{def: def, methods: make(map[string]Preference)}
}

// For returns the effective preference of a method.
func (p *Preferences) For(method string) Preference {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if pref, ok := p.methods[method]; ok {
		return pref
	}
	return p.def
}

// Set records an explicit preference for a method.
func (p *Preferences) Set(method string, pref Preference) {
	p.mu.Lock()
	p.methods[method] = pref
	p.mu.Unlock()
}

// Clear removes the explicit preference so the default applies again.
func (p *Preferences) Clear(method string) {
	p.mu.Lock()
	delete(p.methods, method)
	p.mu.Unlock()
}

// Default returns the session default.
func (p *Preferences) Default() Preference {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.def
}

// SetDefault changes the session default.
func (p *Preferences) SetDefault(pref Preference) {
	p.mu.Lock()
	p.def = pref
	p.mu.Unlock()
}

// Snapshot returns the default and a copy of the explicit entries.
func (p *Preferences) Snapshot() (Preference, map[string]Preference) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	methods := make(map[string]Preference, len(p.methods))
	for k, v := range p.methods {
		methods[k] = v
	}
	return p.def, methods
}

// Restore replaces the whole store.
func (p *Preferences) Restore(def Preference, methods map[string]Preference) {
	cp := make(map[string]Preference, len(methods))
	for k, v := range methods {
		cp[k] = v
	}
	p.mu.Lock()
	p.def = def
	p.methods = cp
	p.mu.Unlock()
}
