// Package resource tracks the freshness of external resources (files) whose
// content has been copied into a conversation.
//
// A resource enters tracking when a collaborator (typically a file-reading
// tool) pulls its content into context and calls Track with a snapshot taken
// at the same instant. Status is a read-time comparison against the live
// resource; it never updates the stored baseline.
package resource

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hupe1980/agentcontext/core"
	"github.com/hupe1980/agentcontext/logging"
)

// ErrNotTracked is returned for operations on resources that are not tracked.
var ErrNotTracked = errors.New("resource not tracked")

// Status is the derived freshness of a tracked resource.
type Status int

const (
	// StatusUnknown means the resource is not tracked.
	StatusUnknown Status = iota
	// StatusValid means the live resource matches the context snapshot.
	StatusValid
	// StatusStale means the live resource changed since it entered context.
	StatusStale
	// StatusMissing means the live resource can no longer be read.
	StatusMissing
)

// String returns the lower-case status name.
func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusStale:
		return "stale"
	case StatusMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// Snapshot captures the observable state of a resource at one instant.
type Snapshot struct {
	Size        int64
	ModTime     time.Time
	Fingerprint core.Optional[string] // BLAKE3 hex digest when content was read
}

// Matches reports whether two snapshots agree on size and modification time.
// Fingerprints are informational and not compared.
func (s Snapshot) Matches(o Snapshot) bool {
	return s.Size == o.Size && s.ModTime.Equal(o.ModTime)
}

// Record is a structured status row for one tracked resource.
type Record struct {
	ID        string
	Context   Snapshot                // Baseline captured when the content entered context
	Current   core.Optional[Snapshot] // Live snapshot, absent when the resource is missing
	Status    Status
	TrackedAt time.Time
}

// Stater reads the live snapshot of a resource by ID.
type Stater interface {
	Stat(id string) (Snapshot, error)
}

// OSStater stats resources as paths on the local filesystem.
type OSStater struct{}

// Stat implements Stater using os.Stat.
func (OSStater) Stat(id string) (Snapshot, error) {
	fi, err := os.Stat(id)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

// Options configures a Tracker.
type Options struct {
	// Stater reads live snapshots. Defaults to OSStater.
	Stater Stater
	// Logger receives debug output for tracking changes.
	Logger logging.Logger
	// Now is the clock used for TrackedAt. Defaults to time.Now.
	Now func() time.Time
}

type entry struct {
	snapshot  Snapshot
	trackedAt time.Time
}

// Tracker records context snapshots keyed by resource ID. It is safe for
// concurrent use; live stats are taken without holding the lock.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string

	stater Stater
	logger logging.Logger
	now    func() time.Time
}

// NewTracker constructs an empty Tracker.
func NewTracker(optFns ...func(o *Options)) *Tracker {
	opts := Options{
		Stater: OSStater{},
		Logger: logging.NoOpLogger{},
		Now:    time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Tracker{
		entries: make(map[string]entry),
		stater:  opts.Stater,
		logger:  logging.OrNoOp(opts.Logger),
		now:     opts.Now,
	}
}

// Track records (or replaces) the context snapshot of a resource. Re-tracking
// keeps the resource's position in Overview.
func (t *Tracker) Track(id string, snapshot Snapshot) {
	if id == "" {
		t.logger.Warn("resource.track.empty_id")
		return
	}
	t.mu.Lock()
	if _, exists := t.entries[id]; !exists {
		t.order = append(t.order, id)
	}
	t.entries[id] = entry{snapshot: snapshot, trackedAt: t.now().UTC()}
	t.mu.Unlock()

	t.logger.Debug("resource.tracked", "resource", id, "size", snapshot.Size, "mod_time", snapshot.ModTime)
}

// Refresh re-snapshots a tracked resource from its live state and makes that
// the new baseline. Callers use it after they have re-read the content into
// context; it fails when the resource is untracked or cannot be stat'ed.
func (t *Tracker) Refresh(id string) (Snapshot, error) {
	t.mu.RLock()
	_, ok := t.entries[id]
	t.mu.RUnlock()
	if !ok {
		return Snapshot{}, fmt.Errorf("refresh %q: %w", id, ErrNotTracked)
	}
	live, err := t.stater.Stat(id)
	if err != nil {
		return Snapshot{}, fmt.Errorf("refresh %q: %w", id, err)
	}
	t.Track(id, live)
	return live, nil
}

// Untrack removes a resource. It reports whether the resource was tracked.
func (t *Tracker) Untrack(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[id]; !exists {
		return false
	}
	delete(t.entries, id)
	for i, o := range t.order {
		if o == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	t.logger.Debug("resource.untracked", "resource", id)
	return true
}

// Status classifies the live resource against its context snapshot.
func (t *Tracker) Status(id string) Status {
	t.mu.RLock()
	e, ok := t.entries[id]
	t.mu.RUnlock()
	if !ok {
		return StatusUnknown
	}
	status, _ := t.classify(id, e.snapshot)
	return status
}

// Inspect returns the full status record of a tracked resource.
func (t *Tracker) Inspect(id string) (Record, bool) {
	t.mu.RLock()
	e, ok := t.entries[id]
	t.mu.RUnlock()
	if !ok {
		return Record{ID: id, Status: StatusUnknown}, false
	}
	return t.record(id, e), true
}

// Overview returns a status record for every tracked resource in the order
// the resources were first tracked.
func (t *Tracker) Overview() []Record {
	t.mu.RLock()
	ids := make([]string, len(t.order))
	copy(ids, t.order)
	entries := make([]entry, len(ids))
	for i, id := range ids {
		entries[i] = t.entries[id]
	}
	t.mu.RUnlock()

	records := make([]Record, len(ids))
	for i, id := range ids {
		records[i] = t.record(id, entries[i])
	}
	return records
}

// Len returns the number of tracked resources.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Baselines returns the stored context snapshots without touching the live
// resources, in tracking order. Used for session persistence.
func (t *Tracker) Baselines() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	records := make([]Record, 0, len(t.order))
	for _, id := range t.order {
		e := t.entries[id]
		records = append(records, Record{ID: id, Context: e.snapshot, TrackedAt: e.trackedAt})
	}
	return records
}

// Restore replaces all tracking state with the given baselines.
func (t *Tracker) Restore(records []Record) error {
	entries := make(map[string]entry, len(records))
	order := make([]string, 0, len(records))
	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("restore resource: empty id")
		}
		if _, dup := entries[r.ID]; !dup {
			order = append(order, r.ID)
		}
		entries[r.ID] = entry{snapshot: r.Context, trackedAt: r.TrackedAt}
	}
	t.mu.Lock()
	t.entries = entries
	t.order = order
	t.mu.Unlock()
	return nil
}

func (t *Tracker) record(id string, e entry) Record {
	status, current := t.classify(id, e.snapshot)
	return Record{ID: id, Context: e.snapshot, Current: current, Status: status, TrackedAt: e.trackedAt}
}

func (t *Tracker) classify(id string, baseline Snapshot) (Status, core.Optional[Snapshot]) {
	live, err := t.stater.Stat(id)
	if err != nil {
		t.logger.Debug("resource.stat.failed", "resource", id, "error", err.Error())
		return StatusMissing, core.None[Snapshot]()
	}
	if live.Matches(baseline) {
		return StatusValid, core.Some(live)
	}
	return StatusStale, core.Some(live)
}
