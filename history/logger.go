// Package history mirrors committed conversation messages to a file-based
// audit trail.
//
// LogEntry never blocks the conversation: messages are enqueued into a
// bounded queue served by a small worker pool. When the queue is full the
// entry is dropped and reported to the operational log. Write failures are
// logged and counted, never returned to the caller.
//
// Each message becomes one plain-text file named
//
//	<UTC timestamp>_<role>_<model>_<session>_<ulid>.txt
//
// The timestamp is the message creation time, so listing the directory in
// lexical order restores conversation order even though workers may finish
// out of order.
package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hupe1980/agentcontext/core"
	"github.com/hupe1980/agentcontext/logging"
)

// TimestampLayout is the lexically sortable UTC timestamp prefix of audit files.
const TimestampLayout = "20060102T150405.000000000Z"

// ErrClosed is returned by Close when called twice.
var ErrClosed = errors.New("history logger closed")

// Options configures a Logger.
type Options struct {
	// SessionID is embedded in every file name.
	SessionID string
	// Workers is the size of the worker pool. Defaults to 2.
	Workers int
	// QueueSize bounds the number of entries waiting for a worker. Defaults to 256.
	QueueSize int
	// Logger is the operational log for drops and failures.
	Logger logging.Logger

	write func(path string, data []byte) error
}

// Logger persists message summaries asynchronously.
type Logger struct {
	dir       string
	sessionID string
	logger    logging.Logger

	queue chan core.Message
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	written atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64

	write func(path string, data []byte) error
}

// New creates the audit directory and starts the workers.
func New(dir string, optFns ...func(o *Options)) (*Logger, error) {
	opts := Options{
		Workers:   2,
		QueueSize: 256,
		Logger:    logging.NoOpLogger{},
		write: func(path string, data []byte) error {
			return os.WriteFile(path, data, 0o644)
		},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	h := &Logger{
		dir:       dir,
		sessionID: opts.SessionID,
		logger:    logging.OrNoOp(opts.Logger),
		queue:     make(chan core.Message, opts.QueueSize),
		write:     opts.write,
	}
	h.start(opts.Workers)
	return h, nil
}

func (h *Logger) start(workers int) {
	for i := 0; i < workers; i++ {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			for msg := range h.queue {
				h.persist(msg)
			}
		}()
	}
}

// Dir returns the audit directory.
func (h *Logger) Dir() string { return h.dir }

// LogEntry enqueues msg for persistence and returns immediately.
func (h *Logger) LogEntry(msg core.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		h.logger.Warn("history.entry.dropped", "message_id", msg.ID, "reason", "closed")
		return
	}
	select {
	case h.queue <- msg.Clone():
	default:
		h.dropped.Add(1)
		h.logger.Warn("history.entry.dropped", "message_id", msg.ID, "reason", "queue_full")
	}
}

// Close stops accepting entries and waits until the queue is drained or ctx
// is done.
func (h *Logger) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	h.closed = true
	close(h.queue)
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Written returns the number of entries persisted.
func (h *Logger) Written() uint64 { return h.written.Load() }

// Failed returns the number of entries whose write failed.
func (h *Logger) Failed() uint64 { return h.failed.Load() }

// Dropped returns the number of entries rejected because the queue was full
// or the logger was closed.
func (h *Logger) Dropped() uint64 { return h.dropped.Load() }

func (h *Logger) persist(msg core.Message) {
	start := time.Now()
	path := filepath.Join(h.dir, FileName(msg, h.sessionID))
	err := h.write(path, []byte(Summary(msg, h.sessionID)))
	logging.LogPersistence(h.logger, "history.write", path, time.Since(start), err)
	if err != nil {
		h.failed.Add(1)
		return
	}
	h.written.Add(1)
}

// FileName derives the audit file name of a message.
func FileName(msg core.Message, sessionID string) string {
	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	model, _ := msg.Model.Get()
	return fmt.Sprintf("%s_%s_%s_%s_%s.txt",
		created.UTC().Format(TimestampLayout),
		segment(string(msg.Role), "unknown"),
		segment(model, "none"),
		segment(sessionID, "nosession"),
		ulid.Make().String(),
	)
}

const maxSegment = 64

// segment makes s safe for use inside a file name. Underscores separate
// segments and are replaced too.
func segment(s, fallback string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
		if b.Len() >= maxSegment {
			break
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return fallback
	}
	return out
}

// Entry is a parsed audit file name.
type Entry struct {
	Path      string
	Timestamp time.Time
	Role      string
	Model     string
	SessionID string
}

// List returns the audit entries in dir in conversation order. Files that do
// not follow the naming scheme are skipped. An empty sessionID lists all
// sessions.
func List(dir, sessionID string) ([]Entry, error) {
	names, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	want := ""
	if sessionID != "" {
		want = segment(sessionID, "nosession")
	}
	var entries []Entry
	for _, de := range names {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".txt") {
			continue
		}
		fields := strings.Split(strings.TrimSuffix(de.Name(), ".txt"), "_")
		if len(fields) != 5 {
			continue
		}
		ts, err := time.Parse(TimestampLayout, fields[0])
		if err != nil {
			continue
		}
		if want != "" && fields[3] != want {
			continue
		}
		entries = append(entries, Entry{
			Path:      filepath.Join(dir, de.Name()),
			Timestamp: ts,
			Role:      fields[1],
			Model:     fields[2],
			SessionID: fields[3],
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return filepath.Base(entries[i].Path) < filepath.Base(entries[j].Path)
	})
	return entries, nil
}
