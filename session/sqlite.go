package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/agentcontext/core"
	"github.com/hupe1980/agentcontext/logging"
)

// sqlTimeLayout is fixed width so ORDER BY on the text columns is
// chronological.
const sqlTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStoreOptions configures a SQLiteStore.
type SQLiteStoreOptions struct {
	// Codec encodes the state column. Defaults to JSONCodec so rows stay
	// inspectable with the sqlite3 shell.
	Codec  Codec
	Logger logging.Logger
}

// SQLiteStore keeps all sessions in one SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	codec  Codec
	logger logging.Logger
}

// NewSQLiteStore opens or creates a SQLite database at dbPath.
func NewSQLiteStore(dbPath string, optFns ...func(o *SQLiteStoreOptions)) (*SQLiteStore, error) {
	opts := SQLiteStoreOptions{Codec: JSONCodec{}, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db, codec: opts.Codec, logger: logging.OrNoOp(opts.Logger)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS sessions (
		id            TEXT PRIMARY KEY,
		title         TEXT,
		codec         TEXT NOT NULL,
		message_count INTEGER NOT NULL DEFAULT 0,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL,
		data          BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at DESC);
	`)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Save upserts the state.
func (s *SQLiteStore) Save(ctx context.Context, st State) (err error) {
	if err := ValidateID(st.ID); err != nil {
		return err
	}
	start := time.Now()
	defer func() { logging.LogPersistence(s.logger, "session.save", st.ID, time.Since(start), err) }()

	data, err := s.codec.Encode(st)
	if err != nil {
		return fmt.Errorf("encode session %q: %w", st.ID, err)
	}
	var title sql.NullString
	if t, ok := st.Title.Get(); ok {
		title = sql.NullString{String: t, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO sessions (id, title, codec, message_count, created_at, updated_at, data)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title = excluded.title,
		codec = excluded.codec,
		message_count = excluded.message_count,
		updated_at = excluded.updated_at,
		data = excluded.data`,
		st.ID, title, s.codec.Name(), len(st.History),
		st.CreatedAt.UTC().Format(sqlTimeLayout),
		st.UpdatedAt.UTC().Format(sqlTimeLayout),
		data,
	)
	if err != nil {
		return fmt.Errorf("save session %q: %w", st.ID, err)
	}
	return nil
}

// Load returns the stored state.
func (s *SQLiteStore) Load(ctx context.Context, id string) (State, error) {
	var (
		codecName string
		data      []byte
	)
	err := s.db.QueryRowContext(ctx, `SELECT codec, data FROM sessions WHERE id = ?`, id).Scan(&codecName, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, fmt.Errorf("load %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return State{}, fmt.Errorf("load %q: %w", id, err)
	}
	codec, err := CodecByName(codecName)
	if err != nil {
		return State{}, err
	}
	return codec.Decode(data)
}

// List returns session summaries from the index columns without decoding
// the stored states.
func (s *SQLiteStore) List(ctx context.Context) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, message_count, created_at, updated_at FROM sessions ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var (
			info             Info
			title            sql.NullString
			created, updated string
		)
		if err := rows.Scan(&info.ID, &title, &info.Messages, &created, &updated); err != nil {
			return nil, err
		}
		if title.Valid {
			info.Title = core.Some(title.String)
		}
		info.CreatedAt, _ = time.Parse(sqlTimeLayout, created)
		info.UpdatedAt, _ = time.Parse(sqlTimeLayout, updated)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Delete removes a session row.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete %q: %w", id, ErrNotFound)
	}
	return nil
}

// CodecByName returns the codec registered under name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "json":
		return JSONCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	}
	return nil, fmt.Errorf("unknown session codec %q", name)
}
