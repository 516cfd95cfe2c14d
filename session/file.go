package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/agentcontext/logging"
)

const fileSuffix = ".session.zst"

// zstdEncoder and zstdDecoder are reused across calls; both are safe for
// concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("session: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("session: zstd decoder initialization failed: " + err.Error())
	}
}

// FileStoreOptions configures a FileStore.
type FileStoreOptions struct {
	// Codec encodes states before compression. Defaults to CBORCodec.
	Codec  Codec
	Logger logging.Logger
}

// FileStore keeps one compressed file per session in a directory. Writes go
// to a temporary file that is renamed into place, so a crash never leaves a
// truncated session behind.
type FileStore struct {
	dir    string
	codec  Codec
	logger logging.Logger
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string, optFns ...func(o *FileStoreOptions)) (*FileStore, error) {
	opts := FileStoreOptions{Codec: CBORCodec{}, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileStore{dir: dir, codec: opts.Codec, logger: logging.OrNoOp(opts.Logger)}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+fileSuffix)
}

// Save encodes, compresses and atomically writes the state.
func (s *FileStore) Save(_ context.Context, st State) (err error) {
	if err := ValidateID(st.ID); err != nil {
		return err
	}
	start := time.Now()
	defer func() { logging.LogPersistence(s.logger, "session.save", st.ID, time.Since(start), err) }()

	data, err := s.codec.Encode(st)
	if err != nil {
		return fmt.Errorf("encode session %q: %w", st.ID, err)
	}
	compressed := zstdEncoder.EncodeAll(data, nil)

	tmp, err := os.CreateTemp(s.dir, "."+st.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("save session %q: %w", st.ID, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(compressed); err != nil {
		tmp.Close()
		return fmt.Errorf("save session %q: %w", st.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save session %q: %w", st.ID, err)
	}
	if err := os.Rename(tmp.Name(), s.path(st.ID)); err != nil {
		return fmt.Errorf("save session %q: %w", st.ID, err)
	}
	return nil
}

// Load reads and decodes a state.
func (s *FileStore) Load(_ context.Context, id string) (State, error) {
	if err := ValidateID(id); err != nil {
		return State{}, err
	}
	return s.read(s.path(id))
}

func (s *FileStore) read(path string) (State, error) {
	compressed, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return State{}, fmt.Errorf("load %q: %w", filepath.Base(path), ErrNotFound)
	}
	if err != nil {
		return State{}, err
	}
	data, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return State{}, fmt.Errorf("zstd decompress %s: %w", filepath.Base(path), err)
	}
	return s.codec.Decode(data)
}

// List decodes every session file. Unreadable files are logged and skipped.
func (s *FileStore) List(_ context.Context) ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		st, err := s.read(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.logger.Warn("session.list.skip", "file", e.Name(), "error", err.Error())
			continue
		}
		infos = append(infos, InfoOf(st))
	}
	sortInfos(infos)
	return infos, nil
}

// Delete removes the session file.
func (s *FileStore) Delete(_ context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	err := os.Remove(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %q: %w", id, ErrNotFound)
	}
	return err
}
