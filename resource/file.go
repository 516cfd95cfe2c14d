package resource

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/hupe1980/agentcontext/core"
)

// maxReadAttempts bounds how often ReadFile retries when the file changes
// between the surrounding stats.
const maxReadAttempts = 3

// CanonicalID returns the absolute, cleaned form of path used as resource ID.
func CanonicalID(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", path, err)
	}
	return filepath.Clean(abs), nil
}

// Fingerprint returns the BLAKE3-256 hex digest of data.
func Fingerprint(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ErrUnstable is returned by ReadFile when the file kept changing during
// every read attempt.
var ErrUnstable = errors.New("resource changed while reading")

// ReadFile reads a file and snapshots it at the same instant: the file is
// stat'ed before and after the read, and the read is retried when the two
// stats disagree or the byte count does not match the size. The returned ID
// is the canonical path to pass to Tracker.Track.
func ReadFile(path string) (string, []byte, Snapshot, error) {
	id, err := CanonicalID(path)
	if err != nil {
		return "", nil, Snapshot{}, err
	}
	data, snap, err := readConsistent(id, os.Stat, os.ReadFile)
	return id, data, snap, err
}

func readConsistent(id string, stat func(string) (os.FileInfo, error), read func(string) ([]byte, error)) ([]byte, Snapshot, error) {
	for attempt := 0; attempt < maxReadAttempts; attempt++ {
		before, err := stat(id)
		if err != nil {
			return nil, Snapshot{}, err
		}
		if before.IsDir() {
			return nil, Snapshot{}, fmt.Errorf("%s is a directory", id)
		}
		data, err := read(id)
		if err != nil {
			return nil, Snapshot{}, err
		}
		after, err := stat(id)
		if err != nil {
			return nil, Snapshot{}, err
		}
		if before.Size() == after.Size() && before.ModTime().Equal(after.ModTime()) && int64(len(data)) == after.Size() {
			return data, Snapshot{
				Size:        after.Size(),
				ModTime:     after.ModTime(),
				Fingerprint: core.Some(Fingerprint(data)),
			}, nil
		}
	}
	return nil, Snapshot{}, fmt.Errorf("read %s after %d attempts: %w", id, maxReadAttempts, ErrUnstable)
}
