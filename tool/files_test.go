package tool

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcontext/core"
	"github.com/hupe1980/agentcontext/resource"
)

func argsJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestFileMethods_ReadWriteTrack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o600))

	tracker := resource.NewTracker()
	l := newTestLifecycle(t, FileMethods(), func(o *Options) {
		o.Preferences = NewPreferences(AlwaysAllow)
		o.Tracker = tracker
		o.SessionID = "s"
	})
	ctx := context.Background()

	inv := l.Submit(ctx, core.FunctionCall{Name: ReadFileName, Arguments: argsJSON(t, map[string]any{"path": path})})
	require.Equal(t, StatusSucceeded, inv.Status(), inv.Result().Error)
	value := inv.Result().Value.(map[string]any)
	assert.Equal(t, "v1", value["content"])

	id, err := resource.CanonicalID(path)
	require.NoError(t, err)
	assert.Equal(t, resource.StatusValid, tracker.Status(id))

	// An external edit makes the tracked content stale.
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.WriteFile(path, []byte("external"), 0o600))
	require.NoError(t, os.Chtimes(path, later, later))
	assert.Equal(t, resource.StatusStale, tracker.Status(id))

	status := l.Submit(ctx, core.FunctionCall{Name: ResourceStatusName, Arguments: argsJSON(t, map[string]any{"path": path})})
	require.Equal(t, StatusSucceeded, status.Status())
	assert.Equal(t, "stale", status.Result().Value.(map[string]any)["status"])

	// Writing re-tracks the new content.
	write := l.Submit(ctx, core.FunctionCall{Name: WriteFileName, Arguments: argsJSON(t, map[string]any{"path": path, "content": "v2!"})})
	require.Equal(t, StatusSucceeded, write.Status())
	assert.Equal(t, resource.StatusValid, tracker.Status(id))

	overview := l.Submit(ctx, core.FunctionCall{Name: ResourceStatusName})
	require.Equal(t, StatusSucceeded, overview.Status())
	rows := overview.Result().Value.([]map[string]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "valid", rows[0]["status"])
}

func TestFileMethods_BinaryAndMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img.bin")
	data := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0xff, 0xfe}
	require.NoError(t, os.WriteFile(path, data, 0o600))

	l := newTestLifecycle(t, FileMethods(), func(o *Options) {
		o.Preferences = NewPreferences(AlwaysAllow)
		o.Tracker = resource.NewTracker()
	})

	inv := l.Submit(context.Background(), core.FunctionCall{Name: ReadFileName, Arguments: argsJSON(t, map[string]any{"path": path})})
	require.Equal(t, StatusSucceeded, inv.Status())
	res := inv.Result()
	require.Len(t, res.Parts, 1)
	blob := res.Parts[0].(core.BlobPart)
	assert.Equal(t, "image/png", blob.MimeType)
	assert.Equal(t, data, blob.Data)

	missing := l.Submit(context.Background(), core.FunctionCall{Name: ReadFileName, Arguments: argsJSON(t, map[string]any{"path": filepath.Join(dir, "nope")})})
	assert.Equal(t, StatusFailed, missing.Status())
	assert.Equal(t, CodeExecutionError, missing.Result().Error.Code)
}

func TestResourceStatus_WithoutTracker(t *testing.T) {
	l := newTestLifecycle(t, FileMethods(), func(o *Options) { o.Preferences = NewPreferences(AlwaysAllow) })
	inv := l.Submit(context.Background(), core.FunctionCall{Name: ResourceStatusName})
	assert.Equal(t, StatusFailed, inv.Status())
}

func TestFileMethods_NullArguments(t *testing.T) {
	tracker := resource.NewTracker()
	prompted := 0
	l := newTestLifecycle(t, FileMethods(), func(o *Options) {
		o.Tracker = tracker
		o.Prompter = func(*Invocation) { prompted++ }
	})
	ctx := context.Background()

	// A null required path fails validation before anyone is asked.
	read := l.Submit(ctx, core.FunctionCall{ID: "r1", Name: ReadFileName, Arguments: `{"path":null}`})
	assert.Equal(t, StatusFailed, read.Status())
	require.NotNil(t, read.Result().Error)
	assert.Equal(t, CodeValidationError, read.Result().Error.Code)
	assert.Zero(t, prompted)

	// resource_status declares its path as nullable.
	l.Preferences().Set(ResourceStatusName, AlwaysAllow)
	status := l.Submit(ctx, core.FunctionCall{ID: "s1", Name: ResourceStatusName, Arguments: `{"path":null}`})
	assert.Equal(t, StatusSucceeded, status.Status())
}
