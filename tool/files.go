package tool

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/hupe1980/agentcontext/core"
	"github.com/hupe1980/agentcontext/resource"
)

// Names of the built-in file methods.
const (
	ReadFileName       = "read_file"
	WriteFileName      = "write_file"
	ResourceStatusName = "resource_status"
)

// ReadFileArgs are the arguments of read_file.
type ReadFileArgs struct {
	Path string `json:"path" description:"Path of the file to read"`
}

// WriteFileArgs are the arguments of write_file.
type WriteFileArgs struct {
	Path    string `json:"path" description:"Path of the file to write"`
	Content string `json:"content" description:"Full new content of the file"`
}

// ResourceStatusArgs are the arguments of resource_status.
type ResourceStatusArgs struct {
	Path *string `json:"path" description:"Only report this resource; all tracked resources when omitted"`
}

// FileMethods returns read_file, write_file and resource_status.
func FileMethods() []Method {
	return []Method{ReadFileMethod(), WriteFileMethod(), ResourceStatusMethod()}
}

// ReadFileMethod reads a file into context and tracks its snapshot taken at
// the same instant. Text is returned inline; binary content is attached as a
// blob part.
func ReadFileMethod() Method {
	return NewMethodFromStruct(ReadFileName,
		"Read a file from disk. The file is tracked so later turns report when it changes.",
		ReadFileArgs{},
		func(tc *ToolContext, args map[string]any) (any, error) {
			path, _ := args["path"].(string)
			id, data, snap, err := resource.ReadFile(path)
			if err != nil {
				return nil, err
			}
			if tracker := tc.Tracker(); tracker != nil {
				tracker.Track(id, snap)
			}
			tc.LogDebug("tool.read_file", "path", id, "size", snap.Size)

			meta := map[string]any{
				"path":     id,
				"size":     snap.Size,
				"modified": snap.ModTime.UTC(),
			}
			if utf8.Valid(data) {
				meta["content"] = string(data)
				return meta, nil
			}
			mime := http.DetectContentType(data)
			meta["mime_type"] = mime
			return Output{
				Value: meta,
				Parts: []core.Part{core.BlobPart{MimeType: mime, Data: data}},
			}, nil
		})
}

// WriteFileMethod replaces a file's content and re-tracks it, since the
// written content is what the conversation now holds.
func WriteFileMethod() Method {
	return NewMethodFromStruct(WriteFileName,
		"Write content to a file, creating parent directories as needed.",
		WriteFileArgs{},
		func(tc *ToolContext, args map[string]any) (any, error) {
			path, _ := args["path"].(string)
			content, _ := args["content"].(string)
			id, err := resource.CanonicalID(path)
			if err != nil {
				return nil, err
			}
			if err := os.MkdirAll(filepath.Dir(id), 0o755); err != nil {
				return nil, fmt.Errorf("create parent directory: %w", err)
			}
			if err := os.WriteFile(id, []byte(content), 0o644); err != nil {
				return nil, err
			}
			fi, err := os.Stat(id)
			if err != nil {
				return nil, err
			}
			if tracker := tc.Tracker(); tracker != nil {
				tracker.Track(id, resource.Snapshot{
					Size:        fi.Size(),
					ModTime:     fi.ModTime(),
					Fingerprint: core.Some(resource.Fingerprint([]byte(content))),
				})
			}
			return map[string]any{"path": id, "bytes_written": len(content)}, nil
		})
}

// ResourceStatusMethod reports the freshness of tracked resources.
func ResourceStatusMethod() Method {
	return NewMethodFromStruct(ResourceStatusName,
		"Report whether files read earlier are still valid, stale or missing.",
		ResourceStatusArgs{},
		func(tc *ToolContext, args map[string]any) (any, error) {
			tracker := tc.Tracker()
			if tracker == nil {
				return nil, NewError(ResourceStatusName, "resource tracking is not available", CodeExecutionError)
			}
			if path, ok := args["path"].(string); ok && path != "" {
				id, err := resource.CanonicalID(path)
				if err != nil {
					return nil, err
				}
				return map[string]any{"path": id, "status": tracker.Status(id).String()}, nil
			}
			records := tracker.Overview()
			out := make([]map[string]any, 0, len(records))
			for _, r := range records {
				out = append(out, map[string]any{"path": r.ID, "status": r.Status.String()})
			}
			return out, nil
		})
}
