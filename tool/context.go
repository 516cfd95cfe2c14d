package tool

import (
	"context"

	"github.com/hupe1980/agentcontext/logging"
	"github.com/hupe1980/agentcontext/resource"
)

// ToolContext is the surface handed to a method while it executes. It
// exposes the invocation identity, the session's resource tracker (methods
// that pull external content into context must track it) and a logger.
type ToolContext struct {
	ctx          context.Context
	invocationID string
	sessionID    string
	tracker      *resource.Tracker
	logger       logging.Logger
}

// NewToolContext constructs a tool context. A nil logger is replaced by a
// NoOpLogger; a nil tracker disables resource tracking.
func NewToolContext(ctx context.Context, invocationID, sessionID string, tracker *resource.Tracker, logger logging.Logger) *ToolContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ToolContext{
		ctx:          ctx,
		invocationID: invocationID,
		sessionID:    sessionID,
		tracker:      tracker,
		logger:       logging.OrNoOp(logger),
	}
}

// Context returns the context of the invocation. It is not cancelled when
// the submitting turn ends; executing invocations run to completion.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// InvocationID returns the ID correlating the model's call and the result.
func (tc *ToolContext) InvocationID() string { return tc.invocationID }

// SessionID returns the session the invocation belongs to.
func (tc *ToolContext) SessionID() string { return tc.sessionID }

// Tracker returns the session's resource tracker, or nil.
func (tc *ToolContext) Tracker() *resource.Tracker { return tc.tracker }

// Logger returns the logger associated with the invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.logger }

// LogDebug logs a debug message tagged with the invocation ID.
func (tc *ToolContext) LogDebug(msg string, args ...any) {
	tc.logger.Debug(msg, append(args, "invocation_id", tc.invocationID)...)
}

// LogInfo logs an info message tagged with the invocation ID.
func (tc *ToolContext) LogInfo(msg string, args ...any) {
	tc.logger.Info(msg, append(args, "invocation_id", tc.invocationID)...)
}

// LogWarn logs a warning tagged with the invocation ID.
func (tc *ToolContext) LogWarn(msg string, args ...any) {
	tc.logger.Warn(msg, append(args, "invocation_id", tc.invocationID)...)
}
