// Package logging provides a minimal logging interface and adapters for the
// agent runtime.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that every component uses for its operational channel. This
// package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ContextLogger with component / session scoping
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	rt, err := agentcontext.New(func(o *agentcontext.Options) { o.Logger = logger })
//
// Provider failures, dropped audit entries and session-save errors are only
// ever reported here; they never interrupt a turn.
package logging
