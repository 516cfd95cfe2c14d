// Package config loads the runtime configuration.
//
// Configuration comes from a single TOML or YAML file, chosen by extension,
// layered over defaults. A small set of environment variables overrides the
// file:
//
//	AGENTCTX_DATA_DIR   data directory for sessions and the audit trail
//	AGENTCTX_PROVIDER   model provider: mock, openai, anthropic
//	AGENTCTX_MODEL      model name
//	AGENTCTX_LOG_LEVEL  debug, info, warn, error
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentcontext/logging"
	"github.com/hupe1980/agentcontext/tool"
)

// Environment variable names.
const (
	EnvDataDir  = "AGENTCTX_DATA_DIR"
	EnvProvider = "AGENTCTX_PROVIDER"
	EnvModel    = "AGENTCTX_MODEL"
	EnvLogLevel = "AGENTCTX_LOG_LEVEL"
)

// ErrUnsupportedFormat is returned for config files that are neither TOML nor YAML.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// Config is the complete runtime configuration.
type Config struct {
	// DataDir holds sessions and the audit trail.
	DataDir string `toml:"data_dir" yaml:"data_dir"`

	// Instructions is the system instruction template.
	Instructions string `toml:"instructions" yaml:"instructions"`

	Model   ModelConfig   `toml:"model" yaml:"model"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
	Session SessionConfig `toml:"session" yaml:"session"`
	History HistoryConfig `toml:"history" yaml:"history"`
	Tools   ToolsConfig   `toml:"tools" yaml:"tools"`
}

// ModelConfig selects and tunes the model adapter.
type ModelConfig struct {
	// Provider is one of mock, openai, anthropic.
	Provider    string  `toml:"provider" yaml:"provider"`
	Name        string  `toml:"name" yaml:"name"`
	Temperature float64 `toml:"temperature" yaml:"temperature"`
	MaxTokens   int64   `toml:"max_tokens" yaml:"max_tokens"`
	Stream      bool    `toml:"stream" yaml:"stream"`
	// MaxCalls bounds model calls per user turn. 0 means unlimited.
	MaxCalls int `toml:"max_calls" yaml:"max_calls"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"` // json or text
}

// SessionConfig configures session persistence.
type SessionConfig struct {
	// Store is one of file, sqlite, memory.
	Store string `toml:"store" yaml:"store"`
	// Codec is one of cbor, json.
	Codec string `toml:"codec" yaml:"codec"`
	// Autosave persists the session after every turn.
	Autosave bool `toml:"autosave" yaml:"autosave"`
}

// HistoryConfig configures the audit trail.
type HistoryConfig struct {
	Enabled   bool `toml:"enabled" yaml:"enabled"`
	Workers   int  `toml:"workers" yaml:"workers"`
	QueueSize int  `toml:"queue_size" yaml:"queue_size"`
}

// ToolsConfig configures the approval policy and execution of tools.
type ToolsConfig struct {
	// Default is the preference of methods without an explicit entry.
	Default string `toml:"default" yaml:"default"`
	// Preferences maps method names to always_allow, always_ask or always_deny.
	Preferences map[string]string `toml:"preferences" yaml:"preferences"`
	// MaxParallel bounds concurrently executing methods. 0 means unbounded.
	MaxParallel int `toml:"max_parallel" yaml:"max_parallel"`
	// FileTools registers read_file, write_file and resource_status.
	FileTools bool `toml:"file_tools" yaml:"file_tools"`
}

// DefaultDataDir returns ~/.agentctx, or .agentctx when the home directory
// is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentctx"
	}
	return filepath.Join(home, ".agentctx")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:      DefaultDataDir(),
		Instructions: "You are a helpful assistant working in the user's workspace.",
		Model: ModelConfig{
			Provider:    "mock",
			Name:        "mock",
			Temperature: 0.7,
			MaxTokens:   4096,
			MaxCalls:    25,
		},
		Logging: LoggingConfig{Level: "warn", Format: "text"},
		Session: SessionConfig{Store: "file", Codec: "cbor", Autosave: true},
		History: HistoryConfig{Enabled: true, Workers: 2, QueueSize: 256},
		Tools: ToolsConfig{
			Default:     "always_ask",
			Preferences: map[string]string{tool.ResourceStatusName: "always_allow"},
			FileTools:   true,
		},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	return nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDataDir); ok && v != "" {
		c.DataDir = v
	}
	if v, ok := lookup(EnvProvider); ok && v != "" {
		c.Model.Provider = v
	}
	if v, ok := lookup(EnvModel); ok && v != "" {
		c.Model.Name = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
}

// Validate checks enumerated fields.
func (c *Config) Validate() error {
	var errs []error
	switch c.Model.Provider {
	case "mock", "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("model.provider: unknown provider %q", c.Model.Provider))
	}
	switch c.Session.Store {
	case "file", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("session.store: unknown store %q", c.Session.Store))
	}
	switch c.Session.Codec {
	case "cbor", "json":
	default:
		errs = append(errs, fmt.Errorf("session.codec: unknown codec %q", c.Session.Codec))
	}
	if _, err := tool.ParsePreference(c.Tools.Default); err != nil {
		errs = append(errs, fmt.Errorf("tools.default: %w", err))
	}
	for name, p := range c.Tools.Preferences {
		if _, err := tool.ParsePreference(p); err != nil {
			errs = append(errs, fmt.Errorf("tools.preferences.%s: %w", name, err))
		}
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must not be empty"))
	}
	return errors.Join(errs...)
}

// Preferences builds the tool preference store.
func (c *Config) Preferences() (*tool.Preferences, error) {
	def, err := tool.ParsePreference(c.Tools.Default)
	if err != nil {
		return nil, err
	}
	prefs := tool.NewPreferences(def)
	for name, s := range c.Tools.Preferences {
		p, err := tool.ParsePreference(s)
		if err != nil {
			return nil, fmt.Errorf("preference for %s: %w", name, err)
		}
		prefs.Set(name, p)
	}
	return prefs, nil
}

// LoggerConfig translates the logging section.
func (c *Config) LoggerConfig() *logging.LoggerConfig {
	lc := logging.DefaultLoggerConfig()
	lc.Level = logging.ParseLevel(c.Logging.Level)
	if c.Logging.Format != "" {
		lc.Format = c.Logging.Format
	}
	return lc
}

// SessionDir is where the file store keeps sessions.
func (c *Config) SessionDir() string { return filepath.Join(c.DataDir, "sessions") }

// SQLitePath is the database of the sqlite store.
func (c *Config) SQLitePath() string { return filepath.Join(c.DataDir, "sessions.db") }

// HistoryDir is the root of the audit trail.
func (c *Config) HistoryDir() string { return filepath.Join(c.DataDir, "history") }

// Save writes the configuration as TOML with owner-only permissions.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()
	return c.Encode(f)
}

// Encode writes the configuration as TOML.
func (c *Config) Encode(w io.Writer) error {
	if err := toml.NewEncoder(w).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
