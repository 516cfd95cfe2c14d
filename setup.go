package agentcontext

import (
	"context"
	"fmt"
	"io"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/agentcontext/config"
	"github.com/hupe1980/agentcontext/logging"
	"github.com/hupe1980/agentcontext/model"
	"github.com/hupe1980/agentcontext/model/anthropic"
	"github.com/hupe1980/agentcontext/model/openai"
	"github.com/hupe1980/agentcontext/session"
)

// NewModel builds the model adapter selected by cfg.
func NewModel(cfg config.ModelConfig) (model.Model, error) {
	switch cfg.Provider {
	case "mock", "":
		return model.NewMockModel(cfg.Name), nil
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxCompletionTokens = cfg.MaxTokens
			}
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Name)
			}
			o.Temperature = cfg.Temperature
			if cfg.MaxTokens > 0 {
				o.MaxTokens = cfg.MaxTokens
			}
		}), nil
	}
	return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
}

// OpenStore opens the session store selected by cfg.
func OpenStore(cfg *config.Config, logger logging.Logger) (session.Store, error) {
	codec, err := session.CodecByName(cfg.Session.Codec)
	if err != nil {
		return nil, err
	}
	switch cfg.Session.Store {
	case "memory":
		return session.NewInMemoryStore(), nil
	case "file":
		return session.NewFileStore(cfg.SessionDir(), func(o *session.FileStoreOptions) {
			o.Codec = codec
			o.Logger = logger
		})
	case "sqlite":
		return session.NewSQLiteStore(cfg.SQLitePath(), func(o *session.SQLiteStoreOptions) {
			o.Codec = codec
			o.Logger = logger
		})
	}
	return nil, fmt.Errorf("unknown session store %q", cfg.Session.Store)
}

// FromConfig translates cfg into Options. Model and Store are created here;
// the store is owned by the Runtime built from these options.
func FromConfig(cfg *config.Config, logger logging.Logger) (func(o *Options), session.Store, error) {
	logger = logging.OrNoOp(logger)
	m, err := NewModel(cfg.Model)
	if err != nil {
		return nil, nil, err
	}
	prefs, err := cfg.Preferences()
	if err != nil {
		return nil, nil, err
	}
	store, err := OpenStore(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return func(o *Options) {
		o.Model = m
		o.Store = store
		o.Autosave = cfg.Session.Autosave
		o.Instructions = cfg.Instructions
		o.FileTools = cfg.Tools.FileTools
		o.Preferences = prefs
		o.MaxParallel = cfg.Tools.MaxParallel
		o.MaxModelCalls = cfg.Model.MaxCalls
		o.EnableStreaming = cfg.Model.Stream
		o.Logger = logger
		if cfg.History.Enabled {
			o.HistoryDir = cfg.HistoryDir()
			o.HistoryWorkers = cfg.History.Workers
			o.HistoryQueueSize = cfg.History.QueueSize
		}
	}, store, nil
}

// NewFromConfig creates a Runtime for a new session from cfg.
func NewFromConfig(cfg *config.Config, logger logging.Logger, optFns ...func(o *Options)) (*Runtime, error) {
	base, store, err := FromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	r, err := New(append([]func(o *Options){base}, optFns...)...)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	r.ownsStore = true
	return r, nil
}

// RestoreFromConfig resumes session id from the store selected by cfg.
func RestoreFromConfig(ctx context.Context, cfg *config.Config, logger logging.Logger, id string, optFns ...func(o *Options)) (*Runtime, error) {
	base, store, err := FromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	r, err := Restore(ctx, store, id, append([]func(o *Options){base}, optFns...)...)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	r.ownsStore = true
	return r, nil
}

func closeStore(store session.Store) {
	if c, ok := store.(io.Closer); ok {
		_ = c.Close()
	}
}
