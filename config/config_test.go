package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentcontext/logging"
	"github.com/hupe1980/agentcontext/tool"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	for _, k := range []string{EnvDataDir, EnvProvider, EnvModel, EnvLogLevel} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "mock", cfg.Model.Provider)
	assert.Equal(t, "file", cfg.Session.Store)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, filepath.Join(cfg.DataDir, "sessions"), cfg.SessionDir())
}

func TestLoad_TOML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "agentctx.toml", `
data_dir = "/var/lib/agentctx"
instructions = "Be terse."

[model]
provider = "openai"
name = "gpt-4o"
stream = true

[session]
store = "sqlite"
codec = "json"

[tools]
default = "deny"
max_parallel = 4

[tools.preferences]
read_file = "always_allow"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/agentctx", cfg.DataDir)
	assert.Equal(t, "Be terse.", cfg.Instructions)
	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.True(t, cfg.Model.Stream)
	assert.Equal(t, 25, cfg.Model.MaxCalls, "unset fields keep defaults")
	assert.Equal(t, "sqlite", cfg.Session.Store)
	assert.Equal(t, 4, cfg.Tools.MaxParallel)

	prefs, err := cfg.Preferences()
	require.NoError(t, err)
	assert.Equal(t, tool.AlwaysDeny, prefs.Default())
	assert.Equal(t, tool.AlwaysAllow, prefs.For("read_file"))
	assert.Equal(t, tool.AlwaysDeny, prefs.For("write_file"))
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "agentctx.yml", `
model:
  provider: anthropic
  name: claude-sonnet
logging:
  level: debug
  format: json
history:
  enabled: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, "claude-sonnet", cfg.Model.Name)
	assert.False(t, cfg.History.Enabled)
	lc := cfg.LoggerConfig()
	assert.Equal(t, logging.LogLevelDebug, lc.Level)
	assert.Equal(t, "json", lc.Format)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "agentctx.toml", "[model]\nprovider = \"openai\"\nname = \"gpt-4o\"\n")
	t.Setenv(EnvDataDir, "/tmp/agentctx-env")
	t.Setenv(EnvProvider, "anthropic")
	t.Setenv(EnvModel, "claude")
	t.Setenv(EnvLogLevel, "error")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/agentctx-env", cfg.DataDir)
	assert.Equal(t, "anthropic", cfg.Model.Provider)
	assert.Equal(t, "claude", cfg.Model.Name)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Load(writeFile(t, "agentctx.json", "{}"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Load(writeFile(t, "bad.toml", "[model\n"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.toml", "[model]\nprovider = \"llama\"\n[session]\nstore = \"s3\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model.provider")
	assert.Contains(t, err.Error(), "session.store")

	_, err = Load(writeFile(t, "bad.yaml", "tools:\n  preferences:\n    write_file: sometimes\n"))
	assert.ErrorContains(t, err, "tools.preferences.write_file")

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestSave_RoundTrip(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	cfg.DataDir = "/data"
	cfg.Model.Provider = "openai"
	cfg.Tools.Preferences["write_file"] = "always_deny"

	path := filepath.Join(t.TempDir(), "nested", "agentctx.toml")
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
