package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/tower/internal/config"
)

func TestBuildLogger_Levels(t *testing.T) {
	debugCfg := config.DefaultConfig()
	debugCfg.Logging.LogLevel = "debug"

	warnCfg := config.DefaultConfig()
	warnCfg.Logging.LogLevel = "warn"

	tests := []struct {
		name    string
		cfg     *config.Config
		flags   CLIFlags
		enabled slog.Level
		blocked slog.Level
	}{
		{"no config", nil, CLIFlags{}, slog.LevelInfo, slog.LevelDebug},
		{"config debug", debugCfg, CLIFlags{}, slog.LevelDebug, slog.LevelDebug - 4},
		{"config warn", warnCfg, CLIFlags{}, slog.LevelWarn, slog.LevelInfo},
		{"verbose beats config", warnCfg, CLIFlags{Verbose: true}, slog.LevelDebug, slog.LevelDebug - 4},
		{"quiet beats config", debugCfg, CLIFlags{Quiet: true}, slog.LevelError, slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := buildLogger(tt.cfg, tt.flags).Handler()
			assert.True(t, h.Enabled(context.Background(), tt.enabled))
			assert.False(t, h.Enabled(context.Background(), tt.blocked))
		})
	}
}

func TestMustCLIContext_PanicsWithoutContext(t *testing.T) {
	assert.Panics(t, func() { mustCLIContext(context.Background()) })
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, want := range []string{
		"config", "watch", "register", "unregister", "search", "get",
		"sync", "daemon", "status", "key", "serve",
	} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestRootCmd_VerboseQuietExclusive(t *testing.T) {
	t.Setenv(config.EnvConfig, "")
	t.Setenv(config.EnvBackendURL, "")
	t.Setenv(config.EnvDataDir, t.TempDir())

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "none.toml"), "-v", "-q", "watch", "list"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verbose")
}

func TestRootCmd_InvalidConfigFile(t *testing.T) {
	t.Setenv(config.EnvConfig, "")

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[backend]\nurll = \"http://x\"\n"), 0o644))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", path, "status"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "url"?`)
}

func TestRootCmd_BackendFlagOverridesFile(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run("--backend", "http://override.example:9000", "--json", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "http://override.example:9000")
}
