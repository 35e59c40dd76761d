// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for tower. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
// The resolved *Config is built once at process start and handed to every
// component that needs it; nothing in the program reads configuration
// through package-level state.
package config

import (
	"errors"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
)

// ErrNotConfigured is returned when an operation needs a backend URL and a
// complete device identity but the config does not provide them yet.
var ErrNotConfigured = errors.New("config: backend and device identity are not configured (run 'tower config init')")

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	DataDir  string         `toml:"data_dir"`
	Backend  BackendConfig  `toml:"backend"`
	Device   DeviceConfig   `toml:"device"`
	Sync     SyncConfig     `toml:"sync"`
	Logging  LoggingConfig  `toml:"logging"`
	Server   ServerConfig   `toml:"server"`
	Transfer TransferConfig `toml:"transfer"`
}

// BackendConfig locates the metadata registry service and bounds every call
// made to it.
type BackendConfig struct {
	URL               string `toml:"url"`
	Timeout           string `toml:"timeout"`
	MaxRetries        int    `toml:"max_retries"`
	RequestsPerSecond int    `toml:"requests_per_second"`
}

// DeviceConfig is the identity attached to every record this machine
// registers. Other devices use IP and User to pull files over SSH.
type DeviceConfig struct {
	Name string `toml:"name"`
	IP   string `toml:"ip"`
	User string `toml:"user"`
}

// SyncConfig controls the background reconciliation daemon.
type SyncConfig struct {
	IntervalMinutes int  `toml:"interval_minutes"`
	Concurrency     int  `toml:"concurrency"`
	WatchEvents     bool `toml:"watch_events"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	LogLevel string `toml:"log_level"`
}

// ServerConfig is used by 'tower serve' when this machine hosts the registry.
type ServerConfig struct {
	Listen string `toml:"listen"`
	DBPath string `toml:"db_path"`
}

// TransferConfig controls SSH pulls performed by 'tower get'.
type TransferConfig struct {
	KeyPath               string `toml:"key_path"`
	Port                  int    `toml:"port"`
	KnownHosts            string `toml:"known_hosts"`
	InsecureIgnoreHostKey bool   `toml:"insecure_ignore_host_key"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	BackendURL *string // --backend flag
}

// RequireConfigured returns ErrNotConfigured unless the backend URL and all
// three device identity fields are set.
func (c *Config) RequireConfigured() error {
	if c.Backend.URL == "" || c.Device.Name == "" || c.Device.IP == "" || c.Device.User == "" {
		return ErrNotConfigured
	}

	return nil
}

// BackendTimeout returns the per-call timeout. Validation guarantees the
// value parses; the default is returned as a fallback for hand-built configs.
func (c *Config) BackendTimeout() time.Duration {
	d, err := time.ParseDuration(c.Backend.Timeout)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(defaultBackendTimeout)
	}

	return d
}

// SyncInterval returns the reconciliation period.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalMinutes) * time.Minute
}

// ResolvedDataDir returns the data directory with "~" expanded, falling back
// to the platform default when unset.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		return DefaultDataDir()
	}

	return expandHome(c.DataDir)
}

// WatchListPath returns the location of the persisted watch list.
func (c *Config) WatchListPath() string {
	return filepath.Join(c.ResolvedDataDir(), watchListFileName)
}

// PIDFilePath returns the daemon PID file location.
func (c *Config) PIDFilePath() string {
	return filepath.Join(c.ResolvedDataDir(), pidFileName)
}

// ServerDBPath returns the registry database path used by 'tower serve'.
func (c *Config) ServerDBPath() string {
	if c.Server.DBPath == "" {
		return filepath.Join(c.ResolvedDataDir(), registryDBFileName)
	}

	return expandHome(c.Server.DBPath)
}

// TransferKeyPath returns the private key path with "~" expanded.
func (c *Config) TransferKeyPath() string {
	return expandHome(c.Transfer.KeyPath)
}

// KnownHostsPath returns the known_hosts path with "~" expanded.
func (c *Config) KnownHostsPath() string {
	return expandHome(c.Transfer.KnownHosts)
}

// expandHome expands a leading "~". On failure the input is returned as-is so
// that the caller's subsequent file operation reports a meaningful error.
func expandHome(p string) string {
	expanded, err := homedir.Expand(p)
	if err != nil {
		return p
	}

	return expanded
}
