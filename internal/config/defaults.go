package config

// Default values for configuration options. These represent the "layer 0"
// of the override chain and work without any config file, except for the
// backend URL and device identity which must be supplied by the user.
const (
	defaultBackendTimeout  = "5s"
	defaultMaxRetries      = 2
	defaultRequestsPerSec  = 20
	defaultIntervalMinutes = 5
	defaultConcurrency     = 4
	defaultLogLevel        = "info"
	defaultListen          = ":8000"
	defaultTransferKeyPath = "~/.ssh/tower_key"
	defaultTransferPort    = 22
	defaultKnownHosts      = "~/.ssh/known_hosts"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Timeout:           defaultBackendTimeout,
			MaxRetries:        defaultMaxRetries,
			RequestsPerSecond: defaultRequestsPerSec,
		},
		Sync: SyncConfig{
			IntervalMinutes: defaultIntervalMinutes,
			Concurrency:     defaultConcurrency,
		},
		Logging: LoggingConfig{
			LogLevel: defaultLogLevel,
		},
		Server: ServerConfig{
			Listen: defaultListen,
		},
		Transfer: TransferConfig{
			KeyPath:    defaultTransferKeyPath,
			Port:       defaultTransferPort,
			KnownHosts: defaultKnownHosts,
		},
	}
}
