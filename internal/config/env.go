package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig     = "TOWER_CONFIG"
	EnvBackendURL = "TOWER_BACKEND_URL"
	EnvDataDir    = "TOWER_DATA_DIR"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // TOWER_CONFIG: override config file path
	BackendURL string // TOWER_BACKEND_URL: registry base URL
	DataDir    string // TOWER_DATA_DIR: data directory override
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		BackendURL: os.Getenv(EnvBackendURL),
		DataDir:    os.Getenv(EnvDataDir),
	}
}
