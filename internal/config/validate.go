package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validation range constants.
const (
	minBackendTimeout  = 1 * time.Second
	maxBackendTimeout  = 2 * time.Minute
	maxRetries         = 10
	maxRequestsPerSec  = 1000
	minIntervalMinutes = 1
	minConcurrency     = 1
	maxConcurrency     = 64
	maxPort            = 65535
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateBackend(&cfg.Backend)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateLogLevel(cfg.Logging.LogLevel)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateTransfer(&cfg.Transfer)...)

	return errors.Join(errs...)
}

func validateBackend(b *BackendConfig) []error {
	var errs []error

	if b.URL != "" {
		u, err := url.Parse(b.URL)

		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("backend.url: %w", err))
		case u.Scheme != "http" && u.Scheme != "https":
			errs = append(errs, fmt.Errorf("backend.url: scheme must be http or https, got %q", b.URL))
		case u.Host == "":
			errs = append(errs, fmt.Errorf("backend.url: missing host in %q", b.URL))
		}
	}

	errs = append(errs, validateDurationRange("backend.timeout", b.Timeout, minBackendTimeout, maxBackendTimeout)...)

	if b.MaxRetries < 0 || b.MaxRetries > maxRetries {
		errs = append(errs, fmt.Errorf("backend.max_retries: must be between 0 and %d, got %d",
			maxRetries, b.MaxRetries))
	}

	if b.RequestsPerSecond < 0 || b.RequestsPerSecond > maxRequestsPerSec {
		errs = append(errs, fmt.Errorf("backend.requests_per_second: must be between 0 (unlimited) and %d, got %d",
			maxRequestsPerSec, b.RequestsPerSecond))
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if s.IntervalMinutes < minIntervalMinutes {
		errs = append(errs, fmt.Errorf("sync.interval_minutes: must be >= %d, got %d",
			minIntervalMinutes, s.IntervalMinutes))
	}

	if s.Concurrency < minConcurrency || s.Concurrency > maxConcurrency {
		errs = append(errs, fmt.Errorf("sync.concurrency: must be between %d and %d, got %d",
			minConcurrency, maxConcurrency, s.Concurrency))
	}

	return errs
}

func validateServer(s *ServerConfig) []error {
	if s.Listen == "" {
		return []error{errors.New("server.listen: must not be empty")}
	}

	return nil
}

func validateTransfer(t *TransferConfig) []error {
	var errs []error

	if t.Port < 1 || t.Port > maxPort {
		errs = append(errs, fmt.Errorf("transfer.port: must be between 1 and %d, got %d", maxPort, t.Port))
	}

	if t.KeyPath == "" {
		errs = append(errs, errors.New("transfer.key_path: must not be empty"))
	}

	return errs
}

// validateDurationRange checks that a duration string parses and lies
// within [minimum, maximum].
func validateDurationRange(field, value string, minimum, maximum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum || d > maximum {
		return []error{fmt.Errorf("%s: must be between %s and %s, got %s", field, minimum, maximum, d)}
	}

	return nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}
