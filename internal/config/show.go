package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command, giving
// users visibility into the effective values after all override layers
// (defaults -> file -> env -> CLI) have been applied.
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", path)
	ew.printf("data_dir = %q\n\n", cfg.ResolvedDataDir())

	ew.printf("[backend]\n")
	ew.printf("  url                 = %q\n", cfg.Backend.URL)
	ew.printf("  timeout             = %q\n", cfg.Backend.Timeout)
	ew.printf("  max_retries         = %d\n", cfg.Backend.MaxRetries)
	ew.printf("  requests_per_second = %d\n\n", cfg.Backend.RequestsPerSecond)

	ew.printf("[device]\n")
	ew.printf("  name = %q\n", cfg.Device.Name)
	ew.printf("  ip   = %q\n", cfg.Device.IP)
	ew.printf("  user = %q\n\n", cfg.Device.User)

	ew.printf("[sync]\n")
	ew.printf("  interval_minutes = %d\n", cfg.Sync.IntervalMinutes)
	ew.printf("  concurrency      = %d\n", cfg.Sync.Concurrency)
	ew.printf("  watch_events     = %t\n\n", cfg.Sync.WatchEvents)

	ew.printf("[logging]\n")
	ew.printf("  log_level = %q\n\n", cfg.Logging.LogLevel)

	ew.printf("[server]\n")
	ew.printf("  listen  = %q\n", cfg.Server.Listen)
	ew.printf("  db_path = %q\n\n", cfg.ServerDBPath())

	ew.printf("[transfer]\n")
	ew.printf("  key_path                 = %q\n", cfg.TransferKeyPath())
	ew.printf("  port                     = %d\n", cfg.Transfer.Port)
	ew.printf("  known_hosts              = %q\n", cfg.KnownHostsPath())
	ew.printf("  insecure_ignore_host_key = %t\n", cfg.Transfer.InsecureIgnoreHostKey)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
