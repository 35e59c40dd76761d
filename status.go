package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tower/internal/watchlist"
)

// statusReport is the JSON shape of 'tower status'.
type statusReport struct {
	ConfigPath string        `json:"config_path"`
	Backend    backendStatus `json:"backend"`
	Device     deviceStatus  `json:"device"`
	Watches    int           `json:"watches"`
	Daemon     daemonStatus  `json:"daemon"`
}

type backendStatus struct {
	URL        string `json:"url"`
	Reachable  bool   `json:"reachable"`
	Version    string `json:"version,omitempty"`
	TotalFiles int64  `json:"total_files,omitempty"`
	TotalBytes int64  `json:"total_size_bytes,omitempty"`
	Error      string `json:"error,omitempty"`
}

type deviceStatus struct {
	Name string `json:"name"`
	IP   string `json:"ip"`
	User string `json:"user"`
}

type daemonStatus struct {
	Running bool `json:"running"`
	PID     int  `json:"pid,omitempty"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show registry, device, watch list and daemon state",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg

	report := statusReport{
		ConfigPath: cc.CfgPath,
		Backend:    backendStatus{URL: cfg.Backend.URL},
		Device:     deviceStatus{Name: cfg.Device.Name, IP: cfg.Device.IP, User: cfg.Device.User},
	}

	if wl, err := watchlist.Load(cfg.WatchListPath()); err != nil {
		cc.Logger.Warn("reading watch list", "error", err.Error())
	} else {
		report.Watches = wl.Len()
	}

	if pid, err := runningDaemon(cfg.PIDFilePath()); err == nil {
		report.Daemon = daemonStatus{Running: true, PID: pid}
	}

	if cfg.Backend.URL != "" {
		ctx := cmd.Context()
		client := newRegistryClient(cc)

		h, err := client.Health(ctx)
		if err != nil {
			report.Backend.Error = err.Error()
		} else {
			report.Backend.Reachable = true
			report.Backend.Version = h.Version

			if st, err := client.Stats(ctx); err != nil {
				report.Backend.Error = err.Error()
			} else {
				report.Backend.TotalFiles = st.TotalFiles
				report.Backend.TotalBytes = st.TotalSizeBytes
			}
		}
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), report)
	}

	printStatusText(cmd.OutOrStdout(), &report)

	return nil
}

func printStatusText(w io.Writer, r *statusReport) {
	fmt.Fprintf(w, "Config:   %s\n", r.ConfigPath)

	switch {
	case r.Backend.URL == "":
		fmt.Fprintln(w, "Registry: not configured (run 'tower config init --backend URL')")
	case r.Backend.Reachable:
		fmt.Fprintf(w, "Registry: %s (online, version %s)\n", r.Backend.URL, valueOr(r.Backend.Version, "unknown"))
		fmt.Fprintf(w, "  Files:  %d (%s)\n", r.Backend.TotalFiles, formatSize(r.Backend.TotalBytes))
	default:
		fmt.Fprintf(w, "Registry: %s (unreachable: %s)\n", r.Backend.URL, r.Backend.Error)
	}

	fmt.Fprintf(w, "Device:   %s (%s@%s)\n",
		valueOr(r.Device.Name, "<unset>"), valueOr(r.Device.User, "<unset>"), valueOr(r.Device.IP, "<unset>"))
	fmt.Fprintf(w, "Watching: %s\n", pluralize(r.Watches, "path"))

	if r.Daemon.Running {
		fmt.Fprintf(w, "Daemon:   running (PID %d)\n", r.Daemon.PID)
	} else {
		fmt.Fprintln(w, "Daemon:   not running")
	}
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}

	return s
}
