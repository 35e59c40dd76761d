package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/tower/internal/reconcile"
	"github.com/tonimelisma/tower/internal/watchlist"
)

// newReconcileEngine builds a reconcile.Engine from the resolved config: the
// registry client from [backend], the watch list under data_dir, and the
// device identity from [device].
func newReconcileEngine(cc *CLIContext) (*reconcile.Engine, *watchlist.Registry, error) {
	if err := cc.requireConfigured(); err != nil {
		return nil, nil, err
	}

	watches, err := watchlist.Load(cc.Cfg.WatchListPath())
	if err != nil {
		return nil, nil, fmt.Errorf("loading watch list: %w", err)
	}

	engine := reconcile.NewEngine(&reconcile.EngineConfig{
		Registry:    newRegistryClient(cc),
		Watches:     watches,
		Device:      cc.Cfg.Device,
		Concurrency: cc.Cfg.Sync.Concurrency,
		Logger:      cc.Logger,
	})

	return engine, watches, nil
}

// cycleSummary is the --json form of a reconcile.CycleReport.
type cycleSummary struct {
	CycleID    string          `json:"cycle_id"`
	StartedAt  time.Time       `json:"started_at"`
	DurationMS int64           `json:"duration_ms"`
	Skipped    bool            `json:"skipped"`
	Canceled   bool            `json:"canceled"`
	WatchRoots int             `json:"watch_roots"`
	Registered int             `json:"registered"`
	Deleted    int             `json:"deleted"`
	Unchanged  int             `json:"unchanged"`
	Failed     int             `json:"failed"`
	Errors     []cycleOpFailed `json:"errors,omitempty"`
}

type cycleOpFailed struct {
	Op          string `json:"op"`
	Path        string `json:"path"`
	Error       string `json:"error"`
	Consecutive int    `json:"consecutive"`
}

func newCycleSummary(r *reconcile.CycleReport) cycleSummary {
	s := cycleSummary{
		CycleID:    r.CycleID,
		StartedAt:  r.StartedAt,
		DurationMS: r.Duration.Milliseconds(),
		Skipped:    r.Skipped,
		Canceled:   r.Canceled,
		WatchRoots: r.WatchRoots,
		Registered: r.Registered,
		Deleted:    r.Deleted,
		Unchanged:  r.Unchanged,
		Failed:     r.Failed,
	}

	for _, e := range r.Errors {
		s.Errors = append(s.Errors, cycleOpFailed{
			Op:          e.Op.Kind.String(),
			Path:        e.Op.Path,
			Error:       e.Err.Error(),
			Consecutive: e.Consecutive,
		})
	}

	return s
}

// logCycleReport writes the per-failure detail that the engine's summary
// line leaves out.
func logCycleReport(logger *slog.Logger, r *reconcile.CycleReport) {
	for _, e := range r.Errors {
		logger.Debug("cycle failure",
			slog.String("cycle_id", r.CycleID),
			slog.String("op", e.Op.Kind.String()),
			slog.String("path", e.Op.Path),
			slog.String("error", e.Err.Error()),
		)
	}
}
