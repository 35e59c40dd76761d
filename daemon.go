package main

import (
	"fmt"
	"log/slog"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tower/internal/reconcile"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run or control the background sync daemon",
	}

	cmd.AddCommand(newDaemonStartCmd())
	cmd.AddCommand(newDaemonStopCmd())
	cmd.AddCommand(newDaemonTriggerCmd())

	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the sync daemon in the foreground",
		Long: `Reconcile the watch list with the registry now and then every
sync.interval_minutes until interrupted. Only one daemon runs per data
directory.

SIGHUP (or 'tower daemon trigger') runs a cycle immediately. The first
SIGINT/SIGTERM lets an in-flight cycle finish; a second one exits at once.
With sync.watch_events enabled, filesystem changes under the watched paths
also trigger a cycle.`,
		Args: cobra.NoArgs,
		RunE: runDaemonStart,
	}
}

func runDaemonStart(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	engine, watches, err := newReconcileEngine(cc)
	if err != nil {
		return err
	}

	cleanup, err := writePIDFile(cc.Cfg.PIDFilePath())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := shutdownContext(cmd.Context(), logger)

	var events *reconcile.EventTrigger

	sched := reconcile.NewScheduler(&reconcile.SchedulerConfig{
		Engine:   engine,
		Interval: cc.Cfg.SyncInterval(),
		Logger:   logger,
		AfterCycle: func(r *reconcile.CycleReport) {
			logCycleReport(logger, r)

			// The watch list may have changed under the cycle.
			if events != nil {
				events.Sync(watches.List())
			}
		},
	})

	if cc.Cfg.Sync.WatchEvents {
		events, err = reconcile.NewEventTrigger(&reconcile.EventTriggerConfig{
			Trigger: sched.Trigger,
			Logger:  logger,
		})
		if err != nil {
			logger.Warn("filesystem events unavailable, relying on the interval",
				slog.String("error", err.Error()),
			)
		} else {
			events.Sync(watches.List())
			go events.Run(ctx)
		}
	}

	onSIGHUP(ctx, logger, sched.Trigger)

	if err := sched.Start(ctx); err != nil {
		return err
	}

	logger.Info("daemon started",
		slog.String("backend", cc.Cfg.Backend.URL),
		slog.String("device", cc.Cfg.Device.Name),
		slog.Duration("interval", cc.Cfg.SyncInterval()),
		slog.Int("watch_roots", watches.Len()),
		slog.Bool("watch_events", events != nil),
	)
	cc.Statusf("Daemon running (PID file %s). Press Ctrl-C to stop.\n", cc.Cfg.PIDFilePath())

	select {
	case <-ctx.Done():
	case <-sched.Done():
	}

	sched.Stop()
	logger.Info("daemon stopped")

	return nil
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running daemon",
		Long: `Send SIGTERM to the daemon recorded in the PID file. The daemon finishes
its in-flight cycle before exiting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			pid, err := signalDaemon(cc.Cfg.PIDFilePath(), syscall.SIGTERM)
			if err != nil {
				return err
			}

			cc.Statusf("Sent stop request to daemon (PID %d).\n", pid)

			return nil
		},
	}
}

func newDaemonTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Ask a running daemon to sync now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			pid, err := signalDaemon(cc.Cfg.PIDFilePath(), syscall.SIGHUP)
			if err != nil {
				return fmt.Errorf("triggering sync: %w", err)
			}

			cc.Statusf("Requested a sync cycle from daemon (PID %d).\n", pid)

			return nil
		},
	}
}
