package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tower/internal/reconcile"
	"github.com/tonimelisma/tower/internal/registry"
)

// errCycleHadFailures makes 'tower sync' exit non-zero after a cycle that
// finished with failed operations. The report has already been printed.
var errCycleHadFailures = errors.New("reconciliation cycle had failures")

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation cycle now",
		Long: `Bring the registry in line with the watch list once and exit: register new
and changed files, unregister files that disappeared or are no longer watched.

A fresh process has no memory of earlier cycles, so the first sync registers
every watched file again. Use 'tower daemon start' for continuous sync.`,
		Args: cobra.NoArgs,
		RunE: runSync,
	}
}

func runSync(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	engine, watches, err := newReconcileEngine(cc)
	if err != nil {
		return err
	}

	if watches.Len() == 0 {
		cc.Statusf("Watch list is empty; nothing to sync. Add a path with 'tower watch add PATH'.\n")
	}

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	report, err := engine.RunCycle(ctx)
	if err != nil {
		return err
	}

	logCycleReport(cc.Logger, report)

	if cc.Flags.JSON {
		if err := printJSON(cmd.OutOrStdout(), newCycleSummary(report)); err != nil {
			return err
		}
	} else {
		printCycleReport(cmd.OutOrStdout(), report)
	}

	switch {
	case report.Skipped:
		return fmt.Errorf("%w: cycle skipped", registry.ErrConnection)
	case report.Canceled:
		return context.Canceled
	case report.Failed > 0:
		return errCycleHadFailures
	}

	return nil
}

// printCycleReport writes a human-readable cycle summary.
func printCycleReport(w io.Writer, r *reconcile.CycleReport) {
	switch {
	case r.Skipped:
		fmt.Fprintln(w, "Registry unreachable; cycle skipped.")
		return
	case r.Canceled:
		fmt.Fprintln(w, "Cycle canceled before any changes were made.")
		return
	}

	fmt.Fprintf(w, "Synced %s in %s\n", pluralize(r.WatchRoots, "watched path"), r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  Registered: %d\n", r.Registered)
	fmt.Fprintf(w, "  Deleted:    %d\n", r.Deleted)
	fmt.Fprintf(w, "  Unchanged:  %d\n", r.Unchanged)

	if r.Failed == 0 {
		return
	}

	fmt.Fprintf(w, "  Failed:     %d\n", r.Failed)

	for _, e := range r.Errors {
		fmt.Fprintf(w, "    %s %s: %v\n", e.Op.Kind, e.Op.Path, e.Err)
	}
}
