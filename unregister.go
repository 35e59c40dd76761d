package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tower/internal/watchlist"
)

func newUnregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unregister PATH...",
		Short: "Remove this device's registry records for paths",
		Long: `Delete the registry records whose absolute path matches one of the given
paths on this device. The local files are not touched. A watched path is
registered again on the daemon's next cycle; remove it with 'tower watch
remove' first.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runUnregister,
	}
}

func runUnregister(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	if err := cc.requireConfigured(); err != nil {
		return err
	}

	ctx := cmd.Context()
	client := newRegistryClient(cc)

	var (
		errs     []error
		outcomes []registerOutcome
	)

	for _, arg := range args {
		abs, err := watchlist.Normalize(arg)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		n, err := client.DeleteByPath(ctx, abs, cc.Cfg.Device.Name)
		if err != nil {
			errs = append(errs, fmt.Errorf("unregistering %s: %w", abs, err))
			outcomes = append(outcomes, registerOutcome{Path: abs, Error: err.Error()})

			continue
		}

		outcomes = append(outcomes, registerOutcome{Path: abs, Count: n})

		if n == 0 {
			cc.Statusf("%s: not registered\n", abs)
		} else {
			cc.Statusf("%s: removed %s\n", abs, pluralize(n, "record"))
		}
	}

	if cc.Flags.JSON && len(outcomes) > 0 {
		if err := printJSON(cmd.OutOrStdout(), outcomes); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
