package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/tower/internal/reconcile"
	"github.com/tonimelisma/tower/internal/registry"
	"github.com/tonimelisma/tower/internal/snapshot"
	"github.com/tonimelisma/tower/internal/watchlist"
)

func newRegisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register PATH...",
		Short: "Register files with the registry once",
		Long: `Register the given files, or every file under the given directories, with
the registry. Unlike 'tower watch add', nothing is remembered: later changes
are not tracked.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRegister,
	}
}

// registerOutcome is the --json output of register and unregister.
type registerOutcome struct {
	Path   string `json:"path"`
	ID     int64  `json:"id,omitempty"`
	Action string `json:"action,omitempty"`
	Count  int    `json:"count,omitempty"`
	Error  string `json:"error,omitempty"`
}

func runRegister(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	if err := cc.requireConfigured(); err != nil {
		return err
	}

	ctx := cmd.Context()
	client := newRegistryClient(cc)

	if !client.HealthCheck(ctx) {
		return fmt.Errorf("%w: %s", registry.ErrConnection, client.BaseURL())
	}

	files, errs := collectFiles(ctx, cc.Logger, args)

	outcomes := make([]registerOutcome, len(files))

	var failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cc.Cfg.Sync.Concurrency)

	for i, f := range files {
		g.Go(func() error {
			md := reconcile.BuildMetadata(f, cc.Cfg.Device)
			outcomes[i].Path = f.Path

			res, err := client.Register(gctx, md)
			if err != nil {
				failed.Add(1)
				outcomes[i].Error = err.Error()
				cc.Logger.Warn("register failed", slog.String("path", f.Path), slog.String("error", err.Error()))

				return nil
			}

			outcomes[i].ID = res.ID
			outcomes[i].Action = res.Action

			return nil
		})
	}

	_ = g.Wait()

	if cc.Flags.JSON {
		if err := printJSON(cmd.OutOrStdout(), outcomes); err != nil {
			return err
		}
	} else {
		for _, o := range outcomes {
			if o.Error == "" {
				cc.Statusf("%s %s (id %d)\n", o.Action, o.Path, o.ID)
			}
		}

		cc.Statusf("Registered %s.\n", pluralize(len(files)-int(failed.Load()), "file"))
	}

	if n := failed.Load(); n > 0 {
		errs = append(errs, fmt.Errorf("%s failed to register", pluralize(int(n), "file")))
	}

	if ctx.Err() != nil {
		errs = append(errs, ctx.Err())
	}

	return errors.Join(errs...)
}

// collectFiles expands args into the regular files to register. Directories
// contribute every file found beneath them. Paths that cannot be read are
// returned as errors and skipped.
func collectFiles(ctx context.Context, logger *slog.Logger, args []string) ([]snapshot.File, []error) {
	snap := snapshot.New(nil, logger)

	var (
		files []snapshot.File
		errs  []error
	)

	for _, arg := range args {
		abs, err := watchlist.Normalize(arg)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		info, err := os.Stat(abs)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if !info.IsDir() && !info.Mode().IsRegular() {
			errs = append(errs, fmt.Errorf("%s: not a regular file or directory", abs))
			continue
		}

		files = append(files, snap.Take(ctx, abs)...)
	}

	return files, errs
}
