package main

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"
)

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID [DEST]",
		Short: "Copy a registered file to this machine over SSH",
		Long: `Look up a file by its registry ID and copy it from the device that holds
it, over SSH, using the key from 'tower key'. DEST defaults to the current
directory; an existing directory receives the file under its registered name.

The holding device must have this machine's public key in its
authorized_keys.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runGet,
	}
}

func runGet(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	if err := cc.requireBackend(); err != nil {
		return err
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid file ID %q: must be a positive integer", args[0])
	}

	dest := ""
	if len(args) == 2 {
		dest = args[1]
	}

	ctx := cmd.Context()

	rec, err := newRegistryClient(cc).Get(ctx, id)
	if err != nil {
		return err
	}

	cc.Statusf("Fetching %s from %s@%s (%s)...\n", rec.FileName, rec.DeviceUser, rec.Device, formatSize(rec.Size))

	res, err := newFetcher(cc).Fetch(ctx, rec, dest)
	if err != nil {
		return fmt.Errorf("fetching %s from %s: %w", rec.AbsolutePath, rec.Device, err)
	}

	cc.Logger.Debug("fetch complete", slog.String("path", res.Path), slog.Int64("bytes", res.Bytes))

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"id":     rec.ID,
			"source": rec.AbsolutePath,
			"device": rec.Device,
			"path":   res.Path,
			"bytes":  res.Bytes,
		})
	}

	cc.Statusf("Saved %s (%s)\n", res.Path, formatSize(res.Bytes))

	return nil
}
