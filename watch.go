package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/tower/internal/watchlist"
)

// stdinIsTerminal reports whether confirmation prompts can be answered.
// Replaced in tests.
var stdinIsTerminal = func() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Manage the list of watched files and directories",
		Long: `Manage the watch list: the files and directory trees this device keeps
registered. A running daemon picks up changes on its next cycle; edits made
here also ask it to run one right away.`,
	}

	cmd.AddCommand(newWatchAddCmd())
	cmd.AddCommand(newWatchRemoveCmd())
	cmd.AddCommand(newWatchListCmd())
	cmd.AddCommand(newWatchClearCmd())

	return cmd
}

func newWatchAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add PATH...",
		Short: "Watch files or directories",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runWatchAdd,
	}
}

func runWatchAdd(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	wl, err := watchlist.Load(cc.Cfg.WatchListPath())
	if err != nil {
		return err
	}

	var errs []error

	added := 0

	for _, arg := range args {
		entry, err := wl.Add(arg)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		added++

		if _, statErr := os.Stat(entry.Path); statErr != nil {
			cc.Statusf("Watching %s (does not exist yet)\n", entry.Path)
		} else {
			cc.Statusf("Watching %s\n", entry.Path)
		}
	}

	if added > 0 {
		notifyDaemon(cc)
	}

	return errors.Join(errs...)
}

func newWatchRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove PATH...",
		Aliases: []string{"rm"},
		Short:   "Stop watching files or directories",
		Long: `Stop watching the given paths. The daemon unregisters their files on its
next cycle.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runWatchRemove,
	}
}

func runWatchRemove(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	wl, err := watchlist.Load(cc.Cfg.WatchListPath())
	if err != nil {
		return err
	}

	var errs []error

	removed := 0

	for _, arg := range args {
		if err := wl.Remove(arg); err != nil {
			errs = append(errs, err)
			continue
		}

		removed++

		cc.Statusf("Stopped watching %s\n", arg)
	}

	if removed > 0 {
		notifyDaemon(cc)
	}

	return errors.Join(errs...)
}

func newWatchListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show watched paths",
		Args:    cobra.NoArgs,
		RunE:    runWatchList,
	}
}

func runWatchList(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	wl, err := watchlist.Load(cc.Cfg.WatchListPath())
	if err != nil {
		return err
	}

	entries := wl.List()
	out := cmd.OutOrStdout()

	if cc.Flags.JSON {
		if entries == nil {
			entries = []watchlist.WatchEntry{}
		}

		return printJSON(out, entries)
	}

	if len(entries) == 0 {
		cc.Statusf("No watched paths. Add one with 'tower watch add PATH'.\n")
		return nil
	}

	now := time.Now()
	rows := make([][]string, 0, len(entries))

	for _, e := range entries {
		kind := "missing"

		if info, err := os.Stat(e.Path); err == nil {
			kind = "file"
			if info.IsDir() {
				kind = "dir"
			}
		}

		rows = append(rows, []string{kind, formatTime(e.AddedAt, now), e.Path})
	}

	printTable(out, []string{"TYPE", "ADDED", "PATH"}, rows)

	return nil
}

func newWatchClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Stop watching everything",
		Long: `Remove every path from the watch list. Asks for confirmation on a
terminal; in scripts pass --yes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatchClear(cmd, yes)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	return cmd
}

func runWatchClear(cmd *cobra.Command, yes bool) error {
	cc := mustCLIContext(cmd.Context())

	wl, err := watchlist.Load(cc.Cfg.WatchListPath())
	if err != nil {
		return err
	}

	if wl.Len() == 0 {
		cc.Statusf("Watch list is already empty.\n")
		return nil
	}

	if !yes {
		if !stdinIsTerminal() {
			return errors.New("refusing to clear the watch list without --yes when stdin is not a terminal")
		}

		prompt := fmt.Sprintf("Stop watching %s? [y/N] ", pluralize(wl.Len(), "path"))
		if !confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), prompt) {
			cc.Statusf("Aborted.\n")
			return nil
		}
	}

	n, err := wl.Clear()
	if err != nil {
		return err
	}

	cc.Statusf("Stopped watching %s\n", pluralize(n, "path"))
	notifyDaemon(cc)

	return nil
}

// confirm prints prompt and reports whether the answer starts with "y".
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}

	answer := strings.ToLower(strings.TrimSpace(line))

	return answer == "y" || answer == "yes"
}

// notifyDaemon asks a running daemon to reconcile now. No daemon is fine:
// the next start picks up the list.
func notifyDaemon(cc *CLIContext) {
	if err := sendSIGHUP(cc.Cfg.PIDFilePath()); err != nil {
		cc.Logger.Debug("daemon not notified", "error", err.Error())
		return
	}

	cc.Statusf("Daemon notified.\n")
}
