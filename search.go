package main

import (
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tower/internal/registry"
)

func newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search PATTERN",
		Short: "Search registered files on every device",
		Long: `Search the registry by file name. '*' matches any run of characters;
a pattern without wildcards matches names containing it.

Examples:
  tower search report
  tower search '*.pdf'
  tower search 'IMG_2024*'`,
		Args: cobra.ExactArgs(1),
		RunE: runSearch,
	}
}

func runSearch(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	if err := cc.requireBackend(); err != nil {
		return err
	}

	records, err := newRegistryClient(cc).Search(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if cc.Flags.JSON {
		if records == nil {
			records = []registry.FileRecord{}
		}

		return printJSON(out, records)
	}

	if len(records) == 0 {
		cc.Statusf("No files found matching %q.\n", args[0])
		return nil
	}

	printRecords(out, records, time.Now())
	cc.Statusf("%s found.\n", pluralize(len(records), "file"))

	return nil
}

// printRecords renders registry records as a table.
func printRecords(w io.Writer, records []registry.FileRecord, now time.Time) {
	rows := make([][]string, 0, len(records))

	for i := range records {
		r := &records[i]
		rows = append(rows, []string{
			strconv.FormatInt(r.ID, 10),
			r.FileName,
			formatSize(r.Size),
			formatTime(r.LastModifiedTime.Time, now),
			r.Device,
			r.AbsolutePath,
		})
	}

	printTable(w, []string{"ID", "NAME", "SIZE", "MODIFIED", "DEVICE", "PATH"}, rows)
}
