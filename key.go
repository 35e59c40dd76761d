package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tower/internal/transfer"
)

func newKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "key",
		Short: "Print this machine's transfer public key",
		Long: `Print the public key 'tower get' authenticates with, creating an ed25519
key pair at transfer.key_path on first use.

Append the printed line to ~/.ssh/authorized_keys on every device you want
to fetch files from.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			path := cc.Cfg.TransferKeyPath()

			line, created, err := transfer.EnsureKeyPair(path)
			if err != nil {
				return err
			}

			if created {
				cc.Statusf("Created key pair %s\n", path)
			}

			if cc.Flags.JSON {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"key_path":       path,
					"authorized_key": line,
					"created":        created,
				})
			}

			fmt.Fprintln(cmd.OutOrStdout(), line)

			return nil
		},
	}
}
