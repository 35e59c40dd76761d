package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tower/internal/server"
	"github.com/tonimelisma/tower/internal/store"
)

func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the metadata registry service",
		Long: `Serve the registry HTTP API backed by a local SQLite database
(server.db_path). Exactly one machine on the network runs this; every
device points backend.url at it. Prometheus metrics are exposed at
/metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			logger := cc.Logger

			addr := cc.Cfg.Server.Listen
			if cmd.Flags().Changed("listen") {
				addr = listen
			}

			ctx := shutdownContext(cmd.Context(), logger)
			dbPath := cc.Cfg.ServerDBPath()

			st, err := store.Open(ctx, dbPath, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			srv := server.New(&server.Config{
				Store:   st,
				Version: version,
				Logger:  logger,
			})

			logger.Info("registry starting", slog.String("addr", addr), slog.String("db", dbPath))

			return srv.ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides server.listen)")

	return cmd
}
