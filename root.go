package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tower/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// skipConfigAnnotation marks commands that load (or create) the config file
// themselves instead of going through the root pre-run.
const skipConfigAnnotation = "skipConfig"

// CLIFlags holds the persistent flags shared by every command.
type CLIFlags struct {
	ConfigPath string
	Backend    string
	JSON       bool
	Verbose    bool
	Quiet      bool
}

// CLIContext is built once per invocation by the root pre-run and carried in
// the command context. Cfg is nil for commands with skipConfigAnnotation.
type CLIContext struct {
	Flags   CLIFlags
	Logger  *slog.Logger
	Cfg     *config.Config
	CfgPath string
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext stored by the root pre-run. A missing
// context is a wiring bug, not a user error.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("tower: command run without CLIContext")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	var flags CLIFlags

	cmd := &cobra.Command{
		Use:   "tower",
		Short: "LAN file discovery without moving files",
		Long: `tower keeps a shared registry of where files live on your local network.

Each device watches a list of files and directories and keeps the registry in
step with them. Any device can search the registry and pull a file directly
from the device that holds it over SSH. File contents never pass through the
registry.`,
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupCLIContext(cmd, flags)
		},
	}

	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flags.Backend, "backend", "", "registry URL (overrides config and "+config.EnvBackendURL+")")
	cmd.PersistentFlags().BoolVar(&flags.JSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newRegisterCmd())
	cmd.AddCommand(newUnregisterCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newDaemonCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// setupCLIContext resolves configuration (unless the command opts out), builds
// the logger and stores both in the command context.
func setupCLIContext(cmd *cobra.Command, flags CLIFlags) error {
	cc := &CLIContext{Flags: flags}

	env := config.ReadEnvOverrides()
	cli := config.CLIOverrides{ConfigPath: flags.ConfigPath}

	if cmd.Flags().Changed("backend") {
		cli.BackendURL = &flags.Backend
	}

	cc.CfgPath = config.ResolvePath(env, cli)

	if cmd.Annotations[skipConfigAnnotation] == "" {
		cfg, err := config.Resolve(env, cli)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		cc.Cfg = cfg
	}

	cc.Logger = buildLogger(cc.Cfg, flags)
	slog.SetDefault(cc.Logger)

	cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win.
func buildLogger(cfg *config.Config, flags CLIFlags) *slog.Logger {
	level := slog.LevelInfo

	// Config-based log level (lower priority than CLI flags).
	if cfg != nil {
		switch cfg.Logging.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	// CLI flags override config (highest priority).
	if flags.Verbose {
		level = slog.LevelDebug
	}

	if flags.Quiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// requireConfigured returns a user-facing error when the backend URL or the
// device identity is missing.
func (cc *CLIContext) requireConfigured() error {
	if err := cc.Cfg.RequireConfigured(); err != nil {
		if errors.Is(err, config.ErrNotConfigured) {
			return fmt.Errorf("%w (config file: %s)", err, cc.CfgPath)
		}

		return err
	}

	return nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
