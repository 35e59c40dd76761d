package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/tower/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// deviceFlags are the identity overrides accepted by 'config init'.
type deviceFlags struct {
	name, ip, user string
	force          bool
}

func newConfigInitCmd() *cobra.Command {
	var df deviceFlags

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the config file with this device's identity",
		Long: `Write a config file with the registry URL and this device's identity.

The device name, LAN address and login name are detected automatically;
flags override what was detected. Use the global --backend flag (or
TOWER_BACKEND_URL) to set the registry URL.

Examples:
  tower config init --backend http://192.168.1.50:8000
  tower config init --backend http://pi.local:8000 --device-name laptop --force`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, df)
		},
	}

	cmd.Flags().StringVar(&df.name, "device-name", "", "device name (default: hostname)")
	cmd.Flags().StringVar(&df.ip, "device-ip", "", "LAN address other devices use to reach this one")
	cmd.Flags().StringVar(&df.user, "device-user", "", "SSH login name on this device (default: current user)")
	cmd.Flags().BoolVar(&df.force, "force", false, "overwrite an existing config file")

	return cmd
}

func runConfigInit(cmd *cobra.Command, df deviceFlags) error {
	cc := mustCLIContext(cmd.Context())
	path := cc.CfgPath

	cfg := config.DefaultConfig()

	if _, err := os.Stat(path); err == nil {
		if !df.force {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
		}

		// Keep unrelated settings from the existing file.
		existing, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("loading existing config: %w", err)
		}

		cfg = existing
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking config file: %w", err)
	}

	applyDeviceIdentity(cfg, config.DetectDevice(), df)

	switch {
	case cmd.Flags().Changed("backend"):
		cfg.Backend.URL = cc.Flags.Backend
	case os.Getenv(config.EnvBackendURL) != "":
		cfg.Backend.URL = os.Getenv(config.EnvBackendURL)
	}

	if err := config.Save(path, cfg); err != nil {
		return err
	}

	cc.Statusf("Wrote %s\n", path)
	cc.Statusf("  device: %s (%s@%s)\n", cfg.Device.Name, cfg.Device.User, cfg.Device.IP)

	if cfg.Backend.URL == "" {
		cc.Statusf("  registry URL not set: pass --backend or edit the file before starting the daemon\n")
	} else {
		cc.Statusf("  registry: %s\n", cfg.Backend.URL)
	}

	cc.Statusf("Run 'tower key' to create the SSH key used by 'tower get'.\n")

	return nil
}

// applyDeviceIdentity fills the device section: explicit flags win, then
// values already in the file, then detected values.
func applyDeviceIdentity(cfg *config.Config, detected config.DeviceConfig, df deviceFlags) {
	pick := func(flag, current, auto string) string {
		switch {
		case flag != "":
			return flag
		case current != "":
			return current
		default:
			return auto
		}
	}

	cfg.Device.Name = pick(df.name, cfg.Device.Name, detected.Name)
	cfg.Device.IP = pick(df.ip, cfg.Device.IP, detected.IP)
	cfg.Device.User = pick(df.user, cfg.Device.User, detected.User)
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), cc.Cfg)
	}

	return config.RenderEffective(cc.Cfg, cc.CfgPath, cmd.OutOrStdout())
}
