package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/saaga0h/circadianlight/internal/service"
	"github.com/saaga0h/circadianlight/pkg/config"
)

// secretFlags never go into ExecStart; put them in the --env-file instead
var secretFlags = []string{"mqtt-password", "redis-password", "postgres-password"}

// pathFlags are resolved here since systemd runs the unit from another directory
var pathFlags = []string{"config", "env-file"}

func newInstallCmd(a *app) *cobra.Command {
	var enable bool

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install a systemd user unit running serve with the current flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			binary, err := os.Executable()
			if err != nil {
				return fmt.Errorf("failed to locate executable: %w", err)
			}
			if resolved, err := filepath.EvalSymlinks(binary); err == nil {
				binary = resolved
			}

			serveArgs, err := unitServeArgs(cmd.Flags(), a.logger)
			if err != nil {
				return err
			}

			unit := service.Unit{
				Name:        a.cfg.ServiceName,
				Description: "Circadian screen gamma (" + a.cfg.ServiceName + ")",
				Binary:      binary,
				Args:        serveArgs,
			}

			installer, err := service.NewInstaller(a.logger)
			if err != nil {
				return err
			}

			path, err := installer.Install(cmd.Context(), unit, enable)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&enable, "enable", false, "Enable and start the unit with systemctl --user")
	return cmd
}

// unitServeArgs turns the flags given to install into the serve command line
func unitServeArgs(fs *pflag.FlagSet, logger *slog.Logger) ([]string, error) {
	for _, name := range secretFlags {
		if fs.Changed(name) {
			logger.Warn("Leaving password out of the unit file, set it in --env-file", "flag", name)
		}
	}

	for _, name := range pathFlags {
		if !fs.Changed(name) {
			continue
		}
		f := fs.Lookup(name)
		abs, err := filepath.Abs(config.ExpandPath(f.Value.String()))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve --%s: %w", name, err)
		}
		if err := fs.Set(name, abs); err != nil {
			return nil, err
		}
	}

	skip := append([]string{"enable"}, secretFlags...)
	return append([]string{"serve"}, service.FlagArgs(fs, skip...)...), nil
}
