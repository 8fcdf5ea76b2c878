package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/saaga0h/circadianlight/internal/circadian"
	"github.com/saaga0h/circadianlight/pkg/config"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

// run executes the CLI and returns the process exit code
func run(args []string, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)

	err := cmd.Execute()
	if err == nil {
		return 0
	}

	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		fmt.Fprintf(stderr, "Configuration error: %v\n", cfgErr)
	} else {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return 1
}

// configError marks a configuration that failed to load or validate
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// app carries the loaded configuration from the root command to subcommands
type app struct {
	cfg    *config.Config
	gamma  circadian.Config
	logger *slog.Logger
	now    func() time.Time
}

func newRootCmd() *cobra.Command {
	a := &app{
		cfg: config.NewConfig(),
		now: time.Now,
	}

	rootCmd := &cobra.Command{
		Use:   "circadianlight",
		Short: "Shift the screen gamma towards red as the night approaches",
		Long: `circadianlight lowers the green and blue gain of the screen during the
evening: full gain through the day, a linear fade during dusk, and the
night target until the next day starts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.load(cmd)
		},
	}

	a.cfg.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newServeCmd(a),
		newApplyCmd(a),
		newPrintCmd(a),
		newInstallCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// load fills the config with hierarchy: defaults → file → env file → env → flags,
// validates it and sets up logging. Failures are returned as *configError
// before any subcommand touches the display.
func (a *app) load(cmd *cobra.Command) error {
	if err := a.cfg.Load(cmd.Flags()); err != nil {
		return &configError{err: err}
	}

	if err := a.cfg.Validate(); err != nil {
		return &configError{err: err}
	}

	gamma, err := a.cfg.Circadian()
	if err != nil {
		return &configError{err: err}
	}
	a.gamma = gamma

	a.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(a.cfg.LogLevel),
	}))
	slog.SetDefault(a.logger)
	return nil
}

// evaluate computes the reading for clock ("HH:MM"), or for now when empty
func (a *app) evaluate(clock string) (circadian.Reading, error) {
	hour := circadian.HourOf(a.now())
	if clock != "" {
		h, err := circadian.ParseClock(clock)
		if err != nil {
			return circadian.Reading{}, fmt.Errorf("invalid --time: %w", err)
		}
		hour = h
	}
	return circadian.Evaluate(a.gamma, hour)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "circadianlight %s\n", version)
		},
	}
}
