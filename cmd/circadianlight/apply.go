package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saaga0h/circadianlight/internal/display"
)

func newApplyCmd(a *app) *cobra.Command {
	var (
		clock  string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply the gamma for the current (or given) time once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reading, err := a.evaluate(clock)
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			var applier display.Applier
			var recorder *display.Recorder
			if dryRun {
				recorder, err = a.dryRunApplier(ctx)
				applier = recorder
			} else {
				applier, err = display.NewXrandrApplier(a.logger)
			}
			if err != nil {
				return err
			}

			output, err := display.ResolveOutput(ctx, applier, a.cfg.Output)
			if err != nil {
				return err
			}

			if err := applier.Apply(ctx, output, reading.Gamma); err != nil {
				return fmt.Errorf("failed to apply gamma: %w", err)
			}

			if recorder != nil {
				last, _ := recorder.Last()
				fmt.Fprintf(cmd.OutOrStdout(), "xrandr --output %s --gamma %s\n", last.Output, last.Gamma.Xrandr())
				return nil
			}

			a.logger.Info("Gamma applied",
				"output", output,
				"phase", reading.Phase.String(),
				"gamma", reading.Gamma.String())
			return nil
		},
	}

	cmd.Flags().StringVarP(&clock, "time", "t", "", "Time as HH:MM to compute the gamma for (default: now)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the xrandr call instead of running it")
	return cmd
}

// dryRunApplier records instead of applying. Without --output it still asks
// xrandr for the monitor list, which does not touch the gamma.
func (a *app) dryRunApplier(ctx context.Context) (*display.Recorder, error) {
	if a.cfg.Output != "" {
		return display.NewRecorder(a.cfg.Output), nil
	}

	xrandr, err := display.NewXrandrApplier(a.logger)
	if err != nil {
		return nil, fmt.Errorf("dry run without --output needs a display to list monitors: %w", err)
	}
	outputs, err := xrandr.Outputs(ctx)
	if err != nil {
		return nil, err
	}
	return display.NewRecorder(outputs...), nil
}
