package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/saaga0h/circadianlight/internal/circadian"
)

func newPrintCmd(a *app) *cobra.Command {
	var (
		clock  string
		format string
	)

	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print the gamma for the current (or given) time",
		Long:  "Print the gamma for the current (or given) time. No display is needed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reading, err := a.evaluate(clock)
			if err != nil {
				return err
			}
			return writeReading(cmd.OutOrStdout(), reading, format)
		},
	}

	cmd.Flags().StringVarP(&clock, "time", "t", "", "Time as HH:MM to compute the gamma for (default: now)")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format (text, xrandr, json)")
	return cmd
}

func writeReading(w io.Writer, reading circadian.Reading, format string) error {
	switch format {
	case "text":
		_, err := fmt.Fprintln(w, reading.Gamma.String())
		return err
	case "xrandr":
		_, err := fmt.Fprintln(w, reading.Gamma.Xrandr())
		return err
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reading)
	default:
		return fmt.Errorf("unknown format %q (must be text, xrandr, or json)", format)
	}
}
