// Package display applies gamma gains to an X display output.
package display

import (
	"context"
	"errors"
	"fmt"

	"github.com/saaga0h/circadianlight/internal/circadian"
)

// ErrDisplayUnavailable is returned when no X display can be reached or
// xrandr is missing or fails.
var ErrDisplayUnavailable = errors.New("display unavailable")

// Applier lists outputs and sets their per-channel gain
type Applier interface {
	// Outputs lists the connected outputs in xrandr order
	Outputs(ctx context.Context) ([]string, error)

	// Apply sets the gamma of one output
	Apply(ctx context.Context, output string, gamma circadian.Triple) error
}

// ResolveOutput returns configured when set, otherwise the first output the
// applier lists. Only one output is ever driven.
func ResolveOutput(ctx context.Context, a Applier, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}

	outputs, err := a.Outputs(ctx)
	if err != nil {
		return "", err
	}
	if len(outputs) == 0 {
		return "", fmt.Errorf("%w: no monitors listed", ErrDisplayUnavailable)
	}
	return outputs[0], nil
}
