package display

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/saaga0h/circadianlight/internal/circadian"
)

const commandTimeout = 5 * time.Second

// Runner executes a command and returns its standard output
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// XrandrApplier drives the gamma through the xrandr binary
type XrandrApplier struct {
	binary string
	run    Runner
	logger *slog.Logger
}

// NewXrandrApplier checks for an X display and an xrandr binary on PATH
func NewXrandrApplier(logger *slog.Logger) (*XrandrApplier, error) {
	if os.Getenv("DISPLAY") == "" {
		return nil, fmt.Errorf("%w: DISPLAY is not set", ErrDisplayUnavailable)
	}

	binary, err := exec.LookPath("xrandr")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDisplayUnavailable, err)
	}

	return NewXrandrApplierWithRunner(binary, execRunner, logger), nil
}

// NewXrandrApplierWithRunner builds an applier around a custom runner
func NewXrandrApplierWithRunner(binary string, run Runner, logger *slog.Logger) *XrandrApplier {
	if logger == nil {
		logger = slog.Default()
	}
	return &XrandrApplier{
		binary: binary,
		run:    run,
		logger: logger,
	}
}

// Outputs runs xrandr --listmonitors
func (x *XrandrApplier) Outputs(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	out, err := x.run(ctx, x.binary, "--listmonitors")
	if err != nil {
		return nil, fmt.Errorf("%w: xrandr --listmonitors failed: %v", ErrDisplayUnavailable, err)
	}
	return ParseMonitors(out), nil
}

// Apply runs xrandr --output <output> --gamma r:g:b
func (x *XrandrApplier) Apply(ctx context.Context, output string, gamma circadian.Triple) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	value := gamma.Clamp().Xrandr()
	if _, err := x.run(ctx, x.binary, "--output", output, "--gamma", value); err != nil {
		return fmt.Errorf("%w: xrandr --output %s --gamma %s failed: %v", ErrDisplayUnavailable, output, value, err)
	}

	x.logger.Debug("Applied gamma", "output", output, "gamma", value)
	return nil
}

// ParseMonitors extracts output names from xrandr --listmonitors output.
// The first line is a "Monitors: N" header; each following line ends with
// the output name.
func ParseMonitors(out []byte) []string {
	var monitors []string

	scanner := bufio.NewScanner(bytes.NewReader(out))
	first := true
	for scanner.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		monitors = append(monitors, fields[len(fields)-1])
	}
	return monitors
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}
