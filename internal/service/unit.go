// Package service installs circadianlight as a systemd user service.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/spf13/pflag"
)

// Unit describes the service unit to render
type Unit struct {
	Name        string
	Description string
	Binary      string
	Args        []string
}

// FileName is the unit file name, e.g. circadianlight.service
func (u Unit) FileName() string {
	return u.Name + ".service"
}

var unitTemplate = template.Must(template.New("unit").Funcs(template.FuncMap{
	"quote": quoteArg,
}).Parse(`[Unit]
Description={{ .Description }}
PartOf=graphical-session.target
After=graphical-session.target

[Service]
Type=simple
ExecStart={{ quote .Binary }}{{ range .Args }} {{ quote . }}{{ end }}
Restart=on-failure
RestartSec=10

[Install]
WantedBy=graphical-session.target
`))

// Render writes the unit file for u
func Render(w io.Writer, u Unit) error {
	if u.Name == "" || u.Binary == "" {
		return fmt.Errorf("unit name and binary are required")
	}
	if err := unitTemplate.Execute(w, u); err != nil {
		return fmt.Errorf("failed to render unit %s: %w", u.FileName(), err)
	}
	return nil
}

// quoteArg quotes a word for ExecStart when it contains whitespace or quotes.
// Percent signs are doubled since systemd expands specifiers.
func quoteArg(s string) string {
	s = strings.ReplaceAll(s, "%", "%%")
	if s != "" && !strings.ContainsAny(s, " \t\"'\\") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// FlagArgs returns the flags set on the command line as --name=value words,
// sorted by name, leaving out the names in skip
func FlagArgs(fs *pflag.FlagSet, skip ...string) []string {
	skipped := make(map[string]bool, len(skip))
	for _, name := range skip {
		skipped[name] = true
	}

	var args []string
	fs.Visit(func(f *pflag.Flag) {
		if skipped[f.Name] {
			return
		}
		args = append(args, fmt.Sprintf("--%s=%s", f.Name, f.Value.String()))
	})
	sort.Strings(args)
	return args
}

// UserUnitDir returns $XDG_CONFIG_HOME/systemd/user, defaulting to
// ~/.config/systemd/user
func UserUnitDir() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "systemd", "user"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate home directory: %w", err)
	}
	return filepath.Join(home, ".config", "systemd", "user"), nil
}

// Runner executes an external command
type Runner func(ctx context.Context, name string, args ...string) error

// Installer writes unit files and optionally enables them
type Installer struct {
	Dir    string
	Run    Runner
	Logger *slog.Logger
}

// NewInstaller creates an installer for the user unit directory
func NewInstaller(logger *slog.Logger) (*Installer, error) {
	dir, err := UserUnitDir()
	if err != nil {
		return nil, err
	}
	return &Installer{Dir: dir, Run: runCommand, Logger: logger}, nil
}

// Install writes the unit and, when enable is set, reloads systemd and
// starts the service. It returns the unit file path.
func (i *Installer) Install(ctx context.Context, u Unit, enable bool) (string, error) {
	if err := os.MkdirAll(i.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create unit dir: %w", err)
	}

	// The unit may point at credentials, so only the owner reads it
	path := filepath.Join(i.Dir, u.FileName())
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create unit file: %w", err)
	}
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to restrict unit file: %w", err)
	}
	if err := Render(f, u); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write unit file: %w", err)
	}
	i.Logger.Info("Wrote systemd user unit", "path", path)

	if !enable {
		return path, nil
	}

	for _, args := range [][]string{
		{"--user", "daemon-reload"},
		{"--user", "enable", "--now", u.FileName()},
	} {
		if err := i.Run(ctx, "systemctl", args...); err != nil {
			return path, fmt.Errorf("systemctl %s failed: %w", strings.Join(args, " "), err)
		}
	}
	i.Logger.Info("Enabled systemd user unit", "unit", u.FileName())
	return path, nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
