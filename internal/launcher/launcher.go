// Package launcher starts the external client application after an account
// switch when it is not already running.
package launcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pysugar/account-nexus/internal/config"
)

// ErrNotConfigured is returned when no launch command is set.
var ErrNotConfigured = errors.New("launcher: no command configured")

// Launcher checks for and starts one external process.
type Launcher struct {
	command     string
	args        []string
	processName string
	goos        string

	running func(ctx context.Context, goos, name string) (bool, error)
	start   func(command string, args []string) error
}

// New creates a launcher. The process name defaults to the command's base
// name.
func New(cfg config.LauncherConfig) *Launcher {
	name := cfg.ProcessName
	if name == "" && cfg.Command != "" {
		name = filepath.Base(cfg.Command)
	}
	return &Launcher{
		command:     cfg.Command,
		args:        cfg.Args,
		processName: name,
		goos:        runtime.GOOS,
		running:     processRunning,
		start:       startDetached,
	}
}

// Configured reports whether a command is set.
func (l *Launcher) Configured() bool {
	return l.command != ""
}

// IsRunning reports whether the process is alive.
func (l *Launcher) IsRunning(ctx context.Context) (bool, error) {
	if !l.Configured() {
		return false, ErrNotConfigured
	}
	return l.running(ctx, l.goos, l.processName)
}

// EnsureRunning starts the application unless it already runs.
func (l *Launcher) EnsureRunning(ctx context.Context) error {
	ok, err := l.IsRunning(ctx)
	if err != nil {
		return err
	}
	if ok {
		log.Debug().Str("process", l.processName).Msg("External application already running")
		return nil
	}
	if err := l.start(l.command, l.args); err != nil {
		return fmt.Errorf("launch %s: %w", l.command, err)
	}
	log.Info().Str("command", l.command).Msg("🚀 External application launched")
	return nil
}

// processRunning asks the platform process listing for name.
func processRunning(ctx context.Context, goos, name string) (bool, error) {
	var cmd *exec.Cmd
	switch goos {
	case "windows":
		cmd = exec.CommandContext(ctx, "tasklist", "/FI", "IMAGENAME eq "+name, "/NH")
	default:
		cmd = exec.CommandContext(ctx, "pgrep", "-x", name)
	}
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	err := cmd.Run()

	if goos == "windows" {
		if err != nil {
			return false, fmt.Errorf("tasklist: %w", err)
		}
		return strings.Contains(strings.ToLower(stdout.String()), strings.ToLower(name)), nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pgrep: %w", err)
	}
	return true, nil
}

// startDetached starts the command without waiting for it and reaps it in
// the background.
func startDetached(command string, args []string) error {
	cmd := exec.Command(command, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
