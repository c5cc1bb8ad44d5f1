package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
)

// Launcher hands a directory or URL to the desktop
type Launcher interface {
	Open(ctx context.Context, target string) error
}

type launchMethod struct {
	name string
	cmd  string
	args []string
}

// SystemLauncher opens targets with the platform's file explorer or
// default browser, trying each known command in turn
type SystemLauncher struct {
	goos   string
	start  func(ctx context.Context, name string, args ...string) error
	logger *slog.Logger
}

// NewSystemLauncher returns a launcher for the running OS
func NewSystemLauncher(logger *slog.Logger) *SystemLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemLauncher{
		goos:   runtime.GOOS,
		start:  startCommand,
		logger: logger.With(slog.String("component", "services.launcher")),
	}
}

// Open starts the first command that accepts target. It does not wait for
// the opened window.
func (l *SystemLauncher) Open(ctx context.Context, target string) error {
	var lastErr error
	for _, m := range launchMethods(l.goos, target) {
		if err := l.start(ctx, m.cmd, m.args...); err != nil {
			lastErr = err
			l.logger.WarnContext(ctx, "Launch method failed",
				slog.String("method", m.name),
				slog.String("error", err.Error()))
			continue
		}
		l.logger.InfoContext(ctx, "Opened",
			slog.String("method", m.name),
			slog.String("target", target))
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("no launch method for " + l.goos)
	}
	return fmt.Errorf("failed to open %s: %w", target, lastErr)
}

func launchMethods(goos, target string) []launchMethod {
	switch goos {
	case "windows":
		return []launchMethod{
			{name: "explorer", cmd: "explorer", args: []string{target}},
			{name: "start_command", cmd: "cmd", args: []string{"/c", "start", "", target}},
			{name: "rundll32", cmd: "rundll32", args: []string{"url.dll,FileProtocolHandler", target}},
		}
	case "darwin":
		return []launchMethod{
			{name: "open", cmd: "open", args: []string{target}},
		}
	default:
		return []launchMethod{
			{name: "xdg-open", cmd: "xdg-open", args: []string{target}},
			{name: "gio", cmd: "gio", args: []string{"open", target}},
		}
	}
}

func startCommand(ctx context.Context, name string, args ...string) error {
	if _, err := exec.LookPath(name); err != nil {
		return err
	}
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	// explorer.exe exits non-zero even on success, so the exit status is
	// ignored
	go cmd.Wait()
	return ctx.Err()
}
