// Package autostart registers the launcher to run at user login.
package autostart

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"
)

const (
	// Label identifies the login item on every platform.
	Label = "com.sigmaauth.launcher"
	// AppName is the display and file name used by the XDG and registry entries.
	AppName = "sigma-launcher"
)

// ErrUnsupported is returned where no login item mechanism exists.
var ErrUnsupported = errors.New("launch at login is not supported on this platform")

// Registrar adds or removes the login item.
type Registrar interface {
	Enable() error
	Disable() error
	IsEnabled() (bool, error)
}

// New returns the registrar for the running OS, launching executable with args.
func New(executable string, args []string, logger *zap.Logger) (Registrar, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to get executable path: %w", err)
		}
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		executable = exe
	}

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		return NewLaunchAgent(home, executable, args, logger), nil
	case "windows":
		return newRunKey(executable, args, logger)
	default:
		dir, err := xdgConfigHome()
		if err != nil {
			return nil, err
		}
		return NewDesktopEntry(dir, executable, args, logger), nil
	}
}

// Reconcile brings the registrar in line with the wanted state.
func Reconcile(r Registrar, want bool) error {
	enabled, err := r.IsEnabled()
	if err != nil {
		return err
	}
	if enabled == want {
		return nil
	}
	if want {
		return r.Enable()
	}
	return r.Disable()
}

// fileExists reports whether path exists; other stat failures are returned.
func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
}

func xdgConfigHome() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config"), nil
}
