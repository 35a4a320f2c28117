//go:build windows

package autostart

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sys/windows/registry"
)

const runKeyPath = `Software\Microsoft\Windows\CurrentVersion\Run`

// runKey is the HKCU Run value for the launcher.
type runKey struct {
	command string
	logger  *zap.Logger
}

func newRunKey(executable string, args []string, logger *zap.Logger) (Registrar, error) {
	parts := []string{`"` + executable + `"`}
	for _, a := range args {
		if strings.ContainsAny(a, " \t") {
			a = `"` + a + `"`
		}
		parts = append(parts, a)
	}
	return &runKey{command: strings.Join(parts, " "), logger: logger.Named("autostart")}, nil
}

func (r *runKey) IsEnabled() (bool, error) {
	k, err := registry.OpenKey(registry.CURRENT_USER, runKeyPath, registry.QUERY_VALUE)
	if err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to open Run key: %w", err)
	}
	defer k.Close()
	if _, _, err := k.GetStringValue(AppName); err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read Run value: %w", err)
	}
	return true, nil
}

func (r *runKey) Enable() error {
	k, _, err := registry.CreateKey(registry.CURRENT_USER, runKeyPath, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("failed to open Run key: %w", err)
	}
	defer k.Close()
	if err := k.SetStringValue(AppName, r.command); err != nil {
		return fmt.Errorf("failed to set Run value: %w", err)
	}
	r.logger.Info("Launch at login enabled", zap.String("command", r.command))
	return nil
}

func (r *runKey) Disable() error {
	k, err := registry.OpenKey(registry.CURRENT_USER, runKeyPath, registry.SET_VALUE)
	if err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open Run key: %w", err)
	}
	defer k.Close()
	if err := k.DeleteValue(AppName); err != nil && !errors.Is(err, registry.ErrNotExist) {
		return fmt.Errorf("failed to delete Run value: %w", err)
	}
	r.logger.Info("Launch at login disabled")
	return nil
}
