package autostart

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// DesktopEntry is the XDG autostart login item used on Linux desktops.
type DesktopEntry struct {
	path       string
	executable string
	args       []string
	logger     *zap.Logger
}

// NewDesktopEntry targets <configHome>/autostart/sigma-launcher.desktop.
func NewDesktopEntry(configHome, executable string, args []string, logger *zap.Logger) *DesktopEntry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DesktopEntry{
		path:       filepath.Join(configHome, "autostart", AppName+".desktop"),
		executable: executable,
		args:       args,
		logger:     logger.Named("autostart"),
	}
}

// Path returns the .desktop file path.
func (d *DesktopEntry) Path() string {
	return d.path
}

func (d *DesktopEntry) IsEnabled() (bool, error) {
	return fileExists(d.path)
}

func (d *DesktopEntry) Enable() error {
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("failed to create autostart directory: %w", err)
	}
	if err := os.WriteFile(d.path, []byte(d.render()), 0o644); err != nil {
		return fmt.Errorf("failed to write desktop entry: %w", err)
	}
	d.logger.Info("Launch at login enabled", zap.String("path", d.path))
	return nil
}

func (d *DesktopEntry) Disable() error {
	if err := os.Remove(d.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove desktop entry: %w", err)
	}
	d.logger.Info("Launch at login disabled", zap.String("path", d.path))
	return nil
}

func (d *DesktopEntry) render() string {
	parts := []string{quoteExecArg(d.executable)}
	for _, a := range d.args {
		parts = append(parts, quoteExecArg(a))
	}

	var b strings.Builder
	b.WriteString("[Desktop Entry]\n")
	b.WriteString("Type=Application\n")
	b.WriteString("Name=Sigma Launcher\n")
	b.WriteString("Exec=" + strings.Join(parts, " ") + "\n")
	b.WriteString("Terminal=false\n")
	b.WriteString("X-GNOME-Autostart-enabled=true\n")
	return b.String()
}

// quoteExecArg applies the desktop entry Exec quoting rules.
func quoteExecArg(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n\"'\\><~|&;$*?#()`%") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\\\`, `"`, `\\"`, "`", "\\\\`", `$`, `\\$`, `%`, `%%`)
	return `"` + r.Replace(s) + `"`
}
