package autostart

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const launchAgentTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>%s</string>
    <key>ProgramArguments</key>
    <array>
%s    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <false/>
    <key>StandardOutPath</key>
    <string>%s</string>
    <key>StandardErrorPath</key>
    <string>%s</string>
    <key>WorkingDirectory</key>
    <string>%s</string>
</dict>
</plist>
`

// LaunchAgent is the macOS login item: a per-user launchd plist.
type LaunchAgent struct {
	plistPath  string
	logDir     string
	executable string
	args       []string
	logger     *zap.Logger

	// launchctl runs launchctl; replaced in tests.
	launchctl func(args ...string) ([]byte, error)
}

// NewLaunchAgent targets ~/Library/LaunchAgents under home.
func NewLaunchAgent(home, executable string, args []string, logger *zap.Logger) *LaunchAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LaunchAgent{
		plistPath:  filepath.Join(home, "Library", "LaunchAgents", Label+".plist"),
		logDir:     filepath.Join(home, "Library", "Logs", AppName),
		executable: executable,
		args:       args,
		logger:     logger.Named("autostart"),
		launchctl: func(args ...string) ([]byte, error) {
			return exec.Command("launchctl", args...).CombinedOutput()
		},
	}
}

// Path returns the plist path.
func (a *LaunchAgent) Path() string {
	return a.plistPath
}

// IsEnabled reports whether the plist is installed.
func (a *LaunchAgent) IsEnabled() (bool, error) {
	return fileExists(a.plistPath)
}

// Enable writes the plist and loads it.
func (a *LaunchAgent) Enable() error {
	if err := os.MkdirAll(filepath.Dir(a.plistPath), 0o755); err != nil {
		return fmt.Errorf("failed to create LaunchAgents directory: %w", err)
	}
	if err := os.MkdirAll(a.logDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	if err := os.WriteFile(a.plistPath, a.render(), 0o600); err != nil {
		return fmt.Errorf("failed to write plist file: %w", err)
	}

	if output, err := a.launchctl("load", "-w", a.plistPath); err != nil {
		if !strings.Contains(string(output), "already loaded") {
			return fmt.Errorf("failed to load launch agent: %w, output: %s", err, output)
		}
	}
	a.logger.Info("Launch at login enabled", zap.String("plist", a.plistPath))
	return nil
}

// Disable unloads and removes the plist. Missing plist is not an error.
func (a *LaunchAgent) Disable() error {
	enabled, err := a.IsEnabled()
	if err != nil {
		return err
	}
	if !enabled {
		return nil
	}
	if output, err := a.launchctl("unload", "-w", a.plistPath); err != nil {
		if !strings.Contains(string(output), "not loaded") {
			return fmt.Errorf("failed to unload launch agent: %w, output: %s", err, output)
		}
	}
	if err := os.Remove(a.plistPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove plist file: %w", err)
	}
	a.logger.Info("Launch at login disabled", zap.String("plist", a.plistPath))
	return nil
}

func (a *LaunchAgent) render() []byte {
	var program strings.Builder
	for _, arg := range append([]string{a.executable}, a.args...) {
		program.WriteString("        <string>")
		program.WriteString(xmlEscape(arg))
		program.WriteString("</string>\n")
	}
	return []byte(fmt.Sprintf(launchAgentTemplate,
		xmlEscape(Label),
		program.String(),
		xmlEscape(filepath.Join(a.logDir, "launchd.log")),
		xmlEscape(filepath.Join(a.logDir, "launchd-error.log")),
		xmlEscape(filepath.Dir(a.executable)),
	))
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
