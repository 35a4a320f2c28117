package desktop

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

// PromptTimeout bounds how long a dialog may stay open.
const PromptTimeout = 10 * time.Minute

// ErrNoPrompter is returned when the OS has no usable dialog tool.
var ErrNoPrompter = errors.New("no dialog tool available")

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Prompter asks the user yes/no questions with native dialogs.
type Prompter struct {
	goos   string
	run    runFunc
	logger *zap.SugaredLogger
}

// NewPrompter creates a prompter for the running OS.
func NewPrompter(logger *zap.SugaredLogger) *Prompter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Prompter{goos: runtime.GOOS, run: runCommand, logger: logger}
}

// Confirm shows title and message with yes and no buttons and reports whether
// yes was chosen. Closing the dialog counts as no.
func (p *Prompter) Confirm(ctx context.Context, title, message, yes, no string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, PromptTimeout)
	defer cancel()

	var (
		ok  bool
		err error
	)
	switch p.goos {
	case "darwin":
		ok, err = p.confirmDarwin(ctx, title, message, yes, no)
	case "windows":
		ok, err = p.confirmWindows(ctx, title, message)
	default:
		ok, err = p.confirmZenity(ctx, title, message, yes, no)
	}
	if err != nil {
		p.logger.Warnw("Prompt failed", "title", title, "error", err)
		return false, err
	}
	p.logger.Infow("Prompt answered", "title", title, "accepted", ok)
	return ok, nil
}

func (p *Prompter) confirmDarwin(ctx context.Context, title, message, yes, no string) (bool, error) {
	script := fmt.Sprintf(`display dialog %s with title %s buttons {%s, %s} default button %s`,
		appleScriptString(message), appleScriptString(title),
		appleScriptString(no), appleScriptString(yes), appleScriptString(yes))
	out, err := p.run(ctx, "osascript", "-e", script)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// User canceled (-128).
			return false, nil
		}
		return false, fmt.Errorf("osascript: %w", err)
	}
	return strings.Contains(string(out), "button returned:"+yes), nil
}

func (p *Prompter) confirmZenity(ctx context.Context, title, message, yes, no string) (bool, error) {
	_, err := p.run(ctx, "zenity", "--question",
		"--title="+title, "--text="+message,
		"--ok-label="+yes, "--cancel-label="+no)
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return false, ErrNoPrompter
	}
	return false, fmt.Errorf("zenity: %w", err)
}

func (p *Prompter) confirmWindows(ctx context.Context, title, message string) (bool, error) {
	script := fmt.Sprintf(
		"Add-Type -AssemblyName System.Windows.Forms; [System.Windows.Forms.MessageBox]::Show(%s, %s, 'YesNo')",
		powerShellString(message), powerShellString(title))
	out, err := p.run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return false, ErrNoPrompter
		}
		return false, fmt.Errorf("powershell: %w", err)
	}
	return strings.TrimSpace(string(out)) == "Yes", nil
}

func appleScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func powerShellString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
