package desktop

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/browser"
	"go.uber.org/zap"
)

const focusTimeout = 5 * time.Second

// focusTabScript finds a Chrome or Safari tab whose URL starts with the dashboard
// URL, brings it to the front and reloads it. It prints "found" on success.
const focusTabScript = `set targetURL to %s
if application "Google Chrome" is running then
	tell application "Google Chrome"
		repeat with w in windows
			set i to 0
			repeat with t in tabs of w
				set i to i + 1
				if URL of t starts with targetURL then
					set active tab index of w to i
					set index of w to 1
					tell t to reload
					activate
					return "found"
				end if
			end repeat
		end repeat
	end tell
end if
if application "Safari" is running then
	tell application "Safari"
		repeat with w in windows
			repeat with t in tabs of w
				if URL of t starts with targetURL then
					set current tab of w to t
					set index of w to 1
					tell t to do JavaScript "location.reload()"
					activate
					return "found"
				end if
			end repeat
		end repeat
	end tell
end if
return "missing"`

// Dashboard surfaces the local web UI.
type Dashboard struct {
	goos    string
	run     runFunc
	openURL func(url string) error
	logger  *zap.SugaredLogger
}

// NewDashboard creates an opener for the running OS.
func NewDashboard(logger *zap.SugaredLogger) *Dashboard {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Dashboard{goos: runtime.GOOS, run: runCommand, openURL: browser.OpenURL, logger: logger}
}

// Open focuses an existing dashboard tab on macOS, otherwise opens a new one.
func (d *Dashboard) Open(ctx context.Context, url string) error {
	if d.goos == "darwin" && d.focusExisting(ctx, url) {
		d.logger.Infow("Focused existing dashboard tab", "url", url)
		return nil
	}
	if err := d.openURL(url); err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	d.logger.Infow("Opened dashboard", "url", url)
	return nil
}

func (d *Dashboard) focusExisting(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, focusTimeout)
	defer cancel()

	out, err := d.run(ctx, "osascript", "-e", fmt.Sprintf(focusTabScript, appleScriptString(url)))
	if err != nil {
		d.logger.Debugw("Tab focus script failed", "error", err)
		return false
	}
	return strings.TrimSpace(string(out)) == "found"
}
