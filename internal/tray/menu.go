// Package tray renders the launcher's tray menu and dispatches its actions.
package tray

import (
	"fmt"

	"github.com/sigmaauth/sigma-launcher/internal/settings"
	"github.com/sigmaauth/sigma-launcher/internal/supervisor"
	"github.com/sigmaauth/sigma-launcher/internal/updatecheck"
)

// Action identifies a menu item.
type Action string

const (
	ActionOpenDashboard   Action = "open_dashboard"
	ActionRestartServer   Action = "restart_server"
	ActionToggleAutostart Action = "toggle_launch_at_login"
	ActionToggleBeta      Action = "toggle_beta_updates"
	ActionCheckUpdates    Action = "check_updates"
	ActionInstallUpdate   Action = "install_update"
	ActionStatus          Action = "status"
	ActionQuit            Action = "quit"
)

// Actions lists every item in menu order; renderers create items from it once.
var Actions = []Action{
	ActionOpenDashboard,
	ActionRestartServer,
	ActionToggleAutostart,
	ActionToggleBeta,
	ActionCheckUpdates,
	ActionInstallUpdate,
	ActionStatus,
	ActionQuit,
}

// separatorBefore marks items that start a new menu group.
var separatorBefore = map[Action]bool{
	ActionToggleAutostart: true,
	ActionStatus:          true,
	ActionQuit:            true,
}

// SeparatorBefore reports whether a separator precedes the item.
func SeparatorBefore(a Action) bool {
	return separatorBefore[a]
}

// View is everything the menu depends on.
type View struct {
	Status   supervisor.Status
	Reason   string
	Settings settings.Settings
	Update   updatecheck.Info
}

// Item is one rendered menu entry.
type Item struct {
	Action    Action
	Title     string
	Tooltip   string
	Enabled   bool
	Checkable bool
	Checked   bool
	Visible   bool
}

// Menu is the full rendered state of the tray.
type Menu struct {
	Status  supervisor.Status
	Tooltip string
	Items   []Item
}

// Item returns the entry for a, or false.
func (m Menu) Item(a Action) (Item, bool) {
	for _, it := range m.Items {
		if it.Action == a {
			return it, true
		}
	}
	return Item{}, false
}

// BuildMenu derives the menu from v. It has no side effects.
func BuildMenu(v View) Menu {
	running := v.Status == supervisor.StatusRunning

	checkTitle, checkEnabled := "Check for Updates…", true
	switch v.Update.State {
	case updatecheck.StateChecking:
		checkTitle, checkEnabled = "Checking for Updates…", false
	case updatecheck.StateDownloading:
		checkTitle, checkEnabled = fmt.Sprintf("Downloading %s…", v.Update.LatestVersion), false
	}

	ready := v.Update.State == updatecheck.StateReadyToInstall

	items := []Item{
		{Action: ActionOpenDashboard, Title: "Open Dashboard", Tooltip: "Open the dashboard in your browser", Enabled: running, Visible: true},
		{Action: ActionRestartServer, Title: "Restart Server", Tooltip: "Restart the local server", Enabled: true, Visible: true},
		{Action: ActionToggleAutostart, Title: "Launch at Login", Tooltip: "Start Sigma Launcher when you log in", Enabled: true, Checkable: true, Checked: v.Settings.LaunchAtLogin, Visible: true},
		{Action: ActionToggleBeta, Title: "Use Beta Updates", Tooltip: "Include pre-release versions in update checks", Enabled: true, Checkable: true, Checked: v.Settings.UseBetaChannel, Visible: true},
		{Action: ActionCheckUpdates, Title: checkTitle, Tooltip: "Check for a newer version", Enabled: checkEnabled, Visible: true},
		{Action: ActionInstallUpdate, Title: installTitle(v.Update), Tooltip: "Install the downloaded update and restart", Enabled: ready, Visible: ready},
		{Action: ActionStatus, Title: StatusLabel(v.Status, v.Reason), Tooltip: "Server status", Enabled: false, Visible: true},
		{Action: ActionQuit, Title: "Quit", Tooltip: "Stop the server and quit", Enabled: true, Visible: true},
	}

	return Menu{
		Status:  v.Status,
		Tooltip: tooltip(v),
		Items:   items,
	}
}

// StatusLabel is the text of the disabled status item.
func StatusLabel(s supervisor.Status, reason string) string {
	switch s {
	case supervisor.StatusRunning:
		return "Status: Running"
	case supervisor.StatusError:
		if reason == "" {
			return "Status: Error"
		}
		return "Status: Error (" + reason + ")"
	default:
		return "Status: Starting…"
	}
}

func installTitle(u updatecheck.Info) string {
	if u.LatestVersion == "" {
		return "Install Update and Restart"
	}
	return fmt.Sprintf("Install Update %s and Restart", u.LatestVersion)
}

func tooltip(v View) string {
	t := "Sigma Launcher: " + StatusLabel(v.Status, v.Reason)[len("Status: "):]
	if v.Update.State == updatecheck.StateReadyToInstall || v.Update.State == updatecheck.StateUpdateAvailable {
		t += fmt.Sprintf("\nUpdate %s available", v.Update.LatestVersion)
	}
	return t
}
