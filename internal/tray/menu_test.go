package tray

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/sigmaauth/sigma-launcher/internal/settings"
	"github.com/sigmaauth/sigma-launcher/internal/supervisor"
	"github.com/sigmaauth/sigma-launcher/internal/updatecheck"
)

func TestBuildMenuOrder(t *testing.T) {
	m := BuildMenu(View{Status: supervisor.StatusStarting})
	require.Len(t, m.Items, len(Actions))
	for i, a := range Actions {
		assert.Equal(t, a, m.Items[i].Action)
	}
}

func TestBuildMenuDashboardEnabledOnlyWhenRunning(t *testing.T) {
	tests := []struct {
		status supervisor.Status
		want   bool
	}{
		{supervisor.StatusStarting, false},
		{supervisor.StatusRunning, true},
		{supervisor.StatusError, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			m := BuildMenu(View{Status: tt.status})
			dash, _ := m.Item(ActionOpenDashboard)
			assert.Equal(t, tt.want, dash.Enabled)

			restart, _ := m.Item(ActionRestartServer)
			assert.True(t, restart.Enabled)

			status, _ := m.Item(ActionStatus)
			assert.False(t, status.Enabled)
		})
	}
}

func TestBuildMenuTogglesMirrorSettings(t *testing.T) {
	m := BuildMenu(View{Settings: settings.Settings{UseBetaChannel: true, LaunchAtLogin: false}})

	login, _ := m.Item(ActionToggleAutostart)
	assert.True(t, login.Checkable)
	assert.False(t, login.Checked)

	beta, _ := m.Item(ActionToggleBeta)
	assert.True(t, beta.Checkable)
	assert.True(t, beta.Checked)
}

func TestBuildMenuUpdateItems(t *testing.T) {
	m := BuildMenu(View{Update: updatecheck.Info{State: updatecheck.StateIdle}})
	install, _ := m.Item(ActionInstallUpdate)
	assert.False(t, install.Visible)

	m = BuildMenu(View{Update: updatecheck.Info{State: updatecheck.StateChecking}})
	check, _ := m.Item(ActionCheckUpdates)
	assert.False(t, check.Enabled)
	assert.Equal(t, "Checking for Updates…", check.Title)

	m = BuildMenu(View{Update: updatecheck.Info{State: updatecheck.StateReadyToInstall, LatestVersion: "v1.2.0"}})
	install, _ = m.Item(ActionInstallUpdate)
	assert.True(t, install.Visible)
	assert.True(t, install.Enabled)
	assert.Equal(t, "Install Update v1.2.0 and Restart", install.Title)
	assert.Contains(t, m.Tooltip, "Update v1.2.0 available")
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "Status: Starting…", StatusLabel(supervisor.StatusStarting, ""))
	assert.Equal(t, "Status: Running", StatusLabel(supervisor.StatusRunning, ""))
	assert.Equal(t, "Status: Error (port already in use)", StatusLabel(supervisor.StatusError, "port already in use"))
	assert.Equal(t, "Status: Error", StatusLabel(supervisor.StatusError, ""))
}

func TestBuildMenuDeterministicProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := View{
			Status: rapid.SampledFrom([]supervisor.Status{supervisor.StatusStarting, supervisor.StatusRunning, supervisor.StatusError}).Draw(t, "status"),
			Reason: rapid.String().Draw(t, "reason"),
			Settings: settings.Settings{
				UseBetaChannel: rapid.Bool().Draw(t, "beta"),
				LaunchAtLogin:  rapid.Bool().Draw(t, "login"),
			},
			Update: updatecheck.Info{
				State: rapid.SampledFrom([]updatecheck.State{
					updatecheck.StateIdle, updatecheck.StateChecking, updatecheck.StateUpToDate,
					updatecheck.StateUpdateAvailable, updatecheck.StateDownloading,
					updatecheck.StateReadyToInstall, updatecheck.StateError,
				}).Draw(t, "update"),
				LatestVersion: rapid.StringMatching(`v[0-9]\.[0-9]\.[0-9]`).Draw(t, "version"),
			},
		}

		a, b := BuildMenu(v), BuildMenu(v)
		if len(a.Items) != len(b.Items) || a.Tooltip != b.Tooltip {
			t.Fatalf("menus differ for %+v", v)
		}
		for i := range a.Items {
			if a.Items[i] != b.Items[i] {
				t.Fatalf("item %d differs: %+v vs %+v", i, a.Items[i], b.Items[i])
			}
		}

		dash, _ := a.Item(ActionOpenDashboard)
		if dash.Enabled != (v.Status == supervisor.StatusRunning) {
			t.Fatalf("dashboard enabled=%v with status %s", dash.Enabled, v.Status)
		}
		login, _ := a.Item(ActionToggleAutostart)
		beta, _ := a.Item(ActionToggleBeta)
		if login.Checked != v.Settings.LaunchAtLogin || beta.Checked != v.Settings.UseBetaChannel {
			t.Fatalf("toggles do not mirror settings %+v", v.Settings)
		}
	})
}

func TestStatusIconIsPNG(t *testing.T) {
	for _, s := range []supervisor.Status{supervisor.StatusStarting, supervisor.StatusRunning, supervisor.StatusError, "bogus"} {
		img, err := png.Decode(bytes.NewReader(StatusIcon(s)))
		require.NoError(t, err)
		assert.Equal(t, iconSize, img.Bounds().Dx())
	}
	assert.NotEqual(t, StatusIcon(supervisor.StatusRunning), StatusIcon(supervisor.StatusError))
}
