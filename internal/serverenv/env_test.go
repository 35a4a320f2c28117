package serverenv

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testBuilder(t *testing.T, goos string, environ []string, discovered ...string) *Builder {
	t.Helper()
	return &Builder{
		logger:       zaptest.NewLogger(t).Sugar(),
		goos:         goos,
		environ:      func() []string { return environ },
		registryPath: func() []string { return nil },
		discovered:   discovered,
	}
}

func lookup(env []string, key string) (string, bool) {
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v, true
		}
	}
	return "", false
}

func TestBuildCompletesMinimalPath(t *testing.T) {
	b := testBuilder(t, "darwin",
		[]string{"PATH=/usr/bin:/bin", "HOME=/Users/me", "NODE_ENV=development"},
		"/usr/bin", "/opt/homebrew/bin", "/Users/me/.volta/bin")

	env := b.Build("PORT=21000", "HOSTNAME=0.0.0.0")

	path, ok := lookup(env, "PATH")
	require.True(t, ok)
	assert.Equal(t, "/usr/bin:/bin:/opt/homebrew/bin:/Users/me/.volta/bin", path)

	port, _ := lookup(env, "PORT")
	assert.Equal(t, "21000", port)
	nodeEnv, _ := lookup(env, "NODE_ENV")
	assert.Equal(t, "development", nodeEnv)
}

func TestBuildExtraOverridesInherited(t *testing.T) {
	b := testBuilder(t, "linux", []string{"PORT=3000", "PATH=/bin"})
	env := b.Build("PORT=21000")

	var ports []string
	for _, kv := range env {
		if k, v, _ := strings.Cut(kv, "="); k == "PORT" {
			ports = append(ports, v)
		}
	}
	assert.Equal(t, []string{"21000"}, ports)
}

func TestBuildWithoutInheritedPath(t *testing.T) {
	b := testBuilder(t, "linux", []string{"HOME=/home/me"}, "/usr/local/bin", "/usr/bin")
	path, ok := lookup(b.Build(), "PATH")
	require.True(t, ok)
	assert.Equal(t, "/usr/local/bin:/usr/bin", path)
}

func TestBuildWindowsIsCaseInsensitive(t *testing.T) {
	b := testBuilder(t, "windows",
		[]string{`Path=C:\Windows\System32`, "port=1"},
		`c:\windows\system32\`, `C:\Program Files\nodejs`)

	env := b.Build("PORT=21000")
	path, ok := lookup(env, "Path")
	require.True(t, ok)
	assert.Equal(t, `C:\Windows\System32;C:\Program Files\nodejs`, path)

	_, inherited := lookup(env, "port")
	assert.False(t, inherited)
}

func TestDiscoverFindsNodeManagers(t *testing.T) {
	home := t.TempDir()
	t.Setenv("NVM_DIR", "")
	for _, dir := range []string{
		filepath.Join(home, ".volta", "bin"),
		filepath.Join(home, ".nvm", "versions", "node", "v18.20.0", "bin"),
		filepath.Join(home, ".nvm", "versions", "node", "v20.11.1", "bin"),
	} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}

	b := testBuilder(t, "linux", nil)
	b.home = home
	found := b.discover()

	assert.Contains(t, found, filepath.Join(home, ".volta", "bin"))
	newer := indexOf(found, filepath.Join(home, ".nvm", "versions", "node", "v20.11.1", "bin"))
	older := indexOf(found, filepath.Join(home, ".nvm", "versions", "node", "v18.20.0", "bin"))
	require.GreaterOrEqual(t, newer, 0)
	assert.Less(t, newer, older)
	assert.NotContains(t, found, filepath.Join(home, ".asdf", "shims"))
}

func TestLookPathUsesDiscoveredDirs(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable bit")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "fakenode")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

	b := testBuilder(t, runtime.GOOS, []string{"PATH=/nonexistent"}, dir)
	got, err := b.LookPath("fakenode")
	require.NoError(t, err)
	assert.Equal(t, bin, got)

	_, err = b.LookPath("definitely-not-installed")
	assert.Error(t, err)

	got, err = b.LookPath("/opt/custom/node")
	require.NoError(t, err)
	assert.Equal(t, "/opt/custom/node", got)
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
