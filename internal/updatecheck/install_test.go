package updatecheck

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBinaryInstallerRawAsset(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "sigma-launcher")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o755))
	asset := filepath.Join(dir, "sigma-launcher-linux-amd64")
	require.NoError(t, os.WriteFile(asset, []byte("new"), 0o600))

	inst := NewBinaryInstaller("sigma-launcher", zaptest.NewLogger(t))
	inst.TargetPath = target
	require.NoError(t, inst.Install(asset))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestBinaryInstallerZipAsset(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "sigma-launcher")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o755))

	asset := filepath.Join(dir, "sigma-launcher-darwin-universal.zip")
	f, err := os.Create(asset)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("README.txt")
	require.NoError(t, err)
	_, _ = w.Write([]byte("docs"))
	w, err = zw.Create("sigma-launcher")
	require.NoError(t, err)
	_, _ = w.Write([]byte("zipped"))
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	inst := NewBinaryInstaller("sigma-launcher", zaptest.NewLogger(t))
	inst.TargetPath = target
	require.NoError(t, inst.Install(asset))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "zipped", string(data))

	inst.BinaryName = "other"
	err = inst.Install(asset)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in ZIP")
}

func TestBinaryInstallerMissingAsset(t *testing.T) {
	inst := NewBinaryInstaller("sigma-launcher", nil)
	inst.TargetPath = filepath.Join(t.TempDir(), "sigma-launcher")
	assert.Error(t, inst.Install(filepath.Join(t.TempDir(), "missing")))
}
