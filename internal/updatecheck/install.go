package updatecheck

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	update "github.com/inconshreveable/go-update"
	"go.uber.org/zap"
)

// Installer replaces the running executable with a downloaded build.
type Installer interface {
	Install(assetPath string) error
}

// BinaryInstaller installs a raw binary or the launcher binary inside a zip.
type BinaryInstaller struct {
	// TargetPath is the file to replace; empty means the running executable.
	TargetPath string
	// BinaryName is matched against zip entries.
	BinaryName string
	logger     *zap.Logger
}

// NewBinaryInstaller creates an installer for the running executable.
func NewBinaryInstaller(binaryName string, logger *zap.Logger) *BinaryInstaller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BinaryInstaller{BinaryName: binaryName, logger: logger.Named("installer")}
}

// Install applies the asset, rolling back on failure.
func (i *BinaryInstaller) Install(assetPath string) error {
	if strings.EqualFold(filepath.Ext(assetPath), ".zip") {
		return i.installZip(assetPath)
	}

	f, err := os.Open(assetPath)
	if err != nil {
		return fmt.Errorf("open update asset: %w", err)
	}
	defer f.Close()
	return i.apply(f)
}

func (i *BinaryInstaller) installZip(path string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("failed to open ZIP: %w", err)
	}
	defer zr.Close()

	var binary *zip.File
	for _, file := range zr.File {
		base := filepath.Base(file.Name)
		if file.FileInfo().IsDir() {
			continue
		}
		if base == i.BinaryName || base == i.BinaryName+".exe" {
			binary = file
			break
		}
	}
	if binary == nil {
		return fmt.Errorf("binary %s not found in ZIP", i.BinaryName)
	}

	r, err := binary.Open()
	if err != nil {
		return fmt.Errorf("failed to open binary in ZIP: %w", err)
	}
	defer r.Close()
	return i.apply(r)
}

func (i *BinaryInstaller) apply(r io.Reader) error {
	err := update.Apply(r, update.Options{TargetPath: i.TargetPath})
	if err != nil {
		if rollbackErr := update.RollbackError(err); rollbackErr != nil {
			return fmt.Errorf("update failed and rollback failed: %w (rollback: %v)", err, rollbackErr)
		}
		return fmt.Errorf("update failed: %w", err)
	}
	i.logger.Info("Update installed", zap.String("target", i.target()))
	return nil
}

func (i *BinaryInstaller) target() string {
	if i.TargetPath != "" {
		return i.TargetPath
	}
	exe, _ := os.Executable()
	return exe
}
