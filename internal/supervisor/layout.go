package supervisor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrEntryNotFound means no candidate directory holds the server entry artifact.
var ErrEntryNotFound = errors.New("server entry not found")

// Layout is a resolved server directory.
type Layout struct {
	Dir      string
	Entry    string
	Packaged bool
}

// EntryPath is the absolute path of the entry artifact.
func (l Layout) EntryPath() string {
	return filepath.Join(l.Dir, l.Entry)
}

// LayoutResolver locates the server files.
type LayoutResolver interface {
	Resolve() (Layout, error)
}

// DirLayout searches the packaged locations next to the launcher executable before
// falling back to the development directory.
type DirLayout struct {
	// Executable is the launcher binary path; empty means os.Executable.
	Executable string
	// DevDir is the development layout; empty means <cwd>/server.
	DevDir string
	// Entry is the artifact that must exist, e.g. server.js.
	Entry string
}

type layoutCandidate struct {
	dir      string
	packaged bool
}

func (d DirLayout) candidates() []layoutCandidate {
	var out []layoutCandidate
	seen := make(map[string]struct{})
	add := func(dir string, packaged bool) {
		if dir == "" {
			return
		}
		clean := filepath.Clean(dir)
		if _, ok := seen[clean]; ok {
			return
		}
		seen[clean] = struct{}{}
		out = append(out, layoutCandidate{dir: clean, packaged: packaged})
	}

	exe := d.Executable
	if exe == "" {
		if p, err := os.Executable(); err == nil {
			exe = p
		}
	}
	if exe != "" {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		exeDir := filepath.Dir(exe)
		// macOS bundle: Contents/MacOS/<exe> -> Contents/Resources/server
		add(filepath.Join(filepath.Dir(exeDir), "Resources", "server"), true)
		add(filepath.Join(exeDir, "resources", "server"), true)
		add(filepath.Join(exeDir, "server"), true)
	}

	dev := d.DevDir
	if dev == "" {
		if wd, err := os.Getwd(); err == nil {
			dev = filepath.Join(wd, "server")
		}
	}
	add(expandHome(dev), false)
	return out
}

// Resolve returns the first candidate containing the entry artifact.
func (d DirLayout) Resolve() (Layout, error) {
	entry := d.Entry
	if entry == "" {
		entry = "server.js"
	}

	var searched []string
	for _, c := range d.candidates() {
		searched = append(searched, c.dir)
		info, err := os.Stat(filepath.Join(c.dir, entry))
		if err == nil && !info.IsDir() {
			return Layout{Dir: c.dir, Entry: entry, Packaged: c.packaged}, nil
		}
	}
	return Layout{}, fmt.Errorf("%w: %s (searched %s)", ErrEntryNotFound, entry, strings.Join(searched, ", "))
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
