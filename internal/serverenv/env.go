// Package serverenv builds the environment the bundled server runs with. A launcher
// started from Finder, a login item or the Start menu inherits a minimal PATH, so
// Node installs from Homebrew, nvm, Volta or the Windows installer are added back.
package serverenv

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const (
	osWindows = "windows"
	osDarwin  = "darwin"
)

// Builder discovers tool directories once and reuses them for every spawn.
type Builder struct {
	logger *zap.SugaredLogger

	goos    string
	home    string
	environ func() []string
	// registryPath returns the user and machine PATH entries on Windows.
	registryPath func() []string

	discovered []string
}

// NewBuilder creates a builder for the current platform.
func NewBuilder(logger *zap.SugaredLogger) *Builder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	home, _ := os.UserHomeDir()
	b := &Builder{
		logger:       logger,
		goos:         runtime.GOOS,
		home:         home,
		environ:      os.Environ,
		registryPath: registryPath,
	}
	b.discovered = b.discover()
	return b
}

// SearchPaths returns the existing tool directories that are added to PATH.
func (b *Builder) SearchPaths() []string {
	return append([]string(nil), b.discovered...)
}

// Build returns the inherited environment with PATH completed and extra applied.
// Entries in extra override inherited variables of the same name.
func (b *Builder) Build(extra ...string) []string {
	env := make([]string, 0, len(extra)+32)
	overridden := make(map[string]bool, len(extra))
	for _, kv := range extra {
		overridden[b.key(kv)] = true
	}

	pathSeen := false
	for _, kv := range b.environ() {
		k := b.key(kv)
		if overridden[k] {
			continue
		}
		if b.isPathKey(k) {
			pathSeen = true
			name, value, _ := strings.Cut(kv, "=")
			env = append(env, name+"="+b.enhance(value))
			continue
		}
		env = append(env, kv)
	}
	if !pathSeen && !overridden[b.key("PATH=")] {
		env = append(env, "PATH="+b.enhance(""))
	}
	return append(env, extra...)
}

// LookPath resolves a bare command name against the completed PATH. Names with a
// directory component are returned as given.
func (b *Builder) LookPath(command string) (string, error) {
	if command == "" {
		return "", errors.New("empty command")
	}
	if strings.ContainsAny(command, `/\`) {
		return command, nil
	}
	for _, dir := range b.pathList(b.currentPath()) {
		if resolved, err := exec.LookPath(filepath.Join(dir, command)); err == nil {
			return resolved, nil
		}
	}
	return "", &exec.Error{Name: command, Err: exec.ErrNotFound}
}

func (b *Builder) currentPath() string {
	for _, kv := range b.environ() {
		if b.isPathKey(b.key(kv)) {
			_, value, _ := strings.Cut(kv, "=")
			return b.enhance(value)
		}
	}
	return b.enhance("")
}

// enhance appends discovered directories missing from path, keeping the user's
// order first.
func (b *Builder) enhance(path string) string {
	parts := b.pathList(path)
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		seen[b.normalize(p)] = true
	}
	added := 0
	for _, dir := range b.discovered {
		if seen[b.normalize(dir)] {
			continue
		}
		seen[b.normalize(dir)] = true
		parts = append(parts, dir)
		added++
	}
	if added > 0 {
		b.logger.Debugw("Completed server PATH", "added", added)
	}
	return strings.Join(parts, b.listSeparator())
}

func (b *Builder) pathList(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, b.listSeparator()) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func (b *Builder) discover() []string {
	var candidates []string
	if b.goos == osWindows {
		candidates = append(candidates, b.registryPath()...)
		candidates = append(candidates, b.windowsCandidates()...)
	} else {
		candidates = b.unixCandidates()
	}

	var existing []string
	seen := make(map[string]bool)
	for _, dir := range candidates {
		key := b.normalize(dir)
		if dir == "" || seen[key] {
			continue
		}
		seen[key] = true
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			existing = append(existing, dir)
		}
	}
	return existing
}

func (b *Builder) unixCandidates() []string {
	dirs := []string{
		"/usr/local/bin",
		"/usr/bin",
		"/bin",
	}
	if b.goos == osDarwin {
		dirs = append(dirs, "/opt/homebrew/bin")
	}
	if b.home != "" {
		dirs = append(dirs,
			filepath.Join(b.home, ".volta", "bin"),
			filepath.Join(b.home, ".asdf", "shims"),
			filepath.Join(b.home, ".local", "share", "fnm", "aliases", "default", "bin"),
			filepath.Join(b.home, ".local", "bin"),
			filepath.Join(b.home, ".npm-global", "bin"),
		)
		dirs = append(dirs, b.nvmBins()...)
	}
	return dirs
}

// nvmBins lists nvm-installed Node versions, newest first.
func (b *Builder) nvmBins() []string {
	nvmDir := os.Getenv("NVM_DIR")
	if nvmDir == "" {
		nvmDir = filepath.Join(b.home, ".nvm")
	}
	matches, _ := filepath.Glob(filepath.Join(nvmDir, "versions", "node", "*", "bin"))
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches
}

func (b *Builder) windowsCandidates() []string {
	programFiles := os.Getenv("ProgramFiles")
	if programFiles == "" {
		programFiles = `C:\Program Files`
	}
	dirs := []string{
		filepath.Join(programFiles, "nodejs"),
		`C:\Windows\System32`,
		`C:\Windows`,
	}
	if b.home != "" {
		dirs = append(dirs,
			filepath.Join(b.home, "AppData", "Roaming", "npm"),
			filepath.Join(b.home, "AppData", "Local", "Volta", "bin"),
			filepath.Join(b.home, "scoop", "shims"),
		)
	}
	return dirs
}

func (b *Builder) key(kv string) string {
	k, _, _ := strings.Cut(kv, "=")
	if b.goos == osWindows {
		return strings.ToUpper(k)
	}
	return k
}

func (b *Builder) isPathKey(k string) bool {
	return k == "PATH"
}

func (b *Builder) normalize(dir string) string {
	dir = strings.TrimRight(dir, `/\`)
	if b.goos == osWindows {
		return strings.ToLower(dir)
	}
	return dir
}

func (b *Builder) listSeparator() string {
	if b.goos == osWindows {
		return ";"
	}
	return ":"
}
