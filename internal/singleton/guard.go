// Package singleton keeps one launcher per user and lets later launches hand their
// arguments to the running instance.
package singleton

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// PIDFileName is the lock file inside the data directory.
const PIDFileName = "launcher.pid"

// ErrAlreadyRunning is returned by Acquire callers that need an error value.
var ErrAlreadyRunning = errors.New("another launcher instance is running")

// pidMeta is the optional second line of the PID file; it detects PID reuse.
type pidMeta struct {
	StartUnixMilli int64 `json:"start_unix_ms,omitempty"`
}

// Guard is a PID-file lock. A file naming a dead process, a reused PID or
// unparsable content counts as absent.
type Guard struct {
	path   string
	pid    int
	logger *zap.Logger

	// alive and startTime are replaceable in tests.
	alive     func(pid int) bool
	startTime func(pid int) int64

	held bool
}

// NewGuard creates a guard for <dataDir>/launcher.pid held by the current process.
func NewGuard(dataDir string, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		path:      filepath.Join(dataDir, PIDFileName),
		pid:       os.Getpid(),
		logger:    logger.Named("singleton"),
		alive:     pidAlive,
		startTime: procStartMilli,
	}
}

// Path returns the lock file path.
func (g *Guard) Path() string {
	return g.path
}

// Acquire takes the lock. It returns false when another live instance holds it;
// the caller must then exit.
func (g *Guard) Acquire() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(g.path), 0o700); err != nil {
		return false, fmt.Errorf("create lock directory: %w", err)
	}

	// Two rounds: the second follows removal of a stale file.
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(g.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			werr := g.writeOwn(f)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(g.path)
				return false, fmt.Errorf("write lock file: %w", errors.Join(werr, cerr))
			}
			g.held = true
			g.logger.Info("Acquired instance lock", zap.String("path", g.path), zap.Int("pid", g.pid))
			return true, nil
		}
		if !os.IsExist(err) {
			return false, fmt.Errorf("create lock file: %w", err)
		}

		holder, live := g.holder()
		if live {
			if holder == g.pid {
				g.held = true
				return true, nil
			}
			g.logger.Info("Another instance holds the lock", zap.Int("pid", holder))
			return false, nil
		}

		g.logger.Info("Removing stale lock file", zap.String("path", g.path), zap.Int("pid", holder))
		if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
			return false, fmt.Errorf("remove stale lock file: %w", err)
		}
	}
	return false, fmt.Errorf("lock file %s keeps reappearing", g.path)
}

// Release removes the lock file if it still names this process.
func (g *Guard) Release() error {
	if !g.held {
		return nil
	}
	g.held = false

	pid, _, err := readPIDFile(g.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read lock file: %w", err)
	}
	if pid != g.pid {
		g.logger.Warn("Lock file taken over by another process, leaving it", zap.Int("pid", pid))
		return nil
	}
	if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	g.logger.Info("Released instance lock", zap.String("path", g.path))
	return nil
}

// HolderPID returns the PID of the live lock holder, if any.
func (g *Guard) HolderPID() (int, bool) {
	return g.holder()
}

func (g *Guard) holder() (int, bool) {
	pid, meta, err := readPIDFile(g.path)
	if err != nil || pid <= 0 {
		return pid, false
	}
	if !g.alive(pid) {
		return pid, false
	}
	if meta.StartUnixMilli > 0 {
		if cur := g.startTime(pid); cur > 0 && cur != meta.StartUnixMilli {
			// Same PID, different process.
			return pid, false
		}
	}
	return pid, true
}

func (g *Guard) writeOwn(f *os.File) error {
	meta, err := json.Marshal(pidMeta{StartUnixMilli: g.startTime(g.pid)})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(f, "%d\n%s\n", g.pid, meta)
	return err
}

func readPIDFile(path string) (int, pidMeta, error) {
	var meta pidMeta
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, meta, err
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, meta, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	if len(lines) > 1 {
		_ = json.Unmarshal([]byte(strings.TrimSpace(lines[1])), &meta)
	}
	return pid, meta, nil
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := gopsproc.PidExists(int32(pid))
	return err == nil && ok
}

func procStartMilli(pid int) int64 {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms
}
