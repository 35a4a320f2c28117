package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sigmaauth/sigma-launcher/internal/eventloop"
)

// DefaultTerminateGrace is how long a terminated server may take before it is killed.
const DefaultTerminateGrace = 5 * time.Second

// ProcessConfig describes one server launch.
type ProcessConfig struct {
	Binary     string
	Args       []string
	Env        []string
	WorkingDir string
}

// Process is a handle on a spawned server.
type Process interface {
	PID() int
	// Terminate asks the process group to exit and kills it after the grace period.
	// Only the first call has an effect; it never blocks.
	Terminate()
	// Done is closed once the process has exited and its output is drained.
	Done() <-chan struct{}
}

// Spawner starts server processes. Output lines and the final exit are posted as
// LineEvent and ExitEvent tagged with gen; the exit is always posted last.
type Spawner interface {
	Spawn(cfg ProcessConfig, gen uint64, post func(eventloop.Event)) (Process, error)
}

// Environment completes the server environment and resolves the command.
type Environment interface {
	Build(extra ...string) []string
	LookPath(command string) (string, error)
}

// ExecSpawner runs the server with os/exec in its own process group.
type ExecSpawner struct {
	logger *zap.SugaredLogger
	grace  time.Duration
	env    Environment
}

// NewExecSpawner creates a spawner. A zero grace uses DefaultTerminateGrace.
func NewExecSpawner(logger *zap.SugaredLogger, grace time.Duration) *ExecSpawner {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if grace <= 0 {
		grace = DefaultTerminateGrace
	}
	return &ExecSpawner{logger: logger, grace: grace}
}

// WithEnvironment makes spawns use env instead of the plain inherited environment.
func (s *ExecSpawner) WithEnvironment(env Environment) *ExecSpawner {
	s.env = env
	return s
}

// Spawn starts the process and its output and exit watchers.
func (s *ExecSpawner) Spawn(cfg ProcessConfig, gen uint64, post func(eventloop.Event)) (Process, error) {
	s.logger.Infow("Starting server process",
		"binary", cfg.Binary,
		"args", cfg.Args,
		"working_dir", cfg.WorkingDir,
		"generation", gen)

	binary := cfg.Binary
	environ := append(os.Environ(), cfg.Env...)
	if s.env != nil {
		environ = s.env.Build(cfg.Env...)
		if resolved, err := s.env.LookPath(binary); err == nil {
			binary = resolved
		} else {
			s.logger.Warnw("Server command not found on completed PATH", "binary", binary, "error", err)
		}
	}

	cmd := exec.Command(binary, cfg.Args...)
	cmd.Dir = cfg.WorkingDir
	cmd.Env = environ
	configureSysProcAttr(cmd)

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	// Grandchildren holding the pipes open must not stall exit reporting.
	cmd.WaitDelay = s.grace

	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		stderrW.Close()
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	p := &execProcess{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		logger: s.logger,
		grace:  s.grace,
		done:   make(chan struct{}),
	}
	s.logger.Infow("Server process started", "pid", p.pid, "generation", gen)

	var readers sync.WaitGroup
	readers.Add(2)
	go p.captureOutput(stdoutR, StreamStdout, gen, post, &readers)
	go p.captureOutput(stderrR, StreamStderr, gen, post, &readers)

	go func() {
		err := cmd.Wait()
		stdoutW.Close()
		stderrW.Close()
		readers.Wait()
		close(p.done)

		exit := exitEventFor(gen, err)
		if exit.Code == 0 && !exit.Signaled {
			s.logger.Infow("Server process exited normally",
				"pid", p.pid, "runtime", time.Since(startTime))
		} else {
			s.logger.Warnw("Server process exited with error",
				"pid", p.pid,
				"exit_code", exit.Code,
				"signaled", exit.Signaled,
				"error", err,
				"runtime", time.Since(startTime))
		}
		post(exit)
	}()

	return p, nil
}

func exitEventFor(gen uint64, err error) ExitEvent {
	ev := ExitEvent{Gen: gen, Err: err}
	if err == nil {
		return ev
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		ev.Code = exitErr.ExitCode()
		if ev.Code == -1 {
			ev.Signaled = true
		}
		return ev
	}
	// Wait failures other than a non-zero exit (e.g. WaitDelay expiry).
	ev.Code = -1
	return ev
}

type execProcess struct {
	cmd    *exec.Cmd
	pid    int
	logger *zap.SugaredLogger
	grace  time.Duration
	done   chan struct{}
	once   sync.Once
}

func (p *execProcess) PID() int {
	return p.pid
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) Terminate() {
	p.once.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}

		p.logger.Infow("Stopping server process", "pid", p.pid)
		if err := terminateProcessGroup(p.pid); err != nil {
			p.logger.Warnw("Failed to send termination signal", "pid", p.pid, "error", err)
		}

		go func() {
			select {
			case <-p.done:
				p.logger.Infow("Server process stopped gracefully", "pid", p.pid)
			case <-time.After(p.grace):
				p.logger.Warnw("Server process did not stop gracefully, killing", "pid", p.pid, "grace", p.grace)
				if err := killProcessGroup(p.pid); err != nil {
					p.logger.Errorw("Failed to kill server process", "pid", p.pid, "error", err)
				}
			}
		}()
	})
}

// captureOutput forwards complete lines to the loop and mirrors them into the log.
func (p *execProcess) captureOutput(r *io.PipeReader, stream Stream, gen uint64, post func(eventloop.Event), wg *sync.WaitGroup) {
	defer wg.Done()
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		post(LineEvent{Gen: gen, Stream: stream, Line: line})

		lower := strings.ToLower(line)
		if strings.Contains(lower, "error") ||
			strings.Contains(lower, "failed") ||
			strings.Contains(lower, "panic") {
			p.logger.Warnw("Server error output", "stream", stream, "line", line)
		} else {
			p.logger.Debugw("Server output", "stream", stream, "line", line)
		}
	}

	if err := scanner.Err(); err != nil {
		p.logger.Warnw("Error reading server output", "stream", stream, "error", err)
		// Keep draining so the writer side never blocks.
		_, _ = io.Copy(io.Discard, r)
	}
}
