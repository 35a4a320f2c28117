// Package supervisor owns the bundled web server's lifecycle: spawning, readiness
// detection, health polling and the bounded automatic restart policy.
//
// All state is mutated from Handle, which must only be called from the event loop
// goroutine. Output readers, exit waiters, probes and timers post events instead of
// touching state.
package supervisor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sigmaauth/sigma-launcher/internal/eventloop"
)

// Readiness modes.
const (
	ReadinessMarker = "marker"
	ReadinessProbe  = "probe"
)

// Scheduler is the part of the event loop the supervisor needs.
type Scheduler interface {
	Post(ev eventloop.Event)
	After(d time.Duration, ev eventloop.Event) eventloop.Timer
}

// Prober checks server health. Probe may block for up to timeout.
type Prober interface {
	Probe(ctx context.Context, timeout time.Duration) bool
}

// Notifier shows user-facing notifications.
type Notifier interface {
	Notify(title, message string)
}

// Options configures a Supervisor.
type Options struct {
	Command string
	Args    []string
	Port    int
	Host    string

	ReadinessMode  string
	Markers        []string
	ReadinessPoll  time.Duration
	HealthInterval time.Duration
	HealthTimeout  time.Duration

	RestartDelay time.Duration
	MaxRestarts  int

	StartTimeout    time.Duration
	Settle          time.Duration
	ReopenDelay     time.Duration
	ConfirmAttempts int

	// OnStatus is called on the loop goroutine after every status change.
	OnStatus func(status Status, reason string)
	// OnReady is called once the server has confirmed healthy after becoming ready.
	OnReady func()
}

// Supervisor is a reducer over LineEvent, ExitEvent, TimerEvent, ProbeEvent,
// StartCommand and StopCommand.
type Supervisor struct {
	opts      Options
	logger    *zap.SugaredLogger
	sched     Scheduler
	spawner   Spawner
	layout    LayoutResolver
	prober    Prober
	notifier  Notifier
	goAsync   func(func())
	ctx       context.Context
	startedAt time.Time

	gen    uint64
	proc   Process
	dying  Process
	status Status
	reason string
	budget RetryBudget
	timers map[TimerKind]eventloop.Timer

	confirmAttempts int
	restarts        int

	snapMu sync.RWMutex
	snap   Snapshot
}

// New creates an idle supervisor. Nothing runs until a StartCommand is handled.
func New(opts Options, sched Scheduler, spawner Spawner, layout LayoutResolver, prober Prober, notifier Notifier, logger *zap.SugaredLogger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	applyDefaults(&opts)

	s := &Supervisor{
		opts:     opts,
		logger:   logger,
		sched:    sched,
		spawner:  spawner,
		layout:   layout,
		prober:   prober,
		notifier: notifier,
		goAsync:  func(fn func()) { go fn() },
		ctx:      context.Background(),
		status:   StatusStarting,
		budget:   NewRetryBudget(opts.MaxRestarts),
		timers:   make(map[TimerKind]eventloop.Timer),
	}
	s.snap = Snapshot{Status: StatusStarting, Since: time.Now()}
	return s
}

func applyDefaults(o *Options) {
	if o.Host == "" {
		o.Host = "0.0.0.0"
	}
	if o.ReadinessMode == "" {
		o.ReadinessMode = ReadinessMarker
	}
	if len(o.Markers) == 0 {
		o.Markers = []string{"Ready", "started"}
	}
	if o.ReadinessPoll <= 0 {
		o.ReadinessPoll = 500 * time.Millisecond
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = 5 * time.Second
	}
	if o.HealthTimeout <= 0 {
		o.HealthTimeout = 3 * time.Second
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = 60 * time.Second
	}
	if o.ConfirmAttempts <= 0 {
		o.ConfirmAttempts = 5
	}
}

// Snapshot returns the latest published state. Safe for concurrent use.
func (s *Supervisor) Snapshot() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// Status returns the current status. Loop goroutine only.
func (s *Supervisor) Status() (Status, string) {
	return s.status, s.reason
}

// Budget returns a copy of the retry budget. Loop goroutine only.
func (s *Supervisor) Budget() RetryBudget {
	return s.budget
}

// Handle applies one event. It reports whether the event was a supervisor event.
func (s *Supervisor) Handle(ctx context.Context, ev eventloop.Event) bool {
	if ctx != nil {
		s.ctx = ctx
	}
	switch e := ev.(type) {
	case StartCommand:
		s.start(e.Manual)
	case StopCommand:
		s.Stop()
	case LineEvent:
		s.onLine(e)
	case ExitEvent:
		s.onExit(e)
	case TimerEvent:
		s.onTimer(e)
	case ProbeEvent:
		s.onProbe(e)
	case ReapedEvent:
		s.onReaped(e)
	default:
		return false
	}
	return true
}

// Stop terminates the tracked process and cancels pending timers. The returned
// channel is closed once the process has exited. Without a tracked process it
// follows a previously terminated one that is still exiting, or is already closed.
func (s *Supervisor) Stop() <-chan struct{} {
	s.cancelTimers()
	if s.proc == nil {
		// Drops a start that is waiting for the previous process to exit.
		s.gen++
		if s.dying != nil {
			return s.dying.Done()
		}
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	done := s.proc.Done()
	s.logger.Infow("Stopping server", "pid", s.proc.PID())
	s.teardown()
	s.publish()
	return done
}

func (s *Supervisor) start(manual bool) {
	s.teardown()
	s.cancelTimers()
	if manual {
		s.logger.Info("Manual server start requested, resetting retry budget")
		s.budget.Reset()
	}
	s.confirmAttempts = 0
	s.setStatus(StatusStarting, "")

	if s.awaitPreviousExit() {
		return
	}
	s.launch()
}

// awaitPreviousExit reports whether a terminated process is still running. The
// spawn then waits for its ReapedEvent so the new server does not race it for the
// port.
func (s *Supervisor) awaitPreviousExit() bool {
	if s.dying == nil {
		return false
	}
	done := s.dying.Done()
	select {
	case <-done:
		s.dying = nil
		return false
	default:
	}

	gen := s.gen
	s.logger.Infow("Waiting for previous server to exit", "pid", s.dying.PID())
	go func() {
		<-done
		s.sched.Post(ReapedEvent{Gen: gen})
	}()
	return true
}

func (s *Supervisor) onReaped(e ReapedEvent) {
	if e.Gen != s.gen || s.proc != nil || s.status != StatusStarting {
		return
	}
	s.dying = nil
	s.logger.Debug("Previous server exited, starting")
	s.launch()
}

func (s *Supervisor) launch() {
	layout, err := s.layout.Resolve()
	if err != nil {
		s.logger.Errorw("Server files not found", "error", err)
		s.setStatus(StatusError, "server files not found")
		s.notify("Server files not found",
			"The bundled server could not be located. Reinstall the application or use Restart Server after fixing it.")
		return
	}

	cfg := ProcessConfig{
		Binary:     s.opts.Command,
		Args:       append(append([]string{}, s.opts.Args...), layout.EntryPath()),
		WorkingDir: layout.Dir,
		Env: []string{
			fmt.Sprintf("PORT=%d", s.opts.Port),
			"HOSTNAME=" + s.opts.Host,
		},
	}

	s.startedAt = time.Now()
	proc, err := s.spawner.Spawn(cfg, s.gen, s.sched.Post)
	if err != nil {
		s.logger.Errorw("Failed to spawn server", "error", err, "dir", layout.Dir)
		s.fail("failed to start server")
		return
	}
	s.proc = proc
	s.logger.Infow("Server spawned",
		"pid", proc.PID(),
		"generation", s.gen,
		"dir", filepath.Clean(layout.Dir),
		"packaged", layout.Packaged,
		"readiness", s.opts.ReadinessMode)
	s.publish()

	s.schedule(TimerStartTimeout, s.opts.StartTimeout)
	if s.opts.ReadinessMode == ReadinessProbe {
		s.schedule(TimerReadinessPoll, s.opts.ReadinessPoll)
	}
}

func (s *Supervisor) onLine(e LineEvent) {
	if e.Gen != s.gen || s.proc == nil {
		return
	}
	if s.opts.ReadinessMode != ReadinessMarker || s.status != StatusStarting {
		return
	}
	for _, marker := range s.opts.Markers {
		if strings.Contains(e.Line, marker) {
			s.logger.Infow("Readiness marker seen", "marker", marker, "stream", e.Stream)
			s.markRunning()
			return
		}
	}
}

func (s *Supervisor) onExit(e ExitEvent) {
	if e.Gen != s.gen || s.proc == nil {
		s.logger.Debugw("Ignoring exit of previous server process", "generation", e.Gen, "current", s.gen)
		return
	}
	s.proc = nil
	reason := ExitReason(e.Code, e.Signaled)

	if e.Code == ExitCodeSuccess && !e.Signaled {
		s.logger.Warn("Server exited without being asked to stop")
		s.teardown()
		s.cancelTimers()
		s.setStatus(StatusError, reason)
		s.notify("Server stopped", "The server exited. Use Restart Server from the tray to start it again.")
		return
	}

	s.logger.Errorw("Server exited unexpectedly", "exit_code", e.Code, "signaled", e.Signaled, "reason", reason)
	s.fail(reason)
}

func (s *Supervisor) onTimer(e TimerEvent) {
	if e.Gen != s.gen {
		return
	}
	delete(s.timers, e.Kind)

	switch e.Kind {
	case TimerRestart:
		s.logger.Infow("Restarting server", "attempt", s.budget.Count, "max", s.budget.Max)
		s.start(false)
	case TimerSettle, TimerReopen:
		s.probe(ProbeConfirm)
	case TimerPoll:
		if s.status == StatusRunning {
			s.probe(ProbePoll)
		}
	case TimerReadinessPoll:
		if s.status == StatusStarting && s.proc != nil {
			s.probe(ProbeReadiness)
		}
	case TimerStartTimeout:
		if s.status == StatusStarting && s.proc != nil {
			s.logger.Errorw("Server did not become ready in time", "timeout", s.opts.StartTimeout)
			s.fail(fmt.Sprintf("server did not become ready within %s", s.opts.StartTimeout))
		}
	}
}

func (s *Supervisor) onProbe(e ProbeEvent) {
	if e.Gen != s.gen {
		return
	}

	switch e.Purpose {
	case ProbeConfirm:
		if s.status != StatusRunning {
			return
		}
		if e.Healthy {
			s.logger.Infow("Server confirmed healthy", "startup", time.Since(s.startedAt))
			if s.opts.OnReady != nil {
				s.opts.OnReady()
			}
			return
		}
		s.confirmAttempts++
		if s.confirmAttempts < s.opts.ConfirmAttempts {
			s.logger.Debugw("Server not answering yet, retrying", "attempt", s.confirmAttempts)
			s.schedule(TimerReopen, s.opts.ReopenDelay)
			return
		}
		s.logger.Warnw("Server never answered the confirmation probe", "attempts", s.confirmAttempts)

	case ProbePoll:
		if s.status != StatusRunning {
			return
		}
		if e.Healthy {
			s.schedule(TimerPoll, s.opts.HealthInterval)
			return
		}
		s.logger.Warn("Health check failed, restarting server")
		s.fail("health check failed")

	case ProbeReadiness:
		if s.status != StatusStarting || s.proc == nil {
			return
		}
		if e.Healthy {
			s.logger.Info("Server answered readiness probe")
			s.markRunning()
			return
		}
		s.schedule(TimerReadinessPoll, s.opts.ReadinessPoll)
	}
}

func (s *Supervisor) markRunning() {
	s.cancelTimer(TimerStartTimeout)
	s.cancelTimer(TimerReadinessPoll)
	s.budget.Reset()
	s.confirmAttempts = 0
	s.setStatus(StatusRunning, "")

	if s.opts.ReadinessMode == ReadinessProbe {
		// The readiness probe already proved the server answers.
		s.logger.Infow("Server confirmed healthy", "startup", time.Since(s.startedAt))
		if s.opts.OnReady != nil {
			s.opts.OnReady()
		}
	} else {
		s.schedule(TimerSettle, s.opts.Settle)
	}
	s.schedule(TimerPoll, s.opts.HealthInterval)
}

// fail is the policy shared by unexpected exits, failed health checks, spawn errors
// and startup timeouts.
func (s *Supervisor) fail(reason string) {
	s.teardown()
	s.cancelTimers()
	s.setStatus(StatusError, reason)

	attempt, ok := s.budget.Consume()
	if !ok {
		s.logger.Errorw("Restart budget exhausted", "max", s.budget.Max, "reason", reason)
		s.notify("Server failed to start", "Use Restart Server from the tray to try again.")
		return
	}

	s.restarts++
	s.publish()
	s.logger.Warnw("Scheduling automatic restart",
		"attempt", attempt, "max", s.budget.Max, "delay", s.opts.RestartDelay, "reason", reason)
	s.notify("Server error", fmt.Sprintf("Restarting server (attempt %d/%d)", attempt, s.budget.Max))
	s.schedule(TimerRestart, s.opts.RestartDelay)
}

// teardown terminates the tracked process and invalidates everything tagged with
// its generation. The terminated process is kept as dying until its Done closes.
func (s *Supervisor) teardown() {
	if s.proc != nil {
		s.proc.Terminate()
		s.dying = s.proc
		s.proc = nil
	}
	s.gen++
}

func (s *Supervisor) probe(purpose ProbePurpose) {
	gen := s.gen
	ctx := s.ctx
	timeout := s.opts.HealthTimeout
	s.goAsync(func() {
		healthy := s.prober.Probe(ctx, timeout)
		s.sched.Post(ProbeEvent{Gen: gen, Purpose: purpose, Healthy: healthy})
	})
}

func (s *Supervisor) schedule(kind TimerKind, d time.Duration) {
	s.cancelTimer(kind)
	s.timers[kind] = s.sched.After(d, TimerEvent{Gen: s.gen, Kind: kind})
}

func (s *Supervisor) cancelTimer(kind TimerKind) {
	if t, ok := s.timers[kind]; ok {
		t.Stop()
		delete(s.timers, kind)
	}
}

func (s *Supervisor) cancelTimers() {
	for kind := range s.timers {
		s.cancelTimer(kind)
	}
}

func (s *Supervisor) setStatus(status Status, reason string) {
	prev, prevReason := s.status, s.reason
	s.status = status
	s.reason = reason
	s.publish()

	if prev == status && prevReason == reason {
		return
	}
	s.logger.Infow("Server status changed", "from", prev, "to", status, "reason", reason)
	if s.opts.OnStatus != nil {
		s.opts.OnStatus(status, reason)
	}
}

func (s *Supervisor) publish() {
	pid := 0
	if s.proc != nil {
		pid = s.proc.PID()
	}
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	if s.snap.Status != s.status {
		s.snap.Since = time.Now()
	}
	s.snap.Status = s.status
	s.snap.Reason = s.reason
	s.snap.PID = pid
	s.snap.Restarts = s.restarts
}

func (s *Supervisor) notify(title, message string) {
	if s.notifier != nil {
		s.notifier.Notify(title, message)
	}
}
