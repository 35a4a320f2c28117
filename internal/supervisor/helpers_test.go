package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/sigmaauth/sigma-launcher/internal/eventloop"
)

type fakeTimer struct {
	d       time.Duration
	ev      TimerEvent
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fakeScheduler queues posted events and records timers; nothing fires on its own.
type fakeScheduler struct {
	mu     sync.Mutex
	queue  []eventloop.Event
	timers []*fakeTimer
}

func (f *fakeScheduler) Post(ev eventloop.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, ev)
}

func (f *fakeScheduler) After(d time.Duration, ev eventloop.Event) eventloop.Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{d: d, ev: ev.(TimerEvent)}
	f.timers = append(f.timers, t)
	return t
}

func (f *fakeScheduler) pop() (eventloop.Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil, false
	}
	ev := f.queue[0]
	f.queue = f.queue[1:]
	return ev, true
}

// pending returns the most recent active timer of the given kind.
func (f *fakeScheduler) pending(kind TimerKind) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.timers) - 1; i >= 0; i-- {
		t := f.timers[i]
		if t.ev.Kind == kind && !t.stopped && !t.fired {
			return t
		}
	}
	return nil
}

// fakeProcess exits as soon as it is terminated unless hang is set.
type fakeProcess struct {
	pid        int
	gen        uint64
	terminated int
	hang       bool
	done       chan struct{}
}

func (p *fakeProcess) PID() int              { return p.pid }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Terminate() {
	p.terminated++
	if p.terminated == 1 && !p.hang {
		close(p.done)
	}
}

// queued reports how many posted events await handling.
func (f *fakeScheduler) queued() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// drain handles everything posted so far, including events from other goroutines.
func (h *harness) drain() {
	for {
		next, ok := h.sched.pop()
		if !ok {
			return
		}
		h.send(next)
	}
}

type fakeSpawner struct {
	procs   []*fakeProcess
	configs []ProcessConfig
	err     error
}

func (f *fakeSpawner) Spawn(cfg ProcessConfig, gen uint64, _ func(eventloop.Event)) (Process, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := &fakeProcess{pid: 1000 + len(f.procs), gen: gen, done: make(chan struct{})}
	f.procs = append(f.procs, p)
	f.configs = append(f.configs, cfg)
	return p, nil
}

type fakeProber struct {
	results  []bool
	fallback bool
	calls    int
}

func (f *fakeProber) Probe(context.Context, time.Duration) bool {
	f.calls++
	if len(f.results) > 0 {
		r := f.results[0]
		f.results = f.results[1:]
		return r
	}
	return f.fallback
}

type fakeNotifier struct {
	titles   []string
	messages []string
}

func (f *fakeNotifier) Notify(title, message string) {
	f.titles = append(f.titles, title)
	f.messages = append(f.messages, message)
}

type staticLayout struct {
	layout Layout
	err    error
}

func (s staticLayout) Resolve() (Layout, error) {
	return s.layout, s.err
}

type harness struct {
	sup      *Supervisor
	sched    *fakeScheduler
	spawner  *fakeSpawner
	prober   *fakeProber
	notifier *fakeNotifier
	statuses []Status
	ready    int
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	return buildHarness(zaptest.NewLogger(t).Sugar(), mutate)
}

// newQuietHarness is used inside property checks where per-iteration logs are noise.
func newQuietHarness(mutate func(*Options)) *harness {
	return buildHarness(zap.NewNop().Sugar(), mutate)
}

func buildHarness(logger *zap.SugaredLogger, mutate func(*Options)) *harness {
	h := &harness{
		sched:    &fakeScheduler{},
		spawner:  &fakeSpawner{},
		prober:   &fakeProber{fallback: true},
		notifier: &fakeNotifier{},
	}
	opts := Options{
		Command:        "node",
		Port:           21000,
		RestartDelay:   2 * time.Second,
		MaxRestarts:    DefaultMaxRestarts,
		Settle:         1500 * time.Millisecond,
		ReopenDelay:    time.Second,
		HealthInterval: 5 * time.Second,
		HealthTimeout:  3 * time.Second,
		OnStatus:       func(s Status, _ string) { h.statuses = append(h.statuses, s) },
		OnReady:        func() { h.ready++ },
	}
	if mutate != nil {
		mutate(&opts)
	}
	layout := staticLayout{layout: Layout{Dir: "/opt/app/server", Entry: "server.js", Packaged: true}}

	h.sup = New(opts, h.sched, h.spawner, layout, h.prober, h.notifier, logger)
	h.sup.goAsync = func(fn func()) { fn() }
	return h
}

func (h *harness) withLayoutError(err error) {
	h.sup.layout = staticLayout{err: err}
}

// send handles ev and then everything it posted.
func (h *harness) send(ev eventloop.Event) {
	h.sup.Handle(context.Background(), ev)
	for {
		next, ok := h.sched.pop()
		if !ok {
			return
		}
		h.sup.Handle(context.Background(), next)
	}
}

// fire delivers the pending timer of kind and reports whether one existed.
func (h *harness) fire(kind TimerKind) bool {
	t := h.sched.pending(kind)
	if t == nil {
		return false
	}
	t.fired = true
	h.send(t.ev)
	return true
}

func (h *harness) current() *fakeProcess {
	if len(h.spawner.procs) == 0 {
		return nil
	}
	return h.spawner.procs[len(h.spawner.procs)-1]
}

func (h *harness) line(text string) {
	p := h.current()
	h.send(LineEvent{Gen: p.gen, Stream: StreamStdout, Line: text})
}

func (h *harness) exit(code int) {
	p := h.current()
	h.send(ExitEvent{Gen: p.gen, Code: code, Err: errors.New("exit")})
}

func (h *harness) status() Status {
	s, _ := h.sup.Status()
	return s
}
