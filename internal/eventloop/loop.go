// Package eventloop serializes all launcher state mutation onto one goroutine.
// Process output readers, exit waiters, timers, probes, menu clicks and activation
// requests only post events; the handler passed to Run is the sole mutator.
package eventloop

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is any value posted to the loop.
type Event any

// Handler processes one event on the loop goroutine.
type Handler func(ctx context.Context, ev Event)

// Timer is a cancellable delayed post.
type Timer interface {
	Stop() bool
}

// Func is executed directly on the loop goroutine instead of being passed to the handler.
type Func func()

// Loop is an unbounded FIFO drained by a single goroutine. Posting never blocks,
// so handlers may post follow-up events without deadlocking.
type Loop struct {
	logger *zap.SugaredLogger

	mu      sync.Mutex
	queue   []Event
	closed  bool
	wake    chan struct{}
	running bool
}

// New creates an idle loop.
func New(logger *zap.SugaredLogger) *Loop {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Loop{
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Post enqueues ev. Events posted after Run returned are dropped.
func (l *Loop) Post(ev Event) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.logger.Debugw("Event dropped after shutdown", "event", describe(ev))
		return
	}
	l.queue = append(l.queue, ev)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// After posts ev once d has elapsed.
func (l *Loop) After(d time.Duration, ev Event) Timer {
	return time.AfterFunc(d, func() { l.Post(ev) })
}

// Do runs fn on the loop goroutine.
func (l *Loop) Do(fn func()) {
	l.Post(Func(fn))
}

// Run drains events in FIFO order until ctx is cancelled. Only one Run may be active.
func (l *Loop) Run(ctx context.Context, handle Handler) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		panic("eventloop: Run called twice")
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.closed = true
		l.queue = nil
		l.mu.Unlock()
	}()

	for {
		for {
			ev, ok := l.next()
			if !ok {
				break
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if fn, isFunc := ev.(Func); isFunc {
				fn()
				continue
			}
			handle(ctx, ev)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) next() (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	ev := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return ev, true
}

func describe(ev Event) string {
	if s, ok := ev.(interface{ String() string }); ok {
		return s.String()
	}
	return "event"
}
