package supervisor

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestStartSpawnsWithEnvironment(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Args = []string{"--max-old-space-size=512"}
	})
	h.send(StartCommand{Manual: true})

	require.Len(t, h.spawner.configs, 1)
	cfg := h.spawner.configs[0]
	assert.Equal(t, "node", cfg.Binary)
	assert.Equal(t, []string{"--max-old-space-size=512", "/opt/app/server/server.js"}, cfg.Args)
	assert.Equal(t, "/opt/app/server", cfg.WorkingDir)
	assert.Contains(t, cfg.Env, "PORT=21000")
	assert.Contains(t, cfg.Env, "HOSTNAME=0.0.0.0")
	assert.Equal(t, StatusStarting, h.status())
	assert.NotNil(t, h.sched.pending(TimerStartTimeout))
}

func TestReadinessMarker(t *testing.T) {
	h := newHarness(t, nil)
	h.send(StartCommand{Manual: true})

	h.line("compiling...")
	assert.Equal(t, StatusStarting, h.status())

	h.line("Ready on port 21000")
	assert.Equal(t, StatusRunning, h.status())
	assert.Nil(t, h.sched.pending(TimerStartTimeout))
	assert.NotNil(t, h.sched.pending(TimerSettle))
	assert.NotNil(t, h.sched.pending(TimerPoll))
}

func TestReadinessMarkerIsCaseSensitive(t *testing.T) {
	h := newHarness(t, nil)
	h.send(StartCommand{Manual: true})

	h.line("ready soon")
	h.line("STARTED")
	assert.Equal(t, StatusStarting, h.status())

	h.line("server started")
	assert.Equal(t, StatusRunning, h.status())
}

func TestStaleLineIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.send(StartCommand{Manual: true})
	old := h.current()
	h.send(StartCommand{Manual: true})

	h.send(LineEvent{Gen: old.gen, Stream: StreamStdout, Line: "Ready"})
	assert.Equal(t, StatusStarting, h.status())
}

func TestRetryBound(t *testing.T) {
	for n := 1; n <= 6; n++ {
		t.Run(fmt.Sprintf("%d failures", n), func(t *testing.T) {
			h := newHarness(t, nil)
			h.send(StartCommand{Manual: true})

			restarts := 0
			for i := 0; i < n; i++ {
				h.exit(1)
				if h.fire(TimerRestart) {
					restarts++
				}
			}

			expected := n
			if expected > DefaultMaxRestarts {
				expected = DefaultMaxRestarts
			}
			assert.Equal(t, expected, restarts)
			assert.Len(t, h.spawner.procs, 1+expected)
			if n > DefaultMaxRestarts {
				assert.Equal(t, StatusError, h.status())
				assert.Nil(t, h.sched.pending(TimerRestart))
				assert.Contains(t, h.notifier.titles, "Server failed to start")
			}
		})
	}
}

func TestRetryBoundProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := newQuietHarness(nil)
		h.send(StartCommand{Manual: true})

		n := rapid.IntRange(1, 12).Draw(t, "failures")
		restarts := 0
		for i := 0; i < n; i++ {
			switch rapid.IntRange(0, 2).Draw(t, "kind") {
			case 0:
				h.exit(rapid.IntRange(1, 255).Draw(t, "code"))
			case 1:
				p := h.current()
				h.send(ExitEvent{Gen: p.gen, Code: -1, Signaled: true})
			case 2:
				// Once the budget is spent there is no process left to time out.
				if !h.fire(TimerStartTimeout) && i <= DefaultMaxRestarts {
					t.Fatalf("no start timeout pending at failure %d", i)
				}
			}
			if h.fire(TimerRestart) {
				restarts++
			}
		}

		want := n
		if want > DefaultMaxRestarts {
			want = DefaultMaxRestarts
		}
		if restarts != want {
			t.Fatalf("failures=%d restarts=%d want %d", n, restarts, want)
		}
		// Within the budget the last failure has already been restarted.
		wantStatus := StatusStarting
		if n > DefaultMaxRestarts {
			wantStatus = StatusError
		}
		if h.status() != wantStatus {
			t.Fatalf("failures=%d status %s want %s", n, h.status(), wantStatus)
		}
	})
}

func TestRetryResetOnRunning(t *testing.T) {
	h := newHarness(t, nil)
	h.send(StartCommand{Manual: true})

	h.exit(1)
	require.True(t, h.fire(TimerRestart))
	h.exit(1)
	require.True(t, h.fire(TimerRestart))
	assert.Equal(t, 2, h.sup.Budget().Count)

	h.line("Ready")
	assert.Equal(t, StatusRunning, h.status())
	assert.Equal(t, 0, h.sup.Budget().Count)

	// A full budget is available again after the reset.
	for i := 0; i < DefaultMaxRestarts; i++ {
		h.exit(1)
		require.True(t, h.fire(TimerRestart), "restart %d", i+1)
	}
	h.exit(1)
	assert.False(t, h.fire(TimerRestart))
}

func TestManualStartResetsExhaustedBudget(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.MaxRestarts = 1 })
	h.send(StartCommand{Manual: true})

	h.exit(1)
	require.True(t, h.fire(TimerRestart))
	h.exit(1)
	require.False(t, h.fire(TimerRestart))
	require.Equal(t, StatusError, h.status())

	h.send(StartCommand{Manual: true})
	assert.Equal(t, StatusStarting, h.status())
	assert.Equal(t, 0, h.sup.Budget().Count)
	assert.Len(t, h.spawner.procs, 3)
}

func TestStopWithoutProcessIsNoop(t *testing.T) {
	h := newHarness(t, nil)

	done := h.sup.Stop()
	select {
	case <-done:
	default:
		t.Fatal("stop without a process should return a closed channel")
	}
	assert.NotPanics(t, func() { h.send(StopCommand{}) })
	assert.Empty(t, h.spawner.procs)
}

func TestStopTerminatesAndIgnoresLaterExit(t *testing.T) {
	h := newHarness(t, nil)
	h.send(StartCommand{Manual: true})
	h.line("Ready")
	p := h.current()

	done := h.sup.Stop()
	assert.Equal(t, 1, p.terminated)
	assert.Equal(t, (<-chan struct{})(p.done), done)
	assert.Nil(t, h.sched.pending(TimerPoll))

	h.send(ExitEvent{Gen: p.gen, Code: 143, Signaled: true})
	assert.Equal(t, StatusRunning, h.status())
	assert.Nil(t, h.sched.pending(TimerRestart))

	// A second stop has nothing left to terminate.
	h.sup.Stop()
	assert.Equal(t, 1, p.terminated)
}

func TestStartTerminatesPriorProcessOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.send(StartCommand{Manual: true})
	first := h.current()

	h.send(StartCommand{Manual: true})
	second := h.current()

	require.Len(t, h.spawner.procs, 2)
	assert.Equal(t, 1, first.terminated)
	assert.Equal(t, 0, second.terminated)
	assert.NotEqual(t, first.gen, second.gen)

	// The terminated process's exit must not drive the state machine.
	h.send(ExitEvent{Gen: first.gen, Code: 1})
	assert.Equal(t, StatusStarting, h.status())
	assert.Nil(t, h.sched.pending(TimerRestart))
	assert.Equal(t, 0, h.sup.Budget().Count)
}

func TestHealthFailureSharesRestartPolicy(t *testing.T) {
	h := newHarness(t, nil)
	h.send(StartCommand{Manual: true})
	h.line("Ready")
	p := h.current()

	h.prober.fallback = true
	require.True(t, h.fire(TimerPoll))
	assert.Equal(t, StatusRunning, h.status())
	require.NotNil(t, h.sched.pending(TimerPoll))

	h.prober.fallback = false
	require.True(t, h.fire(TimerPoll))

	s, reason := h.sup.Status()
	assert.Equal(t, StatusError, s)
	assert.Equal(t, "health check failed", reason)
	assert.Equal(t, 1, p.terminated)
	assert.Equal(t, 1, h.sup.Budget().Count)
	assert.Contains(t, h.notifier.messages, "Restarting server (attempt 1/3)")

	require.True(t, h.fire(TimerRestart))
	assert.Len(t, h.spawner.procs, 2)
	assert.Equal(t, StatusStarting, h.status())
}

func TestRestartWaitsForTerminatedServer(t *testing.T) {
	h := newHarness(t, nil)
	h.send(StartCommand{Manual: true})
	h.line("Ready")
	hung := h.current()
	hung.hang = true

	h.prober.fallback = false
	require.True(t, h.fire(TimerPoll))
	require.Equal(t, 1, hung.terminated)

	// The old server still holds the port, so the restart must not spawn yet.
	require.True(t, h.fire(TimerRestart))
	assert.Len(t, h.spawner.procs, 1)
	assert.Equal(t, StatusStarting, h.status())
	assert.Equal(t, 1, h.sup.Budget().Count)

	close(hung.done)
	require.Eventually(t, func() bool { return h.sched.queued() > 0 }, time.Second, 5*time.Millisecond)
	h.drain()

	require.Len(t, h.spawner.procs, 2)
	assert.Equal(t, StatusStarting, h.status())
	assert.Equal(t, 1, h.sup.Budget().Count, "waiting does not consume another attempt")
	assert.NotNil(t, h.sched.pending(TimerStartTimeout))
}

func TestStopCancelsStartWaitingForExit(t *testing.T) {
	h := newHarness(t, nil)
	h.send(StartCommand{Manual: true})
	hung := h.current()
	hung.hang = true

	h.send(StartCommand{Manual: true})
	require.Len(t, h.spawner.procs, 1)

	done := h.sup.Stop()
	assert.Equal(t, (<-chan struct{})(hung.done), done)

	close(hung.done)
	require.Eventually(t, func() bool { return h.sched.queued() > 0 }, time.Second, 5*time.Millisecond)
	h.drain()
	assert.Len(t, h.spawner.procs, 1)
}

func TestConfirmProbeOpensDashboard(t *testing.T) {
	h := newHarness(t, nil)
	h.send(StartCommand{Manual: true})
	h.line("Ready")

	h.prober.results = []bool{false, false, true}
	require.True(t, h.fire(TimerSettle))
	assert.Equal(t, 0, h.ready)

	require.True(t, h.fire(TimerReopen))
	assert.Equal(t, 0, h.ready)

	require.True(t, h.fire(TimerReopen))
	assert.Equal(t, 1, h.ready)
	assert.Nil(t, h.sched.pending(TimerReopen))
	assert.Equal(t, StatusRunning, h.status())
}

func TestConfirmProbeGivesUpWithoutFailing(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.ConfirmAttempts = 3 })
	h.send(StartCommand{Manual: true})
	h.line("Ready")

	h.prober.fallback = false
	require.True(t, h.fire(TimerSettle))
	require.True(t, h.fire(TimerReopen))
	require.True(t, h.fire(TimerReopen))
	assert.False(t, h.fire(TimerReopen))

	assert.Equal(t, 0, h.ready)
	assert.Equal(t, StatusRunning, h.status())
	assert.Equal(t, 0, h.sup.Budget().Count)
}

func TestMissingEntryDoesNotRestart(t *testing.T) {
	h := newHarness(t, nil)
	h.withLayoutError(fmt.Errorf("%w: server.js", ErrEntryNotFound))

	h.send(StartCommand{Manual: true})

	s, reason := h.sup.Status()
	assert.Equal(t, StatusError, s)
	assert.Equal(t, "server files not found", reason)
	assert.Empty(t, h.spawner.procs)
	assert.Nil(t, h.sched.pending(TimerRestart))
	assert.Equal(t, []string{"Server files not found"}, h.notifier.titles)
}

func TestSpawnFailureUsesRestartPolicy(t *testing.T) {
	h := newHarness(t, nil)
	h.spawner.err = errors.New("exec: \"node\": executable file not found in $PATH")

	h.send(StartCommand{Manual: true})

	s, reason := h.sup.Status()
	assert.Equal(t, StatusError, s)
	assert.Equal(t, "failed to start server", reason)
	assert.NotNil(t, h.sched.pending(TimerRestart))
}

func TestCleanExitDoesNotRestart(t *testing.T) {
	h := newHarness(t, nil)
	h.send(StartCommand{Manual: true})
	h.line("Ready")

	h.exit(0)

	s, reason := h.sup.Status()
	assert.Equal(t, StatusError, s)
	assert.Equal(t, "server stopped", reason)
	assert.Nil(t, h.sched.pending(TimerRestart))
	assert.Nil(t, h.sched.pending(TimerPoll))
	assert.Equal(t, 0, h.sup.Budget().Count)
}

func TestStartTimeout(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.StartTimeout = 30 * time.Second })
	h.send(StartCommand{Manual: true})

	timer := h.sched.pending(TimerStartTimeout)
	require.NotNil(t, timer)
	assert.Equal(t, 30*time.Second, timer.d)

	require.True(t, h.fire(TimerStartTimeout))
	s, reason := h.sup.Status()
	assert.Equal(t, StatusError, s)
	assert.Contains(t, reason, "did not become ready")
	assert.Equal(t, 1, h.spawner.procs[0].terminated)
	assert.NotNil(t, h.sched.pending(TimerRestart))
}

func TestProbeReadinessMode(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.ReadinessMode = ReadinessProbe })
	h.send(StartCommand{Manual: true})

	h.line("Ready on port 21000")
	assert.Equal(t, StatusStarting, h.status(), "markers are ignored in probe mode")

	h.prober.results = []bool{false}
	require.True(t, h.fire(TimerReadinessPoll))
	assert.Equal(t, StatusStarting, h.status())

	h.prober.results = []bool{true}
	require.True(t, h.fire(TimerReadinessPoll))
	assert.Equal(t, StatusRunning, h.status())
	assert.Equal(t, 1, h.ready)
	assert.Nil(t, h.sched.pending(TimerSettle))
	assert.NotNil(t, h.sched.pending(TimerPoll))
}

func TestStatusObserverAndSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	h.send(StartCommand{Manual: true})
	h.line("Ready")
	h.exit(2)

	assert.Equal(t, []Status{StatusRunning, StatusError}, h.statuses)

	snap := h.sup.Snapshot()
	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, "port already in use", snap.Reason)
	assert.Equal(t, 0, snap.PID)
	assert.Equal(t, 1, snap.Restarts)

	require.True(t, h.fire(TimerRestart))
	snap = h.sup.Snapshot()
	assert.Equal(t, StatusStarting, snap.Status)
	assert.Equal(t, h.current().pid, snap.PID)
}

func TestExitReason(t *testing.T) {
	tests := []struct {
		code     int
		signaled bool
		want     string
	}{
		{0, false, "server stopped"},
		{1, false, "server exited with code 1"},
		{2, false, "port already in use"},
		{3, false, "database locked by another process"},
		{4, false, "configuration error"},
		{5, false, "permission denied"},
		{137, false, "server exited with code 137"},
		{-1, true, "server terminated by signal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExitReason(tt.code, tt.signaled))
	}
}

func TestRetryBudget(t *testing.T) {
	b := NewRetryBudget(2)
	assert.True(t, b.Allow())

	n, ok := b.Consume()
	assert.True(t, ok)
	assert.Equal(t, 1, n)

	n, ok = b.Consume()
	assert.True(t, ok)
	assert.Equal(t, 2, n)

	_, ok = b.Consume()
	assert.False(t, ok)
	assert.Equal(t, 2, b.Count)

	b.Reset()
	assert.Equal(t, 0, b.Count)
	assert.Equal(t, 0, NewRetryBudget(-4).Max)
}
