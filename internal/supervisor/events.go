package supervisor

import "fmt"

// Stream identifies which output pipe a line came from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// TimerKind names the delayed actions the supervisor schedules.
type TimerKind string

const (
	TimerRestart       TimerKind = "restart"
	TimerSettle        TimerKind = "settle"
	TimerReopen        TimerKind = "reopen"
	TimerPoll          TimerKind = "poll"
	TimerStartTimeout  TimerKind = "start_timeout"
	TimerReadinessPoll TimerKind = "readiness_poll"
)

// ProbePurpose says why a health probe was run.
type ProbePurpose string

const (
	ProbeConfirm   ProbePurpose = "confirm"
	ProbePoll      ProbePurpose = "poll"
	ProbeReadiness ProbePurpose = "readiness"
)

// Events carrying Gen belong to one spawned process; they are dropped once that
// process is no longer the tracked one.

// LineEvent is one line of server output.
type LineEvent struct {
	Gen    uint64
	Stream Stream
	Line   string
}

// ExitEvent reports that a spawned process has exited and its output is drained.
type ExitEvent struct {
	Gen      uint64
	Code     int
	Signaled bool
	Err      error
}

// TimerEvent fires a previously scheduled timer.
type TimerEvent struct {
	Gen  uint64
	Kind TimerKind
}

// ProbeEvent carries a finished health probe.
type ProbeEvent struct {
	Gen     uint64
	Purpose ProbePurpose
	Healthy bool
}

// ReapedEvent reports that a terminated process has exited, freeing its port for
// the start that was waiting on it.
type ReapedEvent struct {
	Gen uint64
}

// StartCommand (re)starts the server. Manual starts reset the retry budget.
type StartCommand struct {
	Manual bool
}

// StopCommand terminates the tracked process.
type StopCommand struct{}

func (e LineEvent) String() string {
	return fmt.Sprintf("line(gen=%d, %s)", e.Gen, e.Stream)
}

func (e ExitEvent) String() string {
	return fmt.Sprintf("exit(gen=%d, code=%d, signaled=%t)", e.Gen, e.Code, e.Signaled)
}

func (e TimerEvent) String() string {
	return fmt.Sprintf("timer(gen=%d, %s)", e.Gen, e.Kind)
}

func (e ReapedEvent) String() string {
	return fmt.Sprintf("reaped(gen=%d)", e.Gen)
}

func (e ProbeEvent) String() string {
	return fmt.Sprintf("probe(gen=%d, %s, healthy=%t)", e.Gen, e.Purpose, e.Healthy)
}
