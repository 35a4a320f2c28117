package supervisor

import (
	"fmt"
	"time"
)

// Status is the supervised server's lifecycle state.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusError    Status = "error"
)

// Exit codes reported by the bundled server.
const (
	ExitCodeSuccess         = 0
	ExitCodeGeneralError    = 1
	ExitCodePortConflict    = 2
	ExitCodeDBLocked        = 3
	ExitCodeConfigError     = 4
	ExitCodePermissionError = 5
)

// ExitReason turns a process exit into the reason shown next to the error status.
func ExitReason(code int, signaled bool) string {
	if signaled {
		return "server terminated by signal"
	}
	switch code {
	case ExitCodeSuccess:
		return "server stopped"
	case ExitCodePortConflict:
		return "port already in use"
	case ExitCodeDBLocked:
		return "database locked by another process"
	case ExitCodeConfigError:
		return "configuration error"
	case ExitCodePermissionError:
		return "permission denied"
	default:
		return fmt.Sprintf("server exited with code %d", code)
	}
}

// Snapshot is a point-in-time copy of supervisor state that is safe to read from any
// goroutine.
type Snapshot struct {
	Status   Status    `json:"status"`
	Reason   string    `json:"reason,omitempty"`
	PID      int       `json:"pid,omitempty"`
	Restarts int       `json:"restarts"`
	Since    time.Time `json:"since"`
}
