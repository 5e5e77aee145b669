package scheduler

import (
	"fmt"
	"time"
)

// Reason describes why a run ended.
type Reason int

const (
	// Exited means the process exited on its own.
	Exited Reason = iota
	// TimedOut means the process exceeded its timeout and was terminated.
	TimedOut
	// Stopped means the process was terminated to make room for a new run.
	Stopped
	// Shutdown means the process was terminated because the scheduler shut
	// down.
	Shutdown
	// SpawnFailed means the process could not be started.
	SpawnFailed
)

func (r Reason) String() string {
	switch r {
	case Exited:
		return "exited"
	case TimedOut:
		return "timed out"
	case Stopped:
		return "stopped"
	case Shutdown:
		return "shutdown"
	case SpawnFailed:
		return "spawn failed"
	}

	return fmt.Sprintf("Reason(%d)", int(r))
}

// Completion describes a finished run.
type Completion struct {
	Err       error
	Group     string
	Parameter string
	// Output holds the last lines of output.
	Output   []string
	Duration time.Duration
	Reason   Reason
	// ExitCode is the exit status, or -1 if the process did not exit on
	// its own.
	ExitCode int
}

// Success reports whether the process exited on its own with status 0.
func (c Completion) Success() bool {
	return c.Reason == Exited && c.ExitCode == 0 && c.Err == nil
}

// Event is sent to listeners registered with [WithListener].
type Event any

type (
	// EventStart indicates that a process was started.
	EventStart struct {
		Group     string
		Parameter string
		PID       int
	}

	// EventEnd indicates that a run ended.
	EventEnd Completion

	// EventDiscard indicates that a parameter was dropped because a process
	// was already running.
	EventDiscard struct {
		Group     string
		Parameter string
	}
)
