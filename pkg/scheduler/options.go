package scheduler

import (
	"fmt"
	"time"
)

// DefaultTimeout is the default limit on a single run.
const DefaultTimeout = 30 * time.Second

// Options control how a [Scheduler] treats a parameter that arrives while a
// process is running. StopPreviousProcess takes precedence over CanDiscard.
// When neither is set, the scheduler waits for the running process.
type Options struct {
	// Timeout limits each run. Zero or negative disables the limit.
	Timeout time.Duration
	// StopPreviousProcess terminates the running process and starts a new
	// one with the new parameter.
	StopPreviousProcess bool
	// CanDiscard drops the new parameter.
	CanDiscard bool
}

// DefaultOptions returns the default [Options]: discard while running, with
// a 30 second timeout.
func DefaultOptions() Options {
	return Options{
		CanDiscard: true,
		Timeout:    DefaultTimeout,
	}
}

// Policy names the effective behavior for a parameter arriving while a
// process is running.
func (o Options) Policy() string {
	switch {
	case o.StopPreviousProcess:
		return "stop"
	case o.CanDiscard:
		return "discard"
	default:
		return "wait"
	}
}

func (o Options) String() string {
	return fmt.Sprintf("policy=%s timeout=%s", o.Policy(), o.Timeout)
}
