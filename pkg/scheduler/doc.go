// Package scheduler runs a group's command in response to submitted
// parameters.
//
// A [Scheduler] owns at most one running process. Parameters submitted while
// a process is running are handled according to [Options]: the running
// process is stopped and replaced, the parameter is discarded, or the
// scheduler waits for the process to exit (or time out) before starting the
// next one. Every process is bounded by its timeout regardless of new
// submissions.
package scheduler
