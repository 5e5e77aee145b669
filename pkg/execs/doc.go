// Package execs builds and supervises the external commands run for a
// group.
//
// A command template is expanded with the triggering path ([Template]),
// wrapped in the configured [Shell], and started as a [Process] in its own
// process group, so that terminating it also terminates anything it spawned.
// The process environment is assembled by [Environment].
package execs
