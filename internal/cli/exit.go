package cli

import (
	"errors"

	"github.com/macropower/fsradar/pkg/config"
	"github.com/macropower/fsradar/pkg/log"
	"github.com/macropower/fsradar/pkg/watch"
)

// Process exit codes.
const (
	ExitOK              = 0
	ExitError           = 1
	ExitConfig          = 2
	ExitNothingToWatch  = 3
	ExitBaseDirNotFound = 4
	ExitInterrupted     = 130
)

// ErrInterrupted is returned when the command was stopped by a signal.
var ErrInterrupted = errors.New("interrupted")

// ExitCode maps an error returned by the root command to a process exit
// code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrInterrupted):
		return ExitInterrupted
	case errors.Is(err, config.ErrBaseDirNotFound):
		return ExitBaseDirNotFound
	case errors.Is(err, watch.ErrNothingToWatch):
		return ExitNothingToWatch
	case errors.Is(err, config.ErrInvalid),
		errors.Is(err, watch.ErrUnknownBackend),
		errors.Is(err, log.ErrInvalidArgument):
		return ExitConfig
	}

	return ExitError
}
