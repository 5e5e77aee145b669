//go:build !unix

package execs

import (
	"errors"
	"os"
	"os/exec"
)

type signal int

const (
	terminateSignal signal = iota
	killSignal
)

func setProcAttr(*exec.Cmd) {}

// signalGroup kills p. Process groups and graceful termination are not
// available on this platform.
func signalGroup(p *os.Process, _ signal) error {
	err := p.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}

	return err //nolint:wrapcheck // Returned as-is for errors.Is checks.
}
