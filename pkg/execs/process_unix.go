//go:build unix

package execs

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	terminateSignal = unix.SIGTERM
	killSignal      = unix.SIGKILL
)

func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// signalGroup signals the process group led by p. The group ID equals the
// PID since the process is started as a session leader.
func signalGroup(p *os.Process, sig syscall.Signal) error {
	err := unix.Kill(-p.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}

	return err //nolint:wrapcheck // Returned as-is for errors.Is checks.
}
