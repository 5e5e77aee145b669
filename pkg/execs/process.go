package execs

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
)

// How long to keep reading output after the process exits. Background
// children may hold the output pipe open indefinitely.
const outputDrainTimeout = 250 * time.Millisecond

// ErrStillRunning is returned by [Process.Terminate] when the process could
// not be confirmed dead.
var ErrStillRunning = errors.New("process still running")

// StartOptions configure [Start].
type StartOptions struct {
	// Argv is the program and its arguments.
	Argv []string
	// Dir is the working directory.
	Dir string
	// Env is the process environment. A nil Env inherits the caller's.
	Env []string
	// PTY attaches a pseudo-terminal to stdin. When a terminal cannot be
	// allocated, stdin falls back to the null device.
	PTY bool
}

// Process is a supervised child process.
//
// Standard output and standard error are merged and delivered line by line
// on [Process.Lines]. The lines channel is closed before [Process.Done].
type Process struct {
	started time.Time
	err     error
	cmd     *exec.Cmd
	lines   chan string
	exited  chan struct{}
	done    chan struct{}
	ptmx    *os.File
	termMu  sync.Mutex
	code    int
}

// Start starts a new [Process] in its own process group.
func Start(opts StartOptions) (*Process, error) {
	if len(opts.Argv) == 0 || opts.Argv[0] == "" {
		return nil, ErrEmptyCommand
	}

	//nolint:gosec // G204: Subprocess launched with a potential tainted input or cmd arguments.
	cmd := exec.Command(opts.Argv[0], opts.Argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env
	setProcAttr(cmd)

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: create output pipe: %w", ErrCommandExecution, err)
	}

	cmd.Stdout = pw
	cmd.Stderr = pw

	var ptmx, tty *os.File
	if opts.PTY {
		ptmx, tty, err = pty.Open()
		if err == nil {
			cmd.Stdin = tty
		} else {
			ptmx, tty = nil, nil
		}
	}

	err = cmd.Start()

	// The child holds its own copies.
	closeQuietly(pw)
	closeQuietly(tty)

	if err != nil {
		closeQuietly(pr)
		closeQuietly(ptmx)

		return nil, fmt.Errorf("%w: %w", ErrCommandExecution, err)
	}

	p := &Process{
		cmd:     cmd,
		started: time.Now(),
		lines:   make(chan string, 64),
		exited:  make(chan struct{}),
		done:    make(chan struct{}),
		ptmx:    ptmx,
		code:    -1,
	}

	readDone := make(chan struct{})
	go p.readLines(pr, readDone)
	go p.wait(pr, readDone)

	return p, nil
}

func (p *Process) readLines(r io.Reader, readDone chan<- struct{}) {
	defer close(readDone)
	defer close(p.lines)

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			p.lines <- strings.TrimRight(line, "\r\n")
		}

		if err != nil {
			return
		}
	}
}

func (p *Process) wait(pr *os.File, readDone <-chan struct{}) {
	err := p.cmd.Wait()

	if p.cmd.ProcessState != nil {
		p.code = p.cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.err = err
	}

	close(p.exited)

	select {
	case <-readDone:
	case <-time.After(outputDrainTimeout):
		closeQuietly(pr)
		<-readDone
	}

	closeQuietly(pr)
	closeQuietly(p.ptmx)

	close(p.done)
}

// Lines returns the channel of output lines.
func (p *Process) Lines() <-chan string {
	return p.lines
}

// Done is closed once the process has exited and its output is drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Alive reports whether the process is still running. Output may still be
// draining after it returns false, see [Process.Done].
func (p *Process) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// ExitCode returns the exit code of the process, or -1 if it is still
// running or was terminated by a signal.
func (p *Process) ExitCode() int {
	if p.Alive() {
		return -1
	}

	return p.code
}

// Err returns an error if waiting for the process failed for a reason other
// than a non-zero exit status.
func (p *Process) Err() error {
	if p.Alive() {
		return nil
	}

	return p.err
}

// PID returns the process ID.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// StartTime returns the time the process was started.
func (p *Process) StartTime() time.Time {
	return p.started
}

// Terminate stops the process and everything in its process group. It
// sends SIGTERM, waits up to grace for the process to exit, then sends
// SIGKILL and waits up to grace again. Output still buffered in
// [Process.Lines] is discarded so that the wait cannot block on a reader.
func (p *Process) Terminate(grace time.Duration) error {
	p.termMu.Lock()
	defer p.termMu.Unlock()

	select {
	case <-p.done:
		return nil
	default:
	}

	termErr := signalGroup(p.cmd.Process, terminateSignal)
	if p.waitFor(grace) {
		return nil
	}

	killErr := signalGroup(p.cmd.Process, killSignal)
	if p.waitFor(grace) {
		return nil
	}

	return errors.Join(ErrStillRunning, termErr, killErr)
}

func (p *Process) waitFor(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-p.done:
			return true
		case _, ok := <-p.lines:
			if !ok {
				// Lines are closed, done follows shortly.
				select {
				case <-p.done:
					return true
				case <-timer.C:
					return false
				}
			}
		case <-timer.C:
			return false
		}
	}
}

func closeQuietly(f *os.File) {
	if f != nil {
		_ = f.Close() //nolint:errcheck // Best effort.
	}
}
