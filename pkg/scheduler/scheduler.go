package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/macropower/fsradar/pkg/execs"
	"github.com/macropower/fsradar/pkg/log"
)

// ErrAlreadyStarted is returned by [Scheduler.Run] when the scheduler is
// already running.
var ErrAlreadyStarted = errors.New("scheduler already started")

const (
	// DefaultPollInterval bounds every wait in the scheduler loop.
	DefaultPollInterval = time.Second

	// DefaultStopGrace is how long a process gets to exit after SIGTERM
	// before it is killed.
	DefaultStopGrace = 2 * time.Second

	defaultTailLines = 20
)

// Scheduler runs one command at a time for a single group.
//
// [Scheduler.Submit] may be called from any goroutine. Everything else about
// the running process is owned by the goroutine executing [Scheduler.Run].
type Scheduler struct {
	tracer       trace.Tracer
	proc         *execs.Process
	span         trace.Span
	tail         *log.CircularBuffer
	logger       *slog.Logger
	wake         chan struct{}
	shutdown     chan struct{}
	done         chan struct{}
	name         string
	dir          string
	param        string
	template     execs.Template
	shell        execs.Shell
	env          []string
	queue        []string
	listeners    []chan<- Event
	opts         Options
	pollInterval time.Duration
	stopGrace    time.Duration
	outputBytes  uint64
	mu           sync.Mutex
	shutdownOnce sync.Once
	started      atomic.Bool
	linesClosed  bool
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithOptions sets the concurrency [Options].
func WithOptions(o Options) Option {
	return func(s *Scheduler) {
		s.opts = o
	}
}

// WithShell sets the shell commands are run through.
func WithShell(sh execs.Shell) Option {
	return func(s *Scheduler) {
		if len(sh) > 0 {
			s.shell = sh
		}
	}
}

// WithDir sets the working directory for commands.
func WithDir(dir string) Option {
	return func(s *Scheduler) {
		s.dir = dir
	}
}

// WithEnv sets the environment for commands. By default commands inherit
// the environment of the current process.
func WithEnv(env []string) Option {
	return func(s *Scheduler) {
		s.env = env
	}
}

// WithListener adds a channel that receives every [Event].
func WithListener(ch chan<- Event) Option {
	return func(s *Scheduler) {
		s.listeners = append(s.listeners, ch)
	}
}

// WithPollInterval bounds how long the scheduler blocks between checks for
// shutdown and timeouts.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithStopGrace sets how long a process gets to exit after SIGTERM.
func WithStopGrace(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.stopGrace = d
		}
	}
}

// WithLogger sets the logger. Output lines are logged at info level.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a new [Scheduler] for the given command template. If name is
// empty, it is derived from the template (see [execs.Template.Name]).
func New(name, template string, opts ...Option) *Scheduler {
	tmpl := execs.NewTemplate(template)
	if name == "" {
		name = tmpl.Name()
	}

	s := &Scheduler{
		tracer:       otel.Tracer("scheduler"),
		name:         name,
		template:     tmpl,
		shell:        execs.MustParseShell(execs.DefaultShell),
		opts:         DefaultOptions(),
		logger:       slog.Default(),
		pollInterval: DefaultPollInterval,
		stopGrace:    DefaultStopGrace,
		tail:         log.NewCircularBuffer(defaultTailLines),
		wake:         make(chan struct{}, 1),
		shutdown:     make(chan struct{}),
		done:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With(slog.String("group", s.name))

	return s
}

// Name returns the group name.
func (s *Scheduler) Name() string {
	return s.name
}

// Options returns the scheduler's [Options].
func (s *Scheduler) Options() Options {
	return s.opts
}

// Submit queues a parameter. It never blocks.
func (s *Scheduler) Submit(param string) {
	s.mu.Lock()
	s.queue = append(s.queue, param)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued parameters.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.queue)
}

func (s *Scheduler) pop() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return "", false
	}

	param := s.queue[0]
	s.queue = s.queue[1:]

	return param, true
}

// Start runs the scheduler loop in a new goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		err := s.Run(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "scheduler", slog.Any("err", err))
		}
	}()
}

// Shutdown asks the scheduler loop to stop. Any running process is
// terminated. It is safe to call more than once and does not block; use
// [Scheduler.Wait] to wait for the loop to return.
func (s *Scheduler) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
	})
}

// Wait blocks until [Scheduler.Run] has returned.
func (s *Scheduler) Wait() {
	<-s.done
}

// Done is closed when [Scheduler.Run] has returned.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Run processes submitted parameters until ctx is done or
// [Scheduler.Shutdown] is called.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	defer close(s.done)

	s.logger.DebugContext(ctx, "run scheduler", slog.String("options", s.opts.String()))

	for {
		if s.stopping(ctx) {
			if s.proc != nil {
				s.logger.DebugContext(ctx, "terminate process as requested")
				s.terminate(ctx, Shutdown)
			}

			return nil
		}

		if s.step(ctx, s.wake) {
			s.drain(ctx)
		}
	}
}

func (s *Scheduler) stopping(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}

	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

// step waits for at most one poll interval, handling output, exit and
// timeout of the running process. It returns true if woken by wake.
func (s *Scheduler) step(ctx context.Context, wake <-chan struct{}) bool {
	wait := s.pollInterval

	if s.proc != nil && s.opts.Timeout > 0 {
		remaining := s.opts.Timeout - time.Since(s.proc.StartTime())
		if remaining <= 0 {
			s.terminate(ctx, TimedOut)

			return false
		}

		wait = min(wait, remaining)
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	var (
		lines <-chan string
		done  <-chan struct{}
	)

	if s.proc != nil {
		done = s.proc.Done()
		if !s.linesClosed {
			lines = s.proc.Lines()
		}
	}

	select {
	case <-ctx.Done():
	case <-s.shutdown:
	case <-wake:
		return true
	case line, ok := <-lines:
		if ok {
			s.output(ctx, line)
		} else {
			s.linesClosed = true
		}
	case <-done:
		s.exited(ctx)
	case <-timer.C:
	}

	return false
}

func (s *Scheduler) drain(ctx context.Context) {
	for !s.stopping(ctx) {
		param, ok := s.pop()
		if !ok {
			return
		}

		s.handle(ctx, param)
	}
}

func (s *Scheduler) handle(ctx context.Context, param string) {
	s.logger.DebugContext(ctx, "got parameter", slog.String("parameter", param))

	if s.proc != nil && !s.proc.Alive() {
		s.exited(ctx)
	}

	if s.proc != nil {
		switch {
		case s.opts.StopPreviousProcess:
			s.logger.DebugContext(ctx, "stop previous process")
			s.terminate(ctx, Stopped)

		case s.opts.CanDiscard:
			s.logger.DebugContext(ctx, "process already running, discard parameter",
				slog.String("parameter", param),
			)
			s.broadcast(ctx, EventDiscard{Group: s.name, Parameter: param})

			return

		default:
			s.logger.DebugContext(ctx, "process already running, wait")

			for s.proc != nil && !s.stopping(ctx) {
				s.step(ctx, nil)
			}

			if s.proc != nil {
				// Shutting down, the loop terminates the process.
				return
			}
		}
	}

	s.start(ctx, param)
}

func (s *Scheduler) start(ctx context.Context, param string) {
	cmdline := s.template.Expand(param)

	s.logger.InfoContext(ctx, "### START PROCESS ###", slog.String("parameter", param))
	s.logger.DebugContext(ctx, "command line", slog.String("command", cmdline))

	_, span := s.tracer.Start(ctx, "run", trace.WithAttributes(
		attribute.String("group", s.name),
		attribute.String("parameter", param),
	))

	s.param = param
	s.span = span
	s.tail.Clear()
	s.outputBytes = 0
	s.linesClosed = false

	proc, err := execs.Start(execs.StartOptions{
		Argv: s.shell.Argv(cmdline),
		Dir:  s.dir,
		Env:  s.env,
		PTY:  true,
	})
	if err != nil {
		s.complete(ctx, Completion{
			Reason:   SpawnFailed,
			ExitCode: -1,
			Err:      err,
		}, time.Now())

		return
	}

	s.proc = proc
	span.SetAttributes(attribute.Int("pid", proc.PID()))

	s.broadcast(ctx, EventStart{Group: s.name, Parameter: param, PID: proc.PID()})
}

func (s *Scheduler) output(ctx context.Context, line string) {
	s.tail.Add(line)
	s.outputBytes += uint64(len(line)) + 1
	s.logger.InfoContext(ctx, line)
}

// exited handles a process that exited on its own.
func (s *Scheduler) exited(ctx context.Context) {
	proc := s.proc

	for line := range proc.Lines() {
		s.output(ctx, line)
	}

	<-proc.Done()

	s.complete(ctx, Completion{
		Reason:   Exited,
		ExitCode: proc.ExitCode(),
		Err:      proc.Err(),
	}, proc.StartTime())
}

// terminate stops the running process and reports it with reason. A
// process that already exited is reported as [Exited] instead.
func (s *Scheduler) terminate(ctx context.Context, reason Reason) {
	proc := s.proc

	if !proc.Alive() {
		s.exited(ctx)

		return
	}

	err := proc.Terminate(s.stopGrace)
	if err != nil {
		s.logger.ErrorContext(ctx, "terminate process",
			slog.Int("pid", proc.PID()),
			slog.Any("err", err),
		)
	}

	s.complete(ctx, Completion{
		Reason:   reason,
		ExitCode: -1,
		Err:      err,
	}, proc.StartTime())
}

func (s *Scheduler) complete(ctx context.Context, c Completion, started time.Time) {
	c.Group = s.name
	c.Parameter = s.param
	c.Duration = time.Since(started)
	c.Output = s.tail.Lines()

	logger := s.logger.With(
		slog.String("parameter", c.Parameter),
		slog.Duration("duration", c.Duration),
		slog.String("output", humanize.Bytes(s.outputBytes)),
	)

	switch c.Reason {
	case Exited:
		logger.InfoContext(ctx, fmt.Sprintf("### END PROCESS - exit status %d ###", c.ExitCode))
	case TimedOut:
		logger.WarnContext(ctx, "### END PROCESS - timed out ###", slog.Duration("timeout", s.opts.Timeout))
	case Stopped, Shutdown:
		logger.InfoContext(ctx, fmt.Sprintf("### END PROCESS - %s ###", c.Reason))
	case SpawnFailed:
		logger.ErrorContext(ctx, "### END PROCESS - spawn failed ###", slog.Any("err", c.Err))
	}

	if !c.Success() && len(c.Output) > 0 {
		logger.DebugContext(ctx, "output tail", slog.String("tail", s.tail.String()))
	}

	if s.span != nil {
		s.span.SetAttributes(
			attribute.String("reason", c.Reason.String()),
			attribute.Int("exit_code", c.ExitCode),
		)

		if !c.Success() {
			if c.Err != nil {
				s.span.RecordError(c.Err)
			}

			s.span.SetStatus(codes.Error, c.Reason.String())
		}

		s.span.End()
		s.span = nil
	}

	s.proc = nil
	s.param = ""

	s.broadcast(ctx, EventEnd(c))
}

func (s *Scheduler) broadcast(ctx context.Context, evt Event) {
	if len(s.listeners) == 0 {
		return
	}

	log.WithContext(ctx).DebugContext(ctx, "broadcasting event",
		slog.String("group", s.name),
		slog.String("event", fmt.Sprintf("%T", evt)),
	)

	for _, ch := range s.listeners {
		select {
		case ch <- evt:
		case <-time.After(s.pollInterval):
			s.logger.WarnContext(ctx, "listener not ready, event dropped",
				slog.String("event", fmt.Sprintf("%T", evt)),
			)
		}
	}
}
