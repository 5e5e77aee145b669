// Package radar wires the watch engine, the group router and one command
// scheduler per group into a single runnable unit.
package radar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/macropower/fsradar/pkg/config"
	"github.com/macropower/fsradar/pkg/event"
	"github.com/macropower/fsradar/pkg/execs"
	"github.com/macropower/fsradar/pkg/group"
	"github.com/macropower/fsradar/pkg/log"
	"github.com/macropower/fsradar/pkg/rule"
	"github.com/macropower/fsradar/pkg/scheduler"
	"github.com/macropower/fsradar/pkg/watch"
)

var (
	// ErrNoGroups is returned by [New] for a configuration without groups.
	ErrNoGroups = errors.New("no groups configured")

	// ErrAlreadyRunning is returned by [Radar.Run] when called more than once.
	ErrAlreadyRunning = errors.New("radar already running")
)

// Radar watches a base directory and runs the commands of every configured
// group when matching files change.
type Radar struct {
	tracer     trace.Tracer
	backend    watch.Backend
	engine     *watch.Engine
	dispatcher *event.Dispatcher
	router     *group.Router
	logger     *slog.Logger
	dirFilter  *rule.Filter
	root       string
	groups     []*group.Group
	schedulers []*scheduler.Scheduler
	listeners  []chan<- scheduler.Event
	schedOpts  []scheduler.Option
	baseEnv    []string
	readTime   time.Duration
	running    atomic.Bool
}

// Option configures a [Radar].
type Option func(*Radar)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Radar) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithBackend sets the notification backend, instead of the one named in the
// configuration.
func WithBackend(b watch.Backend) Option {
	return func(r *Radar) {
		r.backend = b
	}
}

// WithListener adds a channel that receives the [scheduler.Event]s of every
// group.
func WithListener(ch chan<- scheduler.Event) Option {
	return func(r *Radar) {
		r.listeners = append(r.listeners, ch)
	}
}

// WithSchedulerOptions adds options applied to every scheduler.
func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(r *Radar) {
		r.schedOpts = append(r.schedOpts, opts...)
	}
}

// WithBaseEnv sets the environment commands are derived from. Defaults to
// [os.Environ].
func WithBaseEnv(env []string) Option {
	return func(r *Radar) {
		r.baseEnv = env
	}
}

// WithReadTimeout bounds how long the engine blocks between checks for
// cancellation. See [watch.WithReadTimeout].
func WithReadTimeout(d time.Duration) Option {
	return func(r *Radar) {
		r.readTime = d
	}
}

// New builds a [Radar] from a validated configuration.
//
// The base directory must exist. Directories are watched when accepted by the
// directory rules derived from all groups, and written files are published
// when at least one group's rules accept them.
func New(cfg *config.Config, opts ...Option) (*Radar, error) {
	if cfg == nil || len(cfg.Groups) == 0 {
		return nil, ErrNoGroups
	}

	r := &Radar{
		tracer:  otel.Tracer("radar"),
		logger:  slog.Default(),
		baseEnv: os.Environ(),
	}

	for _, opt := range opts {
		opt(r)
	}

	root, err := cfg.ResolveBaseDir()
	if err != nil {
		return nil, err //nolint:wrapcheck // Already wraps config.ErrBaseDirNotFound.
	}

	r.root = root

	shell, err := execs.ParseShell(cfg.Shell)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}

	r.dirFilter, err = rule.CompileDirFilter(cfg.Rules())
	if err != nil {
		return nil, fmt.Errorf("compile directory rules: %w", err)
	}

	r.dispatcher = event.NewDispatcher(r.logger)
	r.router = group.NewRouter(r.logger)

	for _, gc := range cfg.Groups {
		g, err := gc.Build()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
		}

		env := gc.Environment(r.baseEnv)

		sopts := []scheduler.Option{
			scheduler.WithOptions(g.Options),
			scheduler.WithShell(shell),
			scheduler.WithDir(root),
			scheduler.WithEnv(env.GetEnv()),
			scheduler.WithLogger(r.logger),
		}
		for _, ch := range r.listeners {
			sopts = append(sopts, scheduler.WithListener(ch))
		}

		s := scheduler.New(g.Name, g.Command, append(sopts, r.schedOpts...)...)

		r.groups = append(r.groups, g)
		r.schedulers = append(r.schedulers, s)
		r.router.Add(g, s)
	}

	kinds := []event.Kind{event.FileMatch}
	if cfg.PublishGone {
		kinds = append(kinds, event.FileGone)
	}

	r.router.Subscribe(r.dispatcher, kinds...)

	if r.backend == nil {
		r.backend, err = watch.NewBackend(cfg.Backend, r.logger)
		if err != nil {
			return nil, fmt.Errorf("create %s backend: %w", cfg.Backend, err)
		}
	}

	eopts := []watch.Option{
		watch.WithDirFilter(r.dirFilter.Match),
		watch.WithFileFilter(r.acceptsFile),
		watch.WithPublisher(r.dispatcher),
		watch.WithPublishGone(cfg.PublishGone),
		watch.WithReadTimeout(r.readTime),
		watch.WithLogger(r.logger),
	}
	if cfg.PruneExcluded {
		eopts = append(eopts, watch.WithPruneExcluded(r.dirFilter.Excluded))
	}

	r.engine = watch.New(r.backend, eopts...)

	return r, nil
}

// acceptsFile reports whether any group's rules accept rel. Conditions are
// left to the router.
func (r *Radar) acceptsFile(rel string) bool {
	for _, g := range r.groups {
		if g.Filter.Match(rel) {
			return true
		}
	}

	return false
}

// Root returns the absolute base directory.
func (r *Radar) Root() string {
	return r.root
}

// Groups returns the compiled groups, in configuration order.
func (r *Radar) Groups() []*group.Group {
	return r.groups
}

// Watches returns the currently watched directories.
func (r *Radar) Watches() []string {
	return r.engine.Watches()
}

// Run watches the base directory until ctx is done.
//
// It returns an error wrapping [watch.ErrNothingToWatch] when the directory
// rules accept no directory. On cancellation every scheduler is shut down,
// terminating any running command, and the backend is closed before Run
// returns.
func (r *Radar) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	logger := log.WithContext(ctx)

	defer func() {
		err := r.engine.Close()
		if err != nil {
			logger.ErrorContext(ctx, "close watch engine", slog.Any("err", err))
		}
	}()

	initCtx, span := r.tracer.Start(ctx, "initialize", trace.WithAttributes(
		attribute.String("root", r.root),
		attribute.Int("groups", len(r.groups)),
	))

	err := r.engine.Initialize(initCtx, r.root)
	span.End()

	if err != nil {
		return fmt.Errorf("initialize %s: %w", r.root, err)
	}

	logger.InfoContext(ctx, "watching",
		slog.String("root", r.root),
		slog.Int("directories", len(r.engine.Watches())),
		slog.Int("groups", len(r.groups)),
	)

	eg, egCtx := errgroup.WithContext(ctx)

	for _, s := range r.schedulers {
		eg.Go(func() error {
			return s.Run(egCtx)
		})
	}

	eg.Go(func() error {
		defer r.shutdown()

		return r.engine.Run(egCtx)
	})

	err = eg.Wait()
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	logger.DebugContext(ctx, "stopped")

	return nil
}

func (r *Radar) shutdown() {
	for _, s := range r.schedulers {
		s.Shutdown()
	}
}
