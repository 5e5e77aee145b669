package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/macropower/fsradar/pkg/event"
)

// ErrNothingToWatch is returned by [Engine.Initialize] when the directory
// predicate accepted no directory at all.
var ErrNothingToWatch = errors.New("nothing to watch")

const (
	// DefaultReadTimeout bounds how long [Engine.Run] blocks between checks
	// for cancellation.
	DefaultReadTimeout = 2 * time.Second

	// Consecutive backend read failures tolerated before [Engine.Run] gives up.
	maxReadFailures = 5
)

// Predicate decides whether a path, relative to the watched root, is
// accepted. The root itself is presented as ".".
type Predicate func(rel string) bool

// Publisher receives events from the [Engine].
type Publisher interface {
	Notify(ctx context.Context, ev event.Event)
}

// Engine maintains the watch set and classifies notifications.
//
// The watch set is only modified by the goroutine calling [Engine.Initialize]
// and [Engine.Run]. [Engine.Watches] may be called concurrently.
type Engine struct {
	tracer      trace.Tracer
	backend     Backend
	publisher   Publisher
	logger      *slog.Logger
	dirFilter   Predicate
	fileFilter  Predicate
	prune       Predicate
	watches     map[Handle]string
	root        string
	readTimeout time.Duration
	mask        Mask
	mu          sync.RWMutex
	publishGone bool
}

// Option configures an [Engine].
type Option func(*Engine)

// WithDirFilter sets the predicate deciding which directories are watched.
// By default every directory is watched.
func WithDirFilter(p Predicate) Option {
	return func(e *Engine) {
		e.dirFilter = p
	}
}

// WithFileFilter sets the predicate deciding which written files are
// published. By default nothing is published.
func WithFileFilter(p Predicate) Option {
	return func(e *Engine) {
		e.fileFilter = p
	}
}

// WithPublisher sets where events are published.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithPublishGone publishes [event.FileGone] when a watch is invalidated.
// Otherwise the event is only logged.
func WithPublishGone(publish bool) Option {
	return func(e *Engine) {
		e.publishGone = publish
	}
}

// WithOnlyDirs restricts watches to directories.
func WithOnlyDirs(only bool) Option {
	return func(e *Engine) {
		if only {
			e.mask |= OnlyDir
		} else {
			e.mask &^= OnlyDir
		}
	}
}

// WithPruneExcluded skips descending into directories for which p returns
// true during [Engine.Initialize]. By default the whole tree is walked.
func WithPruneExcluded(p Predicate) Option {
	return func(e *Engine) {
		e.prune = p
	}
}

// WithReadTimeout sets how long [Engine.Run] blocks between checks for
// cancellation.
func WithReadTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.readTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates a new [Engine] reading from backend. The engine takes
// ownership of the backend and closes it in [Engine.Close].
func New(backend Backend, opts ...Option) *Engine {
	e := &Engine{
		tracer:      otel.Tracer("watch"),
		backend:     backend,
		logger:      slog.Default(),
		dirFilter:   func(string) bool { return true },
		fileFilter:  func(string) bool { return false },
		watches:     make(map[Handle]string),
		readTimeout: DefaultReadTimeout,
		mask:        DefaultMask,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Initialize walks the tree below root and watches every directory accepted
// by the directory filter, including root itself.
//
// Every directory is visited regardless of the filter, unless pruning is
// enabled. Subdirectories that cannot be read are logged and skipped.
func (e *Engine) Initialize(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", root, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("stat root: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("root %q: %w", abs, fs.ErrInvalid)
	}

	e.root = abs

	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err != nil {
			if path == abs {
				return err
			}

			e.logger.WarnContext(ctx, "skip unreadable path",
				slog.String("path", path),
				slog.Any("err", err),
			)

			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if !d.IsDir() {
			return nil
		}

		rel := e.rel(path)

		if e.dirFilter(rel) {
			if err := e.AddWatch(path); err != nil {
				return err
			}
		}

		if path != abs && e.prune != nil && e.prune(rel) {
			e.logger.DebugContext(ctx, "prune excluded directory", slog.String("path", rel))

			return filepath.SkipDir
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %q: %w", abs, err)
	}

	e.mu.RLock()
	n := len(e.watches)
	e.mu.RUnlock()

	if n == 0 {
		return ErrNothingToWatch
	}

	e.logger.InfoContext(ctx, "watching",
		slog.String("root", abs),
		slog.Int("directories", n),
	)

	return nil
}

// Root returns the absolute root directory set by [Engine.Initialize].
func (e *Engine) Root() string {
	return e.root
}

// AddWatch registers a watch for path. Paths that no longer exist are
// skipped, as are non-directories when only directories are watched.
func (e *Engine) AddWatch(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		e.logger.Debug("skip vanished path", slog.String("path", path))

		return nil
	}

	if err != nil {
		return fmt.Errorf("stat %q: %w", path, err)
	}

	if e.mask.Has(OnlyDir) && !info.IsDir() {
		return nil
	}

	h, err := e.backend.Add(path, e.mask)
	if errors.Is(err, fs.ErrNotExist) {
		e.logger.Debug("skip vanished path", slog.String("path", path))

		return nil
	}

	if err != nil {
		return fmt.Errorf("add watch: %w", err)
	}

	e.mu.Lock()
	e.watches[h] = path
	e.mu.Unlock()

	e.logger.Debug("watch", slog.String("path", path), slog.Int("handle", int(h)))

	return nil
}

// RemoveWatch removes a watch. Removing an unknown handle is a no-op.
func (e *Engine) RemoveWatch(h Handle) error {
	e.mu.Lock()
	path, ok := e.watches[h]
	delete(e.watches, h)
	e.mu.Unlock()

	if !ok {
		return nil
	}

	e.logger.Debug("stop watching", slog.String("path", path))

	err := e.backend.Remove(h)
	if err != nil {
		return fmt.Errorf("remove watch %q: %w", path, err)
	}

	return nil
}

// Watches returns the watched paths, sorted.
func (e *Engine) Watches() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	paths := make([]string, 0, len(e.watches))
	for _, p := range e.watches {
		paths = append(paths, p)
	}

	slices.Sort(paths)

	return paths
}

// Handle returns the handle watching path, if any.
func (e *Engine) Handle(path string) (Handle, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for h, p := range e.watches {
		if p == path {
			return h, true
		}
	}

	return 0, false
}

// Run reads and handles notifications until ctx is done. It returns nil on
// cancellation, and an error only if the backend keeps failing.
func (e *Engine) Run(ctx context.Context) error {
	failures := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		notes, err := e.backend.Read(e.readTimeout)
		if errors.Is(err, ErrClosed) {
			return nil
		}

		if err != nil {
			failures++
			e.logger.WarnContext(ctx, "read notifications", slog.Any("err", err))

			if failures >= maxReadFailures {
				return fmt.Errorf("read notifications: %w", err)
			}

			continue
		}

		failures = 0

		for _, n := range notes {
			e.HandleNotification(ctx, n)
		}
	}
}

// HandleNotification classifies a single notification.
func (e *Engine) HandleNotification(ctx context.Context, n Notification) {
	if e.logger.Enabled(ctx, slog.LevelDebug) {
		e.logger.DebugContext(ctx, "notification",
			slog.Int("handle", int(n.Handle)),
			slog.String("mask", n.Mask.String()),
			slog.String("name", n.Name),
		)
	}

	if n.Mask.Has(QOverflow) {
		e.logger.WarnContext(ctx, "notification queue overflow, events were lost")

		return
	}

	e.mu.RLock()
	path, ok := e.watches[n.Handle]
	e.mu.RUnlock()

	if !ok {
		e.logger.DebugContext(ctx, "notification for unknown watch", slog.Int("handle", int(n.Handle)))

		return
	}

	switch {
	case n.Mask.Has(Create | IsDir):
		e.onNewDir(ctx, filepath.Join(path, n.Name))

	case n.Mask.Has(CloseWrite) && n.Name != "":
		// A file inside a watched directory was written.
		e.onFileWrite(ctx, filepath.Join(path, n.Name))

	case n.Mask.Has(CloseWrite):
		// The watched path is itself a file.
		e.onFileWrite(ctx, path)

	case n.Mask.Has(Ignored):
		// The kernel already dropped the watch.
		e.mu.Lock()
		delete(e.watches, n.Handle)
		e.mu.Unlock()

		e.onFileGone(ctx, path)
	}
}

func (e *Engine) onNewDir(ctx context.Context, path string) {
	if !e.dirFilter(e.rel(path)) {
		return
	}

	if err := e.AddWatch(path); err != nil {
		e.logger.WarnContext(ctx, "watch new directory",
			slog.String("path", path),
			slog.Any("err", err),
		)
	}

	// Entries created before the watch existed were missed, so report
	// them now. This may duplicate events.
	entries, err := os.ReadDir(path)
	if err != nil {
		e.logger.DebugContext(ctx, "read new directory",
			slog.String("path", path),
			slog.Any("err", err),
		)

		return
	}

	for _, entry := range entries {
		e.onFileWrite(ctx, filepath.Join(path, entry.Name()))
	}
}

func (e *Engine) onFileWrite(ctx context.Context, path string) {
	rel := e.rel(path)

	e.logger.DebugContext(ctx, "file written", slog.String("path", rel))

	if !e.fileFilter(rel) {
		return
	}

	e.logger.InfoContext(ctx, "watched file written", slog.String("path", rel))
	e.publish(ctx, event.New(event.FileMatch, path, rel))
}

func (e *Engine) onFileGone(ctx context.Context, path string) {
	rel := e.rel(path)

	e.logger.DebugContext(ctx, "file gone", slog.String("path", rel))

	if e.publishGone {
		e.publish(ctx, event.New(event.FileGone, path, rel))
	}
}

func (e *Engine) publish(ctx context.Context, ev event.Event) {
	if e.publisher == nil {
		return
	}

	ctx, span := e.tracer.Start(ctx, "publish", trace.WithAttributes(
		attribute.String("kind", ev.Kind.String()),
		attribute.String("path", ev.Rel),
	))
	defer span.End()

	e.publisher.Notify(ctx, ev)
}

// rel returns path relative to the root, using forward slashes.
func (e *Engine) rel(path string) string {
	if e.root == "" {
		return filepath.ToSlash(path)
	}

	rel, err := filepath.Rel(e.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}

	return filepath.ToSlash(rel)
}

// Close closes the backend.
func (e *Engine) Close() error {
	err := e.backend.Close()
	if err != nil {
		return fmt.Errorf("close backend: %w", err)
	}

	return nil
}
