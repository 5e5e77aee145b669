package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"
)

var (
	// ErrClosed is returned by a [Backend] after it has been closed.
	ErrClosed = errors.New("backend closed")

	// ErrUnknownBackend is returned by [NewBackend] for unknown names.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrUnsupported is returned when a backend is not available on the
	// current platform.
	ErrUnsupported = errors.New("backend not supported on " + runtime.GOOS)
)

// Backend names accepted by [NewBackend].
const (
	BackendAuto     = "auto"
	BackendInotify  = "inotify"
	BackendFsnotify = "fsnotify"
)

// AllBackends lists the accepted backend names.
var AllBackends = []string{BackendAuto, BackendInotify, BackendFsnotify}

// Handle identifies a single watch within a [Backend].
type Handle int

// Notification is a single raw notification.
type Notification struct {
	// Name is the name of the affected entry inside a watched directory.
	// It is empty when the notification is about the watched path itself.
	Name   string
	Handle Handle
	Mask   Mask
}

func (n Notification) String() string {
	return fmt.Sprintf("handle=%d mask=%s name=%q", n.Handle, n.Mask, n.Name)
}

// Backend delivers raw filesystem notifications.
//
// Read is only ever called from a single goroutine. Add and Remove may be
// called from that same goroutine between reads.
type Backend interface {
	// Add starts watching path for the events in mask. Adding a path that
	// is already watched returns its existing handle.
	Add(path string, mask Mask) (Handle, error)
	// Remove stops a watch. Removing an unknown handle is not an error.
	Remove(h Handle) error
	// Read waits at most timeout for notifications. It returns an empty
	// slice when the timeout expires.
	Read(timeout time.Duration) ([]Notification, error)
	// Close releases the backend. Subsequent calls return [ErrClosed].
	Close() error
}

// NewBackend creates a [Backend] by name. See [AllBackends].
func NewBackend(name string, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch strings.ToLower(name) {
	case "", BackendAuto:
		b, err := NewInotifyBackend()
		if errors.Is(err, ErrUnsupported) {
			logger.Debug("inotify unavailable, using fsnotify")

			return newFsnotify()
		}

		if err != nil {
			return nil, err
		}

		return b, nil

	case BackendInotify:
		b, err := NewInotifyBackend()
		if err != nil {
			return nil, err
		}

		return b, nil

	case BackendFsnotify:
		return newFsnotify()
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
}

func newFsnotify() (Backend, error) {
	b, err := NewFsnotifyBackend()
	if err != nil {
		return nil, err
	}

	return b, nil
}
