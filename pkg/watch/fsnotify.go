package watch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FsnotifyBackend is a portable [Backend] built on [fsnotify.Watcher].
//
// fsnotify reports operations rather than inotify masks, so they are
// translated:
//
//   - Create of a directory becomes [Create]|[IsDir].
//   - Create or Write of a file becomes [CloseWrite].
//   - Remove or Rename of a watched path becomes [Ignored], and the watch
//     is dropped.
//   - Remove or Rename of an unwatched entry becomes [Delete] or [MovedFrom].
//
// Identical notifications within a single Read are reported once.
type FsnotifyBackend struct {
	watcher *fsnotify.Watcher
	handles map[string]Handle
	paths   map[Handle]string
	next    Handle
	mu      sync.Mutex
	closed  bool
}

// NewFsnotifyBackend creates a new [FsnotifyBackend].
func NewFsnotifyBackend() (*FsnotifyBackend, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &FsnotifyBackend{
		watcher: w,
		handles: make(map[string]Handle),
		paths:   make(map[Handle]string),
	}, nil
}

// Add implements [Backend].
func (b *FsnotifyBackend) Add(path string, mask Mask) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}

	path = filepath.Clean(path)
	if h, ok := b.handles[path]; ok {
		return h, nil
	}

	if mask.Has(OnlyDir) {
		info, err := os.Stat(path)
		if err != nil {
			return 0, fmt.Errorf("stat %q: %w", path, err)
		}

		if !info.IsDir() {
			return 0, fmt.Errorf("%q: %w", path, fsnotify.ErrNonExistentWatch)
		}
	}

	err := b.watcher.Add(path)
	if err != nil {
		return 0, fmt.Errorf("fsnotify add %q: %w", path, err)
	}

	b.next++
	b.handles[path] = b.next
	b.paths[b.next] = path

	return b.next, nil
}

// Remove implements [Backend].
func (b *FsnotifyBackend) Remove(h Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	path, ok := b.paths[h]
	if !ok {
		return nil
	}

	b.forget(h, path)

	err := b.watcher.Remove(path)
	if err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return fmt.Errorf("fsnotify remove %q: %w", path, err)
	}

	return nil
}

func (b *FsnotifyBackend) forget(h Handle, path string) {
	delete(b.paths, h)
	delete(b.handles, path)
}

// Read implements [Backend].
func (b *FsnotifyBackend) Read(timeout time.Duration) ([]Notification, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var out []Notification

	// Block for the first event, then take whatever else is ready.
	select {
	case ev, ok := <-b.watcher.Events:
		if !ok {
			return nil, ErrClosed
		}

		out = b.translate(out, ev)

	case err, ok := <-b.watcher.Errors:
		if !ok {
			return nil, ErrClosed
		}

		return b.translateError(err)

	case <-timer.C:
		return nil, nil
	}

	for {
		select {
		case ev, ok := <-b.watcher.Events:
			if !ok {
				return out, nil
			}

			out = b.translate(out, ev)

		default:
			return out, nil
		}
	}
}

func (b *FsnotifyBackend) translateError(err error) ([]Notification, error) {
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		return []Notification{{Handle: -1, Mask: QOverflow}}, nil
	}

	return nil, fmt.Errorf("fsnotify: %w", err)
}

func (b *FsnotifyBackend) translate(out []Notification, ev fsnotify.Event) []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := filepath.Clean(ev.Name)
	self, watched := b.handles[path]
	parent, parentWatched := b.handles[filepath.Dir(path)]
	name := filepath.Base(path)

	add := func(n Notification) {
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}

	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		if watched {
			b.forget(self, path)

			// fsnotify keeps renamed watches, inotify would not.
			_ = b.watcher.Remove(path) //nolint:errcheck // Already gone for removals.

			add(Notification{Handle: self, Mask: Ignored})

			return out
		}

		if parentWatched {
			mask := Delete
			if ev.Has(fsnotify.Rename) {
				mask = MovedFrom
			}

			add(Notification{Handle: parent, Mask: mask, Name: name})
		}

	case ev.Has(fsnotify.Create):
		if !parentWatched {
			return out
		}

		info, err := os.Lstat(path)
		if err == nil && info.IsDir() {
			add(Notification{Handle: parent, Mask: Create | IsDir, Name: name})
		} else {
			add(Notification{Handle: parent, Mask: CloseWrite, Name: name})
		}

	case ev.Has(fsnotify.Write):
		switch {
		case parentWatched:
			add(Notification{Handle: parent, Mask: CloseWrite, Name: name})
		case watched:
			add(Notification{Handle: self, Mask: CloseWrite})
		}
	}

	return out
}

// Close implements [Backend].
func (b *FsnotifyBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true

	err := b.watcher.Close()
	if err != nil {
		return fmt.Errorf("close fsnotify watcher: %w", err)
	}

	return nil
}
