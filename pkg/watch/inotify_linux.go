//go:build linux

package watch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Size of struct inotify_event without the trailing name.
const inotifyEventSize = unix.SizeofInotifyEvent

// Room for 64 events with names up to NAME_MAX (255) bytes.
const inotifyBufferSize = 64 * (inotifyEventSize + 255 + 1)

// InotifyBackend is a [Backend] reading directly from an inotify instance.
type InotifyBackend struct {
	buf    []byte
	fd     int
	mu     sync.Mutex
	closed bool
}

// NewInotifyBackend creates a new [InotifyBackend].
func NewInotifyBackend() (*InotifyBackend, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("inotify init: %w", err)
	}

	return &InotifyBackend{
		fd:  fd,
		buf: make([]byte, inotifyBufferSize),
	}, nil
}

// Add implements [Backend].
func (b *InotifyBackend) Add(path string, mask Mask) (Handle, error) {
	fd, err := b.descriptor()
	if err != nil {
		return 0, err
	}

	wd, err := unix.InotifyAddWatch(fd, path, uint32(mask))
	if err != nil {
		return 0, fmt.Errorf("inotify add watch %q: %w", path, err)
	}

	return Handle(wd), nil
}

// Remove implements [Backend].
func (b *InotifyBackend) Remove(h Handle) error {
	fd, err := b.descriptor()
	if err != nil {
		return err
	}

	//nolint:gosec // G115: watch descriptors are non-negative.
	_, err = unix.InotifyRmWatch(fd, uint32(h))
	if errors.Is(err, unix.EINVAL) {
		// The kernel already dropped the watch.
		return nil
	}

	if err != nil {
		return fmt.Errorf("inotify rm watch %d: %w", h, err)
	}

	return nil
}

// Read implements [Backend].
func (b *InotifyBackend) Read(timeout time.Duration) ([]Notification, error) {
	fd, err := b.descriptor()
	if err != nil {
		return nil, err
	}

	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}} //nolint:gosec // G115: fd fits.

	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if errors.Is(err, unix.EINTR) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("inotify poll: %w", err)
	}

	if n == 0 {
		return nil, nil
	}

	if fds[0].Revents&unix.POLLNVAL != 0 {
		return nil, ErrClosed
	}

	size, err := unix.Read(fd, b.buf)
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
		return nil, nil
	}

	if errors.Is(err, unix.EBADF) {
		return nil, ErrClosed
	}

	if err != nil {
		return nil, fmt.Errorf("inotify read: %w", err)
	}

	return parseInotifyEvents(b.buf[:size]), nil
}

func parseInotifyEvents(buf []byte) []Notification {
	var out []Notification

	for off := 0; off+inotifyEventSize <= len(buf); {
		wd := int32(binary.NativeEndian.Uint32(buf[off:])) //nolint:gosec // G115: wd is an int32.
		mask := binary.NativeEndian.Uint32(buf[off+4:])
		nameLen := int(binary.NativeEndian.Uint32(buf[off+12:]))

		end := off + inotifyEventSize + nameLen
		if end > len(buf) {
			break
		}

		name := buf[off+inotifyEventSize : end]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}

		out = append(out, Notification{
			Handle: Handle(wd),
			Mask:   Mask(mask),
			Name:   string(name),
		})

		off = end
	}

	return out
}

// Close implements [Backend].
func (b *InotifyBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true

	err := unix.Close(b.fd)
	if err != nil {
		return fmt.Errorf("inotify close: %w", err)
	}

	return nil
}

func (b *InotifyBackend) descriptor() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return -1, ErrClosed
	}

	return b.fd, nil
}
