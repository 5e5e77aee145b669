//go:build !linux

package watch

import (
	"time"
)

// InotifyBackend is only available on Linux.
type InotifyBackend struct{}

// NewInotifyBackend returns [ErrUnsupported].
func NewInotifyBackend() (*InotifyBackend, error) {
	return nil, ErrUnsupported
}

func (*InotifyBackend) Add(string, Mask) (Handle, error) {
	return 0, ErrUnsupported
}

func (*InotifyBackend) Remove(Handle) error {
	return ErrUnsupported
}

func (*InotifyBackend) Read(time.Duration) ([]Notification, error) {
	return nil, ErrUnsupported
}

func (*InotifyBackend) Close() error {
	return nil
}
