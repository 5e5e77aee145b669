// Package event defines filesystem change events and a synchronous
// publish/subscribe dispatcher for them.
package event

import (
	"context"
	"fmt"
	"time"
)

// Kind identifies the type of an [Event].
type Kind int

const (
	// FileMatch is published when a file accepted by the file filter has
	// been written.
	FileMatch Kind = iota
	// FileGone is published when a watched path was deleted, moved away or
	// unmounted.
	FileGone
)

func (k Kind) String() string {
	switch k {
	case FileMatch:
		return "FILE_MATCH"
	case FileGone:
		return "FILE_GONE"
	}

	return fmt.Sprintf("Kind(%d)", int(k))
}

// Event is a single change observed by the watch engine.
type Event struct {
	Time time.Time
	// Path is the absolute path of the file.
	Path string
	// Rel is Path relative to the watched root.
	Rel  string
	Kind Kind
}

// New creates a new [Event] timestamped with the current time.
func New(kind Kind, path, rel string) Event {
	return Event{
		Kind: kind,
		Path: path,
		Rel:  rel,
		Time: time.Now(),
	}
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s", e.Kind, e.Rel)
}

// Handler receives events from a [Dispatcher].
type Handler interface {
	Handle(ctx context.Context, ev Event)
}

// HandlerFunc adapts a function to the [Handler] interface.
type HandlerFunc func(ctx context.Context, ev Event)

// Handle calls f(ctx, ev).
func (f HandlerFunc) Handle(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// Chan returns a [Handler] that forwards events to ch. It blocks until the
// event is received or ctx is done.
func Chan(ch chan<- Event) Handler {
	return HandlerFunc(func(ctx context.Context, ev Event) {
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	})
}
