package event

import (
	"context"
	"log/slog"
	"slices"
)

// Subscription is returned by [Dispatcher.Subscribe] and identifies a single
// subscription for [Dispatcher.Unsubscribe].
type Subscription struct {
	handler Handler
	id      uint64
	kind    Kind
}

// Kind returns the event kind the subscription listens for.
func (s Subscription) Kind() Kind {
	return s.kind
}

// Dispatcher delivers events to subscribed handlers.
//
// Handlers run synchronously on the goroutine calling [Dispatcher.Notify],
// in the order they subscribed. The dispatcher assumes a single writer:
// subscribing or unsubscribing while a Notify call is in flight is not safe.
type Dispatcher struct {
	logger *slog.Logger
	subs   map[Kind][]Subscription
	nextID uint64
}

// NewDispatcher creates a new [Dispatcher].
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		logger: logger,
		subs:   make(map[Kind][]Subscription),
	}
}

// Subscribe registers h for events of the given kind.
func (d *Dispatcher) Subscribe(kind Kind, h Handler) Subscription {
	d.nextID++

	sub := Subscription{id: d.nextID, kind: kind, handler: h}
	d.subs[kind] = append(d.subs[kind], sub)

	return sub
}

// Unsubscribe removes a subscription. Removing a subscription that is not
// registered is a no-op.
func (d *Dispatcher) Unsubscribe(sub Subscription) {
	d.subs[sub.kind] = slices.DeleteFunc(d.subs[sub.kind], func(s Subscription) bool {
		return s.id == sub.id
	})
}

// Notify delivers ev to every handler subscribed to its kind.
func (d *Dispatcher) Notify(ctx context.Context, ev Event) {
	subs := d.subs[ev.Kind]

	d.logger.DebugContext(ctx, "dispatch event",
		slog.String("kind", ev.Kind.String()),
		slog.String("path", ev.Rel),
		slog.Int("subscribers", len(subs)),
	)

	for _, s := range subs {
		s.handler.Handle(ctx, ev)
	}
}

// Subscribers returns the number of handlers subscribed to kind.
func (d *Dispatcher) Subscribers(kind Kind) int {
	return len(d.subs[kind])
}
