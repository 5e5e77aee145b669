// Package group routes filesystem events to the command groups that want
// them.
package group

import (
	"context"
	"log/slog"

	"github.com/macropower/fsradar/pkg/event"
	"github.com/macropower/fsradar/pkg/expr"
	"github.com/macropower/fsradar/pkg/rule"
	"github.com/macropower/fsradar/pkg/scheduler"
)

// Group is a named command together with the paths that trigger it.
type Group struct {
	Filter  *rule.Filter
	// When is an optional condition evaluated after Filter accepts a path.
	When    *expr.Condition
	Name    string
	Command string
	Options scheduler.Options
}

// Accepts reports whether ev should trigger the group's command.
func (g *Group) Accepts(ev event.Event) bool {
	if g.Filter == nil || !g.Filter.Match(ev.Rel) {
		return false
	}

	return g.When == nil || g.When.Match(ev)
}

// Submitter accepts parameters for a command. It is implemented by
// [scheduler.Scheduler].
type Submitter interface {
	Submit(param string)
}

type route struct {
	group     *Group
	submitter Submitter
}

// Router forwards events to every group that accepts them.
//
// A single path may be submitted to more than one group. Routes are
// evaluated in the order they were added.
type Router struct {
	logger *slog.Logger
	routes []route
}

// NewRouter creates a new, empty [Router].
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{logger: logger}
}

// Add appends a route for g. Parameters accepted by g are submitted to s.
func (r *Router) Add(g *Group, s Submitter) {
	r.routes = append(r.routes, route{group: g, submitter: s})
}

// Len returns the number of routes.
func (r *Router) Len() int {
	return len(r.routes)
}

// Handle implements [event.Handler]. The event's root-relative path is the
// parameter submitted to each accepting group.
func (r *Router) Handle(ctx context.Context, ev event.Event) {
	matched := 0

	for _, rt := range r.routes {
		if !rt.group.Accepts(ev) {
			continue
		}

		matched++

		r.logger.DebugContext(ctx, "route event",
			slog.String("group", rt.group.Name),
			slog.String("path", ev.Rel),
			slog.String("kind", ev.Kind.String()),
		)
		rt.submitter.Submit(ev.Rel)
	}

	if matched == 0 {
		r.logger.DebugContext(ctx, "no group accepted event", slog.String("path", ev.Rel))
	}
}

// Subscribe registers the router with d for each of kinds.
func (r *Router) Subscribe(d *event.Dispatcher, kinds ...event.Kind) []event.Subscription {
	subs := make([]event.Subscription, 0, len(kinds))
	for _, kind := range kinds {
		subs = append(subs, d.Subscribe(kind, r))
	}

	return subs
}
