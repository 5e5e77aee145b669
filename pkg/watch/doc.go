// Package watch keeps a recursive set of filesystem watches below a root
// directory and turns raw notifications into [event.Event] values.
//
// The [Engine] owns the watch set. It registers a watch for every directory
// accepted by its directory predicate, follows directories as they are
// created, and drops watches the operating system invalidates. Completed
// writes to files accepted by the file predicate are published as
// [event.FileMatch].
//
// Notifications come from a [Backend]. The inotify backend is used on Linux;
// the fsnotify backend works everywhere fsnotify does and translates its
// events into the same masks.
package watch
