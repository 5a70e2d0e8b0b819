package livequery

import (
	"sync/atomic"

	"github.com/kartikbazzad/bunpub/internal/types"
)

// Serialize wraps a cursor so that observer callbacks are re-routed onto the
// runner instead of firing on the delivering goroutine. Fetch and Collection
// pass through. A nil cursor stays nil.
//
// Wrapped observers also gate on their own Stop: tasks already queued when an
// observer stops are discarded when they run, so a republished node never
// sees stale events from the observers it replaced.
func Serialize(c Cursor, r *Runner) Cursor {
	if c == nil {
		return nil
	}
	return &serialCursor{inner: c, runner: r}
}

type serialCursor struct {
	inner  Cursor
	runner *Runner
}

func (s *serialCursor) Collection() string {
	return s.inner.Collection()
}

func (s *serialCursor) Fetch() []types.Document {
	return s.inner.Fetch()
}

func (s *serialCursor) Observe(cb DocCallbacks) Observer {
	obs := &serialObserver{}
	wrapped := DocCallbacks{}
	if cb.Added != nil {
		wrapped.Added = func(doc types.Document) {
			s.runner.Enqueue(func() {
				if !obs.stopped.Load() {
					cb.Added(doc)
				}
			})
		}
	}
	if cb.Changed != nil {
		wrapped.Changed = func(doc types.Document) {
			s.runner.Enqueue(func() {
				if !obs.stopped.Load() {
					cb.Changed(doc)
				}
			})
		}
	}
	if cb.Removed != nil {
		wrapped.Removed = func(doc types.Document) {
			s.runner.Enqueue(func() {
				if !obs.stopped.Load() {
					cb.Removed(doc)
				}
			})
		}
	}
	obs.inner = s.inner.Observe(wrapped)
	return obs
}

func (s *serialCursor) ObserveChanges(cb ChangeCallbacks) Observer {
	obs := &serialObserver{}
	wrapped := ChangeCallbacks{}
	if cb.Changed != nil {
		wrapped.Changed = func(id string, fields types.Fields) {
			s.runner.Enqueue(func() {
				if !obs.stopped.Load() {
					cb.Changed(id, fields)
				}
			})
		}
	}
	obs.inner = s.inner.ObserveChanges(wrapped)
	return obs
}

type serialObserver struct {
	inner   Observer
	stopped atomic.Bool
}

func (o *serialObserver) Stop() {
	o.stopped.Store(true)
	o.inner.Stop()
}
