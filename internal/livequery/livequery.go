// Package livequery defines the two boundaries of the publication engine: the
// live query cursor it consumes and the client channel it produces to. The
// engine behind Cursor does the actual query execution and change detection;
// the engine behind Conn does the actual wire delivery. Neither is implemented
// here.
package livequery

import "github.com/kartikbazzad/bunpub/internal/types"

// Cursor is a live result set. Observe and ObserveChanges register for events
// that occur after registration; the current snapshot is read with Fetch.
// Callback delivery must be serialized per subscription (see Runner).
type Cursor interface {
	// Collection returns the collection this cursor draws from.
	Collection() string

	// Fetch returns the current matching documents in a deterministic order.
	Fetch() []types.Document

	// Observe registers for whole-document events. Added and Removed carry the
	// full document; Changed carries the full new document.
	Observe(cb DocCallbacks) Observer

	// ObserveChanges registers for field-level change events carrying only the
	// fields that changed.
	ObserveChanges(cb ChangeCallbacks) Observer
}

// Observer is a handle on a registered observation. Stop is final; a stopped
// observer never fires again.
type Observer interface {
	Stop()
}

type DocCallbacks struct {
	Added   func(doc types.Document)
	Changed func(newDoc types.Document)
	Removed func(doc types.Document)
}

type ChangeCallbacks struct {
	Changed func(id string, fields types.Fields)
}

// FindFunc resolves bound arguments to a live cursor. Returning a nil cursor
// with a nil error declines the query for these arguments; the publication
// node stays inert. An error is logged by the caller and likewise leaves the
// node inert.
type FindFunc func(args ...interface{}) (Cursor, error)

// Conn is the outbound client channel for one subscription.
type Conn interface {
	Added(collection, id string, fields types.Fields)
	Changed(collection, id string, fields types.Fields)
	Removed(collection, id string)

	// Ready signals that the initial document set has been delivered.
	Ready()

	// OnStop registers a hook invoked when the connection ends. The session
	// registers its teardown here.
	OnStop(fn func())
}
