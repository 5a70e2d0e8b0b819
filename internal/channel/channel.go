// Package channel implements the dedup and diff layer between a publication
// tree and the client channel. It owns the per-subscription refcounter and
// the per-document record of the fields last sent, so the tree above it can
// report the same document through any number of paths without the client
// ever seeing a duplicate add or a premature remove.
package channel

import (
	"reflect"

	"github.com/kartikbazzad/bunpub/internal/livequery"
	"github.com/kartikbazzad/bunpub/internal/logger"
	"github.com/kartikbazzad/bunpub/internal/metrics"
	"github.com/kartikbazzad/bunpub/internal/refcount"
	"github.com/kartikbazzad/bunpub/internal/types"
)

// Channel is not safe for concurrent use; all calls happen on the owning
// session's run loop.
type Channel struct {
	conn    livequery.Conn
	refs    *refcount.Counter
	hashes  map[types.DocKey]types.Fields
	metrics *metrics.Collector
	log     *logger.Logger
}

func New(conn livequery.Conn, m *metrics.Collector, log *logger.Logger) *Channel {
	ch := &Channel{
		conn:    conn,
		hashes:  make(map[types.DocKey]types.Fields),
		metrics: m,
		log:     log,
	}
	ch.refs = refcount.New(ch.onRefChange)
	return ch
}

// onRefChange fires on every decrement. Reaching zero means no publication
// path claims the document anymore, which is the one place a removal is
// forwarded to the client.
func (ch *Channel) onRefChange(collection, id string, count int) {
	if count > 0 {
		return
	}
	delete(ch.hashes, types.DocKey{Collection: collection, ID: id})
	ch.log.Debug("removed %s/%s (refcount zero)", collection, id)
	ch.conn.Removed(collection, id)
	ch.record("removed", true)
}

// Added claims one path for the document, then forwards it downstream unless
// the client already holds an identical copy. A re-add with different fields
// is forwarded as an added with the full document, overwriting the hash.
func (ch *Channel) Added(collection string, doc types.Document) {
	ch.refs.Increment(collection, doc.ID)

	key := types.DocKey{Collection: collection, ID: doc.ID}
	prev, known := ch.hashes[key]
	if known && reflect.DeepEqual(prev, doc.Fields) {
		ch.record("added", false)
		return
	}
	ch.hashes[key] = doc.Fields.Clone()
	ch.conn.Added(collection, doc.ID, doc.Fields.Clone())
	ch.record("added", true)
}

// Changed forwards only when at least one supplied field differs by value
// from the stored hash. On forward the supplied fields are merged into the
// hash and exactly the supplied fields (not the merged superset) go
// downstream.
func (ch *Channel) Changed(collection, id string, fields types.Fields) {
	key := types.DocKey{Collection: collection, ID: id}
	hash := ch.hashes[key]

	differs := false
	for name, value := range fields {
		if !reflect.DeepEqual(hash[name], value) {
			differs = true
			break
		}
	}
	if !differs {
		ch.record("changed", false)
		return
	}

	merged := hash.Clone()
	if merged == nil {
		merged = types.Fields{}
	}
	for name, value := range fields {
		merged[name] = value
	}
	ch.hashes[key] = merged
	ch.conn.Changed(collection, id, fields.Clone())
	ch.record("changed", true)
}

// Replace reconciles the client's copy with the full document: fields that
// differ go downstream as a change, and fields the client holds that the
// document no longer carries are cleared with nil values. The stored hash
// becomes exactly the document's fields. Replace carries no refcount claim;
// it is the re-add path for a document the caller already publishes, where a
// plain Changed could never clear a dropped field.
func (ch *Channel) Replace(collection string, doc types.Document) {
	key := types.DocKey{Collection: collection, ID: doc.ID}
	hash := ch.hashes[key]

	diff := types.Fields{}
	for name, value := range doc.Fields {
		if !reflect.DeepEqual(hash[name], value) {
			diff[name] = value
		}
	}
	for name := range hash {
		if _, kept := doc.Fields[name]; !kept {
			diff[name] = nil
		}
	}
	if len(diff) == 0 {
		ch.record("changed", false)
		return
	}
	ch.hashes[key] = doc.Fields.Clone()
	ch.conn.Changed(collection, doc.ID, diff)
	ch.record("changed", true)
}

// Removed releases one path. The client-visible removal, if any, happens in
// onRefChange once the count reaches zero.
func (ch *Channel) Removed(collection, id string) {
	ch.refs.Decrement(collection, id)
}

// Tracks reports whether the client currently holds the document.
func (ch *Channel) Tracks(collection, id string) bool {
	_, ok := ch.hashes[types.DocKey{Collection: collection, ID: id}]
	return ok
}

// Len returns the number of documents the client currently holds.
func (ch *Channel) Len() int {
	return len(ch.hashes)
}

// Close forces every still-tracked document to zero and reports it removed.
// Called at subscription stop after the tree has been torn down; anything
// left here is residual skew and is logged as such.
func (ch *Channel) Close() {
	if len(ch.hashes) > 0 {
		ch.log.Warn("closing channel with %d documents still tracked", len(ch.hashes))
	}
	for key := range ch.hashes {
		ch.conn.Removed(key.Collection, key.ID)
		ch.record("removed", true)
	}
	ch.hashes = make(map[types.DocKey]types.Fields)
	ch.refs.Reset()
}

func (ch *Channel) record(kind string, forwarded bool) {
	if ch.metrics == nil {
		return
	}
	if forwarded {
		ch.metrics.RecordForwarded(kind)
	} else {
		ch.metrics.RecordSuppressed(kind)
	}
}
