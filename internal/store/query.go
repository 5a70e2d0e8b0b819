package store

import (
	"reflect"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/kartikbazzad/bunpub/internal/livequery"
	"github.com/kartikbazzad/bunpub/internal/types"
)

// Selector decides whether a document belongs to a result set.
type Selector func(doc types.Document) bool

// All matches every document.
func All() Selector {
	return func(types.Document) bool { return true }
}

// ByID matches the single document with the given id.
func ByID(id string) Selector {
	return func(doc types.Document) bool { return doc.ID == id }
}

// Eq matches documents whose field equals value.
func Eq(field string, value interface{}) Selector {
	return func(doc types.Document) bool {
		return valueEqual(doc.Fields[field], value)
	}
}

// And matches documents all selectors match.
func And(sels ...Selector) Selector {
	return func(doc types.Document) bool {
		for _, sel := range sels {
			if !sel(doc) {
				return false
			}
		}
		return true
	}
}

// Where matches field op value, with op one of eq, neq, gt, gte, lt, lte.
// Ordering ops compare numbers numerically and strings lexically; mixed or
// non-comparable types never match. An unknown op never matches.
func Where(field, op string, value interface{}) Selector {
	return func(doc types.Document) bool {
		have := doc.Fields[field]
		switch op {
		case "eq":
			return valueEqual(have, value)
		case "neq":
			return !valueEqual(have, value)
		case "gt", "gte", "lt", "lte":
			cmp, ok := compareValues(have, value)
			if !ok {
				return false
			}
			switch op {
			case "gt":
				return cmp > 0
			case "gte":
				return cmp >= 0
			case "lt":
				return cmp < 0
			default:
				return cmp <= 0
			}
		default:
			return false
		}
	}
}

func valueEqual(a, b interface{}) bool {
	if na, ok := toFloat(a); ok {
		if nb, ok := toFloat(b); ok {
			return na == nb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func compareValues(a, b interface{}) (int, bool) {
	if na, ok := toFloat(a); ok {
		if nb, ok := toFloat(b); ok {
			switch {
			case na < nb:
				return -1, true
			case na > nb:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		return strings.Compare(sa, sb), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Cursor is a live view over one collection filtered by a selector. It
// implements livequery.Cursor.
type Cursor struct {
	coll *Collection
	sel  Selector
}

// Find returns a cursor over the collection.
func (c *Collection) Find(sel Selector) *Cursor {
	if sel == nil {
		sel = All()
	}
	return &Cursor{coll: c, sel: sel}
}

func (q *Cursor) Collection() string {
	return q.coll.name
}

// Fetch snapshots the current matching documents, ordered by id.
func (q *Cursor) Fetch() []types.Document {
	q.coll.store.mu.Lock()
	defer q.coll.store.mu.Unlock()

	var docs []types.Document
	for id, fields := range q.coll.docs {
		if q.sel(types.Document{ID: id, Fields: fields}) {
			docs = append(docs, types.Document{ID: id, Fields: fields.Clone()})
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}

// Observe registers for whole-document events occurring after registration.
// See the package comment for the callback contract.
func (q *Cursor) Observe(cb livequery.DocCallbacks) livequery.Observer {
	return q.coll.register(&observation{sel: q.sel, doc: cb})
}

// ObserveChanges registers for field-level change events.
func (q *Cursor) ObserveChanges(cb livequery.ChangeCallbacks) livequery.Observer {
	return q.coll.register(&observation{sel: q.sel, change: cb})
}

type observation struct {
	coll    *Collection
	sel     Selector
	doc     livequery.DocCallbacks
	change  livequery.ChangeCallbacks
	stopped atomic.Bool
}

func (c *Collection) register(obs *observation) *observation {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	obs.coll = c
	c.observers = append(c.observers, obs)
	return obs
}

// Stop removes the observation. Mutations that begin after Stop returns no
// longer see it, and dispatches already collected check the stopped flag
// before firing.
func (o *observation) Stop() {
	o.stopped.Store(true)
	c := o.coll
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	for i, reg := range c.observers {
		if reg == o {
			c.observers = append(c.observers[:i], c.observers[i+1:]...)
			return
		}
	}
}
