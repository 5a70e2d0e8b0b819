// Package store is an in-memory live document store implementing the
// livequery.Cursor interface. It is the reference query engine the gateway
// and the tests run the publication core against: collections of documents,
// selector-based cursors, and observer notification on every mutation. An
// optional sqlite file gives write-through persistence.
//
// Mutations hold a write lock across the mutation and its observer dispatch,
// so events reach observers in mutation order. The state lock is released
// before dispatch: a callback may block (a full session run queue
// backpressures the writer) without stalling readers or the run loop.
// Callbacks run on the mutating goroutine and must not mutate the store.
package store

import (
	"sort"
	"sync"

	"github.com/kartikbazzad/bunpub/internal/logger"
	"github.com/kartikbazzad/bunpub/internal/types"
)

type Store struct {
	// writeMu serializes mutation+dispatch pairs. mu guards the state maps
	// and is never held while observer callbacks run.
	writeMu sync.Mutex
	mu      sync.Mutex

	collections map[string]*Collection
	persist     *persister
	log         *logger.Logger
	closed      bool
}

// New creates a memory-only store.
func New(log *logger.Logger) *Store {
	return &Store{
		collections: make(map[string]*Collection),
		log:         log,
	}
}

// Open creates a store backed by a sqlite file. Existing documents are
// loaded at open; every mutation is written through before observers fire.
func Open(path string, log *logger.Logger) (*Store, error) {
	p, err := openPersister(path)
	if err != nil {
		return nil, err
	}
	s := New(log)
	s.persist = p

	loaded, err := p.loadAll()
	if err != nil {
		p.close()
		return nil, err
	}
	total := 0
	for name, docs := range loaded {
		s.Collection(name).docs = docs
		total += len(docs)
	}
	log.Info("store opened from %s (%d documents)", path, total)
	return s, nil
}

func (s *Store) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.persist != nil {
		return s.persist.close()
	}
	return nil
}

// Collection returns the named collection, creating it empty on first use.
func (s *Store) Collection(name string) *Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		c = &Collection{
			store: s,
			name:  name,
			docs:  make(map[string]types.Fields),
		}
		s.collections[name] = c
	}
	return c
}

// CollectionNames returns the known collection names, sorted.
func (s *Store) CollectionNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type Collection struct {
	store     *Store
	name      string
	docs      map[string]types.Fields
	observers []*observation
}

func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) Len() int {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return len(c.docs)
}

// Get returns a copy of the document.
func (c *Collection) Get(id string) (types.Document, bool) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	fields, ok := c.docs[id]
	if !ok {
		return types.Document{}, false
	}
	return types.Document{ID: id, Fields: fields.Clone()}, true
}

// dispatch is the observer work one mutation produced, collected under the
// state lock and run after it is released.
type dispatch []func()

func (d dispatch) run() {
	for _, fn := range d {
		fn()
	}
}

// Insert adds a new document and notifies matching observers.
func (c *Collection) Insert(id string, fields types.Fields) error {
	c.store.writeMu.Lock()
	defer c.store.writeMu.Unlock()

	c.store.mu.Lock()
	if c.store.closed {
		c.store.mu.Unlock()
		return types.ErrStoreClosed
	}
	if _, exists := c.docs[id]; exists {
		c.store.mu.Unlock()
		return types.ErrDocExists
	}
	stored := fields.Clone()
	if stored == nil {
		stored = types.Fields{}
	}
	if err := c.writeThrough(id, stored); err != nil {
		c.store.mu.Unlock()
		return err
	}
	c.docs[id] = stored
	fire := c.addedCallbacks(types.Document{ID: id, Fields: stored})
	c.store.mu.Unlock()

	fire.run()
	return nil
}

// Update replaces the document's fields wholesale. The field-level change
// set is the diff of old against new, with dropped fields reported as nil.
func (c *Collection) Update(id string, fields types.Fields) error {
	c.store.writeMu.Lock()
	defer c.store.writeMu.Unlock()

	c.store.mu.Lock()
	if c.store.closed {
		c.store.mu.Unlock()
		return types.ErrStoreClosed
	}
	old, exists := c.docs[id]
	if !exists {
		c.store.mu.Unlock()
		return types.ErrDocNotFound
	}
	stored := fields.Clone()
	if stored == nil {
		stored = types.Fields{}
	}
	if err := c.writeThrough(id, stored); err != nil {
		c.store.mu.Unlock()
		return err
	}
	c.docs[id] = stored
	fire := c.changedCallbacks(id, old, stored, diffFields(old, stored))
	c.store.mu.Unlock()

	fire.run()
	return nil
}

// Patch merges the supplied fields into the document. The field-level change
// set is exactly the supplied fields.
func (c *Collection) Patch(id string, fields types.Fields) error {
	c.store.writeMu.Lock()
	defer c.store.writeMu.Unlock()

	c.store.mu.Lock()
	if c.store.closed {
		c.store.mu.Unlock()
		return types.ErrStoreClosed
	}
	old, exists := c.docs[id]
	if !exists {
		c.store.mu.Unlock()
		return types.ErrDocNotFound
	}
	merged := old.Clone()
	for name, value := range fields {
		merged[name] = value
	}
	if err := c.writeThrough(id, merged); err != nil {
		c.store.mu.Unlock()
		return err
	}
	c.docs[id] = merged
	fire := c.changedCallbacks(id, old, merged, fields.Clone())
	c.store.mu.Unlock()

	fire.run()
	return nil
}

// Delete removes the document and notifies matching observers.
func (c *Collection) Delete(id string) error {
	c.store.writeMu.Lock()
	defer c.store.writeMu.Unlock()

	c.store.mu.Lock()
	if c.store.closed {
		c.store.mu.Unlock()
		return types.ErrStoreClosed
	}
	old, exists := c.docs[id]
	if !exists {
		c.store.mu.Unlock()
		return types.ErrDocNotFound
	}
	if c.store.persist != nil {
		if err := c.store.persist.delete(c.name, id); err != nil {
			c.store.mu.Unlock()
			return err
		}
	}
	delete(c.docs, id)
	fire := c.removedCallbacks(types.Document{ID: id, Fields: old})
	c.store.mu.Unlock()

	fire.run()
	return nil
}

// addedCallbacks collects the deliveries for a fresh document. Called with
// the state lock held; the callbacks run without it, each checking the
// observation's stopped flag at fire time.
func (c *Collection) addedCallbacks(doc types.Document) dispatch {
	var d dispatch
	for _, obs := range c.observers {
		if obs.doc.Added != nil && obs.sel(doc) {
			d = append(d, func() {
				if !obs.stopped.Load() {
					obs.doc.Added(doc.Clone())
				}
			})
		}
	}
	return d
}

func (c *Collection) removedCallbacks(doc types.Document) dispatch {
	var d dispatch
	for _, obs := range c.observers {
		if obs.doc.Removed != nil && obs.sel(doc) {
			d = append(d, func() {
				if !obs.stopped.Load() {
					obs.doc.Removed(doc.Clone())
				}
			})
		}
	}
	return d
}

// changedCallbacks routes an old->new transition to each observer according
// to how the document moved relative to the observer's selector.
func (c *Collection) changedCallbacks(id string, old, updated, changed types.Fields) dispatch {
	newDoc := types.Document{ID: id, Fields: updated}
	oldDoc := types.Document{ID: id, Fields: old}

	var d dispatch
	for _, obs := range c.observers {
		oldMatch := obs.sel(oldDoc)
		newMatch := obs.sel(newDoc)
		switch {
		case oldMatch && newMatch:
			if obs.doc.Changed != nil {
				d = append(d, func() {
					if !obs.stopped.Load() {
						obs.doc.Changed(newDoc.Clone())
					}
				})
			}
			if obs.change.Changed != nil {
				d = append(d, func() {
					if !obs.stopped.Load() {
						obs.change.Changed(id, changed.Clone())
					}
				})
			}
		case !oldMatch && newMatch:
			if obs.doc.Added != nil {
				d = append(d, func() {
					if !obs.stopped.Load() {
						obs.doc.Added(newDoc.Clone())
					}
				})
			}
		case oldMatch && !newMatch:
			if obs.doc.Removed != nil {
				d = append(d, func() {
					if !obs.stopped.Load() {
						obs.doc.Removed(oldDoc.Clone())
					}
				})
			}
		}
	}
	return d
}

func (c *Collection) writeThrough(id string, fields types.Fields) error {
	if c.store.persist == nil {
		return nil
	}
	return c.store.persist.upsert(c.name, id, fields)
}

// diffFields returns the fields of updated that differ from old, plus nil
// entries for fields of old that updated dropped.
func diffFields(old, updated types.Fields) types.Fields {
	changed := types.Fields{}
	for name, value := range updated {
		if !valueEqual(old[name], value) {
			changed[name] = value
		}
	}
	for name := range old {
		if _, kept := updated[name]; !kept {
			changed[name] = nil
		}
	}
	return changed
}
