package session

import (
	"sync"

	"github.com/kartikbazzad/bunpub/internal/publish"
	"github.com/kartikbazzad/bunpub/internal/types"
)

// Registry holds named composite publications. Registration happens at
// startup; lookups happen per subscription.
type Registry struct {
	mu   sync.RWMutex
	pubs map[string]*publish.Publication
}

func NewRegistry() *Registry {
	return &Registry{pubs: make(map[string]*publish.Publication)}
}

// Publish registers a named publication, replacing any previous one under
// the same name.
func (r *Registry) Publish(name string, pub *publish.Publication) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pubs[name] = pub
}

// Get returns the named publication.
func (r *Registry) Get(name string) (*publish.Publication, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pub, ok := r.pubs[name]
	if !ok {
		return nil, types.ErrNoPublication
	}
	return pub, nil
}

// Names returns the registered publication names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pubs))
	for name := range r.pubs {
		names = append(names, name)
	}
	return names
}
