package gateway

import (
	"sync"

	"github.com/kartikbazzad/bunpub/internal/logger"
	"github.com/kartikbazzad/bunpub/internal/types"
)

// Event is one outbound SSE payload.
type Event struct {
	Type       string       `json:"type"`
	Collection string       `json:"collection,omitempty"`
	DocID      string       `json:"docId,omitempty"`
	Fields     types.Fields `json:"fields,omitempty"`
}

// sseConn adapts one SSE request to the livequery.Conn interface. Events are
// buffered towards the writer goroutine; a client slower than the buffer
// loses events rather than stalling the session.
type sseConn struct {
	events chan Event
	log    *logger.Logger

	mu      sync.Mutex
	stopFns []func()
	stopped bool
}

func newSSEConn(buffer int, log *logger.Logger) *sseConn {
	if buffer <= 0 {
		buffer = 64
	}
	return &sseConn{
		events: make(chan Event, buffer),
		log:    log,
	}
}

func (c *sseConn) Added(collection, id string, fields types.Fields) {
	c.push(Event{Type: "added", Collection: collection, DocID: id, Fields: fields})
}

func (c *sseConn) Changed(collection, id string, fields types.Fields) {
	c.push(Event{Type: "changed", Collection: collection, DocID: id, Fields: fields})
}

func (c *sseConn) Removed(collection, id string) {
	c.push(Event{Type: "removed", Collection: collection, DocID: id})
}

func (c *sseConn) Ready() {
	c.push(Event{Type: "ready"})
}

func (c *sseConn) OnStop(fn func()) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		fn()
		return
	}
	c.stopFns = append(c.stopFns, fn)
	c.mu.Unlock()
}

func (c *sseConn) push(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn("dropping %s event for slow subscriber", ev.Type)
	}
}

// stop fires the registered stop hooks once. The request handler calls it
// when the client goes away.
func (c *sseConn) stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	fns := c.stopFns
	c.stopFns = nil
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
