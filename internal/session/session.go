// Package session glues one client connection to one publication tree: it
// owns the run queue that serializes all events for the subscription, the
// output channel, and the root node, and wires teardown to the connection's
// stop hook.
package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/kartikbazzad/bunpub/internal/channel"
	"github.com/kartikbazzad/bunpub/internal/livequery"
	"github.com/kartikbazzad/bunpub/internal/logger"
	"github.com/kartikbazzad/bunpub/internal/metrics"
	"github.com/kartikbazzad/bunpub/internal/publish"
)

type Session struct {
	id      string
	conn    livequery.Conn
	runner  *livequery.Runner
	ch      *channel.Channel
	root    *publish.Node
	metrics *metrics.Collector
	log     *logger.Logger

	stopOnce sync.Once
}

// New builds a session for one subscription. The publication tree is wrapped
// so every cursor it resolves delivers through the session's run queue;
// args are the subscription arguments bound to the root query. Run must be
// called for the session to make progress.
func New(conn livequery.Conn, pub *publish.Publication, args []interface{}, m *metrics.Collector, log *logger.Logger) *Session {
	return NewWithDepth(conn, pub, args, m, log, 0)
}

// NewWithDepth is New with an explicit run queue depth (0 = default).
func NewWithDepth(conn livequery.Conn, pub *publish.Publication, args []interface{}, m *metrics.Collector, log *logger.Logger, queueDepth int) *Session {
	s := &Session{
		id:      uuid.NewString(),
		conn:    conn,
		runner:  livequery.NewRunner(queueDepth),
		metrics: m,
	}
	s.log = log.With("session " + s.id[:8])
	s.ch = channel.New(conn, m, s.log)
	s.root = publish.NewNode(s.ch, s.wrap(pub), args, s.log)
	conn.OnStop(s.Stop)
	return s
}

func (s *Session) ID() string {
	return s.id
}

// Run publishes the root, signals ready, and then processes cursor events
// until Stop. It blocks; callers run it on its own goroutine or a worker
// pool.
func (s *Session) Run() {
	if s.metrics != nil {
		s.metrics.RecordSessionStart()
	}
	s.runner.Enqueue(func() {
		if err := s.root.Publish(); err != nil {
			s.log.Error("root publish: %v", err)
		}
		s.conn.Ready()
		s.log.Info("ready (%d documents)", s.ch.Len())
	})
	s.runner.Run()
	if s.metrics != nil {
		s.metrics.RecordSessionStop()
	}
	s.log.Info("session ended")
}

// Stop tears the subscription down: the tree is unpublished on the run loop
// (so the client sees a removal for every remaining document), the channel
// closed, and the loop drained. Stop is idempotent and blocks until teardown
// completes. It must not be called from the run loop itself.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.runner.Enqueue(func() {
			s.root.Unpublish()
			s.ch.Close()
		})
		s.runner.Stop()
		<-s.runner.Done()
	})
}

// wrap clones the publication tree, serializing every resolved cursor onto
// the session's run queue. The core below assumes single threaded delivery;
// this is the one place that assumption is established.
func (s *Session) wrap(pub *publish.Publication) *publish.Publication {
	if pub == nil {
		return nil
	}
	find := pub.Find
	wrapped := &publish.Publication{
		Find: func(args ...interface{}) (livequery.Cursor, error) {
			cur, err := find(args...)
			if err != nil {
				return nil, err
			}
			return livequery.Serialize(cur, s.runner), nil
		},
	}
	for _, child := range pub.Children {
		wrapped.Children = append(wrapped.Children, s.wrap(child))
	}
	return wrapped
}
