package livequery

import (
	"testing"
	"time"

	"github.com/kartikbazzad/bunpub/internal/types"
)

func TestRunnerPreservesOrder(t *testing.T) {
	r := NewRunner(16)

	var got []int
	for i := 0; i < 10; i++ {
		i := i
		r.Enqueue(func() { got = append(got, i) })
	}
	r.Stop()
	r.Run()

	if len(got) != 10 {
		t.Fatalf("ran %d tasks, want 10", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task order = %v", got)
		}
	}
}

func TestRunnerDrainsOnStop(t *testing.T) {
	r := NewRunner(16)
	done := make(chan struct{})
	go func() {
		r.Run()
		close(done)
	}()

	ran := make(chan struct{})
	r.Enqueue(func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}

	r.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run loop never returned after stop")
	}
	select {
	case <-r.Done():
	default:
		t.Error("Done not closed after Run returned")
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	r := NewRunner(4)
	r.Stop()
	if r.Enqueue(func() {}) {
		t.Error("enqueue after stop should report false")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	r := NewRunner(4)
	r.Stop()
	r.Stop()
}

// stubCursor is the smallest cursor that lets us drive wrapped callbacks by
// hand.
type stubCursor struct {
	docCB    DocCallbacks
	changeCB ChangeCallbacks
}

type stubObserver struct{ stopped bool }

func (o *stubObserver) Stop() { o.stopped = true }

func (s *stubCursor) Collection() string { return "stub" }

func (s *stubCursor) Fetch() []types.Document { return nil }

func (s *stubCursor) Observe(cb DocCallbacks) Observer {
	s.docCB = cb
	return &stubObserver{}
}

func (s *stubCursor) ObserveChanges(cb ChangeCallbacks) Observer {
	s.changeCB = cb
	return &stubObserver{}
}

func TestSerializeNilCursor(t *testing.T) {
	if Serialize(nil, NewRunner(4)) != nil {
		t.Error("serializing a nil cursor must stay nil")
	}
}

func TestSerializeReroutesOntoRunner(t *testing.T) {
	r := NewRunner(16)
	stub := &stubCursor{}
	cur := Serialize(stub, r)

	var got []string
	cur.Observe(DocCallbacks{
		Added:   func(doc types.Document) { got = append(got, "added "+doc.ID) },
		Removed: func(doc types.Document) { got = append(got, "removed "+doc.ID) },
	})

	// Deliveries from the engine side land on the queue, not inline.
	stub.docCB.Added(types.Document{ID: "a"})
	stub.docCB.Removed(types.Document{ID: "a"})
	if len(got) != 0 {
		t.Fatalf("callbacks ran inline: %v", got)
	}

	r.Stop()
	r.Run()
	want := []string{"added a", "removed a"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("delivered = %v, want %v", got, want)
	}
}

func TestStoppedObserverDiscardsQueuedEvents(t *testing.T) {
	r := NewRunner(16)
	stub := &stubCursor{}
	cur := Serialize(stub, r)

	ran := 0
	obs := cur.Observe(DocCallbacks{
		Added: func(types.Document) { ran++ },
	})

	// Event queued while the observer was live, observer stopped before the
	// loop processes it: the task must be discarded when it runs.
	stub.docCB.Added(types.Document{ID: "a"})
	obs.Stop()

	r.Stop()
	r.Run()
	if ran != 0 {
		t.Errorf("stale event delivered after observer stop (ran=%d)", ran)
	}
}

func TestSerializeFieldChanges(t *testing.T) {
	r := NewRunner(16)
	stub := &stubCursor{}
	cur := Serialize(stub, r)

	var gotID string
	cur.ObserveChanges(ChangeCallbacks{
		Changed: func(id string, fields types.Fields) { gotID = id },
	})
	stub.changeCB.Changed("p1", types.Fields{"x": 1})

	r.Stop()
	r.Run()
	if gotID != "p1" {
		t.Errorf("field change not delivered, got %q", gotID)
	}
}
