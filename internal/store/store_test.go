package store

import (
	"errors"
	"io"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/kartikbazzad/bunpub/internal/livequery"
	"github.com/kartikbazzad/bunpub/internal/logger"
	"github.com/kartikbazzad/bunpub/internal/types"
)

func testStore() *Store {
	return New(logger.New(io.Discard, logger.LevelError, "[test]"))
}

type recorded struct {
	kind   string
	id     string
	fields types.Fields
}

func recordDocs(events *[]recorded) livequery.DocCallbacks {
	return livequery.DocCallbacks{
		Added: func(doc types.Document) {
			*events = append(*events, recorded{"added", doc.ID, doc.Fields})
		},
		Changed: func(doc types.Document) {
			*events = append(*events, recorded{"changed", doc.ID, doc.Fields})
		},
		Removed: func(doc types.Document) {
			*events = append(*events, recorded{"removed", doc.ID, doc.Fields})
		},
	}
}

func TestInsertGetDelete(t *testing.T) {
	s := testStore()
	defer s.Close()
	posts := s.Collection("posts")

	if err := posts.Insert("p1", types.Fields{"title": "one"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := posts.Insert("p1", nil); !errors.Is(err, types.ErrDocExists) {
		t.Errorf("duplicate insert error = %v, want ErrDocExists", err)
	}

	doc, ok := posts.Get("p1")
	if !ok || doc.Fields["title"] != "one" {
		t.Errorf("get = %+v, %v", doc, ok)
	}

	if err := posts.Delete("p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := posts.Delete("p1"); !errors.Is(err, types.ErrDocNotFound) {
		t.Errorf("delete missing error = %v, want ErrDocNotFound", err)
	}
}

func TestObserveSelectorTransitions(t *testing.T) {
	s := testStore()
	defer s.Close()
	posts := s.Collection("posts")

	var events []recorded
	cur := posts.Find(Eq("state", "open"))
	obs := cur.Observe(recordDocs(&events))
	defer obs.Stop()

	posts.Insert("p1", types.Fields{"state": "open"})   // added
	posts.Insert("p2", types.Fields{"state": "closed"}) // no event
	posts.Patch("p1", types.Fields{"score": 1})         // changed (still matches)
	posts.Patch("p2", types.Fields{"state": "open"})    // added (enters set)
	posts.Patch("p1", types.Fields{"state": "closed"})  // removed (leaves set)
	posts.Delete("p2")                                  // removed

	want := []struct {
		kind string
		id   string
	}{
		{"added", "p1"},
		{"changed", "p1"},
		{"added", "p2"},
		{"removed", "p1"},
		{"removed", "p2"},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events %v, want %d", len(events), events, len(want))
	}
	for i, w := range want {
		if events[i].kind != w.kind || events[i].id != w.id {
			t.Errorf("event %d = %s %s, want %s %s", i, events[i].kind, events[i].id, w.kind, w.id)
		}
	}
}

func TestObserveChangesFieldSets(t *testing.T) {
	s := testStore()
	defer s.Close()
	posts := s.Collection("posts")
	posts.Insert("p1", types.Fields{"title": "one", "score": 1})

	var gotID string
	var gotFields types.Fields
	obs := posts.Find(nil).ObserveChanges(livequery.ChangeCallbacks{
		Changed: func(id string, fields types.Fields) {
			gotID = id
			gotFields = fields
		},
	})
	defer obs.Stop()

	// Patch reports exactly the supplied fields.
	posts.Patch("p1", types.Fields{"score": 2})
	if gotID != "p1" || !reflect.DeepEqual(gotFields, types.Fields{"score": 2}) {
		t.Errorf("patch change set = %v, want {score: 2}", gotFields)
	}

	// Update reports the diff, including dropped fields as nil.
	posts.Update("p1", types.Fields{"title": "two"})
	want := types.Fields{"title": "two", "score": nil}
	if !reflect.DeepEqual(gotFields, want) {
		t.Errorf("update change set = %v, want %v", gotFields, want)
	}
}

func TestFetchIsSortedAndCloned(t *testing.T) {
	s := testStore()
	defer s.Close()
	posts := s.Collection("posts")
	posts.Insert("b", types.Fields{"n": 2})
	posts.Insert("a", types.Fields{"n": 1})
	posts.Insert("c", types.Fields{"n": 3})

	docs := posts.Find(nil).Fetch()
	if len(docs) != 3 || docs[0].ID != "a" || docs[1].ID != "b" || docs[2].ID != "c" {
		t.Fatalf("fetch order = %v", docs)
	}

	// Mutating a fetched doc must not touch the store.
	docs[0].Fields["n"] = 99
	doc, _ := posts.Get("a")
	if doc.Fields["n"] != 1 {
		t.Error("fetch returned aliased fields")
	}
}

func TestObserverStopIsFinal(t *testing.T) {
	s := testStore()
	defer s.Close()
	posts := s.Collection("posts")

	events := 0
	obs := posts.Find(nil).Observe(livequery.DocCallbacks{
		Added: func(types.Document) { events++ },
	})

	posts.Insert("p1", nil)
	obs.Stop()
	posts.Insert("p2", nil)

	if events != 1 {
		t.Errorf("events after stop = %d, want 1", events)
	}
}

func TestWhereOperators(t *testing.T) {
	cases := []struct {
		op    string
		value interface{}
		doc   types.Fields
		want  bool
	}{
		{"eq", "x", types.Fields{"f": "x"}, true},
		{"eq", 3, types.Fields{"f": 3.0}, true}, // numeric coercion
		{"neq", "x", types.Fields{"f": "y"}, true},
		{"gt", 2, types.Fields{"f": 3}, true},
		{"gt", 3, types.Fields{"f": 3}, false},
		{"gte", 3, types.Fields{"f": 3}, true},
		{"lt", "b", types.Fields{"f": "a"}, true},
		{"lte", "a", types.Fields{"f": "a"}, true},
		{"gt", 2, types.Fields{"f": "not a number"}, false},
		{"bogus", 1, types.Fields{"f": 1}, false},
	}
	for _, tc := range cases {
		sel := Where("f", tc.op, tc.value)
		if got := sel(types.Document{ID: "d", Fields: tc.doc}); got != tc.want {
			t.Errorf("Where(f, %s, %v) on %v = %v, want %v", tc.op, tc.value, tc.doc, got, tc.want)
		}
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bunpub.db")
	log := logger.New(io.Discard, logger.LevelError, "[test]")

	s, err := Open(path, log)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	posts := s.Collection("posts")
	if err := posts.Insert("p1", types.Fields{"title": "one", "score": float64(3)}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := posts.Insert("p2", types.Fields{"title": "two"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := posts.Patch("p1", types.Fields{"title": "one!"}); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if err := posts.Delete("p2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path, log)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	posts = reopened.Collection("posts")
	if got := posts.Len(); got != 1 {
		t.Fatalf("reopened collection has %d docs, want 1", got)
	}
	doc, ok := posts.Get("p1")
	if !ok {
		t.Fatal("p1 missing after reopen")
	}
	if doc.Fields["title"] != "one!" || doc.Fields["score"] != float64(3) {
		t.Errorf("reopened fields = %v", doc.Fields)
	}
}

// A writer whose dispatch is backpressured by a full run queue must not be
// holding the state lock: reads (as the run loop itself does inside Fetch)
// have to keep flowing while the writer waits for the queue to drain.
func TestBackpressuredWriterDoesNotBlockReads(t *testing.T) {
	s := testStore()
	defer s.Close()
	posts := s.Collection("posts")

	r := livequery.NewRunner(1)
	cur := livequery.Serialize(posts.Find(nil), r)
	obs := cur.Observe(livequery.DocCallbacks{Added: func(types.Document) {}})
	defer obs.Stop()

	go r.Run()
	defer r.Stop()

	// Stall the run loop so queued events back up.
	release := make(chan struct{})
	r.Enqueue(func() { <-release })

	// The first insert's event fills the queue; the second insert blocks in
	// its dispatch until the queue drains.
	wrote := make(chan struct{})
	go func() {
		posts.Insert("p1", types.Fields{"n": 1})
		posts.Insert("p2", types.Fields{"n": 2})
		close(wrote)
	}()
	time.Sleep(20 * time.Millisecond)

	fetched := make(chan int, 1)
	go func() { fetched <- len(posts.Find(nil).Fetch()) }()
	select {
	case <-fetched:
	case <-time.After(2 * time.Second):
		t.Fatal("Fetch blocked behind a backpressured writer")
	}

	close(release)
	select {
	case <-wrote:
	case <-time.After(2 * time.Second):
		t.Fatal("writer never finished after the queue drained")
	}
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	s := testStore()
	s.Close()
	if err := s.Collection("posts").Insert("p1", nil); !errors.Is(err, types.ErrStoreClosed) {
		t.Errorf("insert on closed store = %v, want ErrStoreClosed", err)
	}
}
