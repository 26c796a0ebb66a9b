package job

import (
	"sync"
	"testing"
	"time"
)

func TestQueue(t *testing.T) {
	shutdown := make(chan struct{})
	wg := &sync.WaitGroup{}
	defer close(shutdown)
	q := NewQueue(shutdown, wg)
	if q.Len() != 0 {
		t.Errorf("Fresh queue has length %d (!= 0)", q.Len())
	}

	select {
	case <-q.Ready():
		t.Error("Value from q.Ready before any values enqueued")
	default:
	}

	if err := q.Enqueue(&Job{ID: "job 1", RunID: "run-a"}); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(&Job{ID: "job 2", RunID: "run-b"}); err != nil {
		t.Fatal(err)
	}
	q.Sync()
	if q.Len() != 2 {
		t.Errorf("Queue has length %d (!= 2) after enqueuing two items (and sync)", q.Len())
	}
	if !q.Pending("run-b") || q.Pending("run-c") {
		t.Error("Pending does not reflect the waiting jobs")
	}

	// First in, first out.
	j := <-q.Ready()
	if j.ID != "job 1" {
		t.Errorf("Dequeued odd job: %#v", j)
	}
	j = <-q.Ready()
	if j.ID != "job 2" {
		t.Errorf("Dequeued odd job: %#v", j)
	}
	q.Sync()
	if q.Len() != 0 {
		t.Errorf("Queue has length %d (!= 0) after dequeuing every item (and sync)", q.Len())
	}
	if q.Pending("run-b") {
		t.Error("run-b still pending after its job was dequeued")
	}

	select {
	case j = <-q.Ready():
		t.Errorf("Dequeued from empty queue: %#v", j)
	default:
	}
}

func TestQueue_ForEachStops(t *testing.T) {
	shutdown := make(chan struct{})
	wg := &sync.WaitGroup{}
	defer close(shutdown)
	q := NewQueue(shutdown, wg)
	for _, id := range []ID{"a", "b", "c"} {
		if err := q.Enqueue(&Job{ID: id}); err != nil {
			t.Fatal(err)
		}
	}
	q.Sync()

	var seen []ID
	q.ForEach(func(i int, j *Job) bool {
		seen = append(seen, j.ID)
		return i < 1
	})
	if len(seen) != 2 || seen[0] != "a" || seen[1] != "b" {
		t.Errorf("ForEach visited %v, expected [a b]", seen)
	}
}

func TestQueue_EnqueueAfterStop(t *testing.T) {
	shutdown := make(chan struct{})
	wg := &sync.WaitGroup{}
	q := NewQueue(shutdown, wg)
	close(shutdown)
	wg.Wait()

	done := make(chan error)
	go func() {
		done <- q.Enqueue(&Job{ID: "late"})
	}()
	select {
	case err := <-done:
		if err != ErrStopped {
			t.Errorf("Enqueue after stop returned %v, expected ErrStopped", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked after the queue stopped")
	}
	q.Sync()
}
