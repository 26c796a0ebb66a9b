package job

import (
	"context"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fluxcd/ecs-bluegreen/pkg/deploy"
)

type ID string

// ErrStopped is returned by Enqueue once the queue has been stopped.
var ErrStopped = errors.New("job queue stopped")

// JobFunc does the work. The context is cancelled when the worker
// is shutting down.
type JobFunc func(context.Context, log.Logger) error

// Job is a unit of work for the pipeline worker. RunID is the run it
// advances, so the queue can tell whether a run already has work
// pending.
type Job struct {
	ID    ID
	RunID deploy.RunID
	Do    JobFunc
}

// Queue is an unbounded FIFO of jobs. Enqueue never waits for a
// consumer; jobs are taken from the channel returned by Ready. With
// a single consumer, at most one job runs at a time.
type Queue struct {
	ready    chan *Job
	incoming chan *Job
	sync     chan struct{}
	done     chan struct{}

	mu      sync.Mutex
	waiting []*Job
}

func NewQueue(stop <-chan struct{}, wg *sync.WaitGroup) *Queue {
	q := &Queue{
		ready:    make(chan *Job),
		incoming: make(chan *Job),
		sync:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	wg.Add(1)
	go q.loop(stop, wg)
	return q
}

// Len may lag a concurrent Enqueue or receive from Ready.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// Enqueue hands a job to the queue's loop. It blocks only until the
// loop accepts it, never on a consumer, and returns ErrStopped if the
// loop has exited.
func (q *Queue) Enqueue(j *Job) error {
	select {
	case q.incoming <- j:
		return nil
	case <-q.done:
		return ErrStopped
	}
}

// Ready is where jobs are dequeued. A job just received may still be
// seen by ForEach, briefly.
func (q *Queue) Ready() <-chan *Job {
	return q.ready
}

// ForEach calls fn with each waiting job, in order, stopping early
// if fn returns false.
func (q *Queue) ForEach(fn func(int, *Job) bool) {
	q.mu.Lock()
	jobs := append([]*Job(nil), q.waiting...)
	q.mu.Unlock()
	for i, j := range jobs {
		if !fn(i, j) {
			return
		}
	}
}

// Pending reports whether a job for the run is waiting.
func (q *Queue) Pending(id deploy.RunID) bool {
	var found bool
	q.ForEach(func(_ int, j *Job) bool {
		found = j.RunID == id
		return !found
	})
	return found
}

// Sync returns once the loop has handled everything sent to it
// before the call. Only meaningful when one goroutine both enqueues
// and inspects, as tests do.
func (q *Queue) Sync() {
	select {
	case q.sync <- struct{}{}:
	case <-q.done:
	}
}

func (q *Queue) loop(stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(q.done)
	for {
		// A nil channel never sends, so nothing is offered while the
		// queue is empty.
		var out chan *Job
		head := q.head()
		if head != nil {
			out = q.ready
		}

		select {
		case <-stop:
			return
		case <-q.sync:
		case in := <-q.incoming:
			q.mu.Lock()
			q.waiting = append(q.waiting, in)
			q.mu.Unlock()
		case out <- head:
			q.mu.Lock()
			q.waiting = q.waiting[1:]
			q.mu.Unlock()
		}
	}
}

func (q *Queue) head() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.waiting) > 0 {
		return q.waiting[0]
	}
	return nil
}
