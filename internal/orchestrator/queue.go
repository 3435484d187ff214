package orchestrator

import (
	"sync"

	"github.com/lexiqai/indextts-gateway/internal/core"
)

// jobQueue is a FIFO of waiting jobs. A positive limit bounds the number of
// waiting jobs; the job held by the worker does not count against it.
type jobQueue struct {
	mu     sync.Mutex
	items  []*job
	limit  int
	closed bool
	notify chan struct{}
}

func newJobQueue(limit int) *jobQueue {
	return &jobQueue{limit: limit, notify: make(chan struct{}, 1)}
}

func (q *jobQueue) push(j *job) error {
	q.mu.Lock()
	switch {
	case q.closed:
		q.mu.Unlock()
		return core.ResourceUnavailable("synthesis service is shutting down")
	case q.limit > 0 && len(q.items) >= q.limit:
		q.mu.Unlock()
		return core.ResourceUnavailable("synthesis queue is full")
	}
	q.items = append(q.items, j)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// pop blocks until a job is available or stop is closed
func (q *jobQueue) pop(stop <-chan struct{}) (*job, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			j := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()
			return j, true
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-stop:
			return nil, false
		}
	}
}

// close rejects further pushes and returns the jobs still waiting
func (q *jobQueue) close() []*job {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	rest := q.items
	q.items = nil
	return rest
}

func (q *jobQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
