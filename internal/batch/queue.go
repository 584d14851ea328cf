package batch

import (
	"errors"
	"sync"
)

var (
	errQueueEmpty = errors.New("queue empty")
	// errAtCapacity is backpressure, not a failure: the head was put back
	// and the caller should retry after a short delay.
	errAtCapacity = errors.New("queue at processing capacity")
)

// Queue is a mutex-guarded FIFO of pages that also bounds how many dequeued
// pages may be in flight at once.
type Queue struct {
	mu       sync.Mutex
	items    []*Page
	limit    int
	inFlight int
}

// NewQueue returns a queue admitting at most limit in-flight pages. A limit
// below one admits a single page.
func NewQueue(limit int) *Queue {
	if limit < 1 {
		limit = 1
	}
	return &Queue{limit: limit}
}

// Push appends p at the tail.
func (q *Queue) Push(p *Page) {
	q.mu.Lock()
	q.items = append(q.items, p)
	q.mu.Unlock()
}

// PushFront puts p back at the head.
func (q *Queue) PushFront(p *Page) {
	q.mu.Lock()
	q.pushFront(p)
	q.mu.Unlock()
}

func (q *Queue) pushFront(p *Page) {
	q.items = append(q.items, nil)
	copy(q.items[1:], q.items)
	q.items[0] = p
}

// Dequeue pops the head and counts it as in flight. When admitting it would
// exceed the limit the page is returned to the head and errAtCapacity is
// reported.
func (q *Queue) Dequeue() (*Page, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, errQueueEmpty
	}
	p := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]

	if q.inFlight+1 > q.limit {
		q.pushFront(p)
		return nil, errAtCapacity
	}
	q.inFlight++
	return p, nil
}

// Done marks one in-flight page as finished.
func (q *Queue) Done() {
	q.mu.Lock()
	if q.inFlight > 0 {
		q.inFlight--
	}
	q.mu.Unlock()
}

// Remove drops the queued page with the given id.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, p := range q.items {
		if p.ID() == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Drain empties the queue and returns what was queued.
func (q *Queue) Drain() []*Page {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}
