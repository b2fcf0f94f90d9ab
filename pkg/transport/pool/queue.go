package pool

import (
	"container/heap"
	"sync"

	"github.com/nostalgiatan/bey-sub000/pkg/beyerr"
)

// request is a queued acquire() call waiting for a connection to addr.
type request struct {
	addr     string
	priority byte
	seq      uint64
	result   chan acquireResult
}

type acquireResult struct {
	conn *entry
	err  error
}

// requestHeap orders requests priority-descending, then FIFO (lower seq
// first) for equal priority, per spec.md §4.D "dequeue is priority-
// descending then FIFO".
type requestHeap []*request

func (h requestHeap) Len() int { return len(h) }
func (h requestHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h requestHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *requestHeap) Push(x interface{}) { *h = append(*h, x.(*request)) }
func (h *requestHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// requestQueue is the bounded, priority-ordered wait list for acquire()
// calls that could neither reuse nor create a connection immediately.
type requestQueue struct {
	mu      sync.Mutex
	items   requestHeap
	maxSize int
	nextSeq uint64
}

func newRequestQueue(maxSize int) *requestQueue {
	return &requestQueue{maxSize: maxSize}
}

// enqueue adds req, returning a typed error (never blocking) if the queue
// is already at max_request_queue, per spec.md §5 "Backpressure".
func (q *requestQueue) enqueue(addr string, priority byte) (*request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.maxSize {
		return nil, beyerr.Validation(beyerr.CodePoolBase+1, "request queue full")
	}
	req := &request{addr: addr, priority: priority, seq: q.nextSeq, result: make(chan acquireResult, 1)}
	q.nextSeq++
	heap.Push(&q.items, req)
	return req, nil
}

// dequeueFor pops the highest-priority request waiting on addr, if any.
func (q *requestQueue) dequeueFor(addr string) *request {
	q.mu.Lock()
	defer q.mu.Unlock()
	best := -1
	for i, r := range q.items {
		if r.addr == addr && (best < 0 || q.items.Less(i, best)) {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	r := q.items[best]
	heap.Remove(&q.items, best)
	return r
}

// cancel removes req from the queue, e.g. after its caller's context expired.
// A no-op if req was already dequeued.
func (q *requestQueue) cancel(req *request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, r := range q.items {
		if r == req {
			heap.Remove(&q.items, i)
			return
		}
	}
}

func (q *requestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
