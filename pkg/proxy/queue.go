package proxy

import "sync"

// requestQueue is an unbounded multi-producer, single-consumer FIFO. The
// consumer blocks on ready() instead of polling.
type requestQueue struct {
	mu    sync.Mutex
	items []Request
	head  int
	ready chan struct{}
}

func newRequestQueue() *requestQueue {
	return &requestQueue{ready: make(chan struct{}, 1)}
}

func (q *requestQueue) push(req Request) {
	q.mu.Lock()
	q.items = append(q.items, req)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *requestQueue) pop() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.items) {
		return Request{}, false
	}
	req := q.items[q.head]
	q.items[q.head] = Request{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return req, true
}

// signal fires at least once after every push.
func (q *requestQueue) signal() <-chan struct{} {
	return q.ready
}

func (q *requestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// responseQueue is an unbounded single-producer, multi-consumer FIFO.
// Results are popped one at a time so a panicking callback only loses its
// own result.
type responseQueue struct {
	mu    sync.Mutex
	items []Result
	head  int
}

func (q *responseQueue) push(res Result) {
	q.mu.Lock()
	q.items = append(q.items, res)
	q.mu.Unlock()
}

func (q *responseQueue) pop() (Result, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.items) {
		return Result{}, false
	}
	res := q.items[q.head]
	q.items[q.head] = Result{}
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return res, true
}

func (q *responseQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
