package dsroq

import (
	"container/heap"
	"sync"

	"github.com/signalsfoundry/leo-admission/model"
)

// PendingQueue orders user requests for processing: highest priority first,
// ties broken by arrival time and then by insertion order.
type PendingQueue struct {
	mu  sync.Mutex
	h   requestHeap
	seq uint64
}

// NewPendingQueue returns an empty queue.
func NewPendingQueue() *PendingQueue {
	return &PendingQueue{}
}

// Push enqueues a request. Nil requests are ignored.
func (q *PendingQueue) Push(req *model.UserRequest) {
	if req == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	heap.Push(&q.h, pendingItem{req: req, seq: q.seq})
}

// Pop dequeues the highest priority request, reporting false when empty.
func (q *PendingQueue) Pop() (*model.UserRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return nil, false
	}
	item := heap.Pop(&q.h).(pendingItem)
	return item.req, true
}

// Len returns the number of queued requests.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

type pendingItem struct {
	req *model.UserRequest
	seq uint64
}

type requestHeap []pendingItem

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.req.Priority != b.req.Priority {
		return a.req.Priority > b.req.Priority
	}
	if a.req.Timestamp != b.req.Timestamp {
		return a.req.Timestamp < b.req.Timestamp
	}
	return a.seq < b.seq
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x any) { *h = append(*h, x.(pendingItem)) }

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
