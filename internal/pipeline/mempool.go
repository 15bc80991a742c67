package pipeline

import (
	"sync"

	"github.com/aiqnetlab/qnet-node/internal/qnerr"
)

// Queue is a bounded in-memory mempool: the "configured" backpressure
// queue named in §5 ("bounded queues for ... mempool submissions ...
// overflow triggers load-shed with a typed error"). It satisfies the
// Mempool interface Producer depends on.
type Queue struct {
	mu      sync.Mutex
	items   []Transfer
	maxSize int
}

// NewQueue creates a bounded queue of capacity maxSize.
func NewQueue(maxSize int) *Queue {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Queue{maxSize: maxSize}
}

// Submit enqueues a transfer, implementing the `submit_transaction` ingress
// RPC's backing store. Returns QueueFull once capacity is reached.
func (q *Queue) Submit(t Transfer) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.maxSize {
		return qnerr.New(qnerr.QueueFull, "mempool is at capacity")
	}
	q.items = append(q.items, t)
	return nil
}

// Drain removes and returns up to max queued transfers, FIFO.
func (q *Queue) Drain(max int) []Transfer {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max <= 0 || max > len(q.items) {
		max = len(q.items)
	}
	out := q.items[:max]
	q.items = q.items[max:]
	return out
}

// Len reports the number of currently queued transfers.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
