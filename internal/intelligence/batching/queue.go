package batching

import (
	"container/heap"
	"time"

	"github.com/turtacn/LexExtract/internal/intelligence/common"
)

// ---------------------------------------------------------------------------
// Priority queue (min-heap by Priority, then sequence)
// ---------------------------------------------------------------------------

type pqItem struct {
	req       *common.ExtractionRequest
	seq       int64
	heapIndex int
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].req.Priority != pq[j].req.Priority {
		return pq[i].req.Priority < pq[j].req.Priority
	}
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].heapIndex = i
	pq[j].heapIndex = j
}

func (pq *priorityQueue) Push(x any) {
	item := x.(*pqItem)
	item.heapIndex = len(*pq)
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.heapIndex = -1
	*pq = old[:n-1]
	return item
}

// ---------------------------------------------------------------------------
// tierQueue
// ---------------------------------------------------------------------------

// tierQueue holds the pending requests of one tier.  Requests leave in
// priority order and FIFO within a priority; requests pushed to the front
// precede every request of the same priority already queued.  Not safe for
// concurrent use; the owning tier's lock guards it.
type tierQueue struct {
	items    priorityQueue
	backSeq  int64
	frontSeq int64
}

func newTierQueue() *tierQueue {
	return &tierQueue{}
}

func (q *tierQueue) Len() int { return q.items.Len() }

// PushBack appends req behind every queued request of the same priority.
func (q *tierQueue) PushBack(req *common.ExtractionRequest) {
	q.backSeq++
	heap.Push(&q.items, &pqItem{req: req, seq: q.backSeq})
}

// PushFront puts reqs ahead of every queued request of the same priority,
// keeping their relative order.
func (q *tierQueue) PushFront(reqs []*common.ExtractionRequest) {
	n := int64(len(reqs))
	for i, r := range reqs {
		heap.Push(&q.items, &pqItem{req: r, seq: q.frontSeq - n + int64(i)})
	}
	q.frontSeq -= n
}

// PopN removes and returns up to n requests in service order.
func (q *tierQueue) PopN(n int) []*common.ExtractionRequest {
	if n > q.items.Len() {
		n = q.items.Len()
	}
	if n <= 0 {
		return nil
	}
	out := make([]*common.ExtractionRequest, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, heap.Pop(&q.items).(*pqItem).req)
	}
	return out
}

// OldestAge is the time since the earliest EnqueuedAt among queued requests.
func (q *tierQueue) OldestAge(now time.Time) time.Duration {
	var oldest time.Time
	for _, it := range q.items {
		if oldest.IsZero() || it.req.EnqueuedAt.Before(oldest) {
			oldest = it.req.EnqueuedAt
		}
	}
	if oldest.IsZero() {
		return 0
	}
	return now.Sub(oldest)
}

// MaxAttempts is the highest Attempts value among queued requests.
func (q *tierQueue) MaxAttempts() int {
	max := 0
	for _, it := range q.items {
		if it.req.Attempts > max {
			max = it.req.Attempts
		}
	}
	return max
}
