package radius

import (
	"container/heap"
	"time"
)

// Less implements the request priority comparator (§4.5): status checks
// always win; among non-status requests, a larger Priority wins; ties
// break on an earlier RecvTime. This is a total order over
// {status_check, priority, recv_time} (§8).
func requestLess(a, b *ProtocolRequest) bool {
	if a.IsStatusCheck != b.IsStatusCheck {
		return a.IsStatusCheck
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.RecvTime.Before(b.RecvTime)
}

// pendingQueue is a priority queue of *ProtocolRequest ordered by
// requestLess, backed by container/heap — the idiomatic stdlib choice;
// no corpus repo reaches for a third-party priority-queue library, so a
// hand-rolled container here is the justified exception (see DESIGN.md).
type pendingQueue struct {
	items []*ProtocolRequest
}

func newPendingQueue() *pendingQueue {
	q := &pendingQueue{}
	heap.Init(q)
	return q
}

func (q *pendingQueue) Len() int { return len(q.items) }

func (q *pendingQueue) Less(i, j int) bool {
	return requestLess(q.items[i], q.items[j])
}

func (q *pendingQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].heapIndex = i
	q.items[j].heapIndex = j
}

func (q *pendingQueue) Push(x any) {
	req := x.(*ProtocolRequest)
	req.heapIndex = len(q.items)
	q.items = append(q.items, req)
}

func (q *pendingQueue) Pop() any {
	old := q.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.heapIndex = -1
	q.items = old[:n-1]
	return item
}

// Enqueue adds req to the queue, preserving the priority order.
func (q *pendingQueue) Enqueue(req *ProtocolRequest, now time.Time) {
	if req.RecvTime.IsZero() {
		req.RecvTime = now
	}
	heap.Push(q, req)
}

// PopHighest removes and returns the highest-priority request, or nil if
// the queue is empty.
func (q *pendingQueue) PopHighest() *ProtocolRequest {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(*ProtocolRequest)
}

// Remove removes req from the queue if present (used by cancellation,
// §5). No-op if req is not currently in this queue.
func (q *pendingQueue) Remove(req *ProtocolRequest) {
	if req.heapIndex < 0 || req.heapIndex >= len(q.items) || q.items[req.heapIndex] != req {
		return
	}
	heap.Remove(q, req.heapIndex)
}

func (q *pendingQueue) Peek() *ProtocolRequest {
	if q.Len() == 0 {
		return nil
	}
	return q.items[0]
}
