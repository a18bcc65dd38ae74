package scheduler

import (
	"container/heap"

	"github.com/metascan/crawler/internal/crawl"
)

// readyQueue orders dispatchable tasks by priority (higher first), then by
// scheduled time (earlier first), then by submission sequence. All methods
// must be called with the scheduler mutex held.
type readyQueue struct {
	items readyHeap
}

func newReadyQueue() *readyQueue {
	q := &readyQueue{}
	heap.Init(&q.items)
	return q
}

func (q *readyQueue) Push(t *crawl.Task) {
	heap.Push(&q.items, t)
}

func (q *readyQueue) Pop() *crawl.Task {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(&q.items).(*crawl.Task)
}

func (q *readyQueue) Len() int {
	return len(q.items)
}

type readyHeap []*crawl.Task

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}
	return a.Seq < b.Seq
}

func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *readyHeap) Push(x any) { *h = append(*h, x.(*crawl.Task)) }

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// delayQueue orders requeued tasks by the time they become due. Retried
// tasks sit here until their backoff elapses, then move to the ready queue.
type delayQueue struct {
	items delayHeap
}

func newDelayQueue() *delayQueue {
	q := &delayQueue{}
	heap.Init(&q.items)
	return q
}

func (q *delayQueue) Push(t *crawl.Task) {
	heap.Push(&q.items, t)
}

func (q *delayQueue) Pop() *crawl.Task {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(&q.items).(*crawl.Task)
}

// Peek returns the earliest-due task without removing it.
func (q *delayQueue) Peek() *crawl.Task {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

func (q *delayQueue) Len() int {
	return len(q.items)
}

type delayHeap []*crawl.Task

func (h delayHeap) Len() int { return len(h) }

func (h delayHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}
	return a.Seq < b.Seq
}

func (h delayHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *delayHeap) Push(x any) { *h = append(*h, x.(*crawl.Task)) }

func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
