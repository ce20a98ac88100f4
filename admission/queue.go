// Package admission implements the per-tenant call intake controller: a
// bounded priority queue fed by Submit and drained by a plan-sized worker
// pool, with retry and per-day metrics accounting around each handler run.
package admission

import (
	"container/heap"

	"github.com/goliatone/go-intake/core"
)

type queueItem struct {
	job core.CallJob
	// seq preserves FIFO order inside a priority class.
	seq uint64
}

type jobHeap []queueItem

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority < h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(queueItem)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = queueItem{}
	*h = old[:n-1]
	return item
}

// priorityQueue orders jobs by priority (lower first), FIFO within a class.
// Not safe for concurrent use; the controller serializes access.
type priorityQueue struct {
	heap jobHeap
	seq  uint64
}

func newPriorityQueue() *priorityQueue {
	pq := &priorityQueue{}
	heap.Init(&pq.heap)
	return pq
}

func (pq *priorityQueue) PushJob(job core.CallJob) {
	pq.seq++
	heap.Push(&pq.heap, queueItem{job: job, seq: pq.seq})
}

func (pq *priorityQueue) PopJob() (core.CallJob, bool) {
	if len(pq.heap) == 0 {
		return core.CallJob{}, false
	}
	item := heap.Pop(&pq.heap).(queueItem)
	return item.job, true
}

func (pq *priorityQueue) Len() int { return len(pq.heap) }
