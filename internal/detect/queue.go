package detect

import (
	"container/heap"
	"sort"

	"github.com/therealutkarshpriyadarshi/logtriage/pkg/types"
)

type queued struct {
	Scored
	seq int
}

// lowest score first; among equal scores the latest arrival is evicted first
type minHeap []queued

func (h minHeap) Len() int { return len(h) }
func (h minHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].seq > h[j].seq
}
func (h minHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)   { *h = append(*h, x.(queued)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue keeps the highest scoring entries seen, bounded to a fixed capacity.
// Items returns the same order Rank would give over all pushed entries,
// truncated to the capacity.
type Queue struct {
	capacity int
	items    minHeap
	seen     int
}

// NewQueue creates a queue holding at most capacity entries. A capacity of 0
// keeps nothing.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{capacity: capacity}
}

// Push offers an entry to the queue
func (q *Queue) Push(entry types.LogEntry, elevate string) {
	q.offer(queued{
		Scored: Scored{Entry: entry, Score: Score(entry), Elevate: elevate},
		seq:    q.seen,
	})
	q.seen++
}

func (q *Queue) offer(item queued) {
	if q.capacity == 0 {
		return
	}
	if len(q.items) < q.capacity {
		heap.Push(&q.items, item)
		return
	}
	// Replace the weakest item only when the newcomer outranks it
	weakest := q.items[0]
	if item.Score > weakest.Score || (item.Score == weakest.Score && item.seq < weakest.seq) {
		q.items[0] = item
		heap.Fix(&q.items, 0)
	}
}

// Merge offers another queue's items as if they arrived after this queue's
func (q *Queue) Merge(other *Queue) {
	if other == nil {
		return
	}
	for _, item := range other.items {
		item.seq += q.seen
		q.offer(item)
	}
	q.seen += other.seen
}

// Len returns the number of queued entries
func (q *Queue) Len() int {
	return len(q.items)
}

// Items returns the queued entries by descending score, ties in arrival order
func (q *Queue) Items() []Scored {
	sorted := make([]queued, len(q.items))
	copy(sorted, q.items)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].seq < sorted[j].seq
	})

	out := make([]Scored, len(sorted))
	for i, item := range sorted {
		out[i] = item.Scored
	}
	return out
}
