package forwarder

import (
	"container/heap"
	"sync"
)

// Proposer is a validator that could propose in an upcoming round.
type Proposer struct {
	// Address of the producer's public key.
	Address []byte

	Height uint64
	Round  uint32

	Priority int // Lower number = higher priority
}

// priorityQueue is a thread-safe priority queue of proposers.
type priorityQueue struct {
	mu    sync.RWMutex
	items proposerHeap
}

func newPriorityQueue() *priorityQueue {
	pq := &priorityQueue{
		items: make(proposerHeap, 0),
	}
	heap.Init(&pq.items)
	return pq
}

// Update replaces the entire queue with new proposers.
func (pq *priorityQueue) Update(proposers []Proposer) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	pq.items = pq.items[:0]
	for _, p := range proposers {
		heap.Push(&pq.items, p)
	}
}

// GetAll returns all proposers in priority order.
func (pq *priorityQueue) GetAll() []Proposer {
	pq.mu.RLock()
	tmp := make(proposerHeap, len(pq.items))
	copy(tmp, pq.items)
	pq.mu.RUnlock()

	out := make([]Proposer, 0, len(tmp))
	for tmp.Len() > 0 {
		out = append(out, heap.Pop(&tmp).(Proposer))
	}
	return out
}

// Head returns the highest priority proposer.
func (pq *priorityQueue) Head() (Proposer, bool) {
	pq.mu.RLock()
	defer pq.mu.RUnlock()

	if len(pq.items) == 0 {
		return Proposer{}, false
	}
	return pq.items[0], true
}

type proposerHeap []Proposer

func (h proposerHeap) Len() int { return len(h) }

func (h proposerHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	if h[i].Height != h[j].Height {
		return h[i].Height < h[j].Height
	}
	return h[i].Round < h[j].Round
}

func (h proposerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *proposerHeap) Push(x any) {
	*h = append(*h, x.(Proposer))
}

func (h *proposerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}
