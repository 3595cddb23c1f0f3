package chround

import "container/heap"

// HeightQueue buffers values for heights the kernel has not reached.
// Values pop in height order, FIFO within a height.
type HeightQueue[T any] struct {
	items heightHeap[T]
	seq   uint64
	max   int
}

// NewHeightQueue returns a queue holding at most max values.
func NewHeightQueue[T any](max int) *HeightQueue[T] {
	q := &HeightQueue[T]{max: max}
	heap.Init(&q.items)
	return q
}

// Push adds v for height and reports whether v was kept.
// A full queue evicts its newest value at the farthest height to make room,
// unless height is at least that far, in which case v is refused.
func (q *HeightQueue[T]) Push(height uint64, v T) bool {
	if q.max <= 0 {
		return false
	}
	if len(q.items) >= q.max {
		worst := q.farthest()
		if height >= q.items[worst].height {
			return false
		}
		heap.Remove(&q.items, worst)
	}
	q.seq++
	heap.Push(&q.items, heightItem[T]{height: height, seq: q.seq, val: v})
	return true
}

// PopThrough removes and returns every value at or below height,
// lowest height first.
func (q *HeightQueue[T]) PopThrough(height uint64) []T {
	var out []T
	for len(q.items) > 0 && q.items[0].height <= height {
		out = append(out, heap.Pop(&q.items).(heightItem[T]).val)
	}
	return out
}

// farthest returns the index of the item that pops last.
// Only leaves can hold it, and they occupy the back half of the heap.
func (q *HeightQueue[T]) farthest() int {
	best := len(q.items) / 2
	for i := best + 1; i < len(q.items); i++ {
		if q.items.Less(best, i) {
			best = i
		}
	}
	return best
}

func (q *HeightQueue[T]) Len() int {
	return len(q.items)
}

type heightItem[T any] struct {
	height uint64
	seq    uint64
	val    T
}

// heightHeap implements heap.Interface.
type heightHeap[T any] []heightItem[T]

func (h heightHeap[T]) Len() int { return len(h) }

func (h heightHeap[T]) Less(i, j int) bool {
	if h[i].height != h[j].height {
		return h[i].height < h[j].height
	}
	return h[i].seq < h[j].seq
}

func (h heightHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *heightHeap[T]) Push(x any) {
	*h = append(*h, x.(heightItem[T]))
}

func (h *heightHeap[T]) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}
