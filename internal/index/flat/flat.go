// Package flat implements exact brute-force k-nearest search over the
// active slice of a vector store.
package flat

import "container/heap"

// Result is one ranked hit.
type Result struct {
	ID       uint64
	Distance float32
}

// Source iterates the live vectors of a store in id order.
type Source interface {
	IterActive(fn func(id uint64, rec []byte) bool)
	ActiveCount() uint64
}

// DistanceFunc computes the distance between the query record and a
// stored record.
type DistanceFunc func(query, rec []byte) float32

// Index scans a storage buffer linearly, keeping a bounded k-best heap.
// Inserts are free: the store append is the insert.
type Index struct {
	src  Source
	dist DistanceFunc
}

// New creates a flat index over the source.
func New(src Source, dist DistanceFunc) *Index {
	return &Index{src: src, dist: dist}
}

// Search returns the k nearest live vectors in ascending distance, ties
// broken by lower id. k = 0 yields nil; k beyond the active count yields
// every live vector, sorted.
func (idx *Index) Search(query []byte, k int) []Result {
	return idx.SearchFiltered(query, k, nil)
}

// SearchFiltered is Search restricted to ids accepted by the predicate.
func (idx *Index) SearchFiltered(query []byte, k int, pred func(id uint64) bool) []Result {
	if k <= 0 {
		return nil
	}

	best := &resultHeap{}
	idx.src.IterActive(func(id uint64, rec []byte) bool {
		if pred != nil && !pred(id) {
			return true
		}
		r := Result{ID: id, Distance: idx.dist(query, rec)}
		if best.Len() < k {
			heap.Push(best, r)
		} else if worseThan(best.items[0], r) {
			best.items[0] = r
			heap.Fix(best, 0)
		}
		return true
	})

	out := make([]Result, best.Len())
	for i := best.Len() - 1; i >= 0; i-- {
		out[i] = heap.Pop(best).(Result)
	}
	return out
}

// worseThan orders results so that a is evicted in favour of b: larger
// distance first, higher id on ties.
func worseThan(a, b Result) bool {
	if a.Distance != b.Distance {
		return a.Distance > b.Distance
	}
	return a.ID > b.ID
}

// resultHeap is a bounded max-heap: the worst kept result sits at the
// root, ready for eviction.
type resultHeap struct {
	items []Result
}

func (h *resultHeap) Len() int           { return len(h.items) }
func (h *resultHeap) Less(i, j int) bool { return worseThan(h.items[i], h.items[j]) }
func (h *resultHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *resultHeap) Push(x any) {
	h.items = append(h.items, x.(Result))
}

func (h *resultHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}
