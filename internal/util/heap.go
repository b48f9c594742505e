// Package util provides the candidate heaps shared by the index
// implementations and the checked byte-reinterpretation helpers.
package util

import "container/heap"

// Candidate is a graph node under consideration during a beam search.
type Candidate struct {
	ID       uint32
	Distance float32
}

// candidateLess orders candidates by distance, breaking ties toward the
// lower node index so result order is deterministic.
func candidateLess(a, b *Candidate) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.ID < b.ID
}

// MinHeap is a min-heap of candidates ordered by distance.
type MinHeap struct {
	candidates []*Candidate
}

// NewMinHeap creates a min-heap with capacity for size candidates.
func NewMinHeap(size int) *MinHeap {
	return &MinHeap{candidates: make([]*Candidate, 0, size)}
}

func (h *MinHeap) Len() int { return len(h.candidates) }

func (h *MinHeap) Less(i, j int) bool {
	return candidateLess(h.candidates[i], h.candidates[j])
}

func (h *MinHeap) Swap(i, j int) {
	h.candidates[i], h.candidates[j] = h.candidates[j], h.candidates[i]
}

func (h *MinHeap) Push(x any) {
	h.candidates = append(h.candidates, x.(*Candidate))
}

func (h *MinHeap) Pop() any {
	old := h.candidates
	n := len(old)
	item := old[n-1]
	h.candidates = old[:n-1]
	return item
}

// PushCandidate adds a candidate to the heap.
func (h *MinHeap) PushCandidate(c *Candidate) {
	heap.Push(h, c)
}

// PopCandidate removes and returns the nearest candidate.
func (h *MinHeap) PopCandidate() *Candidate {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*Candidate)
}

// Top returns the nearest candidate without removing it.
func (h *MinHeap) Top() *Candidate {
	if h.Len() == 0 {
		return nil
	}
	return h.candidates[0]
}

// MaxHeap is a max-heap of candidates ordered by distance. It bounds
// the best set during a beam search: the root is the worst kept
// candidate and is evicted first.
type MaxHeap struct {
	candidates []*Candidate
}

// NewMaxHeap creates a max-heap with capacity for size candidates.
func NewMaxHeap(size int) *MaxHeap {
	return &MaxHeap{candidates: make([]*Candidate, 0, size)}
}

func (h *MaxHeap) Len() int { return len(h.candidates) }

func (h *MaxHeap) Less(i, j int) bool {
	return candidateLess(h.candidates[j], h.candidates[i])
}

func (h *MaxHeap) Swap(i, j int) {
	h.candidates[i], h.candidates[j] = h.candidates[j], h.candidates[i]
}

func (h *MaxHeap) Push(x any) {
	h.candidates = append(h.candidates, x.(*Candidate))
}

func (h *MaxHeap) Pop() any {
	old := h.candidates
	n := len(old)
	item := old[n-1]
	h.candidates = old[:n-1]
	return item
}

// PushCandidate adds a candidate to the heap.
func (h *MaxHeap) PushCandidate(c *Candidate) {
	heap.Push(h, c)
}

// PopCandidate removes and returns the furthest candidate.
func (h *MaxHeap) PopCandidate() *Candidate {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*Candidate)
}

// Top returns the furthest candidate without removing it.
func (h *MaxHeap) Top() *Candidate {
	if h.Len() == 0 {
		return nil
	}
	return h.candidates[0]
}

// Drain empties the heap, returning candidates in ascending distance.
func (h *MaxHeap) Drain() []*Candidate {
	out := make([]*Candidate, h.Len())
	for i := h.Len() - 1; i >= 0; i-- {
		out[i] = h.PopCandidate()
	}
	return out
}
