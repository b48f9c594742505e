package hnsw

import (
	"fmt"

	"github.com/edgevec/edgevec/internal/util"
)

// Result is one ranked search hit.
type Result struct {
	ID       uint64
	Distance float32
}

// Search returns the k nearest live nodes to the query record. ef
// defaults to the configured EfSearch and is raised to at least k. The
// optional predicate is an output filter: failing nodes are not emitted
// but are still traversed.
func (h *Index) Search(query []byte, k, ef int, pred func(id uint64) bool) ([]Result, error) {
	if len(h.nodes) == 0 || h.entryPoint == NoNode {
		return nil, ErrEmptyIndex
	}
	if k <= 0 {
		return nil, nil
	}
	if ef <= 0 {
		ef = h.cfg.EfSearch
	}
	if ef < k {
		ef = k
	}

	ep, err := h.descend(query, h.entryPoint, h.maxLayer, 0)
	if err != nil {
		return nil, err
	}

	best, err := h.searchLayer(query, ep, ef, 0, pred)
	if err != nil {
		return nil, err
	}

	if len(best) > k {
		best = best[:k]
	}
	results := make([]Result, len(best))
	for i, c := range best {
		results[i] = Result{ID: h.nodes[c.ID].ID, Distance: c.Distance}
	}
	return results, nil
}

// descend runs greedy one-best descent from entry at fromLayer down to
// toLayer exclusive, carrying the best node into each lower layer.
func (h *Index) descend(query []byte, entry uint32, fromLayer, toLayer int) (uint32, error) {
	current := entry
	currentDist := h.dist(query, h.raw(current))

	for layer := fromLayer; layer > toLayer; layer-- {
		for {
			improved := false
			start, end := h.band(current, layer)
			if end > len(h.pool) {
				return NoNode, fmt.Errorf("%w: node %d band exceeds pool", ErrCorruptGraph, current)
			}
			for _, n := range h.pool[start:end] {
				if n == NoNode {
					continue
				}
				if int(n) >= len(h.nodes) {
					return NoNode, fmt.Errorf("%w: neighbour %d out of range", ErrCorruptGraph, n)
				}
				if d := h.dist(query, h.raw(n)); d < currentDist {
					current, currentDist = n, d
					improved = true
				}
			}
			if !improved {
				break
			}
		}
	}
	return current, nil
}

// searchLayer runs the bounded-beam search at one layer. Two heaps drive
// it: a min-heap of traversal candidates and a max-heap of the current
// best ef results. Deleted nodes and predicate failures are traversed
// but never emitted.
func (h *Index) searchLayer(query []byte, entry uint32, ef, layer int, pred func(id uint64) bool) ([]*util.Candidate, error) {
	visited := make([]bool, len(h.nodes))
	candidates := util.NewMinHeap(ef)
	best := util.NewMaxHeap(ef)

	emit := func(n uint32) bool {
		node := &h.nodes[n]
		if node.Deleted {
			return false
		}
		return pred == nil || pred(node.ID)
	}

	entryDist := h.dist(query, h.raw(entry))
	visited[entry] = true
	candidates.PushCandidate(&util.Candidate{ID: entry, Distance: entryDist})
	if emit(entry) {
		best.PushCandidate(&util.Candidate{ID: entry, Distance: entryDist})
	}

	for candidates.Len() > 0 {
		current := candidates.PopCandidate()
		if best.Len() >= ef && current.Distance > best.Top().Distance {
			break
		}

		start, end := h.band(current.ID, layer)
		if end > len(h.pool) {
			return nil, fmt.Errorf("%w: node %d band exceeds pool", ErrCorruptGraph, current.ID)
		}
		for _, n := range h.pool[start:end] {
			if n == NoNode {
				continue
			}
			if int(n) >= len(h.nodes) {
				return nil, fmt.Errorf("%w: neighbour %d out of range", ErrCorruptGraph, n)
			}
			if visited[n] {
				continue
			}
			visited[n] = true

			d := h.dist(query, h.raw(n))
			if best.Len() < ef || d < best.Top().Distance {
				candidates.PushCandidate(&util.Candidate{ID: n, Distance: d})
				if emit(n) {
					best.PushCandidate(&util.Candidate{ID: n, Distance: d})
					if best.Len() > ef {
						best.PopCandidate()
					}
				}
			}
		}
	}

	return best.Drain(), nil
}

// searchLayerAll is searchLayer without output filtering: deleted nodes
// are kept as candidates. Insertion links against it so tombstoned
// regions stay connected.
func (h *Index) searchLayerAll(query []byte, entry uint32, ef, layer int) ([]*util.Candidate, error) {
	visited := make([]bool, len(h.nodes))
	candidates := util.NewMinHeap(ef)
	best := util.NewMaxHeap(ef)

	entryDist := h.dist(query, h.raw(entry))
	visited[entry] = true
	candidates.PushCandidate(&util.Candidate{ID: entry, Distance: entryDist})
	best.PushCandidate(&util.Candidate{ID: entry, Distance: entryDist})

	for candidates.Len() > 0 {
		current := candidates.PopCandidate()
		if best.Len() >= ef && current.Distance > best.Top().Distance {
			break
		}

		start, end := h.band(current.ID, layer)
		if end > len(h.pool) {
			return nil, fmt.Errorf("%w: node %d band exceeds pool", ErrCorruptGraph, current.ID)
		}
		for _, n := range h.pool[start:end] {
			if n == NoNode || visited[n] {
				continue
			}
			if int(n) >= len(h.nodes) {
				return nil, fmt.Errorf("%w: neighbour %d out of range", ErrCorruptGraph, n)
			}
			visited[n] = true

			d := h.dist(query, h.raw(n))
			if best.Len() < ef || d < best.Top().Distance {
				candidates.PushCandidate(&util.Candidate{ID: n, Distance: d})
				best.PushCandidate(&util.Candidate{ID: n, Distance: d})
				if best.Len() > ef {
					best.PopCandidate()
				}
			}
		}
	}

	return best.Drain(), nil
}
