package hnsw

import "fmt"

// SoftDelete marks the node for id deleted in O(1). The node stays
// in-graph for traversal; search skips it at result materialization. If
// the deleted node was the entry point a new one is elected.
func (h *Index) SoftDelete(id uint64) error {
	if id >= uint64(len(h.nodes)) {
		return fmt.Errorf("%w: id %d out of range", ErrCorruptGraph, id)
	}
	n := uint32(id)
	if h.nodes[n].Deleted {
		return nil
	}
	h.nodes[n].Deleted = true

	if h.entryPoint == n {
		h.electEntryPoint()
	}
	return nil
}

// electEntryPoint scans for the highest-layer live node. A linear scan
// is O(N) in the worst case; correctness does not depend on the
// election strategy.
func (h *Index) electEntryPoint() {
	h.entryPoint = NoNode
	h.maxLayer = 0
	for i := range h.nodes {
		if h.nodes[i].Deleted {
			continue
		}
		if h.entryPoint == NoNode || int(h.nodes[i].TopLayer) > h.maxLayer {
			h.entryPoint = uint32(i)
			h.maxLayer = int(h.nodes[i].TopLayer)
		}
	}
}

// DeletedCount returns the number of tombstoned nodes.
func (h *Index) DeletedCount() int {
	var n int
	for i := range h.nodes {
		if h.nodes[i].Deleted {
			n++
		}
	}
	return n
}

// PoolWasteFraction returns the share of neighbour-pool slots reserved
// by deleted nodes. Soft-delete leaves those bands as holes until the
// next compaction rewrites the pool.
func (h *Index) PoolWasteFraction() float64 {
	if len(h.pool) == 0 {
		return 0
	}
	var waste int
	for i := range h.nodes {
		if h.nodes[i].Deleted {
			waste += int(h.nodes[i].NeighborLen)
		}
	}
	return float64(waste) / float64(len(h.pool))
}

// CompactionRecommended reports whether the deleted fraction or the
// neighbour-pool waste exceeds its configured threshold. It never
// triggers compaction itself.
func (h *Index) CompactionRecommended() bool {
	if len(h.nodes) == 0 {
		return false
	}
	if h.cfg.CompactionThreshold > 0 &&
		float64(h.DeletedCount())/float64(len(h.nodes)) > h.cfg.CompactionThreshold {
		return true
	}
	return h.cfg.PoolCompactionThreshold > 0 &&
		h.PoolWasteFraction() > h.cfg.PoolCompactionThreshold
}
