package hnsw

import "fmt"

// Compact rewrites the node arena and neighbour pool under the id remap
// produced by storage compaction. Deleted nodes are dropped, surviving
// adjacency lists are renumbered with references to dropped nodes
// removed, and neighbour selection is not re-run.
func (h *Index) Compact(remap []uint64, noRemap uint64) error {
	if len(remap) != len(h.nodes) {
		return fmt.Errorf("%w: remap length %d does not match node count %d",
			ErrCorruptGraph, len(remap), len(h.nodes))
	}

	oldNodes := h.nodes
	oldPool := h.pool

	h.nodes = make([]Node, 0, len(oldNodes))
	h.pool = make([]uint32, 0, len(oldPool))

	for oldIdx := range oldNodes {
		node := &oldNodes[oldIdx]
		newID := remap[oldIdx]
		if node.Deleted || newID == noRemap {
			continue
		}

		fresh := h.allocNode(newID, int(node.TopLayer))

		for layer := 0; layer <= int(node.TopLayer); layer++ {
			start := int(node.NeighborOffset)
			var end int
			if layer == 0 {
				end = start + h.cfg.M0
			} else {
				start += h.cfg.M0 + (layer-1)*h.cfg.M
				end = start + h.cfg.M
			}

			kept := make([]uint32, 0, end-start)
			for _, old := range oldPool[start:end] {
				if old == NoNode || oldNodes[old].Deleted {
					continue
				}
				if mapped := remap[old]; mapped != noRemap {
					kept = append(kept, uint32(mapped))
				}
			}
			h.setNeighbors(fresh, layer, kept)
		}
	}

	h.electEntryPoint()
	return nil
}
