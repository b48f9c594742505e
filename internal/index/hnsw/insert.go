package hnsw

import "fmt"

// Insert integrates the vector already stored under id into the graph.
// Ids must arrive in storage insertion order so that node index i always
// maps to id i.
func (h *Index) Insert(id uint64) error {
	if uint64(len(h.nodes)) != id {
		return fmt.Errorf("%w: expected id %d, got %d", ErrCorruptGraph, len(h.nodes), id)
	}

	layer := h.drawLayer()
	n := h.allocNode(id, layer)

	if h.entryPoint == NoNode {
		h.entryPoint = n
		h.maxLayer = layer
		return nil
	}

	query := h.raw(n)

	// Greedy descent through the layers above the new node's top.
	ep := h.entryPoint
	if h.maxLayer > layer {
		var err error
		ep, err = h.descend(query, h.entryPoint, h.maxLayer, layer)
		if err != nil {
			return err
		}
	}

	// Beam search and bidirectional linking from min(layer, maxLayer)
	// down to 0.
	top := layer
	if top > h.maxLayer {
		top = h.maxLayer
	}
	for l := top; l >= 0; l-- {
		candidates, err := h.searchLayerAll(query, ep, h.cfg.EfConstruction, l)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			continue
		}

		selected := h.selectNeighbors(query, candidates, h.layerCap(l))
		h.setNeighbors(n, l, selected)

		for _, neighbor := range selected {
			if neighbor == n {
				continue
			}
			if !h.appendNeighbor(neighbor, l, n) {
				h.pruneOverflow(neighbor, l, n)
			}
		}

		ep = candidates[0].ID
	}

	if layer > h.maxLayer {
		h.entryPoint = n
		h.maxLayer = layer
	}
	return nil
}
