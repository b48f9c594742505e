package hnsw

// Node is one fixed-size graph record. Adjacency lists for layers
// 0..TopLayer live consecutively in the neighbour pool starting at
// NeighborOffset: M0 slots for layer 0 followed by M slots per higher
// layer. Unused slots hold NoNode.
type Node struct {
	ID             uint64
	NeighborOffset uint32
	NeighborLen    uint16
	TopLayer       uint8
	Deleted        bool
}

// slots returns the reserved slot count for a node topping out at layer l.
func (h *Index) slots(topLayer int) int {
	return h.cfg.M0 + topLayer*h.cfg.M
}

// band returns the pool range [start, end) of node n's adjacency list at
// the given layer.
func (h *Index) band(n uint32, layer int) (int, int) {
	node := &h.nodes[n]
	start := int(node.NeighborOffset)
	if layer == 0 {
		return start, start + h.cfg.M0
	}
	start += h.cfg.M0 + (layer-1)*h.cfg.M
	return start, start + h.cfg.M
}

// layerCap returns the neighbour cap for a layer: M0 at layer 0, M above.
func (h *Index) layerCap(layer int) int {
	if layer == 0 {
		return h.cfg.M0
	}
	return h.cfg.M
}

// neighbors appends node n's live slot values at layer to dst.
func (h *Index) neighbors(n uint32, layer int, dst []uint32) []uint32 {
	start, end := h.band(n, layer)
	for _, v := range h.pool[start:end] {
		if v != NoNode {
			dst = append(dst, v)
		}
	}
	return dst
}

// allocNode appends a node record for id with the given top layer and
// reserves its sentinel-filled neighbour slots. Returns the node index.
func (h *Index) allocNode(id uint64, topLayer int) uint32 {
	n := uint32(len(h.nodes))
	slots := h.slots(topLayer)
	offset := uint32(len(h.pool))
	for i := 0; i < slots; i++ {
		h.pool = append(h.pool, NoNode)
	}
	h.nodes = append(h.nodes, Node{
		ID:             id,
		NeighborOffset: offset,
		NeighborLen:    uint16(slots),
		TopLayer:       uint8(topLayer),
	})
	return n
}

// setNeighbors rewrites node n's adjacency at layer, padding with the
// sentinel. The list must fit the layer cap.
func (h *Index) setNeighbors(n uint32, layer int, ids []uint32) {
	start, end := h.band(n, layer)
	band := h.pool[start:end]
	copy(band, ids)
	for i := len(ids); i < len(band); i++ {
		band[i] = NoNode
	}
}

// appendNeighbor adds id to node n's adjacency at layer. It reports
// false when the band is already full.
func (h *Index) appendNeighbor(n uint32, layer int, id uint32) bool {
	start, end := h.band(n, layer)
	for i := start; i < end; i++ {
		if h.pool[i] == NoNode {
			h.pool[i] = id
			return true
		}
	}
	return false
}
