package hnsw

import (
	"sort"

	"github.com/edgevec/edgevec/internal/util"
)

// selectNeighbors applies the diversity heuristic: walk candidates in
// ascending distance, keeping one only when it is closer to the base
// vector than to every neighbour already kept. Remaining slots are then
// filled with the nearest skipped candidates so sparse neighbourhoods
// stay connected.
func (h *Index) selectNeighbors(base []byte, candidates []*util.Candidate, cap int) []uint32 {
	if len(candidates) <= 1 {
		out := make([]uint32, 0, len(candidates))
		for _, c := range candidates {
			out = append(out, c.ID)
		}
		return out
	}

	selected := make([]uint32, 0, cap)
	var skipped []*util.Candidate

	for _, c := range candidates {
		if len(selected) >= cap {
			break
		}
		diverse := true
		cVec := h.raw(c.ID)
		for _, kept := range selected {
			if h.dist(cVec, h.raw(kept)) < c.Distance {
				diverse = false
				break
			}
		}
		if diverse {
			selected = append(selected, c.ID)
		} else {
			skipped = append(skipped, c)
		}
	}

	for _, c := range skipped {
		if len(selected) >= cap {
			break
		}
		selected = append(selected, c.ID)
	}
	return selected
}

// pruneOverflow handles a neighbour whose band overflowed while linking
// the new node: the full neighbour set plus the newcomer is re-pruned
// with the same heuristic, using the neighbour's own distances.
func (h *Index) pruneOverflow(n uint32, layer int, newcomer uint32) {
	base := h.raw(n)

	current := h.neighbors(n, layer, make([]uint32, 0, h.layerCap(layer)+1))
	current = append(current, newcomer)

	candidates := make([]*util.Candidate, 0, len(current))
	for _, id := range current {
		candidates = append(candidates, &util.Candidate{
			ID:       id,
			Distance: h.dist(base, h.raw(id)),
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].ID < candidates[j].ID
	})

	h.setNeighbors(n, layer, h.selectNeighbors(base, candidates, h.layerCap(layer)))
}
