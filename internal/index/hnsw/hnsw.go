// Package hnsw implements the layered small-world graph index.
//
// The graph is an arena of fixed-size node records plus a single
// neighbour pool indexed by (offset, length). Nodes reference each other
// by 32-bit index only, so the structure has no cycles to collect and
// persists bit-identically.
package hnsw

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// MaxLayer bounds the layer hierarchy.
const MaxLayer = 16

// NoNode marks the absence of a node index (empty graph, unused slot).
const NoNode = ^uint32(0)

// Index failure modes.
var (
	ErrEmptyIndex   = errors.New("hnsw: index is empty")
	ErrCorruptGraph = errors.New("hnsw: graph invariant violated")
)

// DistanceFunc computes the distance between two raw vector records.
type DistanceFunc func(a, b []byte) float32

// VectorSource resolves a vector id to its raw record, tombstoned
// vectors included; the graph routes through deleted nodes.
type VectorSource interface {
	Raw(id uint64) []byte
}

// Config holds the immutable graph parameters.
type Config struct {
	M              int     // max neighbours per layer >= 1
	M0             int     // max neighbours at layer 0, usually 2M
	EfConstruction int     // beam width during insert
	EfSearch       int     // default beam width during query
	LevelMult      float64 // layer assignment factor, 1/ln(M) when zero
	RNGSeed        int64
	// CompactionThreshold is the deleted fraction above which
	// CompactionRecommended reports true. Informational only.
	CompactionThreshold float64
	// PoolCompactionThreshold is the fraction of neighbour-pool slots
	// reserved by deleted nodes that also flips the recommendation.
	PoolCompactionThreshold float64
}

func (c *Config) validate() error {
	if c.M <= 0 {
		return fmt.Errorf("hnsw: M must be positive, got %d", c.M)
	}
	if c.M0 <= 0 {
		return fmt.Errorf("hnsw: M0 must be positive, got %d", c.M0)
	}
	if c.EfConstruction <= 0 {
		return fmt.Errorf("hnsw: EfConstruction must be positive, got %d", c.EfConstruction)
	}
	if c.EfSearch <= 0 {
		return fmt.Errorf("hnsw: EfSearch must be positive, got %d", c.EfSearch)
	}
	return nil
}

// Index is the layered proximity graph. It imposes no locking; the
// owning façade serializes writers.
type Index struct {
	cfg  Config
	dist DistanceFunc
	vecs VectorSource

	nodes []Node
	pool  []uint32

	entryPoint uint32
	maxLayer   int

	rng *rand.Rand
}

// New creates an empty graph over the given vector source.
func New(cfg Config, vecs VectorSource, dist DistanceFunc) (*Index, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.LevelMult == 0 {
		cfg.LevelMult = 1.0 / math.Log(float64(cfg.M))
	}
	return &Index{
		cfg:        cfg,
		dist:       dist,
		vecs:       vecs,
		entryPoint: NoNode,
		rng:        rand.New(rand.NewSource(cfg.RNGSeed)),
	}, nil
}

// Config returns the immutable parameters.
func (h *Index) Config() Config { return h.cfg }

// Len returns the number of nodes, deleted included. It always equals
// the storage count.
func (h *Index) Len() int { return len(h.nodes) }

// drawLayer samples the top layer for a new node:
// floor(-ln(U) * levelMult) with U uniform in (0,1], capped.
func (h *Index) drawLayer() int {
	u := 1.0 - h.rng.Float64() // (0, 1]
	layer := int(math.Floor(-math.Log(u) * h.cfg.LevelMult))
	if layer > MaxLayer-1 {
		layer = MaxLayer - 1
	}
	return layer
}

// raw resolves a node index to its vector record.
func (h *Index) raw(n uint32) []byte {
	return h.vecs.Raw(h.nodes[n].ID)
}

// Nodes exposes the node arena for persistence and invariant checks.
func (h *Index) Nodes() []Node { return h.nodes }

// Pool exposes the neighbour arena for persistence.
func (h *Index) Pool() []uint32 { return h.pool }

// EntryPoint returns the current entry node index, or NoNode.
func (h *Index) EntryPoint() uint32 { return h.entryPoint }

// TopLayer returns the layer of the entry point.
func (h *Index) TopLayer() int { return h.maxLayer }

// Restore replaces the graph state from persisted sections. The RNG is
// re-seeded from the configured seed.
func (h *Index) Restore(nodes []Node, pool []uint32, entryPoint uint32, maxLayer int) error {
	for i := range nodes {
		if want := h.slots(int(nodes[i].TopLayer)); int(nodes[i].NeighborLen) != want {
			return fmt.Errorf("%w: node %d reserves %d slots, layer %d requires %d",
				ErrCorruptGraph, i, nodes[i].NeighborLen, nodes[i].TopLayer, want)
		}
		end := uint64(nodes[i].NeighborOffset) + uint64(nodes[i].NeighborLen)
		if end > uint64(len(pool)) {
			return fmt.Errorf("%w: node %d neighbour slice [%d:%d] exceeds pool %d",
				ErrCorruptGraph, i, nodes[i].NeighborOffset, end, len(pool))
		}
	}
	if entryPoint != NoNode && int(entryPoint) >= len(nodes) {
		return fmt.Errorf("%w: entry point %d out of range", ErrCorruptGraph, entryPoint)
	}
	h.nodes = nodes
	h.pool = pool
	h.entryPoint = entryPoint
	h.maxLayer = maxLayer
	h.rng = rand.New(rand.NewSource(h.cfg.RNGSeed))
	return nil
}
