package edgevec

import (
	"github.com/edgevec/edgevec/internal/meta"
	"github.com/edgevec/edgevec/internal/metric"
	"github.com/edgevec/edgevec/internal/storage"
)

// IndexKind selects the search structure.
type IndexKind int

const (
	// Flat scans every live vector exactly.
	Flat IndexKind = iota
	// HNSW searches the layered proximity graph approximately.
	HNSW
)

// String returns the kind name.
func (k IndexKind) String() string {
	if k == Flat {
		return "flat"
	}
	return "hnsw"
}

// DistanceMetric selects the distance kernel.
type DistanceMetric = metric.Metric

// Supported metrics. Euclidean scores are squared; the root is monotone
// and left to callers that need true distances.
const (
	Euclidean = metric.Euclidean
	Cosine    = metric.Cosine
	Dot       = metric.Dot
	Hamming   = metric.Hamming
)

// StorageVariant selects the stored record layout.
type StorageVariant = storage.Variant

const (
	// Float32 stores dense vectors natively.
	Float32 = storage.Float32
	// SQ8 stores 8-bit scalar-quantized vectors with a per-vector
	// scale and offset.
	SQ8 = storage.SQ8
	// Binary stores bit-packed vectors; Dimension is the bit count.
	Binary = storage.Binary
)

// VectorID identifies a stored vector. Ids are assigned monotonically
// at insert time and never reused; the high bit is reserved and always
// zero.
type VectorID = uint64

// SearchResult is one ranked hit: smaller score means closer under
// every metric.
type SearchResult struct {
	ID    VectorID
	Score float32
}

// Value is a typed metadata value.
type Value = meta.Value

// Metadata value constructors.
var (
	String      = meta.String
	Integer     = meta.Integer
	Float       = meta.Float
	Boolean     = meta.Boolean
	StringArray = meta.StringArray
)

// CompactionReport summarizes a physical compaction.
type CompactionReport struct {
	// VectorsBefore counts assigned ids before the rewrite, deleted
	// included.
	VectorsBefore uint64
	// VectorsAfter counts surviving ids; they are renumbered 0..n-1.
	VectorsAfter uint64
	// ReclaimedBytes is the storage buffer space released.
	ReclaimedBytes int64
}

// Stats is a point-in-time view of the index.
type Stats struct {
	Kind            IndexKind
	Variant         StorageVariant
	Metric          DistanceMetric
	Dimension       int
	Count           uint64
	ActiveCount     uint64
	DeletedCount    uint64
	DeletedFraction float64
	// CompactionRecommended reports the configured deleted-fraction or
	// neighbour-pool waste threshold being exceeded; compaction stays
	// caller-driven.
	CompactionRecommended bool
	MetadataRows          int
	MemoryBytes           int64
	// Accelerated reports whether a wide-lane kernel path is in use.
	Accelerated bool
}
