package edgevec

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/prometheus/client_golang/prometheus"
)

// Config holds every tunable of an index. It is immutable after New.
type Config struct {
	// Dimension is the vector dimension; for the Binary variant it is
	// the nominal bit-dimension.
	Dimension int
	Kind      IndexKind
	Variant   StorageVariant
	Metric    DistanceMetric

	// HNSW parameters.
	M              int
	M0             int
	EfConstruction int
	EfSearch       int
	LevelMult      float64
	RNGSeed        int64

	// CompactionThreshold is the deleted fraction above which
	// compaction is recommended. Informational; never automatic.
	CompactionThreshold float64
	// PoolCompactionThreshold is the neighbour-pool waste fraction that
	// also flips the recommendation.
	PoolCompactionThreshold float64

	// MaxVectors bounds the id space when non-zero.
	MaxVectors uint64

	// WALPath enables write-ahead logging when non-empty.
	WALPath string

	// Hybrid keeps a sign-quantized binary sidecar next to Float32
	// storage for Hamming prefiltering with exact rescoring.
	Hybrid bool
	// HybridOverfetch is the candidate multiplier of the hybrid path.
	HybridOverfetch int

	// MetadataJSON selects the JSON metadata section format instead of
	// the compact binary default.
	MetadataJSON bool

	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

func defaultConfig() *Config {
	return &Config{
		Kind:                HNSW,
		Variant:             Float32,
		Metric:              Euclidean,
		M:                   16,
		M0:                  32,
		EfConstruction:      200,
		EfSearch:            64,
		CompactionThreshold:     0.25,
		PoolCompactionThreshold: 0.5,
		HybridOverfetch:         4,
	}
}

func (c *Config) validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive, got %d", c.Dimension)
	}
	if c.Variant == Binary && c.Metric != Hamming {
		return fmt.Errorf("binary storage requires the Hamming metric, got %s", c.Metric)
	}
	if c.Variant != Binary && c.Metric == Hamming {
		return fmt.Errorf("the Hamming metric requires binary storage")
	}
	if c.Hybrid && c.Variant != Float32 {
		return fmt.Errorf("hybrid search requires Float32 storage, got %s", c.Variant)
	}
	if c.Kind == HNSW {
		if c.M <= 0 || c.M0 <= 0 {
			return fmt.Errorf("M and M0 must be positive")
		}
		if c.EfConstruction <= 0 || c.EfSearch <= 0 {
			return fmt.Errorf("EfConstruction and EfSearch must be positive")
		}
	}
	if c.HybridOverfetch <= 0 {
		c.HybridOverfetch = 4
	}
	if c.LevelMult == 0 && c.M > 1 {
		c.LevelMult = 1.0 / math.Log(float64(c.M))
	}
	return nil
}

// Option configures an index at creation.
type Option func(*Config) error

// WithDimension sets the vector dimension (bit-dimension for Binary).
func WithDimension(dim int) Option {
	return func(c *Config) error {
		if dim <= 0 {
			return fmt.Errorf("dimension must be positive")
		}
		c.Dimension = dim
		return nil
	}
}

// WithFlat selects the brute-force index.
func WithFlat() Option {
	return func(c *Config) error {
		c.Kind = Flat
		return nil
	}
}

// WithHNSW selects the graph index and its parameters. M0 is set to 2m;
// a WithM0 option applied after this one overrides it.
func WithHNSW(m, efConstruction, efSearch int) Option {
	return func(c *Config) error {
		if m <= 0 || efConstruction <= 0 || efSearch <= 0 {
			return fmt.Errorf("HNSW parameters must be positive")
		}
		c.Kind = HNSW
		c.M = m
		c.M0 = 2 * m
		c.EfConstruction = efConstruction
		c.EfSearch = efSearch
		return nil
	}
}

// WithM0 overrides the layer-0 neighbour cap.
func WithM0(m0 int) Option {
	return func(c *Config) error {
		if m0 <= 0 {
			return fmt.Errorf("M0 must be positive")
		}
		c.M0 = m0
		return nil
	}
}

// WithMetric sets the distance metric.
func WithMetric(m DistanceMetric) Option {
	return func(c *Config) error {
		c.Metric = m
		return nil
	}
}

// WithStorageVariant sets the stored record layout.
func WithStorageVariant(v StorageVariant) Option {
	return func(c *Config) error {
		c.Variant = v
		return nil
	}
}

// WithBinary selects bit-packed storage with the Hamming metric.
func WithBinary() Option {
	return func(c *Config) error {
		c.Variant = Binary
		c.Metric = Hamming
		return nil
	}
}

// WithHybrid keeps a binary sidecar for Hamming prefiltering; factor is
// the candidate overfetch multiplier (default 4).
func WithHybrid(factor int) Option {
	return func(c *Config) error {
		c.Hybrid = true
		if factor > 0 {
			c.HybridOverfetch = factor
		}
		return nil
	}
}

// WithRNGSeed fixes the layer-assignment seed for reproducible graphs.
func WithRNGSeed(seed int64) Option {
	return func(c *Config) error {
		c.RNGSeed = seed
		return nil
	}
}

// WithMaxVectors bounds the number of vectors.
func WithMaxVectors(limit uint64) Option {
	return func(c *Config) error {
		c.MaxVectors = limit
		return nil
	}
}

// WithWAL enables write-ahead logging at the given segment path.
func WithWAL(path string) Option {
	return func(c *Config) error {
		if path == "" {
			return fmt.Errorf("WAL path cannot be empty")
		}
		c.WALPath = path
		return nil
	}
}

// WithCompactionThreshold sets the deleted fraction that flips
// Stats().CompactionRecommended.
func WithCompactionThreshold(fraction float64) Option {
	return func(c *Config) error {
		if fraction <= 0 || fraction >= 1 {
			return fmt.Errorf("compaction threshold must be in (0, 1)")
		}
		c.CompactionThreshold = fraction
		return nil
	}
}

// WithPoolCompactionThreshold sets the neighbour-pool waste fraction
// that flips Stats().CompactionRecommended.
func WithPoolCompactionThreshold(fraction float64) Option {
	return func(c *Config) error {
		if fraction <= 0 || fraction >= 1 {
			return fmt.Errorf("pool compaction threshold must be in (0, 1)")
		}
		c.PoolCompactionThreshold = fraction
		return nil
	}
}

// WithMetadataJSON writes the metadata section as JSON instead of the
// compact binary format.
func WithMetadataJSON() Option {
	return func(c *Config) error {
		c.MetadataJSON = true
		return nil
	}
}

// WithLogger sets the structured logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) error {
		c.Logger = l
		return nil
	}
}

// WithRegisterer registers the index metrics against reg instead of a
// private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Config) error {
		c.Registerer = reg
		return nil
	}
}
