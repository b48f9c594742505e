// Package edgevec provides an embedded vector similarity index with
// HNSW and exact search, typed metadata filtering, binary quantization
// and snapshot persistence.
package edgevec

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/edgevec/edgevec/internal/index/flat"
	"github.com/edgevec/edgevec/internal/index/hnsw"
	"github.com/edgevec/edgevec/internal/meta"
	"github.com/edgevec/edgevec/internal/metric"
	"github.com/edgevec/edgevec/internal/obs"
	"github.com/edgevec/edgevec/internal/persist"
	"github.com/edgevec/edgevec/internal/quant"
	"github.com/edgevec/edgevec/internal/storage"
	"github.com/edgevec/edgevec/internal/storage/wal"
	"github.com/edgevec/edgevec/internal/util"
)

// Index is the single object callers hold: it owns the storage buffer,
// the search structure, the metadata store and the WAL, and routes every
// operation. Insert, SoftDelete, Compact and metadata mutation take the
// writer lock; searches and reads share.
type Index struct {
	mu  sync.RWMutex
	cfg *Config

	store    *storage.Store
	binStore *storage.Store // hybrid sidecar, nil unless configured
	graph    *hnsw.Index    // nil for the flat kind
	flat     *flat.Index

	metaStore *meta.Store
	metrics   *obs.Metrics
	logger    *slog.Logger
	wal       *wal.Log

	// kernel computes the distance between two stored records (the
	// query is encoded to record form first).
	kernel func(a, b []byte) float32

	// backend of the last Save/Load; Compact rewrites through it.
	backend persist.Backend

	closed bool
}

// New creates an empty index from the given options.
func New(opts ...Option) (*Index, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("edgevec: invalid option: %w", err)
		}
	}
	return newFromConfig(cfg)
}

func newFromConfig(cfg *Config) (*Index, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("edgevec: invalid config: %w", err)
	}

	store, err := storage.New(storage.Config{
		Variant:    cfg.Variant,
		Dim:        cfg.Dimension,
		MaxVectors: cfg.MaxVectors,
	})
	if err != nil {
		return nil, fmt.Errorf("edgevec: %w", err)
	}

	idx := &Index{
		cfg:       cfg,
		store:     store,
		metaStore: meta.NewStore(),
		metrics:   obs.NewMetrics(cfg.Registerer),
		logger:    cfg.Logger,
	}
	if idx.logger == nil {
		idx.logger = slog.Default()
	}

	idx.kernel, err = recordKernel(cfg)
	if err != nil {
		return nil, fmt.Errorf("edgevec: %w", err)
	}

	idx.flat = flat.New(store, idx.kernel)

	if cfg.Kind == HNSW {
		idx.graph, err = hnsw.New(hnsw.Config{
			M:                       cfg.M,
			M0:                      cfg.M0,
			EfConstruction:          cfg.EfConstruction,
			EfSearch:                cfg.EfSearch,
			LevelMult:               cfg.LevelMult,
			RNGSeed:                 cfg.RNGSeed,
			CompactionThreshold:     cfg.CompactionThreshold,
			PoolCompactionThreshold: cfg.PoolCompactionThreshold,
		}, store, idx.kernel)
		if err != nil {
			return nil, fmt.Errorf("edgevec: %w", err)
		}
	}

	if cfg.Hybrid {
		idx.binStore, err = storage.New(storage.Config{
			Variant: storage.Binary,
			Dim:     cfg.Dimension,
		})
		if err != nil {
			return nil, fmt.Errorf("edgevec: %w", err)
		}
	}

	if cfg.WALPath != "" {
		log, err := wal.Open(cfg.WALPath)
		if err != nil {
			return nil, fmt.Errorf("edgevec: %w", err)
		}
		idx.wal = log
		store.AttachWAL(log)
	}

	return idx, nil
}

// recordKernel builds the record-level distance function for the
// configured variant and metric.
func recordKernel(cfg *Config) (func(a, b []byte) float32, error) {
	switch cfg.Variant {
	case Binary:
		return func(a, b []byte) float32 {
			return float32(metric.HammingBytes(a, b))
		}, nil
	case Float32:
		fn, err := metric.For(cfg.Metric)
		if err != nil {
			return nil, err
		}
		return func(a, b []byte) float32 {
			return fn(f32view(a), f32view(b))
		}, nil
	case SQ8:
		fn, err := metric.For(cfg.Metric)
		if err != nil {
			return nil, err
		}
		dim := cfg.Dimension
		return func(a, b []byte) float32 {
			return fn(quant.UnpackSQ8(a, dim), quant.UnpackSQ8(b, dim))
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage variant %d", cfg.Variant)
	}
}

// f32view reinterprets a record as float32s, copying only when the
// alignment check fails.
func f32view(b []byte) []float32 {
	if v, err := util.Float32View(b); err == nil {
		return v
	}
	v, _ := util.Float32Copy(b)
	return v
}

// validateDense rejects dimension mismatches and non-finite components
// before anything reaches storage.
func (i *Index) validateDense(vec []float32) error {
	if len(vec) != i.cfg.Dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), i.cfg.Dimension)
	}
	for _, x := range vec {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return ErrInvalidVector
		}
	}
	return nil
}

// encodeDense converts a dense vector into its stored record form.
func (i *Index) encodeDense(vec []float32) []byte {
	if i.cfg.Variant == SQ8 {
		return quant.PackSQ8(vec)
	}
	return util.Float32Bytes(vec)
}

// Insert adds a dense vector and returns its id.
func (i *Index) Insert(ctx context.Context, vec []float32) (VectorID, error) {
	return i.InsertWithMetadata(ctx, vec, nil)
}

// InsertWithMetadata adds a dense vector with an optional attribute bag.
// The metadata is validated before the vector is stored; on validation
// failure nothing is inserted.
func (i *Index) InsertWithMetadata(ctx context.Context, vec []float32, md map[string]Value) (VectorID, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return 0, ErrClosed
	}
	if i.cfg.Variant == Binary {
		return 0, fmt.Errorf("edgevec: dense insert into binary storage; use InsertBinary")
	}
	if err := i.validateDense(vec); err != nil {
		return 0, err
	}
	if err := validateMetadataBag(md); err != nil {
		return 0, err
	}

	return i.insertLocked(vec, md)
}

func (i *Index) insertLocked(vec []float32, md map[string]Value) (VectorID, error) {
	id, err := i.store.Insert(i.encodeDense(vec))
	if err != nil {
		return 0, fmt.Errorf("edgevec: %w", err)
	}

	if i.binStore != nil {
		if _, err := i.binStore.Insert(quant.QuantizeBinary(vec)); err != nil {
			return 0, fmt.Errorf("edgevec: hybrid sidecar: %w", err)
		}
	}

	if i.graph != nil {
		if err := i.graph.Insert(id); err != nil {
			return 0, fmt.Errorf("edgevec: %w", err)
		}
	}

	for key, value := range md {
		if err := i.setMetadataLocked(id, key, value); err != nil {
			return 0, err
		}
	}

	i.metrics.VectorInserts.Inc()
	return id, nil
}

// InsertBinary adds a bit-packed vector to a binary index. The packed
// length must match the configured bit-dimension, pad bits zero.
func (i *Index) InsertBinary(ctx context.Context, packed []byte) (VectorID, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return 0, ErrClosed
	}
	if i.cfg.Variant != Binary {
		return 0, fmt.Errorf("edgevec: binary insert into %s storage", i.cfg.Variant)
	}
	if err := quant.ValidateBinary(packed, i.cfg.Dimension); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDimensionMismatch, err)
	}

	id, err := i.store.Insert(packed)
	if err != nil {
		return 0, fmt.Errorf("edgevec: %w", err)
	}
	if i.graph != nil {
		if err := i.graph.Insert(id); err != nil {
			return 0, fmt.Errorf("edgevec: %w", err)
		}
	}
	i.metrics.VectorInserts.Inc()
	return id, nil
}

// Get returns the stored vector for id, dequantized for SQ8 storage.
// Deleted and unknown ids report ErrNotFound.
func (i *Index) Get(id VectorID) ([]float32, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return nil, ErrClosed
	}
	if i.cfg.Variant == Binary {
		return nil, fmt.Errorf("edgevec: binary storage holds no dense vectors; use GetBinary")
	}
	rec := i.store.Get(id)
	if rec == nil {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if i.cfg.Variant == SQ8 {
		return quant.UnpackSQ8(rec, i.cfg.Dimension), nil
	}
	out := make([]float32, i.cfg.Dimension)
	copy(out, f32view(rec))
	return out, nil
}

// GetBinary returns the packed record of a binary index.
func (i *Index) GetBinary(id VectorID) ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return nil, ErrClosed
	}
	if i.cfg.Variant != Binary {
		return nil, fmt.Errorf("edgevec: %s storage holds no packed vectors", i.cfg.Variant)
	}
	rec := i.store.Get(id)
	if rec == nil {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return append([]byte(nil), rec...), nil
}

// SoftDelete hides id from every search in O(1) and drops its metadata.
// Deleting an already-deleted id reports ErrAlreadyDeleted; physical
// removal is Compact's job.
func (i *Index) SoftDelete(ctx context.Context, id VectorID) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return ErrClosed
	}
	return i.softDeleteLocked(id)
}

func (i *Index) softDeleteLocked(id VectorID) error {
	changed, err := i.store.SoftDelete(id)
	if err != nil {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if !changed {
		return fmt.Errorf("%w: id %d", ErrAlreadyDeleted, id)
	}
	if i.binStore != nil {
		_, _ = i.binStore.SoftDelete(id)
	}
	if i.graph != nil {
		if err := i.graph.SoftDelete(id); err != nil {
			return err
		}
	}
	i.metaStore.DeleteAll(id)
	i.metrics.SoftDeletes.Inc()
	return nil
}

// Compact physically rewrites storage, graph and metadata, dropping
// soft-deleted vectors and renumbering the survivors 0..n-1 in original
// insertion order. The WAL is truncated; if the index has a persistence
// backend a fresh snapshot is written through it.
func (i *Index) Compact(ctx context.Context) (CompactionReport, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return CompactionReport{}, ErrClosed
	}

	report, remap := i.store.Compact()
	if i.binStore != nil {
		i.binStore.Compact()
	}
	if i.graph != nil {
		if err := i.graph.Compact(remap, storage.NoRemap); err != nil {
			return CompactionReport{}, err
		}
	}
	i.metaStore.Remap(remap, storage.NoRemap)

	if i.backend != nil {
		if err := i.saveLocked(i.backend); err != nil {
			return CompactionReport{}, err
		}
	} else if i.wal != nil {
		if err := i.wal.Truncate(); err != nil {
			return CompactionReport{}, fmt.Errorf("edgevec: %w", err)
		}
	}

	i.metrics.Compactions.Inc()
	i.logger.Info("compaction finished",
		"before", report.Before, "after", report.After,
		"reclaimed_bytes", report.ReclaimedBytes)

	return CompactionReport{
		VectorsBefore:  report.Before,
		VectorsAfter:   report.After,
		ReclaimedBytes: report.ReclaimedBytes,
	}, nil
}

// CompactionRecommended reports whether the deleted fraction or the
// graph's neighbour-pool waste exceeds its configured threshold.
func (i *Index) CompactionRecommended() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.compactionRecommendedLocked()
}

func (i *Index) compactionRecommendedLocked() bool {
	if i.store.DeletedFraction() > i.cfg.CompactionThreshold {
		return true
	}
	return i.graph != nil && i.graph.CompactionRecommended()
}

// Stats returns a point-in-time view of the index.
func (i *Index) Stats() Stats {
	i.mu.RLock()
	defer i.mu.RUnlock()

	mem := int64(len(i.store.Buffer()))
	if i.graph != nil {
		mem += int64(len(i.graph.Nodes()))*16 + int64(len(i.graph.Pool()))*4
	}
	if i.binStore != nil {
		mem += int64(len(i.binStore.Buffer()))
	}

	return Stats{
		Kind:                  i.cfg.Kind,
		Variant:               i.cfg.Variant,
		Metric:                i.cfg.Metric,
		Dimension:             i.cfg.Dimension,
		Count:                 i.store.Count(),
		ActiveCount:           i.store.ActiveCount(),
		DeletedCount:          i.store.DeletedCount(),
		DeletedFraction:       i.store.DeletedFraction(),
		CompactionRecommended: i.compactionRecommendedLocked(),
		MetadataRows:          i.metaStore.Len(),
		MemoryBytes:           mem,
		Accelerated:           metric.Capabilities().Accelerated,
	}
}

// Close releases the WAL handle. The index rejects further operations.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil
	}
	i.closed = true
	if i.wal != nil {
		return i.wal.Close()
	}
	return nil
}

// validateMetadataBag pre-validates an attribute bag so that a failed
// insert leaves no partial state.
func validateMetadataBag(md map[string]Value) error {
	if len(md) > meta.MaxKeysPerVector {
		return ErrMetadataTooManyKeys
	}
	for key, value := range md {
		if err := meta.ValidateKey(key); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
		if err := value.Validate(); err != nil {
			return fmt.Errorf("key %q: %w", key, err)
		}
	}
	return nil
}

// SetMetadata validates and upserts one attribute of a live vector.
func (i *Index) SetMetadata(id VectorID, key string, value Value) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return ErrClosed
	}
	if i.store.Get(id) == nil {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return i.setMetadataLocked(id, key, value)
}

func (i *Index) setMetadataLocked(id VectorID, key string, value Value) error {
	if err := meta.ValidateKey(key); err != nil {
		return err
	}
	if err := value.Validate(); err != nil {
		return err
	}
	if i.wal != nil {
		if _, err := i.wal.AppendSetMetadata(id, key, value.EncodeBinary(nil)); err != nil {
			return fmt.Errorf("edgevec: %w", err)
		}
	}
	return i.metaStore.Set(id, key, value)
}

// SetAllMetadata atomically replaces the attribute bag of a live vector.
func (i *Index) SetAllMetadata(id VectorID, md map[string]Value) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return ErrClosed
	}
	if i.store.Get(id) == nil {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err := validateMetadataBag(md); err != nil {
		return err
	}
	if i.wal != nil {
		if _, err := i.wal.AppendDeleteAllMetadata(id); err != nil {
			return fmt.Errorf("edgevec: %w", err)
		}
		for key, value := range md {
			if _, err := i.wal.AppendSetMetadata(id, key, value.EncodeBinary(nil)); err != nil {
				return fmt.Errorf("edgevec: %w", err)
			}
		}
	}
	return i.metaStore.SetAll(id, md)
}

// GetMetadata returns one attribute of a vector.
func (i *Index) GetMetadata(id VectorID, key string) (Value, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.metaStore.Get(id, key)
}

// GetAllMetadata returns a copy of a vector's attribute bag, or nil.
func (i *Index) GetAllMetadata(id VectorID) map[string]Value {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.metaStore.GetAll(id)
}

// DeleteMetadata removes one attribute, reporting whether it existed.
func (i *Index) DeleteMetadata(id VectorID, key string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return false, ErrClosed
	}
	if i.wal != nil && i.metaStore.HasKey(id, key) {
		if _, err := i.wal.AppendDeleteMetadata(id, key); err != nil {
			return false, fmt.Errorf("edgevec: %w", err)
		}
	}
	return i.metaStore.Delete(id, key), nil
}

// DeleteAllMetadata removes every attribute of a vector.
func (i *Index) DeleteAllMetadata(id VectorID) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return false, ErrClosed
	}
	if i.wal != nil && i.metaStore.KeyCount(id) > 0 {
		if _, err := i.wal.AppendDeleteAllMetadata(id); err != nil {
			return false, fmt.Errorf("edgevec: %w", err)
		}
	}
	return i.metaStore.DeleteAll(id), nil
}

// HasMetadataKey reports whether (id, key) exists.
func (i *Index) HasMetadataKey(id VectorID, key string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.metaStore.HasKey(id, key)
}

// MetadataKeys returns the sorted attribute keys of a vector.
func (i *Index) MetadataKeys(id VectorID) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.metaStore.Keys(id)
}

// MetadataKeyCount returns the number of attributes stored for a vector.
func (i *Index) MetadataKeyCount(id VectorID) int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.metaStore.KeyCount(id)
}

// decodeWALValue parses the tagged value from a SetMetadata payload.
func decodeWALValue(payload []byte) (VectorID, string, Value, error) {
	if len(payload) < 10 {
		return 0, "", Value{}, fmt.Errorf("edgevec: truncated metadata record")
	}
	id := binary.LittleEndian.Uint64(payload)
	keyLen := int(binary.LittleEndian.Uint16(payload[8:]))
	if len(payload) < 10+keyLen {
		return 0, "", Value{}, fmt.Errorf("edgevec: truncated metadata key")
	}
	key := string(payload[10 : 10+keyLen])
	value, _, err := meta.DecodeBinary(payload[10+keyLen:])
	if err != nil {
		return 0, "", Value{}, err
	}
	return id, key, value, nil
}
