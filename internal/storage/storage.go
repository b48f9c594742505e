// Package storage owns the packed vector buffer: id allocation, raw
// record access, the soft-delete bitmap and the optional WAL handle.
package storage

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/edgevec/edgevec/internal/quant"
	"github.com/edgevec/edgevec/internal/storage/wal"
)

// Variant selects how each stored record is laid out. It is fixed at
// index creation.
type Variant int

const (
	// Float32 stores dim native float32 values per vector.
	Float32 Variant = iota
	// SQ8 stores dim uint8 codes plus a per-vector scale and offset.
	SQ8
	// Binary stores ceil(bits/8) packed bytes per vector, MSB-first.
	Binary
)

// String returns the variant name.
func (v Variant) String() string {
	switch v {
	case Float32:
		return "float32"
	case SQ8:
		return "sq8"
	case Binary:
		return "binary"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// Storage failure modes.
var (
	ErrInvalidDimension = errors.New("storage: payload length does not match variant")
	ErrCapacityExceeded = errors.New("storage: maximum vector count reached")
	ErrNotFound         = errors.New("storage: id never assigned")
)

// Config fixes the record layout of a store.
type Config struct {
	Variant Variant
	// Dim is the vector dimension; for Binary it is the nominal
	// bit-dimension.
	Dim int
	// MaxVectors bounds the id space when non-zero.
	MaxVectors uint64
}

// RecordSize returns the fixed per-vector byte size for the config.
func (c Config) RecordSize() int {
	switch c.Variant {
	case SQ8:
		return quant.SQ8RecordSize(c.Dim)
	case Binary:
		return quant.PackedLen(c.Dim)
	default:
		return c.Dim * 4
	}
}

// Store is the contiguous vector buffer with its id allocator and
// soft-delete bitmap. Mutation requires exclusive access; readers may
// share. The store imposes no locking of its own.
type Store struct {
	cfg        Config
	recordSize int

	vectors      []byte
	count        uint64
	deleted      *bitset.BitSet
	deletedCount uint64

	wal *wal.Log
}

// New creates an empty store for the given layout.
func New(cfg Config) (*Store, error) {
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("storage: dimension must be positive, got %d", cfg.Dim)
	}
	return &Store{
		cfg:        cfg,
		recordSize: cfg.RecordSize(),
		deleted:    bitset.New(0),
	}, nil
}

// Config returns the immutable layout configuration.
func (s *Store) Config() Config { return s.cfg }

// RecordSize returns the fixed per-vector record size in bytes.
func (s *Store) RecordSize() int { return s.recordSize }

// AttachWAL hands the store a WAL segment; subsequent mutations are
// logged before they become visible.
func (s *Store) AttachWAL(l *wal.Log) { s.wal = l }

// WAL returns the attached segment, or nil.
func (s *Store) WAL() *wal.Log { return s.wal }

// Insert validates the payload against the record layout, logs it,
// appends it to the buffer and returns the assigned id.
func (s *Store) Insert(payload []byte) (uint64, error) {
	if len(payload) != s.recordSize {
		return 0, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidDimension, len(payload), s.recordSize)
	}
	if s.cfg.MaxVectors > 0 && s.count >= s.cfg.MaxVectors {
		return 0, fmt.Errorf("%w: limit %d", ErrCapacityExceeded, s.cfg.MaxVectors)
	}

	id := s.count
	if s.wal != nil {
		if _, err := s.wal.AppendInsert(id, payload); err != nil {
			return 0, err
		}
	}

	s.vectors = append(s.vectors, payload...)
	s.count++
	return id, nil
}

// Get returns the record for id, or nil if the id is out of range or
// soft-deleted.
func (s *Store) Get(id uint64) []byte {
	if id >= s.count || s.deleted.Test(uint(id)) {
		return nil
	}
	return s.record(id)
}

// Raw returns the record for id regardless of its deleted flag. Graph
// traversal uses it to route through tombstoned nodes.
func (s *Store) Raw(id uint64) []byte {
	if id >= s.count {
		return nil
	}
	return s.record(id)
}

func (s *Store) record(id uint64) []byte {
	off := int(id) * s.recordSize
	return s.vectors[off : off+s.recordSize]
}

// SoftDelete marks id deleted. It is idempotent and reports whether the
// state changed.
func (s *Store) SoftDelete(id uint64) (bool, error) {
	if id >= s.count {
		return false, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if s.deleted.Test(uint(id)) {
		return false, nil
	}
	if s.wal != nil {
		if _, err := s.wal.AppendSoftDelete(id); err != nil {
			return false, err
		}
	}
	s.deleted.Set(uint(id))
	s.deletedCount++
	return true, nil
}

// IsDeleted reports the soft-delete flag of id. Out-of-range ids read as
// deleted.
func (s *Store) IsDeleted(id uint64) bool {
	return id >= s.count || s.deleted.Test(uint(id))
}

// Count returns the number of assigned ids, deleted included.
func (s *Store) Count() uint64 { return s.count }

// DeletedCount returns the number of soft-deleted ids.
func (s *Store) DeletedCount() uint64 { return s.deletedCount }

// ActiveCount returns the number of live vectors.
func (s *Store) ActiveCount() uint64 { return s.count - s.deletedCount }

// DeletedFraction returns deleted/count, zero for an empty store.
func (s *Store) DeletedFraction() float64 {
	if s.count == 0 {
		return 0
	}
	return float64(s.deletedCount) / float64(s.count)
}

// IterActive calls fn for each live (id, record) pair in id order until
// fn returns false.
func (s *Store) IterActive(fn func(id uint64, rec []byte) bool) {
	for id := uint64(0); id < s.count; id++ {
		if s.deleted.Test(uint(id)) {
			continue
		}
		if !fn(id, s.record(id)) {
			return
		}
	}
}

// CompactionReport summarizes a physical rewrite.
type CompactionReport struct {
	Before         uint64
	After          uint64
	ReclaimedBytes int64
}

// Compact rewrites the buffer keeping only live vectors in insertion
// order and clears the bitmap. The returned remap slice maps old id to
// new id, with NoRemap for dropped ids.
func (s *Store) Compact() (CompactionReport, []uint64) {
	report := CompactionReport{Before: s.count}

	remap := make([]uint64, s.count)
	fresh := make([]byte, 0, int(s.ActiveCount())*s.recordSize)
	var next uint64
	for id := uint64(0); id < s.count; id++ {
		if s.deleted.Test(uint(id)) {
			remap[id] = NoRemap
			continue
		}
		remap[id] = next
		fresh = append(fresh, s.record(id)...)
		next++
	}

	report.After = next
	report.ReclaimedBytes = int64(len(s.vectors) - len(fresh))

	s.vectors = fresh
	s.count = next
	s.deleted = bitset.New(uint(next))
	s.deletedCount = 0
	return report, remap
}

// NoRemap marks an id dropped by compaction.
const NoRemap = ^uint64(0)

// Buffer exposes the packed vector payload for snapshotting.
func (s *Store) Buffer() []byte { return s.vectors }

// DeletedBitmap packs the soft-delete flags into ceil(count/8) bytes,
// id i occupying bit i%8 of byte i/8.
func (s *Store) DeletedBitmap() []byte {
	out := make([]byte, (s.count+7)/8)
	for id := uint64(0); id < s.count; id++ {
		if s.deleted.Test(uint(id)) {
			out[id/8] |= 1 << (id % 8)
		}
	}
	return out
}

// Restore replaces the store contents from snapshot sections. The
// bitmap uses the DeletedBitmap packing.
func (s *Store) Restore(buffer []byte, count uint64, bitmap []byte) error {
	if uint64(len(buffer)) != count*uint64(s.recordSize) {
		return fmt.Errorf("storage: buffer length %d does not match count %d x record %d",
			len(buffer), count, s.recordSize)
	}
	if uint64(len(bitmap)) < (count+7)/8 {
		return fmt.Errorf("storage: bitmap too short for %d vectors", count)
	}

	s.vectors = buffer
	s.count = count
	s.deleted = bitset.New(uint(count))
	s.deletedCount = 0
	for id := uint64(0); id < count; id++ {
		if bitmap[id/8]&(1<<(id%8)) != 0 {
			s.deleted.Set(uint(id))
			s.deletedCount++
		}
	}
	return nil
}
