package edgevec

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/edgevec/edgevec/internal/meta"
	"github.com/edgevec/edgevec/internal/persist"
	"github.com/edgevec/edgevec/internal/quant"
	"github.com/edgevec/edgevec/internal/storage"
	"github.com/edgevec/edgevec/internal/storage/wal"
)

// Backend is the pluggable snapshot store. File and BadgerDB
// implementations are provided.
type Backend = persist.Backend

// NewFileBackend stores the snapshot at path, replaced atomically by
// temp-file-then-rename. The conventional layout is `<base>.snap` next
// to an optional `<base>.wal` segment.
func NewFileBackend(path string) Backend { return persist.NewFileBackend(path) }

// BadgerOptions configures the keyed blob store backend.
type BadgerOptions = persist.BadgerOptions

// NewBadgerBackend stores the snapshot under key in an open BadgerDB.
var NewBadgerBackend = persist.NewBadgerBackend

// OpenBadger opens the keyed blob store used by NewBadgerBackend.
var OpenBadger = persist.OpenBadger

// Save serializes the whole index through the backend in one atomic
// write and truncates the WAL. The backend is remembered so Compact can
// rewrite the snapshot.
func (i *Index) Save(ctx context.Context, backend Backend) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return ErrClosed
	}
	return i.saveLocked(backend)
}

func (i *Index) saveLocked(backend Backend) error {
	snap := &persist.Snapshot{
		VectorCount:   i.store.Count(),
		RNGSeed:       i.cfg.RNGSeed,
		Dimensions:    uint32(i.cfg.Dimension),
		DeletedCount:  uint32(i.store.DeletedCount()),
		Vectors:       i.store.Buffer(),
		DeletedBitmap: i.store.DeletedBitmap(),
	}

	switch i.cfg.Variant {
	case SQ8:
		snap.Flags |= persist.FlagQuantized
	case Binary:
		snap.Flags |= persist.FlagBinary
	}

	if i.graph != nil {
		snap.M = uint32(i.cfg.M)
		snap.M0 = uint32(i.cfg.M0)
		snap.Nodes = i.graph.Nodes()
		snap.Pool = i.graph.Pool()
		snap.EntryPoint = i.graph.EntryPoint()
		snap.MaxLayer = uint8(i.graph.TopLayer())
	}

	if i.metaStore.Len() > 0 {
		snap.Metadata = i.metaStore
		if i.cfg.MetadataJSON {
			snap.MetadataFormat = persist.MetaFormatJSON
		} else {
			snap.MetadataFormat = persist.MetaFormatBinary
		}
	}

	if err := persist.Write(backend, snap); err != nil {
		return fmt.Errorf("edgevec: save: %w", err)
	}

	if i.wal != nil {
		if err := i.wal.Truncate(); err != nil {
			return fmt.Errorf("edgevec: save: %w", err)
		}
	}

	i.backend = backend
	i.logger.Info("snapshot written", "vectors", snap.VectorCount, "deleted", snap.DeletedCount)
	return nil
}

// Load reconstructs an index from a snapshot. Structural parameters
// (dimension, variant, M, M0, RNG seed) come from the header; options
// supply the rest (metric, ef values, WAL path, hybrid mode). A version
// 3 snapshot loads with an empty metadata store and is rewritten as
// version 4 on the next Save. If a WAL segment holds records newer than
// the snapshot they are replayed before the index goes live.
func Load(ctx context.Context, backend Backend, opts ...Option) (*Index, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("edgevec: invalid option: %w", err)
		}
	}

	snap, err := persist.Read(backend)
	if err != nil {
		return nil, fmt.Errorf("edgevec: load: %w", err)
	}

	cfg.Dimension = int(snap.Dimensions)
	cfg.RNGSeed = snap.RNGSeed
	switch {
	case snap.Flags&persist.FlagBinary != 0:
		cfg.Variant = Binary
		cfg.Metric = Hamming
	case snap.Flags&persist.FlagQuantized != 0:
		cfg.Variant = SQ8
	default:
		if cfg.Variant == Binary {
			cfg.Variant = Float32
		}
	}
	if snap.M > 0 {
		cfg.Kind = HNSW
		cfg.M = int(snap.M)
		cfg.M0 = int(snap.M0)
	} else {
		cfg.Kind = Flat
	}

	idx, err := newFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	// Restore below the WAL: replayed records must not be re-logged.
	idx.store.AttachWAL(nil)

	vectors := append([]byte(nil), snap.Vectors...)
	if err := idx.store.Restore(vectors, snap.VectorCount, snap.DeletedBitmap); err != nil {
		return nil, fmt.Errorf("edgevec: load: %w: %v", ErrCorruptSnapshot, err)
	}

	if idx.graph != nil {
		if uint64(len(snap.Nodes)) != snap.VectorCount {
			return nil, fmt.Errorf("edgevec: load: %w: node/storage parity broken", ErrCorruptSnapshot)
		}
		if err := idx.graph.Restore(snap.Nodes, snap.Pool, snap.EntryPoint, int(snap.MaxLayer)); err != nil {
			return nil, fmt.Errorf("edgevec: load: %w", err)
		}
	}

	if snap.Metadata != nil {
		idx.metaStore = snap.Metadata
	} else {
		// v3 snapshots predate metadata; synthesize an empty store.
		idx.metaStore = meta.NewStore()
	}

	if idx.binStore != nil {
		if err := idx.rebuildSidecar(); err != nil {
			return nil, err
		}
	}

	if idx.wal != nil {
		if err := idx.replayWAL(); err != nil {
			return nil, err
		}
		idx.store.AttachWAL(idx.wal)
	}

	idx.backend = backend
	idx.logger.Info("snapshot loaded",
		"vectors", snap.VectorCount, "version_minor", snap.VersionMinor,
		"has_metadata", snap.Metadata != nil)
	return idx, nil
}

// rebuildSidecar re-quantizes every stored vector into the hybrid
// binary sidecar; sign quantization is deterministic so the sidecar is
// not persisted.
func (i *Index) rebuildSidecar() error {
	bin, err := storage.New(storage.Config{Variant: storage.Binary, Dim: i.cfg.Dimension})
	if err != nil {
		return fmt.Errorf("edgevec: load: %w", err)
	}
	for id := uint64(0); id < i.store.Count(); id++ {
		rec := i.store.Raw(id)
		var vec []float32
		if i.cfg.Variant == SQ8 {
			vec = quant.UnpackSQ8(rec, i.cfg.Dimension)
		} else {
			vec = f32view(rec)
		}
		if _, err := bin.Insert(quant.QuantizeBinary(vec)); err != nil {
			return fmt.Errorf("edgevec: load: %w", err)
		}
		if i.store.IsDeleted(id) {
			_, _ = bin.SoftDelete(id)
		}
	}
	i.binStore = bin
	return nil
}

// replayWAL applies records the snapshot has not absorbed. Records for
// ids already present are skipped; a gap in insert ids is corruption.
func (i *Index) replayWAL() error {
	records, err := i.wal.Read()
	if err != nil {
		return fmt.Errorf("edgevec: load: %w", err)
	}

	var applied int
	for _, rec := range records {
		switch rec.Type {
		case wal.OpInsert:
			if len(rec.Payload) < 8 {
				return fmt.Errorf("edgevec: load: %w: short insert record", ErrCorruptSnapshot)
			}
			id := binary.LittleEndian.Uint64(rec.Payload)
			payload := rec.Payload[8:]
			switch {
			case id < i.store.Count():
				continue // already in the snapshot
			case id > i.store.Count():
				return fmt.Errorf("edgevec: load: %w: insert id %d leaves a gap", ErrCorruptSnapshot, id)
			}
			got, err := i.store.Insert(payload)
			if err != nil {
				return fmt.Errorf("edgevec: load: %w", err)
			}
			if i.binStore != nil {
				vec := f32view(payload)
				if i.cfg.Variant == SQ8 {
					vec = quant.UnpackSQ8(payload, i.cfg.Dimension)
				}
				if _, err := i.binStore.Insert(quant.QuantizeBinary(vec)); err != nil {
					return fmt.Errorf("edgevec: load: %w", err)
				}
			}
			if i.graph != nil {
				if err := i.graph.Insert(got); err != nil {
					return fmt.Errorf("edgevec: load: %w", err)
				}
			}
			applied++

		case wal.OpSoftDelete:
			if len(rec.Payload) < 8 {
				return fmt.Errorf("edgevec: load: %w: short delete record", ErrCorruptSnapshot)
			}
			id := binary.LittleEndian.Uint64(rec.Payload)
			if i.store.IsDeleted(id) {
				continue
			}
			if err := i.softDeleteReplay(id); err != nil {
				return err
			}
			applied++

		case wal.OpSetMetadata:
			id, key, value, err := decodeWALValue(rec.Payload)
			if err != nil {
				return fmt.Errorf("edgevec: load: %w", err)
			}
			if err := i.metaStore.Set(id, key, value); err != nil {
				return fmt.Errorf("edgevec: load: %w", err)
			}
			applied++

		case wal.OpDeleteMetadata:
			if len(rec.Payload) < 10 {
				return fmt.Errorf("edgevec: load: %w: short record", ErrCorruptSnapshot)
			}
			id := binary.LittleEndian.Uint64(rec.Payload)
			keyLen := int(binary.LittleEndian.Uint16(rec.Payload[8:]))
			if len(rec.Payload) < 10+keyLen {
				return fmt.Errorf("edgevec: load: %w: short record", ErrCorruptSnapshot)
			}
			i.metaStore.Delete(id, string(rec.Payload[10:10+keyLen]))
			applied++

		case wal.OpDeleteAllMetadata:
			if len(rec.Payload) < 8 {
				return fmt.Errorf("edgevec: load: %w: short record", ErrCorruptSnapshot)
			}
			i.metaStore.DeleteAll(binary.LittleEndian.Uint64(rec.Payload))
			applied++

		default:
			i.logger.Warn("skipping unknown WAL record type", "type", rec.Type, "seq", rec.Seq)
		}
	}

	if applied > 0 {
		i.logger.Info("WAL replayed", "records", applied)
	}
	return nil
}

// softDeleteReplay mirrors softDeleteLocked without WAL writes or
// metrics, for load-time replay.
func (i *Index) softDeleteReplay(id VectorID) error {
	if _, err := i.store.SoftDelete(id); err != nil {
		return fmt.Errorf("edgevec: load: %w", err)
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
	return nil
}
