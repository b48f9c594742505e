package edgevec

import (
	"context"
	"fmt"
)

// BatchItem is one vector of an eager batch insert, with its optional
// attribute bag.
type BatchItem struct {
	Vector   []float32
	Metadata map[string]Value
}

// BatchConfig tunes a batch insert.
type BatchConfig struct {
	// Progress, when set, is invoked with (inserted, total) at most at
	// 10% intervals of the batch plus once at completion.
	Progress func(inserted, total int)
}

// BatchResult reports a batch insert. On a validation failure nothing
// is inserted; on a runtime failure mid-stream the batch stops and the
// partial result carries the first error.
type BatchResult struct {
	InsertedCount int
	Total         int
	IDs           []VectorID
	FirstErr      error
}

// InsertBatch validates every item first (dimension, finiteness,
// metadata well-formedness) and only then ingests them in order. The
// batch is eager: items are materialized by the caller, so validation
// covers the whole batch before the first id is assigned.
func (i *Index) InsertBatch(ctx context.Context, items []BatchItem, cfg BatchConfig) (BatchResult, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	result := BatchResult{Total: len(items)}
	if i.closed {
		return result, ErrClosed
	}
	if i.cfg.Variant == Binary {
		return result, fmt.Errorf("edgevec: dense batch insert into binary storage")
	}
	if len(items) == 0 {
		return result, ErrEmptyBatch
	}

	for n, item := range items {
		if err := i.validateDense(item.Vector); err != nil {
			return result, fmt.Errorf("item %d: %w", n, err)
		}
		if err := validateMetadataBag(item.Metadata); err != nil {
			return result, fmt.Errorf("item %d: %w", n, err)
		}
	}

	step := len(items) / 10
	if step == 0 {
		step = len(items)
	}

	result.IDs = make([]VectorID, 0, len(items))
	for n, item := range items {
		select {
		case <-ctx.Done():
			result.FirstErr = ctx.Err()
			return result, nil
		default:
		}

		id, err := i.insertLocked(item.Vector, item.Metadata)
		if err != nil {
			result.FirstErr = err
			return result, nil
		}
		result.IDs = append(result.IDs, id)
		result.InsertedCount++

		if cfg.Progress != nil && (n+1)%step == 0 {
			cfg.Progress(result.InsertedCount, result.Total)
		}
	}

	if cfg.Progress != nil && result.InsertedCount%step != 0 {
		cfg.Progress(result.InsertedCount, result.Total)
	}
	return result, nil
}
