package edgevec

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/edgevec/edgevec/internal/filter"
	"github.com/edgevec/edgevec/internal/index/flat"
	"github.com/edgevec/edgevec/internal/index/hnsw"
	"github.com/edgevec/edgevec/internal/metric"
	"github.com/edgevec/edgevec/internal/quant"
)

// Search returns the k nearest vectors to a dense query. ef overrides
// the configured beam width when positive and is raised to at least k.
// An empty index yields an empty result.
func (i *Index) Search(ctx context.Context, query []float32, k int, ef ...int) ([]SearchResult, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return nil, ErrClosed
	}
	if i.cfg.Variant == Binary {
		return nil, fmt.Errorf("edgevec: dense search on binary storage; use SearchBinary")
	}
	if err := i.validateDense(query); err != nil {
		i.metrics.SearchErrors.Inc()
		return nil, err
	}
	return i.timedSearch(func() ([]SearchResult, error) {
		return i.searchRecord(i.encodeDense(query), k, optionalEf(ef), nil)
	})
}

// SearchBinary returns the k nearest vectors to a packed binary query
// under Hamming distance.
func (i *Index) SearchBinary(ctx context.Context, packed []byte, k int, ef ...int) ([]SearchResult, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return nil, ErrClosed
	}
	if i.cfg.Variant != Binary {
		return nil, fmt.Errorf("edgevec: binary search on %s storage", i.cfg.Variant)
	}
	if err := quant.ValidateBinary(packed, i.cfg.Dimension); err != nil {
		i.metrics.SearchErrors.Inc()
		return nil, fmt.Errorf("%w: %v", ErrDimensionMismatch, err)
	}
	return i.timedSearch(func() ([]SearchResult, error) {
		return i.searchRecord(packed, k, optionalEf(ef), nil)
	})
}

// SearchFiltered parses the predicate, estimates its selectivity to
// derive an overfetch multiplier, and searches with the predicate as an
// output filter. When the filter removes more than the overfetch covers
// the short result is returned as-is.
func (i *Index) SearchFiltered(ctx context.Context, query []float32, filterExpr string, k int) ([]SearchResult, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return nil, ErrClosed
	}
	if i.cfg.Variant == Binary {
		return nil, fmt.Errorf("edgevec: dense search on binary storage; use SearchBinary")
	}
	if err := i.validateDense(query); err != nil {
		i.metrics.SearchErrors.Inc()
		return nil, err
	}

	expr, err := filter.Parse(filterExpr)
	if err != nil {
		i.metrics.SearchErrors.Inc()
		return nil, err
	}
	pred := func(id VectorID) bool {
		return expr.Matches(i.metaStore.Row(id))
	}

	overfetch := overfetchFactor(expr.Selectivity())

	return i.timedSearch(func() ([]SearchResult, error) {
		results, err := i.searchRecord(i.encodeDense(query), k*overfetch, 0, pred)
		if err != nil {
			return nil, err
		}
		if len(results) > k {
			results = results[:k]
		}
		if len(results) < k {
			i.logger.Debug("filtered search returned short result",
				"want", k, "got", len(results), "overfetch", overfetch)
		}
		return results, nil
	})
}

// overfetchFactor clamps 1/selectivity into [2, 10].
func overfetchFactor(selectivity float64) int {
	f := 1.0 / selectivity
	if f < 2 {
		f = 2
	}
	if f > 10 {
		f = 10
	}
	return int(f)
}

// SearchHybrid scans the binary sidecar under Hamming distance for
// k x overfetch candidates, then optionally reranks them with the exact
// dense metric. Requires the hybrid configuration.
func (i *Index) SearchHybrid(ctx context.Context, query []float32, k int, rescore bool) ([]SearchResult, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.closed {
		return nil, ErrClosed
	}
	if i.binStore == nil {
		return nil, fmt.Errorf("edgevec: hybrid search requires WithHybrid")
	}
	if err := i.validateDense(query); err != nil {
		i.metrics.SearchErrors.Inc()
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	return i.timedSearch(func() ([]SearchResult, error) {
		packed := quant.QuantizeBinary(query)
		hammingScan := flat.New(i.binStore, func(a, b []byte) float32 {
			return float32(metric.HammingBytes(a, b))
		})
		candidates := hammingScan.Search(packed, k*i.cfg.HybridOverfetch)

		if !rescore {
			out := toSearchResults(candidates)
			if len(out) > k {
				out = out[:k]
			}
			return out, nil
		}

		queryRec := i.encodeDense(query)
		rescored := make([]SearchResult, 0, len(candidates))
		for _, c := range candidates {
			rec := i.store.Get(c.ID)
			if rec == nil {
				continue
			}
			rescored = append(rescored, SearchResult{ID: c.ID, Score: i.kernel(queryRec, rec)})
		}
		sort.Slice(rescored, func(a, b int) bool {
			if rescored[a].Score != rescored[b].Score {
				return rescored[a].Score < rescored[b].Score
			}
			return rescored[a].ID < rescored[b].ID
		})
		if len(rescored) > k {
			rescored = rescored[:k]
		}
		return rescored, nil
	})
}

// searchRecord is the single dispatcher behind every search mode: the
// query is already in record form, the predicate optional.
func (i *Index) searchRecord(queryRec []byte, k, ef int, pred func(id VectorID) bool) ([]SearchResult, error) {
	if k < 0 {
		return nil, ErrInvalidK
	}
	if k == 0 || i.store.Count() == 0 {
		return nil, nil
	}

	if i.graph != nil {
		results, err := i.graph.Search(queryRec, k, ef, pred)
		if err != nil {
			if errors.Is(err, hnsw.ErrEmptyIndex) {
				return nil, nil
			}
			return nil, err
		}
		out := make([]SearchResult, len(results))
		for n, r := range results {
			out[n] = SearchResult{ID: r.ID, Score: r.Distance}
		}
		return out, nil
	}

	return toSearchResults(i.flat.SearchFiltered(queryRec, k, pred)), nil
}

func toSearchResults(results []flat.Result) []SearchResult {
	out := make([]SearchResult, len(results))
	for n, r := range results {
		out[n] = SearchResult{ID: r.ID, Score: r.Distance}
	}
	return out
}

func (i *Index) timedSearch(fn func() ([]SearchResult, error)) ([]SearchResult, error) {
	start := time.Now()
	results, err := fn()
	i.metrics.SearchQueries.Inc()
	i.metrics.SearchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		i.metrics.SearchErrors.Inc()
	}
	return results, err
}

func optionalEf(ef []int) int {
	if len(ef) > 0 {
		return ef[0]
	}
	return 0
}
