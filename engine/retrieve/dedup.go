package retrieve

import (
	"context"

	"github.com/rawcontext/engram/storage/vector"
)

// DefaultDedupThreshold is the cosine-similarity cutoff above which two
// thoughts are considered duplicates (spec.md §4.5 "Deduplication", default
// 0.95).
const DefaultDedupThreshold = 0.95

// Deduplicator finds an existing near-duplicate of new content before it is
// indexed, so the aggregator can collapse the new node onto it instead of
// writing a redundant point.
type Deduplicator struct {
	store     vector.Store
	threshold float32
}

// NewDeduplicator builds a Deduplicator over store with the given cosine
// threshold (DefaultDedupThreshold when <= 0).
func NewDeduplicator(store vector.Store, threshold float32) *Deduplicator {
	if threshold <= 0 {
		threshold = DefaultDedupThreshold
	}
	return &Deduplicator{store: store, threshold: threshold}
}

// FindDuplicate searches dense similarity for an existing point scoring at
// or above the threshold, returning its id. The second return is false when
// no sufficiently similar point exists.
func (d *Deduplicator) FindDuplicate(ctx context.Context, dense []float32, filters map[string]string) (string, bool, error) {
	results, err := d.store.Search(ctx, vector.SearchRequest{
		Kind:    vector.KindTextDense,
		Dense:   dense,
		Limit:   1,
		Filters: filters,
	})
	if err != nil {
		return "", false, err
	}
	if len(results) == 0 || results[0].Score < d.threshold {
		return "", false, nil
	}
	return results[0].ID, true, nil
}
