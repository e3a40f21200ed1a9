package retrieve

import (
	"sort"

	"github.com/rawcontext/engram/storage/vector"
)

// DefaultRRFK is the standard Reciprocal Rank Fusion constant (Cormack et
// al., 2009), matching spec.md §4.5's default.
const DefaultRRFK = 60

// Fused is one document's result after Reciprocal Rank Fusion, carrying the
// pre-rerank RRF score forward so Rerank can report both scores
// (spec.md §4.5 step 6).
type Fused struct {
	ID       string
	RRFScore float64
	Payload  map[string]any
}

// fuseRRF merges ranked result lists from independent fetch channels (dense,
// sparse, ...): each item at rank r (0-based) in a list contributes
// 1/(k+r+1) to its running total, summed across every list it appears in.
// Output is sorted by descending score, ties broken by id for determinism.
// Grounded on the TEMPR pipeline's rrfFuse (other_examples sqvect recall.go).
func fuseRRF(k int, lists ...[]vector.SearchResult) []Fused {
	if k <= 0 {
		k = DefaultRRFK
	}

	type accumulator struct {
		score   float64
		payload map[string]any
	}
	acc := make(map[string]*accumulator)

	for _, list := range lists {
		for rank, r := range list {
			contribution := 1.0 / float64(k+rank+1)
			if a, ok := acc[r.ID]; ok {
				a.score += contribution
			} else {
				acc[r.ID] = &accumulator{score: contribution, payload: r.Payload}
			}
		}
	}

	out := make([]Fused, 0, len(acc))
	for id, a := range acc {
		out = append(out, Fused{ID: id, RRFScore: a.score, Payload: a.payload})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RRFScore != out[j].RRFScore {
			return out[i].RRFScore > out[j].RRFScore
		}
		return out[i].ID < out[j].ID
	})
	return out
}
