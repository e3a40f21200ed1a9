package index

import (
	"hash/fnv"
	"sort"
	"strings"
	"unicode"

	"github.com/rawcontext/engram/storage/vector"
)

// bm25K1 is the term-frequency saturation constant (standard BM25 default);
// no corpus-wide idf term is available at index time, so this sparse
// representation saturates on raw term frequency alone — still deterministic
// and still useful as a lexical complement to the dense vectors in hybrid
// fusion (spec.md §4.4 "deterministic sparse representation").
const bm25K1 = 1.2

// embedSparse tokenizes text and produces a deterministic sparse vector:
// each distinct token hashes to a fixed uint32 index, weighted by
// BM25-style term-frequency saturation. Indices are returned in strictly
// ascending order, per spec.md §4.4.
func embedSparse(text string) vector.SparseVector {
	counts := make(map[uint32]int)
	for _, tok := range tokenize(text) {
		counts[hashToken(tok)]++
	}

	indices := make([]uint32, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	values := make([]float32, len(indices))
	for i, idx := range indices {
		tf := float64(counts[idx])
		values[i] = float32((tf * (bm25K1 + 1)) / (tf + bm25K1))
	}

	return vector.SparseVector{Indices: indices, Values: values}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func hashToken(tok string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tok))
	return h.Sum32()
}
