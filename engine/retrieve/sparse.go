package retrieve

import (
	"hash/fnv"
	"sort"
	"strings"
	"unicode"

	"github.com/rawcontext/engram/storage/vector"
)

// bm25K1 is the term-frequency saturation constant applied to query terms,
// matching engine/index's document-side sparse representation so the two
// sides of a sparse search are comparable (spec.md §4.5 step 2 "embed the
// query... for sparse, tokenize and weight the same way documents are").
// Duplicated rather than imported so engine/retrieve does not depend on
// engine/index, mirroring the Embedder duplication in embedder.go.
const bm25K1 = 1.2

// embedSparse tokenizes a query the same way engine/index tokenizes
// documents, producing a deterministic sparse vector with strictly
// ascending indices.
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
