// Package vector is the hybrid retrieval vector-store facade (spec.md
// §4.7, §6 "Vector collection schema"): one collection per deployment with
// named vectors text_dense(384,cosine), code_dense(768,cosine), an optional
// colbert(128,MaxSim,multivector), plus a sparse field, payload-indexed on
// session_id/type/timestamp. It generalizes the teacher's single-vector
// Qdrant client into this named-vector schema.
package vector

import "context"

// Kind selects which named vector a query or point targets.
type Kind string

const (
	KindTextDense Kind = "text_dense"
	KindCodeDense Kind = "code_dense"
	KindColbert   Kind = "colbert"
	KindSparse    Kind = "sparse"
)

const (
	textDenseDims = 384
	codeDenseDims = 768
	colbertDims   = 128
)

// SparseVector is a sparse embedding expressed as parallel index/value
// slices (BM25-style term weights).
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// Point is one record to upsert: at least one of Text/Code/Colbert/Sparse
// must be set, matching which named vector(s) the caller populated.
type Point struct {
	ID      string
	Text    []float32
	Code    []float32
	Colbert [][]float32 // multivector: one row per token embedding
	Sparse  *SparseVector
	Payload map[string]any
}

// SearchRequest targets exactly one named vector; hybrid fusion across
// kinds is performed by engine/retrieve, not by the store itself.
type SearchRequest struct {
	Kind    Kind
	Dense   []float32     // for text_dense/code_dense
	Colbert [][]float32   // for colbert
	Sparse  *SparseVector // for sparse
	Limit   int
	Filters map[string]string
}

// SearchResult mirrors spec.md §6 SearchResult, minus reranker fields which
// engine/retrieve attaches after fusion.
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Store is the capability interface engine/index (writes) and
// engine/retrieve (reads) consume.
type Store interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// EnsureCollection creates the named-vector collection if absent.
	// destructive, when true, allows dropping and recreating an existing
	// collection whose schema has drifted — callers must gate this behind
	// an explicit migration flag (spec.md §4.7 "destructive migration
	// guarded by a flag").
	EnsureCollection(ctx context.Context, destructive bool) error

	Upsert(ctx context.Context, points []Point) error
	DeleteBySessionID(ctx context.Context, sessionID string) error
	Search(ctx context.Context, req SearchRequest) ([]SearchResult, error)
}
