package vector

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryStore is an in-process fake Store for unit-testing engine/index and
// engine/retrieve without a live Qdrant instance. Search does a brute-force
// cosine/dot scan, sufficient for the small fixtures these tests use.
type MemoryStore struct {
	mu        sync.Mutex
	connected bool
	points    map[string]Point
}

// NewMemoryStore returns a ready-to-use fake vector store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{points: make(map[string]Point)}
}

func (m *MemoryStore) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *MemoryStore) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MemoryStore) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MemoryStore) EnsureCollection(ctx context.Context, destructive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if destructive {
		m.points = make(map[string]Point)
	}
	return nil
}

func (m *MemoryStore) Upsert(ctx context.Context, pts []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range pts {
		m.points[p.ID] = p
	}
	return nil
}

func (m *MemoryStore) DeleteBySessionID(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.points {
		if sid, _ := p.Payload["session_id"].(string); sid == sessionID {
			delete(m.points, id)
		}
	}
	return nil
}

func (m *MemoryStore) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type scored struct {
		Point
		score float32
	}
	var candidates []scored
	for _, p := range m.points {
		if !matchesFilters(p, req.Filters) {
			continue
		}
		if req.Kind == KindSparse {
			if p.Sparse == nil || req.Sparse == nil {
				continue
			}
			candidates = append(candidates, scored{Point: p, score: sparseDot(*p.Sparse, *req.Sparse)})
			continue
		}
		var vec []float32
		switch req.Kind {
		case KindCodeDense:
			vec = p.Code
		case KindTextDense:
			vec = p.Text
		default:
			vec = p.Text
		}
		if vec == nil {
			continue
		}
		candidates = append(candidates, scored{Point: p, score: cosine(vec, req.Dense)})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	limit := req.Limit
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}
	out := make([]SearchResult, limit)
	for i := 0; i < limit; i++ {
		out[i] = SearchResult{ID: candidates[i].ID, Score: candidates[i].score, Payload: candidates[i].Payload}
	}
	return out, nil
}

func matchesFilters(p Point, filters map[string]string) bool {
	for k, v := range filters {
		got, _ := p.Payload[k].(string)
		if got != v {
			return false
		}
	}
	return true
}

// sparseDot scores two sparse vectors by dot product over shared indices,
// matching how a real sparse (BM25-style) index scores a query against a
// document vector.
func sparseDot(a, b SparseVector) float32 {
	vals := make(map[uint32]float32, len(a.Indices))
	for i, idx := range a.Indices {
		vals[idx] = a.Values[i]
	}
	var sum float32
	for i, idx := range b.Indices {
		if v, ok := vals[idx]; ok {
			sum += v * b.Values[i]
		}
	}
	return sum
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
