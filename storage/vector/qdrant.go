package vector

import (
	"context"
	"fmt"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantStore is the Qdrant gRPC-backed Store implementation, generalizing
// the teacher's single-dense-vector client into the named-vector schema of
// spec.md §6.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string

	mu        sync.Mutex
	connected bool
}

// NewQdrantStore dials addr lazily; Connect performs the actual handshake
// via the collections List RPC.
func NewQdrantStore(addr, collection string) (*QdrantStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("vector: dial qdrant %s: %w", addr, err)
	}
	return &QdrantStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

func (q *QdrantStore) Connect(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.connected {
		return nil
	}
	if _, err := q.collections.List(ctx, &pb.ListCollectionsRequest{}); err != nil {
		return fmt.Errorf("vector: connect: %w", err)
	}
	q.connected = true
	return nil
}

func (q *QdrantStore) Disconnect(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.connected {
		return nil
	}
	q.connected = false
	return q.conn.Close()
}

func (q *QdrantStore) IsConnected() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.connected
}

func (q *QdrantStore) exists(ctx context.Context) (bool, error) {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return false, fmt.Errorf("vector: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return true, nil
		}
	}
	return false, nil
}

// EnsureCollection creates the named-vector + sparse-field schema described
// in spec.md §6. When destructive is true and the collection already
// exists, it is dropped and recreated — used only by an explicit schema
// migration path, never by steady-state startup.
func (q *QdrantStore) EnsureCollection(ctx context.Context, destructive bool) error {
	present, err := q.exists(ctx)
	if err != nil {
		return err
	}
	if present {
		if !destructive {
			return nil
		}
		if _, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: q.collection}); err != nil {
			return fmt.Errorf("vector: delete collection %s: %w", q.collection, err)
		}
	}

	vectorsConfig := &pb.VectorsConfig{
		Config: &pb.VectorsConfig_ParamsMap{
			ParamsMap: &pb.VectorParamsMap{
				Map: map[string]*pb.VectorParams{
					string(KindTextDense): {Size: textDenseDims, Distance: pb.Distance_Cosine},
					string(KindCodeDense): {Size: codeDenseDims, Distance: pb.Distance_Cosine},
					string(KindColbert): {
						Size:     colbertDims,
						Distance: pb.Distance_Cosine,
						MultivectorConfig: &pb.MultiVectorConfig{
							Comparator: pb.MultiVectorComparator_MaxSim,
						},
					},
				},
			},
		},
	}

	sparseConfig := &pb.SparseVectorConfig{
		Map: map[string]*pb.SparseVectorParams{
			string(KindSparse): {},
		},
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName:      q.collection,
		VectorsConfig:       vectorsConfig,
		SparseVectorsConfig: sparseConfig,
	})
	if err != nil {
		return fmt.Errorf("vector: create collection %s: %w", q.collection, err)
	}

	for _, field := range []string{"session_id", "type", "timestamp"} {
		if _, err := q.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
		}); err != nil {
			return fmt.Errorf("vector: index field %s: %w", field, err)
		}
	}
	return nil
}

func (q *QdrantStore) Upsert(ctx context.Context, pts []Point) error {
	if len(pts) == 0 {
		return nil
	}
	structs := make([]*pb.PointStruct, 0, len(pts))
	for _, p := range pts {
		named := map[string]*pb.Vector{}
		if p.Text != nil {
			named[string(KindTextDense)] = &pb.Vector{Data: p.Text}
		}
		if p.Code != nil {
			named[string(KindCodeDense)] = &pb.Vector{Data: p.Code}
		}
		if p.Colbert != nil {
			named[string(KindColbert)] = flattenMultivector(p.Colbert)
		}
		if p.Sparse != nil {
			named[string(KindSparse)] = &pb.Vector{
				Data: p.Sparse.Values,
				Indices: &pb.SparseIndices{
					Data: p.Sparse.Indices,
				},
			}
		}

		structs = append(structs, &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: p.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vectors{Vectors: &pb.NamedVectors{Vectors: named}}},
			Payload: toQdrantPayload(p.Payload),
		})
	}

	wait := true
	if _, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         structs,
	}); err != nil {
		return fmt.Errorf("vector: upsert %d points: %w", len(structs), err)
	}
	return nil
}

func (q *QdrantStore) DeleteBySessionID(ctx context.Context, sessionID string) error {
	wait := true
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{Must: []*pb.Condition{fieldMatch("session_id", sessionID)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vector: delete by session_id %s: %w", sessionID, err)
	}
	return nil
}

func (q *QdrantStore) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	sreq := &pb.SearchPoints{
		CollectionName: q.collection,
		VectorName:     strPtr(string(req.Kind)),
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}

	switch req.Kind {
	case KindSparse:
		if req.Sparse == nil {
			return nil, fmt.Errorf("vector: search: sparse query requires a sparse vector")
		}
		sreq.SparseIndices = &pb.SparseIndices{Data: req.Sparse.Indices}
		sreq.Vector = req.Sparse.Values
	case KindColbert:
		if len(req.Colbert) == 0 {
			return nil, fmt.Errorf("vector: search: colbert query requires token embeddings")
		}
		sreq.Vectors = flattenMultivector(req.Colbert)
	default:
		sreq.Vector = req.Dense
	}

	if len(req.Filters) > 0 {
		must := make([]*pb.Condition, 0, len(req.Filters))
		for k, v := range req.Filters {
			must = append(must, fieldMatch(k, v))
		}
		sreq.Filter = &pb.Filter{Must: must}
	}

	resp, err := q.points.Search(ctx, sreq)
	if err != nil {
		return nil, fmt.Errorf("vector: search: %w", err)
	}

	out := make([]SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		out[i] = SearchResult{
			ID:      r.GetId().GetUuid(),
			Score:   r.GetScore(),
			Payload: fromQdrantPayload(r.GetPayload()),
		}
	}
	return out, nil
}

func flattenMultivector(rows [][]float32) *pb.Vector {
	if len(rows) == 0 {
		return &pb.Vector{}
	}
	flat := make([]float32, 0, len(rows)*len(rows[0]))
	for _, row := range rows {
		flat = append(flat, row...)
	}
	return &pb.Vector{Data: flat, VectorsCount: uint32Ptr(uint32(len(rows)))}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func toQdrantPayload(m map[string]any) map[string]*pb.Value {
	payload := make(map[string]*pb.Value, len(m))
	for k, v := range m {
		switch tv := v.(type) {
		case string:
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
		case int:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
		case int64:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
		case float64:
			payload[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
		case bool:
			payload[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
		default:
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
		}
	}
	return payload
}

func fromQdrantPayload(m map[string]*pb.Value) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch kind := v.GetKind().(type) {
		case *pb.Value_StringValue:
			out[k] = kind.StringValue
		case *pb.Value_IntegerValue:
			out[k] = kind.IntegerValue
		case *pb.Value_DoubleValue:
			out[k] = kind.DoubleValue
		case *pb.Value_BoolValue:
			out[k] = kind.BoolValue
		}
	}
	return out
}

func strPtr(s string) *string { return &s }
func uint32Ptr(u uint32) *uint32 { return &u }
