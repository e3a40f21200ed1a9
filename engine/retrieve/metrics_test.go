package retrieve

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/rawcontext/engram/pkg/metrics"
)

func TestRerankerRecordsLatencyWhenMetricsAttached(t *testing.T) {
	reg := prometheus.NewRegistry()
	collectors := metrics.NewPromCollectors(reg)

	cache := NewModelCache(time.Minute)
	key := ModelKey{Name: "fast-model"}
	cache.Register(key, func() (Model, error) { return fakeModel{}, nil })

	rr := NewReranker(cache, map[Tier]ModelKey{TierFast: key}, 100*time.Millisecond).WithMetrics(collectors)
	rr.Rerank(context.Background(), TierFast, "q", []Candidate{{ID: "a"}})

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if !hasSample(families, "engram_retrieve_rerank_latency_seconds") {
		t.Fatal("expected a rerank_latency_seconds sample after Rerank")
	}
}

func TestRetrieverFuseMetricsAreOptional(t *testing.T) {
	r := &Retriever{rrfK: DefaultRRFK}
	// no WithMetrics call: collectors is nil, ObserveRRFFusion must no-op.
	got := r.fuse(DefaultRRFK)
	if len(got) != 0 {
		t.Fatalf("expected empty fusion result, got %v", got)
	}
}

func hasSample(families []*dto.MetricFamily, name string) bool {
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) > 0 {
			return true
		}
	}
	return false
}

type fakeModel struct{}

func (fakeModel) Score(ctx context.Context, query string, candidates []Candidate) ([]float64, error) {
	scores := make([]float64, len(candidates))
	for i := range scores {
		scores[i] = 1.0
	}
	return scores, nil
}
