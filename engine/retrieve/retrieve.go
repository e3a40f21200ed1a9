// Package retrieve implements the Retriever & Ranker (spec.md §4.5):
// classify the query, embed and fetch candidates, fuse with Reciprocal Rank
// Fusion, optionally rerank through a tiered model, and decide whether to
// abstain.
package retrieve

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rawcontext/engram/pkg/metrics"
	"github.com/rawcontext/engram/storage/vector"
)

// QueryOpts overrides the classifier's choice and tunes fetch/rerank
// behavior for one query.
type QueryOpts struct {
	Strategy       Strategy // empty: let the classifier decide
	IsCode         bool
	Limit          int
	RerankDepth    int
	ScoreThreshold float32
	EnableRerank   bool
	Filters        map[string]string
}

// Result is one row of Retrieve's output (spec.md §4.5 step 6: "results
// with both rrfScore and rerankerScore preserved").
type Result struct {
	ID            string
	Score         float64
	RRFScore      float64
	RerankerScore float64
	Payload       map[string]any
}

// Response is Retrieve's full output, including the abstention verdict.
type Response struct {
	Results    []Result
	Abstention AbstentionDecision
}

// Retriever runs the query path against a vector store, an embedder, and an
// optional reranker.
type Retriever struct {
	store      vector.Store
	embedder   Embedder
	reranker   *Reranker
	policy     AbstentionPolicy
	rrfK       int
	collectors *metrics.PromCollectors
}

// New builds a Retriever. reranker may be nil to disable step 4 entirely.
func New(store vector.Store, embedder Embedder, reranker *Reranker) *Retriever {
	return &Retriever{store: store, embedder: embedder, reranker: reranker, policy: DefaultAbstentionPolicy, rrfK: DefaultRRFK}
}

// WithMetrics attaches Prometheus histograms to r, recording every fuseRRF
// call's latency. Passing nil disables recording.
func (r *Retriever) WithMetrics(collectors *metrics.PromCollectors) *Retriever {
	r.collectors = collectors
	return r
}

func (r *Retriever) fuse(k int, lists ...[]vector.SearchResult) []Fused {
	start := time.Now()
	fused := fuseRRF(k, lists...)
	r.collectors.ObserveRRFFusion(time.Since(start))
	return fused
}

// Retrieve runs the full spec.md §4.5 query path for one query string.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts QueryOpts) (Response, error) {
	strategy := opts.Strategy
	if strategy == "" {
		strategy = Classify(query).Strategy
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	rerankDepth := opts.RerankDepth
	if rerankDepth < limit {
		rerankDepth = limit
	}

	fused, err := r.fetch(ctx, strategy, query, opts, rerankDepth)
	if err != nil {
		return Response{}, fmt.Errorf("retrieve: fetch: %w", err)
	}

	results := make([]Result, len(fused))
	for i, f := range fused {
		results[i] = Result{ID: f.ID, Score: f.RRFScore, RRFScore: f.RRFScore, Payload: f.Payload}
	}

	if opts.EnableRerank && r.reranker != nil && len(results) > 0 {
		candidates := make([]Candidate, len(fused))
		for i, f := range fused {
			candidates[i] = Candidate{ID: f.ID, RRF: f}
		}
		tier := SelectTier(opts.IsCode, query)
		reranked := r.reranker.Rerank(ctx, tier, query, candidates)
		results = mergeReranked(results, reranked)
		sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	}

	if limit < len(results) {
		results = results[:limit]
	}

	scores := make([]float64, len(results))
	for i, res := range results {
		scores[i] = res.Score
	}

	return Response{Results: results, Abstention: Abstain(r.policy, scores)}, nil
}

func (r *Retriever) fetch(ctx context.Context, strategy Strategy, query string, opts QueryOpts, rerankDepth int) ([]Fused, error) {
	switch strategy {
	case StrategyDense:
		dense, err := r.embedQuery(ctx, query, opts.IsCode)
		if err != nil {
			return nil, err
		}
		kind := vector.KindTextDense
		if opts.IsCode {
			kind = vector.KindCodeDense
		}
		results, err := r.store.Search(ctx, vector.SearchRequest{Kind: kind, Dense: dense, Limit: rerankDepth, Filters: opts.Filters})
		if err != nil {
			return nil, err
		}
		return thresholded(r.fuse(r.rrfK, results), opts.ScoreThreshold), nil

	case StrategySparse:
		sparse := embedSparse(query)
		results, err := r.store.Search(ctx, vector.SearchRequest{Kind: vector.KindSparse, Sparse: &sparse, Limit: rerankDepth, Filters: opts.Filters})
		if err != nil {
			return nil, err
		}
		return thresholded(r.fuse(r.rrfK, results), opts.ScoreThreshold), nil

	case StrategyHybrid:
		dense, err := r.embedQuery(ctx, query, opts.IsCode)
		if err != nil {
			return nil, err
		}
		sparse := embedSparse(query)
		oversample := 2 * rerankDepth

		kind := vector.KindTextDense
		if opts.IsCode {
			kind = vector.KindCodeDense
		}
		denseResults, err := r.store.Search(ctx, vector.SearchRequest{Kind: kind, Dense: dense, Limit: oversample, Filters: opts.Filters})
		if err != nil {
			return nil, err
		}
		sparseResults, err := r.store.Search(ctx, vector.SearchRequest{Kind: vector.KindSparse, Sparse: &sparse, Limit: oversample, Filters: opts.Filters})
		if err != nil {
			return nil, err
		}
		// No score threshold applies under RRF (spec.md §4.5 step 3).
		return r.fuse(r.rrfK, denseResults, sparseResults), nil

	default:
		return nil, fmt.Errorf("retrieve: unknown strategy %q", strategy)
	}
}

func (r *Retriever) embedQuery(ctx context.Context, query string, isCode bool) ([]float32, error) {
	prefixed := "query: " + query
	if isCode {
		return r.embedder.EmbedCode(ctx, prefixed)
	}
	return r.embedder.EmbedText(ctx, prefixed)
}

func thresholded(fused []Fused, threshold float32) []Fused {
	if threshold <= 0 {
		return fused
	}
	out := fused[:0]
	for _, f := range fused {
		if f.RRFScore >= float64(threshold) {
			out = append(out, f)
		}
	}
	return out
}

func mergeReranked(results []Result, reranked []Reranked) []Result {
	byID := make(map[string]Reranked, len(reranked))
	for _, rk := range reranked {
		byID[rk.ID] = rk
	}
	out := make([]Result, len(results))
	for i, res := range results {
		if rk, ok := byID[res.ID]; ok {
			res.RerankerScore = rk.RerankerScore
			res.Score = rk.Score
		}
		out[i] = res
	}
	return out
}
