package retrieve

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rawcontext/engram/pkg/fn"
	"github.com/rawcontext/engram/pkg/metrics"
	"github.com/rawcontext/engram/pkg/resilience"
)

const (
	// DefaultMaxBatchSize and DefaultMaxConcurrency match spec.md §4.5's
	// "typically 16"/"typically 4" reranker batching defaults.
	DefaultMaxBatchSize   = 16
	DefaultMaxConcurrency = 4
)

// Tier names the reranker class spec.md §4.5's tiered-reranker table picks
// between.
type Tier string

const (
	TierFast         Tier = "fast"
	TierAccurate     Tier = "accurate"
	TierCode         Tier = "code"
	TierLLMListwise  Tier = "llm_listwise"
	defaultRerankBudget = 500 * time.Millisecond
)

// Candidate is one document passed into a reranker tier.
type Candidate struct {
	ID      string
	Content string
	RRF     Fused
}

// Reranked pairs a candidate with its tier score (0..1).
type Reranked struct {
	ID            string
	RRFScore      float64
	RerankerScore float64
	Score         float64
}

// Model scores a batch of candidates against a query; its (model,
// quantization) pair keys the ModelCache.
type Model interface {
	Score(ctx context.Context, query string, candidates []Candidate) ([]float64, error)
}

// ModelKey identifies one loaded model instance in the cache.
type ModelKey struct {
	Name          string
	Quantization  string
}

// ModelCache is a singleton cache of loaded reranker models, unloading a
// model after it has gone unused for idleTimeout (spec.md §4.5 "a singleton
// model cache is keyed by (model, quantization); after idleTimeoutMs of no
// access, the model is unloaded"). Grounded on engine/parse.Buffer's
// touch-then-sweep shape, generalized from a reassembly accumulator to a
// loaded-model handle.
type ModelCache struct {
	mu          sync.Mutex
	idleTimeout time.Duration
	loaders     map[ModelKey]func() (Model, error)
	entries     map[ModelKey]*cacheEntry
}

type cacheEntry struct {
	model      Model
	lastTouch  time.Time
}

// NewModelCache builds an empty cache; loaders for each key are registered
// via Register before first use.
func NewModelCache(idleTimeout time.Duration) *ModelCache {
	if idleTimeout <= 0 {
		idleTimeout = 5 * time.Minute
	}
	return &ModelCache{
		idleTimeout: idleTimeout,
		loaders:     make(map[ModelKey]func() (Model, error)),
		entries:     make(map[ModelKey]*cacheEntry),
	}
}

// Register installs the loader used to materialize key on first access.
func (c *ModelCache) Register(key ModelKey, loader func() (Model, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaders[key] = loader
}

// Get returns the model for key, loading it on first access and evicting
// any entry idle past idleTimeout.
func (c *ModelCache) Get(key ModelKey) (Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for k, e := range c.entries {
		if now.Sub(e.lastTouch) > c.idleTimeout {
			delete(c.entries, k)
		}
	}

	if e, ok := c.entries[key]; ok {
		e.lastTouch = now
		return e.model, nil
	}

	loader, ok := c.loaders[key]
	if !ok {
		return nil, fmt.Errorf("retrieve: no loader registered for model %+v", key)
	}
	model, err := loader()
	if err != nil {
		return nil, fmt.Errorf("retrieve: load model %+v: %w", key, err)
	}
	c.entries[key] = &cacheEntry{model: model, lastTouch: now}
	return model, nil
}

// Loaded reports whether key currently has a live (non-evicted) entry, for
// tests asserting idle unload.
func (c *ModelCache) Loaded(key ModelKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Reranker selects a tier by query/content shape, scores candidates through
// that tier's cached model with a circuit breaker, and races the call
// against a fixed timeout, falling back to the pre-rerank RRF ranking on
// timeout or error (spec.md §4.5 step 4).
type Reranker struct {
	cache          *ModelCache
	breakers       map[Tier]*resilience.Breaker
	budget         time.Duration
	keys           map[Tier]ModelKey
	maxBatchSize   int
	maxConcurrency int
	collectors     *metrics.PromCollectors
	llmLimiter     *resilience.Limiter
}

// WithMetrics attaches Prometheus histograms to rr, recording per-tier
// latency on every subsequent Rerank call. Passing nil disables recording.
func (rr *Reranker) WithMetrics(collectors *metrics.PromCollectors) *Reranker {
	rr.collectors = collectors
	return rr
}

// WithLLMListwiseLimiter gates TierLLMListwise calls behind limiter. Only
// this tier carries a per-user quota against an external LLM API; fast,
// accurate, and code all run local models with no such budget.
func (rr *Reranker) WithLLMListwiseLimiter(limiter *resilience.Limiter) *Reranker {
	rr.llmLimiter = limiter
	return rr
}

// RateLimitRejection is returned when an explicit llm_listwise rerank call
// exceeds the caller's quota. Unlike every other failure a tier can hit
// (circuit-open, scoring error, timeout), which fall back silently to the
// pre-rerank RRF order, a quota rejection is surfaced rather than swallowed
// because it is the one failure a caller can act on: retry after ResetAt.
type RateLimitRejection struct {
	Reason  string
	ResetAt time.Time
}

func (e *RateLimitRejection) Error() string { return e.Reason }

// NewReranker wires a Reranker over cache, using budget as the per-call
// timeout (spec.md §4.5's default 500ms when budget <= 0).
func NewReranker(cache *ModelCache, keys map[Tier]ModelKey, budget time.Duration) *Reranker {
	if budget <= 0 {
		budget = defaultRerankBudget
	}
	breakers := make(map[Tier]*resilience.Breaker, len(keys))
	for tier := range keys {
		breakers[tier] = resilience.NewBreaker(resilience.DefaultBreakerOpts)
	}
	return &Reranker{
		cache:          cache,
		breakers:       breakers,
		budget:         budget,
		keys:           keys,
		maxBatchSize:   DefaultMaxBatchSize,
		maxConcurrency: DefaultMaxConcurrency,
	}
}

// SelectTier picks fast/accurate/code by content type and query shape,
// matching spec.md §4.5's trigger column; llmListwise is never auto-selected
// here — callers opt into it explicitly via RerankWithTier.
func SelectTier(isCode bool, query string) Tier {
	if isCode {
		return TierCode
	}
	if len(query) > 200 {
		return TierAccurate
	}
	return TierFast
}

// Rerank scores candidates through the auto-selected tier. On a circuit-open
// state, a scoring error, or exceeding the timeout budget, it falls back to
// the pre-rerank RRF ranking (fused order preserved, RerankerScore unset).
func (rr *Reranker) Rerank(ctx context.Context, tier Tier, query string, candidates []Candidate) []Reranked {
	start := time.Now()
	defer func() { rr.collectors.ObserveRerank(string(tier), time.Since(start)) }()

	key, ok := rr.keys[tier]
	if !ok {
		return fallback(candidates)
	}
	breaker := rr.breakers[tier]

	type outcome struct {
		scores []float64
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		model, err := rr.cache.Get(key)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		err = breaker.Call(ctx, func(ctx context.Context) error {
			scores, scoreErr := scoreBatched(ctx, model, query, candidates, rr.maxBatchSize, rr.maxConcurrency)
			if scoreErr != nil {
				return scoreErr
			}
			done <- outcome{scores: scores}
			return nil
		})
		if err != nil {
			done <- outcome{err: err}
		}
	}()

	select {
	case out := <-done:
		if out.err != nil || len(out.scores) != len(candidates) {
			return fallback(candidates)
		}
		return applyScores(candidates, out.scores)
	case <-time.After(rr.budget):
		return fallback(candidates)
	case <-ctx.Done():
		return fallback(candidates)
	}
}

// RerankWithTier is the entry point for a caller that explicitly opts into
// a tier, including TierLLMListwise (SelectTier never picks it). A
// llm_listwise call over quota returns a *RateLimitRejection instead of
// falling back, so the caller can surface "try again after ResetAt" rather
// than silently serving RRF order.
func (rr *Reranker) RerankWithTier(ctx context.Context, tier Tier, query string, candidates []Candidate) ([]Reranked, *RateLimitRejection) {
	if tier == TierLLMListwise && rr.llmLimiter != nil && !rr.llmLimiter.Allow() {
		resetAt := rr.llmLimiter.NextAvailable()
		if resetAt.IsZero() {
			resetAt = time.Now().Add(time.Second)
		}
		return fallback(candidates), &RateLimitRejection{
			Reason:  fmt.Sprintf("Rate limit exceeded for tier %s", tier),
			ResetAt: resetAt,
		}
	}
	return rr.Rerank(ctx, tier, query, candidates), nil
}

// scoreBatched splits candidates into maxBatchSize-sized batches and scores
// them with bounded concurrency (spec.md §4.5 "batches candidates
// (maxBatchSize, typically 16) ... bounded concurrency (maxConcurrency,
// typically 4)"), reassembling scores in original candidate order.
func scoreBatched(ctx context.Context, model Model, query string, candidates []Candidate, maxBatchSize, maxConcurrency int) ([]float64, error) {
	batches := fn.Chunk(candidates, maxBatchSize)
	results := fn.ParMapResult(batches, maxConcurrency, func(batch []Candidate) fn.Result[[]float64] {
		return fn.FromPair(model.Score(ctx, query, batch))
	})
	collected := fn.Collect(results)
	batchScores, err := collected.Unwrap()
	if err != nil {
		return nil, err
	}

	out := make([]float64, 0, len(candidates))
	for _, bs := range batchScores {
		out = append(out, bs...)
	}
	return out, nil
}

func applyScores(candidates []Candidate, scores []float64) []Reranked {
	out := make([]Reranked, len(candidates))
	for i, c := range candidates {
		out[i] = Reranked{ID: c.ID, RRFScore: c.RRF.RRFScore, RerankerScore: scores[i], Score: scores[i]}
	}
	return out
}

func fallback(candidates []Candidate) []Reranked {
	out := make([]Reranked, len(candidates))
	for i, c := range candidates {
		out[i] = Reranked{ID: c.ID, RRFScore: c.RRF.RRFScore, Score: c.RRF.RRFScore}
	}
	return out
}
