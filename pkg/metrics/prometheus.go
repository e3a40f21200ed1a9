package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromCollectors holds the real Prometheus histograms this package's
// hand-rolled Registry can't express cheaply: per-tier reranker latency and
// RRF fusion latency both need percentile queries and per-label cardinality
// a dashboard can slice, which is what client_golang's HistogramVec is for.
// Everything else (ingest counters, queue depth gauges) stays on the
// lightweight Registry above.
type PromCollectors struct {
	rerankLatency    *prometheus.HistogramVec
	rrfFusionLatency prometheus.Histogram
}

// NewPromCollectors registers the reranker/RRF histograms against reg and
// returns a handle for recording observations.
func NewPromCollectors(reg prometheus.Registerer) *PromCollectors {
	pc := &PromCollectors{
		rerankLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "engram",
			Subsystem: "retrieve",
			Name:      "rerank_latency_seconds",
			Help:      "Reranker scoring latency by tier, including circuit-open and timeout fallbacks.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tier"}),
		rrfFusionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "engram",
			Subsystem: "retrieve",
			Name:      "rrf_fusion_latency_seconds",
			Help:      "Reciprocal rank fusion merge latency across dense/sparse candidate lists.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(pc.rerankLatency, pc.rrfFusionLatency)
	return pc
}

// ObserveRerank records how long a Rerank call against tier took, start to
// finish, whether it scored, fell back, or hit the circuit breaker.
func (pc *PromCollectors) ObserveRerank(tier string, d time.Duration) {
	if pc == nil {
		return
	}
	pc.rerankLatency.WithLabelValues(tier).Observe(d.Seconds())
}

// ObserveRRFFusion records one fuseRRF call's wall-clock cost.
func (pc *PromCollectors) ObserveRRFFusion(d time.Duration) {
	if pc == nil {
		return
	}
	pc.rrfFusionLatency.Observe(d.Seconds())
}

// PromHTTPHandler exposes reg in the Prometheus text exposition format, for
// mounting a /metrics route in a cmd/* entrypoint alongside Registry.Handler.
func PromHTTPHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
