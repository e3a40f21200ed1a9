// Command engramd is the consolidated worker + query daemon: background
// broker consumers drive the parse→aggregate and index stages, and a thin
// HTTP surface wraps Retriever and Rehydrator for read access. Like
// cmd/ingestd, this binary is DI glue, not spec'd feature surface.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/rawcontext/engram/engine/aggregate"
	"github.com/rawcontext/engram/engine/domain"
	"github.com/rawcontext/engram/engine/index"
	"github.com/rawcontext/engram/engine/parse"
	"github.com/rawcontext/engram/engine/rehydrate"
	"github.com/rawcontext/engram/engine/retrieve"
	"github.com/rawcontext/engram/pkg/metrics"
	"github.com/rawcontext/engram/pkg/mid"
	"github.com/rawcontext/engram/storage/blob"
	"github.com/rawcontext/engram/storage/broker"
	graphstore "github.com/rawcontext/engram/storage/graph"
	"github.com/rawcontext/engram/storage/kvpubsub"
	"github.com/rawcontext/engram/storage/vector"
)

// Config holds all environment-based configuration.
type Config struct {
	Port             string
	NATSURL          string
	NumPartitions    int
	Neo4jURL         string
	Neo4jUser        string
	Neo4jPass        string
	QdrantAddr       string
	QdrantCollection string
	DataDir          string
	OllamaURL        string
	OllamaTextModel  string
	OllamaCodeModel  string
	CORSOrigin       string
	MetricsPort      int
	ConsumerGroup    string
}

func loadConfig() Config {
	return Config{
		Port:             envOr("PORT", "8081"),
		NATSURL:          envOr("NATS_URL", nats.DefaultURL),
		NumPartitions:    envOrInt("NUM_PARTITIONS", 4),
		Neo4jURL:         envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:        envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:        envOr("NEO4J_PASS", "password"),
		QdrantAddr:       envOr("QDRANT_ADDR", "localhost:6334"),
		QdrantCollection: envOr("QDRANT_COLLECTION", "engram"),
		DataDir:          envOr("DATA_DIR", "/tmp/engram-data"),
		OllamaURL:        envOr("OLLAMA_URL", "http://localhost:11434"),
		OllamaTextModel:  envOr("OLLAMA_TEXT_MODEL", "nomic-embed-text"),
		OllamaCodeModel:  envOr("OLLAMA_CODE_MODEL", "nomic-embed-text"),
		CORSOrigin:       envOr("CORS_ORIGIN", "*"),
		MetricsPort:      envOrInt("METRICS_PORT", 9091),
		ConsumerGroup:    envOr("CONSUMER_GROUP", "engramd"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("engramd exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nc.Close()

	br, err := broker.NewNATSBroker(nc, cfg.NumPartitions)
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	if err := br.Connect(ctx); err != nil {
		return fmt.Errorf("broker connect: %w", err)
	}
	defer br.Disconnect(context.Background())

	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	defer driver.Close(ctx)
	graphStore := graphstore.NewNeo4jStore(driver)
	if err := graphStore.Connect(ctx); err != nil {
		return fmt.Errorf("graph connect: %w", err)
	}
	defer graphStore.Disconnect(context.Background())

	blobStore := blob.NewFSStore(cfg.DataDir)
	if err := blobStore.Connect(ctx); err != nil {
		return fmt.Errorf("blob connect: %w", err)
	}
	defer blobStore.Disconnect(context.Background())

	vectorStore, err := vector.NewQdrantStore(cfg.QdrantAddr, cfg.QdrantCollection)
	if err != nil {
		return fmt.Errorf("qdrant dial: %w", err)
	}
	if err := vectorStore.Connect(ctx); err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Disconnect(context.Background())

	pubsub := kvpubsub.NewMemoryPubSub()
	if err := pubsub.Connect(ctx); err != nil {
		return fmt.Errorf("pubsub connect: %w", err)
	}
	defer pubsub.Disconnect(context.Background())

	embedder := index.NewOllamaEmbedder(cfg.OllamaURL, cfg.OllamaTextModel, cfg.OllamaCodeModel)

	buf := parse.NewBuffer(ctx, 5*time.Minute)
	registry := parse.NewRegistry(buf)
	aggregator := aggregate.New(graphStore, blobStore, br, pubsub)
	indexer := index.New(graphStore, blobStore, vectorStore, embedder)
	if err := indexer.EnsureCollection(ctx, false); err != nil {
		return fmt.Errorf("ensure vector collection: %w", err)
	}

	reranker := retrieve.NewReranker(retrieve.NewModelCache(5*time.Minute), nil, 0)
	retriever := retrieve.New(vectorStore, embedder, reranker)
	rehydrator := rehydrate.New(graphStore, blobStore)

	reg := metrics.New()
	reg.ServeAsync(cfg.MetricsPort)
	mIngestConsumed := reg.Counter("engram_worker_events_consumed_total", "Raw events consumed off events.raw")
	mIngestFailed := reg.Counter("engram_worker_events_dlq_total", "Events routed to the ingestion DLQ after retries")
	mNodesIndexed := reg.Counter("engram_worker_nodes_indexed_total", "Node-created notifications indexed")
	mNodesFailedDLQ := reg.Counter("engram_worker_nodes_dlq_total", "Node-created notifications routed to the memory DLQ")

	unsubEvents, err := br.Subscribe(ctx, broker.SubjectEventsRaw, cfg.ConsumerGroup, func(ctx context.Context, payload []byte) error {
		mIngestConsumed.Inc()
		return processWithRetry(ctx, br, broker.SubjectDLQIngestion, payload, func(ctx context.Context) error {
			return handleRawEvent(ctx, registry, aggregator, payload)
		}, mIngestFailed)
	})
	if err != nil {
		return fmt.Errorf("subscribe events.raw: %w", err)
	}
	defer unsubEvents()

	unsubNodes, err := br.Subscribe(ctx, broker.SubjectNodesCreated, cfg.ConsumerGroup, func(ctx context.Context, payload []byte) error {
		err := processWithRetry(ctx, br, broker.SubjectDLQMemory, payload, func(ctx context.Context) error {
			return indexer.HandleNotification(ctx, payload)
		}, mNodesFailedDLQ)
		if err == nil {
			mNodesIndexed.Inc()
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("subscribe memory.nodes.created: %w", err)
	}
	defer unsubNodes()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/retrieve", handleRetrieve(retriever))
	mux.HandleFunc("GET /api/rehydrate", handleRehydrate(rehydrator))

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.OTel("engramd"),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("engramd starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// handleRawEvent parses a raw event off events.raw and feeds every typed
// event it yields through the aggregator (spec.md §2, Ingestor→Parser→
// Memory Aggregator).
func handleRawEvent(ctx context.Context, registry *parse.Registry, aggregator *aggregate.Aggregator, payload []byte) error {
	var ev domain.RawEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return &domain.ValidationError{Field: "payload", Wrapped: fmt.Errorf("decode raw event: %w", err)}
	}
	typed, err := registry.Parse(ctx, ev)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	for _, te := range typed {
		if err := aggregator.Handle(ctx, te); err != nil {
			return fmt.Errorf("aggregate: %w", err)
		}
	}
	return nil
}

// processWithRetry retries work with capped exponential backoff
// (spec.md §7: "transient ⇒ retried with back-off; permanent ⇒ DLQ").
// A *domain.ValidationError or *domain.ConsistencyError is permanent and
// skips retry entirely; anything else is assumed transient and retried up
// to 5 times (or until the default policy's MaxElapsedTime, whichever comes
// first), then routed to dlqSubject.
func processWithRetry(ctx context.Context, br broker.Broker, dlqSubject broker.Subject, payload []byte, work func(context.Context) error, dlqCounter *metrics.Counter) error {
	var valErr *domain.ValidationError
	var consErr *domain.ConsistencyError

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	err := backoff.Retry(func() error {
		err := work(ctx)
		if errors.As(err, &valErr) || errors.As(err, &consErr) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)

	if err == nil {
		return nil
	}

	dlqCounter.Inc()
	if pubErr := br.Send(ctx, dlqSubject, []broker.KeyedMessage{{Key: "dlq", Value: payload}}); pubErr != nil {
		return fmt.Errorf("dlq publish after processing failure %v: %w", err, pubErr)
	}
	return nil // message acked: it has been durably routed to the DLQ
}

func handleRetrieve(retriever *retrieve.Retriever) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			http.Error(w, "missing q", http.StatusBadRequest)
			return
		}
		opts := retrieve.QueryOpts{
			IsCode:       r.URL.Query().Get("code") == "true",
			EnableRerank: r.URL.Query().Get("rerank") == "true",
		}
		resp, err := retriever.Retrieve(r.Context(), query, opts)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func handleRehydrate(rehydrator *rehydrate.Rehydrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session_id")
		if sessionID == "" {
			http.Error(w, "missing session_id", http.StatusBadRequest)
			return
		}
		targetTime, err := strconv.ParseInt(r.URL.Query().Get("t"), 10, 64)
		if err != nil {
			targetTime = time.Now().UnixMilli()
		}
		result, err := rehydrator.Rehydrate(r.Context(), sessionID, targetTime)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"applied_diffs": result.AppliedDiffs,
			"failed_diffs":  result.FailedDiffs,
		})
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
