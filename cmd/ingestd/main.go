// Command ingestd is the HTTP boundary wrapping engine/ingest.Ingestor
// (spec.md §4.1): accept raw provider events, validate, publish onto the
// partitioned broker. This binary is thin DI glue, not the spec'd surface.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rawcontext/engram/engine/domain"
	"github.com/rawcontext/engram/engine/ingest"
	"github.com/rawcontext/engram/pkg/metrics"
	"github.com/rawcontext/engram/pkg/mid"
	"github.com/rawcontext/engram/storage/broker"
)

// Config holds all environment-based configuration.
type Config struct {
	Port             string
	NATSURL          string
	NumPartitions    int
	CORSOrigin       string
	PublishMaxElapse time.Duration
	MetricsPort      int
}

func loadConfig() Config {
	return Config{
		Port:             envOr("PORT", "8080"),
		NATSURL:          envOr("NATS_URL", nats.DefaultURL),
		NumPartitions:    envOrInt("NUM_PARTITIONS", 4),
		CORSOrigin:       envOr("CORS_ORIGIN", "*"),
		PublishMaxElapse: envOrDuration("PUBLISH_MAX_ELAPSED", 10*time.Second),
		MetricsPort:      envOrInt("METRICS_PORT", 9090),
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
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return fallback
	}
	return n
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("ingestd exited with error", "err", err)
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

	ingestor := ingest.New(br, cfg.PublishMaxElapse)

	reg := metrics.New()
	reg.ServeAsync(cfg.MetricsPort)
	promReg := prometheus.NewRegistry()

	mAccepted := reg.Counter("engram_ingest_events_accepted_total", "Raw events accepted and published to events.raw")
	mRejected := reg.Counter("engram_ingest_events_rejected_total", "Raw events rejected at the validation boundary")
	mDeadLettered := reg.Counter("engram_ingest_events_dlq_total", "Raw events dead-lettered after publish retries were exhausted")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("POST /api/events", handleIngest(ingestor, logger, mAccepted, mRejected, mDeadLettered))
	mux.Handle("GET /metrics/prom", metrics.PromHTTPHandler(promReg))

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.OTel("ingestd"),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ingestd starting", "port", cfg.Port)
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

// handleIngest accepts the raw vendor payload as the request body; routing
// metadata (spec.md §6) rides along as HTTP headers rather than an envelope,
// so a provider's stock SSE/webhook client can POST unmodified.
func handleIngest(ingestor *ingest.Ingestor, logger *slog.Logger, accepted, rejected, deadLettered *metrics.Counter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}

		ev := domain.RawEvent{
			Provider: domain.Provider(r.Header.Get("X-Provider")),
			Payload:  payload,
			Headers: domain.Headers{
				SessionID:  r.Header.Get("X-Session-Id"),
				WorkingDir: r.Header.Get("X-Working-Dir"),
				GitRemote:  r.Header.Get("X-Git-Remote"),
				AgentType:  r.Header.Get("X-Agent-Type"),
			},
		}

		if err := ingestor.Ingest(r.Context(), ev); err != nil {
			logger.Error("ingest failed", "err", err, "session_id", ev.Headers.SessionID)
			status := statusFor(err)
			if status == http.StatusServiceUnavailable {
				deadLettered.Inc()
			} else {
				rejected.Inc()
			}
			http.Error(w, err.Error(), status)
			return
		}
		accepted.Inc()
		w.WriteHeader(http.StatusAccepted)
	}
}

// statusFor maps Ingest's error taxonomy (spec.md §7) to an HTTP status:
// boundary validation is the caller's fault (400); a dead-lettered publish
// is a server-side permanent I/O failure the caller can safely retry later
// (503), not malformed input.
func statusFor(err error) int {
	var valErr *domain.ValidationError
	var dlqErr *domain.DeadLetteredError
	switch {
	case errors.As(err, &valErr):
		return http.StatusBadRequest
	case errors.As(err, &dlqErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
