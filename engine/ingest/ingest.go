// Package ingest implements the Ingestor (spec.md §4.1): validate a raw
// event at the HTTP boundary, stamp it bitemporally, and publish it to
// events.raw partitioned by session id.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/rawcontext/engram/engine/domain"
	"github.com/rawcontext/engram/storage/broker"
)

// Ingestor validates and publishes raw events. It never retries validation
// failures (spec.md §7: "validation ⇒ rejected at the boundary, not
// retried"); broker publish failures are retried with capped exponential
// backoff, and after the cap is exhausted the raw event is appended to
// dlq.ingestion keyed by session id rather than dropped (spec.md §7
// "permanent I/O ⇒ DLQ + alert").
type Ingestor struct {
	broker      broker.Broker
	retryPolicy backoff.BackOff
}

// New constructs an Ingestor publishing through b. maxElapsed bounds the
// total time spent retrying a single publish before giving up.
func New(b broker.Broker, maxElapsed time.Duration) *Ingestor {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed
	return &Ingestor{broker: b, retryPolicy: bo}
}

// Ingest validates ev, stamps it with a fresh bitemporal interval and an
// event id if missing, and publishes it to events.raw keyed by session id.
func (i *Ingestor) Ingest(ctx context.Context, ev domain.RawEvent) error {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Bitemporal == (domain.Bitemporal{}) {
		ev.Bitemporal = domain.OpenInterval(time.Now())
	}
	if ev.IngestTimestamp.IsZero() {
		ev.IngestTimestamp = time.Now()
	}

	if err := ev.Validate(); err != nil {
		return fmt.Errorf("ingest: validation: %w", err)
	}

	payload, err := encodeEvent(ev)
	if err != nil {
		return fmt.Errorf("ingest: encode: %w", err)
	}

	policy := backoff.WithContext(i.retryPolicy, ctx)
	publishErr := backoff.Retry(func() error {
		return i.broker.Send(ctx, broker.SubjectEventsRaw, []broker.KeyedMessage{
			{Key: ev.Headers.SessionID, Value: payload},
		})
	}, policy)
	if publishErr != nil {
		dlqErr := i.broker.Send(ctx, broker.SubjectDLQIngestion, []broker.KeyedMessage{
			{Key: ev.Headers.SessionID, Value: payload},
		})
		if dlqErr != nil {
			return fmt.Errorf("ingest: publish after retries: %w (dlq publish also failed: %s)", publishErr, dlqErr)
		}
		return domain.NewDeadLetteredError(string(broker.SubjectDLQIngestion), publishErr)
	}
	return nil
}
