package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rawcontext/engram/engine/domain"
	"github.com/rawcontext/engram/storage/broker"
)

// failingBroker wraps a MemoryBroker and fails every Send to failSubject,
// so Ingest's retry-then-DLQ path can be exercised without a live NATS
// connection.
type failingBroker struct {
	*broker.MemoryBroker
	failSubject broker.Subject
}

func (f *failingBroker) Send(ctx context.Context, subject broker.Subject, msgs []broker.KeyedMessage) error {
	if subject == f.failSubject {
		return errors.New("simulated broker outage")
	}
	return f.MemoryBroker.Send(ctx, subject, msgs)
}

func TestIngestStampsAndPublishesValidEvent(t *testing.T) {
	ctx := context.Background()
	b := broker.NewMemoryBroker()
	ing := New(b, time.Second)

	ev := domain.RawEvent{
		Provider: domain.ProviderAnthropic,
		Headers:  domain.Headers{SessionID: "sess-1"},
		Payload:  []byte(`{"type":"message_start"}`),
	}

	if err := ing.Ingest(ctx, ev); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	sent := b.Sent(broker.SubjectEventsRaw)
	if len(sent) != 1 {
		t.Fatalf("expected exactly one published message, got %d", len(sent))
	}
	if sent[0].Key != "sess-1" {
		t.Fatalf("expected partition key sess-1, got %q", sent[0].Key)
	}

	var decoded domain.RawEvent
	if err := json.Unmarshal(sent[0].Value, &decoded); err != nil {
		t.Fatalf("unmarshal published payload: %v", err)
	}
	if decoded.EventID == "" {
		t.Fatal("expected a generated event id")
	}
	if !decoded.IsOpen() {
		t.Fatal("expected a freshly stamped event to be bitemporally open")
	}
}

func TestIngestDeadLettersAfterRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	b := &failingBroker{MemoryBroker: broker.NewMemoryBroker(), failSubject: broker.SubjectEventsRaw}
	ing := New(b, time.Millisecond)

	ev := domain.RawEvent{
		Provider: domain.ProviderAnthropic,
		Headers:  domain.Headers{SessionID: "sess-1"},
		Payload:  []byte(`{"type":"message_start"}`),
	}

	err := ing.Ingest(ctx, ev)
	if err == nil {
		t.Fatal("expected an error once retries are exhausted")
	}
	var dlqErr *domain.DeadLetteredError
	if !errors.As(err, &dlqErr) {
		t.Fatalf("expected a *domain.DeadLetteredError, got %T: %v", err, err)
	}
	if dlqErr.Subject != string(broker.SubjectDLQIngestion) {
		t.Fatalf("expected subject %q, got %q", broker.SubjectDLQIngestion, dlqErr.Subject)
	}

	dlq := b.Sent(broker.SubjectDLQIngestion)
	if len(dlq) != 1 {
		t.Fatalf("expected exactly one dead-lettered message, got %d", len(dlq))
	}
	if dlq[0].Key != "sess-1" {
		t.Fatalf("expected dead letter keyed by session id, got %q", dlq[0].Key)
	}
}

func TestIngestRejectsInvalidEventWithoutPublishing(t *testing.T) {
	ctx := context.Background()
	b := broker.NewMemoryBroker()
	ing := New(b, time.Second)

	ev := domain.RawEvent{
		Provider: domain.ProviderAnthropic,
		Headers:  domain.Headers{}, // missing session id
	}

	if err := ing.Ingest(ctx, ev); err == nil {
		t.Fatal("expected validation error for missing session id")
	}
	if sent := b.Sent(broker.SubjectEventsRaw); len(sent) != 0 {
		t.Fatalf("expected no publish on validation failure, got %d messages", len(sent))
	}
}
