package kvpubsub

import (
	"context"
	"encoding/json"
	"testing"
)

func TestMemoryPubSubDeliversToAllSubscribers(t *testing.T) {
	ctx := context.Background()
	ps := NewMemoryPubSub()

	var got1, got2 json.RawMessage
	unsub1, err := ps.Subscribe(ctx, "chan-1", func(_ context.Context, msg json.RawMessage) { got1 = msg })
	if err != nil {
		t.Fatalf("Subscribe 1: %v", err)
	}
	defer unsub1()
	unsub2, err := ps.Subscribe(ctx, "chan-1", func(_ context.Context, msg json.RawMessage) { got2 = msg })
	if err != nil {
		t.Fatalf("Subscribe 2: %v", err)
	}
	defer unsub2()

	if err := ps.Publish(ctx, "chan-1", map[string]string{"hello": "world"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got1 == nil || got2 == nil {
		t.Fatal("expected both subscribers to receive the message")
	}

	published := ps.Published("chan-1")
	if len(published) != 1 {
		t.Fatalf("expected one published message, got %d", len(published))
	}
}

func TestMemoryPubSubUnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	ps := NewMemoryPubSub()

	calls := 0
	unsub, err := ps.Subscribe(ctx, "chan-1", func(_ context.Context, _ json.RawMessage) { calls++ })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	unsub()

	if err := ps.Publish(ctx, "chan-1", "ignored"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %d calls", calls)
	}
}
