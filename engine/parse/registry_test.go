package parse

import (
	"context"
	"testing"
	"time"

	"github.com/rawcontext/engram/engine/domain"
)

func TestRegistryStampsSeqAndPreservesIngestOrdering(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := NewRegistry(NewBuffer(ctx, time.Minute))

	ev1 := newRawEvent(domain.ProviderClaudeCode, "sess-1", `{"type":"user_message","text":"hi"}`)
	ev1.EventID = "ev-1"
	ev2 := newRawEvent(domain.ProviderClaudeCode, "sess-1", `{"type":"assistant_text","text":"hello"}`)
	ev2.EventID = "ev-2"

	out1, err := reg.Parse(ctx, ev1)
	if err != nil {
		t.Fatalf("Parse ev1: %v", err)
	}
	out2, err := reg.Parse(ctx, ev2)
	if err != nil {
		t.Fatalf("Parse ev2: %v", err)
	}

	if out1[0].Envelope().Seq != 1 || out2[0].Envelope().Seq != 2 {
		t.Fatalf("expected seq 1 then 2, got %d then %d", out1[0].Envelope().Seq, out2[0].Envelope().Seq)
	}
	if out2[0].Envelope().Timestamp <= out1[0].Envelope().Timestamp {
		t.Fatal("expected strictly increasing timestamps across ingest order")
	}
}

func TestRegistryRejectsUnknownProvider(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reg := NewRegistry(NewBuffer(ctx, time.Minute))

	ev := newRawEvent(domain.Provider("carrier-pigeon"), "sess-1", `{}`)
	if _, err := reg.Parse(ctx, ev); err == nil {
		t.Fatal("expected an error for an unregistered provider")
	}
}
