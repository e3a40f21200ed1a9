package parse

import (
	"context"
	"testing"
	"time"

	"github.com/rawcontext/engram/engine/domain"
)

func TestAnthropicStrategyWalksContentBlocksToTypedEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	strat := newAnthropicStrategy(NewBuffer(ctx, time.Minute))

	events := []string{
		`{"type":"message_start","message":{"id":"msg-1","model":"claude-sonnet"}}`,
		`{"type":"content_block_start","index":0,"content_block":{"type":"thinking"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"let me check"}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"sig-abc"}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"tool-1","name":"read_file"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"path\":\"a.go\"}"}}`,
		`{"type":"content_block_stop","index":1}`,
		`{"type":"message_delta","usage":{"input_tokens":12,"output_tokens":8}}`,
		`{"type":"message_stop"}`,
	}

	var gathered []TypedEvent
	for _, raw := range events {
		out, err := strat.Parse(ctx, newRawEvent(domain.ProviderAnthropic, "sess-1", raw))
		if err != nil {
			t.Fatalf("Parse %q: %v", raw, err)
		}
		gathered = append(gathered, out...)
	}

	if len(gathered) != 3 {
		t.Fatalf("expected reasoning + tool_use + usage marker, got %d events: %+v", len(gathered), gathered)
	}

	reasoning, ok := gathered[0].(Reasoning)
	if !ok || reasoning.Text != "let me check" || reasoning.Encrypted != "sig-abc" {
		t.Fatalf("expected reassembled reasoning block, got %+v", gathered[0])
	}

	tool, ok := gathered[1].(ToolUse)
	if !ok || tool.ToolID != "tool-1" || tool.ToolName != "read_file" {
		t.Fatalf("expected reassembled tool_use block, got %+v", gathered[1])
	}

	usage, ok := gathered[2].(UsageMarker)
	if !ok || usage.InputTokens != 12 || usage.OutputTokens != 8 {
		t.Fatalf("expected usage marker from message_delta, got %+v", gathered[2])
	}

	if strat.buf.Len() != 0 {
		t.Fatalf("expected buffer cleared after message_stop, has %d entries", strat.buf.Len())
	}
}

func TestAnthropicStrategyIgnoresPing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	strat := newAnthropicStrategy(NewBuffer(ctx, time.Minute))

	out, err := strat.Parse(ctx, newRawEvent(domain.ProviderAnthropic, "sess-1", `{"type":"ping"}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no events for a ping, got %+v", out)
	}
}
