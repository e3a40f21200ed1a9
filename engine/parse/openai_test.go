package parse

import (
	"context"
	"testing"
	"time"

	"github.com/rawcontext/engram/engine/domain"
)

func newRawEvent(provider domain.Provider, sessionID string, payload string) domain.RawEvent {
	return domain.RawEvent{
		EventID:         "ev-1",
		IngestTimestamp: time.UnixMilli(1000),
		Provider:        provider,
		Payload:         []byte(payload),
		Headers:         domain.Headers{SessionID: sessionID},
	}
}

func TestOpenAIStrategyReassemblesDeltasAndToolCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	strat := newOpenAIStrategy(NewBuffer(ctx, time.Minute))

	chunk1 := `{"id":"c-1","choices":[{"index":0,"delta":{"content":"hel"},"finish_reason":null}]}`
	chunk2 := `{"id":"c-1","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":null}]}`
	chunk3 := `{"id":"c-1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call-1","function":{"name":"read_file","arguments":"{\"path\":"}}]},"finish_reason":null}]}`
	chunk4 := `{"id":"c-1","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"a.go\"}"}}]},"finish_reason":"tool_calls"}]}`
	chunk5 := `{"id":"c-1","choices":[],"usage":{"prompt_tokens":10,"completion_tokens":5}}`

	for _, c := range []string{chunk1, chunk2, chunk3, chunk4} {
		out, err := strat.Parse(ctx, newRawEvent(domain.ProviderOpenAI, "sess-1", c))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if c == chunk4 {
			if len(out) != 2 {
				t.Fatalf("expected AssistantText+ToolUse on finish_reason, got %d events", len(out))
			}
			text, ok := out[0].(AssistantText)
			if !ok || text.Text != "hello" {
				t.Fatalf("expected reassembled text %q, got %+v", "hello", out[0])
			}
			tool, ok := out[1].(ToolUse)
			if !ok || tool.ToolID != "call-1" || tool.ToolName != "read_file" {
				t.Fatalf("expected reassembled tool call, got %+v", out[1])
			}
			if string(tool.Input) != `{"path":"a.go"}` {
				t.Fatalf("expected reassembled args, got %q", tool.Input)
			}
		} else if len(out) != 0 {
			t.Fatalf("expected no events before finish_reason, got %+v", out)
		}
	}

	out, err := strat.Parse(ctx, newRawEvent(domain.ProviderOpenAI, "sess-1", chunk5))
	if err != nil {
		t.Fatalf("Parse usage chunk: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected exactly one UsageMarker, got %d", len(out))
	}
	usage, ok := out[0].(UsageMarker)
	if !ok || usage.InputTokens != 10 || usage.OutputTokens != 5 {
		t.Fatalf("expected usage marker with prompt/completion tokens, got %+v", out[0])
	}

	if strat.buf.Len() != 0 {
		t.Fatalf("expected buffer entry to be cleared after usage chunk, has %d entries", strat.buf.Len())
	}
}

func TestOpenAIStrategyRejectsUnparseablePayload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	strat := newOpenAIStrategy(NewBuffer(ctx, time.Minute))

	_, err := strat.Parse(ctx, newRawEvent(domain.ProviderXAI, "sess-1", "not json"))
	if err == nil {
		t.Fatal("expected an error for unparseable payload")
	}
}
