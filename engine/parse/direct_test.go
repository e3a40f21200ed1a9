package parse

import (
	"context"
	"testing"

	"github.com/rawcontext/engram/engine/domain"
)

func TestDirectStrategyTranslatesEachExplicitEventType(t *testing.T) {
	ctx := context.Background()
	strat := newDirectStrategy()

	cases := []struct {
		payload string
		kind    Kind
	}{
		{`{"type":"user_message","text":"hi"}`, KindUserMessage},
		{`{"type":"assistant_text","text":"hi back"}`, KindAssistantText},
		{`{"type":"reasoning","text":"thinking"}`, KindReasoning},
		{`{"type":"tool_use","tool_id":"t1","tool_name":"read_file","input":{}}`, KindToolUse},
		{`{"type":"tool_result","tool_id":"t1","output":"ok"}`, KindToolResult},
		{`{"type":"diff","file_path":"a.go","patch":"@@ -1 +1 @@"}`, KindDiff},
		{`{"type":"usage","input_tokens":1,"output_tokens":2}`, KindUsageMarker},
		{`{"type":"system_init","model":"gemini-pro"}`, KindSystemInit},
	}

	for _, c := range cases {
		out, err := strat.Parse(ctx, newRawEvent(domain.ProviderGemini, "sess-1", c.payload))
		if err != nil {
			t.Fatalf("Parse %q: %v", c.payload, err)
		}
		if len(out) != 1 || out[0].Kind() != c.kind {
			t.Fatalf("expected a single %s event for %q, got %+v", c.kind, c.payload, out)
		}
	}
}

func TestDirectStrategyRejectsUnknownEventType(t *testing.T) {
	ctx := context.Background()
	strat := newDirectStrategy()

	_, err := strat.Parse(ctx, newRawEvent(domain.ProviderCodex, "sess-1", `{"type":"made_up"}`))
	if err == nil {
		t.Fatal("expected an error for an unrecognized event type")
	}
}
