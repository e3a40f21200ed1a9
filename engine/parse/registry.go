package parse

import (
	"context"
	"fmt"

	"github.com/rawcontext/engram/engine/domain"
)

// Strategy applies one provider's reassembly rules to a single raw event,
// emitting zero or more typed events with only SessionID/EventID populated
// in their Common envelope — the Registry stamps Seq/Timestamp afterward.
type Strategy interface {
	Parse(ctx context.Context, ev domain.RawEvent) ([]TypedEvent, error)
}

// Registry dispatches a raw event to its provider's Strategy and stamps the
// resulting typed events with ordering metadata (spec.md §4.2 "Sequencing").
type Registry struct {
	strategies map[domain.Provider]Strategy
	seq        *Sequencer
}

// NewRegistry builds the registry with the full provider-family wiring:
// OpenAI, xAI and Codex-SSE share the chunked-delta reassembly strategy;
// Anthropic gets its own content-block walk; Claude-Code, Gemini and Codex
// use the explicit-event direct strategy. buf backs the two streaming
// strategies' rolling reassembly state.
func NewRegistry(buf *Buffer) *Registry {
	openAI := newOpenAIStrategy(buf)
	anthropic := newAnthropicStrategy(buf)
	direct := newDirectStrategy()

	return &Registry{
		seq: NewSequencer(),
		strategies: map[domain.Provider]Strategy{
			domain.ProviderOpenAI:     openAI,
			domain.ProviderXAI:        openAI,
			domain.ProviderCodexSSE:   openAI,
			domain.ProviderAnthropic:  anthropic,
			domain.ProviderClaudeCode: direct,
			domain.ProviderGemini:     direct,
			domain.ProviderCodex:      direct,
		},
	}
}

// Parse dispatches ev to its provider strategy and stamps every emitted
// event with the next sequence number and causal timestamp for its session.
func (r *Registry) Parse(ctx context.Context, ev domain.RawEvent) ([]TypedEvent, error) {
	strat, ok := r.strategies[ev.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, ev.Provider)
	}

	events, err := strat.Parse(ctx, ev)
	if err != nil {
		return nil, err
	}

	base := ev.IngestTimestamp.UnixMilli()
	stamped := make([]TypedEvent, len(events))
	for i, te := range events {
		stamped[i] = te.withCommon(r.seq.Next(ev.Headers.SessionID, ev.EventID, base))
	}
	return stamped, nil
}
