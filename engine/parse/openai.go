package parse

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rawcontext/engram/engine/domain"
)

// openAIChunk mirrors the `choices[].delta` streaming shape shared by
// OpenAI, xAI and Codex-SSE. reasoning_content is xAI's reasoning-model
// extension; plain OpenAI and Codex-SSE simply leave it empty.
type openAIChunk struct {
	ID      string `json:"id"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		CachedTokens     int64 `json:"cached_tokens"`
	} `json:"usage"`
}

type toolCallAccum struct {
	id, name string
	args     strings.Builder
}

// openAIState accumulates one streaming assistant message across chunks,
// keyed by the completion id every chunk in the stream repeats verbatim.
type openAIState struct {
	text           strings.Builder
	reasoning      strings.Builder
	toolCalls      map[int]*toolCallAccum
	toolOrder      []int
	contentFlushed bool
}

type openAIStrategy struct {
	buf *Buffer
}

func newOpenAIStrategy(buf *Buffer) *openAIStrategy {
	return &openAIStrategy{buf: buf}
}

func (s *openAIStrategy) Parse(_ context.Context, ev domain.RawEvent) ([]TypedEvent, error) {
	var chunk openAIChunk
	if err := json.Unmarshal(ev.Payload, &chunk); err != nil {
		return nil, fmt.Errorf("%w: openai: %v", ErrUnparseablePayload, err)
	}

	key := bufferKey{SessionID: ev.Headers.SessionID, MessageID: chunk.ID}
	entry := s.buf.LoadOrCreate(key, func() any {
		return &openAIState{toolCalls: make(map[int]*toolCallAccum)}
	})
	entry.Touch()
	entry.mu.Lock()
	defer entry.mu.Unlock()
	state := entry.state.(*openAIState)

	var out []TypedEvent
	closed := false
	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" {
			state.text.WriteString(choice.Delta.Content)
		}
		if choice.Delta.ReasoningContent != "" {
			state.reasoning.WriteString(choice.Delta.ReasoningContent)
		}
		for _, tc := range choice.Delta.ToolCalls {
			acc, ok := state.toolCalls[tc.Index]
			if !ok {
				acc = &toolCallAccum{}
				state.toolCalls[tc.Index] = acc
				state.toolOrder = append(state.toolOrder, tc.Index)
			}
			if tc.ID != "" {
				acc.id = tc.ID
			}
			if tc.Function.Name != "" {
				acc.name = tc.Function.Name
			}
			acc.args.WriteString(tc.Function.Arguments)
		}
		if choice.FinishReason != "" {
			closed = true
		}
	}

	if (closed || chunk.Usage != nil) && !state.contentFlushed {
		out = append(out, flushOpenAIContent(ev.Headers.SessionID, state)...)
		state.contentFlushed = true
	}

	if chunk.Usage != nil {
		out = append(out, UsageMarker{
			Common:       Common{SessionID: ev.Headers.SessionID},
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
			CachedTokens: chunk.Usage.CachedTokens,
		})
		s.buf.Delete(key)
	}

	return out, nil
}

func flushOpenAIContent(sessionID string, state *openAIState) []TypedEvent {
	var out []TypedEvent
	if state.text.Len() > 0 {
		out = append(out, AssistantText{Common: Common{SessionID: sessionID}, Text: state.text.String()})
	}
	if state.reasoning.Len() > 0 {
		out = append(out, Reasoning{Common: Common{SessionID: sessionID}, Text: state.reasoning.String()})
	}
	for _, idx := range state.toolOrder {
		acc := state.toolCalls[idx]
		out = append(out, ToolUse{
			Common:   Common{SessionID: sessionID},
			ToolID:   acc.id,
			ToolName: acc.name,
			Input:    json.RawMessage(acc.args.String()),
		})
	}
	return out
}
