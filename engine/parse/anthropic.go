package parse

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rawcontext/engram/engine/domain"
)

// anthropicChunk mirrors the SSE content-block event shapes Anthropic's
// messages API emits: message_start/message_delta/message_stop bracket the
// stream, content_block_start/delta/stop bracket each block, addressed by
// Index (grounded on the pack's Anthropic stream dispatch, generalized from
// a single in-process channel consumer to per-chunk reassembly across a
// broker boundary).
type anthropicChunk struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message struct {
		ID    string `json:"id"`
		Model string `json:"model"`
	} `json:"message"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		Signature   string `json:"signature"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
	Usage struct {
		InputTokens          int64 `json:"input_tokens"`
		OutputTokens         int64 `json:"output_tokens"`
		CacheReadInputTokens int64 `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

type anthropicBlockKind int

const (
	blockUnknown anthropicBlockKind = iota
	blockText
	blockReasoning
	blockToolUse
)

type anthropicBlock struct {
	kind             anthropicBlockKind
	text             strings.Builder
	signature        strings.Builder
	toolID, toolName string
	args             strings.Builder
}

// anthropicState accumulates the open content blocks of one in-flight
// message, indexed the way the wire protocol indexes them.
type anthropicState struct {
	blocks map[int]*anthropicBlock
}

// anthropicStrategy reassembles Anthropic's message_start..message_stop
// stream into typed events. The wire protocol only repeats the message id
// on message_start, so active carries the session's current in-flight
// message id for the chunks in between (one open assistant message per
// session at a time holds for this provider).
type anthropicStrategy struct {
	buf    *Buffer
	active sync.Map // sessionID -> messageID (string)
}

func newAnthropicStrategy(buf *Buffer) *anthropicStrategy {
	return &anthropicStrategy{buf: buf}
}

func (s *anthropicStrategy) messageIDFor(sessionID string) string {
	if v, ok := s.active.Load(sessionID); ok {
		return v.(string)
	}
	return sessionID
}

func (s *anthropicStrategy) Parse(_ context.Context, ev domain.RawEvent) ([]TypedEvent, error) {
	var chunk anthropicChunk
	if err := json.Unmarshal(ev.Payload, &chunk); err != nil {
		return nil, fmt.Errorf("%w: anthropic: %v", ErrUnparseablePayload, err)
	}

	sessionID := ev.Headers.SessionID
	if chunk.Type == "message_start" && chunk.Message.ID != "" {
		s.active.Store(sessionID, chunk.Message.ID)
	}
	key := bufferKey{SessionID: sessionID, MessageID: s.messageIDFor(sessionID)}
	entry := s.buf.LoadOrCreate(key, func() any {
		return &anthropicState{blocks: make(map[int]*anthropicBlock)}
	})
	entry.Touch()
	entry.mu.Lock()
	defer entry.mu.Unlock()
	state := entry.state.(*anthropicState)

	var out []TypedEvent
	switch chunk.Type {
	case "ping":
		// no-op keepalive.

	case "message_start":
		// the active message id was recorded above, before the buffer key
		// was derived, so this message's state lives under its own id.

	case "content_block_start":
		blk := &anthropicBlock{}
		switch chunk.ContentBlock.Type {
		case "thinking":
			blk.kind = blockReasoning
		case "text":
			blk.kind = blockText
		case "tool_use":
			blk.kind = blockToolUse
			blk.toolID = chunk.ContentBlock.ID
			blk.toolName = chunk.ContentBlock.Name
		}
		state.blocks[chunk.Index] = blk

	case "content_block_delta":
		blk := state.blocks[chunk.Index]
		if blk == nil {
			break
		}
		switch chunk.Delta.Type {
		case "thinking_delta":
			blk.text.WriteString(chunk.Delta.Thinking)
		case "signature_delta":
			blk.signature.WriteString(chunk.Delta.Signature)
		case "text_delta":
			blk.text.WriteString(chunk.Delta.Text)
		case "input_json_delta":
			blk.args.WriteString(chunk.Delta.PartialJSON)
		}

	case "content_block_stop":
		blk := state.blocks[chunk.Index]
		if blk == nil {
			break
		}
		switch blk.kind {
		case blockText:
			out = append(out, AssistantText{Common: Common{SessionID: sessionID}, Text: blk.text.String()})
		case blockReasoning:
			out = append(out, Reasoning{
				Common:    Common{SessionID: sessionID},
				Text:      blk.text.String(),
				Encrypted: blk.signature.String(),
			})
		case blockToolUse:
			out = append(out, ToolUse{
				Common:   Common{SessionID: sessionID},
				ToolID:   blk.toolID,
				ToolName: blk.toolName,
				Input:    json.RawMessage(blk.args.String()),
			})
		}
		delete(state.blocks, chunk.Index)

	case "message_delta":
		if chunk.Usage.InputTokens > 0 || chunk.Usage.OutputTokens > 0 {
			out = append(out, UsageMarker{
				Common:       Common{SessionID: sessionID},
				InputTokens:  chunk.Usage.InputTokens,
				OutputTokens: chunk.Usage.OutputTokens,
				CachedTokens: chunk.Usage.CacheReadInputTokens,
			})
		}

	case "message_stop":
		s.buf.Delete(key)
		s.active.Delete(sessionID)
	}

	return out, nil
}
