package parse

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rawcontext/engram/engine/domain"
)

// directChunk is the explicit event-typed wire shape Claude-Code, Gemini and
// Codex emit — unlike the OpenAI and Anthropic families there are no
// streaming deltas to reassemble, so this translates one event to one
// TypedEvent with no buffering state.
type directChunk struct {
	Type         string          `json:"type"`
	Text         string          `json:"text,omitempty"`
	Encrypted    string          `json:"encrypted,omitempty"`
	ToolID       string          `json:"tool_id,omitempty"`
	ToolName     string          `json:"tool_name,omitempty"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       string          `json:"output,omitempty"`
	IsError      bool            `json:"is_error,omitempty"`
	FilePath     string          `json:"file_path,omitempty"`
	Patch        string          `json:"patch,omitempty"`
	InputTokens  int64           `json:"input_tokens,omitempty"`
	OutputTokens int64           `json:"output_tokens,omitempty"`
	CachedTokens int64           `json:"cached_tokens,omitempty"`
	Model        string          `json:"model,omitempty"`
	WorkingDir   string          `json:"working_dir,omitempty"`
}

type directStrategy struct{}

func newDirectStrategy() *directStrategy { return &directStrategy{} }

func (s *directStrategy) Parse(_ context.Context, ev domain.RawEvent) ([]TypedEvent, error) {
	var c directChunk
	if err := json.Unmarshal(ev.Payload, &c); err != nil {
		return nil, fmt.Errorf("%w: direct: %v", ErrUnparseablePayload, err)
	}

	common := Common{SessionID: ev.Headers.SessionID}
	switch c.Type {
	case "user_message":
		return []TypedEvent{UserMessage{Common: common, Text: c.Text}}, nil
	case "assistant_text":
		return []TypedEvent{AssistantText{Common: common, Text: c.Text}}, nil
	case "reasoning":
		return []TypedEvent{Reasoning{Common: common, Text: c.Text, Encrypted: c.Encrypted}}, nil
	case "tool_use":
		return []TypedEvent{ToolUse{Common: common, ToolID: c.ToolID, ToolName: c.ToolName, Input: c.Input}}, nil
	case "tool_result":
		return []TypedEvent{ToolResult{Common: common, ToolUseID: c.ToolID, Output: c.Output, IsError: c.IsError}}, nil
	case "diff":
		return []TypedEvent{Diff{Common: common, FilePath: c.FilePath, PatchContent: c.Patch}}, nil
	case "usage":
		return []TypedEvent{UsageMarker{
			Common:       common,
			InputTokens:  c.InputTokens,
			OutputTokens: c.OutputTokens,
			CachedTokens: c.CachedTokens,
		}}, nil
	case "system_init":
		return []TypedEvent{SystemInit{Common: common, Model: c.Model, WorkingDir: c.WorkingDir}}, nil
	default:
		return nil, fmt.Errorf("%w: direct: unknown event type %q", ErrUnparseablePayload, c.Type)
	}
}
