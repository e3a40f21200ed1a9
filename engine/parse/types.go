// Package parse turns provider-specific raw payloads into the closed set of
// typed domain events the rest of the pipeline understands (spec.md §4.2).
package parse

import "encoding/json"

// Kind discriminates the closed TypedEvent sum type.
type Kind string

const (
	KindUserMessage   Kind = "user_message"
	KindAssistantText Kind = "assistant_text"
	KindReasoning     Kind = "reasoning"
	KindToolUse       Kind = "tool_use"
	KindToolResult    Kind = "tool_result"
	KindDiff          Kind = "diff"
	KindUsageMarker   Kind = "usage_marker"
	KindSystemInit    Kind = "system_init"
)

// Common carries the envelope every typed event shares: the session it
// belongs to, the raw event it was derived from, and the ordering fields the
// Registry stamps after a strategy emits it — a monotonic per-session
// sequence number and a causally ordered timestamp (ingest timestamp bumped
// by whole milliseconds when two events would otherwise tie, since the
// domain clock is millisecond-granular).
type Common struct {
	SessionID string `json:"session_id"`
	EventID   string `json:"event_id"`
	Seq       int64  `json:"seq"`
	Timestamp int64  `json:"timestamp"`
}

// TypedEvent is the closed sum: UserMessage | AssistantText | Reasoning |
// ToolUse | ToolResult | Diff | UsageMarker | SystemInit. withCommon is
// unexported so the set stays closed to this package.
type TypedEvent interface {
	Kind() Kind
	Envelope() Common
	withCommon(Common) TypedEvent
}

// UserMessage is a turn-opening message from the human.
type UserMessage struct {
	Common
	Text string `json:"text"`
}

func (e UserMessage) Kind() Kind            { return KindUserMessage }
func (e UserMessage) Envelope() Common      { return e.Common }
func (e UserMessage) withCommon(c Common) TypedEvent { e.Common = c; return e }

// AssistantText is a completed assistant text span.
type AssistantText struct {
	Common
	Text string `json:"text"`
}

func (e AssistantText) Kind() Kind            { return KindAssistantText }
func (e AssistantText) Envelope() Common      { return e.Common }
func (e AssistantText) withCommon(c Common) TypedEvent { e.Common = c; return e }

// Reasoning is a completed thinking/reasoning span. Encrypted carries the
// provider's opaque signature over the reasoning content, when present
// (Anthropic `thinking` blocks); empty for providers that don't sign it.
type Reasoning struct {
	Common
	Text      string `json:"text"`
	Encrypted string `json:"encrypted,omitempty"`
}

func (e Reasoning) Kind() Kind            { return KindReasoning }
func (e Reasoning) Envelope() Common      { return e.Common }
func (e Reasoning) withCommon(c Common) TypedEvent { e.Common = c; return e }

// ToolUse is a completed tool invocation request from the assistant.
type ToolUse struct {
	Common
	ToolID   string          `json:"tool_id"`
	ToolName string          `json:"tool_name"`
	Input    json.RawMessage `json:"input"`
}

func (e ToolUse) Kind() Kind            { return KindToolUse }
func (e ToolUse) Envelope() Common      { return e.Common }
func (e ToolUse) withCommon(c Common) TypedEvent { e.Common = c; return e }

// ToolResult is the outcome of a prior ToolUse, correlated by ToolUseID.
type ToolResult struct {
	Common
	ToolUseID string `json:"tool_use_id"`
	Output    string `json:"output"`
	IsError   bool   `json:"is_error,omitempty"`
}

func (e ToolResult) Kind() Kind            { return KindToolResult }
func (e ToolResult) Envelope() Common      { return e.Common }
func (e ToolResult) withCommon(c Common) TypedEvent { e.Common = c; return e }

// Diff is a code change recorded under the current turn.
type Diff struct {
	Common
	FilePath     string `json:"file_path"`
	PatchContent string `json:"patch_content"`
}

func (e Diff) Kind() Kind            { return KindDiff }
func (e Diff) Envelope() Common      { return e.Common }
func (e Diff) withCommon(c Common) TypedEvent { e.Common = c; return e }

// UsageMarker closes an assistant turn and records token accounting.
type UsageMarker struct {
	Common
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	CachedTokens int64 `json:"cached_tokens,omitempty"`
}

func (e UsageMarker) Kind() Kind            { return KindUsageMarker }
func (e UsageMarker) Envelope() Common      { return e.Common }
func (e UsageMarker) withCommon(c Common) TypedEvent { e.Common = c; return e }

// SystemInit marks the start of a session: model and working directory.
type SystemInit struct {
	Common
	Model      string `json:"model"`
	WorkingDir string `json:"working_dir,omitempty"`
}

func (e SystemInit) Kind() Kind            { return KindSystemInit }
func (e SystemInit) Envelope() Common      { return e.Common }
func (e SystemInit) withCommon(c Common) TypedEvent { e.Common = c; return e }
