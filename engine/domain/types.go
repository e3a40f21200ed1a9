// Package domain defines the core entities, bitemporal fields, and the
// dynamic-provider-payload sum type that the ingestion, parsing, and
// aggregation pipeline operates on (spec.md §3). It acts as the validation
// gate at pipeline entry points.
package domain

import "time"

// Provider enumerates the agent vendors the pipeline understands. Unknown
// providers are a validation error, never a silent pass-through
// (spec.md §9 "dynamic payloads on events").
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderXAI        Provider = "xai"
	ProviderCodexSSE   Provider = "codex-sse"
	ProviderAnthropic  Provider = "anthropic"
	ProviderClaudeCode Provider = "claude-code"
	ProviderGemini     Provider = "gemini"
	ProviderCodex      Provider = "codex"
)

// KnownProviders is the enumerated set accepted at the ingestion boundary.
var KnownProviders = map[Provider]bool{
	ProviderOpenAI:     true,
	ProviderXAI:        true,
	ProviderCodexSSE:   true,
	ProviderAnthropic:  true,
	ProviderClaudeCode: true,
	ProviderGemini:     true,
	ProviderCodex:      true,
}

// Headers carries the required and optional ingestion metadata (spec.md §6).
type Headers struct {
	SessionID  string `json:"x-session-id"`
	WorkingDir string `json:"x-working-dir,omitempty"`
	GitRemote  string `json:"x-git-remote,omitempty"`
	AgentType  string `json:"x-agent-type,omitempty"`
}

// RawEvent is the ingestion-boundary envelope: an opaque per-provider
// payload tagged with a provider discriminant (spec.md §6).
type RawEvent struct {
	EventID         string    `json:"event_id"`
	IngestTimestamp time.Time `json:"ingest_timestamp"`
	Provider        Provider  `json:"provider"`
	Payload         []byte    `json:"payload"`
	Headers         Headers   `json:"headers"`
	Bitemporal
}

// Validate checks the fields required at the ingestion boundary: a known
// provider, a present event id, and a session id header. It does not inspect
// the opaque payload — that is the Parser's job.
func (e RawEvent) Validate() error {
	if e.EventID == "" {
		return NewValidationError("event_id", "", ErrMissingEventID)
	}
	if e.Headers.SessionID == "" {
		return NewValidationError("headers.x-session-id", "", ErrMissingSessionID)
	}
	if !KnownProviders[e.Provider] {
		return NewValidationError("provider", string(e.Provider), ErrUnknownProvider)
	}
	return nil
}

// Session is the root entity for one agent conversation.
type Session struct {
	ID          string `json:"id"`
	StartedAt   int64  `json:"started_at"`
	LastEventAt int64  `json:"last_event_at"`
	Title       string `json:"title"`
	UserID      string `json:"user_id,omitempty"`
	Preview     string `json:"preview,omitempty"`
	Bitemporal
}

// TurnRole distinguishes who opened the turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

// Turn is one exchange between user and assistant inside a session. Ordinals
// are gap-free and increasing starting at 0 per session (spec.md §3.4).
type Turn struct {
	ID        string   `json:"id"`
	SessionID string   `json:"session_id"`
	Ordinal   int      `json:"ordinal"`
	Role      TurnRole `json:"role"`
	Summary   string   `json:"summary,omitempty"`
	Bitemporal
}

// Reasoning is an append-only thinking/reasoning span within a turn.
type Reasoning struct {
	ID     string `json:"id"`
	TurnID string `json:"turn_id"`
	Text   string `json:"text"`
	Order  int    `json:"order"`
	Bitemporal
}

// ToolCallStatus tracks the ToolCall lifecycle.
type ToolCallStatus string

const (
	ToolCallPending ToolCallStatus = "pending"
	ToolCallDone    ToolCallStatus = "done"
	ToolCallError   ToolCallStatus = "error"
)

// ToolCall is created on tool_use and updated once on a matching tool_result.
type ToolCall struct {
	ID        string         `json:"id"`
	TurnID    string         `json:"turn_id"`
	ToolName  string         `json:"tool_name"`
	Input     string         `json:"input"` // inline or a blob-ref uri when large
	ResultRef string         `json:"result_ref,omitempty"`
	Status    ToolCallStatus `json:"status"`
	Bitemporal
}

// DiffHunk is an append-only code change recorded under a turn.
type DiffHunk struct {
	ID           string `json:"id"`
	TurnID       string `json:"turn_id"`
	FilePath     string `json:"file_path"`
	PatchContent string `json:"patch_content"` // inline or a blob-ref uri when large
	Bitemporal
}

// LessDiff orders two diffs within a session: by vt_start ascending, ties
// broken by event-id lexicographic order (spec.md §3.4).
func LessDiff(aVTStart int64, aEventID string, bVTStart int64, bEventID string) bool {
	if aVTStart != bVTStart {
		return aVTStart < bVTStart
	}
	return aEventID < bEventID
}

// VFSSnapshot is an immutable periodic checkpoint of a session's directory
// tree, stored as gzipped JSON in blob storage.
type VFSSnapshot struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	BlobRef   string `json:"blob_ref"`
	VT        int64  `json:"vt"`
}

// VectorPointType classifies the payload embedded for a vector point.
type VectorPointType string

const (
	VectorThought VectorPointType = "thought"
	VectorCode    VectorPointType = "code"
	VectorDoc     VectorPointType = "doc"
)

// VectorPoint mirrors the vector-store payload for a source node; its id
// always equals the source node's id (spec.md §3.2, invariant in §3.4).
type VectorPoint struct {
	ID        string          `json:"id"`
	NodeID    string          `json:"node_id"`
	SessionID string          `json:"session_id"`
	Type      VectorPointType `json:"type"`
	Content   string          `json:"content"`
	Timestamp int64           `json:"timestamp"`
	FilePath  string          `json:"file_path,omitempty"`
}

// RelationshipType enumerates the edge labels of spec.md §3.3.
type RelationshipType string

const (
	RelHasTurn      RelationshipType = "HAS_TURN"
	RelHasMessage   RelationshipType = "HAS_MESSAGE"
	RelHasReasoning RelationshipType = "HAS_REASONING"
	RelHasToolCall  RelationshipType = "HAS_TOOLCALL"
	RelHasDiff      RelationshipType = "HAS_DIFF"
	RelTouches      RelationshipType = "TOUCHES"
	RelModifies     RelationshipType = "MODIFIES"
)

// Relationship carries the same bitemporal quadruple as nodes (spec.md §3.3).
type Relationship struct {
	ID   string           `json:"id"`
	From string           `json:"from"`
	To   string           `json:"to"`
	Type RelationshipType `json:"type"`
	Bitemporal
}
