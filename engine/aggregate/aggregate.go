// Package aggregate turns the parser's typed-event stream into the
// bitemporal knowledge graph: turn detection, idempotent graph upsert, large
// payload externalization, and dual notification publish (spec.md §4.3).
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rawcontext/engram/engine/domain"
	"github.com/rawcontext/engram/engine/parse"
	"github.com/rawcontext/engram/storage/blob"
	"github.com/rawcontext/engram/storage/broker"
	graphstore "github.com/rawcontext/engram/storage/graph"
	"github.com/rawcontext/engram/storage/kvpubsub"
)

// blobThreshold is the inline-vs-externalize cutoff spec.md §4.3 names:
// text bodies over 16 KiB (and all diff bodies) are written to blob storage
// and the node stores the returned content-addressed uri instead.
const blobThreshold = 16 * 1024

// Aggregator runs the turn-detection FSM and writes its output to the
// graph, externalizing large payloads and publishing the dual notification
// after each write.
type Aggregator struct {
	graph  graphstore.Store
	blob   blob.Store
	broker broker.Broker
	pubsub kvpubsub.PubSub

	sessions    *sessionTurns
	idleTimeout time.Duration
}

// New builds an Aggregator over the given storage facades.
func New(g graphstore.Store, b blob.Store, br broker.Broker, ps kvpubsub.PubSub) *Aggregator {
	return &Aggregator{
		graph:       g,
		blob:        b,
		broker:      br,
		pubsub:      ps,
		sessions:    newSessionTurns(),
		idleTimeout: DefaultIdleTimeout,
	}
}

// notification is the pub/sub payload spec.md §4.3 names:
// {type, session_id, node_id, payload_ref?}.
type notification struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	NodeID     string `json:"node_id"`
	PayloadRef string `json:"payload_ref,omitempty"`
}

// turnFinalized is published to memory.turns.finalized when a turn closes.
type turnFinalized struct {
	SessionID    string `json:"session_id"`
	TurnID       string `json:"turn_id"`
	Ordinal      int    `json:"ordinal"`
	ClosedBy     string `json:"closed_by"`
	InputTokens  int64  `json:"input_tokens,omitempty"`
	OutputTokens int64  `json:"output_tokens,omitempty"`
}

// Handle applies one typed event to its session's turn FSM, writes the
// resulting graph node(s), and publishes the dual notification. At-least-once
// delivery is expected of the caller; every write here is idempotent under
// redelivery via storage/graph's version-key MERGE.
func (a *Aggregator) Handle(ctx context.Context, te parse.TypedEvent) error {
	env := te.Envelope()
	st := a.sessions.get(env.SessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := a.writeSessionLocked(ctx, st, env); err != nil {
		return err
	}

	switch v := te.(type) {
	case parse.UserMessage:
		if st.state == StateOpen {
			if err := a.finalizeTurnLocked(ctx, st, "role_flip"); err != nil {
				return err
			}
		}
		if err := a.openTurnLocked(ctx, st, env, domain.RoleUser); err != nil {
			return err
		}
		return a.writeChild(ctx, st, "UserMessage", domain.RelHasMessage, env, map[string]any{}, v.Text)

	case parse.SystemInit:
		// System init carries no turn semantics of its own; record it
		// against the session directly.
		return a.writeSystemInit(ctx, env, v)

	case parse.AssistantText:
		if err := a.requireOpenLocked(st); err != nil {
			return err
		}
		st.lastActivity = time.UnixMilli(env.Timestamp)
		return a.writeChild(ctx, st, "AssistantText", domain.RelHasMessage, env, map[string]any{}, v.Text)

	case parse.Reasoning:
		if err := a.requireOpenLocked(st); err != nil {
			return err
		}
		st.lastActivity = time.UnixMilli(env.Timestamp)
		return a.writeChild(ctx, st, "Reasoning", domain.RelHasReasoning, env, map[string]any{
			"encrypted": v.Encrypted,
		}, v.Text)

	case parse.ToolUse:
		if err := a.requireOpenLocked(st); err != nil {
			return err
		}
		st.lastActivity = time.UnixMilli(env.Timestamp)
		return a.writeChild(ctx, st, "ToolCall", domain.RelHasToolCall, env, map[string]any{
			"tool_name": v.ToolName,
			"tool_id":   v.ToolID,
			"status":    string(domain.ToolCallPending),
		}, string(v.Input))

	case parse.ToolResult:
		if err := a.requireOpenLocked(st); err != nil {
			return err
		}
		st.lastActivity = time.UnixMilli(env.Timestamp)
		status := domain.ToolCallDone
		if v.IsError {
			status = domain.ToolCallError
		}
		return a.writeChild(ctx, st, "ToolCall", domain.RelHasToolCall, env, map[string]any{
			"tool_use_id": v.ToolUseID,
			"status":      string(status),
		}, v.Output)

	case parse.Diff:
		if err := a.requireOpenLocked(st); err != nil {
			return err
		}
		st.lastActivity = time.UnixMilli(env.Timestamp)
		return a.writeChild(ctx, st, "DiffHunk", domain.RelHasDiff, env, map[string]any{
			"file_path":  v.FilePath,
			"session_id": env.SessionID, // engine/rehydrate scans DiffHunk by session, not by turn
		}, v.PatchContent)

	case parse.UsageMarker:
		if err := a.requireOpenLocked(st); err != nil {
			return err
		}
		st.lastActivity = time.UnixMilli(env.Timestamp)
		if err := a.recordUsageLocked(ctx, st, v); err != nil {
			return err
		}
		return a.finalizeTurnLocked(ctx, st, "usage_marker")

	default:
		return fmt.Errorf("aggregate: unhandled typed event kind %q", te.Kind())
	}
}

// CloseIdleTurns finalizes every session whose turn has been open past the
// idle timeout with no activity (spec.md §4.3 "any state + 30 min idle").
// Intended to be called periodically by a caller-owned ticker.
func (a *Aggregator) CloseIdleTurns(ctx context.Context) error {
	for _, sessionID := range a.sessions.idleSessions(a.idleTimeout) {
		st := a.sessions.get(sessionID)
		st.mu.Lock()
		if st.state == StateOpen {
			if err := a.finalizeTurnLocked(ctx, st, "idle_timeout"); err != nil {
				st.mu.Unlock()
				return err
			}
		}
		if err := a.closeSessionLocked(ctx, st, time.Now().UnixMilli()); err != nil {
			st.mu.Unlock()
			return err
		}
		st.mu.Unlock()
	}
	return nil
}

// writeSessionLocked upserts the Session node spec.md §3.2 names: created on
// first event of an unseen session id, updated on every subsequent event.
// The close step of CloseAndAppend is a no-op the first time (nothing open
// yet to close), so one call covers both "created" and "updated" without the
// caller needing to distinguish the two.
func (a *Aggregator) writeSessionLocked(ctx context.Context, st *sessionTurn, env parse.Common) error {
	if st.sessionStartedAt == 0 {
		st.sessionStartedAt = env.Timestamp
	}
	bt := domain.OpenInterval(time.UnixMilli(env.Timestamp))
	props := map[string]any{
		"started_at":    st.sessionStartedAt,
		"last_event_at": env.Timestamp,
	}
	if err := graphstore.CloseAndAppend(ctx, a.graph, "Session", env.SessionID, env.EventID, props, bt, env.Timestamp); err != nil {
		return fmt.Errorf("aggregate: write session: %w", err)
	}
	return nil
}

// closeSessionLocked closes the Session node's validity interval at closedAt
// (spec.md §3.2 "closed on inactivity or explicit close"). A no-op if the
// session was never written (st.sessionStartedAt == 0) or already closed.
func (a *Aggregator) closeSessionLocked(ctx context.Context, st *sessionTurn, closedAt int64) error {
	if st.sessionStartedAt == 0 || st.sessionClosed {
		return nil
	}
	bt := domain.Bitemporal{
		VTStart: st.sessionStartedAt,
		VTEnd:   closedAt,
		TTStart: closedAt,
		TTEnd:   domain.EndOfTime,
	}
	props := map[string]any{
		"started_at":    st.sessionStartedAt,
		"last_event_at": closedAt,
	}
	eventID := fmt.Sprintf("close:%d", closedAt)
	if err := graphstore.CloseAndAppend(ctx, a.graph, "Session", st.sessionID, eventID, props, bt, closedAt); err != nil {
		return fmt.Errorf("aggregate: close session: %w", err)
	}
	st.sessionClosed = true
	return nil
}

// CloseSession closes sessionID's Session node on an explicit close request
// (spec.md §3.2), independent of turn or idle state.
func (a *Aggregator) CloseSession(ctx context.Context, sessionID string) error {
	st := a.sessions.get(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return a.closeSessionLocked(ctx, st, time.Now().UnixMilli())
}

func (a *Aggregator) requireOpenLocked(st *sessionTurn) error {
	if st.state != StateOpen {
		return domain.NewConsistencyError("aggregate", ErrNoOpenTurn)
	}
	return nil
}

func (a *Aggregator) openTurnLocked(ctx context.Context, st *sessionTurn, env parse.Common, role domain.TurnRole) error {
	st.ordinal++
	turnID := fmt.Sprintf("turn:%s:%d", env.SessionID, st.ordinal)
	st.turnID = turnID
	st.state = StateOpen
	st.role = role
	st.lastActivity = time.UnixMilli(env.Timestamp)
	st.usageIn = 0
	st.usageOut = 0

	bt := domain.OpenInterval(time.UnixMilli(env.Timestamp))
	props := map[string]any{
		"session_id": env.SessionID,
		"ordinal":    st.ordinal,
		"role":       string(role),
	}
	if err := graphstore.UpsertNode(ctx, a.graph, "Turn", turnID, env.EventID, props, bt); err != nil {
		return fmt.Errorf("aggregate: open turn: %w", err)
	}
	if err := graphstore.CreateRelationship(ctx, a.graph, "Session", env.SessionID, "Turn", turnID, domain.Relationship{
		ID:         turnID + ":has_turn",
		From:       env.SessionID,
		To:         turnID,
		Type:       domain.RelHasTurn,
		Bitemporal: bt,
	}); err != nil {
		return fmt.Errorf("aggregate: link turn: %w", err)
	}
	return a.publish(ctx, "Turn", env.SessionID, turnID, "")
}

func (a *Aggregator) finalizeTurnLocked(ctx context.Context, st *sessionTurn, closedBy string) error {
	if st.turnID == "" {
		st.state = StateIdle
		return nil
	}
	st.state = StateClosing
	msg := turnFinalized{
		SessionID:    st.sessionID,
		TurnID:       st.turnID,
		Ordinal:      st.ordinal,
		ClosedBy:     closedBy,
		InputTokens:  st.usageIn,
		OutputTokens: st.usageOut,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("aggregate: marshal turn finalized: %w", err)
	}
	if err := a.broker.Send(ctx, broker.SubjectTurnsFinalized, []broker.KeyedMessage{{Key: st.turnID, Value: data}}); err != nil {
		return fmt.Errorf("aggregate: publish turn finalized: %w", err)
	}
	st.state = StateIdle
	st.turnID = ""
	return nil
}

func (a *Aggregator) recordUsageLocked(ctx context.Context, st *sessionTurn, v parse.UsageMarker) error {
	st.usageIn = v.InputTokens
	st.usageOut = v.OutputTokens

	props := map[string]any{
		"input_tokens":  v.InputTokens,
		"output_tokens": v.OutputTokens,
		"cached_tokens": v.CachedTokens,
	}
	bt := domain.OpenInterval(time.UnixMilli(v.Envelope().Timestamp))
	return graphstore.UpsertNode(ctx, a.graph, "Turn", st.turnID, v.Envelope().EventID, props, bt)
}

// writeChild externalizes content over blobThreshold (and every DiffHunk
// body), writes the idempotent
// node, links it under the current turn, and publishes the dual
// notification.
func (a *Aggregator) writeChild(ctx context.Context, st *sessionTurn, label string, rel domain.RelationshipType, env parse.Common, extra map[string]any, content string) error {
	inline, ref, err := a.externalize(ctx, content, label == "DiffHunk")
	if err != nil {
		return err
	}

	nodeID := fmt.Sprintf("node:%s:%d", env.EventID, env.Seq)
	props := map[string]any{}
	for k, v := range extra {
		props[k] = v
	}
	if inline != "" {
		props["content"] = inline
	}
	if ref != "" {
		props["blob_ref"] = ref
	}

	bt := domain.OpenInterval(time.UnixMilli(env.Timestamp))
	if err := graphstore.UpsertNode(ctx, a.graph, label, nodeID, env.EventID, props, bt); err != nil {
		return fmt.Errorf("aggregate: write %s: %w", label, err)
	}
	if err := graphstore.CreateRelationship(ctx, a.graph, "Turn", st.turnID, label, nodeID, domain.Relationship{
		ID:         nodeID + ":" + string(rel),
		From:       st.turnID,
		To:         nodeID,
		Type:       rel,
		Bitemporal: bt,
	}); err != nil {
		return fmt.Errorf("aggregate: link %s: %w", label, err)
	}

	return a.publish(ctx, label, env.SessionID, nodeID, ref)
}

func (a *Aggregator) writeSystemInit(ctx context.Context, env parse.Common, v parse.SystemInit) error {
	bt := domain.OpenInterval(time.UnixMilli(env.Timestamp))
	props := map[string]any{
		"model":       v.Model,
		"working_dir": v.WorkingDir,
	}
	if err := graphstore.UpsertNode(ctx, a.graph, "SystemInit", "sysinit:"+env.SessionID, env.EventID, props, bt); err != nil {
		return fmt.Errorf("aggregate: write system init: %w", err)
	}
	return a.publish(ctx, "SystemInit", env.SessionID, "sysinit:"+env.SessionID, "")
}

// publish emits the dual notification spec.md §4.3 names: a durable
// "node-created" stream message for the Indexer, and an ephemeral
// session-updates pub/sub message for UI subscribers.
func (a *Aggregator) publish(ctx context.Context, nodeType, sessionID, nodeID, payloadRef string) error {
	n := notification{Type: nodeType, SessionID: sessionID, NodeID: nodeID, PayloadRef: payloadRef}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("aggregate: marshal notification: %w", err)
	}
	if err := a.broker.Send(ctx, broker.SubjectNodesCreated, []broker.KeyedMessage{{Key: sessionID, Value: data}}); err != nil {
		return fmt.Errorf("aggregate: publish node created: %w", err)
	}
	if err := a.pubsub.Publish(ctx, "observatory.session."+sessionID+".updates", n); err != nil {
		return fmt.Errorf("aggregate: publish session update: %w", err)
	}
	return nil
}

// externalize returns content inline if it fits under blobThreshold and
// always is false, otherwise saves it to blob storage and returns its uri.
func (a *Aggregator) externalize(ctx context.Context, content string, always bool) (inline string, blobRef string, err error) {
	if content == "" {
		return "", "", nil
	}
	if !always && len(content) <= blobThreshold {
		return content, "", nil
	}
	uri, err := a.blob.Save(ctx, []byte(content))
	if err != nil {
		return "", "", fmt.Errorf("aggregate: externalize: %w", err)
	}
	return "", uri, nil
}
