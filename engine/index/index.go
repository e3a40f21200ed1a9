// Package index implements the Indexer (spec.md §4.4): it subscribes to
// node-created notifications, routes each node to the code or text
// embedding path, builds the named-vector point, and upserts it into the
// vector store.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rawcontext/engram/engine/domain"
	"github.com/rawcontext/engram/pkg/fn"
	"github.com/rawcontext/engram/storage/blob"
	graphstore "github.com/rawcontext/engram/storage/graph"
	"github.com/rawcontext/engram/storage/vector"
)

// codeLabels is the routing table spec.md §4.4 names: these node labels go
// through the code embedding path, everything else goes through text.
var codeLabels = map[string]bool{
	"DiffHunk":     true,
	"CodeArtifact": true,
}

// docLabels are text-path node labels that are environment/session
// metadata rather than conversational content, classified as "doc" in
// VectorPoint.Payload.Type (spec.md §3.2) instead of "thought".
var docLabels = map[string]bool{
	"SystemInit": true,
}

// embedRetryOpts covers a dropped connection to a local Ollama instance —
// tighter than fn.DefaultRetry since this is a same-host call, not a
// flaky third-party HTTP API.
var embedRetryOpts = fn.RetryOpts{
	MaxAttempts: 3,
	InitialWait: 100 * time.Millisecond,
	MaxWait:     time.Second,
	Jitter:      true,
}

// classifyPointType maps a node label to the three-value payload.type enum
// SearchQuery.filters.type selects against.
func classifyPointType(nodeType string, isCode bool) domain.VectorPointType {
	switch {
	case isCode:
		return domain.VectorCode
	case docLabels[nodeType]:
		return domain.VectorDoc
	default:
		return domain.VectorThought
	}
}

// NodeCreated mirrors the durable notification engine/aggregate publishes
// to the node-created stream (spec.md §4.3/§4.4): {type, session_id,
// node_id, payload_ref?}.
type NodeCreated struct {
	Type       string `json:"type"`
	SessionID  string `json:"session_id"`
	NodeID     string `json:"node_id"`
	PayloadRef string `json:"payload_ref,omitempty"`
}

// Indexer embeds and upserts node-created events into the vector store.
type Indexer struct {
	graph    graphstore.Store
	blob     blob.Store
	vector   vector.Store
	embedder Embedder
	pipeline fn.Stage[NodeCreated, struct{}]
}

// New builds an Indexer over the given storage facades and embedder.
func New(g graphstore.Store, b blob.Store, v vector.Store, embedder Embedder) *Indexer {
	idx := &Indexer{graph: g, blob: b, vector: v, embedder: embedder}
	idx.pipeline = fn.Then(
		fn.Then(fn.TracedStage("index.fetch", idx.fetchStage), fn.TracedStage("index.embed", idx.embedStage)),
		fn.TracedStage("index.upsert", idx.upsertStage),
	)
	return idx
}

// EnsureCollection creates the vector collection if absent, or recreates it
// when destructive is set and the schema has drifted (spec.md §4.4 "schema
// migration"). Intended to be called once at startup.
func (idx *Indexer) EnsureCollection(ctx context.Context, destructive bool) error {
	return idx.vector.EnsureCollection(ctx, destructive)
}

// HandleNotification decodes a durable node-created message and indexes it.
func (idx *Indexer) HandleNotification(ctx context.Context, payload []byte) error {
	var n NodeCreated
	if err := json.Unmarshal(payload, &n); err != nil {
		return fmt.Errorf("index: decode notification: %w", err)
	}
	return idx.IndexNode(ctx, n)
}

// IndexNode fetches n's current graph content, embeds it, and upserts the
// resulting point. Empty content is skipped, matching spec.md §4.4.
func (idx *Indexer) IndexNode(ctx context.Context, n NodeCreated) error {
	r := idx.pipeline(ctx, n)
	_, err := r.Unwrap()
	return err
}

// indexJob carries one node's resolved content through the embed/upsert
// stages of the pipeline.
type indexJob struct {
	node      NodeCreated
	content   string
	filePath  string
	timestamp int64
	isCode    bool
	skip      bool
}

func (idx *Indexer) fetchStage(ctx context.Context, n NodeCreated) fn.Result[indexJob] {
	stmt := graphstore.AsOfQuery(n.Type, n.NodeID, time.Now().UnixMilli())
	rows, err := idx.graph.Query(ctx, stmt.Cypher, stmt.Params)
	if err != nil {
		return fn.Err[indexJob](fmt.Errorf("index: fetch node: %w", err))
	}
	if len(rows) == 0 {
		return fn.Err[indexJob](ErrNodeNotFound)
	}
	row := rows[len(rows)-1]

	content, err := idx.resolveContent(ctx, row)
	if err != nil {
		return fn.Err[indexJob](err)
	}

	filePath, _ := row["file_path"].(string)
	timestamp, _ := row["vt_start"].(int64)

	return fn.Ok(indexJob{
		node:      n,
		content:   content,
		filePath:  filePath,
		timestamp: timestamp,
		isCode:    codeLabels[n.Type],
		skip:      content == "",
	})
}

// resolveContent reads the node's inline content, or loads it from blob
// storage when it was externalized (engine/aggregate's blobThreshold path).
func (idx *Indexer) resolveContent(ctx context.Context, row graphstore.Row) (string, error) {
	if content, ok := row["content"].(string); ok {
		return content, nil
	}
	ref, ok := row["blob_ref"].(string)
	if !ok || ref == "" {
		return "", nil
	}
	data, err := idx.blob.Load(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("index: load blob: %w", err)
	}
	return string(data), nil
}

func (idx *Indexer) embedStage(ctx context.Context, job indexJob) fn.Result[vector.Point] {
	if job.skip {
		return fn.Ok(vector.Point{})
	}

	sparse := embedSparse(job.content)
	point := vector.Point{
		ID:     job.node.NodeID,
		Sparse: &sparse,
		Payload: map[string]any{
			"session_id": job.node.SessionID,
			"type":       string(classifyPointType(job.node.Type, job.isCode)),
			"timestamp":  job.timestamp,
		},
	}
	if job.filePath != "" {
		point.Payload["file_path"] = job.filePath
	}

	if job.isCode {
		chunks := chunkCode(job.content)
		vecs := make([][]float32, len(chunks))
		for i, c := range chunks {
			c := c
			v, err := fn.Retry(ctx, embedRetryOpts, func(ctx context.Context) fn.Result[[]float32] {
				return fn.FromPair(idx.embedder.EmbedCode(ctx, c))
			}).Unwrap()
			if err != nil {
				return fn.Err[vector.Point](fmt.Errorf("index: embed code chunk %d: %w", i, err))
			}
			vecs[i] = v
		}
		point.Code = averageAndNormalize(vecs)
	} else {
		v, err := fn.Retry(ctx, embedRetryOpts, func(ctx context.Context) fn.Result[[]float32] {
			return fn.FromPair(idx.embedder.EmbedText(ctx, "passage: "+job.content))
		}).Unwrap()
		if err != nil {
			return fn.Err[vector.Point](fmt.Errorf("index: embed text: %w", err))
		}
		point.Text = v
	}

	return fn.Ok(point)
}

func (idx *Indexer) upsertStage(ctx context.Context, point vector.Point) fn.Result[struct{}] {
	if point.ID == "" {
		return fn.Ok(struct{}{})
	}
	if err := idx.vector.Upsert(ctx, []vector.Point{point}); err != nil {
		return fn.Err[struct{}](fmt.Errorf("index: upsert: %w", err))
	}
	return fn.Ok(struct{}{})
}
