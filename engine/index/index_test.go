package index

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rawcontext/engram/engine/domain"
	"github.com/rawcontext/engram/storage/blob"
	graphstore "github.com/rawcontext/engram/storage/graph"
	"github.com/rawcontext/engram/storage/vector"
)

type stubEmbedder struct {
	textCalls int
	codeCalls int
	failUntil int // EmbedText/EmbedCode return an error on calls <= failUntil
}

func (s *stubEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	s.textCalls++
	if s.textCalls <= s.failUntil {
		return nil, errors.New("transient embed failure")
	}
	return []float32{1, 0}, nil
}

func (s *stubEmbedder) EmbedCode(ctx context.Context, code string) ([]float32, error) {
	s.codeCalls++
	if s.codeCalls <= s.failUntil {
		return nil, errors.New("transient embed failure")
	}
	return []float32{0, 1}, nil
}

func newTestIndexer(t *testing.T) (*Indexer, *graphstore.MemoryStore, *vector.MemoryStore, *stubEmbedder) {
	t.Helper()
	g := graphstore.NewMemoryStore()
	b := blob.NewFSStore(t.TempDir())
	v := vector.NewMemoryStore()
	e := &stubEmbedder{}
	return New(g, b, v, e), g, v, e
}

func writeNode(t *testing.T, g *graphstore.MemoryStore, label, nodeID, eventID string, props map[string]any) {
	t.Helper()
	bt := domain.OpenInterval(time.Now())
	if err := graphstore.UpsertNode(context.Background(), g, label, nodeID, eventID, props, bt); err != nil {
		t.Fatalf("UpsertNode: %v", err)
	}
}

func TestIndexNodeRoutesTextPathAndEmbedsSparseAndDense(t *testing.T) {
	idx, g, v, e := newTestIndexer(t)
	writeNode(t, g, "AssistantText", "node:ev-1:1", "ev-1", map[string]any{
		"content": "hello world",
	})

	err := idx.IndexNode(context.Background(), NodeCreated{Type: "AssistantText", SessionID: "sess-1", NodeID: "node:ev-1:1"})
	if err != nil {
		t.Fatalf("IndexNode: %v", err)
	}
	if e.textCalls != 1 || e.codeCalls != 0 {
		t.Fatalf("expected exactly one text embed call, got text=%d code=%d", e.textCalls, e.codeCalls)
	}

	results, err := v.Search(context.Background(), vector.SearchRequest{Kind: vector.KindTextDense, Dense: []float32{1, 0}, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "node:ev-1:1" {
		t.Fatalf("expected the indexed node as the sole point, got %+v", results)
	}
	if results[0].Payload["session_id"] != "sess-1" {
		t.Fatalf("expected session_id payload, got %+v", results[0].Payload)
	}
}

func TestIndexNodeRetriesTransientEmbedFailure(t *testing.T) {
	g := graphstore.NewMemoryStore()
	b := blob.NewFSStore(t.TempDir())
	v := vector.NewMemoryStore()
	e := &stubEmbedder{failUntil: 1}
	idx := New(g, b, v, e)

	writeNode(t, g, "AssistantText", "node:ev-retry:1", "ev-retry", map[string]any{
		"content": "hello world",
	})

	if err := idx.IndexNode(context.Background(), NodeCreated{Type: "AssistantText", SessionID: "sess-1", NodeID: "node:ev-retry:1"}); err != nil {
		t.Fatalf("IndexNode: %v", err)
	}
	if e.textCalls != 2 {
		t.Fatalf("expected one failed attempt and one successful retry, got %d calls", e.textCalls)
	}

	results, err := v.Search(context.Background(), vector.SearchRequest{Kind: vector.KindTextDense, Dense: []float32{1, 0}, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "node:ev-retry:1" {
		t.Fatalf("expected the node to be indexed after the retry succeeded, got %+v", results)
	}
}

func TestIndexNodeRoutesCodePathForDiffHunk(t *testing.T) {
	idx, g, v, e := newTestIndexer(t)
	writeNode(t, g, "DiffHunk", "node:ev-2:1", "ev-2", map[string]any{
		"content":   "--- a.go\n+++ b.go\n",
		"file_path": "a.go",
	})

	err := idx.IndexNode(context.Background(), NodeCreated{Type: "DiffHunk", SessionID: "sess-1", NodeID: "node:ev-2:1"})
	if err != nil {
		t.Fatalf("IndexNode: %v", err)
	}
	if e.codeCalls != 1 || e.textCalls != 0 {
		t.Fatalf("expected exactly one code embed call, got text=%d code=%d", e.textCalls, e.codeCalls)
	}

	results, err := v.Search(context.Background(), vector.SearchRequest{Kind: vector.KindCodeDense, Dense: []float32{0, 1}, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Payload["file_path"] != "a.go" {
		t.Fatalf("expected the diff point with file_path payload, got %+v", results)
	}
}

func TestIndexNodeSkipsEmptyContent(t *testing.T) {
	idx, g, v, e := newTestIndexer(t)
	writeNode(t, g, "AssistantText", "node:ev-3:1", "ev-3", map[string]any{})

	if err := idx.IndexNode(context.Background(), NodeCreated{Type: "AssistantText", NodeID: "node:ev-3:1"}); err != nil {
		t.Fatalf("IndexNode: %v", err)
	}
	if e.textCalls != 0 || e.codeCalls != 0 {
		t.Fatal("expected no embed calls for empty content")
	}
	results, _ := v.Search(context.Background(), vector.SearchRequest{Kind: vector.KindTextDense, Dense: []float32{1, 0}, Limit: 10})
	if len(results) != 0 {
		t.Fatalf("expected nothing upserted for empty content, got %+v", results)
	}
}

func TestIndexNodeLoadsExternalizedBlobContent(t *testing.T) {
	idx, g, _, e := newTestIndexer(t)
	ctx := context.Background()
	large := strings.Repeat("y", 20000)
	ref, err := idx.blob.Save(ctx, []byte(large))
	if err != nil {
		t.Fatalf("blob.Save: %v", err)
	}
	writeNode(t, g, "Reasoning", "node:ev-4:1", "ev-4", map[string]any{"blob_ref": ref})

	if err := idx.IndexNode(ctx, NodeCreated{Type: "Reasoning", NodeID: "node:ev-4:1"}); err != nil {
		t.Fatalf("IndexNode: %v", err)
	}
	if e.textCalls != 1 {
		t.Fatalf("expected the blob-backed content to be embedded, got %d text calls", e.textCalls)
	}
}

func TestIndexNodePayloadTypeMapsToThreeValueEnum(t *testing.T) {
	cases := []struct {
		label    string
		nodeID   string
		props    map[string]any
		wantType string
	}{
		{"AssistantText", "node:thought:1", map[string]any{"content": "hello"}, "thought"},
		{"DiffHunk", "node:code:1", map[string]any{"content": "--- a\n+++ b\n", "file_path": "a.go"}, "code"},
		{"SystemInit", "node:doc:1", map[string]any{"model": "x", "working_dir": "/tmp", "content": "system init"}, "doc"},
	}

	for _, tc := range cases {
		idx, g, v, _ := newTestIndexer(t)
		writeNode(t, g, tc.label, tc.nodeID, "ev-"+tc.label, tc.props)

		if err := idx.IndexNode(context.Background(), NodeCreated{Type: tc.label, NodeID: tc.nodeID}); err != nil {
			t.Fatalf("IndexNode(%s): %v", tc.label, err)
		}

		kind, dense := vector.KindTextDense, []float32{1, 0}
		if tc.label == "DiffHunk" {
			kind, dense = vector.KindCodeDense, []float32{0, 1}
		}
		results, err := v.Search(context.Background(), vector.SearchRequest{
			Kind:  kind,
			Dense: dense,
			Limit: 10,
		})
		if err != nil {
			t.Fatalf("Search(%s): %v", tc.label, err)
		}
		var found *vector.SearchResult
		for i := range results {
			if results[i].ID == tc.nodeID {
				found = &results[i]
			}
		}
		if found == nil {
			t.Fatalf("expected %s to be indexed, got %+v", tc.nodeID, results)
		}
		if found.Payload["type"] != tc.wantType {
			t.Fatalf("%s: expected payload type %q, got %+v", tc.label, tc.wantType, found.Payload)
		}
	}
}

func TestIndexNodeFinalStateIsOrderIndependentForDisjointIDs(t *testing.T) {
	run := func(order []string) map[string]struct{} {
		idx, g, v, _ := newTestIndexer(t)
		writeNode(t, g, "AssistantText", "node:a:1", "ev-a", map[string]any{"content": "alpha"})
		writeNode(t, g, "AssistantText", "node:b:1", "ev-b", map[string]any{"content": "beta"})

		for _, id := range order {
			if err := idx.IndexNode(context.Background(), NodeCreated{Type: "AssistantText", NodeID: id}); err != nil {
				t.Fatalf("IndexNode(%s): %v", id, err)
			}
		}

		results, err := v.Search(context.Background(), vector.SearchRequest{Kind: vector.KindTextDense, Dense: []float32{1, 0}, Limit: 10})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		ids := make(map[string]struct{}, len(results))
		for _, r := range results {
			ids[r.ID] = struct{}{}
		}
		return ids
	}

	forward := run([]string{"node:a:1", "node:b:1"})
	backward := run([]string{"node:b:1", "node:a:1"})

	if len(forward) != 2 || len(backward) != 2 {
		t.Fatalf("expected both ids present regardless of order: forward=%v backward=%v", forward, backward)
	}
	for id := range forward {
		if _, ok := backward[id]; !ok {
			t.Fatalf("id %s present in forward order but missing in backward order", id)
		}
	}
}

func TestIndexNodeReturnsErrorForMissingNode(t *testing.T) {
	idx, _, _, _ := newTestIndexer(t)
	err := idx.IndexNode(context.Background(), NodeCreated{Type: "AssistantText", NodeID: "does-not-exist"})
	if err == nil {
		t.Fatal("expected an error for a node-created notification naming an unknown node")
	}
}

func TestHandleNotificationDecodesAndIndexes(t *testing.T) {
	idx, g, v, _ := newTestIndexer(t)
	writeNode(t, g, "AssistantText", "node:ev-5:1", "ev-5", map[string]any{"content": "hi"})

	payload := []byte(`{"type":"AssistantText","session_id":"sess-1","node_id":"node:ev-5:1"}`)
	if err := idx.HandleNotification(context.Background(), payload); err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}
	results, _ := v.Search(context.Background(), vector.SearchRequest{Kind: vector.KindTextDense, Dense: []float32{1, 0}, Limit: 10})
	if len(results) != 1 {
		t.Fatalf("expected the node to be indexed via HandleNotification, got %+v", results)
	}
}
