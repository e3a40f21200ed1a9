package retrieve

import (
	"context"
	"testing"

	"github.com/rawcontext/engram/storage/vector"
)

func seedSessionFixture(t *testing.T, store *vector.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	err := store.Upsert(ctx, []vector.Point{
		{ID: "sess-1-summary", Text: []float32{1, 0}, Payload: map[string]any{"type": "SessionSummary", "session_id": "sess-1"}},
		{ID: "sess-2-summary", Text: []float32{0, 1}, Payload: map[string]any{"type": "SessionSummary", "session_id": "sess-2"}},
		{ID: "sess-1-turn-1", Text: []float32{1, 0}, Payload: map[string]any{"type": "Turn", "session_id": "sess-1", "ordinal": 1}},
		{ID: "sess-1-turn-2", Text: []float32{0.9, 0.1}, Payload: map[string]any{"type": "Turn", "session_id": "sess-1", "ordinal": 2}},
		{ID: "sess-2-turn-1", Text: []float32{0, 1}, Payload: map[string]any{"type": "Turn", "session_id": "sess-2", "ordinal": 1}},
	})
	if err != nil {
		t.Fatalf("seed Upsert: %v", err)
	}
}

func TestTwoStageRetrieveReturnsTurnsWithSessionContext(t *testing.T) {
	ctx := context.Background()
	store := vector.NewMemoryStore()
	seedSessionFixture(t, store)

	results, err := TwoStageRetrieve(ctx, store, []float32{1, 0}, SessionRetrieveOpts{TopSessions: 1, TurnsPerSession: 2})
	if err != nil {
		t.Fatalf("TwoStageRetrieve: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 turns from the top-matching session, got %d: %+v", len(results), results)
	}
	for _, r := range results {
		if r.SessionID != "sess-1" {
			t.Fatalf("expected all turns to come from sess-1, got %q", r.SessionID)
		}
	}
}

func TestTwoStageRetrieveParallelMatchesSequential(t *testing.T) {
	ctx := context.Background()
	store := vector.NewMemoryStore()
	seedSessionFixture(t, store)

	seq, err := TwoStageRetrieve(ctx, store, []float32{1, 0}, SessionRetrieveOpts{TopSessions: 2, TurnsPerSession: 2, Parallel: false})
	if err != nil {
		t.Fatalf("sequential TwoStageRetrieve: %v", err)
	}
	par, err := TwoStageRetrieve(ctx, store, []float32{1, 0}, SessionRetrieveOpts{TopSessions: 2, TurnsPerSession: 2, Parallel: true})
	if err != nil {
		t.Fatalf("parallel TwoStageRetrieve: %v", err)
	}
	if len(seq) != len(par) {
		t.Fatalf("expected sequential and parallel to return the same number of rows: %d vs %d", len(seq), len(par))
	}
}

func TestTwoStageRetrieveDefaultsWhenOptsZero(t *testing.T) {
	ctx := context.Background()
	store := vector.NewMemoryStore()
	seedSessionFixture(t, store)

	results, err := TwoStageRetrieve(ctx, store, []float32{1, 0}, SessionRetrieveOpts{})
	if err != nil {
		t.Fatalf("TwoStageRetrieve: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected defaulted opts to still return results")
	}
}
