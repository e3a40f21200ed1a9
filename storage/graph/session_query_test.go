package graph

import (
	"context"
	"strconv"
	"testing"

	"github.com/rawcontext/engram/engine/domain"
)

func TestLatestSnapshotQueryReturnsMostRecentAtOrBeforeTarget(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, vt := range []int64{10, 50, 90} {
		stmt := SaveSnapshotStatement("snap-"+strconv.FormatInt(vt, 10), "sess-1", "blob-"+strconv.FormatInt(vt, 10), vt)
		if err := store.Write(ctx, stmt.Cypher, stmt.Params); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	q := LatestSnapshotQuery("sess-1", 60)
	rows, err := store.Query(ctx, q.Cypher, q.Params)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0]["vt"] != int64(50) {
		t.Fatalf("expected snapshot at vt=50, got %v", rows[0]["vt"])
	}
}

func TestLatestSnapshotQueryEmptyWhenNoneBeforeTarget(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	stmt := SaveSnapshotStatement("snap-1", "sess-1", "blob-1", 100)
	if err := store.Write(ctx, stmt.Cypher, stmt.Params); err != nil {
		t.Fatalf("Write: %v", err)
	}

	q := LatestSnapshotQuery("sess-1", 50)
	rows, err := store.Query(ctx, q.Cypher, q.Params)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected 0 rows, got %d", len(rows))
	}
}

func TestDiffRangeQueryFiltersAndOrdersAscending(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	write := func(eventID string, vt int64) {
		bt := domain.Bitemporal{VTStart: vt, VTEnd: domain.EndOfTime, TTStart: vt, TTEnd: domain.EndOfTime}
		if err := UpsertNode(ctx, store, "DiffHunk", "diff:"+eventID, eventID, map[string]any{
			"file_path":  "/f.go",
			"session_id": "sess-1",
		}, bt); err != nil {
			t.Fatalf("UpsertNode: %v", err)
		}
	}
	write("ev-30", 30)
	write("ev-10", 10)
	write("ev-70", 70)

	q := DiffRangeQuery("sess-1", 5, 50)
	rows, err := store.Query(ctx, q.Cypher, q.Params)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows in (5,50], got %d", len(rows))
	}
	if rows[0]["vt_start"] != int64(10) || rows[1]["vt_start"] != int64(30) {
		t.Fatalf("expected ascending vt_start order, got %v then %v", rows[0]["vt_start"], rows[1]["vt_start"])
	}
}
