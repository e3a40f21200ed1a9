package blob

import (
	"context"
	"testing"
)

func TestFSStoreSaveIsContentAddressed(t *testing.T) {
	ctx := context.Background()
	store := NewFSStore(t.TempDir())
	if err := store.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	uri1, err := store.Save(ctx, []byte("hello world"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	uri2, err := store.Save(ctx, []byte("hello world"))
	if err != nil {
		t.Fatalf("Save (again): %v", err)
	}
	if uri1 != uri2 {
		t.Fatalf("identical content must yield identical uri: %q != %q", uri1, uri2)
	}

	got, err := store.Load(ctx, uri1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("Load returned %q", got)
	}
}

func TestFSStoreRejectsPathSeparatorsAndTraversal(t *testing.T) {
	ctx := context.Background()
	store := NewFSStore(t.TempDir())
	if err := store.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	for _, bad := range []string{"../../etc/passwd", "a/b", "a\\b", "..", "."} {
		if _, err := store.Load(ctx, bad); err == nil {
			t.Fatalf("expected error loading uri %q, got nil", bad)
		}
	}
}

func TestFSStoreConnectFailsOnMissingDir(t *testing.T) {
	ctx := context.Background()
	store := NewFSStore("/nonexistent/path/for/test")
	if err := store.Connect(ctx); err == nil {
		t.Fatal("expected Connect to fail for a missing base dir")
	}
}
