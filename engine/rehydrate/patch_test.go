package rehydrate

import "testing"

func TestApplyUnifiedDiffAppliesHunk(t *testing.T) {
	content := "line1\nline2\nline3\n"
	patch := "@@ -2,1 +2,1 @@\n-line2\n+line2-modified\n"

	got, err := applyUnifiedDiff(content, patch)
	if err != nil {
		t.Fatalf("applyUnifiedDiff: %v", err)
	}
	want := "line1\nline2-modified\nline3\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestApplyUnifiedDiffInsertIntoEmptyFile(t *testing.T) {
	patch := "@@ -0,0 +1,2 @@\n+first\n+second\n"

	got, err := applyUnifiedDiff("", patch)
	if err != nil {
		t.Fatalf("applyUnifiedDiff: %v", err)
	}
	want := "first\nsecond"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestApplyUnifiedDiffRejectsOutOfRangeHunk(t *testing.T) {
	content := "line1\nline2\n"
	patch := "@@ -5,1 +5,1 @@\n-line5\n+replaced\n"

	if _, err := applyUnifiedDiff(content, patch); err != ErrInvalidHunk {
		t.Fatalf("expected ErrInvalidHunk, got %v", err)
	}
}

func TestApplyUnifiedDiffRejectsMalformedHeader(t *testing.T) {
	if _, err := applyUnifiedDiff("a\n", "not a hunk header\n-a\n"); err != ErrInvalidHunk {
		t.Fatalf("expected ErrInvalidHunk, got %v", err)
	}
}

func TestApplySearchReplaceReplacesFirstOccurrence(t *testing.T) {
	content := "foo bar foo"
	patch := "<<<<<<< SEARCH\nfoo\n=======\nbaz\n>>>>>>> REPLACE"

	got, err := applySearchReplace(content, patch)
	if err != nil {
		t.Fatalf("applySearchReplace: %v", err)
	}
	if got != "baz bar foo" {
		t.Fatalf("got %q", got)
	}
}

func TestApplySearchReplaceNoMatchErrors(t *testing.T) {
	patch := "<<<<<<< SEARCH\nmissing\n=======\nreplacement\n>>>>>>> REPLACE"
	if _, err := applySearchReplace("unrelated content", patch); err != ErrNoSearchMatch {
		t.Fatalf("expected ErrNoSearchMatch, got %v", err)
	}
}

func TestApplyPatchWritesThroughToVFS(t *testing.T) {
	v := NewVFS()
	_ = v.WriteFile("/main.go", "package main\n", 1)
	locker := NewPathLocker()

	patch := "@@ -1,1 +1,1 @@\n-package main\n+package rehydrate\n"
	if err := ApplyPatch(v, locker, "/main.go", patch, 2); err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	got, err := v.ReadFile("/main.go")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got != "package rehydrate\n" {
		t.Fatalf("got %q", got)
	}
}

func TestApplyPatchOnMissingFileTreatsAsEmpty(t *testing.T) {
	v := NewVFS()
	locker := NewPathLocker()

	patch := "@@ -0,0 +1,1 @@\n+new content\n"
	if err := ApplyPatch(v, locker, "/new.txt", patch, 1); err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	got, err := v.ReadFile("/new.txt")
	if err != nil || got != "new content" {
		t.Fatalf("got %q, err %v", got, err)
	}
}
