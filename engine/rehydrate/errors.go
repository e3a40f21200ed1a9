package rehydrate

import "errors"

// ErrRehydrationUnreadable is raised when a VFSSnapshot blob parses as
// neither gzip nor raw JSON (spec.md §4.6 step 2).
var ErrRehydrationUnreadable = errors.New("rehydrate: snapshot unreadable")

// ErrInvalidHunk is returned when a unified-diff hunk header is malformed or
// its range exceeds the target file's line count (spec.md §4.6 "Patch
// application").
var ErrInvalidHunk = errors.New("rehydrate: invalid hunk")

// ErrNoSearchMatch is returned when a search/replace block's search text is
// not found in the target file.
var ErrNoSearchMatch = errors.New("rehydrate: search text not found")

// ErrAllDiffsFailed is returned when every diff in the applicable range
// failed to apply (spec.md §4.6 step 4: "the overall call fails only if all
// diffs failed").
var ErrAllDiffsFailed = errors.New("rehydrate: all diffs failed to apply")
