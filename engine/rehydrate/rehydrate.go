package rehydrate

import (
	"context"
	"fmt"

	"github.com/rawcontext/engram/engine/domain"
	"github.com/rawcontext/engram/storage/blob"
	graphstore "github.com/rawcontext/engram/storage/graph"
)

// Result summarizes one Rehydrate call (spec.md §4.6 step 4: diffs outside
// the snapshot are best-effort — a malformed hunk is skipped, not fatal).
type Result struct {
	VFS          *VFS
	AppliedDiffs int
	FailedDiffs  int
}

// Rehydrator reconstructs a session's VFS from its latest snapshot plus the
// diffs recorded since (spec.md §4.6).
type Rehydrator struct {
	graph  graphstore.Store
	blob   blob.Store
	locker *PathLocker
}

// New builds a Rehydrator over the given storage facades.
func New(g graphstore.Store, b blob.Store) *Rehydrator {
	return &Rehydrator{graph: g, blob: b, locker: NewPathLocker()}
}

// Rehydrate reconstructs sessionID's VFS as of targetTime: load the latest
// snapshot at-or-before targetTime, then replay every diff recorded between
// the snapshot's vt and targetTime, in vt_start order (spec.md §4.6 steps
// 1-4). Honors ctx cancellation between diffs.
func (r *Rehydrator) Rehydrate(ctx context.Context, sessionID string, targetTime int64) (*Result, error) {
	vfs, snapshotVT, err := r.loadSnapshot(ctx, sessionID, targetTime)
	if err != nil {
		return nil, err
	}

	diffs, err := r.loadDiffs(ctx, sessionID, snapshotVT, targetTime)
	if err != nil {
		return nil, fmt.Errorf("rehydrate: load diffs: %w", err)
	}

	res := &Result{VFS: vfs}
	for _, d := range diffs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if d.filePath == "" || d.patchContent == "" {
			continue
		}
		if err := ApplyPatch(vfs, r.locker, d.filePath, d.patchContent, d.vtStart); err != nil {
			res.FailedDiffs++
			continue
		}
		res.AppliedDiffs++
	}
	if res.AppliedDiffs == 0 && res.FailedDiffs > 0 {
		return nil, ErrAllDiffsFailed
	}
	return res, nil
}

// SaveSnapshot rehydrates sessionID up to vt, persists the resulting tree to
// blob storage, and records a VFSSnapshot node (spec.md §4.6 "periodic
// checkpoint").
func (r *Rehydrator) SaveSnapshot(ctx context.Context, sessionID string, vt int64) (domain.VFSSnapshot, error) {
	result, err := r.Rehydrate(ctx, sessionID, vt)
	if err != nil {
		return domain.VFSSnapshot{}, fmt.Errorf("rehydrate: save snapshot: %w", err)
	}

	data, err := result.VFS.Serialize()
	if err != nil {
		return domain.VFSSnapshot{}, fmt.Errorf("rehydrate: serialize snapshot: %w", err)
	}
	ref, err := r.blob.Save(ctx, data)
	if err != nil {
		return domain.VFSSnapshot{}, fmt.Errorf("rehydrate: save snapshot blob: %w", err)
	}

	snap := domain.VFSSnapshot{
		ID:        fmt.Sprintf("vfssnap:%s:%d", sessionID, vt),
		SessionID: sessionID,
		BlobRef:   ref,
		VT:        vt,
	}
	stmt := graphstore.SaveSnapshotStatement(snap.ID, snap.SessionID, snap.BlobRef, snap.VT)
	if err := r.graph.Write(ctx, stmt.Cypher, stmt.Params); err != nil {
		return domain.VFSSnapshot{}, fmt.Errorf("rehydrate: write snapshot node: %w", err)
	}
	return snap, nil
}

// loadSnapshot returns the VFS at the latest snapshot at-or-before
// targetTime and the snapshot's vt (0 with an empty VFS if none exists).
func (r *Rehydrator) loadSnapshot(ctx context.Context, sessionID string, targetTime int64) (*VFS, int64, error) {
	stmt := graphstore.LatestSnapshotQuery(sessionID, targetTime)
	rows, err := r.graph.Query(ctx, stmt.Cypher, stmt.Params)
	if err != nil {
		return nil, 0, fmt.Errorf("rehydrate: query snapshot: %w", err)
	}
	if len(rows) == 0 {
		return NewVFS(), 0, nil
	}

	row := rows[0]
	ref, _ := row["blob_ref"].(string)
	vt, _ := row["vt"].(int64)

	data, err := r.blob.Load(ctx, ref)
	if err != nil {
		return nil, 0, fmt.Errorf("rehydrate: load snapshot blob: %w", err)
	}
	vfs, err := Deserialize(data)
	if err != nil {
		return nil, 0, err
	}
	return vfs, vt, nil
}

type diffRow struct {
	filePath     string
	patchContent string
	vtStart      int64
}

// loadDiffs fetches, in vt_start order, every DiffHunk recorded for
// sessionID in (afterVT, uptoVT], resolving each hunk's patch text the same
// way the Indexer resolves node content (inline or blob-externalized).
func (r *Rehydrator) loadDiffs(ctx context.Context, sessionID string, afterVT, uptoVT int64) ([]diffRow, error) {
	stmt := graphstore.DiffRangeQuery(sessionID, afterVT, uptoVT)
	rows, err := r.graph.Query(ctx, stmt.Cypher, stmt.Params)
	if err != nil {
		return nil, err
	}

	diffs := make([]diffRow, 0, len(rows))
	for _, row := range rows {
		content, err := r.resolveContent(ctx, row)
		if err != nil {
			continue // unresolvable content is a skipped diff, not a fatal error
		}
		filePath, _ := row["file_path"].(string)
		vtStart, _ := row["vt_start"].(int64)
		diffs = append(diffs, diffRow{filePath: filePath, patchContent: content, vtStart: vtStart})
	}
	return diffs, nil
}

// resolveContent mirrors engine/index.Indexer.resolveContent: inline
// content wins, else fall back to the blob_ref a node was externalized
// under when it exceeded engine/aggregate's inline threshold.
func (r *Rehydrator) resolveContent(ctx context.Context, row graphstore.Row) (string, error) {
	if content, ok := row["content"].(string); ok {
		return content, nil
	}
	ref, ok := row["blob_ref"].(string)
	if !ok || ref == "" {
		return "", nil
	}
	data, err := r.blob.Load(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("rehydrate: load diff blob: %w", err)
	}
	return string(data), nil
}
