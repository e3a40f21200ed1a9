package graph

// LatestSnapshotQuery builds the statement that finds the most recent
// VFSSnapshot of a session at or before targetTime (spec.md §4.6 step 1:
// "Query the graph for the latest VFSSnapshot of the session with
// vt <= target_time").
func LatestSnapshotQuery(sessionID string, targetTime int64) Statement {
	return Statement{
		Cypher: `MATCH (n:VFSSnapshot {session_id: $session_id}) WHERE n.vt <= $target_time RETURN n ORDER BY n.vt DESC LIMIT 1`,
		Params: map[string]any{"session_id": sessionID, "target_time": targetTime},
	}
}

// DiffRangeQuery builds the statement that finds every DiffHunk for a
// session with afterVT < vt_start <= uptoVT, ordered ascending (spec.md
// §4.6 step 3: "Query diffs for this session with snapshot.vt < vt_start
// <= target_time, ordered by vt_start ascending").
func DiffRangeQuery(sessionID string, afterVT, uptoVT int64) Statement {
	return Statement{
		Cypher: `MATCH (n:DiffHunk {session_id: $session_id}) WHERE $after_vt < n.vt_start AND n.vt_start <= $upto_vt RETURN n ORDER BY n.vt_start ASC`,
		Params: map[string]any{"session_id": sessionID, "after_vt": afterVT, "upto_vt": uptoVT},
	}
}

// SaveSnapshotStatement builds the write that persists a new immutable
// VFSSnapshot record (spec.md §3 "VFSSnapshot ... Created periodically;
// immutable" — unlike other node types it carries a single instant vt, not
// a vt/tt bitemporal interval, so it bypasses UpsertNode's MERGE-by-
// version-key shape).
func SaveSnapshotStatement(id, sessionID, blobRef string, vt int64) Statement {
	return Statement{
		Cypher: `MERGE (n:VFSSnapshot {id: $id}) ON CREATE SET n.session_id = $session_id, n.blob_ref = $blob_ref, n.vt = $vt`,
		Params: map[string]any{"id": id, "session_id": sessionID, "blob_ref": blobRef, "vt": vt},
	}
}
