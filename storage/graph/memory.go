package graph

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// nodeLabelPattern recovers the node label from a MERGE or MATCH clause
// embedded in the Cypher text, so the fake can answer label-scoped scans
// (engine/rehydrate's snapshot/diff queries) without a real label index.
var nodeLabelPattern = regexp.MustCompile(`\(n:(\w+)`)

// MemoryStore is an in-process fake of Store for unit tests that exercise
// engine/aggregate and engine/rehydrate without a live Neo4j instance. It
// keeps nodes and relationships as plain maps and interprets only the
// subset of Cypher shapes this codebase actually emits (MERGE/MATCH...SET,
// MATCH...RETURN n, relationship MERGE) — it is not a Cypher engine.
type MemoryStore struct {
	mu        sync.Mutex
	connected bool

	nodes  map[string]Row   // keyed by version_key or id, whichever the write used
	byID   map[string][]Row // logical id -> all versions, insertion order
	writes []Statement      // full write log, useful for assertions in tests
}

// NewMemoryStore returns a ready-to-use fake graph store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes: make(map[string]Row),
		byID:  make(map[string][]Row),
	}
}

func (m *MemoryStore) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

func (m *MemoryStore) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

func (m *MemoryStore) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Query supports the read shapes this codebase issues: a bare "RETURN n"
// keyed by params["id"] (used by AsOfQuery), falling back to returning every
// version for that id when no vt/tt filter params are present; and a
// label-scoped scan keyed by params["session_id"] (used by
// engine/rehydrate's LatestSnapshotQuery/DiffRangeQuery).
func (m *MemoryStore) Query(ctx context.Context, cypher string, params map[string]any) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessionID, ok := params["session_id"].(string); ok {
		return m.querySessionScanLocked(cypher, sessionID, params), nil
	}

	id, _ := params["id"].(string)
	versions := append([]Row(nil), m.byID[id]...)

	t, hasT := params["t"]
	if !hasT {
		return versions, nil
	}
	tv, ok := t.(int64)
	if !ok {
		return versions, nil
	}

	var out []Row
	for _, v := range versions {
		if rowAsOf(v, tv) {
			out = append(out, v)
		}
	}
	return out, nil
}

// querySessionScanLocked answers a label+session_id scan, filtered and
// ordered per the caller's vt params. mu must already be held.
func (m *MemoryStore) querySessionScanLocked(cypher, sessionID string, params map[string]any) []Row {
	lbl := nodeLabelPattern.FindStringSubmatch(cypher)
	label := ""
	if lbl != nil {
		label = lbl[1]
	}

	var matched []Row
	for _, versions := range m.byID {
		for _, row := range versions {
			if rowLabel, _ := row["__label"].(string); rowLabel != label {
				continue
			}
			if sid, _ := row["session_id"].(string); sid != sessionID {
				continue
			}
			matched = append(matched, row)
		}
	}

	if targetTime, ok := params["target_time"].(int64); ok {
		var out []Row
		for _, row := range matched {
			if toInt64(row["vt"]) <= targetTime {
				out = append(out, row)
			}
		}
		sort.Slice(out, func(i, j int) bool { return toInt64(out[i]["vt"]) > toInt64(out[j]["vt"]) })
		if strings.Contains(cypher, "LIMIT 1") && len(out) > 1 {
			out = out[:1]
		}
		return out
	}

	if afterVT, ok := params["after_vt"].(int64); ok {
		uptoVT, _ := params["upto_vt"].(int64)
		var out []Row
		for _, row := range matched {
			vt := toInt64(row["vt_start"])
			if vt > afterVT && vt <= uptoVT {
				out = append(out, row)
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i]["vt_start"] != out[j]["vt_start"] {
				return toInt64(out[i]["vt_start"]) < toInt64(out[j]["vt_start"])
			}
			idI, _ := out[i]["id"].(string)
			idJ, _ := out[j]["id"].(string)
			return idI < idJ
		})
		return out
	}

	return matched
}

func (m *MemoryStore) Write(ctx context.Context, cypher string, params map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyLocked(Statement{Cypher: cypher, Params: params})
	return nil
}

func (m *MemoryStore) WriteBatch(ctx context.Context, stmts []Statement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, stmt := range stmts {
		m.applyLocked(stmt)
	}
	return nil
}

func (m *MemoryStore) applyLocked(stmt Statement) {
	m.writes = append(m.writes, stmt)

	if vk, ok := stmt.Params["version_key"].(string); ok {
		if _, exists := m.nodes[vk]; exists {
			return // ON CREATE SET semantics: no-op when the version already exists
		}
		props, _ := stmt.Params["props"].(map[string]any)
		row := make(Row, len(props))
		for k, v := range props {
			row[k] = v
		}
		row["version_key"] = vk
		if lbl := nodeLabelPattern.FindStringSubmatch(stmt.Cypher); lbl != nil {
			row["__label"] = lbl[1]
		}
		m.nodes[vk] = row
		id, _ := row["id"].(string)
		m.byID[id] = append(m.byID[id], row)
		return
	}

	if id, ok := stmt.Params["id"].(string); ok {
		// MATCH (n {id: $id}) WHERE n.tt_end = $inf SET n.tt_end = $closeAt
		if closeAt, ok := stmt.Params["closeAt"]; ok {
			for _, row := range m.byID[id] {
				if row["tt_end"] == stmt.Params["inf"] {
					row["tt_end"] = closeAt
				}
			}
			return
		}

		// MERGE (n:Label {id: $id}) ON CREATE SET ...: a plain, non-bitemporally
		// versioned immutable record (e.g. VFSSnapshot, which has a single vt
		// rather than a vt/tt interval and is never corrected).
		key := "plain:" + id
		if _, exists := m.nodes[key]; exists {
			return
		}
		row := make(Row, len(stmt.Params))
		for k, v := range stmt.Params {
			row[k] = v
		}
		if lbl := nodeLabelPattern.FindStringSubmatch(stmt.Cypher); lbl != nil {
			row["__label"] = lbl[1]
		}
		m.nodes[key] = row
		m.byID[id] = append(m.byID[id], row)
	}
}

// AllVersions returns every version written under a logical id, oldest
// first, for use in test assertions.
func (m *MemoryStore) AllVersions(logicalID string) []Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]Row(nil), m.byID[logicalID]...)
	sort.SliceStable(out, func(i, j int) bool {
		return toInt64(out[i]["tt_start"]) < toInt64(out[j]["tt_start"])
	})
	return out
}

func rowAsOf(row Row, t int64) bool {
	return toInt64(row["vt_start"]) <= t && t < toInt64(row["vt_end"]) &&
		toInt64(row["tt_start"]) <= t && t < toInt64(row["tt_end"])
}

func toInt64(v any) int64 {
	i, _ := v.(int64)
	return i
}
