package graph

import (
	"context"
	"fmt"

	"github.com/rawcontext/engram/engine/domain"
)

// VersionKey derives the MERGE key for one bitemporal version of a logical
// node. Passing the source event id as eventID makes the upsert idempotent:
// redelivering the same raw event always resolves to the same key.
func VersionKey(logicalID, eventID string) string {
	return logicalID + "#" + eventID
}

// UpsertNode performs the idempotent MERGE-keyed-by-event-id write described
// in spec.md §4.3: MERGE on the version key, SET properties only on create,
// so re-publishing the same raw event produces no new graph nodes.
func UpsertNode(ctx context.Context, s Store, label, logicalID, eventID string, props map[string]any, bt domain.Bitemporal) error {
	merged := mergeProps(props, logicalID, bt)
	cypher := fmt.Sprintf(`MERGE (n:%s {version_key: $version_key}) ON CREATE SET n += $props`, sanitizeLabel(label))
	return s.Write(ctx, cypher, map[string]any{
		"version_key": VersionKey(logicalID, eventID),
		"props":       merged,
	})
}

// CloseAndAppend closes the currently open version of a logical node and
// appends a fresh version in one transaction — the "correction" path of
// spec.md §3.1: corrections never overwrite, they close an interval and
// append a new version.
func CloseAndAppend(ctx context.Context, s Store, label, logicalID, eventID string, props map[string]any, bt domain.Bitemporal, closeAt int64) error {
	merged := mergeProps(props, logicalID, bt)
	lbl := sanitizeLabel(label)
	stmts := []Statement{
		{
			Cypher: fmt.Sprintf(`MATCH (n:%s {id: $id}) WHERE n.tt_end = $inf SET n.tt_end = $closeAt`, lbl),
			Params: map[string]any{"id": logicalID, "inf": domain.EndOfTime, "closeAt": closeAt},
		},
		{
			Cypher: fmt.Sprintf(`MERGE (n:%s {version_key: $version_key}) ON CREATE SET n += $props`, lbl),
			Params: map[string]any{"version_key": VersionKey(logicalID, eventID), "props": merged},
		},
	}
	return s.WriteBatch(ctx, stmts)
}

// CreateRelationship writes a bitemporal edge between two existing logical
// nodes (spec.md §3.3). MERGE is keyed on the relationship id so redelivery
// is idempotent.
func CreateRelationship(ctx context.Context, s Store, fromLabel, fromID, toLabel, toID string, rel domain.Relationship) error {
	cypher := fmt.Sprintf(
		`MATCH (a:%s {id: $from}), (b:%s {id: $to})
		 MERGE (a)-[r:%s {id: $id}]->(b)
		 ON CREATE SET r.vt_start = $vt_start, r.vt_end = $vt_end, r.tt_start = $tt_start, r.tt_end = $tt_end`,
		sanitizeLabel(fromLabel), sanitizeLabel(toLabel), sanitizeLabel(string(rel.Type)),
	)
	return s.Write(ctx, cypher, map[string]any{
		"from":     fromID,
		"to":       toID,
		"id":       rel.ID,
		"vt_start": rel.VTStart,
		"vt_end":   rel.VTEnd,
		"tt_start": rel.TTStart,
		"tt_end":   rel.TTEnd,
	})
}

// AsOfQuery builds the statement that fetches the version of a logical node
// valid "as of" t (spec.md §3.1 query semantics).
func AsOfQuery(label, logicalID string, t int64) Statement {
	return Statement{
		Cypher: fmt.Sprintf(
			`MATCH (n:%s {id: $id})
			 WHERE n.vt_start <= $t AND $t < n.vt_end AND n.tt_start <= $t AND $t < n.tt_end
			 RETURN n`,
			sanitizeLabel(label),
		),
		Params: map[string]any{"id": logicalID, "t": t},
	}
}

func mergeProps(props map[string]any, logicalID string, bt domain.Bitemporal) map[string]any {
	merged := make(map[string]any, len(props)+5)
	for k, v := range props {
		merged[k] = v
	}
	merged["id"] = logicalID
	merged["vt_start"] = bt.VTStart
	merged["vt_end"] = bt.VTEnd
	merged["tt_start"] = bt.TTStart
	merged["tt_end"] = bt.TTEnd
	return merged
}

// sanitizeLabel ensures a Cypher label/relationship-type identifier contains
// only safe characters (grounded on the teacher's relationship-type
// sanitizer), uppercased for relationship-type convention.
func sanitizeLabel(t string) string {
	safe := make([]byte, 0, len(t))
	for i := 0; i < len(t); i++ {
		c := t[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			safe = append(safe, c)
		}
	}
	if len(safe) == 0 {
		return "Node"
	}
	return string(safe)
}
