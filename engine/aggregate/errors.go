package aggregate

import "errors"

var (
	// ErrNoOpenTurn marks a child event (Reasoning/ToolUse/ToolResult/
	// AssistantText/Diff/UsageMarker) arriving while no Turn is open for its
	// session — a logical inconsistency, routed to the DLQ rather than
	// retried (spec.md §7).
	ErrNoOpenTurn = errors.New("aggregate: no open turn for session")
)
