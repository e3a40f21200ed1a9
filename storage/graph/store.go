// Package graph is the bitemporal graph facade (spec.md §4.7): a single
// logical graph per deployment, reached through a parameterized
// Cypher-dialect query returning typed rows. Concrete backends implement
// Store; engine/aggregate and engine/rehydrate consume only this interface,
// so tests inject the in-memory fake instead of a live Neo4j instance.
package graph

import "context"

// Row is one record returned from a query, keyed by the Cypher RETURN alias.
type Row map[string]any

// Store is the capability interface every graph backend implements
// (spec.md §4.7: connect/disconnect/health, parameterized query).
type Store interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	// Query runs a parameterized Cypher-dialect statement and returns all
	// resulting rows.
	Query(ctx context.Context, cypher string, params map[string]any) ([]Row, error)

	// Write runs cypher inside a managed write transaction.
	Write(ctx context.Context, cypher string, params map[string]any) error

	// WriteBatch runs multiple statements inside a single managed write
	// transaction, so a partial failure rolls back the whole batch
	// (used by the Memory Aggregator for node+relationship writes).
	WriteBatch(ctx context.Context, stmts []Statement) error
}

// Statement is one parameterized Cypher statement.
type Statement struct {
	Cypher string
	Params map[string]any
}
