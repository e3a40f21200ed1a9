package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jStore is the Neo4j-backed Store implementation, grounded on the
// session/transaction conventions of a Cypher-driven knowledge graph client.
type Neo4jStore struct {
	driver neo4j.DriverWithContext

	mu        sync.Mutex
	connected bool
}

// NewNeo4jStore wraps an already-constructed driver. The driver owns its own
// connection pool; Connect/Disconnect here track logical lifecycle state for
// the facade's health-check contract.
func NewNeo4jStore(driver neo4j.DriverWithContext) *Neo4jStore {
	return &Neo4jStore{driver: driver}
}

func (s *Neo4jStore) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("graph: verify connectivity: %w", err)
	}
	s.connected = true
	return nil
}

func (s *Neo4jStore) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	s.connected = false
	return s.driver.Close(ctx)
}

func (s *Neo4jStore) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Neo4jStore) Query(ctx context.Context, cypher string, params map[string]any) ([]Row, error) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("graph: query: %w", err)
	}

	var rows []Row
	for result.Next(ctx) {
		rec := result.Record()
		row := make(Row, len(rec.Keys))
		for _, k := range rec.Keys {
			v, _ := rec.Get(k)
			row[k] = v
		}
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("graph: query: %w", err)
	}
	return rows, nil
}

func (s *Neo4jStore) Write(ctx context.Context, cypher string, params map[string]any) error {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, cypher, params)
	})
	if err != nil {
		return fmt.Errorf("graph: write: %w", err)
	}
	return nil
}

func (s *Neo4jStore) WriteBatch(ctx context.Context, stmts []Statement) error {
	if len(stmts) == 0 {
		return nil
	}
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, stmt := range stmts {
			if _, err := tx.Run(ctx, stmt.Cypher, stmt.Params); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("graph: write batch: %w", err)
	}
	return nil
}
