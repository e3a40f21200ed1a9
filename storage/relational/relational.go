// Package relational is the auth/client-registry relational facade
// (spec.md §4.7): connection pool, query/queryOne/queryMany, transaction(cb)
// with automatic BEGIN/COMMIT/ROLLBACK, and a SELECT-1 health check.
package relational

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers the "pgx5://" migrate source scheme
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds connection-pool and target settings. DATABASE_URL (spec.md
// §6 env vars) supplies DSN directly when set, in standard "postgres://"
// form.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store wraps a pgx connection pool with the query/transaction/health-check
// contract every other engine package depends on.
type Store struct {
	pool *pgxpool.Pool

	mu        chan struct{} // one-slot lock guarding connected, matches spec.md §5 disconnect synchronization
	connected bool
}

// NewStore opens a pooled connection and applies embedded migrations. The
// pool itself owns connection lifecycle; Connect/Disconnect here only
// toggle the facade's logical connected flag used by healthCheck.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("relational: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	} else {
		poolCfg.MaxConns = 20 // spec.md §5 default connection pool bound
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("relational: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("relational: ping: %w", err)
	}

	if err := runMigrations(cfg.DSN); err != nil {
		pool.Close()
		return nil, fmt.Errorf("relational: migrate: %w", err)
	}

	s := &Store{pool: pool, mu: make(chan struct{}, 1), connected: true}
	s.mu <- struct{}{}
	return s, nil
}

func runMigrations(dsn string) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	defer sourceDriver.Close()

	// golang-migrate's pgx/v5 driver registers itself under the "pgx5"
	// scheme; the pool above connects with the same DSN under "postgres".
	migrateDSN := strings.Replace(dsn, "postgres://", "pgx5://", 1)
	migrateDSN = strings.Replace(migrateDSN, "postgresql://", "pgx5://", 1)

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, migrateDSN)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *Store) Connect(ctx context.Context) error {
	<-s.mu
	defer func() { s.mu <- struct{}{} }()
	if s.connected {
		return nil
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("relational: connect: %w", err)
	}
	s.connected = true
	return nil
}

// Disconnect closes the pool. Synchronized by the one-slot lock so
// concurrent disconnects never race the shutdown (spec.md §5).
func (s *Store) Disconnect(ctx context.Context) error {
	<-s.mu
	defer func() { s.mu <- struct{}{} }()
	if !s.connected {
		return nil
	}
	s.connected = false
	s.pool.Close()
	return nil
}

func (s *Store) IsConnected() bool {
	<-s.mu
	defer func() { s.mu <- struct{}{} }()
	return s.connected
}

// HealthCheck runs SELECT 1 and flips the connected flag on failure.
func (s *Store) HealthCheck(ctx context.Context) error {
	var one int
	err := s.pool.QueryRow(ctx, "SELECT 1").Scan(&one)
	<-s.mu
	s.connected = err == nil
	s.mu <- struct{}{}
	if err != nil {
		return fmt.Errorf("relational: health check: %w", err)
	}
	return nil
}

// Query runs sql and passes the resulting rows to fn, which is called once
// and iterates them itself; the rows are closed after fn returns.
func (s *Store) Query(ctx context.Context, sql string, args []any, fn func(pgx.Rows) error) error {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("relational: query: %w", err)
	}
	defer rows.Close()
	if err := fn(rows); err != nil {
		return err
	}
	return rows.Err()
}

// QueryOne runs sql expecting exactly one row, scanning it via fn.
func (s *Store) QueryOne(ctx context.Context, sql string, args []any, fn func(pgx.Row) error) error {
	row := s.pool.QueryRow(ctx, sql, args...)
	if err := fn(row); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		return fmt.Errorf("relational: query one: %w", err)
	}
	return nil
}

// Exec runs sql for its side effect (INSERT/UPDATE/DELETE) and returns the
// number of rows affected.
func (s *Store) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("relational: exec: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Transaction runs fn inside a pgx transaction, committing on nil return
// and rolling back otherwise (spec.md §4.7 "automatic BEGIN/COMMIT/ROLLBACK").
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("relational: begin: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("relational: rollback after %v: %w", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("relational: commit: %w", err)
	}
	return nil
}
