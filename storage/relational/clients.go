package relational

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrClientNotFound is returned when no client matches the given api key.
var ErrClientNotFound = errors.New("relational: client not found")

// Client is one row of the auth/client registry (spec.md §4.7).
type Client struct {
	ID        string
	Name      string
	CreatedAt time.Time
	RevokedAt *time.Time
}

// HashAPIKey derives the stored hash for a plaintext api key. Only the hash
// is ever persisted.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// CreateClient registers a new client with a pre-generated id and plaintext
// api key (hashed before storage).
func (s *Store) CreateClient(ctx context.Context, id, name, apiKey string) error {
	_, err := s.Exec(ctx,
		`INSERT INTO clients (id, name, api_key_hash) VALUES ($1, $2, $3)`,
		id, name, HashAPIKey(apiKey),
	)
	if err != nil {
		return fmt.Errorf("relational: create client: %w", err)
	}
	return nil
}

// AuthenticateByAPIKey resolves a plaintext api key to its client record,
// rejecting revoked clients.
func (s *Store) AuthenticateByAPIKey(ctx context.Context, apiKey string) (Client, error) {
	var c Client
	err := s.QueryOne(ctx,
		`SELECT id, name, created_at, revoked_at FROM clients WHERE api_key_hash = $1`,
		[]any{HashAPIKey(apiKey)},
		func(row pgx.Row) error {
			return row.Scan(&c.ID, &c.Name, &c.CreatedAt, &c.RevokedAt)
		},
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Client{}, ErrClientNotFound
	}
	if err != nil {
		return Client{}, err
	}
	if c.RevokedAt != nil {
		return Client{}, ErrClientNotFound
	}
	return c, nil
}

// RevokeClient marks a client revoked inside a transaction, matching
// spec.md §4.7's transaction(cb) contract.
func (s *Store) RevokeClient(ctx context.Context, id string) error {
	return s.Transaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE clients SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`, id)
		if err != nil {
			return fmt.Errorf("relational: revoke client: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrClientNotFound
		}
		return nil
	})
}
