package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/taskledger-ai/taskledger/internal/model"
)

// CreateAPIKey inserts a new managed API key.
func (db *DB) CreateAPIKey(ctx context.Context, key model.APIKey) (model.APIKey, error) {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO api_keys (id, prefix, key_hash, label, role, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Prefix, key.KeyHash, key.Label, key.Role, key.CreatedAt, key.ExpiresAt,
	)
	if err != nil {
		return model.APIKey{}, fmt.Errorf("storage: create api key: %w", err)
	}
	return key, nil
}

// GetAPIKeyByPrefix looks up a single active API key by its prefix.
// Used by the auth middleware as an O(1) pre-filter before Argon2
// verification. Returns ErrNotFound if no matching active key exists.
func (db *DB) GetAPIKeyByPrefix(ctx context.Context, prefix string) (model.APIKey, error) {
	var k model.APIKey
	err := db.pool.QueryRow(ctx,
		`SELECT id, prefix, key_hash, label, role, created_at, last_used_at, expires_at, revoked_at
		 FROM api_keys
		 WHERE prefix = $1
		   AND revoked_at IS NULL
		   AND (expires_at IS NULL OR expires_at > now())
		 LIMIT 1`,
		prefix,
	).Scan(&k.ID, &k.Prefix, &k.KeyHash, &k.Label, &k.Role, &k.CreatedAt, &k.LastUsedAt, &k.ExpiresAt, &k.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.APIKey{}, ErrNotFound
		}
		return model.APIKey{}, fmt.Errorf("storage: get api key by prefix: %w", err)
	}
	return k, nil
}

// ListAPIKeys returns all keys with pagination, newest first. Includes
// revoked and expired keys for admin visibility.
func (db *DB) ListAPIKeys(ctx context.Context, limit, offset int) ([]model.APIKey, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM api_keys`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count api keys: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, prefix, key_hash, label, role, created_at, last_used_at, expires_at, revoked_at
		 FROM api_keys
		 ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list api keys: %w", err)
	}
	defer rows.Close()

	var keys []model.APIKey
	for rows.Next() {
		var k model.APIKey
		if err := rows.Scan(&k.ID, &k.Prefix, &k.KeyHash, &k.Label, &k.Role, &k.CreatedAt, &k.LastUsedAt, &k.ExpiresAt, &k.RevokedAt); err != nil {
			return nil, 0, fmt.Errorf("storage: scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("storage: list api keys: %w", err)
	}
	return keys, total, nil
}

// RevokeAPIKey sets revoked_at on an active key.
func (db *DB) RevokeAPIKey(ctx context.Context, keyID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE api_keys SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`,
		keyID,
	)
	if err != nil {
		return fmt.Errorf("storage: revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: api key %s: %w", keyID, ErrNotFound)
	}
	return nil
}

// TouchAPIKeyLastUsed updates the last_used_at timestamp for an API key.
// Called from the auth middleware on successful authentication. Callers
// should not block on the result.
func (db *DB) TouchAPIKeyLastUsed(ctx context.Context, keyID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = now() WHERE id = $1`,
		keyID,
	)
	if err != nil {
		return fmt.Errorf("storage: touch api key last_used: %w", err)
	}
	return nil
}
