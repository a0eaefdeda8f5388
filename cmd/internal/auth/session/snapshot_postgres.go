package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSnapshotStore implements SnapshotStore using PostgreSQL (mcadmin.client_sessions).
type PostgresSnapshotStore struct {
	pool *pgxpool.Pool
}

// NewPostgresSnapshotStore creates a Postgres-backed snapshot store.
// The pool is owned by the caller; Close is a no-op.
func NewPostgresSnapshotStore(pool *pgxpool.Pool) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{pool: pool}
}

// Load returns the live snapshot for clientKey.
func (s *PostgresSnapshotStore) Load(ctx context.Context, clientKey string, now time.Time) (Snapshot, error) {
	var (
		snap    Snapshot
		profile []byte
	)

	err := s.pool.QueryRow(ctx, `
		SELECT client_key, sealed_token, profile, last_updated, expires_at
		FROM mcadmin.client_sessions
		WHERE client_key = $1 AND expires_at > $2
	`, clientKey, now).Scan(
		&snap.ClientKey,
		&snap.SealedToken,
		&profile,
		&snap.LastUpdated,
		&snap.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}

	if len(profile) > 0 {
		if err := json.Unmarshal(profile, &snap.Profile); err != nil {
			return Snapshot{}, err
		}
	}
	return snap, nil
}

// Save upserts the snapshot.
func (s *PostgresSnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	profile, err := json.Marshal(snap.Profile)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO mcadmin.client_sessions (
			client_key, sealed_token, profile, last_updated, expires_at
		) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (client_key) DO UPDATE SET
			sealed_token = EXCLUDED.sealed_token,
			profile = EXCLUDED.profile,
			last_updated = EXCLUDED.last_updated,
			expires_at = EXCLUDED.expires_at
	`, snap.ClientKey, snap.SealedToken, profile, snap.LastUpdated, snap.ExpiresAt)
	return err
}

// Delete removes the snapshot (idempotent).
func (s *PostgresSnapshotStore) Delete(ctx context.Context, clientKey string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM mcadmin.client_sessions WHERE client_key = $1
	`, clientKey)
	return err
}

// PurgeExpired deletes rows that expired before now and returns how many were removed.
func (s *PostgresSnapshotStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM mcadmin.client_sessions WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresSnapshotStore) Close() error { return nil }
