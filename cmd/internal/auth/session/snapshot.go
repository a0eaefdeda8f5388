package session

import (
	"context"
	"time"
)

// Snapshot is the persisted form of an authenticated client session.
type Snapshot struct {
	ClientKey   string
	SealedToken []byte
	Profile     map[string]any
	LastUpdated time.Time
	ExpiresAt   time.Time
}

// SnapshotStore persists snapshots keyed by hashed client key.
//
// Load returns ErrSnapshotNotFound for missing or expired rows.
type SnapshotStore interface {
	Load(ctx context.Context, clientKey string, now time.Time) (Snapshot, error)
	Save(ctx context.Context, s Snapshot) error
	Delete(ctx context.Context, clientKey string) error
	Close() error
}
