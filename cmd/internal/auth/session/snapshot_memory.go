package session

import (
	"context"
	"maps"
	"sync"
	"time"
)

// MemorySnapshotStore keeps snapshots in process memory.
// It is the dev store used when neither Postgres nor Redis is configured.
type MemorySnapshotStore struct {
	mu   sync.Mutex
	rows map[string]Snapshot
}

// NewMemorySnapshotStore returns an empty store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{rows: make(map[string]Snapshot)}
}

func (m *MemorySnapshotStore) Load(_ context.Context, clientKey string, now time.Time) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rows[clientKey]
	if !ok {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if !s.ExpiresAt.After(now) {
		delete(m.rows, clientKey)
		return Snapshot{}, ErrSnapshotNotFound
	}
	return copySnapshot(s), nil
}

func (m *MemorySnapshotStore) Save(_ context.Context, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.ClientKey] = copySnapshot(s)
	return nil
}

func (m *MemorySnapshotStore) Delete(_ context.Context, clientKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, clientKey)
	return nil
}

func (m *MemorySnapshotStore) Close() error { return nil }

// Len returns the number of stored snapshots, including expired ones.
func (m *MemorySnapshotStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func copySnapshot(s Snapshot) Snapshot {
	s.SealedToken = append([]byte(nil), s.SealedToken...)
	s.Profile = maps.Clone(s.Profile)
	return s
}
