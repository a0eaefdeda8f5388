package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix namespaces snapshot keys.
const DefaultRedisKeyPrefix = "mcadmin:client_session:"

// RedisSnapshotStore implements SnapshotStore on Redis. Expiry is enforced
// with key TTLs, so Load never sees stale rows.
type RedisSnapshotStore struct {
	client redis.UniversalClient
	prefix string
}

type redisSnapshot struct {
	SealedToken []byte         `json:"t"`
	Profile     map[string]any `json:"p,omitempty"`
	LastUpdated time.Time      `json:"u"`
	ExpiresAt   time.Time      `json:"e"`
}

// NewRedisSnapshotStore wraps client. An empty prefix uses DefaultRedisKeyPrefix.
func NewRedisSnapshotStore(client redis.UniversalClient, prefix string) *RedisSnapshotStore {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisSnapshotStore{client: client, prefix: prefix}
}

func (s *RedisSnapshotStore) key(clientKey string) string { return s.prefix + clientKey }

func (s *RedisSnapshotStore) Load(ctx context.Context, clientKey string, now time.Time) (Snapshot, error) {
	raw, err := s.client.Get(ctx, s.key(clientKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}

	var rec redisSnapshot
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Snapshot{}, err
	}
	if !rec.ExpiresAt.After(now) {
		return Snapshot{}, ErrSnapshotNotFound
	}

	return Snapshot{
		ClientKey:   clientKey,
		SealedToken: rec.SealedToken,
		Profile:     rec.Profile,
		LastUpdated: rec.LastUpdated,
		ExpiresAt:   rec.ExpiresAt,
	}, nil
}

func (s *RedisSnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	ttl := time.Until(snap.ExpiresAt)
	if ttl <= 0 {
		return s.Delete(ctx, snap.ClientKey)
	}

	raw, err := json.Marshal(redisSnapshot{
		SealedToken: snap.SealedToken,
		Profile:     snap.Profile,
		LastUpdated: snap.LastUpdated,
		ExpiresAt:   snap.ExpiresAt,
	})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(snap.ClientKey), raw, ttl).Err()
}

func (s *RedisSnapshotStore) Delete(ctx context.Context, clientKey string) error {
	return s.client.Del(ctx, s.key(clientKey)).Err()
}

func (s *RedisSnapshotStore) Close() error { return s.client.Close() }
