package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"mcadmin/cmd/security/seal"
	"mcadmin/cmd/security/token"
)

// Registry owns one Store per browser client and keeps their
// authenticated identity in a SnapshotStore across restarts.
type Registry struct {
	cfg       Config
	snapshots SnapshotStore
	hasher    token.Hasher
	sealer    seal.Sealer
	log       *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*registryEntry
}

// ownListeners is the persist listener every registry store carries.
const ownListeners = 1

type registryEntry struct {
	store    *Store
	lastSeen time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryClock overrides the registry and store time source.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry builds a registry. A nil snapshots uses an in-memory store and
// a nil sealer stores tokens unsealed.
func NewRegistry(cfg Config, snapshots SnapshotStore, hasher token.Hasher, sealer seal.Sealer, log *slog.Logger, opts ...RegistryOption) *Registry {
	if snapshots == nil {
		snapshots = NewMemorySnapshotStore()
	}
	if sealer == nil {
		sealer = seal.Plain{}
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.SnapshotTimeout <= 0 {
		cfg.SnapshotTimeout = DefaultConfig().SnapshotTimeout
	}
	if cfg.ClientTTL <= 0 {
		cfg.ClientTTL = DefaultConfig().ClientTTL
	}

	r := &Registry{
		cfg:       cfg,
		snapshots: snapshots,
		hasher:    hasher,
		sealer:    sealer,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		entries:   make(map[string]*registryEntry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Open returns the Store for clientID, creating it on first use. A new
// Store starts from the persisted snapshot when one is live, else Initial().
// Snapshot read failures are logged and fall back to Initial().
func (r *Registry) Open(ctx context.Context, clientID string) *Store {
	now := r.now()

	r.mu.Lock()
	if e, ok := r.entries[clientID]; ok {
		e.lastSeen = now
		r.mu.Unlock()
		return e.store
	}
	r.mu.Unlock()

	initial := r.restore(ctx, clientID, now)

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another request may have won the race while we restored.
	if e, ok := r.entries[clientID]; ok {
		e.lastSeen = now
		return e.store
	}

	st := NewStore(initial, WithClock(r.now))
	st.Subscribe(r.persistListener(clientID))
	r.entries[clientID] = &registryEntry{store: st, lastSeen: now}
	return st
}

// Sweep evicts stores idle since before now-IdleTTL that have no request in
// flight and no subscriber besides the registry's own persist listener.
// A store held by a live connection stays, so a later Open returns the same
// Store and a logout reaches every holder. Snapshots are kept. It returns the
// number of evicted stores.
func (r *Registry) Sweep(now time.Time) int {
	cutoff := now.Add(-r.cfg.IdleTTL)

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, e := range r.entries {
		if e.lastSeen.After(cutoff) || e.store.State().Meta.InProgress || e.store.Subscribers() > ownListeners {
			continue
		}
		delete(r.entries, id)
		n++
	}
	return n
}

// Len returns the number of in-memory stores.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close releases the snapshot store.
func (r *Registry) Close() error { return r.snapshots.Close() }

func (r *Registry) restore(ctx context.Context, clientID string, now time.Time) State {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SnapshotTimeout)
	defer cancel()

	key := r.hasher.ClientKey(clientID)
	snap, err := r.snapshots.Load(ctx, key, now)
	if errors.Is(err, ErrSnapshotNotFound) {
		return Initial()
	}
	if err != nil {
		r.log.Warn("session.snapshot.load_fail", "err", err)
		return Initial()
	}

	tok, err := r.sealer.Open(snap.SealedToken)
	if err != nil || len(tok) == 0 {
		r.log.Warn("session.snapshot.open_fail", "err", err)
		_ = r.snapshots.Delete(ctx, key)
		return Initial()
	}

	return Restored(string(tok), snap.Profile)
}

func (r *Registry) persistListener(clientID string) Listener {
	key := r.hasher.ClientKey(clientID)

	return func(ev Event, st State) {
		switch ev.(type) {
		case LoginSucceeded:
			r.save(key, st)
		case LoginFailed, LogoutSucceeded, LogoutFailed:
			if !st.Authenticated() {
				r.delete(key)
			}
		}
	}
}

func (r *Registry) save(key string, st State) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SnapshotTimeout)
	defer cancel()

	sealed, err := r.sealer.Seal([]byte(st.AuthToken))
	if err != nil {
		r.log.Error("session.snapshot.seal_fail", "err", err)
		return
	}

	now := r.now()
	updated := now
	if st.Meta.LastUpdated != nil {
		updated = *st.Meta.LastUpdated
	}

	err = r.snapshots.Save(ctx, Snapshot{
		ClientKey:   key,
		SealedToken: sealed,
		Profile:     st.Profile,
		LastUpdated: updated,
		ExpiresAt:   now.Add(r.cfg.ClientTTL),
	})
	if err != nil {
		r.log.Warn("session.snapshot.save_fail", "err", err)
	}
}

func (r *Registry) delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SnapshotTimeout)
	defer cancel()

	if err := r.snapshots.Delete(ctx, key); err != nil {
		r.log.Warn("session.snapshot.delete_fail", "err", err)
	}
}
