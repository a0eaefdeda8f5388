package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"mcadmin/cmd/security/seal"
	"mcadmin/cmd/security/token"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testSealer(t *testing.T) seal.Sealer {
	t.Helper()

	cfg := seal.DefaultConfig()
	cfg.Params = seal.Argon2idParams{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1}
	box, err := seal.NewBox(cfg, "registry test passphrase", "registry-salt")
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	return box
}

const testClientID = "01J0000000000000000000000A"

func TestRegistry_OpenReturnsSameStore(t *testing.T) {
	r := NewRegistry(DefaultConfig(), nil, token.NewHasher(nil), nil, testLogger())

	a := r.Open(context.Background(), testClientID)
	b := r.Open(context.Background(), testClientID)
	if a != b {
		t.Fatalf("expected same store for one client")
	}
	if a.State().Phase() != PhaseUnconfirmed || a.State().Authenticated() {
		t.Fatalf("expected initial state, got %+v", a.State())
	}
	if r.Len() != 1 {
		t.Fatalf("expected one store, got %d", r.Len())
	}
}

func TestRegistry_PersistsAndRestores(t *testing.T) {
	snaps := NewMemorySnapshotStore()
	hasher := token.NewHasher([]byte("0123456789abcdef0123456789abcdef"))
	sealer := testSealer(t)
	clock := WithRegistryClock(fixedClock(testNow))

	r1 := NewRegistry(DefaultConfig(), snaps, hasher, sealer, testLogger(), clock)
	st := r1.Open(context.Background(), testClientID)
	st.Dispatch(LoginStarted{})
	st.Dispatch(LoginSucceeded{AuthToken: "T", Profile: map[string]any{"name": "Alice"}})

	snap, err := snaps.Load(context.Background(), hasher.ClientKey(testClientID), testNow)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(snap.SealedToken) == "T" {
		t.Fatalf("expected sealed token at rest")
	}

	// A fresh registry stands in for a restarted process.
	r2 := NewRegistry(DefaultConfig(), snaps, hasher, sealer, testLogger(), clock)
	restored := r2.Open(context.Background(), testClientID).State()
	if restored.AuthToken != "T" || !restored.Meta.Dirty {
		t.Fatalf("expected dirty restored token, got %+v", restored)
	}
	if v, _ := restored.Field("name"); v != "Alice" {
		t.Fatalf("expected restored profile, got %v", restored.Profile)
	}
}

func TestRegistry_LogoutDeletesSnapshot(t *testing.T) {
	snaps := NewMemorySnapshotStore()
	r := NewRegistry(DefaultConfig(), snaps, token.NewHasher(nil), nil, testLogger())

	st := r.Open(context.Background(), testClientID)
	st.Dispatch(LoginSucceeded{AuthToken: "T"})
	if snaps.Len() != 1 {
		t.Fatalf("expected 1 snapshot, got %d", snaps.Len())
	}

	st.Dispatch(LogoutStarted{})
	st.Dispatch(LogoutFailed{Detail: ErrorPayload{Kind: KindTransport}})
	if snaps.Len() != 0 {
		t.Fatalf("expected snapshot deleted, got %d", snaps.Len())
	}
}

func TestRegistry_FailedRevalidationDeletesSnapshot(t *testing.T) {
	snaps := NewMemorySnapshotStore()
	r := NewRegistry(DefaultConfig(), snaps, token.NewHasher(nil), nil, testLogger())

	st := r.Open(context.Background(), testClientID)
	st.Dispatch(LoginSucceeded{AuthToken: "T"})
	st.Dispatch(LoginStarted{})
	st.Dispatch(LoginFailed{Detail: ErrorPayload{Kind: KindRejected, Status: 401}})

	if snaps.Len() != 0 {
		t.Fatalf("expected snapshot deleted, got %d", snaps.Len())
	}
}

func TestRegistry_SweepEvictsIdle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTTL = time.Minute

	now := testNow
	r := NewRegistry(cfg, nil, token.NewHasher(nil), nil, testLogger(), WithRegistryClock(func() time.Time { return now }))

	r.Open(context.Background(), testClientID)
	busy := r.Open(context.Background(), "01J0000000000000000000000B")
	busy.Dispatch(LoginStarted{})

	if n := r.Sweep(now.Add(30 * time.Second)); n != 0 {
		t.Fatalf("expected nothing evicted, got %d", n)
	}
	if n := r.Sweep(now.Add(2 * time.Minute)); n != 1 {
		t.Fatalf("expected 1 evicted, got %d", n)
	}
	if r.Len() != 1 {
		t.Fatalf("expected in-flight store kept, got %d", r.Len())
	}
}

func TestRegistry_SweepKeepsSubscribedStore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTTL = time.Hour

	now := testNow
	r := NewRegistry(cfg, nil, token.NewHasher(nil), nil, testLogger(), WithRegistryClock(func() time.Time { return now }))

	held := r.Open(context.Background(), testClientID)
	held.Dispatch(LoginSucceeded{AuthToken: "T"})
	// A realtime connection keeps the store it resolved for its whole life.
	unsubscribe := held.Subscribe(func(Event, State) {})

	now = now.Add(2 * time.Hour)
	if n := r.Sweep(now); n != 0 {
		t.Fatalf("expected subscribed store kept, evicted %d", n)
	}

	reopened := r.Open(context.Background(), testClientID)
	if reopened != held {
		t.Fatalf("expected the held store after sweep")
	}
	reopened.Dispatch(LogoutStarted{})
	reopened.Dispatch(LogoutSucceeded{})
	if held.State().Authenticated() {
		t.Fatalf("logout did not reach the held store")
	}

	unsubscribe()
	now = now.Add(2 * time.Hour)
	if n := r.Sweep(now); n != 1 {
		t.Fatalf("expected store evicted once released, got %d", n)
	}
}

type failingSnapshots struct{ *MemorySnapshotStore }

func (f *failingSnapshots) Load(context.Context, string, time.Time) (Snapshot, error) {
	return Snapshot{}, errors.New("backend down")
}

func TestRegistry_LoadFailureFallsBackToInitial(t *testing.T) {
	snaps := &failingSnapshots{MemorySnapshotStore: NewMemorySnapshotStore()}
	r := NewRegistry(DefaultConfig(), snaps, token.NewHasher(nil), nil, testLogger())

	st := r.Open(context.Background(), testClientID).State()
	if st.Authenticated() || !st.Meta.Dirty {
		t.Fatalf("expected initial state, got %+v", st)
	}
}

func tokenHasherForTest() token.Hasher {
	return token.NewHasher([]byte("0123456789abcdef0123456789abcdef"))
}
