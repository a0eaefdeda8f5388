package seal

import (
	"bytes"
	"errors"
	"testing"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Params = Argon2idParams{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1}
	return cfg
}

func TestBox_SealOpen(t *testing.T) {
	box, err := NewBox(testConfig(), "correct horse battery staple", "salt-1234")
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}

	sealed, err := box.Seal([]byte("token-abc"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(sealed, []byte("token-abc")) {
		t.Fatalf("sealed value leaks plaintext")
	}

	again, err := box.Seal([]byte("token-abc"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Equal(sealed, again) {
		t.Fatalf("expected fresh nonce per seal")
	}

	plain, err := box.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(plain) != "token-abc" {
		t.Fatalf("Open=%q", plain)
	}
}

func TestBox_OpenRejectsTamperedAndForeign(t *testing.T) {
	cfg := testConfig()
	box, err := NewBox(cfg, "correct horse battery staple", "salt-1234")
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}
	other, err := NewBox(cfg, "a different passphrase entirely", "salt-1234")
	if err != nil {
		t.Fatalf("NewBox: %v", err)
	}

	sealed, err := box.Seal([]byte("token-abc"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := other.Open(sealed); !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("expected ErrOpenFailed for foreign key, got %v", err)
	}

	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-1] ^= 0xff
	if _, err := box.Open(tampered); !errors.Is(err, ErrOpenFailed) {
		t.Fatalf("expected ErrOpenFailed for tampered value, got %v", err)
	}

	if _, err := box.Open([]byte{0x02, 1, 2, 3}); !errors.Is(err, ErrSealedInvalid) {
		t.Fatalf("expected ErrSealedInvalid, got %v", err)
	}
}

func TestNewBox_Policy(t *testing.T) {
	cfg := testConfig()
	if _, err := NewBox(cfg, "short", "salt-1234"); !errors.Is(err, ErrPassphraseTooShort) {
		t.Fatalf("expected ErrPassphraseTooShort, got %v", err)
	}
	if _, err := NewBox(cfg, "correct horse battery staple", "s"); !errors.Is(err, ErrSaltTooShort) {
		t.Fatalf("expected ErrSaltTooShort, got %v", err)
	}
}

func TestPlain_RoundTrip(t *testing.T) {
	var s Sealer = Plain{}
	out, err := s.Seal([]byte("tok"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	back, err := s.Open(out)
	if err != nil || string(back) != "tok" {
		t.Fatalf("Open=%q err=%v", back, err)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("MCADMIN_SEAL_ARGON2_ITERATIONS", "2")
	t.Setenv("MCADMIN_SEAL_ARGON2_PARALLELISM", "2")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Params.Iterations != 2 || cfg.Params.Parallelism != 2 {
		t.Fatalf("unexpected params: %+v", cfg.Params)
	}

	t.Setenv("MCADMIN_SEAL_ARGON2_MEMORY_KIB", "12")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected error for out-of-range memory")
	}
}
