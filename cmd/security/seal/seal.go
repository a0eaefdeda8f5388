package seal

import (
	"crypto/rand"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	version1  byte = 0x01
	keySize        = 32
	nonceSize      = 24
)

// Sealer encrypts and decrypts small secrets such as auth tokens.
type Sealer interface {
	Seal(plain []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// Plain stores values unchanged.
type Plain struct{}

// Seal returns a copy of plain.
func (Plain) Seal(plain []byte) ([]byte, error) { return append([]byte(nil), plain...), nil }

// Open returns a copy of sealed.
func (Plain) Open(sealed []byte) ([]byte, error) { return append([]byte(nil), sealed...), nil }

// Box is a secretbox Sealer keyed by an Argon2id-derived key.
type Box struct {
	key [keySize]byte
}

// NewBox derives a key from passphrase and salt and returns a Box.
func NewBox(cfg Config, passphrase, salt string) (*Box, error) {
	if utf8.RuneCountInString(passphrase) < cfg.MinPassphraseLength {
		return nil, ErrPassphraseTooShort
	}
	if len(salt) < cfg.MinSaltLength {
		return nil, ErrSaltTooShort
	}

	derived := argon2.IDKey(
		[]byte(passphrase),
		[]byte(salt),
		cfg.Params.Iterations,
		cfg.Params.MemoryKiB,
		cfg.Params.Parallelism,
		keySize,
	)

	b := &Box{}
	copy(b.key[:], derived)
	return b, nil
}

// Seal encrypts plain with a fresh random nonce.
func (b *Box) Seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	out := make([]byte, 0, 1+nonceSize+len(plain)+secretbox.Overhead)
	out = append(out, version1)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plain, &nonce, &b.key), nil
}

// Open decrypts a value produced by Seal.
func (b *Box) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < 1+nonceSize+secretbox.Overhead || sealed[0] != version1 {
		return nil, ErrSealedInvalid
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[1:1+nonceSize])

	plain, ok := secretbox.Open(nil, sealed[1+nonceSize:], &nonce, &b.key)
	if !ok {
		return nil, ErrOpenFailed
	}
	return plain, nil
}
