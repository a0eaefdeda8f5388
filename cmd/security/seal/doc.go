// Package seal encrypts auth tokens before they reach a snapshot store.
//
// Keys are derived from an operator passphrase with Argon2id and used with
// NaCl secretbox (XSalsa20-Poly1305). Sealed values are versioned:
//
//	0x01 | nonce(24) | secretbox(plaintext)
//
// When no passphrase is configured the Plain sealer is used, which stores
// tokens as-is and is only meant for local development.
package seal
