// Package token provides key hashing primitives for mcadmin.
//
// Client IDs carried in cookies are never used as storage keys directly.
// Snapshot stores key rows by HMAC-SHA256(client_id, key) when
// MCADMIN_TOKEN_HMAC_KEY is set, and by SHA-256(client_id) otherwise (dev only).
//
// Policy:
//   - If RequireTokenHMAC=true, callers MUST enforce a minimum key size (>= 32 bytes)
//     and MUST use HMAC (no SHA fallback).
package token
