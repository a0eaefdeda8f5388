package token

import "errors"

// Snapshot-key secret failures from HMACKeyFromEnv. The too-short error is
// wrapped with the measured and required lengths.
var (
	ErrHMACKeyMissing  = errors.New(HMACEnvKey + " is not set")
	ErrHMACKeyTooShort = errors.New(HMACEnvKey + " is too short for snapshot keys")
)
