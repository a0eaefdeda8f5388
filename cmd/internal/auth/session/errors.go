package session

import "errors"

var (
	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")

	// ErrSnapshotNotFound is returned when no live snapshot exists for a client key.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrInvalidClientCookie is returned when a client cookie fails decryption or validation.
	ErrInvalidClientCookie = errors.New("invalid client cookie")
)
