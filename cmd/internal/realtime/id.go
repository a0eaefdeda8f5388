package realtime

import (
	"time"

	"mcadmin/cmd/internal/ids"
)

// NewConnectionID returns a ULID identifying one WebSocket connection.
func NewConnectionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID used as envelope id, so logs sort by send time.
func NewEnvelopeID(now time.Time) string {
	id, err := ids.NewULID(now)
	if err != nil {
		return ""
	}
	return id
}
