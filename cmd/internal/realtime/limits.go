package realtime

import "time"

const (
	// Max bytes per websocket frame read. Client envelopes are tiny.
	maxFrameBytes = 8 << 10

	// Viewport widths above this are clamped.
	maxViewportWidth = 16384
)

const (
	// Heartbeat defaults (overridable by env, see LoadGatewayConfigFromEnv).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 60
	rateLimitWindow = 10 * time.Second
)
