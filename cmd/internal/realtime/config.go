package realtime

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	wsDefaultSendQueueSize = 64
	wsMinSendQueueSize     = 16

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute

	// Origin is required by default and only localhost is allowed (dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// GatewayConfig holds the WebSocket policy knobs.
type GatewayConfig struct {
	DevInsecure    bool
	OriginRequired bool
	AllowedOrigins []string

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration

	RateEvents int
	RateWindow time.Duration
}

// DefaultGatewayConfig returns secure defaults for local development.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		OriginRequired:   wsDefaultOriginRequired,
		AllowedOrigins:   splitCSV(wsDefaultAllowedOrigins),
		WriteTimeout:     wsDefaultWriteTimeout,
		ReadIdleTimeout:  wsDefaultReadIdle,
		SendQueueSize:    wsDefaultSendQueueSize,
		HeartbeatEvery:   heartbeatInterval,
		HeartbeatTimeout: heartbeatTimeout,
		RateEvents:       rateLimitEvents,
		RateWindow:       rateLimitWindow,
	}
}

// LoadGatewayConfigFromEnv reads MCADMIN_WS_* variables. Invalid values keep defaults.
func LoadGatewayConfigFromEnv() GatewayConfig {
	cfg := DefaultGatewayConfig()

	// InsecureSkipVerify disables the library origin check; dev only.
	cfg.DevInsecure = envBoolWS("MCADMIN_WS_DEV_INSECURE", false)
	cfg.OriginRequired = envBoolWS("MCADMIN_WS_ORIGIN_REQUIRED", cfg.OriginRequired)
	if raw := strings.TrimSpace(os.Getenv("MCADMIN_WS_ALLOWED_ORIGINS")); raw != "" {
		cfg.AllowedOrigins = splitCSV(raw)
	}

	cfg.WriteTimeout = envDurationWS("MCADMIN_WS_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.ReadIdleTimeout = envDurationWS("MCADMIN_WS_READ_IDLE_TIMEOUT", cfg.ReadIdleTimeout)
	cfg.SendQueueSize = envIntWS("MCADMIN_WS_SEND_QUEUE", cfg.SendQueueSize)
	cfg.HeartbeatEvery = envDurationWS("MCADMIN_WS_HEARTBEAT_INTERVAL", cfg.HeartbeatEvery)
	cfg.HeartbeatTimeout = envDurationWS("MCADMIN_WS_HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout)
	cfg.RateEvents = envIntWS("MCADMIN_WS_RATE_EVENTS", cfg.RateEvents)
	cfg.RateWindow = envDurationWS("MCADMIN_WS_RATE_WINDOW", cfg.RateWindow)

	return cfg
}

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
