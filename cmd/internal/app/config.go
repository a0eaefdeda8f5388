package app

import (
	"strings"
	"time"
)

// Config contains the runtime configuration of the HTTP process. Component
// configs (session, pipeline, manager, realtime, authapi) load their own
// MCADMIN_* variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	// If true, /readyz returns 503 unless the snapshot backend is configured and reachable.
	ReadinessRequireDB bool

	// If true, MCADMIN_TOKEN_HMAC_KEY must be set (>= 32 bytes) so snapshot keys are HMAC-based.
	RequireTokenHMAC bool

	SealPassphrase string
	SealSalt       string

	SweepEvery time.Duration

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults. When
// MCADMIN_CONFIG_FILE names a TOML file, its values fill every variable the
// environment leaves unset.
func LoadConfig() (Config, error) {
	if path := EnvString(ConfigFileEnv, ""); path != "" {
		if err := ApplyConfigFile(path); err != nil {
			return Config{}, err
		}
	}

	return Config{
		HTTPAddr:  EnvString("MCADMIN_HTTP_ADDR", "127.0.0.1:8080"),
		LogLevel:  EnvString("MCADMIN_LOG_LEVEL", "info"),
		LogFormat: EnvString("MCADMIN_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("MCADMIN_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("MCADMIN_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("MCADMIN_HTTP_WRITE_TIMEOUT", 45*time.Second),
		IdleTimeout:       EnvDuration("MCADMIN_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("MCADMIN_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("MCADMIN_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("MCADMIN_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("MCADMIN_DB_MIN_CONNS", 0),

		RedisAddr:      EnvString("MCADMIN_REDIS_ADDR", ""),
		RedisPassword:  EnvString("MCADMIN_REDIS_PASSWORD", ""),
		RedisDB:        EnvInt("MCADMIN_REDIS_DB", 0),
		RedisKeyPrefix: EnvString("MCADMIN_REDIS_KEY_PREFIX", ""),

		ReadinessRequireDB: EnvBool("MCADMIN_READINESS_REQUIRE_DB", false),
		RequireTokenHMAC:   EnvBool("MCADMIN_REQUIRE_TOKEN_HMAC", false),

		SealPassphrase: EnvString("MCADMIN_SEAL_PASSPHRASE", ""),
		SealSalt:       EnvString("MCADMIN_SEAL_SALT", ""),

		SweepEvery: EnvDuration("MCADMIN_SWEEP_EVERY", time.Minute),

		CORSAllowedOrigins:   EnvCSV("MCADMIN_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("MCADMIN_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("MCADMIN_CORS_MAX_AGE_SECONDS", 600),
	}, nil
}

// SnapshotBackend names the persistence selected by the config.
func (c Config) SnapshotBackend() string {
	switch {
	case strings.TrimSpace(c.DatabaseURL) != "":
		return "postgres"
	case strings.TrimSpace(c.RedisAddr) != "":
		return "redis"
	default:
		return "memory"
	}
}
