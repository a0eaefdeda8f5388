package authapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls the login endpoints, the client cookie attributes and the
// login throttle.
type Config struct {
	TrustProxy        bool
	MaxBodyBytes      int64
	RevalidateTimeout time.Duration

	CookiePath     string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite

	LoginIPMax    int
	LoginIPWindow time.Duration

	// Failures per username are kept for LoginUserWindow and feed the
	// progressive lockout tiers.
	LoginUserWindow        time.Duration
	LockoutShortThreshold  int
	LockoutShortDuration   time.Duration
	LockoutLongThreshold   int
	LockoutLongDuration    time.Duration
	LockoutSevereThreshold int
	LockoutSevereDuration  time.Duration
}

// DefaultConfig returns the settings used when no environment overrides are set.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:           64 << 10,
		RevalidateTimeout:      10 * time.Second,
		CookiePath:             "/",
		CookieSecure:           true,
		CookieSameSite:         http.SameSiteLaxMode,
		LoginIPMax:             20,
		LoginIPWindow:          5 * time.Minute,
		LoginUserWindow:        time.Hour,
		LockoutShortThreshold:  5,
		LockoutShortDuration:   time.Minute,
		LockoutLongThreshold:   10,
		LockoutLongDuration:    15 * time.Minute,
		LockoutSevereThreshold: 20,
		LockoutSevereDuration:  time.Hour,
	}
}

// LoadConfigFromEnv loads the auth API config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	cfg := Config{
		TrustProxy:             envBool("MCADMIN_LOGIN_TRUST_PROXY", false),
		MaxBodyBytes:           envInt64("MCADMIN_LOGIN_MAX_BODY_BYTES", def.MaxBodyBytes),
		RevalidateTimeout:      envDuration("MCADMIN_LOGIN_REVALIDATE_TIMEOUT", def.RevalidateTimeout),
		CookiePath:             envString("MCADMIN_COOKIE_PATH", def.CookiePath),
		CookieDomain:           envString("MCADMIN_COOKIE_DOMAIN", ""),
		CookieSecure:           envBool("MCADMIN_COOKIE_SECURE", def.CookieSecure),
		CookieSameSite:         parseSameSite(envString("MCADMIN_COOKIE_SAMESITE", "lax")),
		LoginIPMax:             envInt("MCADMIN_LOGIN_IP_MAX", def.LoginIPMax),
		LoginIPWindow:          envDuration("MCADMIN_LOGIN_IP_WINDOW", def.LoginIPWindow),
		LoginUserWindow:        envDuration("MCADMIN_LOGIN_USER_WINDOW", def.LoginUserWindow),
		LockoutShortThreshold:  envInt("MCADMIN_LOGIN_LOCKOUT_SHORT_THRESHOLD", def.LockoutShortThreshold),
		LockoutShortDuration:   envDuration("MCADMIN_LOGIN_LOCKOUT_SHORT_DURATION", def.LockoutShortDuration),
		LockoutLongThreshold:   envInt("MCADMIN_LOGIN_LOCKOUT_LONG_THRESHOLD", def.LockoutLongThreshold),
		LockoutLongDuration:    envDuration("MCADMIN_LOGIN_LOCKOUT_LONG_DURATION", def.LockoutLongDuration),
		LockoutSevereThreshold: envInt("MCADMIN_LOGIN_LOCKOUT_SEVERE_THRESHOLD", def.LockoutSevereThreshold),
		LockoutSevereDuration:  envDuration("MCADMIN_LOGIN_LOCKOUT_SEVERE_DURATION", def.LockoutSevereDuration),
	}

	// Browsers drop SameSite=None cookies that are not Secure.
	if cfg.CookieSameSite == http.SameSiteNoneMode {
		cfg.CookieSecure = true
	}
	if !strings.HasPrefix(cfg.CookiePath, "/") {
		cfg.CookiePath = "/"
	}
	return cfg
}

func (c Config) lockoutTiers() []lockoutTier {
	return []lockoutTier{
		{Threshold: c.LockoutSevereThreshold, Duration: c.LockoutSevereDuration},
		{Threshold: c.LockoutLongThreshold, Duration: c.LockoutLongDuration},
		{Threshold: c.LockoutShortThreshold, Duration: c.LockoutShortDuration},
	}
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteLaxMode
	}
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
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

func envInt(key string, def int) int {
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

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
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
