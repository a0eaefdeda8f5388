package pipeline

import (
	"errors"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrConfig is returned for invalid pipeline configuration.
var ErrConfig = errors.New("invalid pipeline config")

const (
	defaultLoginPath  = "/rest-auth/login/"
	defaultUserPath   = "/rest-auth/user/"
	defaultLogoutPath = "/rest-auth/logout/"

	// MaxErrorBody bounds the response body kept in an ErrorPayload.
	MaxErrorBody = 64 << 10
)

// Config describes the auth server endpoints.
type Config struct {
	LoginURL  string
	UserURL   string
	LogoutURL string // optional; empty acknowledges logouts locally

	Timeout      time.Duration
	MaxBodyBytes int64
}

// DefaultConfig targets a rest-auth server on localhost:8000.
func DefaultConfig() Config {
	return ConfigForBase("http://127.0.0.1:8000")
}

// ConfigForBase returns the rest-auth endpoint layout under base.
func ConfigForBase(base string) Config {
	base = strings.TrimRight(base, "/")
	return Config{
		LoginURL:     base + defaultLoginPath,
		UserURL:      base + defaultUserPath,
		LogoutURL:    base + defaultLogoutPath,
		Timeout:      10 * time.Second,
		MaxBodyBytes: MaxErrorBody,
	}
}

// LoadConfigFromEnv reads:
//   - MCADMIN_AUTH_BASE_URL (default http://127.0.0.1:8000)
//   - MCADMIN_AUTH_LOGIN_URL, MCADMIN_AUTH_USER_URL, MCADMIN_AUTH_LOGOUT_URL (override single endpoints;
//     MCADMIN_AUTH_LOGOUT_URL="-" disables the remote logout call)
//   - MCADMIN_AUTH_TIMEOUT (Go duration)
//   - MCADMIN_AUTH_MAX_BODY_BYTES
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if base := strings.TrimSpace(os.Getenv("MCADMIN_AUTH_BASE_URL")); base != "" {
		cfg = ConfigForBase(base)
	}

	if v := strings.TrimSpace(os.Getenv("MCADMIN_AUTH_LOGIN_URL")); v != "" {
		cfg.LoginURL = v
	}
	if v := strings.TrimSpace(os.Getenv("MCADMIN_AUTH_USER_URL")); v != "" {
		cfg.UserURL = v
	}
	switch v := strings.TrimSpace(os.Getenv("MCADMIN_AUTH_LOGOUT_URL")); v {
	case "":
	case "-":
		cfg.LogoutURL = ""
	default:
		cfg.LogoutURL = v
	}

	if v := strings.TrimSpace(os.Getenv("MCADMIN_AUTH_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.Timeout = d
	}
	if v := strings.TrimSpace(os.Getenv("MCADMIN_AUTH_MAX_BODY_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1024 {
			return Config{}, ErrConfig
		}
		cfg.MaxBodyBytes = n
	}

	return cfg, cfg.Validate()
}

// Validate checks that the endpoints are absolute http(s) URLs.
func (c Config) Validate() error {
	for _, raw := range []string{c.LoginURL, c.UserURL} {
		if !validEndpoint(raw) {
			return ErrConfig
		}
	}
	if c.LogoutURL != "" && !validEndpoint(c.LogoutURL) {
		return ErrConfig
	}
	if c.Timeout <= 0 || c.MaxBodyBytes <= 0 {
		return ErrConfig
	}
	return nil
}

func validEndpoint(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
