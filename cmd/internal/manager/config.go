package manager

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config addresses the management process.
type Config struct {
	Addr         string
	DialTimeout  time.Duration
	CallTimeout  time.Duration
	MaxLineBytes int
}

// DefaultConfig targets a management process on localhost.
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:2323",
		DialTimeout:  3 * time.Second,
		CallTimeout:  30 * time.Second,
		MaxLineBytes: 1 << 20,
	}
}

// LoadConfigFromEnv reads MCADMIN_MANAGER_ADDR, MCADMIN_MANAGER_DIAL_TIMEOUT,
// MCADMIN_MANAGER_CALL_TIMEOUT and MCADMIN_MANAGER_MAX_LINE_BYTES.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("MCADMIN_MANAGER_ADDR")); v != "" {
		cfg.Addr = v
	}
	for key, dst := range map[string]*time.Duration{
		"MCADMIN_MANAGER_DIAL_TIMEOUT": &cfg.DialTimeout,
		"MCADMIN_MANAGER_CALL_TIMEOUT": &cfg.CallTimeout,
	} {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		*dst = d
	}
	if v := strings.TrimSpace(os.Getenv("MCADMIN_MANAGER_MAX_LINE_BYTES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1024 {
			return Config{}, ErrConfig
		}
		cfg.MaxLineBytes = n
	}

	return cfg, cfg.Validate()
}

// Validate checks the address form and limits.
func (c Config) Validate() error {
	if _, port, err := net.SplitHostPort(c.Addr); err != nil || port == "" {
		return ErrConfig
	}
	if c.DialTimeout <= 0 || c.CallTimeout <= 0 || c.MaxLineBytes <= 0 {
		return ErrConfig
	}
	return nil
}
