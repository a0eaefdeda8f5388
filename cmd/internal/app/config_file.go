package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ConfigFileEnv names the optional TOML config file.
const ConfigFileEnv = "MCADMIN_CONFIG_FILE"

// ErrConfigFile wraps every config file failure.
var ErrConfigFile = errors.New("app: invalid config file")

// FileConfig is the TOML layout. Every field maps onto one MCADMIN_*
// variable; durations use Go syntax ("30s").
type FileConfig struct {
	HTTP struct {
		Addr              string `toml:"addr"`
		ReadHeaderTimeout string `toml:"read_header_timeout"`
		ReadTimeout       string `toml:"read_timeout"`
		WriteTimeout      string `toml:"write_timeout"`
		IdleTimeout       string `toml:"idle_timeout"`
	} `toml:"http"`

	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`

	Database struct {
		URL      string `toml:"url"`
		MaxConns int    `toml:"max_conns"`
		MinConns int    `toml:"min_conns"`
	} `toml:"database"`

	Redis struct {
		Addr      string `toml:"addr"`
		Password  string `toml:"password"`
		DB        int    `toml:"db"`
		KeyPrefix string `toml:"key_prefix"`
	} `toml:"redis"`

	Auth struct {
		BaseURL   string `toml:"base_url"`
		LoginURL  string `toml:"login_url"`
		UserURL   string `toml:"user_url"`
		LogoutURL string `toml:"logout_url"`
		Timeout   string `toml:"timeout"`
	} `toml:"auth"`

	Manager struct {
		Addr        string `toml:"addr"`
		DialTimeout string `toml:"dial_timeout"`
		CallTimeout string `toml:"call_timeout"`
	} `toml:"manager"`

	Session struct {
		CookieName   string `toml:"cookie_name"`
		CookieKeyHex string `toml:"cookie_key_hex"`
		ClientTTL    string `toml:"client_ttl"`
		IdleTTL      string `toml:"idle_ttl"`
	} `toml:"session"`

	Seal struct {
		Passphrase string `toml:"passphrase"`
		Salt       string `toml:"salt"`
	} `toml:"seal"`

	WS struct {
		AllowedOrigins []string `toml:"allowed_origins"`
		DevInsecure    *bool    `toml:"dev_insecure"`
	} `toml:"ws"`
}

// Env flattens the file into MCADMIN_* assignments, skipping unset fields.
func (f FileConfig) Env() map[string]string {
	out := make(map[string]string)
	set := func(key, v string) {
		if v = strings.TrimSpace(v); v != "" {
			out[key] = v
		}
	}
	setInt := func(key string, n int) {
		if n > 0 {
			out[key] = strconv.Itoa(n)
		}
	}

	set("MCADMIN_HTTP_ADDR", f.HTTP.Addr)
	set("MCADMIN_HTTP_READ_HEADER_TIMEOUT", f.HTTP.ReadHeaderTimeout)
	set("MCADMIN_HTTP_READ_TIMEOUT", f.HTTP.ReadTimeout)
	set("MCADMIN_HTTP_WRITE_TIMEOUT", f.HTTP.WriteTimeout)
	set("MCADMIN_HTTP_IDLE_TIMEOUT", f.HTTP.IdleTimeout)

	set("MCADMIN_LOG_LEVEL", f.Log.Level)
	set("MCADMIN_LOG_FORMAT", f.Log.Format)

	set("MCADMIN_DATABASE_URL", f.Database.URL)
	setInt("MCADMIN_DB_MAX_CONNS", f.Database.MaxConns)
	setInt("MCADMIN_DB_MIN_CONNS", f.Database.MinConns)

	set("MCADMIN_REDIS_ADDR", f.Redis.Addr)
	set("MCADMIN_REDIS_PASSWORD", f.Redis.Password)
	setInt("MCADMIN_REDIS_DB", f.Redis.DB)
	set("MCADMIN_REDIS_KEY_PREFIX", f.Redis.KeyPrefix)

	set("MCADMIN_AUTH_BASE_URL", f.Auth.BaseURL)
	set("MCADMIN_AUTH_LOGIN_URL", f.Auth.LoginURL)
	set("MCADMIN_AUTH_USER_URL", f.Auth.UserURL)
	set("MCADMIN_AUTH_LOGOUT_URL", f.Auth.LogoutURL)
	set("MCADMIN_AUTH_TIMEOUT", f.Auth.Timeout)

	set("MCADMIN_MANAGER_ADDR", f.Manager.Addr)
	set("MCADMIN_MANAGER_DIAL_TIMEOUT", f.Manager.DialTimeout)
	set("MCADMIN_MANAGER_CALL_TIMEOUT", f.Manager.CallTimeout)

	set("MCADMIN_CLIENT_COOKIE_NAME", f.Session.CookieName)
	set("MCADMIN_CLIENT_COOKIE_KEY_HEX", f.Session.CookieKeyHex)
	set("MCADMIN_CLIENT_TTL", f.Session.ClientTTL)
	set("MCADMIN_CLIENT_IDLE_TTL", f.Session.IdleTTL)

	set("MCADMIN_SEAL_PASSPHRASE", f.Seal.Passphrase)
	set("MCADMIN_SEAL_SALT", f.Seal.Salt)

	set("MCADMIN_WS_ALLOWED_ORIGINS", strings.Join(f.WS.AllowedOrigins, ","))
	if f.WS.DevInsecure != nil {
		out["MCADMIN_WS_DEV_INSECURE"] = strconv.FormatBool(*f.WS.DevInsecure)
	}

	return out
}

// ReadConfigFile decodes path strictly; unknown keys are an error.
func ReadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig

	f, err := os.Open(path)
	if err != nil {
		return fc, fmt.Errorf("%w: %v", ErrConfigFile, err)
	}
	defer func() { _ = f.Close() }()

	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fc, fmt.Errorf("%w: %s", ErrConfigFile, strict.String())
		}
		return fc, fmt.Errorf("%w: %v", ErrConfigFile, err)
	}
	return fc, nil
}

// ApplyConfigFile exports the file's values for every MCADMIN_* variable
// that is unset or blank, so the environment always wins.
func ApplyConfigFile(path string) error {
	fc, err := ReadConfigFile(path)
	if err != nil {
		return err
	}
	for key, v := range fc.Env() {
		if cur, ok := os.LookupEnv(key); ok && strings.TrimSpace(cur) != "" {
			continue
		}
		if err := os.Setenv(key, v); err != nil {
			return fmt.Errorf("%w: %v", ErrConfigFile, err)
		}
	}
	return nil
}
