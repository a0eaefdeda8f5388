package session

import (
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"mcadmin/cmd/internal/ids"
)

const cookieIssuer = "mcadmin"

// ClientCookieCodec encrypts client IDs into PASETO v4.local cookie values.
type ClientCookieCodec struct {
	name string
	key  paseto.V4SymmetricKey
	ttl  time.Duration
}

// NewClientCookieCodec builds a codec from cfg. An empty CookieKeyHex
// generates a random per-process key.
func NewClientCookieCodec(cfg Config) (*ClientCookieCodec, error) {
	var key paseto.V4SymmetricKey
	if cfg.CookieKeyHex == "" {
		key = paseto.NewV4SymmetricKey()
	} else {
		k, err := paseto.V4SymmetricKeyFromHex(cfg.CookieKeyHex)
		if err != nil {
			return nil, ErrConfig
		}
		key = k
	}

	ttl := cfg.ClientTTL
	if ttl <= 0 {
		ttl = DefaultConfig().ClientTTL
	}

	name := cfg.CookieName
	if name == "" {
		name = DefaultConfig().CookieName
	}

	return &ClientCookieCodec{name: name, key: key, ttl: ttl}, nil
}

// Name returns the cookie name.
func (c *ClientCookieCodec) Name() string { return c.name }

// TTL returns the cookie lifetime.
func (c *ClientCookieCodec) TTL() time.Duration { return c.ttl }

// Encode returns the cookie value for clientID and its expiry.
func (c *ClientCookieCodec) Encode(clientID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(c.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(cookieIssuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	tok.SetString("cid", clientID)

	return tok.V4Encrypt(c.key, nil), exp, nil
}

// Decode returns the client ID in value if it is authentic and valid at now.
func (c *ClientCookieCodec) Decode(value string, now time.Time) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" || len(value) > 4096 {
		return "", ErrInvalidClientCookie
	}

	// Fresh parser per call so rules never accumulate.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(cookieIssuer))
	p.AddRule(paseto.ValidAt(now))

	parsed, err := p.ParseV4Local(c.key, value, nil)
	if err != nil {
		return "", ErrInvalidClientCookie
	}

	cid, err := parsed.GetString("cid")
	if err != nil || !ids.ValidULID(cid) {
		return "", ErrInvalidClientCookie
	}
	return cid, nil
}
