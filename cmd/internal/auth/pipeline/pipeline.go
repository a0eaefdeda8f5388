package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mcadmin/cmd/internal/auth/session"
)

// Dispatcher is the part of session.Store the pipeline writes to.
type Dispatcher interface {
	Dispatch(ev session.Event) session.State
}

// Credentials is the login form.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Observer is notified once per finished operation. Outcome is one of
// "success", "rejected", "transport" or "cancelled".
type Observer func(op Op, outcome string, elapsed time.Duration)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.client = c
		}
	}
}

// WithObserver installs a completion hook (metrics).
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observe = o }
}

// Pipeline performs auth server round trips and dispatches their outcome.
// It never retries.
type Pipeline struct {
	cfg     Config
	client  *http.Client
	observe Observer
}

// New validates cfg and returns a Pipeline.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Login obtains a token for creds, then fetches the profile with it.
// The two requests run sequentially; a failure in either dispatches
// LoginFailed and ends the pipeline.
func (p *Pipeline) Login(ctx context.Context, creds Credentials, d Dispatcher) error {
	start := time.Now()
	d.Dispatch(session.LoginStarted{})

	tok, fail := p.requestToken(ctx, creds)
	if fail == nil {
		var profile map[string]any
		profile, fail = p.fetchProfile(ctx, OpLogin, tok)
		if fail == nil {
			d.Dispatch(session.LoginSucceeded{AuthToken: tok, Profile: profile})
			p.done(OpLogin, nil, start)
			return nil
		}
	}

	d.Dispatch(session.LoginFailed{Detail: fail.Detail})
	p.done(OpLogin, fail, start)
	return fail
}

// Revalidate re-runs only the identity lookup for a restored token.
func (p *Pipeline) Revalidate(ctx context.Context, token string, d Dispatcher) error {
	if token == "" {
		return ErrNoToken
	}

	start := time.Now()
	d.Dispatch(session.LoginStarted{})

	profile, fail := p.fetchProfile(ctx, OpRevalidate, token)
	if fail != nil {
		d.Dispatch(session.LoginFailed{Detail: fail.Detail})
		p.done(OpRevalidate, fail, start)
		return fail
	}

	d.Dispatch(session.LoginSucceeded{AuthToken: token, Profile: profile})
	p.done(OpRevalidate, nil, start)
	return nil
}

// Logout revokes token on the auth server. Without a token or a configured
// logout endpoint the logout is acknowledged locally.
func (p *Pipeline) Logout(ctx context.Context, token string, d Dispatcher) error {
	start := time.Now()
	d.Dispatch(session.LogoutStarted{})

	if token == "" || p.cfg.LogoutURL == "" {
		d.Dispatch(session.LogoutSucceeded{})
		p.done(OpLogout, nil, start)
		return nil
	}

	status, body, err := p.do(ctx, http.MethodPost, p.cfg.LogoutURL, token, struct{}{})
	var fail *Failure
	switch {
	case err != nil:
		fail = transportFailure(OpLogout, err, describe(ctx, OpLogout, err))
	case status >= 400:
		fail = rejectedFailure(OpLogout, status, body, http.StatusText(status))
	}

	if fail != nil {
		d.Dispatch(session.LogoutFailed{Detail: fail.Detail})
		p.done(OpLogout, fail, start)
		return fail
	}

	d.Dispatch(session.LogoutSucceeded{})
	p.done(OpLogout, nil, start)
	return nil
}

type tokenResponse struct {
	AuthToken string `json:"auth_token"`
	Key       string `json:"key"`
}

func (p *Pipeline) requestToken(ctx context.Context, creds Credentials) (string, *Failure) {
	status, body, err := p.do(ctx, http.MethodPost, p.cfg.LoginURL, "", creds)
	if err != nil {
		return "", transportFailure(OpLogin, err, describe(ctx, OpLogin, err))
	}
	if status >= 400 {
		return "", rejectedFailure(OpLogin, status, body, http.StatusText(status))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", transportFailure(OpLogin, err, "malformed login response")
	}

	tok := strings.TrimSpace(tr.AuthToken)
	if tok == "" {
		tok = strings.TrimSpace(tr.Key)
	}
	if tok == "" {
		return "", transportFailure(OpLogin, nil, "login response has no auth_token")
	}
	return tok, nil
}

func (p *Pipeline) fetchProfile(ctx context.Context, op Op, token string) (map[string]any, *Failure) {
	status, body, err := p.do(ctx, http.MethodGet, p.cfg.UserURL, token, nil)
	if err != nil {
		return nil, transportFailure(op, err, describe(ctx, op, err))
	}
	if status >= 400 {
		return nil, rejectedFailure(op, status, body, http.StatusText(status))
	}

	var profile map[string]any
	if err := json.Unmarshal(body, &profile); err != nil || profile == nil {
		return nil, transportFailure(op, err, "identity response is not a JSON object")
	}
	return profile, nil
}

var errBodyTooLarge = errors.New("response body too large")

// do sends one JSON request. A non-nil error means no usable HTTP response.
func (p *Pipeline) do(ctx context.Context, method, url, token string, payload any) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxBodyBytes+1))
	if err != nil {
		return 0, nil, err
	}
	if int64(len(body)) > p.cfg.MaxBodyBytes {
		if resp.StatusCode >= 400 {
			return resp.StatusCode, body[:p.cfg.MaxBodyBytes], nil
		}
		return 0, nil, errBodyTooLarge
	}
	return resp.StatusCode, body, nil
}

func describe(ctx context.Context, op Op, err error) string {
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Sprintf("%s cancelled: %v", op, cerr)
	}
	return err.Error()
}

func (p *Pipeline) done(op Op, fail *Failure, start time.Time) {
	if p.observe == nil {
		return
	}
	outcome := "success"
	if fail != nil {
		switch {
		case fail.Rejected():
			outcome = "rejected"
		case errors.Is(fail.Err, context.Canceled) || errors.Is(fail.Err, context.DeadlineExceeded):
			outcome = "cancelled"
		default:
			outcome = "transport"
		}
	}
	p.observe(op, outcome, time.Since(start))
}
