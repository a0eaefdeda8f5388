package authapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"mcadmin/cmd/internal/auth/pipeline"
	"mcadmin/cmd/internal/auth/session"
	"mcadmin/cmd/security/token"
)

type fakeAuth struct {
	mu sync.Mutex

	password     string
	token        string
	revalidateOK bool

	// blockFirst holds the first Login until released or cancelled.
	blockFirst chan struct{}
	loginCalls int
	started    chan struct{}

	revalidations int
	loggedOut     []string
}

func (f *fakeAuth) Login(ctx context.Context, creds pipeline.Credentials, d pipeline.Dispatcher) error {
	f.mu.Lock()
	f.loginCalls++
	first := f.loginCalls == 1
	f.mu.Unlock()

	d.Dispatch(session.LoginStarted{})

	if first && f.blockFirst != nil {
		if f.started != nil {
			close(f.started)
		}
		select {
		case <-f.blockFirst:
		case <-ctx.Done():
			detail := session.ErrorPayload{Kind: session.KindTransport, Message: "login cancelled"}
			d.Dispatch(session.LoginFailed{Detail: detail})
			return &pipeline.Failure{Op: pipeline.OpLogin, Detail: detail, Err: ctx.Err()}
		}
	}

	if creds.Password != f.password {
		detail := session.ErrorPayload{Kind: session.KindRejected, Status: http.StatusBadRequest, Body: `{"non_field_errors":["bad"]}`}
		d.Dispatch(session.LoginFailed{Detail: detail})
		return &pipeline.Failure{Op: pipeline.OpLogin, Detail: detail}
	}

	d.Dispatch(session.LoginSucceeded{AuthToken: f.token, Profile: map[string]any{"username": creds.Username}})
	return nil
}

func (f *fakeAuth) Revalidate(_ context.Context, tok string, d pipeline.Dispatcher) error {
	f.mu.Lock()
	f.revalidations++
	ok := f.revalidateOK
	f.mu.Unlock()

	d.Dispatch(session.LoginStarted{})
	if !ok {
		detail := session.ErrorPayload{Kind: session.KindRejected, Status: http.StatusUnauthorized}
		d.Dispatch(session.LoginFailed{Detail: detail})
		return &pipeline.Failure{Op: pipeline.OpRevalidate, Detail: detail}
	}
	d.Dispatch(session.LoginSucceeded{AuthToken: tok, Profile: map[string]any{"username": "alice"}})
	return nil
}

func (f *fakeAuth) Logout(_ context.Context, tok string, d pipeline.Dispatcher) error {
	f.mu.Lock()
	f.loggedOut = append(f.loggedOut, tok)
	f.mu.Unlock()

	d.Dispatch(session.LogoutStarted{})
	d.Dispatch(session.LogoutSucceeded{})
	return nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type testEnv struct {
	h     *Handler
	mux   *http.ServeMux
	snaps *session.MemorySnapshotStore
	codec *session.ClientCookieCodec
}

func newTestEnv(t *testing.T, auth Authenticator, cfg Config) *testEnv {
	t.Helper()

	snaps := session.NewMemorySnapshotStore()
	return newTestEnvWithSnapshots(t, auth, cfg, snaps, nil)
}

func newTestEnvWithSnapshots(t *testing.T, auth Authenticator, cfg Config, snaps *session.MemorySnapshotStore, codec *session.ClientCookieCodec) *testEnv {
	t.Helper()

	if codec == nil {
		c, err := session.NewClientCookieCodec(session.DefaultConfig())
		if err != nil {
			t.Fatalf("NewClientCookieCodec: %v", err)
		}
		codec = c
	}
	reg := session.NewRegistry(session.DefaultConfig(), snaps, token.NewHasher([]byte("0123456789abcdef0123456789abcdef")), nil, testLogger())

	h, err := NewHandler(testLogger(), cfg, reg, codec, auth)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)
	return &testEnv{h: h, mux: mux, snaps: snaps, codec: codec}
}

func (e *testEnv) do(req *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	e.mux.ServeHTTP(rr, req)
	return rr
}

func jsonLogin(username, password string) *http.Request {
	body := `{"username":` + quote(username) + `,"password":` + quote(password) + `}`
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func clientCookie(t *testing.T, rr *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %q not set", name)
	return nil
}

type viewBody struct {
	Session struct {
		InProgress    bool                  `json:"in_progress"`
		Dirty         bool                  `json:"dirty"`
		Authenticated bool                  `json:"authenticated"`
		Error         *session.ErrorPayload `json:"error"`
		Profile       map[string]any        `json:"profile"`
	} `json:"session"`
}

func decodeView(t *testing.T, rr *httptest.ResponseRecorder) viewBody {
	t.Helper()
	var v viewBody
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestLogin_SuccessSetsCookieAndHidesToken(t *testing.T) {
	env := newTestEnv(t, &fakeAuth{password: "pw", token: "tok-123"}, DefaultConfig())

	rr := env.do(jsonLogin("alice", "pw"), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "tok-123") {
		t.Fatalf("auth token leaked: %s", rr.Body.String())
	}

	v := decodeView(t, rr)
	if !v.Session.Authenticated || v.Session.InProgress || v.Session.Error != nil {
		t.Fatalf("unexpected session: %+v", v.Session)
	}
	if v.Session.Profile["username"] != "alice" {
		t.Fatalf("profile mismatch: %+v", v.Session.Profile)
	}

	c := clientCookie(t, rr, env.codec.Name())
	if !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected cookie attributes: %+v", c)
	}

	rr = env.do(httptest.NewRequest(http.MethodGet, "/auth/session", nil), c)
	if v := decodeView(t, rr); !v.Session.Authenticated {
		t.Fatalf("session endpoint lost the login: %+v", v.Session)
	}

	st, ok := env.h.Resolve(withCookie(httptest.NewRequest(http.MethodGet, "/servers", nil), c))
	if !ok || st.State().AuthToken != "tok-123" {
		t.Fatalf("Resolve did not return the logged-in store")
	}
}

func withCookie(r *http.Request, c *http.Cookie) *http.Request {
	r.AddCookie(c)
	return r
}

func TestLogin_RejectedIs401(t *testing.T) {
	env := newTestEnv(t, &fakeAuth{password: "pw", token: "T"}, DefaultConfig())

	rr := env.do(jsonLogin("alice", "wrong"), nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	v := decodeView(t, rr)
	if v.Session.Authenticated || v.Session.InProgress {
		t.Fatalf("unexpected session: %+v", v.Session)
	}
	if v.Session.Error == nil || v.Session.Error.Kind != session.KindRejected || v.Session.Error.Status != http.StatusBadRequest {
		t.Fatalf("expected rejected error detail, got %+v", v.Session.Error)
	}
}

func TestLogin_BadRequests(t *testing.T) {
	env := newTestEnv(t, &fakeAuth{password: "pw"}, DefaultConfig())

	rawJSON := func(body string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
		return r
	}

	cases := []struct {
		name string
		req  *http.Request
		want int
		code errCode
	}{
		{"missing password", jsonLogin("alice", ""), http.StatusBadRequest, codeInvalidRequest},
		{"unknown field", rawJSON(`{"username":"a","password":"b","extra":1}`), http.StatusBadRequest, codeInvalidRequest},
		{"empty body", rawJSON(""), http.StatusBadRequest, codeInvalidRequest},
		{"trailing object", rawJSON(`{"username":"a","password":"b"}{}`), http.StatusBadRequest, codeInvalidRequest},
		{"text body", func() *http.Request {
			r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("alice:pw"))
			r.Header.Set("Content-Type", "text/plain")
			return r
		}(), http.StatusBadRequest, codeInvalidRequest},
		{"cross origin", func() *http.Request {
			r := jsonLogin("alice", "pw")
			r.Header.Set("Origin", "https://evil.example")
			return r
		}(), http.StatusForbidden, codeCrossOrigin},
		{"wrong method", httptest.NewRequest(http.MethodGet, "/auth/login", nil), http.StatusMethodNotAllowed, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := env.do(tc.req, nil)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
			if tc.code == "" {
				return
			}
			var body errorResponse
			if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
				t.Fatalf("decode envelope: %v", err)
			}
			if body.Error.Code != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, body.Error.Code)
			}
		})
	}
}

func TestLogin_FormRedirectsToSafeNext(t *testing.T) {
	env := newTestEnv(t, &fakeAuth{password: "pw", token: "T"}, DefaultConfig())

	for next, want := range map[string]string{
		"/servers":          "/servers",
		"//evil.example/x":  "/",
		"https://evil.test": "/",
	} {
		form := url.Values{"username": {"alice"}, "password": {"pw"}, "next": {next}}
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		rr := env.do(req, nil)
		if rr.Code != http.StatusSeeOther {
			t.Fatalf("next=%q: expected 303, got %d", next, rr.Code)
		}
		if loc := rr.Header().Get("Location"); loc != want {
			t.Fatalf("next=%q: location %q, want %q", next, loc, want)
		}
	}
}

func TestLogin_IPThrottle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LoginIPMax = 2
	cfg.LoginIPWindow = time.Minute
	cfg.LockoutShortThreshold = 100
	cfg.LockoutLongThreshold = 100
	cfg.LockoutSevereThreshold = 100
	auth := &fakeAuth{password: "pw", token: "T"}
	env := newTestEnv(t, auth, cfg)

	for i := 0; i < 2; i++ {
		if rr := env.do(jsonLogin("alice", "wrong"), nil); rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, rr.Code)
		}
	}

	rr := env.do(jsonLogin("alice", "pw"), nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	ra := rr.Header().Get("Retry-After")
	if ra == "" || ra == "0" {
		t.Fatalf("expected Retry-After, got %q", ra)
	}
	var body errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if body.Error.Code != codeRateLimited || strconv.FormatInt(body.Error.RetryAfter, 10) != ra {
		t.Fatalf("expected rate_limited with retry_after_seconds=%s, got %+v", ra, body.Error)
	}
	if auth.loginCalls != 2 {
		t.Fatalf("throttled attempt must not reach the auth server, calls=%d", auth.loginCalls)
	}
}

func TestLogin_UserLockoutClearsOnSuccess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LoginIPMax = 100
	cfg.LockoutShortThreshold = 2
	cfg.LockoutShortDuration = time.Minute
	env := newTestEnv(t, &fakeAuth{password: "pw", token: "T"}, cfg)

	_ = env.do(jsonLogin("Alice", "wrong"), nil)
	if rr := env.do(jsonLogin("alice", "pw"), nil); rr.Code != http.StatusOK {
		t.Fatalf("one failure must not lock, got %d", rr.Code)
	}

	_ = env.do(jsonLogin("alice", "wrong"), nil)
	if rr := env.do(jsonLogin("alice", "wrong"), nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 before lockout, got %d", rr.Code)
	}
	if rr := env.do(jsonLogin("ALICE", "pw"), nil); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected lockout across username case, got %d", rr.Code)
	}
}

func TestLogin_NewerLoginSupersedesInFlight(t *testing.T) {
	auth := &fakeAuth{password: "pw", token: "T2", blockFirst: make(chan struct{}), started: make(chan struct{})}
	env := newTestEnv(t, auth, DefaultConfig())

	// Establish the client cookie first so both logins share one store.
	rr := env.do(httptest.NewRequest(http.MethodGet, "/auth/session", nil), nil)
	c := clientCookie(t, rr, env.codec.Name())

	first := make(chan *httptest.ResponseRecorder, 1)
	go func() { first <- env.do(jsonLogin("alice", "pw"), c) }()

	select {
	case <-auth.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("first login never started")
	}

	second := env.do(jsonLogin("alice", "pw"), c)
	if second.Code != http.StatusOK {
		t.Fatalf("second login: expected 200, got %d: %s", second.Code, second.Body.String())
	}

	select {
	case rr := <-first:
		if rr.Code != http.StatusConflict {
			t.Fatalf("first login: expected 409, got %d", rr.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("first login was not cancelled")
	}

	rr = env.do(httptest.NewRequest(http.MethodGet, "/auth/session", nil), c)
	if v := decodeView(t, rr); !v.Session.Authenticated || v.Session.InProgress {
		t.Fatalf("expected settled authenticated session, got %+v", v.Session)
	}
}

func TestLogout_AlwaysOK(t *testing.T) {
	auth := &fakeAuth{password: "pw", token: "T"}
	env := newTestEnv(t, auth, DefaultConfig())

	rr := env.do(jsonLogin("alice", "pw"), nil)
	c := clientCookie(t, rr, env.codec.Name())

	rr = env.do(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), c)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if v := decodeView(t, rr); v.Session.Authenticated || v.Session.Dirty {
		t.Fatalf("expected reset session, got %+v", v.Session)
	}
	if len(auth.loggedOut) != 1 || auth.loggedOut[0] != "T" {
		t.Fatalf("expected logout with T, got %v", auth.loggedOut)
	}
	if env.snaps.Len() != 0 {
		t.Fatalf("snapshot not deleted on logout")
	}

	// Logging out again without a session still answers 200.
	if rr := env.do(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), nil); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for anonymous logout, got %d", rr.Code)
	}
}

func TestResolve_RevalidatesRestoredToken(t *testing.T) {
	for _, tc := range []struct {
		name   string
		ok     bool
		authed bool
	}{
		{"accepted", true, true},
		{"rejected", false, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			snaps := session.NewMemorySnapshotStore()
			codec, err := session.NewClientCookieCodec(session.DefaultConfig())
			if err != nil {
				t.Fatalf("codec: %v", err)
			}

			env1 := newTestEnvWithSnapshots(t, &fakeAuth{password: "pw", token: "T"}, DefaultConfig(), snaps, codec)
			c := clientCookie(t, env1.do(jsonLogin("alice", "pw"), nil), codec.Name())

			// A fresh registry over the same snapshots stands in for a restart.
			auth := &fakeAuth{revalidateOK: tc.ok}
			env2 := newTestEnvWithSnapshots(t, auth, DefaultConfig(), snaps, codec)

			st, ok := env2.h.Resolve(withCookie(httptest.NewRequest(http.MethodGet, "/", nil), c))
			if !ok {
				t.Fatalf("Resolve rejected a valid cookie")
			}
			if auth.revalidations != 1 {
				t.Fatalf("expected one revalidation, got %d", auth.revalidations)
			}
			got := st.State()
			if got.Authenticated() != tc.authed || got.Meta.Dirty || got.Meta.InProgress {
				t.Fatalf("unexpected state after revalidation: %+v", got.Meta)
			}

			// Settled stores are not revalidated again.
			_, _ = env2.h.Resolve(withCookie(httptest.NewRequest(http.MethodGet, "/", nil), c))
			if auth.revalidations != 1 {
				t.Fatalf("expected no further revalidation, got %d", auth.revalidations)
			}
		})
	}
}

func TestResolve_NoCookie(t *testing.T) {
	env := newTestEnv(t, &fakeAuth{}, DefaultConfig())

	if _, ok := env.h.Resolve(httptest.NewRequest(http.MethodGet, "/", nil)); ok {
		t.Fatalf("expected no store without cookie")
	}
	bad := &http.Cookie{Name: env.codec.Name(), Value: "v4.local.garbage"}
	if _, ok := env.h.Resolve(withCookie(httptest.NewRequest(http.MethodGet, "/", nil), bad)); ok {
		t.Fatalf("expected no store for invalid cookie")
	}
}

func TestLoginView(t *testing.T) {
	env := newTestEnv(t, &fakeAuth{}, DefaultConfig())

	rr := env.do(httptest.NewRequest(http.MethodGet, "/login?next=%2Fservers", nil), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var v struct {
		View    string `json:"view"`
		Next    string `json:"next"`
		Session struct {
			Authenticated bool   `json:"authenticated"`
			Phase         string `json:"phase"`
		} `json:"session"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.View != "login" || v.Next != "/servers" || v.Session.Authenticated {
		t.Fatalf("unexpected login view: %+v", v)
	}
	if v.Session.Phase != string(session.PhaseUnconfirmed) {
		t.Fatalf("expected unconfirmed phase for a fresh client, got %q", v.Session.Phase)
	}
}

// TestLogin_ThroughPipeline runs the real pipeline against a stub auth server.
func TestLogin_ThroughPipeline(t *testing.T) {
	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest-auth/login/":
			var creds pipeline.Credentials
			_ = json.NewDecoder(r.Body).Decode(&creds)
			if creds.Password != "pw" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"detail":"Invalid credentials"}`))
				return
			}
			_, _ = w.Write([]byte(`{"auth_token":"T"}`))
		case "/rest-auth/user/":
			if r.Header.Get("Authorization") != "Token T" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			_, _ = w.Write([]byte(`{"name":"Alice"}`))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	t.Cleanup(authSrv.Close)

	p, err := pipeline.New(pipeline.ConfigForBase(authSrv.URL))
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	env := newTestEnv(t, p, DefaultConfig())

	rr := env.do(jsonLogin("alice", "nope"), nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	v := decodeView(t, rr)
	if v.Session.Error == nil || v.Session.Error.Status != http.StatusUnauthorized || v.Session.Authenticated {
		t.Fatalf("unexpected failure view: %+v", v.Session)
	}

	rr = env.do(jsonLogin("alice", "pw"), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	v = decodeView(t, rr)
	if !v.Session.Authenticated || v.Session.Error != nil || v.Session.Profile["name"] != "Alice" {
		t.Fatalf("unexpected success view: %+v", v.Session)
	}
}
