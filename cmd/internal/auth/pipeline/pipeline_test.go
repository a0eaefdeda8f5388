package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"mcadmin/cmd/internal/auth/session"
)

type authStub struct {
	mu sync.Mutex

	loginStatus int
	loginBody   string
	userStatus  int
	userBody    string
	logoutCode  int

	gotCreds   Credentials
	gotAuth    []string
	userBlock  chan struct{}
	loginCalls int
}

func (a *authStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rest-auth/login/", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.loginCalls++
		_ = json.NewDecoder(r.Body).Decode(&a.gotCreds)
		status, body := a.loginStatus, a.loginBody
		a.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc("GET /rest-auth/user/", func(w http.ResponseWriter, r *http.Request) {
		if a.userBlock != nil {
			select {
			case <-a.userBlock:
			case <-r.Context().Done():
				return
			}
		}
		a.mu.Lock()
		a.gotAuth = append(a.gotAuth, r.Header.Get("Authorization"))
		status, body := a.userStatus, a.userBody
		a.mu.Unlock()

		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
	mux.HandleFunc("POST /rest-auth/logout/", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		a.gotAuth = append(a.gotAuth, r.Header.Get("Authorization"))
		code := a.logoutCode
		a.mu.Unlock()
		w.WriteHeader(code)
	})
	return mux
}

func newTestPipeline(t *testing.T, stub *authStub, opts ...Option) *Pipeline {
	t.Helper()

	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	p, err := New(ConfigForBase(srv.URL), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

type recorder struct {
	*session.Store
	events []session.EventType
}

func newRecorder() *recorder {
	r := &recorder{Store: session.NewStore(session.Initial())}
	r.Subscribe(func(ev session.Event, _ session.State) { r.events = append(r.events, ev.Type()) })
	return r
}

func TestLogin_Rejected(t *testing.T) {
	stub := &authStub{loginStatus: http.StatusUnauthorized, loginBody: `{"detail":"bad credentials"}`}
	p := newTestPipeline(t, stub)
	rec := newRecorder()

	err := p.Login(context.Background(), Credentials{Username: "alice", Password: "wrong"}, rec)

	var fail *Failure
	if !errors.As(err, &fail) || !fail.Rejected() {
		t.Fatalf("expected rejected Failure, got %v", err)
	}

	st := rec.State()
	if st.Meta.InProgress {
		t.Fatalf("expected inProgress=false")
	}
	if st.AuthToken != "" {
		t.Fatalf("expected no token, got %q", st.AuthToken)
	}
	if st.Meta.Error == nil || st.Meta.Error.Status != http.StatusUnauthorized || st.Meta.Error.Body != `{"detail":"bad credentials"}` {
		t.Fatalf("expected raw 401 response in error, got %+v", st.Meta.Error)
	}
	if len(stub.gotAuth) != 0 {
		t.Fatalf("identity lookup must not run after a rejected login")
	}

	want := []session.EventType{session.EventLoginStarted, session.EventLoginFailed}
	assertEvents(t, rec.events, want)
}

func TestLogin_Succeeds(t *testing.T) {
	stub := &authStub{
		loginStatus: http.StatusOK,
		loginBody:   `{"auth_token":"T"}`,
		userStatus:  http.StatusOK,
		userBody:    `{"name":"Alice"}`,
	}
	p := newTestPipeline(t, stub)
	rec := newRecorder()

	if err := p.Login(context.Background(), Credentials{Username: "alice", Password: "pw"}, rec); err != nil {
		t.Fatalf("Login: %v", err)
	}

	st := rec.State()
	if st.Meta.InProgress || st.Meta.Error != nil {
		t.Fatalf("unexpected meta: %+v", st.Meta)
	}
	if st.AuthToken != "T" {
		t.Fatalf("expected token T, got %q", st.AuthToken)
	}
	if v, _ := st.Field("name"); v != "Alice" {
		t.Fatalf("expected name Alice, got %v", v)
	}
	if stub.gotCreds != (Credentials{Username: "alice", Password: "pw"}) {
		t.Fatalf("unexpected credentials sent: %+v", stub.gotCreds)
	}
	if len(stub.gotAuth) != 1 || stub.gotAuth[0] != "Token T" {
		t.Fatalf("expected Authorization: Token T, got %v", stub.gotAuth)
	}

	assertEvents(t, rec.events, []session.EventType{session.EventLoginStarted, session.EventLoginSucceeded})
}

func TestLogin_KeyFieldFallback(t *testing.T) {
	stub := &authStub{loginStatus: 200, loginBody: `{"key":"K"}`, userStatus: 200, userBody: `{}`}
	p := newTestPipeline(t, stub)
	rec := newRecorder()

	if err := p.Login(context.Background(), Credentials{}, rec); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if rec.State().AuthToken != "K" {
		t.Fatalf("expected token K, got %q", rec.State().AuthToken)
	}
}

func TestLogin_TransportFailures(t *testing.T) {
	tests := []struct {
		name string
		stub *authStub
	}{
		{name: "missing token", stub: &authStub{loginStatus: 200, loginBody: `{}`}},
		{name: "malformed token response", stub: &authStub{loginStatus: 200, loginBody: `nope`}},
		{name: "profile not an object", stub: &authStub{loginStatus: 200, loginBody: `{"auth_token":"T"}`, userStatus: 200, userBody: `[1,2]`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t, tt.stub)
			rec := newRecorder()

			err := p.Login(context.Background(), Credentials{}, rec)
			var fail *Failure
			if !errors.As(err, &fail) || fail.Rejected() {
				t.Fatalf("expected transport Failure, got %v", err)
			}
			st := rec.State()
			if st.AuthToken != "" || st.Meta.Error == nil || st.Meta.Error.Kind != session.KindTransport {
				t.Fatalf("unexpected state: %+v", st)
			}
		})
	}
}

func TestLogin_IdentityRejected(t *testing.T) {
	stub := &authStub{loginStatus: 200, loginBody: `{"auth_token":"T"}`, userStatus: 403, userBody: `{"detail":"inactive"}`}
	p := newTestPipeline(t, stub)
	rec := newRecorder()

	if err := p.Login(context.Background(), Credentials{}, rec); err == nil {
		t.Fatalf("expected error")
	}
	st := rec.State()
	if st.AuthToken != "" || st.Meta.Error == nil || st.Meta.Error.Status != 403 {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestLogin_UnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	p, err := New(ConfigForBase(base))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var outcome string
	p.observe = func(_ Op, o string, _ time.Duration) { outcome = o }

	rec := newRecorder()
	if err := p.Login(context.Background(), Credentials{}, rec); err == nil {
		t.Fatalf("expected error")
	}
	if rec.State().Meta.Error == nil || rec.State().Meta.Error.Kind != session.KindTransport {
		t.Fatalf("expected transport error, got %+v", rec.State().Meta.Error)
	}
	if outcome != "transport" {
		t.Fatalf("expected transport outcome, got %q", outcome)
	}
}

func TestLogin_Cancelled(t *testing.T) {
	stub := &authStub{
		loginStatus: 200, loginBody: `{"auth_token":"T"}`,
		userStatus: 200, userBody: `{}`,
		userBlock: make(chan struct{}),
	}
	defer close(stub.userBlock)

	var outcome string
	p := newTestPipeline(t, stub, WithObserver(func(_ Op, o string, _ time.Duration) { outcome = o }))
	rec := newRecorder()

	ctx, cancel := context.WithCancel(context.Background())
	rec.Subscribe(func(ev session.Event, _ session.State) {
		if ev.Type() == session.EventLoginStarted {
			go func() {
				time.Sleep(20 * time.Millisecond)
				cancel()
			}()
		}
	})

	err := p.Login(ctx, Credentials{}, rec)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	st := rec.State()
	if st.Meta.InProgress || st.AuthToken != "" || st.Meta.Error == nil || st.Meta.Error.Kind != session.KindTransport {
		t.Fatalf("unexpected state: %+v", st)
	}
	if outcome != "cancelled" {
		t.Fatalf("expected cancelled outcome, got %q", outcome)
	}
}

func TestRevalidate(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		stub := &authStub{userStatus: 200, userBody: `{"name":"Alice"}`}
		p := newTestPipeline(t, stub)
		store := session.NewStore(session.Restored("T", nil))

		if err := p.Revalidate(context.Background(), "T", store); err != nil {
			t.Fatalf("Revalidate: %v", err)
		}
		st := store.State()
		if st.Meta.Dirty || st.AuthToken != "T" {
			t.Fatalf("expected confirmed token, got %+v", st)
		}
		if stub.loginCalls != 0 {
			t.Fatalf("revalidation must not call login")
		}
	})

	t.Run("rejected clears token", func(t *testing.T) {
		stub := &authStub{userStatus: 401, userBody: `{"detail":"invalid token"}`}
		p := newTestPipeline(t, stub)
		store := session.NewStore(session.Restored("T", map[string]any{"name": "Alice"}))

		if err := p.Revalidate(context.Background(), "T", store); err == nil {
			t.Fatalf("expected error")
		}
		if st := store.State(); st.AuthToken != "" || st.Profile != nil {
			t.Fatalf("expected cleared identity, got %+v", st)
		}
	})

	t.Run("no token", func(t *testing.T) {
		p := newTestPipeline(t, &authStub{})
		if err := p.Revalidate(context.Background(), "", newRecorder()); !errors.Is(err, ErrNoToken) {
			t.Fatalf("expected ErrNoToken, got %v", err)
		}
	})
}

func TestLogout(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		wantEvent session.EventType
		wantErr   bool
	}{
		{name: "acknowledged", code: http.StatusOK, wantEvent: session.EventLogoutSucceeded},
		{name: "server error", code: http.StatusInternalServerError, wantEvent: session.EventLogoutFailed, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &authStub{logoutCode: tt.code}
			p := newTestPipeline(t, stub)
			rec := newRecorder()
			rec.Dispatch(session.LoginSucceeded{AuthToken: "T"})
			rec.events = nil

			err := p.Logout(context.Background(), "T", rec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected err: %v", err)
			}
			assertEvents(t, rec.events, []session.EventType{session.EventLogoutStarted, tt.wantEvent})

			st := rec.State()
			if st.AuthToken != "" || st.Meta.InProgress {
				t.Fatalf("expected logged-out state, got %+v", st)
			}
			if stub.gotAuth[0] != "Token T" {
				t.Fatalf("expected Authorization header, got %v", stub.gotAuth)
			}
		})
	}
}

func TestLogout_LocalWithoutToken(t *testing.T) {
	stub := &authStub{logoutCode: 500}
	p := newTestPipeline(t, stub)
	rec := newRecorder()

	if err := p.Logout(context.Background(), "", rec); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if len(stub.gotAuth) != 0 {
		t.Fatalf("expected no remote call")
	}
	assertEvents(t, rec.events, []session.EventType{session.EventLogoutStarted, session.EventLogoutSucceeded})
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	bad := cfg
	bad.LoginURL = "/relative"
	if err := bad.Validate(); err != ErrConfig {
		t.Fatalf("expected ErrConfig, got %v", err)
	}

	noLogout := cfg
	noLogout.LogoutURL = ""
	if err := noLogout.Validate(); err != nil {
		t.Fatalf("empty logout URL should be allowed: %v", err)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("MCADMIN_AUTH_BASE_URL", "https://auth.example.com/")
	t.Setenv("MCADMIN_AUTH_LOGOUT_URL", "-")
	t.Setenv("MCADMIN_AUTH_TIMEOUT", "3s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.LoginURL != "https://auth.example.com/rest-auth/login/" {
		t.Fatalf("login url mismatch: %q", cfg.LoginURL)
	}
	if cfg.LogoutURL != "" {
		t.Fatalf("expected logout disabled, got %q", cfg.LogoutURL)
	}
	if cfg.Timeout != 3*time.Second {
		t.Fatalf("timeout mismatch: %v", cfg.Timeout)
	}

	t.Setenv("MCADMIN_AUTH_TIMEOUT", "soon")
	if _, err := LoadConfigFromEnv(); err != ErrConfig {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func assertEvents(t *testing.T, got, want []session.EventType) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}
