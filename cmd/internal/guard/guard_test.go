package guard

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"mcadmin/cmd/internal/auth/session"
)

func TestEvaluate(t *testing.T) {
	target, _ := url.Parse("/servers?page=2")
	authed := session.Reduce(session.Initial(), session.LoginSucceeded{AuthToken: "T"}, testNow())

	tests := []struct {
		name     string
		state    session.State
		target   *url.URL
		want     Outcome
		location string
	}{
		{name: "initial", state: session.Initial(), target: target, want: Redirect, location: "/login?next=%2Fservers%3Fpage%3D2"},
		{name: "in progress", state: session.Reduce(session.Initial(), session.LoginStarted{}, testNow()), target: target, want: Redirect, location: "/login?next=%2Fservers%3Fpage%3D2"},
		{name: "logged out", state: session.Reset(testNow()), target: nil, want: Redirect, location: "/login?next=%2F"},
		{name: "authenticated", state: authed, target: target, want: Allow},
		{name: "restored", state: session.Restored("T", nil), target: target, want: Allow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.state, tt.target, "/login")
			if d.Outcome != tt.want {
				t.Fatalf("expected outcome %v, got %v", tt.want, d.Outcome)
			}
			if d.Location != tt.location {
				t.Fatalf("expected location %q, got %q", tt.location, d.Location)
			}
		})
	}
}

func TestSafeNext(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "/servers", want: "/servers"},
		{in: "/servers?x=1", want: "/servers?x=1"},
		{in: "", want: "/"},
		{in: "servers", want: "/"},
		{in: "//evil.example.com/", want: "/"},
		{in: "/\\evil.example.com", want: "/"},
		{in: "https://evil.example.com/", want: "/"},
		{in: "/ok\nbad", want: "/"},
	}

	for _, tt := range tests {
		if got := SafeNext(tt.in, "/"); got != tt.want {
			t.Fatalf("SafeNext(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestRequireLogin(t *testing.T) {
	store := session.NewStore(session.Initial())
	resolver := ResolverFunc(func(*http.Request) (*session.Store, bool) { return store, true })

	denied := 0
	protected := RequireLogin(resolver, Options{OnDeny: func(*http.Request, Decision) { denied++ }})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s, ok := StoreFromContext(r.Context()); !ok || s != store {
				t.Errorf("expected store on context")
			}
			w.WriteHeader(http.StatusNoContent)
		}),
	)

	rr := httptest.NewRecorder()
	protected.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/servers", nil))
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/login?next=%2Fservers" {
		t.Fatalf("expected redirect, got %d %q", rr.Code, rr.Header().Get("Location"))
	}

	rr = httptest.NewRecorder()
	protected.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/servers/a/start", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for POST, got %d", rr.Code)
	}

	// The guard re-reads the store on every request.
	store.Dispatch(session.LoginSucceeded{AuthToken: "T"})
	rr = httptest.NewRecorder()
	protected.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/servers", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected access after login, got %d", rr.Code)
	}

	store.Dispatch(session.LogoutSucceeded{})
	rr = httptest.NewRecorder()
	protected.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/servers", nil))
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect after logout, got %d", rr.Code)
	}

	if denied != 3 {
		t.Fatalf("expected 3 denials, got %d", denied)
	}
}

func TestRequireLogin_UnknownClient(t *testing.T) {
	resolver := ResolverFunc(func(*http.Request) (*session.Store, bool) { return nil, false })
	h := RequireLogin(resolver, Options{LoginPath: "/signin"})(http.NotFoundHandler())

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodHead, "/", nil))
	if rr.Code != http.StatusSeeOther || rr.Header().Get("Location") != "/signin?next=%2F" {
		t.Fatalf("expected redirect to /signin, got %d %q", rr.Code, rr.Header().Get("Location"))
	}
}

func testNow() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
