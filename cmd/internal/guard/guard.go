// Package guard gates protected routes on the caller's session state.
package guard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"mcadmin/cmd/internal/auth/session"
)

// DefaultLoginPath is where unauthenticated navigations are sent.
const DefaultLoginPath = "/login"

// Outcome of a guard evaluation.
type Outcome int

const (
	Allow Outcome = iota
	Redirect
)

// Decision is the result of Evaluate.
type Decision struct {
	Outcome  Outcome
	Location string // set for Redirect
}

// Evaluate decides whether state may view target. A state without an auth
// token is redirected to loginPath with the requested path in "next".
// It reads nothing but its arguments.
func Evaluate(state session.State, target *url.URL, loginPath string) Decision {
	if state.Authenticated() {
		return Decision{Outcome: Allow}
	}
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}

	next := "/"
	if target != nil {
		next = target.RequestURI()
	}
	if next == "" || next == loginPath {
		return Decision{Outcome: Redirect, Location: loginPath}
	}

	q := url.Values{"next": []string{next}}
	return Decision{Outcome: Redirect, Location: loginPath + "?" + q.Encode()}
}

// SafeNext returns next when it is a same-origin relative path, else fallback.
func SafeNext(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return fallback
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	for _, r := range next {
		if r < 0x20 || r == 0x7f {
			return fallback
		}
	}
	return next
}

// Resolver finds the caller's session store. ok=false means the request
// carries no known client.
type Resolver interface {
	Resolve(r *http.Request) (store *session.Store, ok bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(r *http.Request) (*session.Store, bool)

func (f ResolverFunc) Resolve(r *http.Request) (*session.Store, bool) { return f(r) }

// Options configures RequireLogin.
type Options struct {
	LoginPath string
	// OnDeny is called for every denied request (metrics).
	OnDeny func(r *http.Request, d Decision)
}

type storeContextKey struct{}

// StoreFromContext returns the store attached by RequireLogin.
func StoreFromContext(ctx context.Context) (*session.Store, bool) {
	s, ok := ctx.Value(storeContextKey{}).(*session.Store)
	return s, ok && s != nil
}

// RequireLogin wraps protected handlers. The caller's store is resolved and
// evaluated on every request. Denied GET/HEAD navigations get 303 to the
// login view; other methods get 401 JSON.
func RequireLogin(resolver Resolver, opts Options) func(http.Handler) http.Handler {
	loginPath := opts.LoginPath
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := session.Initial()
			store, ok := resolver.Resolve(r)
			if ok && store != nil {
				state = store.State()
			}

			d := Evaluate(state, r.URL, loginPath)
			if d.Outcome == Allow {
				ctx := context.WithValue(r.Context(), storeContextKey{}, store)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if opts.OnDeny != nil {
				opts.OnDeny(r, d)
			}

			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				w.Header().Set("Cache-Control", "no-store")
				http.Redirect(w, r, d.Location, http.StatusSeeOther)
				return
			}

			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Cache-Control", "no-store")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{"code": "unauthorized", "message": "login required"},
				"login": d.Location,
			})
		})
	}
}
