package authapi

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"

	"mcadmin/cmd/internal/auth/pipeline"
	"mcadmin/cmd/internal/auth/session"
	"mcadmin/cmd/internal/guard"
	"mcadmin/cmd/internal/ids"
)

// Authenticator runs the auth-server side of login, revalidation and logout.
// *pipeline.Pipeline implements it.
type Authenticator interface {
	Login(ctx context.Context, creds pipeline.Credentials, d pipeline.Dispatcher) error
	Revalidate(ctx context.Context, token string, d pipeline.Dispatcher) error
	Logout(ctx context.Context, token string, d pipeline.Dispatcher) error
}

var (
	errSuperseded = errors.New("authapi: superseded by a newer request")
	errBusy       = errors.New("authapi: operation in progress")
)

// Handler wires the login endpoints to the client registry and the auth pipeline.
type Handler struct {
	log *slog.Logger
	cfg Config

	registry  *session.Registry
	cookies   *session.ClientCookieCodec
	auth      Authenticator
	throttle  *loginThrottle
	auditPool *pgxpool.Pool
	now       func() time.Time

	revalidations singleflight.Group

	mu      sync.Mutex
	running map[string]*clientOp
}

// clientOp is the pipeline run currently owning a client's store.
type clientOp struct {
	cancel context.CancelFunc
	done   chan struct{}
}

var _ guard.Resolver = (*Handler)(nil)

// HandlerOption configures optional Handler dependencies.
type HandlerOption func(*Handler)

// WithAuditPool appends audit events to mcadmin.audit_log.
func WithAuditPool(pool *pgxpool.Pool) HandlerOption {
	return func(h *Handler) {
		h.auditPool = pool
	}
}

// WithClock overrides the time source used for cookies and throttling.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler builds the auth API handler.
func NewHandler(log *slog.Logger, cfg Config, registry *session.Registry, cookies *session.ClientCookieCodec, auth Authenticator, opts ...HandlerOption) (*Handler, error) {
	if registry == nil || cookies == nil || auth == nil {
		return nil, errors.New("authapi: registry, cookie codec and authenticator are required")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	if cfg.RevalidateTimeout <= 0 {
		cfg.RevalidateTimeout = DefaultConfig().RevalidateTimeout
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = "/"
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		registry: registry,
		cookies:  cookies,
		auth:     auth,
		throttle: newLoginThrottle(cfg),
		now:      func() time.Time { return time.Now().UTC() },
		running:  make(map[string]*clientOp),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.Handle("POST /auth/login", RequireSameOrigin(http.HandlerFunc(h.handleLogin)))
	mux.Handle("POST /auth/logout", RequireSameOrigin(http.HandlerFunc(h.handleLogout)))
	mux.HandleFunc("GET /auth/session", h.handleSession)
	mux.HandleFunc("GET /login", h.handleLoginView)
}

// Resolve returns the caller's store when the request carries a valid client
// cookie. A restored token is revalidated before the store is returned.
func (h *Handler) Resolve(r *http.Request) (*session.Store, bool) {
	id, ok := h.clientIDFromCookie(r, h.now())
	if !ok {
		return nil, false
	}
	st := h.registry.Open(r.Context(), id)
	h.revalidate(r.Context(), id, st)
	return st, true
}

// Sweep drops throttle history that can no longer block a login.
func (h *Handler) Sweep(now time.Time) {
	h.throttle.prune(now)
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, isForm, err := h.readLoginRequest(w, r)
	if err != nil {
		writeError(w, codeInvalidRequest, "invalid request body")
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeError(w, codeInvalidRequest, "username and password are required")
		return
	}

	clientID, st, err := h.openClient(w, r)
	if err != nil {
		h.log.Error("auth.login.client.fail", "err", err)
		writeError(w, codeServerError, "internal error")
		return
	}

	ip := clientIP(r, h.cfg.TrustProxy)
	ipKey := ""
	if ip != nil {
		ipKey = ip.String()
	}
	userKey := strings.ToLower(username)
	entry := auditEntry{ClientID: clientID, Username: username, IP: ip, UA: r.UserAgent()}

	if blocked, retryAfter := h.throttle.check(h.now(), ipKey, userKey); blocked {
		h.auditLoginRateLimited(r.Context(), entry, retryAfter)
		writeRateLimited(w, retryAfter)
		return
	}

	ctx, finish, err := h.startOp(r.Context(), clientID, true)
	if err != nil {
		writeError(w, codeSuperseded, "a newer request replaced this login")
		return
	}
	err = h.auth.Login(ctx, pipeline.Credentials{Username: username, Password: req.Password}, st)
	superseded := ctx.Err() != nil && r.Context().Err() == nil
	finish()

	view := session.ViewOf(st.State())

	if err != nil {
		reason := "transport"
		var fail *pipeline.Failure
		switch {
		case superseded:
			reason = "superseded"
		case errors.As(err, &fail) && fail.Rejected():
			reason = "rejected"
			h.throttle.fail(h.now(), ipKey, userKey)
		}
		h.auditLoginFailed(r.Context(), entry, reason)

		if superseded {
			writeError(w, codeSuperseded, "a newer request replaced this login")
			return
		}
		writeJSON(w, http.StatusUnauthorized, sessionResponse{Session: view})
		return
	}

	h.throttle.succeed(userKey)
	h.auditLoginSuccess(r.Context(), entry)

	if isForm {
		http.Redirect(w, r, guard.SafeNext(req.Next, "/"), http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: view})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	clientID, st, err := h.openClient(w, r)
	if err != nil {
		h.log.Error("auth.logout.client.fail", "err", err)
		writeError(w, codeServerError, "internal error")
		return
	}

	ctx, finish, err := h.startOp(r.Context(), clientID, true)
	if err != nil {
		writeError(w, codeSuperseded, "a newer request replaced this logout")
		return
	}
	before := st.State()
	err = h.auth.Logout(ctx, before.AuthToken, st)
	finish()

	entry := auditEntry{ClientID: clientID, Username: profileUsername(before.Profile), IP: clientIP(r, h.cfg.TrustProxy), UA: r.UserAgent()}
	outcome := "ok"
	if err != nil {
		// The local session is cleared regardless; only the revocation failed.
		outcome = "remote_failed"
		h.log.Warn("auth.logout.remote.fail", "client_id", clientID, "err", err)
	}
	h.auditLogout(r.Context(), entry, outcome)

	writeJSON(w, http.StatusOK, sessionResponse{Session: session.ViewOf(st.State())})
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	clientID, st, err := h.openClient(w, r)
	if err != nil {
		h.log.Error("auth.session.client.fail", "err", err)
		writeError(w, codeServerError, "internal error")
		return
	}
	h.revalidate(r.Context(), clientID, st)
	writeJSON(w, http.StatusOK, sessionResponse{Session: session.ViewOf(st.State())})
}

func (h *Handler) handleLoginView(w http.ResponseWriter, r *http.Request) {
	clientID, st, err := h.openClient(w, r)
	if err != nil {
		h.log.Error("auth.login_view.client.fail", "err", err)
		writeError(w, codeServerError, "internal error")
		return
	}
	h.revalidate(r.Context(), clientID, st)

	writeJSON(w, http.StatusOK, loginViewResponse{
		View:    "login",
		Next:    guard.SafeNext(r.URL.Query().Get("next"), "/"),
		Session: session.ViewOf(st.State()),
	})
}

// ---- helpers ----

// openClient returns the caller's client ID and store, issuing a new client
// cookie when the request has none or an invalid one.
func (h *Handler) openClient(w http.ResponseWriter, r *http.Request) (string, *session.Store, error) {
	now := h.now()
	if id, ok := h.clientIDFromCookie(r, now); ok {
		return id, h.registry.Open(r.Context(), id), nil
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return "", nil, err
	}
	value, exp, err := h.cookies.Encode(id, now)
	if err != nil {
		return "", nil, err
	}
	h.setClientCookie(w, value, exp)
	return id, h.registry.Open(r.Context(), id), nil
}

// startOp makes the caller the owner of clientID's store. With preempt, a
// running operation is cancelled and awaited first; without it, errBusy is
// returned instead. The returned finish func must be called once.
func (h *Handler) startOp(ctx context.Context, clientID string, preempt bool) (context.Context, func(), error) {
	h.mu.Lock()
	prev := h.running[clientID]
	if prev != nil && !preempt {
		h.mu.Unlock()
		return nil, nil, errBusy
	}
	opCtx, cancel := context.WithCancel(ctx)
	op := &clientOp{cancel: cancel, done: make(chan struct{})}
	h.running[clientID] = op
	h.mu.Unlock()

	finish := func() {
		cancel()
		h.mu.Lock()
		if h.running[clientID] == op {
			delete(h.running, clientID)
		}
		h.mu.Unlock()
		close(op.done)
	}

	if prev != nil {
		prev.cancel()
		// Wait even if we are cancelled meanwhile, so the previous run's
		// final event always lands before ours.
		<-prev.done
		if opCtx.Err() != nil {
			finish()
			return nil, nil, errSuperseded
		}
	}
	return opCtx, finish, nil
}

func needsRevalidation(st session.State) bool {
	return st.Meta.Dirty && st.Authenticated() && !st.Meta.InProgress
}

// revalidate confirms a restored token with the identity lookup. Concurrent
// callers for one client share a single lookup; a login or logout in
// flight makes it a no-op.
func (h *Handler) revalidate(ctx context.Context, clientID string, st *session.Store) {
	if !needsRevalidation(st.State()) {
		return
	}

	_, _, _ = h.revalidations.Do(clientID, func() (any, error) {
		cur := st.State()
		if !needsRevalidation(cur) {
			return nil, nil
		}

		base, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.RevalidateTimeout)
		defer cancel()

		opCtx, finish, err := h.startOp(base, clientID, false)
		if err != nil {
			return nil, nil
		}
		defer finish()

		if err := h.auth.Revalidate(opCtx, cur.AuthToken, st); err != nil {
			h.log.Info("auth.revalidate.fail", "client_id", clientID, "err", err)
			return nil, err
		}
		h.log.Debug("auth.revalidate.ok", "client_id", clientID)
		return nil, nil
	})
}

func (h *Handler) readLoginRequest(w http.ResponseWriter, r *http.Request) (loginRequest, bool, error) {
	var req loginRequest

	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mt {
	case "application/json":
		err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req)
		return req, false, err
	case "application/x-www-form-urlencoded":
		r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)
		if err := r.ParseForm(); err != nil {
			return req, true, err
		}
		req.Username = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
		req.Next = r.PostForm.Get("next")
		return req, true, nil
	default:
		return req, false, errors.New("unsupported content type")
	}
}

func profileUsername(profile map[string]any) string {
	for _, k := range []string{"username", "name"} {
		if s, ok := profile[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
