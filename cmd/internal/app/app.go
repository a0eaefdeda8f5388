// Package app wires the mcadmin server runtime: config, logging, HTTP routes
// and the realtime gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	authapi "mcadmin/cmd/internal/auth/api"
	"mcadmin/cmd/internal/auth/pipeline"
	"mcadmin/cmd/internal/auth/session"
	"mcadmin/cmd/internal/dashboard"
	"mcadmin/cmd/internal/guard"
	"mcadmin/cmd/internal/manager"
	"mcadmin/cmd/internal/metrics"
	"mcadmin/cmd/internal/realtime"
	"mcadmin/cmd/security/token"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow backend resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory snapshot mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// poolStore owns the Postgres pool. The Redis client is closed by its
// snapshot store through Registry.Close.
type poolStore struct {
	pool *pgxpool.Pool
}

func (s poolStore) Close(_ context.Context) error {
	s.pool.Close()
	return nil
}

// expiredPurger is implemented by snapshot stores without native expiry.
type expiredPurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// App is the mcadmin runtime: it owns HTTP wiring and the per-client session registry.
type App struct {
	cfg Config
	log Logger

	store     Store
	snapshots session.SnapshotStore
	pool      *pgxpool.Pool
	rdb       *redis.Client

	metrics  *metrics.Metrics
	registry *session.Registry
	auth     *authapi.Handler
	manager  *manager.Client
	ws       *realtime.WSGateway
	dash     *dashboard.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	pipeCfg, err := pipeline.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	mgrCfg, err := manager.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	sealer, sealed, err := NewSealer(cfg)
	if err != nil {
		return nil, err
	}
	if !sealed && cfg.SnapshotBackend() != "memory" {
		log.Warn("security.seal.disabled", "hint", "set MCADMIN_SEAL_PASSPHRASE and MCADMIN_SEAL_SALT to encrypt persisted tokens")
	}

	st, snapshots, pool, rdb, err := newSnapshotStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		snapshots: snapshots,
		pool:      pool,
		rdb:       rdb,
	}

	a.registry = session.NewRegistry(sessCfg, snapshots, token.HasherFromEnv(), sealer, log)
	a.metrics = metrics.New(a.registry.Len)

	pipe, err := pipeline.New(pipeCfg, pipeline.WithObserver(func(op pipeline.Op, outcome string, elapsed time.Duration) {
		a.metrics.ObserveAuth(string(op), outcome, elapsed)
	}))
	if err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}

	cookies, err := session.NewClientCookieCodec(sessCfg)
	if err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	if sessCfg.CookieKeyHex == "" {
		log.Warn("session.cookie.ephemeral_key", "hint", "client cookies will not survive a restart without MCADMIN_CLIENT_COOKIE_KEY_HEX")
	}

	var authOpts []authapi.HandlerOption
	if pool != nil {
		authOpts = append(authOpts, authapi.WithAuditPool(pool))
	}
	a.auth, err = authapi.NewHandler(log, authapi.LoadConfigFromEnv(), a.registry, cookies, pipe, authOpts...)
	if err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}

	a.manager, err = manager.NewClient(mgrCfg, manager.WithObserver(a.metrics.ObserveRPC))
	if err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}

	hub := realtime.NewHub(log)
	a.ws = realtime.NewWSGateway(log, hub, a.auth, realtime.LoadGatewayConfigFromEnv(),
		realtime.WithConnHooks(a.metrics.WSConnected, a.metrics.WSDisconnected))

	a.dash = dashboard.NewHandler(log, a.manager, hub, a.protect)

	log.Info("app.wired",
		"snapshots", cfg.SnapshotBackend(),
		"sealed", sealed,
		"auth_login_url", pipeCfg.LoginURL,
		"manager_addr", mgrCfg.Addr,
	)
	return a, nil
}

// protect guards dashboard routes: login required, same-origin for writes.
func (a *App) protect(next http.Handler) http.Handler {
	requireLogin := guard.RequireLogin(a.auth, guard.Options{
		OnDeny: func(r *http.Request, d guard.Decision) {
			kind := "api"
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				kind = "navigation"
			}
			a.metrics.GuardDenied(kind)
			a.log.Debug("guard.deny", "path", r.URL.Path, "kind", kind, "location", d.Location)
		},
	})
	return authapi.RequireSameOrigin(requireLogin(next))
}

// Handler returns the full middleware-wrapped route tree.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a)

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	return WithRequestLogging(h, a.log, a.metrics.HTTPRequest)
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 45*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "snapshots", a.cfg.SnapshotBackend())

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.sweepLoop(sweepCtx, nonZeroDuration(a.cfg.SweepEvery, time.Minute))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		_ = a.Close(context.Background())
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

// Close releases the snapshot store and backend connections.
func (a *App) Close(ctx context.Context) error {
	err := a.registry.Close()
	if cerr := a.store.Close(ctx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// sweepLoop evicts idle client stores, prunes login throttle history and
// purges expired snapshots.
func (a *App) sweepLoop(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			a.sweep(ctx, now.UTC())
		}
	}
}

func (a *App) sweep(ctx context.Context, now time.Time) {
	evicted := a.registry.Sweep(now)
	a.auth.Sweep(now)

	var purged int64
	if p, ok := a.snapshots.(expiredPurger); ok {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		n, err := p.PurgeExpired(pctx, now)
		cancel()
		if err != nil {
			a.log.Warn("session.snapshot.purge_fail", "err", err)
		}
		purged = n
	}

	if evicted > 0 || purged > 0 {
		a.log.Debug("session.sweep", "evicted", evicted, "purged", purged, "live", a.registry.Len())
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newSnapshotStore picks Postgres, then Redis, then the in-memory store.
func newSnapshotStore(ctx context.Context, cfg Config, log Logger) (Store, session.SnapshotStore, *pgxpool.Pool, *redis.Client, error) {
	switch cfg.SnapshotBackend() {
	case "postgres":
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		log.Info("db.enabled.postgres_snapshots")
		// Ownership: the app closes the pool; PostgresSnapshotStore.Close is a no-op.
		return poolStore{pool: pool}, session.NewPostgresSnapshotStore(pool), pool, nil, nil

	case "redis":
		rdb, err := NewRedisClient(ctx, cfg)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		log.Info("redis.enabled.snapshots", "addr", cfg.RedisAddr)
		return nopStore{}, session.NewRedisSnapshotStore(rdb, cfg.RedisKeyPrefix), nil, rdb, nil

	default:
		log.Info("db.disabled.inmemory_snapshots")
		return nopStore{}, session.NewMemorySnapshotStore(), nil, nil, nil
	}
}
