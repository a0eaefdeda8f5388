package authapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	auditLoginSuccess     = "auth.login.success"
	auditLoginFailed      = "auth.login.failed"
	auditLoginRateLimited = "auth.login.rate_limited"
	auditLogout           = "auth.logout"
)

type auditEntry struct {
	Action   string
	ClientID string
	Username string
	IP       net.IP
	UA       string
	Meta     map[string]any
}

func (h *Handler) auditLoginSuccess(ctx context.Context, e auditEntry) {
	e.Action = auditLoginSuccess
	h.audit(ctx, slog.LevelInfo, e)
}

func (h *Handler) auditLoginFailed(ctx context.Context, e auditEntry, reason string) {
	e.Action = auditLoginFailed
	e.Meta = map[string]any{"reason": reason}
	h.audit(ctx, slog.LevelWarn, e)
}

func (h *Handler) auditLoginRateLimited(ctx context.Context, e auditEntry, retryAfter time.Duration) {
	e.Action = auditLoginRateLimited
	e.Meta = map[string]any{"retry_after_s": int64(retryAfter.Seconds())}
	h.audit(ctx, slog.LevelWarn, e)
}

func (h *Handler) auditLogout(ctx context.Context, e auditEntry, outcome string) {
	e.Action = auditLogout
	e.Meta = map[string]any{"outcome": outcome}
	h.audit(ctx, slog.LevelInfo, e)
}

// audit logs the event and, with a pool configured, appends it to
// mcadmin.audit_log. Insert failures are logged and never fail the request.
func (h *Handler) audit(ctx context.Context, level slog.Level, e auditEntry) {
	attrs := []any{"client_id", e.ClientID}
	if e.Username != "" {
		attrs = append(attrs, "username", e.Username)
	}
	if e.IP != nil {
		attrs = append(attrs, "ip", e.IP.String())
	}
	for k, v := range e.Meta {
		attrs = append(attrs, k, v)
	}
	h.log.Log(ctx, level, e.Action, attrs...)

	insertAudit(context.WithoutCancel(ctx), h.auditPool, h.log, e)
}

func insertAudit(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger, e auditEntry) {
	if pool == nil || strings.TrimSpace(e.Action) == "" {
		return
	}

	var ipVal any
	if e.IP != nil {
		ipVal = e.IP.String()
	}

	var metaVal *string
	if len(e.Meta) > 0 {
		if b, err := json.Marshal(e.Meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := pool.Exec(ctx, `
		INSERT INTO mcadmin.audit_log (
			action, client_id, username, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, now(), $4, $5, $6::jsonb)
	`, e.Action, trimOrNil(e.ClientID), trimOrNil(e.Username), ipVal, trimOrNil(e.UA), metaVal)
	if err != nil {
		log.Error("auth.audit.insert.fail", "err", err, "action", e.Action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
