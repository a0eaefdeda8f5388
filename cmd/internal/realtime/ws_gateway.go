package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"mcadmin/cmd/internal/auth/session"
	"mcadmin/cmd/internal/guard"
	"mcadmin/cmd/internal/layout"
	v1 "mcadmin/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	wsCloseGrace      = 1 * time.Second
	wsMaxPingFailures = 3
)

// GatewayOption configures a WSGateway.
type GatewayOption func(*WSGateway)

// WithConnHooks installs callbacks for accepted and finished connections (metrics).
func WithConnHooks(onOpen, onClose func()) GatewayOption {
	return func(g *WSGateway) {
		g.onOpen = onOpen
		g.onClose = onClose
	}
}

// WSGateway is the WebSocket entrypoint for dashboard push.
//
// It enforces origin policy, cookie authentication, subprotocol selection,
// rate limits and heartbeats. Each connection mirrors its client's session
// store and receives hub broadcasts while authenticated.
type WSGateway struct {
	log      *slog.Logger
	hub      *Hub
	resolver guard.Resolver
	cfg      GatewayConfig

	// Derived for websocket.Accept, which authorizes cross-origin hosts only
	// through OriginPatterns.
	originPatterns []string

	onOpen  func()
	onClose func()
}

// NewWSGateway constructs a gateway. A nil hub creates a private one.
func NewWSGateway(log *slog.Logger, hub *Hub, resolver guard.Resolver, cfg GatewayConfig, opts ...GatewayOption) *WSGateway {
	if log == nil {
		log = slog.Default()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	if cfg.SendQueueSize < wsMinSendQueueSize {
		cfg.SendQueueSize = wsMinSendQueueSize
	}

	g := &WSGateway{
		log:            log,
		hub:            hub,
		resolver:       resolver,
		cfg:            cfg,
		originPatterns: deriveOriginPatternsFromAllowedOrigins(cfg.AllowedOrigins),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Hub returns the gateway hub.
func (g *WSGateway) Hub() *Hub { return g.hub }

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS authenticates the caller, upgrades to a WebSocket and runs the loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var store *session.Store
	if g.resolver != nil {
		if s, ok := g.resolver.Resolve(r); ok {
			store = s
		}
	}
	if store == nil || !store.State().Authenticated() {
		g.log.Info("ws.reject.unauthenticated", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	now := time.Now().UTC()
	connID, err := NewConnectionID(now)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "id")
		return
	}

	if g.onOpen != nil {
		g.onOpen()
	}
	if g.onClose != nil {
		defer g.onClose()
	}

	client := NewClient(connID, g.cfg.SendQueueSize, func() bool { return store.State().Authenticated() })
	g.hub.Register(client)

	tracker := layout.NewTracker(layout.LargeMinWidth)
	if width, ok := layout.WidthFromRequest(r); ok {
		tracker.Resize(width)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Unregister(connID)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	// Initial state first, then every transition in dispatch order.
	client.Offer(sessionStateEnvelope("", store.State()))
	unsubscribe := store.Subscribe(func(ev session.Event, st session.State) {
		if !client.Offer(sessionStateEnvelope(string(ev.Type()), st)) {
			g.log.Info("ws.session_state.drop", "conn_id", connID, "event", ev.Type())
		}
	})
	defer unsubscribe()

	g.log.Info("ws.connect", "conn_id", connID, "size", tracker.CurrentSize().String())

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "conn_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "conn_id", connID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "conn_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !rl.Allow(time.Now().UTC()) {
			g.trySendError(client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(client, "bad_envelope", err.Error())
			continue readLoop
		}
		if !v1.ClientSent(env.Type) {
			g.trySendError(client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			g.onHello(client)
		case v1.TypeViewport:
			if err := g.onViewport(client, tracker, env); err != nil {
				g.trySendError(client, "bad_viewport", err.Error())
			}
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handlers ----

func (g *WSGateway) onHello(client *Client) {
	p, _ := json.Marshal(v1.HelloAckPayload{ConnectionID: client.ConnID})
	client.Offer(newEnvelope(v1.TypeHelloAck, p, time.Now().UTC()))
}

func (g *WSGateway) onViewport(client *Client, tracker *layout.Tracker, env v1.Envelope) error {
	var p v1.ViewportPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if p.Width <= 0 {
		return errors.New("width must be positive")
	}
	if p.Width > maxViewportWidth {
		p.Width = maxViewportWidth
	}

	size, changed := tracker.Resize(p.Width)
	grid := layout.GridFor(size)

	out, _ := json.Marshal(v1.LayoutPayload{
		Size:      size.String(),
		Columns:   grid.Columns,
		DockedNav: grid.DockedNav,
		Changed:   changed,
	})
	if !client.Offer(newEnvelope(v1.TypeLayout, out, time.Now().UTC())) {
		return errors.New("backpressure: layout")
	}
	return nil
}

func (g *WSGateway) trySendError(client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	_ = client.Offer(newEnvelope(v1.TypeError, p, time.Now().UTC()))
}

// ---- envelopes ----

func sessionStateEnvelope(event string, st session.State) v1.Envelope {
	p := v1.SessionStatePayload{
		Event:         event,
		Dirty:         st.Meta.Dirty,
		InProgress:    st.Meta.InProgress,
		LastUpdated:   st.Meta.LastUpdated,
		Authenticated: st.Authenticated(),
		Profile:       st.Profile,
	}
	if e := st.Meta.Error; e != nil {
		p.Error = &v1.SessionError{Kind: string(e.Kind), Status: e.Status, Body: e.Body, Message: e.Message}
	}
	raw, _ := json.Marshal(p)
	return newEnvelope(v1.TypeSessionState, raw, time.Now().UTC())
}

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewEnvelopeID(ts),
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, errBadJSON
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

var errBadJSON = errors.New("invalid json frame")

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if errors.Is(err, errBadJSON) {
		return readErrBadJSON
	}
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)
	for _, a := range g.cfg.AllowedOrigins {
		if a == "*" {
			return nil
		}
		if origin == a {
			return nil
		}
		// Host match ignores port and scheme.
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}
