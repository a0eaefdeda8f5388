package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"mcadmin/cmd/internal/auth/session"
	"mcadmin/cmd/internal/guard"
	"mcadmin/cmd/internal/layout"
	"mcadmin/cmd/internal/manager"
	v1 "mcadmin/shared/contracts/realtime/v1"
)

// Controller is the management surface used by the dashboard.
// *manager.Client implements it.
type Controller interface {
	ListServers(ctx context.Context) ([]manager.Server, error)
	CreateServer(ctx context.Context, serverID, version string) (string, error)
	Start(ctx context.Context, serverID string) (string, error)
	Stop(ctx context.Context, serverID string) (string, error)
	Restart(ctx context.Context, serverID string) (string, error)
	StartAll(ctx context.Context) (string, error)
	StopAll(ctx context.Context) (string, error)
	RestartAll(ctx context.Context) (string, error)
}

// Notifier receives control outcomes for realtime fan-out.
type Notifier interface {
	PublishServerUpdate(p v1.ServerUpdatePayload)
}

// Handler serves the dashboard routes. Every route sits behind the guard.
type Handler struct {
	log      *slog.Logger
	ctrl     Controller
	notifier Notifier
	protect  func(http.Handler) http.Handler
	timeout  time.Duration
}

// NewHandler wires the dashboard. protect is the route guard middleware;
// notifier may be nil.
func NewHandler(log *slog.Logger, ctrl Controller, notifier Notifier, protect func(http.Handler) http.Handler) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if protect == nil {
		protect = func(h http.Handler) http.Handler { return h }
	}
	return &Handler{
		log:      log,
		ctrl:     ctrl,
		notifier: notifier,
		protect:  protect,
		timeout:  30 * time.Second,
	}
}

// Register mounts the dashboard routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /{$}", h.protect(http.HandlerFunc(h.handleDashboard)))
	mux.Handle("GET /servers", h.protect(http.HandlerFunc(h.handleDashboard)))
	mux.Handle("GET /api/servers", h.protect(http.HandlerFunc(h.handleList)))
	mux.Handle("POST /api/servers", h.protect(http.HandlerFunc(h.handleCreate)))
	mux.Handle("POST /api/servers/{id}/{action}", h.protect(http.HandlerFunc(h.handleAction)))
}

type dashboardView struct {
	View    string       `json:"view"`
	Session session.View `json:"session"`
	Layout  layout.Grid  `json:"layout"`
	Servers []Card       `json:"servers"`
	Error   *apiError    `json:"error,omitempty"`
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	view := dashboardView{
		View:    "dashboard",
		Layout:  layout.GridFor(layout.FromRequest(r)),
		Servers: []Card{},
	}
	if st, ok := guard.StoreFromContext(r.Context()); ok {
		view.Session = session.ViewOf(st.State())
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	servers, err := h.ctrl.ListServers(ctx)
	if err != nil {
		// The view still renders; the card grid shows the failure.
		h.log.Warn("dashboard.list.fail", "err", err)
		view.Error = &apiError{Code: "manager_unavailable", Message: "server list unavailable"}
	} else {
		view.Servers = Cards(servers)
	}

	w.Header().Set("Vary", "Sec-CH-Viewport-Width, Viewport-Width")
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	servers, err := h.ctrl.ListServers(ctx)
	if err != nil {
		h.log.Warn("dashboard.list.fail", "err", err)
		h.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": Cards(servers)})
}

type actionResponse struct {
	ServerID string `json:"server_id"`
	Action   Action `json:"action"`
	Message  string `json:"message"`
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	action, ok := ParseAction(r.PathValue("action"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_action", "action must be start, stop or restart")
		return
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_server", "server id required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	msg, err := h.run(ctx, id, action)
	h.publish(string(action), id, msg, err)

	if err != nil {
		h.log.Warn("server."+string(action)+".fail", "server_id", id, "err", err)
		h.writeManagerError(w, err)
		return
	}

	h.log.Info("server."+string(action), "server_id", id, "message", msg)
	writeJSON(w, http.StatusOK, actionResponse{ServerID: id, Action: action, Message: msg})
}

type createRequest struct {
	ServerID string `json:"server_id"`
	Version  string `json:"version,omitempty"`
}

// handleCreate asks the manager to create a server. An empty version means
// the latest release.
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "expected JSON {server_id, version}")
		return
	}
	id := strings.TrimSpace(req.ServerID)
	if !validServerID(id) {
		writeError(w, http.StatusBadRequest, "invalid_server", "server id must be a plain name")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	msg, err := h.ctrl.CreateServer(ctx, id, strings.TrimSpace(req.Version))
	h.publish("create", id, msg, err)
	if err != nil {
		h.log.Warn("server.create.fail", "server_id", id, "err", err)
		h.writeManagerError(w, err)
		return
	}

	h.log.Info("server.create", "server_id", id, "version", req.Version)
	writeJSON(w, http.StatusCreated, actionResponse{ServerID: id, Action: "create", Message: msg})
}

func validServerID(id string) bool {
	if id == "" || id == AllServers || len(id) > 64 {
		return false
	}
	return !strings.ContainsAny(id, "/\\ \t\r\n")
}

func (h *Handler) publish(action, id, msg string, err error) {
	if h.notifier == nil {
		return
	}
	p := v1.ServerUpdatePayload{Action: action, ServerID: id, OK: err == nil, Message: msg}
	if err != nil {
		_, _, p.Message = managerFailure(err)
	}
	h.notifier.PublishServerUpdate(p)
}

func (h *Handler) run(ctx context.Context, id string, action Action) (string, error) {
	if id == AllServers {
		switch action {
		case ActionStart:
			return h.ctrl.StartAll(ctx)
		case ActionStop:
			return h.ctrl.StopAll(ctx)
		default:
			return h.ctrl.RestartAll(ctx)
		}
	}

	switch action {
	case ActionStart:
		return h.ctrl.Start(ctx, id)
	case ActionStop:
		return h.ctrl.Stop(ctx, id)
	default:
		return h.ctrl.Restart(ctx, id)
	}
}

func (h *Handler) writeManagerError(w http.ResponseWriter, err error) {
	status, code, msg := managerFailure(err)
	writeError(w, status, code, msg)
}

// managerFailure maps a controller error to what browsers may see. Transport
// detail such as the manager address stays in the logs.
func managerFailure(err error) (status int, code, msg string) {
	var rpcErr *manager.RPCError
	if errors.As(err, &rpcErr) {
		return http.StatusBadGateway, "manager_error", rpcErr.Message
	}
	return http.StatusServiceUnavailable, "manager_unavailable", "management process unreachable"
}
