package v1

import "time"

// HelloPayload is sent by the client to greet the server.
type HelloPayload struct{}

// HelloAckPayload carries the server-assigned connection id.
type HelloAckPayload struct {
	ConnectionID string `json:"connection_id"`
}

// SessionError mirrors the session failure detail.
type SessionError struct {
	Kind    string `json:"kind"`
	Status  int    `json:"status,omitempty"`
	Body    string `json:"body,omitempty"`
	Message string `json:"message,omitempty"`
}

// SessionStatePayload is the browser-visible session view. The auth token
// itself never leaves the server; Authenticated reports its presence.
type SessionStatePayload struct {
	Event         string         `json:"event,omitempty"`
	Dirty         bool           `json:"dirty"`
	InProgress    bool           `json:"in_progress"`
	LastUpdated   *time.Time     `json:"last_updated"`
	Error         *SessionError  `json:"error"`
	Authenticated bool           `json:"authenticated"`
	Profile       map[string]any `json:"profile,omitempty"`
}

// ServerUpdatePayload announces a control action on one server or on all
// servers (ServerID "_all").
type ServerUpdatePayload struct {
	Action   string `json:"action"`
	ServerID string `json:"server_id"`
	OK       bool   `json:"ok"`
	Message  string `json:"message,omitempty"`
}

// ViewportPayload reports the client viewport width in CSS pixels.
type ViewportPayload struct {
	Width int `json:"width"`
}

// LayoutPayload is the grid selected for the reported viewport.
type LayoutPayload struct {
	Size      string `json:"size"`
	Columns   int    `json:"columns"`
	DockedNav bool   `json:"docked_nav"`
	Changed   bool   `json:"changed"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
