package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// StatusRunning is the status the management process reports for a live server.
const StatusRunning = "Running"

// Players is the online/max player count of a server.
type Players struct {
	Online int `json:"online"`
	Max    int `json:"max"`
}

// Server is one entry of list_servers.
type Server struct {
	ID      string  `json:"server_id"`
	Status  string  `json:"status,omitempty"`
	Players Players `json:"players"`
}

// Running reports whether the server is up.
func (s Server) Running() bool { return strings.EqualFold(s.Status, StatusRunning) }

// UnmarshalJSON accepts either a bare server ID string or an object.
func (s *Server) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*s = Server{ID: id}
		return nil
	}

	type plain Server
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.ID == "" {
		return fmt.Errorf("%w: server entry without server_id", ErrInvalidResponse)
	}
	*s = Server(p)
	return nil
}

type serverParams struct {
	ServerID string `json:"server_id"`
	Version  string `json:"version,omitempty"`
}

// ListServers returns the servers known to the management process.
func (c *Client) ListServers(ctx context.Context) ([]Server, error) {
	var out []Server
	if err := c.Call(ctx, "list_servers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateServer asks the management process to create serverID. An empty
// version lets the manager pick the latest release.
func (c *Client) CreateServer(ctx context.Context, serverID, version string) (string, error) {
	return c.callMessage(ctx, "server_create", serverParams{ServerID: serverID, Version: version})
}

// Start starts one server.
func (c *Client) Start(ctx context.Context, serverID string) (string, error) {
	return c.callMessage(ctx, "server_start", serverParams{ServerID: serverID})
}

// Stop stops one server.
func (c *Client) Stop(ctx context.Context, serverID string) (string, error) {
	return c.callMessage(ctx, "server_stop", serverParams{ServerID: serverID})
}

// Restart restarts one server.
func (c *Client) Restart(ctx context.Context, serverID string) (string, error) {
	return c.callMessage(ctx, "server_restart", serverParams{ServerID: serverID})
}

// StartAll starts every server.
func (c *Client) StartAll(ctx context.Context) (string, error) {
	return c.callMessage(ctx, "server_start_all", nil)
}

// StopAll stops every server.
func (c *Client) StopAll(ctx context.Context) (string, error) {
	return c.callMessage(ctx, "server_stop_all", nil)
}

// RestartAll restarts every server.
func (c *Client) RestartAll(ctx context.Context) (string, error) {
	return c.callMessage(ctx, "server_restart_all", nil)
}

// Shutdown asks the management process to exit.
func (c *Client) Shutdown(ctx context.Context) (string, error) {
	return c.callMessage(ctx, "shutdown", nil)
}

// callMessage runs a control method. Results are usually a status string;
// anything else is returned as its JSON text.
func (c *Client) callMessage(ctx context.Context, method string, params any) (string, error) {
	if p, ok := params.(serverParams); ok && strings.TrimSpace(p.ServerID) == "" {
		return "", fmt.Errorf("%s: empty server id", method)
	}

	var raw json.RawMessage
	if err := c.Call(ctx, method, params, &raw); err != nil {
		return "", err
	}

	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		return msg, nil
	}
	if string(raw) == "null" {
		return "", nil
	}
	return string(raw), nil
}
