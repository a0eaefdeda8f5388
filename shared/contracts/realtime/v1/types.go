// Package v1 defines the mcadmin realtime protocol v1 contract.
//
// It is shared by the server and the smoke tool and depends only on the
// standard library.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the WebSocket handshake.
const Subprotocol = "mcadmin.realtime.v1"

// Type constants (wire-stable).
const (
	// TypeHello is an optional client greeting (client -> server).
	TypeHello = "hello"
	// TypeHelloAck answers hello with the connection id (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeSessionState carries the caller's session view (server -> client).
	// It is sent on connect and after every session transition.
	TypeSessionState = "session_state"

	// TypeServerUpdate announces a server control action (server -> all clients).
	TypeServerUpdate = "server_update"

	// TypeViewport reports the client viewport width (client -> server).
	TypeViewport = "viewport"
	// TypeLayout answers viewport with the resulting size class (server -> client).
	TypeLayout = "layout"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeSessionState,
		TypeServerUpdate,
		TypeViewport,
		TypeLayout,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ClientSent reports whether clients may send envelopes of type t.
func ClientSent(t string) bool {
	return t == TypeHello || t == TypeViewport
}
