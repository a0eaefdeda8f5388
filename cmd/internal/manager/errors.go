package manager

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is returned for invalid client configuration.
	ErrConfig = errors.New("invalid manager config")

	// ErrReservedMethod is returned for method names starting with "rpc.".
	ErrReservedMethod = errors.New("reserved rpc method name")

	// ErrInvalidResponse is returned when the response violates JSON-RPC 2.0.
	ErrInvalidResponse = errors.New("invalid rpc response")

	// ErrIDMismatch is returned when the response id differs from the request id.
	ErrIDMismatch = errors.New("rpc response id mismatch")
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

// RPCError is an error object returned by the management process.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NotFound reports whether the method is unknown to the server.
func (e *RPCError) NotFound() bool { return e.Code == CodeMethodNotFound }
