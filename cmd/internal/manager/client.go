package manager

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
)

const jsonRPCVersion = "2.0"

type request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
	ID      json.RawMessage `json:"id"`
}

// Observer is notified once per call with its method and outcome
// ("ok", "rpc_error" or "transport").
type Observer func(method, outcome string, elapsed time.Duration)

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the TCP dialer.
func WithDialer(d func(ctx context.Context, network, addr string) (net.Conn, error)) Option {
	return func(c *Client) {
		if d != nil {
			c.dial = d
		}
	}
}

// WithObserver installs a per-call hook (metrics).
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observe = o }
}

// Client calls the management process. It holds no connection between calls
// and is safe for concurrent use.
type Client struct {
	cfg     Config
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
	observe Observer
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &net.Dialer{Timeout: cfg.DialTimeout}
	c := &Client{cfg: cfg, dial: d.DialContext}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Call invokes method with params and decodes the result into out (which may be nil).
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	start := time.Now()
	err := c.call(ctx, method, params, out)

	if c.observe != nil {
		outcome := "ok"
		var rpcErr *RPCError
		switch {
		case errors.As(err, &rpcErr):
			outcome = "rpc_error"
		case err != nil:
			outcome = "transport"
		}
		c.observe(method, outcome, time.Since(start))
	}
	return err
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	method = strings.TrimSpace(method)
	if method == "" {
		return fmt.Errorf("%w: empty method", ErrInvalidResponse)
	}
	if strings.HasPrefix(method, "rpc.") {
		return ErrReservedMethod
	}

	id := uuid.NewString()
	payload, err := json.Marshal(request{JSONRPC: jsonRPCVersion, Method: method, Params: params, ID: id})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	conn, err := c.dial(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("dial manager: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("write request: %w", ctxErr(ctx, err))
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil {
			return fmt.Errorf("half-close: %w", err)
		}
	}

	line, err := readLine(conn, c.cfg.MaxLineBytes)
	if err != nil {
		return fmt.Errorf("read response: %w", ctxErr(ctx, err))
	}

	return decodeResponse(line, id, out)
}

func readLine(r io.Reader, max int) ([]byte, error) {
	br := bufio.NewReaderSize(r, 4096)
	var buf bytes.Buffer
	for {
		chunk, err := br.ReadSlice('\n')
		buf.Write(chunk)
		if buf.Len() > max {
			return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrInvalidResponse, max)
		}
		switch {
		case err == nil:
			return buf.Bytes(), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if buf.Len() == 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return buf.Bytes(), nil
		default:
			return nil, err
		}
	}
}

func decodeResponse(line []byte, id string, out any) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	_, hasResult := raw["result"]
	_, hasError := raw["error"]
	if hasResult == hasError {
		return fmt.Errorf("%w: exactly one of result and error is required", ErrInvalidResponse)
	}

	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if resp.JSONRPC != jsonRPCVersion {
		return fmt.Errorf("%w: jsonrpc version %q", ErrInvalidResponse, resp.JSONRPC)
	}

	if hasError {
		if resp.Error == nil {
			return fmt.Errorf("%w: null error object", ErrInvalidResponse)
		}
		// Parse errors may legitimately come back with a null id.
		if !idMatches(resp.ID, id) && !isNullID(resp.ID) {
			return ErrIDMismatch
		}
		return resp.Error
	}

	if !idMatches(resp.ID, id) {
		return ErrIDMismatch
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%w: result: %v", ErrInvalidResponse, err)
	}
	return nil
}

func idMatches(raw json.RawMessage, id string) bool {
	var got string
	if err := json.Unmarshal(raw, &got); err != nil {
		return false
	}
	return got == id
}

func isNullID(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}
