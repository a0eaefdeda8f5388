// Package main provides a CI-friendly WebSocket smoke test for mcadmin realtime.
//
// It validates:
//   - cookie login through POST /auth/login
//   - handshake + subprotocol selection
//   - initial session_state for an authenticated client
//   - hello/hello_ack
//   - viewport -> layout
//   - optional server action fanout as server_update
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "mcadmin/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	conn   *websocket.Conn
	connID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		baseURL  = flag.String("base", "http://127.0.0.1:8080", "mcadmin base URL")
		username = flag.String("user", "", "Username for the auth server")
		password = flag.String("pass", "", "Password for the auth server")
		width    = flag.Int("width", 800, "Viewport width to report")
		serverID = flag.String("server", "", "Server ID to restart (empty skips the action check)")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	base, err := validateBaseURL(*baseURL)
	if err != nil {
		fatalf("invalid -base: %v", err)
	}
	if *username == "" || *password == "" {
		fatalf("-user and -pass are required")
	}

	root := context.Background()
	origin := base.Scheme + "://" + base.Host

	jar, err := cookiejar.New(nil)
	if err != nil {
		fatalf("cookiejar: %v", err)
	}
	httpClient := &http.Client{Jar: jar, Timeout: *timeout}

	mustLogin(root, httpClient, base, origin, *username, *password)

	c := mustConnect(root, httpClient, base, origin, *timeout)
	defer closeWS(c.conn)

	if *verbose {
		fmt.Printf("connected: conn_id=%s origin=%q\n", c.connID, origin)
	}

	size := mustViewport(root, c, *width, *timeout)

	if *serverID != "" {
		mustRestart(root, httpClient, base, origin, *serverID)
		mustAssertUpdate(root, c, *serverID, "restart", *timeout)
	}

	fmt.Printf("OK: conn_id=%s layout=%s\n", c.connID, size)
}

func validateBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func wsURL(base *url.URL) string {
	u := *base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	return u.String()
}

func mustLogin(ctx context.Context, c *http.Client, base *url.URL, origin, username, password string) {
	body := mustJSON(map[string]string{"username": username, "password": password})
	res := mustPost(ctx, c, base.JoinPath("/auth/login").String(), origin, body)
	if res.StatusCode != http.StatusOK {
		fatalf("login: status=%d body=%s", res.StatusCode, readBody(res))
	}
	_ = res.Body.Close()
}

func mustRestart(ctx context.Context, c *http.Client, base *url.URL, origin, serverID string) {
	res := mustPost(ctx, c, base.JoinPath("/api/servers", serverID, "restart").String(), origin, nil)
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusBadGateway {
		fatalf("restart %s: status=%d body=%s", serverID, res.StatusCode, readBody(res))
	}
	_ = res.Body.Close()
}

func mustPost(ctx context.Context, c *http.Client, target, origin string, body []byte) *http.Response {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		fatalf("request %s: %v", target, err)
	}
	req.Header.Set("Origin", origin)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.Do(req)
	if err != nil {
		fatalf("POST %s: %v", target, err)
	}
	return res
}

func mustConnect(parent context.Context, httpClient *http.Client, base *url.URL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	h.Set("Origin", origin)

	conn, resp, err := websocket.Dial(ctx, wsURL(base), &websocket.DialOptions{
		HTTPClient:   httpClient,
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}

	assertSubprotocol(resp, v1.Subprotocol)
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	state := c.mustReadUntilType(parent, v1.TypeSessionState, stepTimeout, nil)
	var sp v1.SessionStatePayload
	if err := json.Unmarshal(state.Payload, &sp); err != nil {
		fatalf("unmarshal session_state payload: %v", err)
	}
	if !sp.Authenticated {
		fatalf("session_state: expected an authenticated session")
	}

	mustWriteWithTimeout(parent, conn, v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeHello,
		ID:      "smoke-hello",
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.HelloPayload{}),
	}, stepTimeout)

	skip := map[string]struct{}{v1.TypeSessionState: {}}
	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, skip)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload: %v", err)
	}
	if strings.TrimSpace(p.ConnectionID) == "" {
		fatalf("hello_ack missing connection_id")
	}
	c.connID = p.ConnectionID

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err == nil {
				err = env.Validate()
			}
			if err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustViewport(parent context.Context, c *smokeClient, width int, stepTimeout time.Duration) string {
	mustWriteWithTimeout(parent, c.conn, v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeViewport,
		ID:      "smoke-viewport",
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.ViewportPayload{Width: width}),
	}, stepTimeout)

	skip := map[string]struct{}{v1.TypeSessionState: {}}
	env := c.mustReadUntilType(parent, v1.TypeLayout, stepTimeout, skip)

	var p v1.LayoutPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal layout payload: %v", err)
	}
	if p.Size == "" || p.Columns <= 0 {
		fatalf("layout: invalid payload %+v", p)
	}
	return p.Size
}

func mustAssertUpdate(parent context.Context, c *smokeClient, serverID, action string, stepTimeout time.Duration) {
	skip := map[string]struct{}{v1.TypeSessionState: {}}
	env := c.mustReadUntilType(parent, v1.TypeServerUpdate, stepTimeout, skip)

	var p v1.ServerUpdatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal server_update payload: %v", err)
	}
	if p.ServerID != serverID || p.Action != action {
		fatalf("server_update mismatch: got=%s/%s want=%s/%s", p.ServerID, p.Action, serverID, action)
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q: %v", wantType, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q: %v", wantType, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q", wantType)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error: code=%q msg=%q", ep.Code, ep.Message)
			}
			if _, ok := skipTypes[env.Type]; ok {
				continue
			}
			fatalf("unexpected envelope type: got=%q want=%q", env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func readBody(res *http.Response) string {
	defer res.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return strings.TrimSpace(string(b))
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
