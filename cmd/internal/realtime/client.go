package realtime

import (
	"sync"

	v1 "mcadmin/shared/contracts/realtime/v1"
)

// Client is one connected dashboard tab.
//
// Send is never closed by the server, so concurrent broadcasters cannot
// panic; done signals the connection goroutines to stop. Close is idempotent.
type Client struct {
	ConnID string
	Send   chan v1.Envelope

	// authorized reports whether broadcasts may reach this client.
	authorized func() bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue. A nil authorized
// func admits every broadcast.
func NewClient(connID string, sendQueueSize int, authorized func() bool) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ConnID:     connID,
		Send:       make(chan v1.Envelope, sendQueueSize),
		authorized: authorized,
		done:       make(chan struct{}),
	}
}

// Authorized reports whether broadcasts should be delivered.
func (c *Client) Authorized() bool {
	if c.authorized == nil {
		return true
	}
	return c.authorized()
}

// Offer enqueues env without blocking and reports whether it was queued.
func (c *Client) Offer(env v1.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
