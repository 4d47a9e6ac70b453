// Package transport owns the secure socket to the SOOP chat edge: the
// connect/login/join handshake, outbound control packets, and the inbound
// byte stream feeding the frame decoder.
//
// Reconnect policy is deliberately not here; the session layer decides how
// often and how long to retry.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soopwave/soopwave/protocol"
)

// State is the handshake state machine position.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingLoginAck
	StateJoining
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateAwaitingLoginAck:
		return "AWAITING_LOGIN_ACK"
	case StateJoining:
		return "JOINING"
	case StateStreaming:
		return "STREAMING"
	default:
		return "UNKNOWN"
	}
}

// Error wraps a transport failure. Recoverable by the owner via reconnect.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// ErrNotReady is returned when an operation is attempted from the wrong
// handshake state, e.g. JOIN before the login ack arrived.
var ErrNotReady = errors.New("transport: not ready in current handshake state")

const writeTimeout = 5 * time.Second

// Config identifies the chat endpoint and session credentials.
type Config struct {
	Host          string
	Port          string
	BroadcasterID string
	ChatRoomID    string
	EntryToken    string

	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	InsecureTLS      bool

	// URL overrides the standard wss address when set (tests).
	URL string
}

func (c Config) url() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("wss://%s:%s/Websocket/%s", c.Host, c.Port, c.BroadcasterID)
}

// Client is the chat socket owner. One goroutine runs the read loop; Send may
// be called from others.
type Client struct {
	cfg     Config
	dialer  *websocket.Dialer
	state   atomic.Int32
	decoder *protocol.Decoder

	mu      sync.Mutex // guards conn
	writeMu sync.Mutex // serializes socket writes
	conn    *websocket.Conn
}

func New(cfg Config) *Client {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = cfg.HandshakeTimeout
	dialer.Subprotocols = []string{"chat"}
	if cfg.InsecureTLS {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // G402: the chat edge serves a shared-domain cert
	}
	return &Client{cfg: cfg, dialer: &dialer, decoder: protocol.NewDecoder()}
}

// State returns the current handshake position.
func (c *Client) State() State { return State(c.state.Load()) }

// Connect dials the chat edge, sends LOGIN, and waits for the ack. On success
// the client is in JOINING and ready for Join.
func (c *Client) Connect(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return ErrNotReady
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.url(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return &Error{Op: "dial", Err: err}
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.state.Store(int32(StateAwaitingLoginAck))
	if err := c.write(protocol.LoginPacket()); err != nil {
		return c.fail("login", err)
	}

	// The server acks the anonymous login with a single frame; nothing in it
	// is needed beyond its arrival.
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	if _, _, err := conn.ReadMessage(); err != nil {
		return c.fail("login ack", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	c.state.Store(int32(StateJoining))
	slog.Debug("chat login acknowledged", slog.String("host", c.cfg.Host))
	return nil
}

// Join enters the chat room. Only valid after the login ack; premature calls
// return ErrNotReady and send nothing. Frames received before a successful
// Join are never treated as chat data.
func (c *Client) Join() error {
	if !c.state.CompareAndSwap(int32(StateJoining), int32(StateStreaming)) {
		return ErrNotReady
	}
	if err := c.write(protocol.JoinPacket(c.cfg.ChatRoomID, c.cfg.EntryToken)); err != nil {
		return c.fail("join", err)
	}
	slog.Debug("chat room joined", slog.String("chat_room", c.cfg.ChatRoomID))
	return nil
}

// Send writes an outbound packet for the given service type and body.
func (c *Client) Send(svc protocol.ServiceType, body string) error {
	if err := c.write(protocol.BuildPacket(svc, body)); err != nil {
		return &Error{Op: "send", Err: err}
	}
	return nil
}

// Run streams inbound frames into onEvent until disconnect or cancellation.
// Events are only delivered while STREAMING. onEvent may block; that is the
// backpressure path throttling the socket read.
func (c *Client) Run(ctx context.Context, onEvent func(protocol.Event)) error {
	if c.State() != StateStreaming {
		return ErrNotReady
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotReady
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go c.pingLoop(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.state.Store(int32(StateDisconnected))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &Error{Op: "read", Err: err}
		}
		events := c.decoder.Feed(data)
		if c.State() != StateStreaming {
			continue
		}
		for _, ev := range events {
			onEvent(ev)
		}
	}
}

// Close tears the socket down and resets the handshake state.
func (c *Client) Close() error {
	c.state.Store(int32(StateDisconnected))
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if c.State() != StateStreaming {
				continue
			}
			if err := c.write(protocol.PingPacket()); err != nil {
				slog.Warn("chat ping failed", slog.Any("err", err))
				return
			}
		}
	}
}

func (c *Client) write(packet []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("connection is nil")
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.BinaryMessage, packet)
}

// fail closes the socket and reports op as a transport error.
func (c *Client) fail(op string, err error) error {
	_ = c.Close()
	return &Error{Op: op, Err: err}
}
