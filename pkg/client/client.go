// Package client is a minimal WebSocket client for the canvas gateway with
// automatic reconnection. It is used by integration tooling and bots; the
// browser client implements the same protocol.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"collaborative-canvas/internal/protocol"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("client: closed")

// Options tunes the reconnect behavior.
type Options struct {
	// URL is the gateway endpoint, e.g. ws://localhost:8080/ws.
	URL string
	// MaxAttempts bounds consecutive failed connection attempts before the
	// client gives up. Zero means DefaultMaxAttempts.
	MaxAttempts int
	// BaseDelay is the first reconnect delay; it doubles per attempt up to
	// MaxDelay. Zeroes mean the defaults.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// OnMessage receives every decoded server frame.
	OnMessage func(protocol.Message)
	// OnReconnect fires after a connection is re-established, so callers
	// can re-join their room.
	OnReconnect func()
}

const (
	DefaultMaxAttempts = 10
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 30 * time.Second
)

// Client maintains a gateway connection, redialing with capped exponential
// backoff when it drops.
type Client struct {
	opts Options
	log  *logrus.Entry

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	cancel context.CancelFunc
	done   chan struct{}
}

func New(opts Options, logger *logrus.Logger) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("client: URL is required")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = defaultMaxDelay
	}
	return &Client{
		opts: opts,
		log:  logger.WithField("component", "canvas_client"),
		done: make(chan struct{}),
	}, nil
}

// Connect dials the gateway and starts the read/reconnect loop. It returns
// after the first successful dial; later drops reconnect in the background.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	conn, err := c.dial(ctx)
	if err != nil {
		cancel()
		return err
	}
	c.setConn(conn)
	go c.run(ctx)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		delay := backoffDelay(attempt, c.opts.BaseDelay, c.opts.MaxDelay)
		c.log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"delay":   delay,
		}).Warn("Dial failed, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("client: gave up after %d attempts: %w", c.opts.MaxAttempts, lastErr)
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	for {
		conn := c.current()
		if conn == nil {
			return
		}
		c.readLoop(conn)
		if ctx.Err() != nil || c.isClosed() {
			return
		}

		c.log.Info("Connection lost, reconnecting")
		next, err := c.dial(ctx)
		if err != nil {
			c.log.WithError(err).Error("Reconnect failed, giving up")
			return
		}
		c.setConn(next)
		if c.opts.OnReconnect != nil {
			c.opts.OnReconnect()
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(raw)
		if err != nil {
			c.log.WithError(err).Warn("Dropping undecodable frame")
			continue
		}
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(msg)
		}
	}
}

// Send writes one protocol message to the gateway.
func (c *Client) Send(msgType, roomID, sessionID string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("client: marshal %s data: %w", msgType, err)
	}
	msg := protocol.Message{
		Type:      msgType,
		Data:      payload,
		SessionID: sessionID,
		RoomID:    roomID,
		Timestamp: time.Now().UnixMilli(),
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("client: marshal %s frame: %w", msgType, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.conn == nil {
		return ErrClosed
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close tears the connection down and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		if err := conn.Close(); err != nil {
			return err
		}
		<-c.done
	}
	return nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.conn
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// backoffDelay doubles the base delay per attempt, capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
