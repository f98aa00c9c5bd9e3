package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/watchroom/watchroom/pkg/logger"
	"github.com/watchroom/watchroom/pkg/model"
)

// Client is the websocket Transport. A Client is built per join attempt and
// discarded on leave; controllers replace it rather than reusing it with new
// parameters.
type Client struct {
	baseURL string
	params  Params
	policy  RetryPolicy

	mu      sync.RWMutex
	conn    *websocket.Conn
	closed  bool
	ctx     context.Context
	writeMu sync.Mutex

	handlerMu sync.RWMutex
	handlers  map[model.EventType][]Handler

	reconnectMu  sync.Mutex
	reconnecting bool

	log *logger.Logger
}

var _ Transport = (*Client)(nil)

// NewClient creates a signaling client with the default retry policy.
func NewClient(baseURL string, params Params, log *logger.Logger) *Client {
	return NewClientWithPolicy(baseURL, params, DefaultRetryPolicy, log)
}

// NewClientWithPolicy creates a signaling client with a custom retry policy.
func NewClientWithPolicy(baseURL string, params Params, policy RetryPolicy, log *logger.Logger) *Client {
	return &Client{
		baseURL:  baseURL,
		params:   params,
		policy:   policy,
		handlers: make(map[model.EventType][]Handler),
		log:      log,
	}
}

// wsURL converts the base URL to a ws(s) scheme and appends the channel
// addressing parameters.
func (c *Client) wsURL() (string, error) {
	base := c.baseURL
	if after, ok := strings.CutPrefix(base, "http://"); ok {
		base = "ws://" + after
	} else if after, ok := strings.CutPrefix(base, "https://"); ok {
		base = "wss://" + after
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse signal url: %w", err)
	}

	q := u.Query()
	q.Set("deviceId", c.params.DeviceID)
	q.Set("deviceType", string(c.params.DeviceType))
	q.Set("roomId", c.params.RoomID)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Connect opens the channel. The server's room snapshot arrives afterwards
// as a regular connect envelope on the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	c.closed = false
	c.mu.Unlock()

	return c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) error {
	wsURL, err := c.wsURL()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect signaling channel: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.log.Info("connected to %s as %s (%s)", c.baseURL, c.params.DeviceID, c.params.DeviceType)

	go c.readLoop(conn)
	return nil
}

// readLoop parses and dispatches inbound envelopes until the connection
// drops. Unparseable messages are logged and dropped, never fatal.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			current := c.conn == conn
			if current {
				c.conn = nil
			}
			closed := c.closed
			c.mu.Unlock()

			if current && !closed {
				c.log.Warn("channel closed unexpectedly: %v", err)
				go c.reconnect()
			}
			return
		}

		var ev model.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Error("dropping unparseable message: %v", err)
			continue
		}

		c.dispatch(&ev)
	}
}

// dispatch delivers an envelope to all exact-type handlers and then to all
// wildcard handlers, in registration order, synchronously.
func (c *Client) dispatch(ev *model.Event) {
	c.handlerMu.RLock()
	exact := c.handlers[ev.Type]
	any := c.handlers[model.EventTypeAny]
	hs := make([]Handler, 0, len(exact)+len(any))
	hs = append(hs, exact...)
	hs = append(hs, any...)
	c.handlerMu.RUnlock()

	for _, h := range hs {
		h(ev)
	}
}

// reconnect retries the connection with bounded exponential backoff. Once
// the ceiling is exceeded no further retry happens; the owning controller
// must re-initiate explicitly.
func (c *Client) reconnect() {
	c.reconnectMu.Lock()
	if c.reconnecting {
		c.reconnectMu.Unlock()
		return
	}
	c.reconnecting = true
	c.reconnectMu.Unlock()

	defer func() {
		c.reconnectMu.Lock()
		c.reconnecting = false
		c.reconnectMu.Unlock()
	}()

	c.mu.RLock()
	ctx := c.ctx
	c.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}

	for attempt := 0; attempt < c.policy.Attempts; attempt++ {
		delay := c.policy.Delay(attempt)
		c.log.Info("reconnecting in %v (attempt %d/%d)", delay, attempt+1, c.policy.Attempts)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		c.mu.RLock()
		closed := c.closed
		c.mu.RUnlock()
		if closed {
			return
		}

		if err := c.dial(ctx); err != nil {
			c.log.Warn("reconnect attempt %d failed: %v", attempt+1, err)
			continue
		}
		return
	}

	c.log.Error("reconnect ceiling reached, giving up")
}

// Send writes one envelope, or reports ErrNotConnected while the channel is
// down. Events are never queued for replay.
func (c *Client) Send(ev *model.Event) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send %s: %w", ev.Type, err)
	}
	return nil
}

// On registers a handler for an event type, or for every event when called
// with model.EventTypeAny.
func (c *Client) On(t model.EventType, h Handler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers[t] = append(c.handlers[t], h)
}

// Disconnect closes the channel and suppresses reconnection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// IsConnected reports whether the channel is currently open.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}
