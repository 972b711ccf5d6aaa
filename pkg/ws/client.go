package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
)

var (
	// ErrAlreadyConnected is returned when Connect is called on an active connection.
	ErrAlreadyConnected = errors.New("ws: already connected")

	// ErrClosed is returned when the client has been shut down.
	ErrClosed = errors.New("ws: client closed")

	// ErrInvalidChannel is returned when an unknown channel is specified.
	ErrInvalidChannel = errors.New("ws: invalid channel")

	// ErrReconnectFailed is reported when a reconnect episode exhausts its
	// attempt budget.
	ErrReconnectFailed = errors.New("ws: reconnect attempts exhausted")
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "DISCONNECTED"
	}
}

// TickHandler receives every parsed market data tick.
type TickHandler func(Tick)

type subKey struct {
	Channel Channel
	Symbol  string
}

// Client is a realtime feed client. It maintains the subscription set across
// reconnects: after a connection drop every remembered channel/symbol pair is
// registered again on the new connection.
type Client struct {
	opts     Options
	approval ApprovalFunc

	mu     sync.Mutex
	conn   *websocket.Conn
	key    string // approval key for the current connection
	subs   map[subKey]struct{}
	done   chan struct{}
	closed bool

	state atomic.Int32

	handlerMu sync.RWMutex
	onTick    TickHandler
}

// New creates a realtime client. The approval function is called on every
// connect to obtain the handshake credential.
func New(approval ApprovalFunc, opts ...Option) *Client {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &Client{
		opts:     options,
		approval: approval,
		subs:     make(map[subKey]struct{}),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// IsConnected returns true if the client has an active connection.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// SetTickHandler sets the handler for market data ticks.
func (c *Client) SetTickHandler(h TickHandler) {
	c.handlerMu.Lock()
	c.onTick = h
	c.handlerMu.Unlock()
}

// Connect establishes the realtime connection and starts the read and
// keepalive loops.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	c.state.Store(int32(StateConnecting))
	if err := c.dial(ctx); err != nil {
		c.state.Store(int32(StateDisconnected))
		return err
	}
	return nil
}

// dial obtains a fresh approval key, opens the connection, and starts the
// per-connection loops.
func (c *Client) dial(ctx context.Context) error {
	key, err := c.approval(ctx)
	if err != nil {
		return fmt.Errorf("ws: obtain approval key: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("ws: dial: %w", err)
	}

	done := make(chan struct{})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.key = key
	c.done = done
	c.mu.Unlock()

	c.state.Store(int32(StateConnected))

	go c.readLoop(conn, done)
	go c.pingLoop(conn, done)

	// Register every remembered pair, including ones requested while the
	// connection was down.
	c.resubscribe()

	if c.opts.OnConnect != nil {
		c.opts.OnConnect()
	}
	return nil
}

// Close shuts the client down. A closed client cannot be reconnected.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	if conn != nil {
		// The close frame must go out under the mutex; a keepalive
		// write may already be waiting on it and gorilla connections
		// do not allow concurrent writers.
		conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
	}
	c.mu.Unlock()

	c.state.Store(int32(StateDisconnected))

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Subscribe registers the symbol on the given channels. With no channels it
// subscribes to quotes and executions. The pairs are remembered: while the
// connection is down they are registered as soon as it comes up, and after
// a drop they are restored on the next connection.
func (c *Client) Subscribe(ctx context.Context, symbol string, channels ...Channel) error {
	if len(channels) == 0 {
		channels = DefaultChannels
	}
	for _, ch := range channels {
		if !ch.IsValid() {
			return ErrInvalidChannel
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	for _, ch := range channels {
		if c.conn != nil {
			frame := newSubscribeFrame(c.key, trTypeSubscribe, ch, symbol)
			if err := c.conn.WriteJSON(frame); err != nil {
				return fmt.Errorf("ws: subscribe %s %s: %w", ch, symbol, err)
			}
		}
		c.subs[subKey{Channel: ch, Symbol: symbol}] = struct{}{}
	}
	return nil
}

// Unsubscribe cancels the symbol's registrations on the given channels, or
// on all default channels when none is specified. While the connection is
// down only the remembered set is trimmed.
func (c *Client) Unsubscribe(ctx context.Context, symbol string, channels ...Channel) error {
	if len(channels) == 0 {
		channels = DefaultChannels
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	for _, ch := range channels {
		if c.conn != nil {
			frame := newSubscribeFrame(c.key, trTypeUnsubscribe, ch, symbol)
			if err := c.conn.WriteJSON(frame); err != nil {
				return fmt.Errorf("ws: unsubscribe %s %s: %w", ch, symbol, err)
			}
		}
		delete(c.subs, subKey{Channel: ch, Symbol: symbol})
	}
	return nil
}

// Subscriptions returns a snapshot of the remembered channel/symbol pairs
// keyed by symbol.
func (c *Client) Subscriptions() map[string][]Channel {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string][]Channel)
	for key := range c.subs {
		out[key.Symbol] = append(out[key.Symbol], key.Channel)
	}
	return out
}

// readLoop consumes frames from one connection until it fails or the client
// shuts down. A connection failure hands off to the reconnect loop.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			c.lost(conn, err)
			return
		}

		frame, err := ParseFrame(message)
		if err != nil {
			c.reportError(fmt.Errorf("ws: parse frame: %w", err))
			continue
		}

		if frame.IsPing() {
			// The server expects its keepalive echoed back verbatim.
			c.writeJSON(conn, pingFrame{Header: pingHeader{TrID: TrIDPingPong}})
			continue
		}
		if frame.IsError() {
			c.reportError(fmt.Errorf("ws: server error [%s] %s", frame.Header.RspCd, frame.Header.RspMsg))
			continue
		}

		tick, ok := frame.Tick(time.Now())
		if !ok {
			continue
		}
		c.handlerMu.RLock()
		handler := c.onTick
		c.handlerMu.RUnlock()
		if handler != nil {
			handler(tick)
		}
	}
}

// pingLoop sends keepalive frames on the connection until it is torn down.
func (c *Client) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.writeJSON(conn, pingFrame{Header: pingHeader{TrID: TrIDPingPong}}); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeJSON(conn *websocket.Conn, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return conn.WriteJSON(v)
}

// lost tears down a failed connection and, when the connection is still the
// current one, starts the reconnect loop.
func (c *Client) lost(conn *websocket.Conn, err error) {
	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
		if c.done != nil {
			close(c.done)
			c.done = nil
		}
	}
	closed := c.closed
	c.mu.Unlock()

	conn.Close()

	if !current || closed {
		return
	}

	c.state.Store(int32(StateDisconnected))
	if c.opts.OnDisconnect != nil {
		c.opts.OnDisconnect(err)
	}

	if c.opts.MaxReconnectAttempts != 0 {
		go c.reconnectLoop()
	}
}

// reconnectLoop redials with exponential backoff; a successful dial
// restores every remembered subscription on the new connection.
func (c *Client) reconnectLoop() {
	c.state.Store(int32(StateReconnecting))

	boff := &backoff.Backoff{
		Min:    c.opts.ReconnectMin,
		Max:    c.opts.ReconnectMax,
		Factor: 2,
		Jitter: true,
	}

	for attempt := 1; c.opts.MaxReconnectAttempts < 0 || attempt <= c.opts.MaxReconnectAttempts; attempt++ {
		time.Sleep(boff.Duration())

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		if err := c.dial(context.Background()); err != nil {
			c.reportError(fmt.Errorf("ws: reconnect attempt %d: %w", attempt, err))
			continue
		}
		return
	}

	c.state.Store(int32(StateDisconnected))
	c.reportError(ErrReconnectFailed)
}

// resubscribe replays the remembered subscription set on the current
// connection.
func (c *Client) resubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	for key := range c.subs {
		frame := newSubscribeFrame(c.key, trTypeSubscribe, key.Channel, key.Symbol)
		if err := c.conn.WriteJSON(frame); err != nil {
			go c.reportError(fmt.Errorf("ws: resubscribe %s %s: %w", key.Channel, key.Symbol, err))
			return
		}
	}
}

func (c *Client) reportError(err error) {
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}
