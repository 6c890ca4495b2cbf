// Package client maintains the WebSocket side of a chat participant: it
// dials, registers the username, reconnects with backoff, and turns inbound
// frames into a typed event stream for the UI to consume.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"yewchat/internal/avatar"
	"yewchat/internal/protocol"
)

const (
	dialTimeout = 10 * time.Second
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10

	defaultBackoffMin = 500 * time.Millisecond
	defaultBackoffMax = 15 * time.Second

	outboundBuffer = 64
	eventBuffer    = 64
)

var (
	// ErrNotConnected reports a send attempted while the socket is down.
	ErrNotConnected = errors.New("client: not connected")
	// ErrBusy reports a full send queue.
	ErrBusy = errors.New("client: send queue full")
	// ErrRejected reports a registration the server refused; retrying with
	// the same username would just be refused again.
	ErrRejected = errors.New("client: registration rejected")
)

// ConnState tracks the connection lifecycle for the status line.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is the closed set of things a connection can tell the UI.
type Event interface{ isEvent() }

type (
	// UsersEvent replaces the roster.
	UsersEvent struct{ Profiles []avatar.Profile }
	// MessageEvent appends to the transcript.
	MessageEvent struct{ Message protocol.ChatMessage }
	// TypingEvent updates the typing indicator.
	TypingEvent struct{ Status protocol.TypingStatus }
	// StateEvent reports connection transitions. Err is set for failures
	// that caused the transition.
	StateEvent struct {
		State   ConnState
		Attempt int
		Err     error
	}
)

func (UsersEvent) isEvent()   {}
func (MessageEvent) isEvent() {}
func (TypingEvent) isEvent()  {}
func (StateEvent) isEvent()   {}

// Config carries everything a connection needs.
type Config struct {
	URL        string
	Username   string
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// Client owns one logical chat connection across physical reconnects.
type Client struct {
	cfg    Config
	log    *zap.Logger
	dialer *websocket.Dialer

	events   chan Event
	outbound chan []byte

	mu        sync.Mutex
	connected bool

	closeOnce sync.Once
	closed    chan struct{}
}

// New builds a client; Run does the actual connecting.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = defaultBackoffMin
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = defaultBackoffMax
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:      cfg,
		log:      logger.Named("client"),
		dialer:   &websocket.Dialer{HandshakeTimeout: dialTimeout},
		events:   make(chan Event, eventBuffer),
		outbound: make(chan []byte, outboundBuffer),
		closed:   make(chan struct{}),
	}
}

// Events is the stream the UI drains. It closes exactly once, after Run
// returns for good.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Run dials and re-dials until ctx is canceled, Close is called, or the
// server rejects the registration. Frames queued while the socket was down
// are flushed after the next successful registration.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)

	backoff := c.cfg.BackoffMin
	for attempt := 0; ; attempt++ {
		c.emit(ctx, StateEvent{State: StateConnecting, Attempt: attempt})

		connected, err := c.session(ctx, attempt)
		switch {
		case ctx.Err() != nil || c.isClosed():
			c.emitFinal(StateEvent{State: StateClosed, Attempt: attempt})
			return nil
		case errors.Is(err, ErrRejected):
			c.emitFinal(StateEvent{State: StateClosed, Attempt: attempt, Err: err})
			return err
		}
		if connected {
			// A session that registered starts the ladder over: attempts
			// count consecutive failures, and the next drop retries fast.
			backoff = c.cfg.BackoffMin
			attempt = 0
		}

		c.log.Warn("connection lost", zap.Error(err), zap.Int("attempt", attempt))
		c.emit(ctx, StateEvent{State: StateReconnecting, Attempt: attempt + 1, Err: err})

		select {
		case <-ctx.Done():
			c.emitFinal(StateEvent{State: StateClosed, Attempt: attempt})
			return nil
		case <-c.closed:
			c.emitFinal(StateEvent{State: StateClosed, Attempt: attempt})
			return nil
		case <-time.After(jitter(backoff)):
		}
		backoff *= 2
		if backoff > c.cfg.BackoffMax {
			backoff = c.cfg.BackoffMax
		}
	}
}

// session runs one physical connection: dial, register, pump until the
// socket dies or the client stops. The bool reports whether the connection
// got as far as registering, which resets the reconnect backoff.
func (c *Client) session(ctx context.Context, attempt int) (bool, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, resp, err := c.dialer.DialContext(dialCtx, c.cfg.URL, nil)
	cancel()
	if err != nil {
		return false, fmt.Errorf("failed to dial %s: %w", c.cfg.URL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	data, err := protocol.EncodeRegister(c.cfg.Username)
	if err != nil {
		return false, err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return false, fmt.Errorf("failed to register: %w", err)
	}

	c.setConnected(true)
	defer c.setConnected(false)
	c.emit(ctx, StateEvent{State: StateConnected, Attempt: attempt})
	c.log.Info("connected", zap.String("url", c.cfg.URL), zap.String("username", c.cfg.Username))

	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(ctx, conn) }()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.sendClose(conn)
			return true, ctx.Err()

		case <-c.closed:
			c.sendClose(conn)
			return true, nil

		case frame := <-c.outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return true, fmt.Errorf("write failed: %w", err)
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return true, fmt.Errorf("ping failed: %w", err)
			}

		case err := <-readErr:
			return true, err
		}
	}
}

// readLoop decodes inbound frames into events until the connection fails.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.ClosePolicyViolation {
				return fmt.Errorf("%w: %s", ErrRejected, closeErr.Text)
			}
			return fmt.Errorf("read failed: %w", err)
		}

		env, err := protocol.Decode(data)
		if err != nil {
			c.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}

		switch env.MessageType {
		case protocol.TypeUsers:
			c.emit(ctx, UsersEvent{Profiles: avatar.Profiles(env.DataArray)})
		case protocol.TypeMessage:
			msg, err := env.ChatMessage()
			if err != nil {
				c.log.Warn("dropping malformed chat message", zap.Error(err))
				continue
			}
			c.emit(ctx, MessageEvent{Message: msg})
		case protocol.TypeTyping:
			status, err := env.TypingStatus()
			if err != nil {
				c.log.Warn("dropping malformed typing status", zap.Error(err))
				continue
			}
			c.emit(ctx, TypingEvent{Status: status})
		case protocol.TypeRegister:
			// Servers never send register; ignore.
		}
	}
}

// SendText queues raw composer text.
func (c *Client) SendText(text string) error {
	data, err := protocol.EncodeText(text)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

// SendTyping queues a typing status for the local user.
func (c *Client) SendTyping(isTyping bool) error {
	data, err := protocol.EncodeTyping(protocol.TypingStatus{
		Username: c.cfg.Username,
		IsTyping: isTyping,
	})
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

// Close stops Run. Idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *Client) enqueue(data []byte) error {
	if c.isClosed() {
		return ErrNotConnected
	}
	if !c.isConnected() {
		return ErrNotConnected
	}
	select {
	case c.outbound <- data:
		return nil
	default:
		return ErrBusy
	}
}

// emit blocks rather than dropping events: the UI drains continuously, and
// backpressure here keeps ordering intact.
func (c *Client) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	case <-c.closed:
	}
}

// emitFinal delivers the last state transition without blocking. It runs
// after ctx or the client is already done, so the usual guards would eat it.
func (c *Client) emitFinal(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}

func (c *Client) sendClose(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *Client) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// jitter spreads reconnect storms out by up to 20% either way.
func jitter(d time.Duration) time.Duration {
	spread := int64(d) * 2 / 5
	if spread <= 0 {
		return d
	}
	return time.Duration(int64(d) - spread/2 + rand.Int63n(spread))
}
