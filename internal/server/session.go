package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// writeWait bounds a single write, including close frames.
	writeWait = 10 * time.Second
	// pongWait is how long a silent peer stays alive; pings go out at
	// pingPeriod so a healthy peer always answers in time.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// maxFrameBytes caps one inbound frame. Chat messages are short; the
	// limit mostly guards against hostile payloads.
	maxFrameBytes = 4096

	// sendBuffer is the per-session fan-out queue. A full queue marks the
	// session as a slow consumer and the hub drops it.
	sendBuffer = 64
)

// session is one WebSocket connection. The hub goroutine owns username,
// registered and wasTyping; the pumps never touch them.
type session struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	log     *zap.Logger

	username   string
	registered bool
	wasTyping  bool

	closeOnce sync.Once
}

// closeSend shuts the fan-out queue exactly once, which lets writePump send
// the close frame and tear down the connection.
func (s *session) closeSend() {
	s.closeOnce.Do(func() { close(s.send) })
}

// control writes a close frame with a policy code and reason. Safe to call
// concurrently with writePump; gorilla serializes control frames.
func (s *session) control(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		s.log.Debug("close frame write failed", zap.Error(err))
	}
}

// readPump moves inbound frames to the hub until the connection dies, then
// reports the session for unregistration.
func (s *session) readPump() {
	defer func() {
		// The hub may already be gone during shutdown.
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxFrameBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("read ended", zap.Error(err))
			}
			return
		}
		select {
		case s.hub.inbound <- frame{sess: s, data: data}:
		case <-s.hub.done:
			return
		}
	}
}

// writePump drains the fan-out queue and keeps the connection alive with
// pings. It owns all data writes on the connection.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
