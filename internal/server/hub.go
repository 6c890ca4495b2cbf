package server

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"yewchat/internal/config"
	"yewchat/internal/history"
	"yewchat/internal/protocol"
)

// drainGrace bounds how long shutdown waits for sessions to finish their
// close handshakes.
const drainGrace = 5 * time.Second

// pruneEvery is the append cadence for capping stored history.
const pruneEvery = 256

type frame struct {
	sess *session
	data []byte
}

// Hub serializes all chat state behind one goroutine: the session set, the
// username registry and every protocol decision. Sessions talk to it through
// channels and never share memory with it.
type Hub struct {
	log     *zap.Logger
	cfg     config.ServerConfig
	store   *history.Store
	metrics *Metrics

	register   chan *session
	unregister chan *session
	inbound    chan frame

	sessions map[*session]struct{}
	byName   map[string]*session

	appends int

	ready   chan struct{}
	done    chan struct{}
	running atomic.Bool
}

func newHub(cfg config.ServerConfig, logger *zap.Logger, store *history.Store, m *Metrics) *Hub {
	return &Hub{
		log:        logger.Named("hub"),
		cfg:        cfg,
		store:      store,
		metrics:    m,
		register:   make(chan *session),
		unregister: make(chan *session),
		inbound:    make(chan frame, 256),
		sessions:   make(map[*session]struct{}),
		byName:     make(map[string]*session),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run owns the hub loop until ctx is canceled, then drains every session.
func (h *Hub) Run(ctx context.Context) error {
	if n, err := h.store.Count(ctx); err != nil {
		h.log.Warn("history count failed", zap.Error(err))
	} else {
		h.metrics.HistoryStored.Set(float64(n))
	}

	h.running.Store(true)
	close(h.ready)
	defer close(h.done)
	defer h.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			h.drain()
			return nil

		case s := <-h.register:
			h.sessions[s] = struct{}{}
			h.metrics.ActiveSessions.Inc()
			s.log.Debug("session connected")

		case s := <-h.unregister:
			h.remove(s)

		case f := <-h.inbound:
			h.handleFrame(ctx, f)
		}
	}
}

// drain closes every session and keeps consuming channel traffic until the
// pumps have reported back or the grace period runs out.
func (h *Hub) drain() {
	h.running.Store(false)
	for s := range h.sessions {
		s.control(websocket.CloseGoingAway, "server shutting down")
		s.closeSend()
	}

	timeout := time.After(drainGrace)
	for len(h.sessions) > 0 {
		select {
		case s := <-h.unregister:
			if _, ok := h.sessions[s]; ok {
				delete(h.sessions, s)
				h.metrics.ActiveSessions.Dec()
			}
		case <-h.inbound:
			// Discard: the peer is on its way out.
		case s := <-h.register:
			s.control(websocket.CloseGoingAway, "server shutting down")
			s.closeSend()
		case <-timeout:
			for s := range h.sessions {
				s.conn.Close()
			}
			return
		}
	}
}

// remove takes a session out of the hub and tells the room. Safe to call for
// sessions that were already dropped.
func (h *Hub) remove(s *session) {
	if _, ok := h.sessions[s]; !ok {
		return
	}
	delete(h.sessions, s)
	h.metrics.ActiveSessions.Dec()
	s.closeSend()

	if !s.registered {
		return
	}
	delete(h.byName, s.username)
	if s.wasTyping {
		h.relayTyping(s, protocol.TypingStatus{Username: s.username, IsTyping: false})
	}
	h.broadcastUsers()
	h.log.Info("user left", zap.String("username", s.username), zap.String("session", s.id))
}

// drop closes a session for a protocol violation and removes it.
func (h *Hub) drop(s *session, code int, reason string) {
	s.control(code, reason)
	h.remove(s)
}

func (h *Hub) handleFrame(ctx context.Context, f frame) {
	s := f.sess
	if _, ok := h.sessions[s]; !ok {
		return
	}

	env, err := protocol.Decode(f.data)
	if err != nil {
		s.log.Debug("malformed frame", zap.Error(err))
		h.drop(s, websocket.ClosePolicyViolation, "malformed frame")
		return
	}

	if !s.registered {
		if env.MessageType != protocol.TypeRegister {
			h.drop(s, websocket.ClosePolicyViolation, "register first")
			return
		}
		h.handleRegister(ctx, s, env.Data)
		return
	}

	switch env.MessageType {
	case protocol.TypeMessage:
		h.handleMessage(ctx, s, env.Data)
	case protocol.TypeTyping:
		h.handleTyping(s, env)
	case protocol.TypeRegister:
		h.drop(s, websocket.ClosePolicyViolation, "already registered")
	default:
		h.drop(s, websocket.ClosePolicyViolation, "unexpected message type")
	}
}

func (h *Hub) handleRegister(ctx context.Context, s *session, requested string) {
	name, err := protocol.ValidateUsername(requested)
	if err != nil {
		h.drop(s, websocket.ClosePolicyViolation, "invalid username")
		return
	}
	if _, taken := h.byName[name]; taken {
		h.drop(s, websocket.ClosePolicyViolation, "username already taken")
		return
	}

	s.username = name
	s.registered = true
	h.byName[name] = s
	h.metrics.MessagesTotal.WithLabelValues("register").Inc()

	// The joining session sees recent history before any live traffic; the
	// loop finishes this handler before it picks up the next frame.
	h.replayHistory(ctx, s)
	h.broadcastUsers()
	h.log.Info("user joined", zap.String("username", name), zap.String("session", s.id))
}

func (h *Hub) handleMessage(ctx context.Context, s *session, body string) {
	if !s.limiter.Allow() {
		h.metrics.DroppedTotal.WithLabelValues("rate_limited").Inc()
		h.log.Warn("rate limited", zap.String("username", s.username))
		return
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}

	now := time.Now().UTC()
	msg := protocol.ChatMessage{
		From:      s.username,
		Message:   body,
		Timestamp: now.Format(time.RFC3339),
	}

	if _, err := h.store.Append(ctx, history.Record{Author: msg.From, Body: msg.Message, CreatedAt: now}); err != nil {
		h.log.Error("history append failed", zap.Error(err))
	} else {
		h.metrics.HistoryStored.Inc()
		h.appends++
		if h.appends%pruneEvery == 0 {
			if deleted, err := h.store.Prune(ctx, h.cfg.History.Cap); err != nil {
				h.log.Warn("history prune failed", zap.Error(err))
			} else {
				h.metrics.HistoryStored.Sub(float64(deleted))
			}
		}
	}

	data, err := protocol.EncodeChatMessage(msg)
	if err != nil {
		h.log.Error("message encode failed", zap.Error(err))
		return
	}
	h.metrics.MessagesTotal.WithLabelValues("message").Inc()
	h.broadcast(data)
}

func (h *Hub) handleTyping(s *session, env protocol.Envelope) {
	status, err := env.TypingStatus()
	if err != nil {
		h.drop(s, websocket.ClosePolicyViolation, "malformed typing status")
		return
	}
	// Clients cannot speak for anyone but themselves.
	status.Username = s.username
	s.wasTyping = status.IsTyping
	h.metrics.MessagesTotal.WithLabelValues("typing").Inc()
	h.relayTyping(s, status)
}

func (h *Hub) replayHistory(ctx context.Context, s *session) {
	if h.cfg.History.Replay <= 0 {
		return
	}
	recs, err := h.store.Recent(ctx, h.cfg.History.Replay)
	if err != nil {
		h.log.Warn("history replay failed", zap.Error(err))
		return
	}
	for _, rec := range recs {
		data, err := protocol.EncodeChatMessage(protocol.ChatMessage{
			From:      rec.Author,
			Message:   rec.Body,
			Timestamp: rec.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			continue
		}
		h.deliver(s, data)
	}
	h.metrics.HistoryReplayed.Add(float64(len(recs)))
}

// broadcast fans data out to every registered session.
func (h *Hub) broadcast(data []byte) {
	for s := range h.sessions {
		if !s.registered {
			continue
		}
		h.deliver(s, data)
	}
}

// relayTyping fans a typing status out to everyone except its origin.
func (h *Hub) relayTyping(from *session, status protocol.TypingStatus) {
	data, err := protocol.EncodeTyping(status)
	if err != nil {
		h.log.Error("typing encode failed", zap.Error(err))
		return
	}
	for s := range h.sessions {
		if s == from || !s.registered {
			continue
		}
		h.deliver(s, data)
	}
}

func (h *Hub) broadcastUsers() {
	names := make([]string, 0, len(h.byName))
	for name := range h.byName {
		names = append(names, name)
	}
	sort.Strings(names)

	data, err := protocol.EncodeUsers(names)
	if err != nil {
		h.log.Error("users encode failed", zap.Error(err))
		return
	}
	h.broadcast(data)
}

// deliver queues data for one session, dropping the session instead of
// blocking the hub when its queue is full. Sessions already removed are
// skipped: a multi-frame send (history replay) may drop its target part way
// through, and the send channel is closed from that point on.
func (h *Hub) deliver(s *session, data []byte) {
	if _, ok := h.sessions[s]; !ok {
		return
	}
	select {
	case s.send <- data:
	default:
		h.metrics.DroppedTotal.WithLabelValues("slow_consumer").Inc()
		h.log.Warn("dropping slow consumer",
			zap.String("username", s.username),
			zap.String("session", s.id))
		h.remove(s)
	}
}
