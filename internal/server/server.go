// Package server implements the chat hub: a WebSocket fan-out loop with the
// register/users/message/typing protocol, plus the HTTP surface around it
// (health, readiness, metrics).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"yewchat/internal/config"
	"yewchat/internal/history"
)

// Server ties the hub to its HTTP surface.
type Server struct {
	cfg      config.ServerConfig
	log      *zap.Logger
	hub      *Hub
	metrics  *Metrics
	registry *prometheus.Registry
	upgrader websocket.Upgrader
	httpSrv  *http.Server
	ln       net.Listener
}

// New wires a server from its parts. The caller owns the history store's
// lifetime; everything else belongs to the server.
func New(cfg config.ServerConfig, logger *zap.Logger, store *history.Store) *Server {
	registry := prometheus.NewRegistry()
	m := newMetrics(registry)

	s := &Server{
		cfg:      cfg,
		log:      logger.Named("server"),
		hub:      newHub(cfg, logger, store, m),
		metrics:  m,
		registry: registry,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.httpSrv = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// The upgrade endpoint stays outside the metrics middleware: hijacked
	// connections are tracked by the session gauge instead.
	r.Get("/ws", s.handleWS)

	r.Group(func(r chi.Router) {
		r.Use(s.metrics.httpMiddleware)
		r.Get("/healthz", s.handleHealthz)
		r.Get("/readyz", s.handleReadyz)
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	})
	return r
}

// Listen binds the configured address. Run calls it implicitly; tests bind
// ":0" first and read Addr back.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.ln = netutil.LimitListener(ln, s.cfg.MaxConns)
	return nil
}

// Addr reports the bound address once Listen has run.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.cfg.Addr
	}
	return s.ln.Addr().String()
}

// Ready is closed once the hub loop is accepting traffic.
func (s *Server) Ready() <-chan struct{} {
	return s.hub.ready
}

// Run serves until ctx is canceled, then shuts down the HTTP listener and
// drains every chat session.
func (s *Server) Run(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.log.Info("listening", zap.String("addr", s.Addr()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.hub.Run(ctx)
	})
	g.Go(func() error {
		if err := s.httpSrv.Serve(s.ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	s.log.Info("server stopped")
	return err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Warn("upgrade failed", zap.Error(err), zap.String("remote", r.RemoteAddr))
		return
	}

	sess := &session{
		id:      uuid.NewString(),
		hub:     s.hub,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		limiter: rate.NewLimiter(rate.Limit(s.cfg.RateLimit.PerSecond), s.cfg.RateLimit.Burst),
	}
	sess.log = s.log.With(zap.String("session", sess.id))

	select {
	case s.hub.register <- sess:
		go sess.writePump()
		go sess.readPump()
	case <-s.hub.done:
		conn.Close()
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.Origins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients send no Origin header.
		return true
	}
	for _, allowed := range s.cfg.Origins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if !s.hub.running.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
