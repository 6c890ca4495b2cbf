package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every instrument the chat server exports. Instruments hang
// off an injected registry so tests can run servers side by side without
// duplicate registration panics.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	MessagesTotal   *prometheus.CounterVec
	DroppedTotal    *prometheus.CounterVec
	HistoryReplayed prometheus.Counter
	HistoryStored   prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "yewchat_active_sessions",
			Help: "Currently connected WebSocket sessions.",
		}),
		MessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yewchat_messages_total",
			Help: "Inbound protocol frames accepted, by message type.",
		}, []string{"type"}),
		DroppedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yewchat_messages_dropped_total",
			Help: "Frames or sessions dropped, by reason.",
		}, []string{"reason"}),
		HistoryReplayed: f.NewCounter(prometheus.CounterOpts{
			Name: "yewchat_history_replayed_total",
			Help: "Messages replayed to joining sessions.",
		}),
		HistoryStored: f.NewGauge(prometheus.GaugeOpts{
			Name: "yewchat_history_messages",
			Help: "Messages currently retained in the history store.",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yewchat_http_requests_total",
			Help: "HTTP requests served, by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "yewchat_http_request_duration_seconds",
			Help:    "HTTP request latency, by route and method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		httpInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "yewchat_http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		}),
	}
}

// httpMiddleware records request counts, latency and an in-flight gauge.
// Labels use the chi route pattern, not the raw path, to keep cardinality
// bounded.
func (m *Metrics) httpMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := ww.Status()
		if status == 0 {
			// A handler that never writes gets net/http's implicit 200.
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
