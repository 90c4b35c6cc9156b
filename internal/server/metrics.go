package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/openskirmish/skirmish-server-go/internal/game/resolve"
)

// Metrics use only bounded label values so cardinality stays fixed no
// matter how many matches or clients show up.
var (
	resolutionRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skirmish_resolution_runs_total",
		Help: "Completed resolution runs by outcome",
	}, []string{"outcome"}) // "completed", "empty"

	resolutionActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skirmish_resolution_actions_total",
		Help: "Actions processed during resolution by result",
	}, []string{"result"}) // "executed", "skipped"

	resolutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "skirmish_resolution_duration_seconds",
		Help:    "Wall time of a resolution run from announcement to end",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	})

	activeMatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skirmish_matches_active",
		Help: "Matches currently held by the engine",
	})

	playsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skirmish_plays_queued_total",
		Help: "Plays accepted into a queue",
	})

	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skirmish_websocket_connections_active",
		Help: "Currently connected WebSocket clients",
	})

	wsMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skirmish_websocket_messages_total",
		Help: "WebSocket messages by direction",
	}, []string{"direction"}) // "inbound", "outbound"

	connectionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skirmish_connections_rejected_total",
		Help: "Connections rejected before reaching a handler",
	}, []string{"reason"}) // "rate_limit", "ws_ip_limit", "ws_total_limit", "session_limit"

	httpRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skirmish_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

func recordRunOutcome(outcome string) {
	resolutionRuns.WithLabelValues(outcome).Inc()
}

func recordAction(result string) {
	resolutionActions.WithLabelValues(result).Inc()
}

func setActiveMatches(n int) {
	activeMatches.Set(float64(n))
}

func recordPlayQueued() {
	playsQueued.Inc()
}

func setWSConnections(n int) {
	wsConnections.Set(float64(n))
}

func recordWSMessage(direction string) {
	wsMessages.WithLabelValues(direction).Inc()
}

func recordRejected(reason string) {
	connectionsRejected.WithLabelValues(reason).Inc()
}

// MetricsObserver feeds resolution lifecycle events into Prometheus. One
// instance can watch any number of matches; it keeps per-run start times
// so it can observe total run duration on the end event.
type MetricsObserver struct {
	mu     sync.Mutex
	starts map[string]time.Time
}

// NewMetricsObserver creates an observer ready to subscribe to matches.
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{starts: make(map[string]time.Time)}
}

// OnResolutionEvent implements resolve.Observer.
func (m *MetricsObserver) OnResolutionEvent(ev resolve.Event) {
	switch ev.Type {
	case resolve.EventResolutionStarted:
		m.mu.Lock()
		m.starts[ev.RunID] = ev.Timestamp
		m.mu.Unlock()
	case resolve.EventActionFinished:
		recordAction("executed")
	case resolve.EventActionSkipped:
		recordAction("skipped")
	case resolve.EventResolutionEnded:
		recordRunOutcome("completed")
		m.mu.Lock()
		if started, ok := m.starts[ev.RunID]; ok {
			resolutionDuration.Observe(ev.Timestamp.Sub(started).Seconds())
			delete(m.starts, ev.RunID)
		}
		m.mu.Unlock()
	case resolve.EventResolutionEmpty:
		recordRunOutcome("empty")
	}
}

// metricsMiddleware records request latency labeled by the chi route
// pattern rather than the raw path.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(
			r.Method, route, strconv.Itoa(ww.Status()),
		).Observe(time.Since(start).Seconds())
	})
}
