package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collabrelay",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"method", "path", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "collabrelay",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	// ActiveSessions tracks currently connected WebSocket sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "collabrelay",
		Name:      "active_sessions",
		Help:      "Current number of connected collaboration sessions",
	})

	// MessagesTotal counts dispatched inbound messages by classified kind.
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "collabrelay",
		Name:      "messages_total",
		Help:      "Inbound messages dispatched, by message kind",
	}, []string{"kind"})

	// BroadcastsTotal counts individual peer deliveries attempted by fan-out.
	BroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "collabrelay",
		Name:      "broadcast_deliveries_total",
		Help:      "Per-recipient deliveries attempted during room broadcasts",
	})

	// DeliveriesDropped counts frames dropped because a peer was slow or gone.
	DeliveriesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "collabrelay",
		Name:      "deliveries_dropped_total",
		Help:      "Outbound frames dropped due to a slow or closed peer",
	})

	// PersistenceFailures counts store errors survived by the relay.
	PersistenceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "collabrelay",
		Name:      "persistence_failures_total",
		Help:      "Room state save/load failures (non-fatal to the session)",
	})
)

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack must be forwarded or the WebSocket upgrade breaks behind this middleware.
func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("metrics: underlying ResponseWriter does not support hijacking")
}

// Middleware records request counts and latency with Prometheus labels.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		labels := prometheus.Labels{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": strconv.Itoa(rec.status),
		}
		httpRequests.With(labels).Inc()
		httpLatency.With(labels).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the default Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
