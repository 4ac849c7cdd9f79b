package transport

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transport-level request counters, distinct from internal/metrics' domain
// (draft/verify/acceptance) gauges and counters: these describe the HTTP/WS
// surface itself, not the speculator's generation behavior.
var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speculatoviz_transport_connections_active",
		Help: "Number of active WebSocket connections",
	})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speculatoviz_transport_requests_total",
		Help: "Total number of HTTP requests by path",
	}, []string{"path"})
)

// MetricsHandler serves the process's full Prometheus registry, including
// internal/metrics' speculator gauges/counters alongside the ones above.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RequestCounterMiddleware increments requestsTotal for every request that
// passes through it, keyed by path.
func RequestCounterMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestsTotal.WithLabelValues(r.URL.Path).Inc()
		next.ServeHTTP(w, r)
	}
}
