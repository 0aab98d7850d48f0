package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	ProxiedRequests   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "proxy_requests_total", Help: "Proxied upstream calls by operation"}, []string{"op"})
	UpstreamErrors    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "proxy_upstream_errors_total", Help: "Non-2xx upstream replies by operation"}, []string{"op"})
	UpstreamUnreach   = prometheus.NewCounter(prometheus.CounterOpts{Name: "proxy_upstream_unreachable_total", Help: "Upstream calls that failed at the transport level"})
	RelaysStarted     = prometheus.NewCounter(prometheus.CounterOpts{Name: "proxy_relays_started_total", Help: "Streaming relays opened"})
	RelayBytes        = prometheus.NewCounter(prometheus.CounterOpts{Name: "proxy_relay_bytes_total", Help: "Bytes relayed to clients"})
	ClientDisconnects = prometheus.NewCounter(prometheus.CounterOpts{Name: "proxy_client_disconnects_total", Help: "Relays ended by the client going away"})
	ReaderRetries     = prometheus.NewCounter(prometheus.CounterOpts{Name: "proxy_reader_retries_total", Help: "Stream reader retry attempts"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "proxy_rate_limit_rejects_total", Help: "Requests rejected by the rate limiter"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			ProxiedRequests,
			UpstreamErrors,
			UpstreamUnreach,
			RelaysStarted,
			RelayBytes,
			ClientDisconnects,
			ReaderRetries,
			RateLimitRejects,
		)
	})
	return promhttp.Handler()
}
