package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "gamehub"

// Metrics holds the Prometheus collectors for the realtime layer and the
// HTTP API. It satisfies session.Observer.
type Metrics struct {
	registry *prometheus.Registry

	OnlinePlayersGauge   prometheus.Gauge
	ConnectionsGauge     prometheus.Gauge
	AuthFailuresTotal    *prometheus.CounterVec
	ChatMessagesTotal    prometheus.Counter
	IdleDisconnectsTotal prometheus.Counter
	DroppedClientsTotal  prometheus.Counter
	RateLimitedTotal     prometheus.Counter
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them, together with the Go
// runtime and process collectors, on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		OnlinePlayersGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "online_players",
			Help:      "Number of distinct players with at least one authenticated connection",
		}),
		ConnectionsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "websocket_connections",
			Help:      "Number of open websocket connections",
		}),
		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "socket_auth_failures_total",
			Help:      "Rejected socket authentications by reason",
		}, []string{"reason"}),
		ChatMessagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "chat_messages_total",
			Help:      "Chat messages broadcast",
		}),
		IdleDisconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "idle_disconnects_total",
			Help:      "Connections closed by the idle sweep",
		}),
		DroppedClientsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dropped_clients_total",
			Help:      "Connections dropped because their send buffer was full",
		}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rate_limited_events_total",
			Help:      "Inbound socket events discarded by the per-connection rate limit",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.OnlinePlayersGauge,
		m.ConnectionsGauge,
		m.AuthFailuresTotal,
		m.ChatMessagesTotal,
		m.IdleDisconnectsTotal,
		m.DroppedClientsTotal,
		m.RateLimitedTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) OnlinePlayers(n int) { m.OnlinePlayersGauge.Set(float64(n)) }

func (m *Metrics) Connections(n int) { m.ConnectionsGauge.Set(float64(n)) }

func (m *Metrics) AuthFailure(reason string) { m.AuthFailuresTotal.WithLabelValues(reason).Inc() }

func (m *Metrics) ChatMessage() { m.ChatMessagesTotal.Inc() }

func (m *Metrics) IdleDisconnect() { m.IdleDisconnectsTotal.Inc() }

// Middleware records request counts and latency per matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
