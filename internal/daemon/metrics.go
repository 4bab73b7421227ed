package daemon

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the helper's prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	BytesWritten    prometheus.Counter
	LastWrite       prometheus.Gauge
	Backups         prometheus.Counter
	Restores        *prometheus.CounterVec
	FlushFailures   prometheus.Counter
	RateLimited     prometheus.Counter
	Unauthorized    prometheus.Counter
	ConfigReloads   prometheus.Counter
	OpenConnections prometheus.Gauge
}

// NewMetrics registers the helper metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hostsmanager_requests_total",
			Help: "Requests handled, by type and status",
		}, []string{"type", "status"}),
		BytesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "hostsmanager_bytes_written_total",
			Help: "Bytes written to the hosts file",
		}),
		LastWrite: f.NewGauge(prometheus.GaugeOpts{
			Name: "hostsmanager_last_write_timestamp_seconds",
			Help: "Unix time of the last successful hosts file write",
		}),
		Backups: f.NewCounter(prometheus.CounterOpts{
			Name: "hostsmanager_backups_total",
			Help: "Backups created",
		}),
		Restores: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hostsmanager_restores_total",
			Help: "Restore attempts, by status",
		}, []string{"status"}),
		FlushFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "hostsmanager_dns_flush_failures_total",
			Help: "DNS cache flushes that failed",
		}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "hostsmanager_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
		Unauthorized: f.NewCounter(prometheus.CounterOpts{
			Name: "hostsmanager_unauthorized_total",
			Help: "Connections rejected for missing group membership",
		}),
		ConfigReloads: f.NewCounter(prometheus.CounterOpts{
			Name: "hostsmanager_config_reloads_total",
			Help: "Configuration reloads applied",
		}),
		OpenConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "hostsmanager_open_connections",
			Help: "Client connections currently open",
		}),
	}
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
