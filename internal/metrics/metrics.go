// Package metrics exposes BEY's runtime counters and histograms as
// Prometheus metrics, one domain-scoped collector per subsystem,
// mirroring the teacher's per-domain MetricsCollector layout
// (session/handshake/crypto/message) adapted onto BEY's own components.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns every Prometheus collector BEY registers, plus the HTTP
// handler the engine exposes at config.Metrics.Path.
type Registry struct {
	reg *prometheus.Registry

	ConnectionsActive  prometheus.Gauge
	ConnectionsTotal   prometheus.Counter
	ConnectionFailures prometheus.Counter
	HandshakeDuration  prometheus.Histogram

	TokensSent     prometheus.Counter
	TokensReceived prometheus.Counter
	TokenErrors    prometheus.Counter

	PolicyEvaluations  prometheus.Counter
	PolicyCacheHits    prometheus.Counter
	PolicyDecisionTime prometheus.Histogram

	StorageObjectsStored  prometheus.Counter
	StorageObjectsRead    prometheus.Counter
	StorageBytesStored    prometheus.Counter
	StorageCompressRatio  prometheus.Histogram

	DiscoveryDevicesKnown prometheus.Gauge
	DiscoveryQueries      prometheus.Counter

	TransferBytesTransferred prometheus.Counter
	TransferTasksActive      prometheus.Gauge
	TransferRetries          prometheus.Counter
}

// NewRegistry constructs and registers every collector against a fresh
// prometheus.Registry (not the global DefaultRegisterer, so tests and
// multiple Engine instances never collide).
func NewRegistry(namespace string) *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "transport", Name: "connections_active",
			Help: "Number of currently open peer connections.",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transport", Name: "connections_total",
			Help: "Total connections established.",
		}),
		ConnectionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transport", Name: "connection_failures_total",
			Help: "Total connection attempts that failed.",
		}),
		HandshakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "transport", Name: "handshake_duration_seconds",
			Help: "mTLS handshake duration.", Buckets: prometheus.DefBuckets,
		}),
		TokensSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "token", Name: "sent_total", Help: "Tokens sent.",
		}),
		TokensReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "token", Name: "received_total", Help: "Tokens received.",
		}),
		TokenErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "token", Name: "errors_total", Help: "Token encode/decode errors.",
		}),
		PolicyEvaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "policy", Name: "evaluations_total", Help: "Policy evaluations performed.",
		}),
		PolicyCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "policy", Name: "cache_hits_total", Help: "Policy decision cache hits.",
		}),
		PolicyDecisionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "policy", Name: "decision_seconds",
			Help: "Policy evaluation latency.", Buckets: prometheus.DefBuckets,
		}),
		StorageObjectsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "storage", Name: "objects_stored_total", Help: "Objects stored.",
		}),
		StorageObjectsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "storage", Name: "objects_read_total", Help: "Objects read.",
		}),
		StorageBytesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "storage", Name: "bytes_stored_total", Help: "Bytes written to the store.",
		}),
		StorageCompressRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "storage", Name: "compression_ratio",
			Help: "Compressed/original size ratio.", Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		DiscoveryDevicesKnown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "discovery", Name: "devices_known", Help: "Devices currently cached.",
		}),
		DiscoveryQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "discovery", Name: "queries_total", Help: "mDNS queries issued.",
		}),
		TransferBytesTransferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transfer", Name: "bytes_transferred_total", Help: "Bytes moved by the transfer pipeline.",
		}),
		TransferTasksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "transfer", Name: "tasks_active", Help: "Transfer tasks currently in progress.",
		}),
		TransferRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transfer", Name: "retries_total", Help: "Chunk retries performed.",
		}),
	}

	reg.MustRegister(
		r.ConnectionsActive, r.ConnectionsTotal, r.ConnectionFailures, r.HandshakeDuration,
		r.TokensSent, r.TokensReceived, r.TokenErrors,
		r.PolicyEvaluations, r.PolicyCacheHits, r.PolicyDecisionTime,
		r.StorageObjectsStored, r.StorageObjectsRead, r.StorageBytesStored, r.StorageCompressRatio,
		r.DiscoveryDevicesKnown, r.DiscoveryQueries,
		r.TransferBytesTransferred, r.TransferTasksActive, r.TransferRetries,
	)

	return r
}

// Handler returns the HTTP handler that serves this registry's metrics
// in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
