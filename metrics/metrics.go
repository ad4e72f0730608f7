// Package metrics exposes Prometheus collectors for the config server and client
// and a small HTTP server serving them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "config"

var histogramBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

var (
	// Registry holds every collector of this package.
	Registry = prometheus.NewRegistry()

	// EnvironmentRequests counts environment lookups served, by outcome.
	EnvironmentRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "environment_requests_total",
		Help:      "Count of environment lookups served",
	}, []string{"status"})

	// EnvironmentDuration observes the latency of environment lookups.
	EnvironmentDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "environment_request_duration_seconds",
		Help:      "Latency distribution of environment lookups",
		Buckets:   histogramBuckets,
	})

	// CompositeSkips counts repositories skipped after a lookup error.
	CompositeSkips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "repository_skips_total",
		Help:      "Number of repository lookups skipped after an error",
	}, []string{"repository"})

	// DecryptFailures counts values that could not be decrypted.
	DecryptFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "decrypt_failures_total",
		Help:      "Number of property values that failed to decrypt",
	}, []string{"decryptor"})

	// FetchAttempts counts client requests to config server endpoints, by outcome.
	FetchAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "client",
		Name:      "fetch_attempts_total",
		Help:      "Count of requests made to config server endpoints",
	}, []string{"outcome"})

	// Refreshes counts client refreshes, by trigger.
	Refreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "client",
		Name:      "refreshes_total",
		Help:      "Number of configuration refreshes",
	}, []string{"trigger"})

	// DiscoveredEndpoints reports the size of the current endpoint list.
	DiscoveredEndpoints = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "client",
		Name:      "discovered_endpoints",
		Help:      "Number of config server endpoints currently in use",
	})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information of the running binary",
	}, []string{"service", "version"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		EnvironmentRequests,
		EnvironmentDuration,
		CompositeSkips,
		DecryptFailures,
		FetchAttempts,
		Refreshes,
		DiscoveredEndpoints,
		buildInfo,
	)
}

// MetricsServer serves the registry on /metrics.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server listening on addr and records build information for service.
func New(service, version, addr string) (*MetricsServer, error) {
	if service == "" {
		return nil, errors.New("metrics: empty service name")
	}
	buildInfo.WithLabelValues(service, version).Set(1)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry}))

	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Handler returns the HTTP handler serving the metrics endpoint.
func (m *MetricsServer) Handler() http.Handler {
	return m.srv.Handler
}

// ListenAndServe blocks serving metrics until Shutdown is called.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
