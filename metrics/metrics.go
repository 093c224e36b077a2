// Package metrics exposes Prometheus instrumentation for the enrollment
// services: the domain instruments recorded by the device-management
// handlers plus a standalone server that publishes them on a dedicated
// address.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values recorded on RegistrationOutcomes.
const (
	OutcomeRegistered     = "registered"
	OutcomeUnregistered   = "unregistered"
	OutcomeRejectedScope  = "rejected_scope"
	OutcomeRejectedDomain = "rejected_domain"
	OutcomeRejectedAuth   = "rejected_auth"
	OutcomeError          = "error"
)

// Status label values recorded on PolicyFetches.
const (
	FetchOK           = "ok"
	FetchUnauthorized = "unauthorized"
	FetchNotFound     = "not_found"
	FetchError        = "error"
)

// Metrics bundles the domain instruments the services record.
type Metrics struct {
	// RegistrationOutcomes counts device registration requests by outcome.
	RegistrationOutcomes *prometheus.CounterVec

	// PolicyFetches counts policy fetch requests by status.
	PolicyFetches *prometheus.CounterVec

	// RegisteredDevices tracks the number of devices in the registry.
	RegisteredDevices prometheus.Gauge

	httpDuration *prometheus.HistogramVec
}

// MetricsServer owns a Metrics set and publishes it on a dedicated address.
type MetricsServer struct {
	*Metrics

	registry *prometheus.Registry
	srv      *http.Server
}

// New creates a metrics server for the given service name, listening on
// addr. The name becomes the metric namespace; an empty addr is valid when
// the caller only records instruments and never starts the server.
func New(name, addr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Metric names cannot contain dashes.
	namespace := strings.ReplaceAll(name, "-", "_")
	factory := promauto.With(registry)

	m := &Metrics{
		RegistrationOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registration_outcomes_total",
			Help:      "Device registration requests by outcome.",
		}, []string{"outcome"}),
		PolicyFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_fetches_total",
			Help:      "Policy fetch requests by status.",
		}, []string{"status"}),
		RegisteredDevices: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_devices",
			Help:      "Devices currently present in the registry.",
		}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &MetricsServer{
		Metrics:  m,
		registry: registry,
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// Registry returns the underlying Prometheus registry.
func (srv *MetricsServer) Registry() *prometheus.Registry {
	return srv.registry
}

// ListenAndServe serves the metrics endpoint until Shutdown.
func (srv *MetricsServer) ListenAndServe() error {
	return srv.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (srv *MetricsServer) Shutdown(ctx context.Context) error {
	return srv.srv.Shutdown(ctx)
}

// Middleware records request durations on the shared histogram, labeled by
// the matched chi route pattern to keep cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.httpDuration.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).
			Observe(time.Since(start).Seconds())
	})
}
