// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements the MetricsCollector port using Prometheus.
type Collector struct {
	registry *prometheus.Registry

	jobs                *prometheus.CounterVec
	jobDuration         *prometheus.HistogramVec
	jobsInFlight        prometheus.Gauge
	windows             *prometheus.CounterVec
	inferenceCalls      *prometheus.CounterVec
	inferenceDuration   prometheus.Histogram
	inferenceRetries    prometheus.Counter
	vectors             prometheus.Counter
	storageOperations   *prometheus.CounterVec
	storageDuration     *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector creates a collector with its own registry, which also carries
// the Go runtime and process collectors.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "flotsam"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		jobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Jobs by reached status",
			},
			[]string{"status"},
		),

		jobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Scene processing time in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"status"},
		),

		jobsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs_in_flight",
				Help:      "Jobs currently being processed",
			},
		),

		windows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_windows_total",
				Help:      "Windows passing through each pipeline stage",
			},
			[]string{"stage"},
		),

		inferenceCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inference_requests_total",
				Help:      "Predictor calls",
			},
			[]string{"status"},
		),

		inferenceDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "inference_duration_seconds",
				Help:      "Predictor call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		inferenceRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inference_retries_total",
				Help:      "Retried predictor calls",
			},
		),

		vectors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "vectors_total",
				Help:      "Extracted vectors",
			},
		),

		storageOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_operations_total",
				Help:      "Total number of storage operations",
			},
			[]string{"operation", "status"},
		),

		storageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_duration_seconds",
				Help:      "Storage operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// IncJobs implements output.MetricsCollector.
func (c *Collector) IncJobs(status string) {
	c.jobs.WithLabelValues(status).Inc()
}

// ObserveJobDuration implements output.MetricsCollector.
func (c *Collector) ObserveJobDuration(status string, duration time.Duration) {
	c.jobDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// SetJobsInFlight implements output.MetricsCollector.
func (c *Collector) SetJobsInFlight(count int) {
	c.jobsInFlight.Set(float64(count))
}

// IncWindows implements output.MetricsCollector.
func (c *Collector) IncWindows(stage string) {
	c.windows.WithLabelValues(stage).Inc()
}

// ObserveInference implements output.MetricsCollector.
func (c *Collector) ObserveInference(success bool, duration time.Duration) {
	c.inferenceCalls.WithLabelValues(statusLabel(success)).Inc()
	c.inferenceDuration.Observe(duration.Seconds())
}

// IncInferenceRetries implements output.MetricsCollector.
func (c *Collector) IncInferenceRetries() {
	c.inferenceRetries.Inc()
}

// AddVectors implements output.MetricsCollector.
func (c *Collector) AddVectors(count int) {
	c.vectors.Add(float64(count))
}

// IncStorageOperations implements output.MetricsCollector.
func (c *Collector) IncStorageOperations(operation string, success bool) {
	c.storageOperations.WithLabelValues(operation, statusLabel(success)).Inc()
}

// ObserveStorageDuration implements output.MetricsCollector.
func (c *Collector) ObserveStorageDuration(operation string, duration time.Duration) {
	c.storageDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Handler returns the HTTP handler exposing the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Middleware returns HTTP middleware for request metrics. Installed on a
// gorilla router, paths are labelled by route template.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		path := routeTemplate(r)
		c.httpRequestsTotal.WithLabelValues(r.Method, path, statusToString(wrapped.statusCode)).Inc()
		c.httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// routeTemplate keeps label cardinality bounded by using the matched route
// instead of the raw path.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// statusToString converts HTTP status code to string category.
func statusToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return strconv.Itoa(code)
	}
}

// Server serves the metrics endpoint on its own port.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// NewServer creates a metrics server for addr, exposing the collector at path.
func NewServer(addr, path string, c *Collector, logger *slog.Logger) *Server {
	routes := http.NewServeMux()
	routes.Handle(path, c.Handler())
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           routes,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting metrics server", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
