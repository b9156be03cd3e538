package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Gateway HTTP surface
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Upstream calls through the resilient client
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamAttemptDuration *prometheus.HistogramVec
	UpstreamRetriesTotal    *prometheus.CounterVec

	// Resilience state
	CircuitBreakerState *prometheus.GaugeVec
	HealthyInstances    *prometheus.GaugeVec
	TotalInstances      *prometheus.GaugeVec
	FallbacksTotal      *prometheus.CounterVec

	// Alerting and cache
	AlertNotificationsTotal *prometheus.CounterVec
	CacheOperationDuration  *prometheus.HistogramVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "meshgate",
		Subsystem: "",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being served",
			},
			[]string{"method", "path"},
		),
		UpstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "upstream_requests_total",
				Help:      "Total number of upstream calls by outcome",
			},
			[]string{"service", "outcome"},
		),
		UpstreamAttemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "upstream_attempt_duration_seconds",
				Help:      "Duration of individual upstream attempts in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		UpstreamRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "upstream_retries_total",
				Help:      "Total number of upstream retry attempts",
			},
			[]string{"service"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"service"},
		),
		HealthyInstances: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "healthy_instances",
				Help:      "Number of healthy instances per service",
			},
			[]string{"service"},
		),
		TotalInstances: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "registered_instances",
				Help:      "Number of registered instances per service",
			},
			[]string{"service"},
		),
		FallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "fallback_executions_total",
				Help:      "Total number of fallback strategy executions",
			},
			[]string{"operation", "strategy", "outcome"},
		),
		AlertNotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "alert_notifications_total",
				Help:      "Total number of alert notifications by channel",
			},
			[]string{"channel", "outcome"},
		),
		CacheOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "cache_operation_duration_seconds",
				Help:      "Cache operation duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"operation"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "errors_total",
				Help:      "Total number of errors by component and type",
			},
			[]string{"component", "type"},
		),
		PanicsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "panics_total",
				Help:      "Total number of recovered panics",
			},
			[]string{"component"},
		),
	}

	// Register all metrics
	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.UpstreamRequestsTotal,
		m.UpstreamAttemptDuration,
		m.UpstreamRetriesTotal,
		m.CircuitBreakerState,
		m.HealthyInstances,
		m.TotalInstances,
		m.FallbacksTotal,
		m.AlertNotificationsTotal,
		m.CacheOperationDuration,
		m.ErrorsTotal,
		m.PanicsTotal,
	)

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// RecordUpstreamAttempt records one attempt against an upstream instance
func (m *Metrics) RecordUpstreamAttempt(service string, duration time.Duration, success bool) {
	if m.UpstreamRequestsTotal == nil {
		return
	}

	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.UpstreamRequestsTotal.WithLabelValues(service, outcome).Inc()
	m.UpstreamAttemptDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordUpstreamRetry records a retry of an upstream call
func (m *Metrics) RecordUpstreamRetry(service string) {
	if m.UpstreamRetriesTotal == nil {
		return
	}
	m.UpstreamRetriesTotal.WithLabelValues(service).Inc()
}

// SetCircuitBreakerState updates the breaker state gauge for a service
func (m *Metrics) SetCircuitBreakerState(service string, state int) {
	if m.CircuitBreakerState == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// SetInstanceCounts updates per-service instance gauges
func (m *Metrics) SetInstanceCounts(service string, healthy, total int) {
	if m.HealthyInstances == nil {
		return
	}
	m.HealthyInstances.WithLabelValues(service).Set(float64(healthy))
	m.TotalInstances.WithLabelValues(service).Set(float64(total))
}

// RecordFallback records a fallback strategy execution
func (m *Metrics) RecordFallback(operation, strategy string, success bool) {
	if m.FallbacksTotal == nil {
		return
	}

	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.FallbacksTotal.WithLabelValues(operation, strategy, outcome).Inc()
}

// RecordAlertNotification records a notification channel dispatch
func (m *Metrics) RecordAlertNotification(channel string, success bool) {
	if m.AlertNotificationsTotal == nil {
		return
	}

	outcome := "sent"
	if !success {
		outcome = "failed"
	}
	m.AlertNotificationsTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordCacheOperation records cache operation metrics
func (m *Metrics) RecordCacheOperation(operation string, duration time.Duration) {
	if m.CacheOperationDuration == nil {
		return
	}
	m.CacheOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordError records error metrics
func (m *Metrics) RecordError(component, errorType string) {
	if m.ErrorsTotal == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordPanic records panic metrics
func (m *Metrics) RecordPanic(component string) {
	if m.PanicsTotal == nil {
		return
	}
	m.PanicsTotal.WithLabelValues(component).Inc()
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.HTTPRequestsInFlight != nil {
			m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Inc()
			defer m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Dec()
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), duration)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
