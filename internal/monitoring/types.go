package monitoring

import (
	"time"

	"github.com/NikhilSetiya/meshgate/pkg/alerting"
)

// Metric names produced by each collection cycle
const (
	MetricErrorRate         = "error_rate"
	MetricAvgLatencyMs      = "avg_latency_ms"
	MetricP95LatencyMs      = "p95_latency_ms"
	MetricRequestsPerSecond = "requests_per_second"
	MetricHealthyInstances  = "healthy_instances"
	MetricTotalInstances    = "total_instances"
	MetricBreakerState      = "breaker_state"
)

// MetricSample is one collected data point for a (service, metric) pair
type MetricSample struct {
	Service     string    `json:"service"`
	Metric      string    `json:"metric"`
	Value       float64   `json:"value"`
	CollectedAt time.Time `json:"collected_at"`
}

// AlertRule describes a threshold condition evaluated after each collection
type AlertRule struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Metric    string            `json:"metric"`
	Operator  string            `json:"operator"` // >, <, >=, <=, ==, !=
	Threshold float64           `json:"threshold"`
	Severity  alerting.Severity `json:"severity"`
	// Services limits the rule to specific services; empty means all
	Services []string      `json:"services,omitempty"`
	Cooldown time.Duration `json:"cooldown"`
	// Channels names the notification channels to dispatch to; empty
	// means every registered channel
	Channels []string `json:"channels,omitempty"`
	Enabled  bool     `json:"enabled"`
}

// ServiceStatus summarizes a service's overall condition
type ServiceStatus string

const (
	StatusHealthy   ServiceStatus = "healthy"
	StatusDegraded  ServiceStatus = "degraded"
	StatusUnhealthy ServiceStatus = "unhealthy"
)

// ServiceDashboard is the per-service read model rebuilt on every
// collection cycle
type ServiceDashboard struct {
	ServiceName       string            `json:"service_name"`
	Status            ServiceStatus     `json:"status"`
	HealthyInstances  int               `json:"healthy_instances"`
	TotalInstances    int               `json:"total_instances"`
	RequestsPerSecond float64           `json:"requests_per_second"`
	AvgLatencyMs      float64           `json:"avg_latency_ms"`
	P95LatencyMs      float64           `json:"p95_latency_ms"`
	ErrorRate         float64           `json:"error_rate"`
	BreakerState      string            `json:"breaker_state"`
	ActiveAlerts      []*alerting.Alert `json:"active_alerts"`
	UpdatedAt         time.Time         `json:"updated_at"`
}
