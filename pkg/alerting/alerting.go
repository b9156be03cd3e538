package alerting

import (
	"time"
)

// Severity represents alert severity levels
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Status tracks an alert through its lifecycle
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// Alert is one firing of an alert rule against a service
type Alert struct {
	ID        string    `json:"id"`
	RuleID    string    `json:"rule_id"`
	Service   string    `json:"service"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Severity  Severity  `json:"severity"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	FiredAt   time.Time `json:"fired_at"`

	AckedAt    *time.Time `json:"acked_at,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Resolved reports whether the alert has been resolved
func (a *Alert) Resolved() bool {
	return a.Status == StatusResolved
}
