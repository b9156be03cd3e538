package registry

import (
	"fmt"
	"time"
)

// HealthState represents the health flag of a service instance
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
)

// ServiceInstance is one running, addressable deployment of a named backend
// service. Owned exclusively by the Registry; mutated only by the health
// checker and by explicit register/deregister calls.
type ServiceInstance struct {
	ID              string            `json:"id"`
	ServiceName     string            `json:"service_name"`
	Host            string            `json:"host"`
	Port            int               `json:"port"`
	Protocol        string            `json:"protocol"`
	Health          HealthState       `json:"health"`
	Weight          int               `json:"weight"`
	Tags            []string          `json:"tags,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	HealthCheckPath string            `json:"health_check_path"`
	LastHealthCheck time.Time         `json:"last_health_check"`
	RegisteredAt    time.Time         `json:"registered_at"`
	LastSeen        time.Time         `json:"last_seen"`
}

// URL returns the base URL of the instance
func (si *ServiceInstance) URL() string {
	return fmt.Sprintf("%s://%s:%d", si.Protocol, si.Host, si.Port)
}

// HealthCheckURL returns the probe target for the instance
func (si *ServiceInstance) HealthCheckURL() string {
	return si.URL() + si.HealthCheckPath
}

// identityKey is the uniqueness key within the registry
func (si *ServiceInstance) identityKey() string {
	return fmt.Sprintf("%s|%s|%d", si.ServiceName, si.Host, si.Port)
}

// clone returns a copy safe to hand to callers
func (si *ServiceInstance) clone() *ServiceInstance {
	cp := *si
	if si.Tags != nil {
		cp.Tags = append([]string(nil), si.Tags...)
	}
	if si.Metadata != nil {
		cp.Metadata = make(map[string]string, len(si.Metadata))
		for k, v := range si.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// RegistrationSpec is the external registration input
type RegistrationSpec struct {
	Name                string            `json:"name" binding:"required"`
	Host                string            `json:"host" binding:"required"`
	Port                int               `json:"port" binding:"required"`
	Protocol            string            `json:"protocol,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	Tags                []string          `json:"tags,omitempty"`
	Weight              int               `json:"weight,omitempty"`
	HealthCheckPath     string            `json:"health_check_path,omitempty"`

	// HealthCheckIntervalMs is a millisecond count on the wire
	HealthCheckIntervalMs int64 `json:"health_check_interval_ms,omitempty"`
}

// healthCheckInterval converts the wire milliseconds to a duration
func (s *RegistrationSpec) healthCheckInterval() time.Duration {
	return time.Duration(s.HealthCheckIntervalMs) * time.Millisecond
}

// HealthEvent is emitted on an unhealthy->healthy or healthy->unhealthy
// transition. Delivery is causally ordered per instance only.
type HealthEvent struct {
	ServiceName string      `json:"service_name"`
	InstanceID  string      `json:"instance_id"`
	From        HealthState `json:"from"`
	To          HealthState `json:"to"`
	CheckedAt   time.Time   `json:"checked_at"`
	Duration    time.Duration
}

// HealthListener receives health transition events
type HealthListener func(event HealthEvent)

// DeregisterListener is notified after an instance has been removed
type DeregisterListener func(serviceName, instanceID string)

