package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NikhilSetiya/meshgate/pkg/errors"
	"github.com/NikhilSetiya/meshgate/pkg/logging"
)

// Config holds registry defaults applied to registrations that omit them
type Config struct {
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	HealthCheckTimeout  time.Duration `json:"health_check_timeout"`
	HealthCheckPath     string        `json:"health_check_path"`
	// StaleAfterIntervals flags an instance unhealthy when it has not been
	// seen for this many probe intervals
	StaleAfterIntervals int `json:"stale_after_intervals"`
}

// DefaultConfig returns default registry configuration
func DefaultConfig() *Config {
	return &Config{
		HealthCheckInterval: 30 * time.Second,
		HealthCheckTimeout:  5 * time.Second,
		HealthCheckPath:     "/health",
		StaleAfterIntervals: 3,
	}
}

// Registry is the source of truth for known service instances and their
// health flags. One per process, injected into all consumers.
type Registry struct {
	config *Config
	logger *logging.Logger

	mutex      sync.RWMutex
	instances  map[string]*ServiceInstance // by instance id
	identities map[string]string           // identity key -> instance id
	probes     map[string]*probe           // by instance id

	listenerMutex       sync.RWMutex
	listeners           []HealthListener
	deregisterListeners []DeregisterListener

	checker *HealthChecker
}

// New creates a new service registry
func New(config *Config, logger *logging.Logger) *Registry {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	r := &Registry{
		config:     config,
		logger:     logger,
		instances:  make(map[string]*ServiceInstance),
		identities: make(map[string]string),
		probes:     make(map[string]*probe),
	}
	r.checker = NewHealthChecker(r, config, logger)
	return r
}

// Register validates the registration, stores the instance and starts its health
// probe. Duplicate (name, host, port) identities are rejected.
func (r *Registry) Register(spec RegistrationSpec) (string, error) {
	if spec.Name == "" {
		return "", errors.NewValidationError("service name is required")
	}
	if spec.Host == "" {
		return "", errors.NewValidationError("host is required")
	}
	if spec.Port <= 0 || spec.Port > 65535 {
		return "", errors.NewValidationError("port must be in range 1-65535")
	}

	protocol := spec.Protocol
	if protocol == "" {
		protocol = "http"
	}
	if protocol != "http" && protocol != "https" {
		return "", errors.NewValidationError("protocol must be http or https")
	}

	weight := spec.Weight
	if weight <= 0 {
		weight = 100
	}

	path := spec.HealthCheckPath
	if path == "" {
		path = r.config.HealthCheckPath
	}

	interval := spec.healthCheckInterval()
	if interval <= 0 {
		interval = r.config.HealthCheckInterval
	}

	now := time.Now()
	instance := &ServiceInstance{
		ID:              uuid.New().String(),
		ServiceName:     spec.Name,
		Host:            spec.Host,
		Port:            spec.Port,
		Protocol:        protocol,
		Health:          HealthUnknown,
		Weight:          weight,
		Tags:            append([]string(nil), spec.Tags...),
		Metadata:        spec.Metadata,
		HealthCheckPath: path,
		RegisteredAt:    now,
		LastSeen:        now,
	}

	r.mutex.Lock()
	if existingID, ok := r.identities[instance.identityKey()]; ok {
		r.mutex.Unlock()
		return "", errors.NewConflictError("instance already registered").
			WithDetail("instance_id", existingID).
			WithDetail("service", spec.Name)
	}
	r.instances[instance.ID] = instance
	r.identities[instance.identityKey()] = instance.ID

	p := r.checker.startProbe(instance.ID, instance.ServiceName, instance.HealthCheckURL(), interval)
	r.probes[instance.ID] = p
	r.mutex.Unlock()

	r.logger.Info("Service instance registered",
		"service", instance.ServiceName,
		"instance_id", instance.ID,
		"address", instance.URL(),
		"weight", instance.Weight,
		"health_check_interval", interval.String(),
	)

	return instance.ID, nil
}

// Deregister removes an instance and cancels its health probe. Idempotent:
// an unknown id returns false with no side effects.
func (r *Registry) Deregister(instanceID string) bool {
	r.mutex.Lock()
	instance, ok := r.instances[instanceID]
	if !ok {
		r.mutex.Unlock()
		return false
	}
	delete(r.instances, instanceID)
	delete(r.identities, instance.identityKey())
	p := r.probes[instanceID]
	delete(r.probes, instanceID)
	r.mutex.Unlock()

	if p != nil {
		p.stop()
	}

	r.listenerMutex.RLock()
	listeners := make([]DeregisterListener, len(r.deregisterListeners))
	copy(listeners, r.deregisterListeners)
	r.listenerMutex.RUnlock()

	for _, listener := range listeners {
		listener(instance.ServiceName, instanceID)
	}

	r.logger.Info("Service instance deregistered",
		"service", instance.ServiceName,
		"instance_id", instanceID,
	)
	return true
}

// ListHealthy returns instances of the service currently flagged healthy,
// in registration order.
func (r *Registry) ListHealthy(serviceName string) []*ServiceInstance {
	return r.list(serviceName, true)
}

// GetAll returns all instances of the service, in registration order.
func (r *Registry) GetAll(serviceName string) []*ServiceInstance {
	return r.list(serviceName, false)
}

func (r *Registry) list(serviceName string, healthyOnly bool) []*ServiceInstance {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var out []*ServiceInstance
	for _, instance := range r.instances {
		if instance.ServiceName != serviceName {
			continue
		}
		if healthyOnly && instance.Health != HealthHealthy {
			continue
		}
		out = append(out, instance.clone())
	}
	sortByRegistration(out)
	return out
}

// Get returns a copy of a single instance by id
func (r *Registry) Get(instanceID string) (*ServiceInstance, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	instance, ok := r.instances[instanceID]
	if !ok {
		return nil, false
	}
	return instance.clone(), true
}

// Services returns the distinct service names currently registered
func (r *Registry) Services() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	seen := make(map[string]bool)
	var names []string
	for _, instance := range r.instances {
		if !seen[instance.ServiceName] {
			seen[instance.ServiceName] = true
			names = append(names, instance.ServiceName)
		}
	}
	sort.Strings(names)
	return names
}

// Subscribe registers a health transition listener. Events for one instance
// arrive in probe order; no ordering is guaranteed across instances.
func (r *Registry) Subscribe(listener HealthListener) {
	r.listenerMutex.Lock()
	defer r.listenerMutex.Unlock()
	r.listeners = append(r.listeners, listener)
}

// SubscribeDeregister registers a listener invoked after an instance has
// been removed, so per-instance state held elsewhere can be purged.
func (r *Registry) SubscribeDeregister(listener DeregisterListener) {
	r.listenerMutex.Lock()
	defer r.listenerMutex.Unlock()
	r.deregisterListeners = append(r.deregisterListeners, listener)
}

// Stop cancels all health probes. Used during shutdown.
func (r *Registry) Stop() {
	r.mutex.Lock()
	probes := make([]*probe, 0, len(r.probes))
	for _, p := range r.probes {
		probes = append(probes, p)
	}
	r.probes = make(map[string]*probe)
	r.mutex.Unlock()

	for _, p := range probes {
		p.stop()
	}
}

// recordProbeResult applies one probe outcome to the owning instance and
// emits a transition event when the health flag flips.
func (r *Registry) recordProbeResult(instanceID string, healthy bool, checkedAt time.Time, duration time.Duration) {
	r.mutex.Lock()
	instance, ok := r.instances[instanceID]
	if !ok {
		r.mutex.Unlock()
		return
	}

	from := instance.Health
	to := HealthUnhealthy
	if healthy {
		to = HealthHealthy
		instance.LastSeen = checkedAt
	}
	instance.Health = to
	instance.LastHealthCheck = checkedAt
	serviceName := instance.ServiceName
	r.mutex.Unlock()

	if from == to {
		return
	}

	r.logger.LogHealthTransition(serviceName, instanceID, healthy, duration)

	event := HealthEvent{
		ServiceName: serviceName,
		InstanceID:  instanceID,
		From:        from,
		To:          to,
		CheckedAt:   checkedAt,
		Duration:    duration,
	}

	r.listenerMutex.RLock()
	listeners := make([]HealthListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.listenerMutex.RUnlock()

	for _, listener := range listeners {
		listener(event)
	}
}

// SweepStale flags instances unhealthy when their probes have not seen them
// within the configured number of intervals. Called by the monitoring
// aggregator alongside its collection tick.
func (r *Registry) SweepStale(now time.Time) int {
	staleAfter := time.Duration(r.config.StaleAfterIntervals) * r.config.HealthCheckInterval
	if staleAfter <= 0 {
		return 0
	}

	var flagged []string
	r.mutex.Lock()
	for id, instance := range r.instances {
		if instance.Health == HealthHealthy && now.Sub(instance.LastSeen) > staleAfter {
			instance.Health = HealthUnhealthy
			flagged = append(flagged, id)
		}
	}
	r.mutex.Unlock()

	for _, id := range flagged {
		r.logger.Warn("Instance flagged stale", "instance_id", id)
	}
	return len(flagged)
}

func sortByRegistration(instances []*ServiceInstance) {
	sort.SliceStable(instances, func(i, j int) bool {
		if instances[i].RegisteredAt.Equal(instances[j].RegisteredAt) {
			return instances[i].ID < instances[j].ID
		}
		return instances[i].RegisteredAt.Before(instances[j].RegisteredAt)
	})
}
