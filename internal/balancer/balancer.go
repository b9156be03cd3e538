package balancer

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/NikhilSetiya/meshgate/internal/registry"
	"github.com/NikhilSetiya/meshgate/pkg/logging"
)

// Strategy selects one instance from a service's healthy set
type Strategy string

const (
	StrategyRoundRobin         Strategy = "round-robin"
	StrategyWeightedRoundRobin Strategy = "weighted-round-robin"
	StrategyLeastConnections   Strategy = "least-connections"
	StrategyRandom             Strategy = "random"
	StrategyHealthBased        Strategy = "health-based"
)

// DefaultStrategy is used when callers don't specify one
const DefaultStrategy = StrategyHealthBased

// responseWindow bounds the rolling response-time sample per service
const responseWindow = 100

// serviceState is the per-service mutable selection state. Guarded by its
// own mutex so services don't contend with each other.
type serviceState struct {
	mutex           sync.Mutex
	rrCounter       uint64
	connections     map[string]int // instance id -> in-flight count
	instanceCounts  map[string]int64
	totalRequests   int64
	totalSuccesses  int64
	totalFailures   int64
	responseTimes   []time.Duration
	lastUsed        time.Time
}

// Stats is a snapshot of a service's load-balancer counters
type Stats struct {
	ServiceName    string           `json:"service_name"`
	TotalRequests  int64            `json:"total_requests"`
	TotalSuccesses int64            `json:"total_successes"`
	TotalFailures  int64            `json:"total_failures"`
	InstanceCounts map[string]int64 `json:"instance_counts"`
	AvgResponseMs  float64          `json:"avg_response_ms"`
	P95ResponseMs  float64          `json:"p95_response_ms"`
	LastUsed       time.Time        `json:"last_used"`
}

// ErrorRate returns failures over total, 0 when idle
func (s Stats) ErrorRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.TotalFailures) / float64(s.TotalRequests)
}

// Balancer selects instances from the registry's healthy set and tracks
// per-instance in-flight connections and rolling response times.
type Balancer struct {
	registry *registry.Registry
	logger   *logging.Logger

	mutex    sync.RWMutex
	services map[string]*serviceState

	rngMutex sync.Mutex
	rng      *rand.Rand
}

// New creates a load balancer over the given registry
func New(reg *registry.Registry, logger *logging.Logger) *Balancer {
	if logger == nil {
		logger = logging.GetLogger()
	}
	b := &Balancer{
		registry: reg,
		logger:   logger,
		services: make(map[string]*serviceState),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if reg != nil {
		reg.SubscribeDeregister(b.PurgeInstance)
	}
	return b
}

func (b *Balancer) state(serviceName string) *serviceState {
	b.mutex.RLock()
	state, ok := b.services[serviceName]
	b.mutex.RUnlock()
	if ok {
		return state
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	if state, ok = b.services[serviceName]; ok {
		return state
	}
	state = &serviceState{
		connections:    make(map[string]int),
		instanceCounts: make(map[string]int64),
	}
	b.services[serviceName] = state
	return state
}

// Select picks one instance for the service using the given strategy.
// Returns nil when the service is entirely unknown. When no instance is
// healthy but some are registered, the least-bad unhealthy instance is
// returned as an explicit last resort; callers must check Health before
// trusting it.
func (b *Balancer) Select(serviceName string, strategy Strategy) *registry.ServiceInstance {
	if strategy == "" {
		strategy = DefaultStrategy
	}

	healthy := b.registry.ListHealthy(serviceName)
	if len(healthy) == 0 {
		all := b.registry.GetAll(serviceName)
		if len(all) == 0 {
			return nil
		}
		// Last resort: most recently checked instance regardless of flag
		return mostRecentlyChecked(all)
	}

	state := b.state(serviceName)
	state.mutex.Lock()
	defer state.mutex.Unlock()

	var chosen *registry.ServiceInstance
	switch strategy {
	case StrategyRoundRobin:
		chosen = healthy[state.rrCounter%uint64(len(healthy))]
		state.rrCounter++
	case StrategyWeightedRoundRobin:
		chosen = b.weightedPick(healthy)
	case StrategyLeastConnections:
		chosen = leastConnectionsPick(healthy, state.connections)
	case StrategyRandom:
		chosen = healthy[b.intn(len(healthy))]
	case StrategyHealthBased:
		chosen = mostRecentlyChecked(healthy)
	default:
		chosen = mostRecentlyChecked(healthy)
	}

	state.lastUsed = time.Now()
	return chosen
}

// weightedPick draws uniformly in [0, totalWeight) and walks the instances
// subtracting weights; selection frequency converges to weight_i / Σweight.
func (b *Balancer) weightedPick(instances []*registry.ServiceInstance) *registry.ServiceInstance {
	totalWeight := 0
	for _, instance := range instances {
		totalWeight += instance.Weight
	}
	if totalWeight <= 0 {
		return instances[0]
	}

	draw := b.intn(totalWeight)
	for _, instance := range instances {
		draw -= instance.Weight
		if draw < 0 {
			return instance
		}
	}
	return instances[len(instances)-1]
}

func leastConnectionsPick(instances []*registry.ServiceInstance, connections map[string]int) *registry.ServiceInstance {
	chosen := instances[0]
	min := connections[chosen.ID]
	for _, instance := range instances[1:] {
		if connections[instance.ID] < min {
			chosen = instance
			min = connections[instance.ID]
		}
	}
	return chosen
}

func mostRecentlyChecked(instances []*registry.ServiceInstance) *registry.ServiceInstance {
	chosen := instances[0]
	for _, instance := range instances[1:] {
		if instance.LastHealthCheck.After(chosen.LastHealthCheck) {
			chosen = instance
		}
	}
	return chosen
}

func (b *Balancer) intn(n int) int {
	b.rngMutex.Lock()
	defer b.rngMutex.Unlock()
	return b.rng.Intn(n)
}

// TrackConnection increments the in-flight count for an instance
func (b *Balancer) TrackConnection(serviceName, instanceID string) {
	state := b.state(serviceName)
	state.mutex.Lock()
	defer state.mutex.Unlock()
	state.connections[instanceID]++
}

// ReleaseConnection records the outcome of one logical call and decrements
// the in-flight count, floored at zero.
func (b *Balancer) ReleaseConnection(serviceName, instanceID string, success bool, elapsed time.Duration) {
	state := b.state(serviceName)
	state.mutex.Lock()
	defer state.mutex.Unlock()

	if state.connections[instanceID] > 0 {
		state.connections[instanceID]--
	}

	state.totalRequests++
	state.instanceCounts[instanceID]++
	if success {
		state.totalSuccesses++
	} else {
		state.totalFailures++
	}

	state.responseTimes = append(state.responseTimes, elapsed)
	if len(state.responseTimes) > responseWindow {
		state.responseTimes = state.responseTimes[len(state.responseTimes)-responseWindow:]
	}
}

// Connections returns the current in-flight count for an instance
func (b *Balancer) Connections(serviceName, instanceID string) int {
	state := b.state(serviceName)
	state.mutex.Lock()
	defer state.mutex.Unlock()
	return state.connections[instanceID]
}

// PurgeInstance removes connection and count state for a deregistered
// instance.
func (b *Balancer) PurgeInstance(serviceName, instanceID string) {
	state := b.state(serviceName)
	state.mutex.Lock()
	defer state.mutex.Unlock()
	delete(state.connections, instanceID)
	delete(state.instanceCounts, instanceID)
}

// Stats returns a snapshot of the service's counters
func (b *Balancer) Stats(serviceName string) Stats {
	state := b.state(serviceName)
	state.mutex.Lock()
	defer state.mutex.Unlock()

	counts := make(map[string]int64, len(state.instanceCounts))
	for id, n := range state.instanceCounts {
		counts[id] = n
	}

	return Stats{
		ServiceName:    serviceName,
		TotalRequests:  state.totalRequests,
		TotalSuccesses: state.totalSuccesses,
		TotalFailures:  state.totalFailures,
		InstanceCounts: counts,
		AvgResponseMs:  avgMillis(state.responseTimes),
		P95ResponseMs:  percentileMillis(state.responseTimes, 0.95),
		LastUsed:       state.lastUsed,
	}
}

func avgMillis(samples []time.Duration) float64 {
	if len(samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, sample := range samples {
		total += sample
	}
	return float64(total.Milliseconds()) / float64(len(samples))
}

func percentileMillis(samples []time.Duration, pct float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(pct * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return float64(sorted[idx].Milliseconds())
}
