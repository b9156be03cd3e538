package monitoring

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NikhilSetiya/meshgate/internal/balancer"
	"github.com/NikhilSetiya/meshgate/internal/breaker"
	"github.com/NikhilSetiya/meshgate/internal/cache"
	"github.com/NikhilSetiya/meshgate/internal/registry"
	"github.com/NikhilSetiya/meshgate/pkg/alerting"
	"github.com/NikhilSetiya/meshgate/pkg/errors"
	"github.com/NikhilSetiya/meshgate/pkg/logging"
	"github.com/NikhilSetiya/meshgate/pkg/metrics"
)

// Config holds aggregator configuration
type Config struct {
	CollectionInterval time.Duration `json:"collection_interval"`
	// MaxSamples bounds the per-(service, metric) sample ring
	MaxSamples      int           `json:"max_samples"`
	DefaultCooldown time.Duration `json:"default_cooldown"`
	DashboardTTL    time.Duration `json:"dashboard_ttl"`
}

// DefaultConfig returns default aggregator configuration
func DefaultConfig() *Config {
	return &Config{
		CollectionInterval: 30 * time.Second,
		MaxSamples:         1000,
		DefaultCooldown:    15 * time.Minute,
		DashboardTTL:       2 * time.Minute,
	}
}

// Aggregator periodically snapshots the registry, balancer and breakers,
// keeps bounded metric history, and evaluates alert rules against the
// latest snapshot.
type Aggregator struct {
	config   *Config
	registry *registry.Registry
	balancer *balancer.Balancer
	breakers *breaker.Group
	store    cache.Store
	metrics  *metrics.Metrics
	logger   *logging.Logger

	mutex      sync.RWMutex
	samples    map[string][]MetricSample // keyed service|metric
	rules      map[string]*AlertRule
	active     map[string]*alerting.Alert // keyed rule|service
	cooldowns  map[string]time.Time       // keyed rule|service
	byID       map[string]*alerting.Alert
	dashboards map[string]*ServiceDashboard
	prevTotals map[string]int64
	lastCycle  time.Time

	channelMutex sync.RWMutex
	channels     []alerting.NotificationChannel

	now     func() time.Time
	stopCh  chan struct{}
	running bool
	runMux  sync.Mutex
}

// NewAggregator creates a monitoring aggregator. The cache store and
// metrics are optional.
func NewAggregator(config *Config, reg *registry.Registry, lb *balancer.Balancer, breakers *breaker.Group, store cache.Store, m *metrics.Metrics, logger *logging.Logger) *Aggregator {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxSamples <= 0 {
		config.MaxSamples = DefaultConfig().MaxSamples
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &Aggregator{
		config:     config,
		registry:   reg,
		balancer:   lb,
		breakers:   breakers,
		store:      store,
		metrics:    m,
		logger:     logger,
		samples:    make(map[string][]MetricSample),
		rules:      make(map[string]*AlertRule),
		active:     make(map[string]*alerting.Alert),
		cooldowns:  make(map[string]time.Time),
		byID:       make(map[string]*alerting.Alert),
		dashboards: make(map[string]*ServiceDashboard),
		prevTotals: make(map[string]int64),
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

// AddChannel registers a notification channel
func (a *Aggregator) AddChannel(channel alerting.NotificationChannel) {
	a.channelMutex.Lock()
	defer a.channelMutex.Unlock()
	a.channels = append(a.channels, channel)
	a.logger.Info("Notification channel registered", "channel", channel.Name())
}

// AddRule registers or replaces an alert rule
func (a *Aggregator) AddRule(rule *AlertRule) error {
	switch rule.Operator {
	case ">", "<", ">=", "<=", "==", "!=":
	default:
		return errors.NewValidationError("unsupported alert rule operator: " + rule.Operator)
	}
	if rule.Metric == "" {
		return errors.NewValidationError("alert rule metric is required")
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.Cooldown <= 0 {
		rule.Cooldown = a.config.DefaultCooldown
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.rules[rule.ID] = rule
	return nil
}

// RemoveRule deletes a rule, reporting whether it existed
func (a *Aggregator) RemoveRule(id string) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if _, ok := a.rules[id]; !ok {
		return false
	}
	delete(a.rules, id)
	return true
}

// Rules returns all rules sorted by name
func (a *Aggregator) Rules() []*AlertRule {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	rules := make([]*AlertRule, 0, len(a.rules))
	for _, rule := range a.rules {
		copied := *rule
		rules = append(rules, &copied)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })
	return rules
}

// Start begins periodic collection
func (a *Aggregator) Start(ctx context.Context) error {
	a.runMux.Lock()
	defer a.runMux.Unlock()

	if a.running {
		return errors.NewValidationError("monitoring aggregator is already running")
	}
	a.running = true

	go a.collectLoop(ctx)
	a.logger.Info("Monitoring aggregator started",
		"interval", a.config.CollectionInterval.String(),
	)
	return nil
}

// Stop halts periodic collection
func (a *Aggregator) Stop() {
	a.runMux.Lock()
	defer a.runMux.Unlock()

	if !a.running {
		return
	}
	close(a.stopCh)
	a.running = false
}

func (a *Aggregator) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(a.config.CollectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.Collect(ctx)
		}
	}
}

// Collect runs one collection and evaluation cycle
func (a *Aggregator) Collect(ctx context.Context) {
	now := a.now()
	a.registry.SweepStale(now)

	services := a.serviceNames()
	latest := make(map[string]map[string]float64, len(services))

	a.mutex.Lock()
	elapsed := now.Sub(a.lastCycle)
	a.lastCycle = now

	for _, service := range services {
		snapshot := a.snapshotService(service, elapsed)
		latest[service] = snapshot
		for metric, value := range snapshot {
			a.appendSampleLocked(MetricSample{
				Service:     service,
				Metric:      metric,
				Value:       value,
				CollectedAt: now,
			})
		}
	}
	a.mutex.Unlock()

	a.updateGauges(latest)
	a.evaluateRules(ctx, now, latest)
	a.rebuildDashboards(ctx, now, latest)
}

func (a *Aggregator) serviceNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, name := range a.registry.Services() {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, name := range a.breakers.Services() {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// snapshotService computes the latest metric values for one service.
// Caller holds the mutex for prevTotals bookkeeping.
func (a *Aggregator) snapshotService(service string, elapsed time.Duration) map[string]float64 {
	healthy := len(a.registry.ListHealthy(service))
	total := len(a.registry.GetAll(service))
	stats := a.balancer.Stats(service)
	state := a.breakers.For(service).State()

	rps := 0.0
	if elapsed > 0 {
		delta := stats.TotalRequests - a.prevTotals[service]
		if delta > 0 {
			rps = float64(delta) / elapsed.Seconds()
		}
	}
	a.prevTotals[service] = stats.TotalRequests

	return map[string]float64{
		MetricErrorRate:         stats.ErrorRate(),
		MetricAvgLatencyMs:      stats.AvgResponseMs,
		MetricP95LatencyMs:      stats.P95ResponseMs,
		MetricRequestsPerSecond: rps,
		MetricHealthyInstances:  float64(healthy),
		MetricTotalInstances:    float64(total),
		MetricBreakerState:      float64(state),
	}
}

func (a *Aggregator) appendSampleLocked(sample MetricSample) {
	key := sample.Service + "|" + sample.Metric
	ring := append(a.samples[key], sample)
	if len(ring) > a.config.MaxSamples {
		ring = ring[len(ring)-a.config.MaxSamples:]
	}
	a.samples[key] = ring
}

// Samples returns the retained history for a (service, metric) pair
func (a *Aggregator) Samples(service, metric string) []MetricSample {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	ring := a.samples[service+"|"+metric]
	return append([]MetricSample(nil), ring...)
}

func (a *Aggregator) updateGauges(latest map[string]map[string]float64) {
	if a.metrics == nil {
		return
	}
	for service, snapshot := range latest {
		a.metrics.SetInstanceCounts(service,
			int(snapshot[MetricHealthyInstances]),
			int(snapshot[MetricTotalInstances]),
		)
		a.metrics.SetCircuitBreakerState(service, int(snapshot[MetricBreakerState]))
	}
}

// pendingNotice pairs an alert snapshot with its rule so channel sends can
// happen after the mutex is released. Channels may be slow; holding the
// lock across a send would stall collection and the read API.
type pendingNotice struct {
	rule  *AlertRule
	alert *alerting.Alert
}

func (a *Aggregator) evaluateRules(ctx context.Context, now time.Time, latest map[string]map[string]float64) {
	var pending []pendingNotice

	a.mutex.Lock()
	for _, rule := range a.rules {
		if !rule.Enabled {
			continue
		}
		for service, snapshot := range latest {
			if !ruleAppliesTo(rule, service) {
				continue
			}
			value, ok := snapshot[rule.Metric]
			if !ok {
				continue
			}

			key := rule.ID + "|" + service
			holds := compare(value, rule.Operator, rule.Threshold)

			if !holds {
				// Implicit resolve when the condition clears
				if alert, active := a.active[key]; active {
					pending = append(pending, a.resolveLocked(alert, now))
				}
				continue
			}

			if _, active := a.active[key]; active {
				continue
			}
			if expiry, ok := a.cooldowns[key]; ok && now.Before(expiry) {
				continue
			}

			alert := &alerting.Alert{
				ID:        uuid.New().String(),
				RuleID:    rule.ID,
				Service:   service,
				Metric:    rule.Metric,
				Value:     value,
				Threshold: rule.Threshold,
				Severity:  rule.Severity,
				Status:    alerting.StatusActive,
				Message:   fmt.Sprintf("%s: %s %s %.2f for %s (value %.2f)", rule.Name, rule.Metric, rule.Operator, rule.Threshold, service, value),
				FiredAt:   now,
			}
			a.active[key] = alert
			a.byID[alert.ID] = alert
			a.cooldowns[key] = now.Add(rule.Cooldown)

			fired := *alert
			pending = append(pending, pendingNotice{rule: rule, alert: &fired})
		}
	}
	a.mutex.Unlock()

	for _, notice := range pending {
		a.dispatch(ctx, notice.rule, notice.alert)
	}
}

func ruleAppliesTo(rule *AlertRule, service string) bool {
	if len(rule.Services) == 0 {
		return true
	}
	for _, name := range rule.Services {
		if name == service {
			return true
		}
	}
	return false
}

func compare(value float64, operator string, threshold float64) bool {
	switch operator {
	case ">":
		return value > threshold
	case "<":
		return value < threshold
	case ">=":
		return value >= threshold
	case "<=":
		return value <= threshold
	case "==":
		return value == threshold
	case "!=":
		return value != threshold
	default:
		return false
	}
}

// dispatch sends an alert to the rule's channels. Each channel failure is
// logged independently and never blocks the others.
func (a *Aggregator) dispatch(ctx context.Context, rule *AlertRule, alert *alerting.Alert) {
	a.channelMutex.RLock()
	channels := make([]alerting.NotificationChannel, len(a.channels))
	copy(channels, a.channels)
	a.channelMutex.RUnlock()

	for _, channel := range channels {
		if len(rule.Channels) > 0 && !containsString(rule.Channels, channel.Name()) {
			continue
		}

		err := channel.Send(ctx, alert)
		if a.metrics != nil {
			a.metrics.RecordAlertNotification(channel.Name(), err == nil)
		}
		if err != nil {
			a.logger.Error("Alert notification failed",
				"channel", channel.Name(),
				"alert_id", alert.ID,
				"rule", rule.Name,
				"error", err.Error(),
			)
		}
	}
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// Acknowledge marks an active alert as acknowledged
func (a *Aggregator) Acknowledge(alertID string) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	alert, ok := a.byID[alertID]
	if !ok || alert.Status == alerting.StatusResolved {
		return errors.NewNotFoundError("alert")
	}

	now := a.now()
	alert.Status = alerting.StatusAcknowledged
	alert.AckedAt = &now
	return nil
}

// Resolve explicitly resolves an alert
func (a *Aggregator) Resolve(ctx context.Context, alertID string) error {
	a.mutex.Lock()
	alert, ok := a.byID[alertID]
	if !ok || alert.Status == alerting.StatusResolved {
		a.mutex.Unlock()
		return errors.NewNotFoundError("alert")
	}
	notice := a.resolveLocked(alert, a.now())
	a.mutex.Unlock()

	a.dispatch(ctx, notice.rule, notice.alert)
	return nil
}

// resolveLocked finalizes an alert and returns the notice to dispatch once
// the caller has released the mutex.
func (a *Aggregator) resolveLocked(alert *alerting.Alert, now time.Time) pendingNotice {
	alert.Status = alerting.StatusResolved
	resolvedAt := now
	alert.ResolvedAt = &resolvedAt
	delete(a.active, alert.RuleID+"|"+alert.Service)

	rule, ok := a.rules[alert.RuleID]
	if !ok {
		rule = &AlertRule{Name: alert.RuleID}
	}

	a.logger.Info("Alert resolved",
		"alert_id", alert.ID,
		"service", alert.Service,
		"duration", now.Sub(alert.FiredAt).String(),
	)

	resolved := *alert
	return pendingNotice{rule: rule, alert: &resolved}
}

// ActiveAlerts returns all currently active or acknowledged alerts
func (a *Aggregator) ActiveAlerts() []*alerting.Alert {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	alerts := make([]*alerting.Alert, 0, len(a.active))
	for _, alert := range a.active {
		copied := *alert
		alerts = append(alerts, &copied)
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].FiredAt.Before(alerts[j].FiredAt) })
	return alerts
}

func (a *Aggregator) activeForServiceLocked(service string) []*alerting.Alert {
	var alerts []*alerting.Alert
	for _, alert := range a.active {
		if alert.Service == service {
			copied := *alert
			alerts = append(alerts, &copied)
		}
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].FiredAt.Before(alerts[j].FiredAt) })
	return alerts
}

func (a *Aggregator) rebuildDashboards(ctx context.Context, now time.Time, latest map[string]map[string]float64) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for service, snapshot := range latest {
		healthy := int(snapshot[MetricHealthyInstances])
		total := int(snapshot[MetricTotalInstances])
		state := breaker.State(int(snapshot[MetricBreakerState]))

		dashboard := &ServiceDashboard{
			ServiceName:       service,
			Status:            classify(healthy, total, state),
			HealthyInstances:  healthy,
			TotalInstances:    total,
			RequestsPerSecond: snapshot[MetricRequestsPerSecond],
			AvgLatencyMs:      snapshot[MetricAvgLatencyMs],
			P95LatencyMs:      snapshot[MetricP95LatencyMs],
			ErrorRate:         snapshot[MetricErrorRate],
			BreakerState:      state.String(),
			ActiveAlerts:      a.activeForServiceLocked(service),
			UpdatedAt:         now,
		}
		a.dashboards[service] = dashboard

		if a.store != nil {
			key := cache.CacheKey{Prefix: cache.PrefixDashboard, ID: service}
			if err := a.store.Set(ctx, key, dashboard, a.config.DashboardTTL); err != nil {
				a.logger.Warn("Failed to push dashboard snapshot",
					"service", service,
					"error", err.Error(),
				)
			}
		}
	}
}

func classify(healthy, total int, state breaker.State) ServiceStatus {
	switch {
	case state == breaker.StateOpen, total > 0 && healthy == 0:
		return StatusUnhealthy
	case healthy < total, state == breaker.StateHalfOpen:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// Dashboard returns the latest read model for one service
func (a *Aggregator) Dashboard(service string) (*ServiceDashboard, bool) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	dashboard, ok := a.dashboards[service]
	if !ok {
		return nil, false
	}
	copied := *dashboard
	return &copied, true
}

// Dashboards returns the latest read models for all services
func (a *Aggregator) Dashboards() []*ServiceDashboard {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	dashboards := make([]*ServiceDashboard, 0, len(a.dashboards))
	for _, dashboard := range a.dashboards {
		copied := *dashboard
		dashboards = append(dashboards, &copied)
	}
	sort.Slice(dashboards, func(i, j int) bool {
		return dashboards[i].ServiceName < dashboards[j].ServiceName
	})
	return dashboards
}
