package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/meshgate/internal/balancer"
	"github.com/NikhilSetiya/meshgate/internal/breaker"
	"github.com/NikhilSetiya/meshgate/internal/cache"
	"github.com/NikhilSetiya/meshgate/internal/registry"
	"github.com/NikhilSetiya/meshgate/pkg/alerting"
	"github.com/NikhilSetiya/meshgate/pkg/errors"
)

// recordingChannel captures dispatched alerts and can be made to fail.
type recordingChannel struct {
	name string
	fail bool

	mutex sync.Mutex
	sent  []*alerting.Alert
}

func (c *recordingChannel) Send(ctx context.Context, alert *alerting.Alert) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.fail {
		return fmt.Errorf("channel %s unavailable", c.name)
	}
	copied := *alert
	c.sent = append(c.sent, &copied)
	return nil
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) count() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.sent)
}

func (c *recordingChannel) last() *alerting.Alert {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

type fixture struct {
	registry   *registry.Registry
	balancer   *balancer.Balancer
	breakers   *breaker.Group
	aggregator *Aggregator
	clock      *fakeClock
}

type fakeClock struct {
	mutex sync.Mutex
	at    time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.at
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.at = c.at.Add(d)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg := registry.New(&registry.Config{
		HealthCheckInterval: 20 * time.Millisecond,
		HealthCheckTimeout:  200 * time.Millisecond,
		HealthCheckPath:     "/health",
		StaleAfterIntervals: 3,
	}, nil)
	t.Cleanup(reg.Stop)

	lb := balancer.New(reg, nil)
	breakers := breaker.NewGroup(breaker.DefaultConfig(), nil)

	clock := &fakeClock{at: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	agg := NewAggregator(&Config{
		CollectionInterval: time.Hour,
		MaxSamples:         1000,
		DefaultCooldown:    15 * time.Minute,
		DashboardTTL:       time.Minute,
	}, reg, lb, breakers, nil, nil, nil)
	agg.now = clock.Now

	return &fixture{registry: reg, balancer: lb, breakers: breakers, aggregator: agg, clock: clock}
}

func registerBackend(t *testing.T, r *registry.Registry, service string, status int) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	id, err := r.Register(registry.RegistrationSpec{Name: service, Host: u.Hostname(), Port: port})
	require.NoError(t, err)
	return id
}

func waitForHealth(t *testing.T, r *registry.Registry, id string, want registry.HealthState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if instance, ok := r.Get(id); ok && instance.Health == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("instance %s never reached health %s", id, want)
}

// recordOutcomes drives the balancer so Stats carries a known error rate.
func recordOutcomes(f *fixture, service, instanceID string, successes, failures int) {
	for i := 0; i < successes; i++ {
		f.balancer.TrackConnection(service, instanceID)
		f.balancer.ReleaseConnection(service, instanceID, true, 10*time.Millisecond)
	}
	for i := 0; i < failures; i++ {
		f.balancer.TrackConnection(service, instanceID)
		f.balancer.ReleaseConnection(service, instanceID, false, 10*time.Millisecond)
	}
}

func errorRateRule(cooldown time.Duration) *AlertRule {
	return &AlertRule{
		ID:        "rule-error-rate",
		Name:      "high error rate",
		Metric:    MetricErrorRate,
		Operator:  ">",
		Threshold: 0.5,
		Severity:  alerting.SeverityCritical,
		Cooldown:  cooldown,
		Enabled:   true,
	}
}

func TestAggregator_RejectsBadOperator(t *testing.T) {
	f := newFixture(t)
	err := f.aggregator.AddRule(&AlertRule{Metric: MetricErrorRate, Operator: "~", Enabled: true})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestAggregator_FiresAlertWhenConditionHolds(t *testing.T) {
	f := newFixture(t)
	id := registerBackend(t, f.registry, "payments", http.StatusOK)
	waitForHealth(t, f.registry, id, registry.HealthHealthy)
	recordOutcomes(f, "payments", id, 1, 9)

	channel := &recordingChannel{name: "test"}
	f.aggregator.AddChannel(channel)
	require.NoError(t, f.aggregator.AddRule(errorRateRule(15*time.Minute)))

	f.aggregator.Collect(context.Background())

	active := f.aggregator.ActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, "payments", active[0].Service)
	assert.Equal(t, MetricErrorRate, active[0].Metric)
	assert.Equal(t, alerting.StatusActive, active[0].Status)
	assert.InDelta(t, 0.9, active[0].Value, 0.001)
	assert.Equal(t, 1, channel.count())
}

func TestAggregator_CooldownSuppressesRefire(t *testing.T) {
	f := newFixture(t)
	id := registerBackend(t, f.registry, "payments", http.StatusOK)
	waitForHealth(t, f.registry, id, registry.HealthHealthy)
	recordOutcomes(f, "payments", id, 0, 10)

	channel := &recordingChannel{name: "test"}
	f.aggregator.AddChannel(channel)
	require.NoError(t, f.aggregator.AddRule(errorRateRule(15*time.Minute)))

	ctx := context.Background()

	// t=0: fires
	f.aggregator.Collect(ctx)
	require.Len(t, f.aggregator.ActiveAlerts(), 1)
	first := f.aggregator.ActiveAlerts()[0]
	require.NoError(t, f.aggregator.Resolve(ctx, first.ID))
	sentAfterResolve := channel.count()

	// t+5m: condition still holds but the cooldown suppresses a new alert
	f.clock.Advance(5 * time.Minute)
	f.aggregator.Collect(ctx)
	assert.Empty(t, f.aggregator.ActiveAlerts())
	assert.Equal(t, sentAfterResolve, channel.count())

	// t+16m: cooldown expired, fires again
	f.clock.Advance(11 * time.Minute)
	f.aggregator.Collect(ctx)
	active := f.aggregator.ActiveAlerts()
	require.Len(t, active, 1)
	assert.NotEqual(t, first.ID, active[0].ID)
}

func TestAggregator_ActiveAlertBlocksDuplicate(t *testing.T) {
	f := newFixture(t)
	id := registerBackend(t, f.registry, "payments", http.StatusOK)
	waitForHealth(t, f.registry, id, registry.HealthHealthy)
	recordOutcomes(f, "payments", id, 0, 10)

	require.NoError(t, f.aggregator.AddRule(errorRateRule(time.Millisecond)))

	ctx := context.Background()
	f.aggregator.Collect(ctx)
	f.clock.Advance(time.Minute)
	f.aggregator.Collect(ctx)

	// Cooldown long gone but the alert is still active, so no duplicate
	assert.Len(t, f.aggregator.ActiveAlerts(), 1)
}

func TestAggregator_ImplicitResolveWhenConditionClears(t *testing.T) {
	f := newFixture(t)
	id := registerBackend(t, f.registry, "payments", http.StatusOK)
	waitForHealth(t, f.registry, id, registry.HealthHealthy)
	recordOutcomes(f, "payments", id, 0, 10)

	channel := &recordingChannel{name: "test"}
	f.aggregator.AddChannel(channel)
	require.NoError(t, f.aggregator.AddRule(errorRateRule(time.Minute)))

	ctx := context.Background()
	f.aggregator.Collect(ctx)
	require.Len(t, f.aggregator.ActiveAlerts(), 1)

	// Flood the window with successes until the error rate drops
	recordOutcomes(f, "payments", id, 90, 0)
	f.clock.Advance(time.Minute)
	f.aggregator.Collect(ctx)

	assert.Empty(t, f.aggregator.ActiveAlerts())
	last := channel.last()
	require.NotNil(t, last)
	assert.Equal(t, alerting.StatusResolved, last.Status)
	assert.NotNil(t, last.ResolvedAt)
}

func TestAggregator_ChannelFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	id := registerBackend(t, f.registry, "payments", http.StatusOK)
	waitForHealth(t, f.registry, id, registry.HealthHealthy)
	recordOutcomes(f, "payments", id, 0, 10)

	broken := &recordingChannel{name: "broken", fail: true}
	working := &recordingChannel{name: "working"}
	f.aggregator.AddChannel(broken)
	f.aggregator.AddChannel(working)
	require.NoError(t, f.aggregator.AddRule(errorRateRule(time.Minute)))

	f.aggregator.Collect(context.Background())

	assert.Equal(t, 1, working.count())
	require.Len(t, f.aggregator.ActiveAlerts(), 1)
}

func TestAggregator_RuleChannelSelection(t *testing.T) {
	f := newFixture(t)
	id := registerBackend(t, f.registry, "payments", http.StatusOK)
	waitForHealth(t, f.registry, id, registry.HealthHealthy)
	recordOutcomes(f, "payments", id, 0, 10)

	slack := &recordingChannel{name: "slack"}
	email := &recordingChannel{name: "email"}
	f.aggregator.AddChannel(slack)
	f.aggregator.AddChannel(email)

	rule := errorRateRule(time.Minute)
	rule.Channels = []string{"email"}
	require.NoError(t, f.aggregator.AddRule(rule))

	f.aggregator.Collect(context.Background())

	assert.Equal(t, 0, slack.count())
	assert.Equal(t, 1, email.count())
}

func TestAggregator_RuleServiceScope(t *testing.T) {
	f := newFixture(t)
	payID := registerBackend(t, f.registry, "payments", http.StatusOK)
	orderID := registerBackend(t, f.registry, "orders", http.StatusOK)
	waitForHealth(t, f.registry, payID, registry.HealthHealthy)
	waitForHealth(t, f.registry, orderID, registry.HealthHealthy)
	recordOutcomes(f, "payments", payID, 0, 10)
	recordOutcomes(f, "orders", orderID, 0, 10)

	rule := errorRateRule(time.Minute)
	rule.Services = []string{"orders"}
	require.NoError(t, f.aggregator.AddRule(rule))

	f.aggregator.Collect(context.Background())

	active := f.aggregator.ActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, "orders", active[0].Service)
}

func TestAggregator_AcknowledgeLifecycle(t *testing.T) {
	f := newFixture(t)
	id := registerBackend(t, f.registry, "payments", http.StatusOK)
	waitForHealth(t, f.registry, id, registry.HealthHealthy)
	recordOutcomes(f, "payments", id, 0, 10)
	require.NoError(t, f.aggregator.AddRule(errorRateRule(time.Minute)))

	ctx := context.Background()
	f.aggregator.Collect(ctx)
	active := f.aggregator.ActiveAlerts()
	require.Len(t, active, 1)

	require.NoError(t, f.aggregator.Acknowledge(active[0].ID))
	acked := f.aggregator.ActiveAlerts()
	require.Len(t, acked, 1)
	assert.Equal(t, alerting.StatusAcknowledged, acked[0].Status)
	assert.NotNil(t, acked[0].AckedAt)

	require.NoError(t, f.aggregator.Resolve(ctx, active[0].ID))
	assert.Empty(t, f.aggregator.ActiveAlerts())

	// Resolving twice reports not found
	err := f.aggregator.Resolve(ctx, active[0].ID)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestAggregator_SampleRingIsBounded(t *testing.T) {
	f := newFixture(t)
	f.aggregator.config.MaxSamples = 5

	id := registerBackend(t, f.registry, "payments", http.StatusOK)
	waitForHealth(t, f.registry, id, registry.HealthHealthy)

	ctx := context.Background()
	for i := 0; i < 12; i++ {
		f.clock.Advance(30 * time.Second)
		f.aggregator.Collect(ctx)
	}

	samples := f.aggregator.Samples("payments", MetricErrorRate)
	require.Len(t, samples, 5)
	// Oldest entries were evicted; the retained ones are the newest
	for i := 1; i < len(samples); i++ {
		assert.True(t, samples[i].CollectedAt.After(samples[i-1].CollectedAt))
	}
}

func TestAggregator_DashboardReadModel(t *testing.T) {
	f := newFixture(t)
	healthyID := registerBackend(t, f.registry, "payments", http.StatusOK)
	sickID := registerBackend(t, f.registry, "payments", http.StatusInternalServerError)
	waitForHealth(t, f.registry, healthyID, registry.HealthHealthy)
	waitForHealth(t, f.registry, sickID, registry.HealthUnhealthy)
	recordOutcomes(f, "payments", healthyID, 8, 2)

	require.NoError(t, f.aggregator.AddRule(errorRateRule(time.Minute)))
	f.clock.Advance(10 * time.Second)
	f.aggregator.Collect(context.Background())

	dashboard, ok := f.aggregator.Dashboard("payments")
	require.True(t, ok)
	assert.Equal(t, StatusDegraded, dashboard.Status)
	assert.Equal(t, 1, dashboard.HealthyInstances)
	assert.Equal(t, 2, dashboard.TotalInstances)
	assert.InDelta(t, 0.2, dashboard.ErrorRate, 0.001)
	assert.InDelta(t, 10.0, dashboard.AvgLatencyMs, 1.0)
	assert.Greater(t, dashboard.RequestsPerSecond, 0.0)
	assert.Equal(t, "CLOSED", dashboard.BreakerState)
	assert.Empty(t, dashboard.ActiveAlerts)

	_, ok = f.aggregator.Dashboard("unknown")
	assert.False(t, ok)
}

func TestAggregator_DashboardUnhealthyWhenNothingUp(t *testing.T) {
	f := newFixture(t)
	id := registerBackend(t, f.registry, "payments", http.StatusServiceUnavailable)
	waitForHealth(t, f.registry, id, registry.HealthUnhealthy)

	f.aggregator.Collect(context.Background())

	dashboard, ok := f.aggregator.Dashboard("payments")
	require.True(t, ok)
	assert.Equal(t, StatusUnhealthy, dashboard.Status)
}

func TestAggregator_DashboardPushedToStore(t *testing.T) {
	f := newFixture(t)
	store := cache.NewMemoryStore(time.Minute)
	f.aggregator.store = store

	id := registerBackend(t, f.registry, "payments", http.StatusOK)
	waitForHealth(t, f.registry, id, registry.HealthHealthy)

	f.aggregator.Collect(context.Background())

	var cached ServiceDashboard
	key := cache.CacheKey{Prefix: cache.PrefixDashboard, ID: "payments"}
	require.NoError(t, store.Get(context.Background(), key, &cached))
	assert.Equal(t, "payments", cached.ServiceName)
	assert.Equal(t, StatusHealthy, cached.Status)
}

func TestAggregator_StartStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.aggregator.Start(ctx))
	err := f.aggregator.Start(ctx)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	f.aggregator.Stop()
	f.aggregator.Stop()
}

// readbackChannel queries the aggregator's read API from inside Send, the
// way a channel decorating notifications with current state would.
type readbackChannel struct {
	agg  *Aggregator
	seen int
}

func (c *readbackChannel) Send(ctx context.Context, alert *alerting.Alert) error {
	c.agg.Samples(alert.Service, alert.Metric)
	c.agg.ActiveAlerts()
	c.seen++
	return nil
}

func (c *readbackChannel) Name() string { return "readback" }

func TestAggregator_DispatchReleasesStateLock(t *testing.T) {
	f := newFixture(t)
	id := registerBackend(t, f.registry, "payments", http.StatusOK)
	waitForHealth(t, f.registry, id, registry.HealthHealthy)
	require.NoError(t, f.aggregator.AddRule(errorRateRule(time.Minute)))

	ch := &readbackChannel{agg: f.aggregator}
	f.aggregator.AddChannel(ch)

	recordOutcomes(f, "payments", id, 1, 9)

	done := make(chan struct{})
	go func() {
		f.aggregator.Collect(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("collection stalled while notifying channels")
	}
	assert.Equal(t, 1, ch.seen)

	alerts := f.aggregator.ActiveAlerts()
	require.Len(t, alerts, 1)

	done = make(chan struct{})
	var resolveErr error
	go func() {
		resolveErr = f.aggregator.Resolve(context.Background(), alerts[0].ID)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("resolve stalled while notifying channels")
	}
	require.NoError(t, resolveErr)
	assert.Equal(t, 2, ch.seen)
}
