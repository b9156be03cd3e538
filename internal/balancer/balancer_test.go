package balancer

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/meshgate/internal/registry"
)

func testRegistry() *registry.Registry {
	return registry.New(&registry.Config{
		HealthCheckInterval: 20 * time.Millisecond,
		HealthCheckTimeout:  200 * time.Millisecond,
		HealthCheckPath:     "/health",
		StaleAfterIntervals: 3,
	}, nil)
}

func hostPort(t *testing.T, server *httptest.Server) (string, int) {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Hostname(), port
}

// registerBackend spins up a stub backend with the given health status and
// registers it, returning the instance id.
func registerBackend(t *testing.T, r *registry.Registry, service string, weight, status int) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)

	host, port := hostPort(t, server)
	id, err := r.Register(registry.RegistrationSpec{
		Name:   service,
		Host:   host,
		Port:   port,
		Weight: weight,
	})
	require.NoError(t, err)
	// Register timestamps order the healthy list; keep them distinct
	time.Sleep(time.Millisecond)
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
	instance, _ := r.Get(id)
	t.Fatalf("instance %s never reached health %s (current: %+v)", id, want, instance)
}

func TestBalancer_UnknownServiceReturnsNil(t *testing.T) {
	r := testRegistry()
	defer r.Stop()
	b := New(r, nil)

	assert.Nil(t, b.Select("no-such-service", StrategyRoundRobin))
}

func TestBalancer_RoundRobinCyclesInRegistrationOrder(t *testing.T) {
	r := testRegistry()
	defer r.Stop()
	b := New(r, nil)

	ids := []string{
		registerBackend(t, r, "doc-service", 100, http.StatusOK),
		registerBackend(t, r, "doc-service", 100, http.StatusOK),
		registerBackend(t, r, "doc-service", 100, http.StatusOK),
	}
	for _, id := range ids {
		waitForHealth(t, r, id, registry.HealthHealthy)
	}

	for round := 0; round < 2; round++ {
		for _, want := range ids {
			chosen := b.Select("doc-service", StrategyRoundRobin)
			require.NotNil(t, chosen)
			assert.Equal(t, want, chosen.ID)
		}
	}
}

func TestBalancer_WeightedDistribution(t *testing.T) {
	r := testRegistry()
	defer r.Stop()
	b := New(r, nil)

	heavy := registerBackend(t, r, "doc-service", 90, http.StatusOK)
	light := registerBackend(t, r, "doc-service", 10, http.StatusOK)
	waitForHealth(t, r, heavy, registry.HealthHealthy)
	waitForHealth(t, r, light, registry.HealthHealthy)

	counts := make(map[string]int)
	const draws = 10000
	for i := 0; i < draws; i++ {
		chosen := b.Select("doc-service", StrategyWeightedRoundRobin)
		require.NotNil(t, chosen)
		counts[chosen.ID]++
	}

	heavyShare := float64(counts[heavy]) / float64(draws)
	assert.InDelta(t, 0.9, heavyShare, 0.03)
	assert.Equal(t, draws, counts[heavy]+counts[light])
}

func TestBalancer_LeastConnectionsPrefersIdleInstance(t *testing.T) {
	r := testRegistry()
	defer r.Stop()
	b := New(r, nil)

	busy := registerBackend(t, r, "doc-service", 100, http.StatusOK)
	idle := registerBackend(t, r, "doc-service", 100, http.StatusOK)
	waitForHealth(t, r, busy, registry.HealthHealthy)
	waitForHealth(t, r, idle, registry.HealthHealthy)

	b.TrackConnection("doc-service", busy)
	b.TrackConnection("doc-service", busy)
	b.TrackConnection("doc-service", idle)

	chosen := b.Select("doc-service", StrategyLeastConnections)
	require.NotNil(t, chosen)
	assert.Equal(t, idle, chosen.ID)
}

func TestBalancer_ReleaseFloorsAtZero(t *testing.T) {
	r := testRegistry()
	defer r.Stop()
	b := New(r, nil)

	b.TrackConnection("doc-service", "inst-1")
	b.ReleaseConnection("doc-service", "inst-1", true, 10*time.Millisecond)
	b.ReleaseConnection("doc-service", "inst-1", true, 10*time.Millisecond)

	assert.Equal(t, 0, b.Connections("doc-service", "inst-1"))
}

func TestBalancer_HealthBasedSkipsUnhealthyInstance(t *testing.T) {
	r := testRegistry()
	defer r.Stop()
	b := New(r, nil)

	healthyA := registerBackend(t, r, "doc-service", 100, http.StatusOK)
	healthyB := registerBackend(t, r, "doc-service", 100, http.StatusOK)
	broken := registerBackend(t, r, "doc-service", 100, http.StatusInternalServerError)
	waitForHealth(t, r, healthyA, registry.HealthHealthy)
	waitForHealth(t, r, healthyB, registry.HealthHealthy)
	waitForHealth(t, r, broken, registry.HealthUnhealthy)

	for i := 0; i < 10; i++ {
		chosen := b.Select("doc-service", StrategyHealthBased)
		require.NotNil(t, chosen)
		assert.NotEqual(t, broken, chosen.ID)
	}
}

func TestBalancer_LastResortWhenNothingHealthy(t *testing.T) {
	r := testRegistry()
	defer r.Stop()
	b := New(r, nil)

	broken := registerBackend(t, r, "doc-service", 100, http.StatusInternalServerError)
	waitForHealth(t, r, broken, registry.HealthUnhealthy)

	chosen := b.Select("doc-service", StrategyHealthBased)
	require.NotNil(t, chosen)
	assert.Equal(t, broken, chosen.ID)
	assert.Equal(t, registry.HealthUnhealthy, chosen.Health)
}

func TestBalancer_StatsTracksOutcomes(t *testing.T) {
	r := testRegistry()
	defer r.Stop()
	b := New(r, nil)

	b.TrackConnection("doc-service", "inst-1")
	b.ReleaseConnection("doc-service", "inst-1", true, 20*time.Millisecond)
	b.TrackConnection("doc-service", "inst-1")
	b.ReleaseConnection("doc-service", "inst-1", false, 40*time.Millisecond)

	stats := b.Stats("doc-service")
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.TotalSuccesses)
	assert.Equal(t, int64(1), stats.TotalFailures)
	assert.Equal(t, int64(2), stats.InstanceCounts["inst-1"])
	assert.InDelta(t, 0.5, stats.ErrorRate(), 1e-9)
	assert.InDelta(t, 30.0, stats.AvgResponseMs, 1.0)
}

func TestBalancer_PurgeInstanceClearsState(t *testing.T) {
	r := testRegistry()
	defer r.Stop()
	b := New(r, nil)

	b.TrackConnection("doc-service", "inst-1")
	b.ReleaseConnection("doc-service", "inst-1", true, time.Millisecond)
	b.PurgeInstance("doc-service", "inst-1")

	assert.Equal(t, 0, b.Connections("doc-service", "inst-1"))
	stats := b.Stats("doc-service")
	assert.NotContains(t, stats.InstanceCounts, "inst-1")
}

func TestBalancer_DeregistrationPurgesState(t *testing.T) {
	r := testRegistry()
	defer r.Stop()
	b := New(r, nil)

	id := registerBackend(t, r, "doc-service", 100, http.StatusOK)
	waitForHealth(t, r, id, registry.HealthHealthy)

	b.TrackConnection("doc-service", id)
	b.ReleaseConnection("doc-service", id, true, time.Millisecond)
	require.Contains(t, b.Stats("doc-service").InstanceCounts, id)

	require.True(t, r.Deregister(id))

	assert.Equal(t, 0, b.Connections("doc-service", id))
	assert.NotContains(t, b.Stats("doc-service").InstanceCounts, id)
}
