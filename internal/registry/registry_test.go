package registry

import (
	"encoding/json"
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
)

func testConfig() *Config {
	return &Config{
		HealthCheckInterval: 20 * time.Millisecond,
		HealthCheckTimeout:  200 * time.Millisecond,
		HealthCheckPath:     "/health",
		StaleAfterIntervals: 3,
	}
}

func hostPort(t *testing.T, server *httptest.Server) (string, int) {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return u.Hostname(), port
}

func waitForHealth(t *testing.T, r *Registry, id string, want HealthState) {
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

func TestRegistry_RegisterValidation(t *testing.T) {
	r := New(testConfig(), nil)
	defer r.Stop()

	tests := []struct {
		name string
		spec RegistrationSpec
	}{
		{"missing name", RegistrationSpec{Host: "localhost", Port: 8080}},
		{"missing host", RegistrationSpec{Name: "doc-service", Port: 8080}},
		{"zero port", RegistrationSpec{Name: "doc-service", Host: "localhost"}},
		{"bad protocol", RegistrationSpec{Name: "doc-service", Host: "localhost", Port: 8080, Protocol: "ftp"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Register(tt.spec)
			require.Error(t, err)
		})
	}
}

func TestRegistry_RegisterDefaults(t *testing.T) {
	r := New(testConfig(), nil)
	defer r.Stop()

	id, err := r.Register(RegistrationSpec{Name: "doc-service", Host: "localhost", Port: 18080})
	require.NoError(t, err)

	instance, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, "http", instance.Protocol)
	assert.Equal(t, 100, instance.Weight)
	assert.Equal(t, "/health", instance.HealthCheckPath)
	assert.Equal(t, "http://localhost:18080/health", instance.HealthCheckURL())
}

func TestRegistry_DuplicateIdentityRejected(t *testing.T) {
	r := New(testConfig(), nil)
	defer r.Stop()

	spec := RegistrationSpec{Name: "doc-service", Host: "localhost", Port: 18081}
	_, err := r.Register(spec)
	require.NoError(t, err)

	_, err = r.Register(spec)
	require.Error(t, err)

	// Same host/port under a different service name is a distinct identity
	spec.Name = "analytics"
	_, err = r.Register(spec)
	require.NoError(t, err)
}

func TestRegistry_DeregisterIsIdempotent(t *testing.T) {
	r := New(testConfig(), nil)
	defer r.Stop()

	id, err := r.Register(RegistrationSpec{Name: "doc-service", Host: "localhost", Port: 18082})
	require.NoError(t, err)

	assert.True(t, r.Deregister(id))
	assert.False(t, r.Deregister(id))
	assert.False(t, r.Deregister("no-such-id"))
	assert.Empty(t, r.GetAll("doc-service"))
}

func TestHealthChecker_MarksHealthyOn200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	r := New(testConfig(), nil)
	defer r.Stop()

	host, port := hostPort(t, server)
	id, err := r.Register(RegistrationSpec{Name: "doc-service", Host: host, Port: port})
	require.NoError(t, err)

	waitForHealth(t, r, id, HealthHealthy)
	assert.Len(t, r.ListHealthy("doc-service"), 1)
}

func TestHealthChecker_TreatsClientErrorAsAlive(t *testing.T) {
	// 4xx means the process is up and answering; liveness is not
	// request-level success.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	r := New(testConfig(), nil)
	defer r.Stop()

	host, port := hostPort(t, server)
	id, err := r.Register(RegistrationSpec{Name: "doc-service", Host: host, Port: port})
	require.NoError(t, err)

	waitForHealth(t, r, id, HealthHealthy)
}

func TestHealthChecker_MarksUnhealthyOn500(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	r := New(testConfig(), nil)
	defer r.Stop()

	host, port := hostPort(t, server)
	id, err := r.Register(RegistrationSpec{Name: "doc-service", Host: host, Port: port})
	require.NoError(t, err)

	waitForHealth(t, r, id, HealthUnhealthy)
	assert.Empty(t, r.ListHealthy("doc-service"))
	assert.Len(t, r.GetAll("doc-service"), 1)
}

func TestHealthChecker_EmitsTransitionEvents(t *testing.T) {
	var mu sync.Mutex
	healthy := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if healthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	r := New(testConfig(), nil)
	defer r.Stop()

	var eventsMu sync.Mutex
	var events []HealthEvent
	r.Subscribe(func(event HealthEvent) {
		eventsMu.Lock()
		events = append(events, event)
		eventsMu.Unlock()
	})

	host, port := hostPort(t, server)
	id, err := r.Register(RegistrationSpec{Name: "doc-service", Host: host, Port: port})
	require.NoError(t, err)

	waitForHealth(t, r, id, HealthUnhealthy)

	mu.Lock()
	healthy = true
	mu.Unlock()

	waitForHealth(t, r, id, HealthHealthy)

	eventsMu.Lock()
	defer eventsMu.Unlock()
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, HealthUnknown, events[0].From)
	assert.Equal(t, HealthUnhealthy, events[0].To)
	assert.Equal(t, HealthUnhealthy, events[1].From)
	assert.Equal(t, HealthHealthy, events[1].To)
	for _, event := range events {
		assert.Equal(t, id, event.InstanceID)
		assert.Equal(t, "doc-service", event.ServiceName)
	}
}

func TestRegistry_DeregisterStopsProbe(t *testing.T) {
	var mu sync.Mutex
	probeCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		probeCount++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	r := New(testConfig(), nil)
	defer r.Stop()

	host, port := hostPort(t, server)
	id, err := r.Register(RegistrationSpec{Name: "doc-service", Host: host, Port: port})
	require.NoError(t, err)

	waitForHealth(t, r, id, HealthHealthy)
	require.True(t, r.Deregister(id))

	mu.Lock()
	after := probeCount
	mu.Unlock()

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	final := probeCount
	mu.Unlock()
	assert.Equal(t, after, final, "probe kept running after deregistration")
}

func TestRegistry_IntervalFromWireIsMilliseconds(t *testing.T) {
	var mu sync.Mutex
	probeCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		probeCount++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	r := New(testConfig(), nil)
	defer r.Stop()

	host, port := hostPort(t, server)
	payload := fmt.Sprintf(`{"name":"doc-service","host":"%s","port":%d,"health_check_interval_ms":30000}`, host, port)
	var spec RegistrationSpec
	require.NoError(t, json.Unmarshal([]byte(payload), &spec))
	require.Equal(t, 30*time.Second, spec.healthCheckInterval())

	_, err := r.Register(spec)
	require.NoError(t, err)

	// Only the immediate first probe fits in this window at a 30s interval
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, probeCount, 1)
}

func TestRegistry_Services(t *testing.T) {
	r := New(testConfig(), nil)
	defer r.Stop()

	_, err := r.Register(RegistrationSpec{Name: "doc-service", Host: "localhost", Port: 18090})
	require.NoError(t, err)
	_, err = r.Register(RegistrationSpec{Name: "analytics", Host: "localhost", Port: 18091})
	require.NoError(t, err)
	_, err = r.Register(RegistrationSpec{Name: "analytics", Host: "localhost", Port: 18092})
	require.NoError(t, err)

	assert.Equal(t, []string{"analytics", "doc-service"}, r.Services())
}

func TestRegistry_SweepStale(t *testing.T) {
	r := New(testConfig(), nil)
	defer r.Stop()

	id, err := r.Register(RegistrationSpec{Name: "doc-service", Host: "localhost", Port: 18093})
	require.NoError(t, err)

	// Force the instance healthy, then sweep far in the future
	r.recordProbeResult(id, true, time.Now(), time.Millisecond)
	flagged := r.SweepStale(time.Now().Add(time.Hour))
	assert.Equal(t, 1, flagged)

	instance, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, HealthUnhealthy, instance.Health)
}
