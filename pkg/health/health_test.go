package health

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomChecker(t *testing.T) {
	checker := NewCustomChecker("registry", func(ctx context.Context) (Status, string, error) {
		return StatusHealthy, "tracking 3 services", nil
	}).WithMetadata(map[string]string{"services": "3"})

	check := checker.Check(context.Background())

	assert.Equal(t, "registry", check.Name)
	assert.Equal(t, StatusHealthy, check.Status)
	assert.Equal(t, "tracking 3 services", check.Message)
	assert.Equal(t, "3", check.Metadata["services"])
}

func TestCustomCheckerErrorOverridesHealthy(t *testing.T) {
	checker := NewCustomChecker("flaky", func(ctx context.Context) (Status, string, error) {
		return StatusHealthy, "", fmt.Errorf("backend unreachable")
	})

	check := checker.Check(context.Background())

	assert.Equal(t, StatusUnhealthy, check.Status)
	assert.Equal(t, "backend unreachable", check.Error)
}

func TestHTTPChecker(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		expected   Status
	}{
		{"ok is healthy", http.StatusOK, StatusHealthy},
		{"server error is unhealthy", http.StatusInternalServerError, StatusUnhealthy},
		{"client error is degraded", http.StatusNotFound, StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			checker := NewHTTPChecker(server.URL, "upstream", time.Second)
			check := checker.Check(context.Background())

			assert.Equal(t, tt.expected, check.Status)
			assert.Equal(t, fmt.Sprintf("%d", tt.statusCode), check.Metadata["status_code"])
		})
	}
}

func TestHTTPCheckerUnreachable(t *testing.T) {
	checker := NewHTTPChecker("http://127.0.0.1:1", "upstream", 100*time.Millisecond)
	check := checker.Check(context.Background())

	assert.Equal(t, StatusUnhealthy, check.Status)
	assert.NotEmpty(t, check.Error)
}

func TestCheckHealthAggregatesStatuses(t *testing.T) {
	svc := NewService(nil, DefaultConfig())
	svc.RegisterChecker("good", NewCustomChecker("good", func(ctx context.Context) (Status, string, error) {
		return StatusHealthy, "", nil
	}))

	resp := svc.CheckHealth(context.Background())
	require.Len(t, resp.Checks, 1)
	assert.Equal(t, StatusHealthy, resp.Status)

	svc.RegisterChecker("slow", NewCustomChecker("slow", func(ctx context.Context) (Status, string, error) {
		return StatusDegraded, "elevated latency", nil
	}))

	resp = svc.CheckHealth(context.Background())
	assert.Equal(t, StatusDegraded, resp.Status)

	svc.RegisterChecker("down", NewCustomChecker("down", func(ctx context.Context) (Status, string, error) {
		return StatusUnhealthy, "", fmt.Errorf("no connection")
	}))

	resp = svc.CheckHealth(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Len(t, resp.Checks, 3)

	svc.UnregisterChecker("down")
	resp = svc.CheckHealth(context.Background())
	assert.Equal(t, StatusDegraded, resp.Status)
}
