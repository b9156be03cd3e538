package registry

import (
	"context"
	"net/http"
	"time"

	"github.com/NikhilSetiya/meshgate/pkg/logging"
)

// HealthChecker runs one background probe per registered instance. Probe
// results flow back into the registry; transitions are causally ordered per
// instance because each instance has exactly one probe goroutine.
type HealthChecker struct {
	registry *Registry
	config   *Config
	logger   *logging.Logger
	client   *http.Client
}

// NewHealthChecker creates a health checker bound to a registry
func NewHealthChecker(registry *Registry, config *Config, logger *logging.Logger) *HealthChecker {
	if config == nil {
		config = DefaultConfig()
	}
	return &HealthChecker{
		registry: registry,
		config:   config,
		logger:   logger,
		client: &http.Client{
			Timeout: config.HealthCheckTimeout,
		},
	}
}

// probe is the owned task handle for one instance's periodic check
type probe struct {
	instanceID string
	stopCh     chan struct{}
	stopped    chan struct{}
}

func (p *probe) stop() {
	select {
	case <-p.stopCh:
		// already stopped
	default:
		close(p.stopCh)
	}
	<-p.stopped
}

// startProbe launches the periodic probe loop for an instance. The first
// probe fires immediately so a fresh registration gets a health flag without
// waiting a full interval.
func (hc *HealthChecker) startProbe(instanceID, serviceName, url string, interval time.Duration) *probe {
	p := &probe{
		instanceID: instanceID,
		stopCh:     make(chan struct{}),
		stopped:    make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)

		hc.runCheck(instanceID, serviceName, url)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				hc.runCheck(instanceID, serviceName, url)
			}
		}
	}()

	return p
}

// runCheck issues one GET probe. Any status below 500 counts as alive: a 4xx
// means the process is up and answering, which is what a liveness probe
// measures. Request-level success is judged elsewhere.
func (hc *HealthChecker) runCheck(instanceID, serviceName, url string) {
	start := time.Now()
	healthy := hc.probeOnce(url)
	hc.registry.recordProbeResult(instanceID, healthy, start, time.Since(start))

	hc.logger.Debug("Health probe completed",
		"target_service", serviceName,
		"instance_id", instanceID,
		"healthy", healthy,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
}

func (hc *HealthChecker) probeOnce(url string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), hc.config.HealthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := hc.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < 500
}
