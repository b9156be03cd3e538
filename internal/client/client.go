package client

import (
	"bytes"
	"context"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/NikhilSetiya/meshgate/internal/balancer"
	"github.com/NikhilSetiya/meshgate/internal/breaker"
	"github.com/NikhilSetiya/meshgate/internal/degrade"
	"github.com/NikhilSetiya/meshgate/pkg/errors"
	"github.com/NikhilSetiya/meshgate/pkg/logging"
	"github.com/NikhilSetiya/meshgate/pkg/metrics"
)

// CorrelationHeader carries the call's correlation id to the upstream.
// The same id is sent on every retry of one logical call.
const CorrelationHeader = "X-Correlation-ID"

// Config holds retry and timeout tuning for upstream calls
type Config struct {
	MaxRetries     int           `json:"max_retries"`
	BaseDelay      time.Duration `json:"base_delay"`
	CapDelay       time.Duration `json:"cap_delay"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

// DefaultConfig returns default client tuning
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		BaseDelay:      100 * time.Millisecond,
		CapDelay:       30 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// CallOptions tunes a single call
type CallOptions struct {
	// Strategy overrides the balancer's default selection strategy
	Strategy balancer.Strategy
	// Headers are added to every attempt
	Headers map[string]string
	// Timeout overrides the per-attempt timeout
	Timeout time.Duration
}

// Response is the outcome of a successful upstream call
type Response struct {
	StatusCode    int
	Header        http.Header
	Body          []byte
	InstanceID    string
	CorrelationID string
	Attempts      int
	Elapsed       time.Duration
}

// Client calls upstream services through the load balancer and circuit
// breakers, retrying transient failures with exponential backoff.
type Client struct {
	config     Config
	balancer   *balancer.Balancer
	breakers   *breaker.Group
	degrade    *degrade.Manager
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *logging.Logger

	rngMutex sync.Mutex
	rng      *rand.Rand
}

// New creates a resilient client. The degradation manager and metrics are
// optional.
func New(config Config, lb *balancer.Balancer, breakers *breaker.Group, dm *degrade.Manager, m *metrics.Metrics, logger *logging.Logger) *Client {
	defaults := DefaultConfig()
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = defaults.BaseDelay
	}
	if config.CapDelay <= 0 {
		config.CapDelay = defaults.CapDelay
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	return &Client{
		config:   config,
		balancer: lb,
		breakers: breakers,
		degrade:  dm,
		httpClient: &http.Client{
			// Per-attempt deadlines come from the request context
			Timeout: 0,
		},
		metrics: m,
		logger:  logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Call performs one logical request against a service. Transient failures
// (timeouts, network errors, 429) are retried with exponential backoff and
// jitter; other 4xx responses surface immediately. The breaker for the
// service sees every attempt.
func (c *Client) Call(ctx context.Context, service, method, path string, body []byte, opts *CallOptions) (*Response, error) {
	if opts == nil {
		opts = &CallOptions{}
	}

	correlationID := logging.GetCorrelationID(ctx)
	if correlationID == "" {
		correlationID = logging.NewCorrelationID()
		ctx = logging.WithCorrelationID(ctx, correlationID)
	}

	start := time.Now()
	br := c.breakers.For(service)

	// MaxRetries counts retries after the initial attempt
	var resp *Response
	var lastErr error
	for attempt := 1; attempt <= c.config.MaxRetries+1; attempt++ {
		if attempt > 1 {
			delay := c.backoffDelay(attempt - 1)
			select {
			case <-ctx.Done():
				return nil, errors.NewTimeoutError("call to " + service).
					WithCause(ctx.Err()).
					WithCorrelationID(correlationID)
			case <-time.After(delay):
			}
			if c.metrics != nil {
				c.metrics.RecordUpstreamRetry(service)
			}
		}

		resp, lastErr = c.attempt(ctx, br, service, method, path, body, opts, correlationID, attempt)
		if lastErr == nil {
			resp.Attempts = attempt
			resp.Elapsed = time.Since(start)
			return resp, nil
		}
		if !errors.IsRetryable(lastErr) {
			break
		}
	}

	if appErr, ok := lastErr.(*errors.AppError); ok {
		return nil, appErr.WithCorrelationID(correlationID)
	}
	return nil, lastErr
}

// CallWithFallback performs Call and, when it fails, hands off to the
// degradation manager with the supplied fallback chain.
func (c *Client) CallWithFallback(ctx context.Context, operation, service, method, path string, body []byte, opts *CallOptions, chain []degrade.FallbackStrategy) (interface{}, error) {
	primary := func(ctx context.Context) (interface{}, error) {
		return c.Call(ctx, service, method, path, body, opts)
	}

	if c.degrade == nil || len(chain) == 0 {
		return primary(ctx)
	}
	return c.degrade.ExecuteWithFallback(ctx, operation, primary, chain)
}

// attempt runs exactly one request: select an instance first, then drive
// the request through the breaker so only real call outcomes count against
// it, releasing the connection with the outcome.
func (c *Client) attempt(ctx context.Context, br *breaker.Breaker, service, method, path string, body []byte, opts *CallOptions, correlationID string, attempt int) (*Response, error) {
	instance := c.balancer.Select(service, opts.Strategy)
	if instance == nil {
		return nil, errors.NewNoHealthyInstancesError(service)
	}

	var out *Response

	err := br.Execute(ctx, func(ctx context.Context) error {
		c.balancer.TrackConnection(service, instance.ID)

		timeout := c.config.RequestTimeout
		if opts.Timeout > 0 {
			timeout = opts.Timeout
		}
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		attemptStart := time.Now()
		resp, err := c.do(attemptCtx, instance.URL()+path, method, body, opts.Headers, correlationID)
		elapsed := time.Since(attemptStart)

		success := err == nil && resp.StatusCode < 400
		c.balancer.ReleaseConnection(service, instance.ID, success, elapsed)
		if c.metrics != nil {
			c.metrics.RecordUpstreamAttempt(service, elapsed, success)
		}
		c.logger.LogCallAttempt(ctx, service, instance.ID, attempt, elapsed, err)

		if err != nil {
			if attemptCtx.Err() == context.DeadlineExceeded {
				return errors.NewTimeoutError("call to " + service)
			}
			return errors.NewNetworkError(service, err.Error())
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return errors.NewRateLimitError(service)
		case resp.StatusCode >= 500:
			return errors.NewNetworkError(service, http.StatusText(resp.StatusCode)).
				WithDetail("status_code", strconv.Itoa(resp.StatusCode))
		case resp.StatusCode >= 400:
			return errors.NewClientError(service, resp.StatusCode)
		}

		resp.InstanceID = instance.ID
		resp.CorrelationID = correlationID
		out = resp
		return nil
	})

	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, url, method string, body []byte, headers map[string]string, correlationID string) (*Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}
	req.Header.Set(CorrelationHeader, correlationID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// backoffDelay returns min(base*2^(n-1) + jitter, cap) with jitter drawn
// uniformly from [0, 0.1*exponential].
func (c *Client) backoffDelay(retry int) time.Duration {
	exponential := float64(c.config.BaseDelay) * math.Pow(2, float64(retry-1))

	c.rngMutex.Lock()
	jitter := c.rng.Float64() * 0.1 * exponential
	c.rngMutex.Unlock()

	delay := time.Duration(exponential + jitter)
	if delay > c.config.CapDelay {
		delay = c.config.CapDelay
	}
	return delay
}
