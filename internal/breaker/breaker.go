package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/NikhilSetiya/meshgate/pkg/errors"
	"github.com/NikhilSetiya/meshgate/pkg/logging"
)

// State represents the state of a circuit breaker
type State int

const (
	// StateClosed - requests flow through and failures are counted
	StateClosed State = iota
	// StateOpen - requests are rejected without reaching the upstream
	StateOpen
	// StateHalfOpen - a single trial request decides recovery
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config holds circuit breaker tuning shared by a Group
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker open
	FailureThreshold uint32
	// RecoveryTimeout is how long an open breaker rejects before allowing
	// one trial request
	RecoveryTimeout time.Duration
	// OnStateChange is called on every transition
	OnStateChange func(service string, from State, to State)
}

// DefaultConfig returns default breaker tuning
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

// Counts holds the numbers of requests and their successes/failures since
// the last state transition
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker guards calls to one upstream service. Consecutive failures trip
// it open; after the recovery timeout a single trial call decides whether
// it closes again.
type Breaker struct {
	service          string
	failureThreshold uint32
	recoveryTimeout  time.Duration
	onStateChange    func(service string, from State, to State)

	mutex       sync.Mutex
	state       State
	generation  uint64
	counts      Counts
	lastFailure time.Time
	expiry      time.Time

	logger *logging.Logger
}

// New creates a breaker for the given service name
func New(service string, config Config, logger *logging.Logger) *Breaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	b := &Breaker{
		service:          service,
		failureThreshold: config.FailureThreshold,
		recoveryTimeout:  config.RecoveryTimeout,
		onStateChange:    config.OnStateChange,
		logger:           logger,
	}
	b.toNewGeneration(time.Now())
	return b
}

// Execute runs fn if the breaker accepts the request. When open, fn is not
// invoked and a CircuitOpen error is returned immediately.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	generation, err := b.beforeRequest()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.afterRequest(generation, false)
			panic(r)
		}
	}()

	err = fn(ctx)
	b.afterRequest(generation, err == nil)
	return err
}

// State returns the current state, applying the open-to-half-open
// transition when the recovery timeout has elapsed.
func (b *Breaker) State() State {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	state, _ := b.currentState(time.Now())
	return state
}

// Counts returns a copy of the counts for the current generation
func (b *Breaker) Counts() Counts {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.counts
}

// FailureCount returns the consecutive-failure count
func (b *Breaker) FailureCount() uint32 {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.counts.ConsecutiveFailures
}

// LastFailure returns the time of the most recent failure
func (b *Breaker) LastFailure() time.Time {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.lastFailure
}

// Service returns the service name this breaker guards
func (b *Breaker) Service() string {
	return b.service
}

func (b *Breaker) beforeRequest() (uint64, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)

	if state == StateOpen {
		return generation, errors.NewCircuitOpenError(b.service)
	}
	if state == StateHalfOpen && b.counts.Requests >= 1 {
		// One trial at a time
		return generation, errors.NewCircuitOpenError(b.service)
	}

	b.counts.Requests++
	return generation, nil
}

func (b *Breaker) afterRequest(before uint64, success bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	now := time.Now()
	state, generation := b.currentState(now)
	if generation != before {
		return
	}

	if success {
		b.onSuccess(state, now)
	} else {
		b.onFailure(state, now)
	}
}

func (b *Breaker) onSuccess(state State, now time.Time) {
	b.counts.TotalSuccesses++
	b.counts.ConsecutiveSuccesses++
	b.counts.ConsecutiveFailures = 0

	if state == StateHalfOpen {
		b.setState(StateClosed, now)
	}
}

func (b *Breaker) onFailure(state State, now time.Time) {
	b.counts.TotalFailures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0
	b.lastFailure = now

	switch state {
	case StateClosed:
		if b.counts.ConsecutiveFailures >= b.failureThreshold {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) currentState(now time.Time) (State, uint64) {
	if b.state == StateOpen && b.expiry.Before(now) {
		b.setState(StateHalfOpen, now)
	}
	return b.state, b.generation
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}

	prev := b.state
	b.state = state
	b.toNewGeneration(now)

	if b.onStateChange != nil {
		b.onStateChange(b.service, prev, state)
	}

	b.logger.Info("Circuit breaker state changed",
		"service", b.service,
		"from", prev.String(),
		"to", state.String(),
	)
}

func (b *Breaker) toNewGeneration(now time.Time) {
	b.generation++
	b.counts = Counts{}

	if b.state == StateOpen {
		b.expiry = now.Add(b.recoveryTimeout)
	} else {
		b.expiry = time.Time{}
	}
}
