package degrade

import (
	"context"
	"time"

	"github.com/NikhilSetiya/meshgate/internal/cache"
	"github.com/NikhilSetiya/meshgate/pkg/errors"
	"github.com/NikhilSetiya/meshgate/pkg/logging"
)

// CachedResponseStrategy replays the most recent successful response for a
// logical key. Successful primary results are recorded with a freshness TTL
// so stale entries age out of the fallback.
type CachedResponseStrategy struct {
	store    cache.Store
	key      cache.CacheKey
	ttl      time.Duration
	priority int
	enabled  bool
	logger   *logging.Logger
}

// NewCachedResponseStrategy creates a cached-response fallback for the
// given logical key
func NewCachedResponseStrategy(store cache.Store, logicalKey string, ttl time.Duration, priority int) *CachedResponseStrategy {
	return &CachedResponseStrategy{
		store:    store,
		key:      cache.CacheKey{Prefix: cache.PrefixFallback, ID: logicalKey},
		ttl:      ttl,
		priority: priority,
		enabled:  true,
		logger:   logging.GetLogger(),
	}
}

func (s *CachedResponseStrategy) Name() string  { return "cached_response" }
func (s *CachedResponseStrategy) Priority() int { return s.priority }
func (s *CachedResponseStrategy) Enabled() bool { return s.enabled }

// SetEnabled toggles the strategy
func (s *CachedResponseStrategy) SetEnabled(enabled bool) { s.enabled = enabled }

// Execute returns the cached response if one is still fresh
func (s *CachedResponseStrategy) Execute(ctx context.Context, operation string, cause error) (interface{}, error) {
	var value interface{}
	if err := s.store.Get(ctx, s.key, &value); err != nil {
		return nil, err
	}
	return value, nil
}

// Record captures a successful primary result for later replay
func (s *CachedResponseStrategy) Record(ctx context.Context, value interface{}) {
	if err := s.store.Set(ctx, s.key, value, s.ttl); err != nil {
		s.logger.Warn("Failed to record fallback response",
			"key", s.key.String(),
			"error", err.Error(),
		)
	}
}

// SimplifiedComputeStrategy runs a caller-supplied local approximation
// instead of calling the downstream service.
type SimplifiedComputeStrategy struct {
	name     string
	priority int
	enabled  bool
	compute  func(ctx context.Context, cause error) (interface{}, error)
}

// NewSimplifiedComputeStrategy wraps a local compute function as a fallback
func NewSimplifiedComputeStrategy(name string, priority int, compute func(ctx context.Context, cause error) (interface{}, error)) *SimplifiedComputeStrategy {
	return &SimplifiedComputeStrategy{
		name:     name,
		priority: priority,
		enabled:  true,
		compute:  compute,
	}
}

func (s *SimplifiedComputeStrategy) Name() string  { return s.name }
func (s *SimplifiedComputeStrategy) Priority() int { return s.priority }
func (s *SimplifiedComputeStrategy) Enabled() bool { return s.enabled }

// SetEnabled toggles the strategy
func (s *SimplifiedComputeStrategy) SetEnabled(enabled bool) { s.enabled = enabled }

func (s *SimplifiedComputeStrategy) Execute(ctx context.Context, operation string, cause error) (interface{}, error) {
	return s.compute(ctx, cause)
}

// FeatureDisableStrategy returns a designated degraded value when the
// gating flag no longer applies to the caller. While the flag is enabled
// for the caller the strategy declines so richer fallbacks stay in charge.
type FeatureDisableStrategy struct {
	flags    *FlagSet
	flagName string
	degraded interface{}
	priority int
}

// NewFeatureDisableStrategy creates a flag-gated terminal fallback
func NewFeatureDisableStrategy(flags *FlagSet, flagName string, degraded interface{}, priority int) *FeatureDisableStrategy {
	return &FeatureDisableStrategy{
		flags:    flags,
		flagName: flagName,
		degraded: degraded,
		priority: priority,
	}
}

func (s *FeatureDisableStrategy) Name() string  { return "feature_disable" }
func (s *FeatureDisableStrategy) Priority() int { return s.priority }
func (s *FeatureDisableStrategy) Enabled() bool { return true }

func (s *FeatureDisableStrategy) Execute(ctx context.Context, operation string, cause error) (interface{}, error) {
	if s.flags.IsEnabled(s.flagName, EvalFromContext(ctx)) {
		return nil, errors.NewInternalError("feature is enabled for this caller, refusing to disable").
			WithDetail("flag", s.flagName)
	}
	return s.degraded, nil
}
