package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/NikhilSetiya/meshgate/internal/storage"
	"github.com/NikhilSetiya/meshgate/pkg/errors"
	"github.com/NikhilSetiya/meshgate/pkg/metrics"
)

// Config holds cache configuration
type Config struct {
	DefaultTTL   time.Duration `json:"default_ttl"`
	FallbackTTL  time.Duration `json:"fallback_ttl"`
	DashboardTTL time.Duration `json:"dashboard_ttl"`
}

// DefaultConfig returns default cache configuration
func DefaultConfig() *Config {
	return &Config{
		DefaultTTL:   1 * time.Hour,
		FallbackTTL:  5 * time.Minute,
		DashboardTTL: 1 * time.Minute,
	}
}

// Service is the Redis-backed Store
type Service struct {
	redis   *storage.RedisClient
	config  *Config
	metrics *metrics.Metrics
}

// NewService creates a new cache service
func NewService(redis *storage.RedisClient, config *Config, m *metrics.Metrics) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	return &Service{
		redis:   redis,
		config:  config,
		metrics: m,
	}
}

// Set stores a value in cache with the specified TTL
func (s *Service) Set(ctx context.Context, key CacheKey, value interface{}, ttl time.Duration) error {
	start := time.Now()
	defer s.record("set", start)

	data, err := json.Marshal(value)
	if err != nil {
		return errors.NewInternalError("failed to serialize cache value").WithCause(err)
	}
	if ttl <= 0 {
		ttl = s.config.DefaultTTL
	}

	if err := s.redis.Set(ctx, key.String(), data, ttl); err != nil {
		return errors.NewInternalError("failed to set cache value").WithCause(err)
	}
	return nil
}

// Get retrieves a value from cache
func (s *Service) Get(ctx context.Context, key CacheKey, dest interface{}) error {
	start := time.Now()
	defer s.record("get", start)

	data, err := s.redis.Get(ctx, key.String())
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			return errors.NewNotFoundError("cache key")
		}
		return errors.NewInternalError("failed to get cache value").WithCause(err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return errors.NewInternalError("failed to deserialize cache value").WithCause(err)
	}
	return nil
}

// Delete removes a value from cache
func (s *Service) Delete(ctx context.Context, key CacheKey) error {
	start := time.Now()
	defer s.record("delete", start)

	if _, err := s.redis.Del(ctx, key.String()); err != nil {
		return errors.NewInternalError("failed to delete cache key").WithCause(err)
	}
	return nil
}

// InvalidatePattern removes all keys matching the glob pattern
func (s *Service) InvalidatePattern(ctx context.Context, pattern string) error {
	start := time.Now()
	defer s.record("invalidate", start)

	keys, err := s.redis.Keys(ctx, pattern)
	if err != nil {
		return errors.NewInternalError("failed to list cache keys").WithCause(err)
	}
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.redis.Del(ctx, keys...); err != nil {
		return errors.NewInternalError("failed to invalidate cache keys").WithCause(err)
	}
	return nil
}

func (s *Service) record(operation string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordCacheOperation(operation, time.Since(start))
	}
}
