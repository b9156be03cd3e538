package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/NikhilSetiya/meshgate/pkg/errors"
)

// Store is the caching contract consumed by the fallback engine and the
// monitoring aggregator. Implementations serialize values as JSON.
type Store interface {
	Get(ctx context.Context, key CacheKey, dest interface{}) error
	Set(ctx context.Context, key CacheKey, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key CacheKey) error
	InvalidatePattern(ctx context.Context, pattern string) error
}

// CacheKey generates cache keys with consistent prefixes
type CacheKey struct {
	Prefix string
	ID     string
}

// String returns the formatted cache key
func (ck CacheKey) String() string {
	return fmt.Sprintf("%s:%s", ck.Prefix, ck.ID)
}

// Cache key prefixes
const (
	PrefixFallback  = "fallback"
	PrefixDashboard = "dashboard"
	PrefixFlag      = "feature_flag"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store used when Redis is not configured
type MemoryStore struct {
	mutex      sync.RWMutex
	entries    map[string]memoryEntry
	defaultTTL time.Duration

	stopCh  chan struct{}
	running bool
	runMux  sync.Mutex
}

// NewMemoryStore creates an in-memory store with the given default TTL
func NewMemoryStore(defaultTTL time.Duration) *MemoryStore {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &MemoryStore{
		entries:    make(map[string]memoryEntry),
		defaultTTL: defaultTTL,
		stopCh:     make(chan struct{}),
	}
}

// StartCleanup begins periodic eviction of expired entries
func (m *MemoryStore) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = m.defaultTTL
	}

	m.runMux.Lock()
	defer m.runMux.Unlock()
	if m.running {
		return
	}
	m.running = true

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

// StopCleanup halts the eviction loop. Idempotent.
func (m *MemoryStore) StopCleanup() {
	m.runMux.Lock()
	defer m.runMux.Unlock()
	if !m.running {
		return
	}
	close(m.stopCh)
	m.running = false
}

func (m *MemoryStore) sweep() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	now := time.Now()
	for key, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, key)
		}
	}
}

// Set stores a value with the specified TTL
func (m *MemoryStore) Set(ctx context.Context, key CacheKey, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.NewInternalError("failed to serialize cache value").WithCause(err)
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.entries[key.String()] = memoryEntry{
		data:      data,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// Get retrieves a value; expired or missing entries map to NotFound
func (m *MemoryStore) Get(ctx context.Context, key CacheKey, dest interface{}) error {
	m.mutex.RLock()
	entry, ok := m.entries[key.String()]
	m.mutex.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return errors.NewNotFoundError("cache key")
	}
	if err := json.Unmarshal(entry.data, dest); err != nil {
		return errors.NewInternalError("failed to deserialize cache value").WithCause(err)
	}
	return nil
}

// Delete removes a value
func (m *MemoryStore) Delete(ctx context.Context, key CacheKey) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.entries, key.String())
	return nil
}

// InvalidatePattern removes all entries whose key matches the glob pattern
func (m *MemoryStore) InvalidatePattern(ctx context.Context, pattern string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for key := range m.entries {
		matched, err := path.Match(pattern, key)
		if err != nil {
			return errors.NewValidationError("invalid cache pattern").WithCause(err)
		}
		if matched {
			delete(m.entries, key)
		}
	}
	return nil
}

// Len returns the number of live entries, sweeping expired ones
func (m *MemoryStore) Len() int {
	m.sweep()
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.entries)
}
