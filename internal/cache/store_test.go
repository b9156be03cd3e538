package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/meshgate/pkg/errors"
)

type payload struct {
	Value string `json:"value"`
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()
	key := CacheKey{Prefix: PrefixFallback, ID: "doc-service:search"}

	require.NoError(t, store.Set(ctx, key, payload{Value: "hello"}, 0))

	var got payload
	require.NoError(t, store.Get(ctx, key, &got))
	assert.Equal(t, "hello", got.Value)
}

func TestMemoryStore_MissIsNotFound(t *testing.T) {
	store := NewMemoryStore(time.Minute)

	var got payload
	err := store.Get(context.Background(), CacheKey{Prefix: PrefixFallback, ID: "nope"}, &got)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()
	key := CacheKey{Prefix: PrefixDashboard, ID: "doc-service"}

	require.NoError(t, store.Set(ctx, key, payload{Value: "x"}, 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	var got payload
	err := store.Get(ctx, key, &got)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestMemoryStore_InvalidatePattern(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, CacheKey{Prefix: PrefixFallback, ID: "doc-service:a"}, payload{}, 0))
	require.NoError(t, store.Set(ctx, CacheKey{Prefix: PrefixFallback, ID: "doc-service:b"}, payload{}, 0))
	require.NoError(t, store.Set(ctx, CacheKey{Prefix: PrefixDashboard, ID: "doc-service"}, payload{}, 0))

	require.NoError(t, store.InvalidatePattern(ctx, PrefixFallback+":*"))

	assert.Equal(t, 1, store.Len())
	var got payload
	require.NoError(t, store.Get(ctx, CacheKey{Prefix: PrefixDashboard, ID: "doc-service"}, &got))
}

func TestMemoryStore_CleanupLoopEvictsExpired(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, CacheKey{Prefix: PrefixFallback, ID: "short"}, payload{}, 10*time.Millisecond))
	require.NoError(t, store.Set(ctx, CacheKey{Prefix: PrefixFallback, ID: "long"}, payload{}, time.Minute))

	store.StartCleanup(10 * time.Millisecond)
	defer store.StopCleanup()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		store.mutex.RLock()
		n := len(store.entries)
		store.mutex.RUnlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The sweep itself dropped the expired entry, not a read path
	store.mutex.RLock()
	_, shortAlive := store.entries[CacheKey{Prefix: PrefixFallback, ID: "short"}.String()]
	_, longAlive := store.entries[CacheKey{Prefix: PrefixFallback, ID: "long"}.String()]
	store.mutex.RUnlock()
	assert.False(t, shortAlive)
	assert.True(t, longAlive)

	// Stopping twice is safe
	store.StopCleanup()
}
