package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scentmatch/backend/internal/domain"
)

func newTestCache(t *testing.T, cfg MemoryConfig) *MemoryCache {
	t.Helper()
	c := NewMemoryCache(cfg)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMemoryCache_SetAndGet(t *testing.T) {
	c := newTestCache(t, MemoryConfig{})
	ctx := context.Background()

	t.Run("string round trip", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "k1", "value", time.Minute))
		got, err := c.Get(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, "value", got)
	})

	t.Run("structs come back json decoded", func(t *testing.T) {
		resp := domain.SearchResponse{
			Fragrances: []domain.MatchResult{{CanonicalID: "frag-1", Name: "Sauvage", MatchType: domain.MatchTypeExact, SimilarityScore: 1}},
			Metadata:   domain.SearchMetadata{TotalFound: 1},
		}
		require.NoError(t, c.Set(ctx, "k2", &resp, time.Minute))

		got, err := c.Get(ctx, "k2")
		require.NoError(t, err)
		m, ok := got.(map[string]interface{})
		require.True(t, ok, "expected map, got %T", got)
		fragrances := m["fragrances"].([]interface{})
		assert.Len(t, fragrances, 1)
		assert.Equal(t, "frag-1", fragrances[0].(map[string]interface{})["canonical_id"])
	})

	t.Run("expired entries miss", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "k3", "soon", time.Millisecond))
		time.Sleep(10 * time.Millisecond)

		_, err := c.Get(ctx, "k3")
		assert.ErrorIs(t, err, domain.ErrCacheMiss)

		exists, err := c.Exists(ctx, "k3")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("unencodable values are rejected", func(t *testing.T) {
		err := c.Set(ctx, "k4", make(chan int), time.Minute)
		assert.Error(t, err)
	})
}

func TestMemoryCache_MissDeleteExists(t *testing.T) {
	c := newTestCache(t, MemoryConfig{})
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "key", 1, time.Minute))
	exists, err := c.Exists(ctx, "key")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, c.Delete(ctx, "key"))
	_, err = c.Get(ctx, "key")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
}

func TestMemoryCache_Eviction(t *testing.T) {
	c := newTestCache(t, MemoryConfig{MaxEntries: 3})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", 1, time.Second))
	require.NoError(t, c.Set(ctx, "long-a", 2, time.Hour))
	require.NoError(t, c.Set(ctx, "long-b", 3, time.Hour))
	require.NoError(t, c.Set(ctx, "long-c", 4, time.Hour))

	assert.Equal(t, 3, c.Size())
	_, err := c.Get(ctx, "short")
	assert.ErrorIs(t, err, domain.ErrCacheMiss, "entry closest to expiry should be evicted")

	// Overwriting an existing key never evicts
	require.NoError(t, c.Set(ctx, "long-a", 5, time.Hour))
	assert.Equal(t, 3, c.Size())
}

func TestMemoryCache_SweepAndClear(t *testing.T) {
	c := newTestCache(t, MemoryConfig{CleanupInterval: 5 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "gone", 1, time.Millisecond))
	require.NoError(t, c.Set(ctx, "kept", 2, time.Hour))

	assert.Eventually(t, func() bool { return c.Size() == 1 }, time.Second, 5*time.Millisecond)

	c.Clear()
	assert.Equal(t, 0, c.Size())
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestMemoryCache_Concurrent(t *testing.T) {
	c := newTestCache(t, MemoryConfig{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", id)
			assert.NoError(t, c.Set(ctx, key, id, time.Minute))
			_, err := c.Get(ctx, key)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, c.Size())
}
