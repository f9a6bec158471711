package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGCacheRoundEviction(t *testing.T) {
	var evicted []string
	g, err := NewGCache[string, int](GCacheOptions{Size: 8, KeepRounds: 1}, func(k string, _ int) {
		evicted = append(evicted, k)
	})
	require.NoError(t, err)

	g.Cache("stale", 1)
	g.Cache("fresh", 2)

	g.NextRound()
	_, ok := g.Get("fresh")
	require.True(t, ok)

	g.NextRound()
	require.Equal(t, []string{"stale"}, evicted)
	require.Equal(t, 1, g.Len())
	_, ok = g.Get("stale")
	require.False(t, ok)
	_, ok = g.Get("fresh")
	require.True(t, ok)
}

func TestGCacheSizeEviction(t *testing.T) {
	var evicted []string
	g, err := NewGCache[string, int](GCacheOptions{Size: 2, KeepRounds: 8}, func(k string, _ int) {
		evicted = append(evicted, k)
	})
	require.NoError(t, err)

	g.Cache("a", 1)
	g.Cache("b", 2)
	g.Cache("c", 3)
	require.Equal(t, []string{"a"}, evicted)
	require.Equal(t, 2, g.Len())
}

func TestGCacheCleanup(t *testing.T) {
	count := 0
	g, err := NewGCache[string, int](GCacheOptions{Size: 8, KeepRounds: 1}, func(string, int) {
		count++
	})
	require.NoError(t, err)

	g.Cache("a", 1)
	g.Cache("b", 2)
	g.Cleanup()
	require.Equal(t, 2, count)
	require.Equal(t, 0, g.Len())
}

func TestGCacheRejectsZeroSize(t *testing.T) {
	_, err := NewGCache[string, int](GCacheOptions{}, nil)
	require.Error(t, err)
}
