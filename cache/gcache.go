package cache

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

type GCacheOptions struct {
	Size       int
	KeepRounds int
}

// GCache is an LRU cache with round-based retention: entries not used for
// KeepRounds rounds are dropped on NextRound. Rounds are advanced by the
// caller, typically once per profiling/symbolization pass.
type GCache[K comparable, V any] struct {
	options GCacheOptions
	onEvict func(K, V)

	mutex sync.Mutex
	lru   *lru.Cache[K, *gCacheEntry[V]]
	round int
}

type gCacheEntry[V any] struct {
	v             V
	lastUsedRound int
}

func NewGCache[K comparable, V any](options GCacheOptions, onEvict func(K, V)) (*GCache[K, V], error) {
	if options.Size <= 0 {
		return nil, fmt.Errorf("cache size must be positive")
	}
	res := &GCache[K, V]{options: options, onEvict: onEvict}
	c, err := lru.NewWithEvict[K, *gCacheEntry[V]](options.Size, func(k K, e *gCacheEntry[V]) {
		if res.onEvict != nil {
			res.onEvict(k, e.v)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	res.lru = c
	return res, nil
}

func (g *GCache[K, V]) Get(k K) (V, bool) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	e, ok := g.lru.Get(k)
	if !ok {
		var zero V
		return zero, false
	}
	e.lastUsedRound = g.round
	return e.v, true
}

func (g *GCache[K, V]) Cache(k K, v V) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.lru.Add(k, &gCacheEntry[V]{v: v, lastUsedRound: g.round})
}

func (g *GCache[K, V]) Remove(k K) {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.lru.Remove(k)
}

// NextRound ages the cache, dropping entries that have not been used for
// KeepRounds rounds.
func (g *GCache[K, V]) NextRound() {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.round++
	for _, k := range g.lru.Keys() {
		e, ok := g.lru.Peek(k)
		if !ok {
			continue
		}
		if g.round-e.lastUsedRound > g.options.KeepRounds {
			g.lru.Remove(k)
		}
	}
}

func (g *GCache[K, V]) Len() int {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.lru.Len()
}

// Cleanup drops every entry, firing the eviction callback for each.
func (g *GCache[K, V]) Cleanup() {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	g.lru.Purge()
}
