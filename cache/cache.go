// Package cache is a calling-layer cache of constructed resolvers. The
// resolution engine itself never caches query results; what is worth reusing
// is the expensive parse, keyed by build ID so renamed or bind-mounted
// copies of one binary share a single parse.
package cache

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/grafana/symres"
)

type Options struct {
	BuildIDCacheOptions  GCacheOptions
	SameFileCacheOptions GCacheOptions
}

// ResolverCache creates and reuses ElfResolvers. Entries age out round by
// round; a resolver obtained from the cache stays valid until Cleanup or
// until its entry ages out KeepRounds rounds after last use.
type ResolverCache struct {
	logger  log.Logger
	options symres.ResolverOptions

	byBuildID  *GCache[string, *symres.ElfResolver]
	bySameFile *GCache[uint64, *symres.ElfResolver]
	// fileBuildID remembers which build ID a file identity resolved to,
	// so repeat lookups of build-ID-carrying files skip the parse.
	fileBuildID *GCache[uint64, string]
}

func NewResolverCache(logger log.Logger, options Options, resolverOptions symres.ResolverOptions) (*ResolverCache, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	onEvict := func(_ string, r *symres.ElfResolver) {
		r.Close()
	}
	byBuildID, err := NewGCache[string, *symres.ElfResolver](options.BuildIDCacheOptions, onEvict)
	if err != nil {
		return nil, fmt.Errorf("create build id cache: %w", err)
	}
	bySameFile, err := NewGCache[uint64, *symres.ElfResolver](options.SameFileCacheOptions, func(_ uint64, r *symres.ElfResolver) {
		r.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("create same file cache: %w", err)
	}
	fileBuildID, err := NewGCache[uint64, string](options.SameFileCacheOptions, nil)
	if err != nil {
		return nil, fmt.Errorf("create file build id cache: %w", err)
	}
	return &ResolverCache{
		logger:      logger,
		options:     resolverOptions,
		byBuildID:   byBuildID,
		bySameFile:  bySameFile,
		fileBuildID: fileBuildID,
	}, nil
}

// Resolve returns a resolver for the object at fpath, constructing one only
// when neither the file identity nor its build ID has been seen. Resolvers
// served for a build ID seen under a different path share the parse but are
// re-bound to the queried path.
func (c *ResolverCache) Resolve(fpath string) (*symres.ElfResolver, error) {
	key := sameFileKey(fpath)
	if bid, ok := c.fileBuildID.Get(key); ok {
		if r, ok2 := c.byBuildID.Get(bid); ok2 {
			return r.WithObjFileName(fpath), nil
		}
	}
	if r, ok := c.bySameFile.Get(key); ok {
		return r.WithObjFileName(fpath), nil
	}
	r, err := symres.NewElfResolver(fpath, c.options)
	if err != nil {
		return nil, err
	}
	if m := c.options.Metrics; m != nil {
		m.CacheMisses.Inc()
	}
	buildID, buildIDErr := r.BuildID()
	if buildIDErr == nil && !buildID.Empty() {
		c.fileBuildID.Cache(key, buildID.ID)
		if cached, ok := c.byBuildID.Get(buildID.ID); ok {
			level.Debug(c.logger).Log("msg", "sharing parse by build id", "f", fpath, "build_id", buildID.ID)
			r.Close()
			return cached.WithObjFileName(fpath), nil
		}
		c.byBuildID.Cache(buildID.ID, r)
	} else {
		c.bySameFile.Cache(key, r)
	}
	return r, nil
}

// NextRound ages both caches.
func (c *ResolverCache) NextRound() {
	c.byBuildID.NextRound()
	c.bySameFile.NextRound()
	c.fileBuildID.NextRound()
}

// Cleanup closes every cached resolver. Resolvers previously returned by
// Resolve must not be used afterwards.
func (c *ResolverCache) Cleanup() {
	c.byBuildID.Cleanup()
	c.bySameFile.Cleanup()
	c.fileBuildID.Cleanup()
}

// sameFileKey identifies an on-disk file by device and inode, falling back
// to the bare path when stat is unavailable.
func sameFileKey(fpath string) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(fpath)
	if st, ok := statFile(fpath); ok {
		var buf [16]byte
		putUint64(buf[0:8], st.Dev)
		putUint64(buf[8:16], st.Inode)
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
