package cache_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/grafana/symres"
	"github.com/grafana/symres/cache"
	"github.com/grafana/symres/metrics"
	"github.com/grafana/symres/testelf"
	"github.com/grafana/symres/util"
)

func testCacheOptions() cache.Options {
	return cache.Options{
		BuildIDCacheOptions:  cache.GCacheOptions{Size: 8, KeepRounds: 2},
		SameFileCacheOptions: cache.GCacheOptions{Size: 8, KeepRounds: 2},
	}
}

func newTestCache(t *testing.T, m *metrics.Metrics) *cache.ResolverCache {
	t.Helper()
	c, err := cache.NewResolverCache(util.TestLogger(t), testCacheOptions(), symres.ResolverOptions{
		Logger:  util.TestLogger(t),
		Metrics: m,
	})
	require.NoError(t, err)
	t.Cleanup(c.Cleanup)
	return c
}

func TestResolveSameFileCached(t *testing.T) {
	fpath := (&testelf.Builder{
		Syms: []testelf.Sym{{Name: "f", Addr: 0x1000, Size: 0x10}},
	}).WriteFile(t)

	m := metrics.New(nil)
	c := newTestCache(t, m)

	r1, err := c.Resolve(fpath)
	require.NoError(t, err)
	r2, err := c.Resolve(fpath)
	require.NoError(t, err)

	require.Same(t, r1.Parser(), r2.Parser())
	require.Equal(t, float64(1), testutil.ToFloat64(m.CacheMisses))
}

func TestResolveSharesParseByBuildID(t *testing.T) {
	// The same binary visible under two paths, as with bind mounts or
	// /proc/<pid>/root, parses once.
	data := (&testelf.Builder{
		Syms:    []testelf.Sym{{Name: "f", Addr: 0x1000, Size: 0x10}},
		BuildID: bytes.Repeat([]byte{0xcd}, 20),
	}).Bytes()
	dir := t.TempDir()
	p1 := filepath.Join(dir, "one.elf")
	p2 := filepath.Join(dir, "two.elf")
	require.NoError(t, os.WriteFile(p1, data, 0o644))
	require.NoError(t, os.WriteFile(p2, data, 0o644))

	m := metrics.New(nil)
	c := newTestCache(t, m)

	r1, err := c.Resolve(p1)
	require.NoError(t, err)
	r2, err := c.Resolve(p2)
	require.NoError(t, err)

	require.Same(t, r1.Parser(), r2.Parser())
	require.Equal(t, p1, r1.FilePath())
	require.Equal(t, p2, r2.FilePath())

	// Results are stamped with the path each resolver was asked about.
	syms, err := r2.FindAddr("f", nil)
	require.NoError(t, err)
	require.Len(t, syms, 1)
	require.Equal(t, p2, syms[0].ObjFileName)
}

func TestResolveBuildIDRepeatLookup(t *testing.T) {
	fpath := (&testelf.Builder{
		Syms:    []testelf.Sym{{Name: "f", Addr: 0x1000, Size: 0x10}},
		BuildID: bytes.Repeat([]byte{0x11}, 20),
	}).WriteFile(t)

	m := metrics.New(nil)
	c := newTestCache(t, m)

	_, err := c.Resolve(fpath)
	require.NoError(t, err)
	_, err = c.Resolve(fpath)
	require.NoError(t, err)

	// The second lookup is served through the file identity to build ID
	// mapping without re-parsing.
	require.Equal(t, float64(1), testutil.ToFloat64(m.CacheMisses))
}

func TestResolveAgesOut(t *testing.T) {
	fpath := (&testelf.Builder{
		Syms: []testelf.Sym{{Name: "f", Addr: 0x1000, Size: 0x10}},
	}).WriteFile(t)

	m := metrics.New(nil)
	opts := testCacheOptions()
	opts.BuildIDCacheOptions.KeepRounds = 0
	opts.SameFileCacheOptions.KeepRounds = 0
	c, err := cache.NewResolverCache(util.TestLogger(t), opts, symres.ResolverOptions{
		Logger:  util.TestLogger(t),
		Metrics: m,
	})
	require.NoError(t, err)
	defer c.Cleanup()

	_, err = c.Resolve(fpath)
	require.NoError(t, err)
	c.NextRound()
	_, err = c.Resolve(fpath)
	require.NoError(t, err)

	require.Equal(t, float64(2), testutil.ToFloat64(m.CacheMisses))
}
