package symres_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/grafana/symres"
	"github.com/grafana/symres/dwarf"
	"github.com/grafana/symres/metrics"
	"github.com/grafana/symres/testelf"
	"github.com/grafana/symres/util"
)

func TestBaselineResolver(t *testing.T) {
	fpath := (&testelf.Builder{
		Syms: []testelf.Sym{
			{Name: "f", Addr: 0x1000, Size: 0x10},
			{Name: "g", Addr: 0x1010, Size: 0x10},
		},
	}).WriteFile(t)

	r, err := symres.NewElfResolver(fpath, symres.ResolverOptions{Logger: util.TestLogger(t)})
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, "ELF "+fpath, r.String())

	sym, err := r.FindSym(0x1005)
	require.NoError(t, err)
	require.NotNil(t, sym)
	require.Equal(t, "f", sym.Name)
	require.Equal(t, uint64(0x1000), sym.Addr)
	require.Equal(t, int64(0x10), sym.Size)
	require.Equal(t, symres.SrcLangUnknown, sym.Lang)

	sym, err = r.FindSym(0x1020)
	require.NoError(t, err)
	require.Nil(t, sym)

	// The symbol table cannot answer source location queries; absence is
	// not an error.
	ci, err := r.FindCodeInfo(0x1005, true)
	require.NoError(t, err)
	require.Nil(t, ci)
}

func TestFindSymZeroSizeEntry(t *testing.T) {
	// A sizeless entry owns the range up to the next symbol start, so the
	// extent of a match cannot be claimed as known.
	fpath := (&testelf.Builder{
		Syms: []testelf.Sym{
			{Name: "tail_asm", Addr: 0x1010},
		},
	}).WriteFile(t)

	r, err := symres.NewElfResolver(fpath, symres.ResolverOptions{Logger: util.TestLogger(t)})
	require.NoError(t, err)
	defer r.Close()

	for _, addr := range []uint64{0x1010, 0x1040, ^uint64(0)} {
		sym, err := r.FindSym(addr)
		require.NoError(t, err)
		require.NotNil(t, sym)
		require.Equal(t, "tail_asm", sym.Name)
		require.Equal(t, uint64(0x1010), sym.Addr)
		require.Equal(t, symres.SizeUnknown, sym.Size)
	}
}

func TestDwarfResolver(t *testing.T) {
	fpath := (&testelf.Builder{
		Syms: []testelf.Sym{
			{Name: "f", Addr: 0x1000, Size: 0x10},
		},
		Debug: &testelf.Debug{
			Language: int64(dwarf.LangGo),
			Funcs: []testelf.DebugFunc{
				{Name: "f", LowPC: 0x1000, HighPC: 0x1010},
			},
		},
	}).WriteFile(t)

	r, err := symres.NewElfResolver(fpath, symres.ResolverOptions{Logger: util.TestLogger(t)})
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, "DWARF "+fpath, r.String())

	sym, err := r.FindSym(0x1005)
	require.NoError(t, err)
	require.NotNil(t, sym)
	require.Equal(t, "f", sym.Name)
	require.Equal(t, symres.SrcLangGo, sym.Lang)

	ci, err := r.FindCodeInfo(0x1005, true)
	require.NoError(t, err)
	require.NotNil(t, ci)
	require.Equal(t, uint32(1), ci.Direct.Line)
}

func TestDwarfFallsBackToSymtab(t *testing.T) {
	// Debug info knows nothing about the assembly routine; its empty
	// answer falls through to the symbol table.
	fpath := (&testelf.Builder{
		Syms: []testelf.Sym{
			{Name: "f", Addr: 0x1000, Size: 0x10},
			{Name: "asm_only", Addr: 0x2000, Size: 0x10},
		},
		Debug: &testelf.Debug{
			Language: int64(dwarf.LangC99),
			Funcs: []testelf.DebugFunc{
				{Name: "f", LowPC: 0x1000, HighPC: 0x1010},
			},
		},
	}).WriteFile(t)

	r, err := symres.NewElfResolver(fpath, symres.ResolverOptions{Logger: util.TestLogger(t)})
	require.NoError(t, err)
	defer r.Close()

	sym, err := r.FindSym(0x2005)
	require.NoError(t, err)
	require.NotNil(t, sym)
	require.Equal(t, "asm_only", sym.Name)
	require.Equal(t, symres.SrcLangUnknown, sym.Lang)

	sym, err = r.FindSym(0x1005)
	require.NoError(t, err)
	require.NotNil(t, sym)
	require.Equal(t, symres.SrcLangC, sym.Lang)
}

func TestDwarfErrorSurfaces(t *testing.T) {
	// A corrupt line table must produce an error; the symbol table never
	// masks a debug info failure.
	fpath := (&testelf.Builder{
		Syms: []testelf.Sym{
			{Name: "f", Addr: 0x1000, Size: 0x10},
		},
		Debug: &testelf.Debug{
			Funcs: []testelf.DebugFunc{
				{Name: "f", LowPC: 0x1000, HighPC: 0x1010},
			},
			TruncateLine: 6,
		},
	}).WriteFile(t)

	r, err := symres.NewElfResolver(fpath, symres.ResolverOptions{Logger: util.TestLogger(t)})
	require.NoError(t, err)
	defer r.Close()
	require.Equal(t, "DWARF "+fpath, r.String())

	_, err = r.FindCodeInfo(0x1005, true)
	require.Error(t, err)

	// Lookups that do not touch the line table still resolve.
	sym, err := r.FindSym(0x1005)
	require.NoError(t, err)
	require.NotNil(t, sym)
	require.Equal(t, "f", sym.Name)
}

func TestSkipDebugInfo(t *testing.T) {
	fpath := (&testelf.Builder{
		Syms: []testelf.Sym{
			{Name: "f", Addr: 0x1000, Size: 0x10},
		},
		Debug: &testelf.Debug{
			Funcs: []testelf.DebugFunc{
				{Name: "f", LowPC: 0x1000, HighPC: 0x1010},
			},
		},
	}).WriteFile(t)

	r, err := symres.NewElfResolver(fpath, symres.ResolverOptions{
		Logger:        util.TestLogger(t),
		SkipDebugInfo: true,
	})
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, "ELF "+fpath, r.String())
	ci, err := r.FindCodeInfo(0x1005, true)
	require.NoError(t, err)
	require.Nil(t, ci)
}

func TestFindAddr(t *testing.T) {
	fpath := (&testelf.Builder{
		Syms: []testelf.Sym{
			{Name: "f", Addr: 0x1000, Size: 0x10},
		},
	}).WriteFile(t)

	r, err := symres.NewElfResolver(fpath, symres.ResolverOptions{Logger: util.TestLogger(t)})
	require.NoError(t, err)
	defer r.Close()

	syms, err := r.FindAddr("f", &symres.FindAddrOpts{FileOffset: true})
	require.NoError(t, err)
	require.Len(t, syms, 1)
	require.Equal(t, "f", syms[0].Name)
	require.Equal(t, uint64(0x1000), syms[0].Addr)
	require.Equal(t, symres.SymTypeFunc, syms[0].Type)
	require.Equal(t, fpath, syms[0].ObjFileName)
	require.Equal(t, uint64(0x200), syms[0].FileOffset)

	// Neither backend indexes anything but functions.
	syms, err = r.FindAddr("f", &symres.FindAddrOpts{Type: symres.SymTypeVar})
	require.NoError(t, err)
	require.Empty(t, syms)

	syms, err = r.FindAddr("missing", nil)
	require.NoError(t, err)
	require.Empty(t, syms)
}

func TestWithObjFileName(t *testing.T) {
	fpath := (&testelf.Builder{
		Syms: []testelf.Sym{
			{Name: "f", Addr: 0x1000, Size: 0x10},
		},
	}).WriteFile(t)

	r, err := symres.NewElfResolver(fpath, symres.ResolverOptions{Logger: util.TestLogger(t)})
	require.NoError(t, err)
	defer r.Close()

	other := r.WithObjFileName("/proc/42/root/bin/app")
	require.Same(t, r.Parser(), other.Parser())
	require.Equal(t, "ELF /proc/42/root/bin/app", other.String())

	syms, err := other.FindAddr("f", nil)
	require.NoError(t, err)
	require.Len(t, syms, 1)
	require.Equal(t, "/proc/42/root/bin/app", syms[0].ObjFileName)

	// The original keeps stamping its own path.
	syms, err = r.FindAddr("f", nil)
	require.NoError(t, err)
	require.Equal(t, fpath, syms[0].ObjFileName)
}

func TestOpenErrorMetrics(t *testing.T) {
	m := metrics.New(nil)
	_, err := symres.NewElfResolver(t.TempDir()+"/missing", symres.ResolverOptions{
		Logger:  util.TestLogger(t),
		Metrics: m,
	})
	require.Error(t, err)
	require.Equal(t, float64(1), testutil.ToFloat64(m.ElfErrors.WithLabelValues("ErrNotExist")))
}

func TestLookupMetrics(t *testing.T) {
	fpath := (&testelf.Builder{
		Syms: []testelf.Sym{
			{Name: "f", Addr: 0x1000, Size: 0x10},
		},
	}).WriteFile(t)

	m := metrics.New(nil)
	r, err := symres.NewElfResolver(fpath, symres.ResolverOptions{
		Logger:  util.TestLogger(t),
		Metrics: m,
	})
	require.NoError(t, err)
	defer r.Close()

	_, err = r.FindSym(0x1005)
	require.NoError(t, err)
	_, err = r.FindSym(0x9000)
	require.NoError(t, err)

	require.Equal(t, float64(1), testutil.ToFloat64(m.KnownSymbols))
	require.Equal(t, float64(1), testutil.ToFloat64(m.UnknownSymbols))
}
