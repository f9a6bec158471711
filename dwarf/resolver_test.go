package dwarf_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/symres/dwarf"
	"github.com/grafana/symres/elf"
	"github.com/grafana/symres/testelf"
	"github.com/grafana/symres/util"
)

func openResolver(t *testing.T, b *testelf.Builder) *dwarf.Resolver {
	t.Helper()
	f, err := elf.Open(b.WriteFile(t), nil)
	require.NoError(t, err)
	t.Cleanup(f.Close)
	r, err := dwarf.NewResolverFromParser(f, util.TestLogger(t))
	require.NoError(t, err)
	return r
}

func TestFindSym(t *testing.T) {
	r := openResolver(t, &testelf.Builder{
		Debug: &testelf.Debug{
			Language: int64(dwarf.LangGo),
			Funcs: []testelf.DebugFunc{
				{Name: "main.run", LowPC: 0x1000, HighPC: 0x1010},
				{Name: "main.helper", LowPC: 0x1010, HighPC: 0x1030},
			},
		},
	})

	sym, err := r.FindSym(0x1005)
	require.NoError(t, err)
	require.NotNil(t, sym)
	require.Equal(t, "main.run", sym.Name)
	require.Equal(t, uint64(0x1000), sym.Addr)
	require.Equal(t, int64(0x10), sym.Size)
	require.Equal(t, dwarf.LangGo, sym.Lang)

	sym, err = r.FindSym(0x102f)
	require.NoError(t, err)
	require.NotNil(t, sym)
	require.Equal(t, "main.helper", sym.Name)

	sym, err = r.FindSym(0x1030)
	require.NoError(t, err)
	require.Nil(t, sym)

	sym, err = r.FindSym(0x500)
	require.NoError(t, err)
	require.Nil(t, sym)
}

func TestFindAddr(t *testing.T) {
	r := openResolver(t, &testelf.Builder{
		Debug: &testelf.Debug{
			Language: int64(dwarf.LangC99),
			Funcs: []testelf.DebugFunc{
				{Name: "worker", LowPC: 0x1000, HighPC: 0x1010},
				{Name: "other", LowPC: 0x1010, HighPC: 0x1020},
				{Name: "worker", LowPC: 0x1020, HighPC: 0x1030},
			},
		},
	})

	syms, err := r.FindAddr("worker")
	require.NoError(t, err)
	require.Len(t, syms, 2)
	require.Equal(t, uint64(0x1000), syms[0].Addr)
	require.Equal(t, uint64(0x1020), syms[1].Addr)
	require.Equal(t, dwarf.LangC99, syms[0].Lang)

	syms, err = r.FindAddr("missing")
	require.NoError(t, err)
	require.Empty(t, syms)
}

func TestFindCodeInfo(t *testing.T) {
	r := openResolver(t, &testelf.Builder{
		Debug: &testelf.Debug{
			FileName: "worker.c",
			CompDir:  "/src/app",
			Funcs: []testelf.DebugFunc{
				{Name: "worker", LowPC: 0x1000, HighPC: 0x1020},
			},
			LineRows: []testelf.LineRow{
				{Addr: 0x1000, Line: 10},
				{Addr: 0x1008, Line: 12},
			},
		},
	})

	ci, err := r.FindCodeInfo(0x1009, false)
	require.NoError(t, err)
	require.NotNil(t, ci)
	require.Equal(t, "/src/app", ci.Direct.Dir)
	require.Equal(t, "worker.c", ci.Direct.File)
	require.Equal(t, uint32(12), ci.Direct.Line)
	require.Empty(t, ci.Inlined)

	ci, err = r.FindCodeInfo(0x1000, false)
	require.NoError(t, err)
	require.NotNil(t, ci)
	require.Equal(t, uint32(10), ci.Direct.Line)
}

func TestFindCodeInfoInlined(t *testing.T) {
	r := openResolver(t, &testelf.Builder{
		Debug: &testelf.Debug{
			Funcs: []testelf.DebugFunc{
				{
					Name: "outer", LowPC: 0x1000, HighPC: 0x1020,
					Inlines: []testelf.DebugInline{{
						Name: "middle", LowPC: 0x1004, HighPC: 0x1010,
						CallFile: 1, CallLine: 3,
						Inlines: []testelf.DebugInline{{
							Name: "inner", LowPC: 0x1006, HighPC: 0x100a,
							CallFile: 1, CallLine: 7,
						}},
					}},
				},
			},
		},
	})

	ci, err := r.FindCodeInfo(0x1008, true)
	require.NoError(t, err)
	require.NotNil(t, ci)
	require.Len(t, ci.Inlined, 2)
	// Innermost frame first.
	require.Equal(t, "inner", ci.Inlined[0].Name)
	require.Equal(t, "middle", ci.Inlined[1].Name)
	require.NotNil(t, ci.Inlined[0].CodeInfo)
	require.Equal(t, uint32(7), ci.Inlined[0].CodeInfo.Line)
	require.Equal(t, uint32(3), ci.Inlined[1].CodeInfo.Line)
	require.Equal(t, "a.c", ci.Inlined[0].CodeInfo.File)

	// Inside the function but outside the inlined ranges.
	ci, err = r.FindCodeInfo(0x1002, true)
	require.NoError(t, err)
	require.NotNil(t, ci)
	require.Empty(t, ci.Inlined)

	// Inside middle but before inner starts.
	ci, err = r.FindCodeInfo(0x1005, true)
	require.NoError(t, err)
	require.NotNil(t, ci)
	require.Len(t, ci.Inlined, 1)
	require.Equal(t, "middle", ci.Inlined[0].Name)
}

func TestFindCodeInfoUnknownPC(t *testing.T) {
	r := openResolver(t, &testelf.Builder{
		Debug: &testelf.Debug{
			Funcs: []testelf.DebugFunc{
				{Name: "worker", LowPC: 0x1000, HighPC: 0x1020},
			},
		},
	})

	ci, err := r.FindCodeInfo(0x50, true)
	require.NoError(t, err)
	require.Nil(t, ci)
}

func TestResolverString(t *testing.T) {
	fpath := (&testelf.Builder{
		Debug: &testelf.Debug{
			Funcs: []testelf.DebugFunc{
				{Name: "worker", LowPC: 0x1000, HighPC: 0x1020},
			},
		},
	}).WriteFile(t)
	f, err := elf.Open(fpath, nil)
	require.NoError(t, err)
	defer f.Close()
	r, err := dwarf.NewResolverFromParser(f, nil)
	require.NoError(t, err)
	require.Equal(t, "DWARF "+fpath, r.String())
}
