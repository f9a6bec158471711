package symres

import (
	"errors"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/samber/lo"

	dwarf2 "github.com/grafana/symres/dwarf"
	elf2 "github.com/grafana/symres/elf"
	"github.com/grafana/symres/metrics"
)

// backend is the closed choice between a plain symbol table parse and the
// same parse augmented with DWARF debug info. The DWARF variant shares the
// baseline parser handle, so the section and symbol table parse happens
// exactly once per object file.
type backend interface {
	parser() *elf2.File
}

type elfBackend struct {
	p *elf2.File
}

func (b elfBackend) parser() *elf2.File { return b.p }

type dwarfBackend struct {
	d *dwarf2.Resolver
}

func (b dwarfBackend) parser() *elf2.File { return b.d.Parser() }

// ResolverOptions configures ElfResolver construction.
type ResolverOptions struct {
	Logger  log.Logger
	Metrics *metrics.Metrics // may be nil for tests
	// SkipDebugInfo leaves the DWARF backend unattached even when the
	// object carries debug sections.
	SkipDebugInfo bool
	SymbolOptions *elf2.SymbolOptions
}

// ElfResolver resolves addresses and names inside a single ELF file.
//
// An ELF file may be loaded into an address space with a relocation; callers
// resolve addresses as they appear in the file and apply load bias upstream.
// The resolver is immutable after construction and safe for concurrent use.
type ElfResolver struct {
	backend  backend
	fileName string
	logger   log.Logger
	metrics  *metrics.Metrics
}

var _ SymResolver = (*ElfResolver)(nil)

// NewElfResolver opens and parses the object file at fileName. The DWARF
// backend is attached when debug sections exist and were not skipped; the
// baseline backend always is. Construction fails on unreadable or
// unrecognizable files and never yields a half-usable resolver.
func NewElfResolver(fileName string, opts ResolverOptions) (*ElfResolver, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	parser, err := elf2.Open(fileName, opts.SymbolOptions)
	if err != nil {
		onOpenError(logger, opts.Metrics, fileName, err)
		return nil, err
	}
	res, err := NewElfResolverFromParser(parser, fileName, opts)
	if err != nil {
		parser.Close()
		return nil, err
	}
	return res, nil
}

// NewElfResolverFromParser binds a resolver to an already-parsed object
// file. The parser handle is shared, not copied; several resolvers bound to
// different identities may reference the same parse.
func NewElfResolverFromParser(parser *elf2.File, fileName string, opts ResolverOptions) (*ElfResolver, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	var b backend = elfBackend{p: parser}
	if !opts.SkipDebugInfo && parser.HasDebugInfo() {
		d, err := dwarf2.NewResolverFromParser(parser, logger)
		if err != nil {
			onOpenError(logger, opts.Metrics, fileName, err)
			return nil, err
		}
		b = dwarfBackend{d: d}
	}
	level.Debug(logger).Log("msg", "created resolver", "f", fileName, "symbols", parser.SymbolCount(), "debug_info", !opts.SkipDebugInfo && parser.HasDebugInfo())
	return &ElfResolver{
		backend:  b,
		fileName: fileName,
		logger:   logger,
		metrics:  opts.Metrics,
	}, nil
}

// FilePath returns the path of the object file this resolver is bound to.
func (r *ElfResolver) FilePath() string {
	return r.fileName
}

// Parser returns the shared baseline parser handle.
func (r *ElfResolver) Parser() *elf2.File {
	return r.backend.parser()
}

// BuildID returns the object's build ID, when it carries one.
func (r *ElfResolver) BuildID() (elf2.BuildID, error) {
	return r.backend.parser().BuildID()
}

// WithObjFileName returns a resolver sharing this resolver's backend but
// bound to a different object identity. Results of the copy are stamped
// with the new path.
func (r *ElfResolver) WithObjFileName(fileName string) *ElfResolver {
	res := *r
	res.fileName = fileName
	return &res
}

// FindSym returns the symbol owning addr. The DWARF backend, when attached,
// is authoritative: its scoping is richer and a hit is returned as is. Only
// an empty DWARF result falls through to the symbol table; a DWARF error
// does not.
func (r *ElfResolver) FindSym(addr uint64) (*Sym, error) {
	if b, ok := r.backend.(dwarfBackend); ok {
		sym, err := b.d.FindSym(addr)
		if err != nil {
			return nil, err
		}
		if sym != nil {
			r.countLookup(true)
			return &Sym{
				Name: sym.Name,
				Addr: sym.Addr,
				Size: sym.Size,
				Lang: srcLangFromDwarf(sym.Lang),
			}, nil
		}
	}
	sym, err := r.backend.parser().FindSymbol(addr)
	if err != nil {
		return nil, err
	}
	if sym == nil {
		r.countLookup(false)
		return nil, nil
	}
	r.countLookup(true)
	size := sym.Size
	if size == 0 {
		// Zero-size table entries match open-ended up to the next symbol
		// start; their true extent is unknown.
		size = SizeUnknown
	}
	// ELF does not carry any source code language information.
	return &Sym{
		Name: sym.Name,
		Addr: sym.Start,
		Size: size,
		Lang: SrcLangUnknown,
	}, nil
}

// FindAddr returns the addresses name resolves to. A non-empty DWARF result
// is used as is; only an empty one falls through to the symbol table. Every
// result is re-stamped with this resolver's own object path: sub-parsers
// have no notion of which file they are inside of relative to the caller.
func (r *ElfResolver) FindAddr(name string, opts *FindAddrOpts) ([]SymInfo, error) {
	if opts == nil {
		opts = &FindAddrOpts{}
	}
	res, err := r.findAddrImpl(name, opts)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].ObjFileName = r.fileName
		if opts.FileOffset {
			if off, ok := r.backend.parser().FindFileOffset(res[i].Addr); ok {
				res[i].FileOffset = off
			}
		}
	}
	return res, nil
}

func (r *ElfResolver) findAddrImpl(name string, opts *FindAddrOpts) ([]SymInfo, error) {
	// Both backends index function symbols only.
	if opts.Type != SymTypeUndefined && opts.Type != SymTypeFunc {
		return nil, nil
	}
	if b, ok := r.backend.(dwarfBackend); ok {
		syms, err := b.d.FindAddr(name)
		if err != nil {
			return nil, err
		}
		if len(syms) > 0 {
			return lo.Map(syms, func(s dwarf2.Sym, _ int) SymInfo {
				return SymInfo{Name: s.Name, Addr: s.Addr, Size: s.Size, Type: SymTypeFunc}
			}), nil
		}
	}
	syms, err := r.backend.parser().FindSymbolsByName(name)
	if err != nil {
		return nil, err
	}
	return lo.Map(syms, func(s elf2.Symbol, _ int) SymInfo {
		return SymInfo{Name: s.Name, Addr: s.Start, Size: s.Size, Type: SymTypeFunc}
	}), nil
}

// FindCodeInfo returns source location information for addr. The symbol
// table cannot answer this at all, so without a DWARF backend the result is
// absent rather than an error.
func (r *ElfResolver) FindCodeInfo(addr uint64, inlinedFns bool) (*AddrCodeInfo, error) {
	b, ok := r.backend.(dwarfBackend)
	if !ok {
		return nil, nil
	}
	ci, err := b.d.FindCodeInfo(addr, inlinedFns)
	if err != nil {
		return nil, err
	}
	if ci == nil {
		if r.metrics != nil {
			r.metrics.CodeInfoMisses.Inc()
		}
		return nil, nil
	}
	return &AddrCodeInfo{
		Direct: CodeInfo(ci.Direct),
		Inlined: lo.Map(ci.Inlined, func(f dwarf2.InlinedFn, _ int) InlinedFn {
			res := InlinedFn{Name: f.Name}
			if f.CodeInfo != nil {
				callSite := CodeInfo(*f.CodeInfo)
				res.CodeInfo = &callSite
			}
			return res
		}),
	}, nil
}

// String names the backend kind and the bound file, for diagnostics and log
// correlation.
func (r *ElfResolver) String() string {
	switch r.backend.(type) {
	case dwarfBackend:
		return "DWARF " + r.fileName
	default:
		return "ELF " + r.fileName
	}
}

// Close releases the shared parse. Only the owner of the parser handle may
// call it; resolvers created via WithObjFileName or
// NewElfResolverFromParser become unusable alongside it.
func (r *ElfResolver) Close() {
	r.backend.parser().Close()
}

func (r *ElfResolver) countLookup(known bool) {
	if r.metrics == nil {
		return
	}
	if known {
		r.metrics.KnownSymbols.Inc()
	} else {
		r.metrics.UnknownSymbols.Inc()
	}
}

func srcLangFromDwarf(l dwarf2.Lang) SrcLang {
	switch l {
	case dwarf2.LangC89, dwarf2.LangC, dwarf2.LangC99, dwarf2.LangC11, dwarf2.LangC17:
		return SrcLangC
	case dwarf2.LangCpp, dwarf2.LangCpp03, dwarf2.LangCpp11, dwarf2.LangCpp14, dwarf2.LangCpp17, dwarf2.LangCpp20:
		return SrcLangCpp
	case dwarf2.LangGo:
		return SrcLangGo
	case dwarf2.LangRust:
		return SrcLangRust
	default:
		return SrcLangUnknown
	}
}

func onOpenError(logger log.Logger, m *metrics.Metrics, fileName string, err error) {
	level.Error(logger).Log("msg", "failed to create resolver", "err", err, "f", fileName)
	if m != nil {
		m.ElfErrors.WithLabelValues(errorType(err)).Inc()
	}
}

func errorType(err error) string {
	if errors.Is(err, os.ErrNotExist) {
		return "ErrNotExist"
	}
	if errors.Is(err, os.ErrPermission) {
		return "ErrPermission"
	}
	if errors.Is(err, os.ErrClosed) {
		return "ErrClosed"
	}
	if errors.Is(err, os.ErrInvalid) {
		return "ErrInvalid"
	}
	return "Other"
}
