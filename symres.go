package symres

import "fmt"

// SrcLang is the source language a symbol was compiled from, as declared by
// the compilation unit that defined it. ELF symbol tables carry no language
// metadata, so symbols recovered from them always report SrcLangUnknown.
type SrcLang uint8

const (
	SrcLangUnknown SrcLang = iota
	SrcLangC
	SrcLangCpp
	SrcLangGo
	SrcLangRust
)

func (l SrcLang) String() string {
	switch l {
	case SrcLangC:
		return "C"
	case SrcLangCpp:
		return "C++"
	case SrcLangGo:
		return "Go"
	case SrcLangRust:
		return "Rust"
	default:
		return "unknown"
	}
}

// SymType classifies a symbol table entry.
type SymType uint8

const (
	SymTypeUndefined SymType = iota
	SymTypeFunc
	SymTypeVar
)

// SizeUnknown marks a symbol whose size the producing format could not
// express.
const SizeUnknown int64 = -1

// Sym is the result of an address lookup.
type Sym struct {
	Name string
	// Addr is the start address of the symbol, without any load bias
	// applied.
	Addr uint64
	// Size is the symbol size in bytes, or SizeUnknown.
	Size int64
	Lang SrcLang
}

// SymInfo is one candidate returned by a name lookup.
type SymInfo struct {
	Name string
	Addr uint64
	Size int64
	Type SymType
	// FileOffset is the file byte offset of Addr. Only set when requested
	// via FindAddrOpts and the address is covered by a loadable segment.
	FileOffset uint64
	// ObjFileName is the path of the object file the candidate came from.
	// Resolvers stamp it with their own bound path before returning.
	ObjFileName string
}

// FindAddrOpts alters the behavior and output of name lookups.
type FindAddrOpts struct {
	// FileOffset requests SymInfo.FileOffset to be filled in.
	FileOffset bool
	// Type restricts results to one symbol type. SymTypeUndefined matches
	// any.
	Type SymType
}

// CodeInfo is a source code location.
type CodeInfo struct {
	Dir    string
	File   string
	Line   uint32
	Column uint16
}

func (c *CodeInfo) String() string {
	return fmt.Sprintf("%s/%s:%d", c.Dir, c.File, c.Line)
}

// InlinedFn is one frame of an inlined call chain. CodeInfo describes the
// call site of the function, not its body, and may be nil when the producer
// did not record it.
type InlinedFn struct {
	Name     string
	CodeInfo *CodeInfo
}

// AddrCodeInfo is the result of an address to source location lookup.
// Inlined, when requested and available, lists the inlined frames active at
// the address, innermost first.
type AddrCodeInfo struct {
	Direct  CodeInfo
	Inlined []InlinedFn
}

// SymResolver resolves addresses and names inside one object file. All
// methods are safe for concurrent use: resolvers parse at construction and
// never mutate afterwards.
//
// A nil result with a nil error means the resolver looked and found nothing.
// Errors are reserved for I/O failures and corruption discovered while
// walking structures that passed initial validation.
type SymResolver interface {
	// FindSym returns the symbol owning addr, or nil.
	FindSym(addr uint64) (*Sym, error)
	// FindAddr returns the addresses a name resolves to, stamped with the
	// resolver's own object file path.
	FindAddr(name string, opts *FindAddrOpts) ([]SymInfo, error)
	// FindCodeInfo returns source location information for addr, or nil
	// when the backing format cannot provide any.
	FindCodeInfo(addr uint64, inlinedFns bool) (*AddrCodeInfo, error)
	// String returns a diagnostic representation naming the backend kind
	// and the bound file.
	String() string
}
