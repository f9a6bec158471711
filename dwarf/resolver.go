// Package dwarf answers address and name queries from DWARF debug info,
// with source-level detail the plain symbol table cannot provide. It builds
// its own address-ordered subprogram index, since debug-info scoping can
// differ from symbol table visibility (static functions, inlined-only
// routines).
package dwarf

import (
	"debug/dwarf"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	elf2 "github.com/grafana/symres/elf"
)

// Lang is a DW_AT_language code.
type Lang int64

const (
	LangNone  Lang = 0
	LangC89   Lang = 0x01
	LangC     Lang = 0x02
	LangCpp   Lang = 0x04
	LangC99   Lang = 0x0c
	LangGo    Lang = 0x16
	LangCpp03 Lang = 0x19
	LangCpp11 Lang = 0x1a
	LangRust  Lang = 0x1c
	LangC11   Lang = 0x1d
	LangCpp14 Lang = 0x21
	LangCpp17 Lang = 0x2a
	LangCpp20 Lang = 0x2b
	LangC17   Lang = 0x2c
)

// Sym is a subprogram owning an address.
type Sym struct {
	Name string
	Addr uint64
	// Size in bytes, or -1 when the subprogram's extent is unknown or
	// discontiguous.
	Size int64
	Lang Lang
}

// CodeInfo is a source location recovered from the line table.
type CodeInfo struct {
	Dir    string
	File   string
	Line   uint32
	Column uint16
}

// InlinedFn is one inlined frame active at an address. CodeInfo points at
// the call site, when the producer recorded one.
type InlinedFn struct {
	Name     string
	CodeInfo *CodeInfo
}

// AddrCodeInfo pairs the direct (innermost) source location of an address
// with the chain of inlined frames active there, innermost first.
type AddrCodeInfo struct {
	Direct  CodeInfo
	Inlined []InlinedFn
}

// Resolver indexes the DWARF data of one object file. The underlying parse
// is shared with the baseline backend, never copied: Resolver holds a handle
// to the same elf.File the caller constructed.
//
// All state is built at construction; queries are safe for concurrent use.
type Resolver struct {
	parser *elf2.File
	data   *dwarf.Data
	logger log.Logger

	subs subprogramIndex
	// names maps a subprogram name to the index of its primary range
	// entry.
	names map[string][]int
	// dieNames maps subprogram DIE offsets to names, for resolving
	// DW_AT_abstract_origin and DW_AT_specification references.
	dieNames map[dwarf.Offset]string
}

// NewResolverFromParser builds a Resolver on top of an already-parsed object
// file, without re-opening it.
func NewResolverFromParser(parser *elf2.File, logger log.Logger) (*Resolver, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	data, err := parser.DWARFData()
	if err != nil {
		return nil, err
	}
	res := &Resolver{
		parser: parser,
		data:   data,
		logger: logger,
	}
	if err = res.buildIndex(); err != nil {
		return nil, errors.Wrapf(err, "indexing debug info of %s", parser.FilePath())
	}
	level.Debug(logger).Log("msg", "indexed debug info", "f", parser.FilePath(), "subprograms", len(res.subs.entries))
	return res, nil
}

// Parser returns the shared baseline parser handle.
func (r *Resolver) Parser() *elf2.File {
	return r.parser
}

// FindSym returns the subprogram owning addr, or nil when no compilation
// unit claims it.
func (r *Resolver) FindSym(addr uint64) (*Sym, error) {
	e := r.subs.find(addr)
	if e == nil {
		return nil, nil
	}
	return &Sym{
		Name: e.name,
		Addr: e.addr,
		Size: e.size,
		Lang: e.lang,
	}, nil
}

// FindAddr returns every subprogram carrying the given name, in address
// order.
func (r *Resolver) FindAddr(name string) ([]Sym, error) {
	indices := r.names[name]
	if len(indices) == 0 {
		return nil, nil
	}
	res := make([]Sym, 0, len(indices))
	for _, i := range indices {
		e := &r.subs.entries[i]
		res = append(res, Sym{
			Name: e.name,
			Addr: e.addr,
			Size: e.size,
			Lang: e.lang,
		})
	}
	return res, nil
}

func (r *Resolver) String() string {
	return fmt.Sprintf("DWARF %s", r.parser.FilePath())
}
