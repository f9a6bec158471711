package elf

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"
	"os"
	"strings"

	bufra "github.com/avvmoto/buf-readerat"
	"github.com/ianlancetaylor/demangle"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	ErrNoSymbols   = fmt.Errorf("no symbol section")
	ErrNoDebugInfo = fmt.Errorf("no debug info section")
)

// SymbolOptions alters how symbol names are read out of string tables.
type SymbolOptions struct {
	DemangleOptions []demangle.Option
}

var defaultSymbolOptions = &SymbolOptions{}

// inMemElf holds the parsed headers of an ELF image and reads section and
// string table data through an io.ReaderAt. It backs both file-based objects
// and the in-memory MiniDebugInfo image extracted from .gnu_debugdata.
type inMemElf struct {
	elf.FileHeader
	Sections []elf.SectionHeader
	Progs    []elf.ProgHeader

	reader          io.ReaderAt
	stringCache     *xsync.MapOf[int64, string]
	demangleOptions []demangle.Option
}

func newInMemElf(r io.ReaderAt, opts *SymbolOptions) (*inMemElf, error) {
	if opts == nil {
		opts = defaultSymbolOptions
	}
	res := &inMemElf{
		reader:          r,
		stringCache:     xsync.NewMapOf[int64, string](),
		demangleOptions: opts.DemangleOptions,
	}
	ef, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	res.FileHeader = ef.FileHeader
	res.Progs = make([]elf.ProgHeader, 0, len(ef.Progs))
	res.Sections = make([]elf.SectionHeader, 0, len(ef.Sections))
	for i := range ef.Progs {
		res.Progs = append(res.Progs, ef.Progs[i].ProgHeader)
	}
	for i := range ef.Sections {
		res.Sections = append(res.Sections, ef.Sections[i].SectionHeader)
	}
	return res, nil
}

func (f *inMemElf) Section(name string) *elf.SectionHeader {
	for i := range f.Sections {
		s := &f.Sections[i]
		if s.Name == name {
			return s
		}
	}
	return nil
}

func (f *inMemElf) sectionByType(typ elf.SectionType) (*elf.SectionHeader, int) {
	for i := range f.Sections {
		s := &f.Sections[i]
		if s.Type == typ {
			return s, i
		}
	}
	return nil, -1
}

// SectionData returns the section's contents, transparently decompressing
// SHF_COMPRESSED and .zdebug_ sections.
func (f *inMemElf) SectionData(s *elf.SectionHeader) ([]byte, error) {
	res := make([]byte, s.FileSize)
	if _, err := f.reader.ReadAt(res, int64(s.Offset)); err != nil {
		return nil, err
	}
	if s.Flags&elf.SHF_COMPRESSED != 0 {
		return f.decompressChdr(s, res)
	}
	if strings.HasPrefix(s.Name, ".zdebug_") {
		return decompressZdebug(res)
	}
	return res, nil
}

// getString extracts a string from an ELF string table, demangling it when
// demangle options are set. Reads are cached; the cache is safe for
// concurrent lookups.
func (f *inMemElf) getString(start int64) (string, bool) {
	if s, ok := f.stringCache.Load(start); ok {
		return s, true
	}
	const tmpBufSize = 128
	var tmpBuf [tmpBufSize]byte
	sb := strings.Builder{}
	for i := 0; i < 10; i++ {
		n, err := f.reader.ReadAt(tmpBuf[:], start+int64(i*tmpBufSize))
		if err != nil && err != io.EOF {
			return "", false
		}
		idx := bytes.IndexByte(tmpBuf[:n], 0)
		if idx >= 0 {
			sb.Write(tmpBuf[:idx])
			s := sb.String()
			if len(f.demangleOptions) > 0 {
				s = demangle.Filter(s, f.demangleOptions...)
			}
			f.stringCache.Store(start, s)
			return s, true
		}
		if err == io.EOF {
			return "", false
		}
		sb.Write(tmpBuf[:n])
	}
	return "", false
}

// File is one parsed object file. The file is opened and parsed once at
// construction; all queries afterwards are reads over immutable state and
// need no locking.
type File struct {
	inMemElf

	fpath  string
	osFile *os.File
	mmaped []byte

	symtab *SymbolTable // nil when the object carries no function symbols
}

// Open opens and parses the object file at fpath. It fails on unreadable,
// truncated or unrecognizable files, but not merely because no symbols
// exist.
func Open(fpath string, opts *SymbolOptions) (*File, error) {
	osFile, err := os.Open(fpath)
	if err != nil {
		return nil, err
	}
	fi, err := osFile.Stat()
	if err != nil {
		osFile.Close()
		return nil, err
	}
	res := &File{fpath: fpath, osFile: osFile}
	var reader io.ReaderAt
	if mm, mmErr := mmapFile(osFile, fi.Size()); mmErr == nil {
		res.mmaped = mm
		reader = bytes.NewReader(mm)
	} else {
		reader = bufra.NewBufReaderAt(osFile, 4*0x1000)
	}
	mem, err := newInMemElf(reader, opts)
	if err != nil {
		res.Close()
		return nil, fmt.Errorf("parsing %s: %w", fpath, err)
	}
	res.inMemElf = *mem

	if err = res.loadSymbolTable(opts); err != nil {
		res.Close()
		return nil, err
	}
	return res, nil
}

func (f *File) loadSymbolTable(opts *SymbolOptions) error {
	st, err := f.inMemElf.newSymbolTable()
	if err == nil {
		f.symtab = st
		return nil
	}
	if err != ErrNoSymbols {
		return err
	}
	// Stripped object. MiniDebugInfo may still carry the function symbols.
	st, err = f.newMiniDebugSymbolTable(opts)
	if err == nil {
		f.symtab = st
		return nil
	}
	if err == ErrNoSymbols {
		return nil
	}
	return err
}

// FilePath returns the path the file was opened from.
func (f *File) FilePath() string {
	return f.fpath
}

// FindFileOffset maps a virtual address to a file byte offset via the
// loadable program headers. The second return value reports whether any
// loadable segment covers the address.
func (f *File) FindFileOffset(addr uint64) (uint64, bool) {
	for i := range f.Progs {
		p := &f.Progs[i]
		if p.Type != elf.PT_LOAD {
			continue
		}
		if addr >= p.Vaddr && addr-p.Vaddr < p.Filesz {
			return p.Off + (addr - p.Vaddr), true
		}
	}
	return 0, false
}

// HasDebugInfo reports whether the object carries DWARF debug sections.
func (f *File) HasDebugInfo() bool {
	return f.Section(".debug_info") != nil || f.Section(".zdebug_info") != nil
}

func (f *File) Close() {
	if f.mmaped != nil {
		munmapFile(f.mmaped)
		f.mmaped = nil
	}
	if f.osFile != nil {
		f.osFile.Close()
		f.osFile = nil
	}
}
