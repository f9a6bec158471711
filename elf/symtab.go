package elf

import (
	"debug/elf"
	"fmt"
	"sort"
	"sync"
)

// Symbol is one function symbol table entry.
type Symbol struct {
	Name  string
	Start uint64
	// Size in bytes; zero-sized entries own the range up to the next
	// symbol start.
	Size int64
}

type stringReader interface {
	getString(start int64) (string, bool)
}

// Name packs a string table offset with the index of the string table it
// refers to.
type Name uint32

type SectionLinkIndex uint8

const (
	sectionTypeSym    SectionLinkIndex = 0
	sectionTypeDynSym SectionLinkIndex = 1
)

func NewName(nameIndex uint32, linkIndex SectionLinkIndex) Name {
	return Name((nameIndex & 0x7fffffff) | uint32(linkIndex)<<31)
}

func (n Name) NameIndex() uint32 {
	return uint32(n) & 0x7fffffff
}

func (n Name) LinkIndex() SectionLinkIndex {
	return SectionLinkIndex(n >> 31)
}

type symbolIndexEntry struct {
	name  Name
	value uint64
	size  uint64
}

// flatSymbolIndex keeps the function symbols of one object sorted by
// address, names resolved lazily through the linked string tables.
type flatSymbolIndex struct {
	links  [2]elf.SectionHeader
	names  []Name
	values PCIndex
	sizes  PCIndex
}

// SymbolTable answers address and name queries over the merged .symtab and
// .dynsym function entries of one ELF image.
type SymbolTable struct {
	index flatSymbolIndex
	str   stringReader

	nameIndexOnce sync.Once
	nameIndex     map[string][]int
}

func (f *inMemElf) newSymbolTable() (*SymbolTable, error) {
	sym, symStr, err := f.getSymbols(elf.SHT_SYMTAB)
	if err != nil && err != ErrNoSymbols {
		return nil, err
	}
	dynsym, dynStr, err := f.getSymbols(elf.SHT_DYNSYM)
	if err != nil && err != ErrNoSymbols {
		return nil, err
	}
	total := len(sym) + len(dynsym)
	if total == 0 {
		return nil, ErrNoSymbols
	}
	all := make([]symbolIndexEntry, 0, total)
	all = append(all, sym...)
	all = append(all, dynsym...)
	sort.Slice(all, func(i, j int) bool {
		if all[i].value == all[j].value {
			return all[i].name < all[j].name
		}
		return all[i].value < all[j].value
	})

	res := &SymbolTable{
		index: flatSymbolIndex{
			links:  [2]elf.SectionHeader{symStr, dynStr},
			names:  make([]Name, total),
			values: NewPCIndex(total),
			sizes:  NewPCIndex(total),
		},
		str: f,
	}
	for i := range all {
		res.index.names[i] = all[i].name
		res.index.values.Set(i, all[i].value)
		res.index.sizes.Set(i, all[i].size)
	}
	return res, nil
}

// getSymbols decodes the function entries of the symbol section of the given
// type along with the section header of its string table.
func (f *inMemElf) getSymbols(typ elf.SectionType) ([]symbolIndexEntry, elf.SectionHeader, error) {
	var linkIndex SectionLinkIndex
	if typ == elf.SHT_DYNSYM {
		linkIndex = sectionTypeDynSym
	} else {
		linkIndex = sectionTypeSym
	}
	var strSection elf.SectionHeader
	sec, _ := f.sectionByType(typ)
	if sec == nil {
		return nil, strSection, ErrNoSymbols
	}
	if int(sec.Link) >= len(f.Sections) {
		return nil, strSection, fmt.Errorf("%s string table link %d out of range", sec.Name, sec.Link)
	}
	strSection = f.Sections[sec.Link]

	data, err := f.SectionData(sec)
	if err != nil {
		return nil, strSection, fmt.Errorf("reading %s: %w", sec.Name, err)
	}
	var entSize int
	switch f.Class {
	case elf.ELFCLASS64:
		entSize = elf.Sym64Size
	case elf.ELFCLASS32:
		entSize = elf.Sym32Size
	default:
		return nil, strSection, fmt.Errorf("unsupported ELF class %v", f.Class)
	}
	if len(data) < entSize {
		return nil, strSection, ErrNoSymbols
	}
	bo := f.ByteOrder
	var res []symbolIndexEntry
	// Entry 0 is the mandatory null symbol.
	for off := entSize; off+entSize <= len(data); off += entSize {
		e := data[off : off+entSize]
		var name uint32
		var info uint8
		var value, size uint64
		if f.Class == elf.ELFCLASS64 {
			name = bo.Uint32(e[0:4])
			info = e[4]
			value = bo.Uint64(e[8:16])
			size = bo.Uint64(e[16:24])
		} else {
			name = bo.Uint32(e[0:4])
			value = uint64(bo.Uint32(e[4:8]))
			size = uint64(bo.Uint32(e[8:12]))
			info = e[12]
		}
		if elf.ST_TYPE(info) != elf.STT_FUNC {
			continue
		}
		if value == 0 {
			continue
		}
		res = append(res, symbolIndexEntry{
			name:  NewName(name, linkIndex),
			value: value,
			size:  size,
		})
	}
	return res, strSection, nil
}

func (st *SymbolTable) symbolName(idx int) (string, error) {
	link := &st.index.links[st.index.names[idx].LinkIndex()]
	nameIndex := st.index.names[idx].NameIndex()
	s, ok := st.str.getString(int64(nameIndex) + int64(link.Offset))
	if !ok {
		return "", fmt.Errorf("reading symbol name at %#x in %s", nameIndex, link.Name)
	}
	return s, nil
}

// findSymbol returns the function symbol owning addr, or nil. Entries are
// matched by nearest-lower-bound search followed by a range check.
func (st *SymbolTable) findSymbol(addr uint64) (*Symbol, error) {
	i := st.index.values.FindIndex(addr)
	if i < 0 {
		return nil, nil
	}
	start := st.index.values.Get(i)
	for j := i; j < st.index.values.Length() && st.index.values.Get(j) == start; j++ {
		size := st.index.sizes.Get(j)
		if size != 0 && addr-start >= size {
			continue
		}
		name, err := st.symbolName(j)
		if err != nil {
			return nil, err
		}
		return &Symbol{Name: name, Start: start, Size: int64(size)}, nil
	}
	return nil, nil
}

func (st *SymbolTable) buildNameIndex() {
	st.nameIndex = make(map[string][]int, len(st.index.names))
	for j := range st.index.names {
		name, err := st.symbolName(j)
		if err != nil {
			continue
		}
		st.nameIndex[name] = append(st.nameIndex[name], j)
	}
}

// findSymbolsByName returns every entry carrying the given name, in address
// order. The name index is built on first use.
func (st *SymbolTable) findSymbolsByName(name string) []Symbol {
	st.nameIndexOnce.Do(st.buildNameIndex)
	indices := st.nameIndex[name]
	if len(indices) == 0 {
		return nil
	}
	res := make([]Symbol, 0, len(indices))
	for _, j := range indices {
		res = append(res, Symbol{
			Name:  name,
			Start: st.index.values.Get(j),
			Size:  int64(st.index.sizes.Get(j)),
		})
	}
	return res
}

func (st *SymbolTable) size() int {
	return len(st.index.names)
}

// FindSymbol returns the function symbol owning addr, or nil when no symbol
// covers it. An unmapped address is not an error.
func (f *File) FindSymbol(addr uint64) (*Symbol, error) {
	if f.symtab == nil {
		return nil, nil
	}
	return f.symtab.findSymbol(addr)
}

// FindSymbolsByName returns the symbol table entries named name, in address
// order. A name with no entries yields an empty result, not an error.
func (f *File) FindSymbolsByName(name string) ([]Symbol, error) {
	if f.symtab == nil {
		return nil, nil
	}
	return f.symtab.findSymbolsByName(name), nil
}

// SymbolCount returns the number of indexed function symbols.
func (f *File) SymbolCount() int {
	if f.symtab == nil {
		return 0
	}
	return f.symtab.size()
}
