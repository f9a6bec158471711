// Package testelf builds small but valid ELF64 object files in memory, so
// parser and resolver tests do not depend on checked-in binaries or on the
// host toolchain. Symbol tables, GNU build ID notes, DWARF debug info and
// MiniDebugInfo images can all be attached.
package testelf

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

// Sym is one function symbol to place into .symtab.
type Sym struct {
	Name string
	Addr uint64
	Size uint64
}

// Builder accumulates the pieces of one object file.
type Builder struct {
	TextAddr uint64 // defaults to 0x1000
	TextSize uint64 // defaults to covering all symbols
	Syms     []Sym
	// NoSymtab omits the symbol table sections entirely.
	NoSymtab bool
	// BuildID, when set, is emitted as a .note.gnu.build-id (use 8 or 20
	// bytes to pass validation).
	BuildID []byte
	// Debug, when set, adds .debug_abbrev/.debug_info/.debug_line.
	Debug *Debug
	// MiniDebug, when set, is built as a second ELF image, xz-compressed
	// and embedded as .gnu_debugdata.
	MiniDebug *Builder
}

const (
	defaultTextAddr = 0x1000
	textOff         = 0x200
)

type section struct {
	name string
	hdr  elf.Section64
	data []byte
}

func (b *Builder) textRange() (uint64, uint64) {
	addr := b.TextAddr
	if addr == 0 {
		addr = defaultTextAddr
	}
	size := b.TextSize
	if size == 0 {
		end := addr + 0x100
		for _, s := range b.Syms {
			if s.Addr+s.Size > end {
				end = s.Addr + s.Size
			}
		}
		if b.Debug != nil && b.Debug.highPC() > end {
			end = b.Debug.highPC()
		}
		size = end - addr
	}
	return addr, size
}

// Bytes lays out and serializes the object file.
func (b *Builder) Bytes() []byte {
	textAddr, textSize := b.textRange()

	var sections []section
	sections = append(sections, section{
		name: ".text",
		hdr: elf.Section64{
			Type:      uint32(elf.SHT_PROGBITS),
			Flags:     uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Addr:      textAddr,
			Size:      textSize,
			Addralign: 16,
		},
		data: make([]byte, textSize),
	})
	textNdx := uint16(len(sections)) // section header index, after the null entry

	if !b.NoSymtab {
		symtab, strtab := b.buildSymtab(textNdx)
		strtabNdx := uint32(len(sections) + 2)
		sections = append(sections, section{
			name: ".symtab",
			hdr: elf.Section64{
				Type:    uint32(elf.SHT_SYMTAB),
				Link:    strtabNdx,
				Info:    1,
				Entsize: uint64(elf.Sym64Size),
			},
			data: symtab,
		})
		sections = append(sections, section{
			name: ".strtab",
			hdr:  elf.Section64{Type: uint32(elf.SHT_STRTAB), Addralign: 1},
			data: strtab,
		})
	}
	if len(b.BuildID) > 0 {
		sections = append(sections, section{
			name: ".note.gnu.build-id",
			hdr:  elf.Section64{Type: uint32(elf.SHT_NOTE), Addralign: 4},
			data: gnuBuildIDNote(b.BuildID),
		})
	}
	if b.Debug != nil {
		abbrev, info, line := b.Debug.sections()
		sections = append(sections,
			section{name: ".debug_abbrev", hdr: elf.Section64{Type: uint32(elf.SHT_PROGBITS), Addralign: 1}, data: abbrev},
			section{name: ".debug_info", hdr: elf.Section64{Type: uint32(elf.SHT_PROGBITS), Addralign: 1}, data: info},
			section{name: ".debug_line", hdr: elf.Section64{Type: uint32(elf.SHT_PROGBITS), Addralign: 1}, data: line},
		)
	}
	if b.MiniDebug != nil {
		sections = append(sections, section{
			name: ".gnu_debugdata",
			hdr:  elf.Section64{Type: uint32(elf.SHT_PROGBITS), Addralign: 1},
			data: xzCompress(b.MiniDebug.Bytes()),
		})
	}

	// .shstrtab names every section including itself.
	shstrtab := []byte{0}
	nameOffsets := make([]uint32, len(sections)+1)
	for i := range sections {
		nameOffsets[i] = uint32(len(shstrtab))
		shstrtab = append(shstrtab, sections[i].name...)
		shstrtab = append(shstrtab, 0)
	}
	nameOffsets[len(sections)] = uint32(len(shstrtab))
	shstrtab = append(shstrtab, ".shstrtab"...)
	shstrtab = append(shstrtab, 0)
	sections = append(sections, section{
		name: ".shstrtab",
		hdr:  elf.Section64{Type: uint32(elf.SHT_STRTAB), Addralign: 1},
		data: shstrtab,
	})

	// Layout: ehdr, phdr, then section bodies starting at the fixed text
	// offset, then the section header table.
	off := uint64(textOff)
	for i := range sections {
		off = align8(off)
		sections[i].hdr.Name = nameOffsets[i]
		sections[i].hdr.Off = off
		sections[i].hdr.Size = uint64(len(sections[i].data))
		off += uint64(len(sections[i].data))
	}
	shoff := align8(off)

	ehdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   1,
		Entry:     textAddr,
		Phoff:     64,
		Shoff:     shoff,
		Ehsize:    64,
		Phentsize: 56,
		Phnum:     1,
		Shentsize: 64,
		Shnum:     uint16(len(sections) + 1),
		Shstrndx:  uint16(len(sections)), // .shstrtab is last
	}
	ident := [16]byte{0x7f, 'E', 'L', 'F',
		byte(elf.ELFCLASS64), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT)}
	ehdr.Ident = ident

	phdr := elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Off:    sections[0].hdr.Off,
		Vaddr:  textAddr,
		Paddr:  textAddr,
		Filesz: textSize,
		Memsz:  textSize,
		Align:  0x1000,
	}

	buf := &bytes.Buffer{}
	le := binary.LittleEndian
	must(binary.Write(buf, le, &ehdr))
	must(binary.Write(buf, le, &phdr))
	for i := range sections {
		pad(buf, int(sections[i].hdr.Off))
		buf.Write(sections[i].data)
	}
	pad(buf, int(shoff))
	must(binary.Write(buf, le, &elf.Section64{})) // null section header
	for i := range sections {
		must(binary.Write(buf, le, &sections[i].hdr))
	}
	return buf.Bytes()
}

// WriteFile serializes the object into a temp file and returns its path.
func (b *Builder) WriteFile(t testing.TB) string {
	t.Helper()
	fpath := filepath.Join(t.TempDir(), "test.elf")
	require.NoError(t, os.WriteFile(fpath, b.Bytes(), 0o644))
	return fpath
}

func (b *Builder) buildSymtab(textNdx uint16) ([]byte, []byte) {
	strtab := []byte{0}
	buf := &bytes.Buffer{}
	must(binary.Write(buf, binary.LittleEndian, &elf.Sym64{})) // null symbol
	for _, s := range b.Syms {
		nameOff := uint32(len(strtab))
		strtab = append(strtab, s.Name...)
		strtab = append(strtab, 0)
		must(binary.Write(buf, binary.LittleEndian, &elf.Sym64{
			Name:  nameOff,
			Info:  elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC),
			Shndx: textNdx,
			Value: s.Addr,
			Size:  s.Size,
		}))
	}
	return buf.Bytes(), strtab
}

func gnuBuildIDNote(id []byte) []byte {
	// namesz, descsz, type NT_GNU_BUILD_ID, name "GNU\0", then the id.
	buf := &bytes.Buffer{}
	le := binary.LittleEndian
	must(binary.Write(buf, le, uint32(4)))
	must(binary.Write(buf, le, uint32(len(id))))
	must(binary.Write(buf, le, uint32(3)))
	buf.Write([]byte("GNU\x00"))
	buf.Write(id)
	return buf.Bytes()
}

func xzCompress(data []byte) []byte {
	buf := &bytes.Buffer{}
	w, err := xz.NewWriter(buf)
	must(err)
	_, err = w.Write(data)
	must(err)
	must(w.Close())
	return buf.Bytes()
}

func align8(v uint64) uint64 {
	return (v + 7) &^ 7
}

func pad(buf *bytes.Buffer, off int) {
	for buf.Len() < off {
		buf.WriteByte(0)
	}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
