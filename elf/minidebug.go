package elf

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
)

// newMiniDebugSymbolTable extracts the xz-compressed ELF image embedded in
// .gnu_debugdata and indexes its symbols. Stripped distribution binaries
// often keep their function symbols only there.
func (f *File) newMiniDebugSymbolTable(opts *SymbolOptions) (*SymbolTable, error) {
	miniDebugSection := f.Section(".gnu_debugdata")
	if miniDebugSection == nil {
		return nil, ErrNoSymbols
	}
	data, err := f.SectionData(miniDebugSection)
	if err != nil {
		return nil, err
	}
	reader, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("reading .gnu_debugdata: %w", err)
	}
	var uncompressed bytes.Buffer
	if _, err = io.Copy(&uncompressed, reader); err != nil {
		return nil, fmt.Errorf("reading .gnu_debugdata: %w", err)
	}
	miniDebugElf, err := newInMemElf(bytes.NewReader(uncompressed.Bytes()), opts)
	if err != nil {
		return nil, fmt.Errorf("parsing .gnu_debugdata: %w", err)
	}
	return miniDebugElf.newSymbolTable()
}
