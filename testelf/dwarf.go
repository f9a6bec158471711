package testelf

import (
	"bytes"
	"encoding/binary"
	"sort"
)

// Debug describes one DWARF v4 compilation unit to synthesize.
type Debug struct {
	FileName string // defaults to "a.c"
	CompDir  string // defaults to "/tmp/src"
	Language int64  // DW_AT_language code
	LowPC    uint64 // defaults to the lowest function
	HighPC   uint64 // defaults to the highest function end
	Funcs    []DebugFunc
	// LineRows populate .debug_line; defaults to one row per function
	// start, numbered from line 1.
	LineRows []LineRow
	// TruncateLine, when positive, cuts the emitted .debug_line section to
	// this many bytes, producing a corrupt line table.
	TruncateLine int
}

// DebugFunc is one DW_TAG_subprogram.
type DebugFunc struct {
	Name    string
	LowPC   uint64
	HighPC  uint64
	Inlines []DebugInline
}

// DebugInline is one DW_TAG_inlined_subroutine, optionally nested.
type DebugInline struct {
	Name     string
	LowPC    uint64
	HighPC   uint64
	CallFile uint8 // 1-based index into the line table file list
	CallLine uint8
	Inlines  []DebugInline
}

// LineRow is one line table row.
type LineRow struct {
	Addr uint64
	Line int
}

// Abbreviation codes, in .debug_abbrev order.
const (
	abbrevCompileUnit = 1
	abbrevSubprogram  = 2
	abbrevInlined     = 3
)

// DWARF constants used by the emitters.
const (
	dwTagCompileUnit = 0x11
	dwTagInlined     = 0x1d
	dwTagSubprogram  = 0x2e

	dwAttrName     = 0x03
	dwAttrStmtList = 0x10
	dwAttrLowPC    = 0x11
	dwAttrHighPC   = 0x12
	dwAttrLanguage = 0x13
	dwAttrCompDir  = 0x1b
	dwAttrCallFile = 0x58
	dwAttrCallLine = 0x59

	dwFormAddr      = 0x01
	dwFormData1     = 0x0b
	dwFormString    = 0x08
	dwFormSecOffset = 0x17
)

func (d *Debug) fileName() string {
	if d.FileName == "" {
		return "a.c"
	}
	return d.FileName
}

func (d *Debug) compDir() string {
	if d.CompDir == "" {
		return "/tmp/src"
	}
	return d.CompDir
}

func (d *Debug) lowPC() uint64 {
	if d.LowPC != 0 {
		return d.LowPC
	}
	low := ^uint64(0)
	for _, f := range d.Funcs {
		if f.LowPC < low {
			low = f.LowPC
		}
	}
	return low
}

func (d *Debug) highPC() uint64 {
	if d.HighPC != 0 {
		return d.HighPC
	}
	var high uint64
	for _, f := range d.Funcs {
		if f.HighPC > high {
			high = f.HighPC
		}
	}
	return high
}

func (d *Debug) lineRows() []LineRow {
	if len(d.LineRows) > 0 {
		rows := append([]LineRow(nil), d.LineRows...)
		sort.Slice(rows, func(i, j int) bool { return rows[i].Addr < rows[j].Addr })
		return rows
	}
	rows := make([]LineRow, 0, len(d.Funcs))
	for i, f := range d.Funcs {
		rows = append(rows, LineRow{Addr: f.LowPC, Line: i + 1})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Addr < rows[j].Addr })
	return rows
}

// sections emits .debug_abbrev, .debug_info and .debug_line.
func (d *Debug) sections() (abbrev, info, line []byte) {
	line = d.emitLine()
	if d.TruncateLine > 0 && d.TruncateLine < len(line) {
		line = line[:d.TruncateLine]
	}
	return d.emitAbbrev(), d.emitInfo(), line
}

func (d *Debug) emitAbbrev() []byte {
	buf := &bytes.Buffer{}
	decl := func(code, tag int, children byte, attrForms ...int) {
		writeUleb(buf, uint64(code))
		writeUleb(buf, uint64(tag))
		buf.WriteByte(children)
		for i := 0; i < len(attrForms); i += 2 {
			writeUleb(buf, uint64(attrForms[i]))
			writeUleb(buf, uint64(attrForms[i+1]))
		}
		writeUleb(buf, 0)
		writeUleb(buf, 0)
	}
	decl(abbrevCompileUnit, dwTagCompileUnit, 1,
		dwAttrName, dwFormString,
		dwAttrCompDir, dwFormString,
		dwAttrLanguage, dwFormData1,
		dwAttrLowPC, dwFormAddr,
		dwAttrHighPC, dwFormAddr,
		dwAttrStmtList, dwFormSecOffset)
	decl(abbrevSubprogram, dwTagSubprogram, 1,
		dwAttrName, dwFormString,
		dwAttrLowPC, dwFormAddr,
		dwAttrHighPC, dwFormAddr)
	decl(abbrevInlined, dwTagInlined, 1,
		dwAttrName, dwFormString,
		dwAttrLowPC, dwFormAddr,
		dwAttrHighPC, dwFormAddr,
		dwAttrCallFile, dwFormData1,
		dwAttrCallLine, dwFormData1)
	buf.WriteByte(0)
	return buf.Bytes()
}

func (d *Debug) emitInfo() []byte {
	le := binary.LittleEndian
	body := &bytes.Buffer{}
	// Unit header minus the length field: version, abbrev offset,
	// address size.
	must(binary.Write(body, le, uint16(4)))
	must(binary.Write(body, le, uint32(0)))
	body.WriteByte(8)

	writeUleb(body, abbrevCompileUnit)
	writeString(body, d.fileName())
	writeString(body, d.compDir())
	body.WriteByte(byte(d.Language))
	must(binary.Write(body, le, d.lowPC()))
	must(binary.Write(body, le, d.highPC()))
	must(binary.Write(body, le, uint32(0))) // stmt_list

	var emitInlines func(ins []DebugInline)
	emitInlines = func(ins []DebugInline) {
		for _, in := range ins {
			writeUleb(body, abbrevInlined)
			writeString(body, in.Name)
			must(binary.Write(body, le, in.LowPC))
			must(binary.Write(body, le, in.HighPC))
			body.WriteByte(in.CallFile)
			body.WriteByte(in.CallLine)
			emitInlines(in.Inlines)
			body.WriteByte(0)
		}
	}
	for _, f := range d.Funcs {
		writeUleb(body, abbrevSubprogram)
		writeString(body, f.Name)
		must(binary.Write(body, le, f.LowPC))
		must(binary.Write(body, le, f.HighPC))
		emitInlines(f.Inlines)
		body.WriteByte(0)
	}
	body.WriteByte(0) // end of compilation unit children

	buf := &bytes.Buffer{}
	must(binary.Write(buf, le, uint32(body.Len())))
	buf.Write(body.Bytes())
	return buf.Bytes()
}

func (d *Debug) emitLine() []byte {
	le := binary.LittleEndian

	header := &bytes.Buffer{}
	header.WriteByte(1)    // minimum_instruction_length
	header.WriteByte(1)    // maximum_operations_per_instruction
	header.WriteByte(1)    // default_is_stmt
	header.WriteByte(0xfb) // line_base -5
	header.WriteByte(14)   // line_range
	header.WriteByte(13)   // opcode_base
	header.Write([]byte{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1})
	header.WriteByte(0) // empty include_directories
	writeString(header, d.fileName())
	writeUleb(header, 0) // directory index
	writeUleb(header, 0) // mtime
	writeUleb(header, 0) // length
	header.WriteByte(0)  // end of file_names

	prog := &bytes.Buffer{}
	rows := d.lineRows()
	// One sequence covering the unit: set_address, then per-row pc/line
	// advances, closed by end_sequence at the unit end.
	prog.WriteByte(0)
	writeUleb(prog, 9)
	prog.WriteByte(2) // DW_LNE_set_address
	must(binary.Write(prog, le, rows[0].Addr))
	addr := rows[0].Addr
	lineNo := 1
	for _, row := range rows {
		if row.Addr > addr {
			prog.WriteByte(2) // DW_LNS_advance_pc
			writeUleb(prog, row.Addr-addr)
			addr = row.Addr
		}
		if row.Line != lineNo {
			prog.WriteByte(3) // DW_LNS_advance_line
			writeSleb(prog, int64(row.Line-lineNo))
			lineNo = row.Line
		}
		prog.WriteByte(1) // DW_LNS_copy
	}
	if end := d.highPC(); end > addr {
		prog.WriteByte(2)
		writeUleb(prog, end-addr)
	}
	prog.WriteByte(0)
	writeUleb(prog, 1)
	prog.WriteByte(1) // DW_LNE_end_sequence

	buf := &bytes.Buffer{}
	// unit_length covers everything after itself: version,
	// header_length, the header fields and the program.
	must(binary.Write(buf, le, uint32(2+4+header.Len()+prog.Len())))
	must(binary.Write(buf, le, uint16(4)))
	must(binary.Write(buf, le, uint32(header.Len())))
	buf.Write(header.Bytes())
	buf.Write(prog.Bytes())
	return buf.Bytes()
}

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	buf.WriteByte(0)
}

func writeUleb(buf *bytes.Buffer, v uint64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

func writeSleb(buf *bytes.Buffer, v int64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}
