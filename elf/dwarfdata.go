package elf

import (
	"debug/dwarf"
)

// debugSectionData reads a DWARF section by its canonical name, accepting
// the legacy .zdebug_ spelling. A missing section yields nil data, not an
// error.
func (f *File) debugSectionData(name string) ([]byte, error) {
	sec := f.Section("." + name)
	if sec == nil {
		sec = f.Section(".z" + name)
	}
	if sec == nil {
		return nil, nil
	}
	return f.SectionData(sec)
}

// DWARFData assembles the object's DWARF sections into a debug/dwarf
// handle. Returns ErrNoDebugInfo when the object carries none.
func (f *File) DWARFData() (*dwarf.Data, error) {
	if !f.HasDebugInfo() {
		return nil, ErrNoDebugInfo
	}
	var sections = map[string][]byte{}
	for _, name := range []string{
		"debug_abbrev", "debug_info", "debug_line", "debug_ranges", "debug_str",
	} {
		data, err := f.debugSectionData(name)
		if err != nil {
			return nil, err
		}
		sections[name] = data
	}
	d, err := dwarf.New(
		sections["debug_abbrev"], nil, nil,
		sections["debug_info"], sections["debug_line"], nil,
		sections["debug_ranges"], sections["debug_str"])
	if err != nil {
		return nil, err
	}
	// DWARF 5 sections are optional add-ons.
	for _, name := range []string{
		"debug_addr", "debug_line_str", "debug_str_offsets", "debug_rnglists",
	} {
		data, dataErr := f.debugSectionData(name)
		if dataErr != nil || data == nil {
			continue
		}
		if addErr := d.AddSection("."+name, data); addErr != nil {
			return nil, addErr
		}
	}
	return d, nil
}
