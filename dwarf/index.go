package dwarf

import (
	"debug/dwarf"
	"sort"

	"github.com/pkg/errors"

	elf2 "github.com/grafana/symres/elf"
)

// subprogramEntry is one contiguous address range owned by a subprogram.
// Subprograms with several ranges contribute one entry per range; addr and
// size always describe the subprogram itself, primary marks the first range.
type subprogramEntry struct {
	low, high uint64
	addr      uint64
	size      int64
	name      string
	lang      Lang
	primary   bool
}

type subprogramIndex struct {
	lows    elf2.PCIndex
	entries []subprogramEntry
}

// find returns the entry whose range contains addr, located by
// nearest-lower-bound search over range starts.
func (ix *subprogramIndex) find(addr uint64) *subprogramEntry {
	i := ix.lows.FindIndex(addr)
	if i < 0 {
		return nil
	}
	low := ix.lows.Get(i)
	for j := i; j < len(ix.entries) && ix.entries[j].low == low; j++ {
		e := &ix.entries[j]
		if e.high > e.low && addr >= e.high {
			continue
		}
		return e
	}
	return nil
}

type subprogramFixup struct {
	entry  int
	origin dwarf.Offset
}

func (r *Resolver) buildIndex() error {
	reader := r.data.Reader()
	r.dieNames = map[dwarf.Offset]string{}
	var entries []subprogramEntry
	var fixups []subprogramFixup
	curLang := LangNone
	for {
		e, err := reader.Next()
		if err != nil {
			return errors.Wrap(err, "walking debug info entries")
		}
		if e == nil {
			break
		}
		switch e.Tag {
		case dwarf.TagCompileUnit:
			lang, _ := e.Val(dwarf.AttrLanguage).(int64)
			curLang = Lang(lang)
		case dwarf.TagSubprogram:
			name, _ := e.Val(dwarf.AttrName).(string)
			if name != "" {
				r.dieNames[e.Offset] = name
			}
			if decl, _ := e.Val(dwarf.AttrDeclaration).(bool); decl {
				continue
			}
			ranges, err := r.data.Ranges(e)
			if err != nil {
				return errors.Wrap(err, "reading subprogram ranges")
			}
			if len(ranges) == 0 {
				continue
			}
			addr := ranges[0][0]
			size := int64(-1)
			if len(ranges) == 1 && ranges[0][1] > ranges[0][0] {
				size = int64(ranges[0][1] - ranges[0][0])
			}
			for ri, rng := range ranges {
				if rng[1] <= rng[0] {
					continue
				}
				entries = append(entries, subprogramEntry{
					low:     rng[0],
					high:    rng[1],
					addr:    addr,
					size:    size,
					name:    name,
					lang:    curLang,
					primary: ri == 0,
				})
				if name == "" {
					if origin, ok := originOffset(e); ok {
						fixups = append(fixups, subprogramFixup{entry: len(entries) - 1, origin: origin})
					}
				}
			}
		}
	}
	// Out-of-line instances and definitions of declared methods carry
	// their name on the referenced DIE, which may come later in the walk.
	for _, fx := range fixups {
		entries[fx.entry].name = r.dieNames[fx.origin]
	}
	named := entries[:0]
	for _, e := range entries {
		if e.name != "" {
			named = append(named, e)
		}
	}
	entries = named
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].low == entries[j].low {
			return entries[i].name < entries[j].name
		}
		return entries[i].low < entries[j].low
	})

	r.subs = subprogramIndex{
		lows:    elf2.NewPCIndex(len(entries)),
		entries: entries,
	}
	r.names = make(map[string][]int)
	for i := range entries {
		r.subs.lows.Set(i, entries[i].low)
		if entries[i].primary {
			r.names[entries[i].name] = append(r.names[entries[i].name], i)
		}
	}
	return nil
}

func originOffset(e *dwarf.Entry) (dwarf.Offset, bool) {
	if off, ok := e.Val(dwarf.AttrAbstractOrigin).(dwarf.Offset); ok {
		return off, true
	}
	if off, ok := e.Val(dwarf.AttrSpecification).(dwarf.Offset); ok {
		return off, true
	}
	return 0, false
}
