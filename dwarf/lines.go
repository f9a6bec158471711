package dwarf

import (
	"debug/dwarf"
	"path"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// FindCodeInfo returns the source location of addr, with the chain of
// inlined frames active there when inlinedFns is set. An address no
// compilation unit or line table row covers yields nil, not an error.
func (r *Resolver) FindCodeInfo(addr uint64, inlinedFns bool) (*AddrCodeInfo, error) {
	reader := r.data.Reader()
	cu, err := reader.SeekPC(addr)
	if err == dwarf.ErrUnknownPC {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "seeking compilation unit")
	}
	lr, err := r.data.LineReader(cu)
	if err != nil {
		return nil, errors.Wrap(err, "reading line table")
	}
	if lr == nil {
		return nil, nil
	}
	var le dwarf.LineEntry
	err = lr.SeekPC(addr, &le)
	if err == dwarf.ErrUnknownPC {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "seeking line table row")
	}
	dir, file := path.Split(le.File.Name)
	res := &AddrCodeInfo{
		Direct: CodeInfo{
			Dir:    path.Clean(dir),
			File:   file,
			Line:   uint32(le.Line),
			Column: uint16(le.Column),
		},
	}
	if !inlinedFns {
		return res, nil
	}
	chain, err := r.inlinedChain(cu, lr, addr)
	if err != nil {
		return nil, err
	}
	// The DIE walk yields frames outermost first.
	res.Inlined = lo.Reverse(chain)
	return res, nil
}

// inlinedChain walks the compilation unit's DIE tree and collects the
// inlined subroutines whose ranges contain addr. Depth-first order makes the
// collected chain outermost first.
func (r *Resolver) inlinedChain(cu *dwarf.Entry, lr *dwarf.LineReader, addr uint64) ([]InlinedFn, error) {
	reader := r.data.Reader()
	reader.Seek(cu.Offset)
	if _, err := reader.Next(); err != nil {
		return nil, errors.Wrap(err, "re-reading compilation unit")
	}
	files := lr.Files()
	var chain []InlinedFn
	depth := 0
	for depth >= 0 {
		e, err := reader.Next()
		if err != nil {
			return nil, errors.Wrap(err, "walking compilation unit")
		}
		if e == nil {
			break
		}
		if e.Tag == 0 {
			depth--
			continue
		}
		switch e.Tag {
		case dwarf.TagSubprogram, dwarf.TagInlinedSubroutine, dwarf.TagLexDwarfBlock:
			if !r.rangesContain(e, addr) {
				if e.Children {
					reader.SkipChildren()
				}
				continue
			}
			if e.Tag == dwarf.TagInlinedSubroutine {
				chain = append(chain, InlinedFn{
					Name:     r.entryName(e),
					CodeInfo: callSite(e, files),
				})
			}
		}
		if e.Children {
			depth++
		}
	}
	return chain, nil
}

func (r *Resolver) rangesContain(e *dwarf.Entry, addr uint64) bool {
	ranges, err := r.data.Ranges(e)
	if err != nil {
		return false
	}
	// Lexical blocks and abstract instances may carry no ranges at all;
	// treat them as transparent so nested inlined frames are still found.
	if len(ranges) == 0 {
		return e.Tag == dwarf.TagLexDwarfBlock
	}
	for _, rng := range ranges {
		if addr >= rng[0] && addr < rng[1] {
			return true
		}
	}
	return false
}

// entryName resolves the name of a DIE, following abstract origin and
// specification references to the declaration that carries it.
func (r *Resolver) entryName(e *dwarf.Entry) string {
	if name, ok := e.Val(dwarf.AttrName).(string); ok {
		return name
	}
	if origin, ok := originOffset(e); ok {
		return r.dieNames[origin]
	}
	return ""
}

// callSite decodes the DW_AT_call_file/line/column attributes of an inlined
// subroutine into the location of its call.
func callSite(e *dwarf.Entry, files []*dwarf.LineFile) *CodeInfo {
	fileIdx, ok := e.Val(dwarf.AttrCallFile).(int64)
	if !ok || fileIdx < 0 || fileIdx >= int64(len(files)) || files[fileIdx] == nil {
		return nil
	}
	line, _ := e.Val(dwarf.AttrCallLine).(int64)
	column, _ := e.Val(dwarf.AttrCallColumn).(int64)
	dir, file := path.Split(files[fileIdx].Name)
	return &CodeInfo{
		Dir:    path.Clean(dir),
		File:   file,
		Line:   uint32(line),
		Column: uint16(column),
	}
}
