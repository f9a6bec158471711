// Command symres resolves addresses and names inside an ELF object file
// from the command line.
//
//	symres -addr 0x1234,0x5678 -code-info /usr/bin/app
//	symres -name malloc -demangle templates /usr/lib/libc.so.6
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/grafana/symres"
	"github.com/grafana/symres/demangle"
	elf2 "github.com/grafana/symres/elf"
)

var (
	addrs         = flag.String("addr", "", "comma separated list of addresses to resolve")
	names         = flag.String("name", "", "comma separated list of symbol names to resolve")
	codeInfo      = flag.Bool("code-info", false, "resolve source file and line for each address")
	demangleMode  = flag.String("demangle", "none", "demangle mode: none, simplified, templates, full")
	skipDebugInfo = flag.Bool("skip-debug-info", false, "use the symbol table even when debug info exists")
)

func main() {
	flag.Parse()
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <elf file>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	fpath := flag.Arg(0)

	r, err := symres.NewElfResolver(fpath, symres.ResolverOptions{
		Logger:        logger,
		SkipDebugInfo: *skipDebugInfo,
		SymbolOptions: &elf2.SymbolOptions{
			DemangleOptions: demangle.ConvertDemangleOptions(*demangleMode),
		},
	})
	if err != nil {
		level.Error(logger).Log("msg", "failed to open", "f", fpath, "err", err)
		os.Exit(1)
	}
	defer r.Close()
	fmt.Println(r.String())

	for _, s := range split(*addrs) {
		addr, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
		if err != nil {
			level.Error(logger).Log("msg", "bad address", "addr", s, "err", err)
			os.Exit(1)
		}
		resolveAddr(r, addr)
	}
	for _, name := range split(*names) {
		resolveName(r, name)
	}
}

func resolveAddr(r *symres.ElfResolver, addr uint64) {
	sym, err := r.FindSym(addr)
	if err != nil {
		fmt.Printf("%#x error: %v\n", addr, err)
		return
	}
	if sym == nil {
		fmt.Printf("%#x not found\n", addr)
		return
	}
	fmt.Printf("%#x %s start=%#x size=%d lang=%s\n", addr, sym.Name, sym.Addr, sym.Size, sym.Lang)
	if !*codeInfo {
		return
	}
	ci, err := r.FindCodeInfo(addr, true)
	if err != nil {
		fmt.Printf("  code info error: %v\n", err)
		return
	}
	if ci == nil {
		fmt.Printf("  no code info\n")
		return
	}
	fmt.Printf("  at %s\n", ci.Direct.String())
	for _, inlined := range ci.Inlined {
		if inlined.CodeInfo != nil {
			fmt.Printf("  inlined %s called at %s\n", inlined.Name, inlined.CodeInfo.String())
		} else {
			fmt.Printf("  inlined %s\n", inlined.Name)
		}
	}
}

func resolveName(r *symres.ElfResolver, name string) {
	syms, err := r.FindAddr(name, &symres.FindAddrOpts{FileOffset: true})
	if err != nil {
		fmt.Printf("%s error: %v\n", name, err)
		return
	}
	if len(syms) == 0 {
		fmt.Printf("%s not found\n", name)
		return
	}
	for _, s := range syms {
		fmt.Printf("%s %#x size=%d file-offset=%#x in %s\n", s.Name, s.Addr, s.Size, s.FileOffset, s.ObjFileName)
	}
}

func split(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
