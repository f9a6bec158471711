//go:build linux

package cache

import (
	"os"
	"syscall"
)

type stat struct {
	Dev   uint64
	Inode uint64
}

func statFile(fpath string) (stat, bool) {
	fi, err := os.Stat(fpath)
	if err != nil {
		return stat{}, false
	}
	sysStat, ok := fi.Sys().(*syscall.Stat_t)
	if !ok || sysStat == nil {
		return stat{}, false
	}
	return stat{Dev: sysStat.Dev, Inode: sysStat.Ino}, true
}
