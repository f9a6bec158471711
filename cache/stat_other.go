//go:build !linux

package cache

type stat struct {
	Dev   uint64
	Inode uint64
}

func statFile(fpath string) (stat, bool) {
	return stat{}, false
}
