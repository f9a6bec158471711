package elf

import (
	"math"

	"golang.org/x/exp/slices"
)

// PCIndex is a sorted set of addresses, stored as uint32 while every value
// fits and promoted to uint64 on the first value that does not.
type PCIndex struct {
	i32 []uint32
	i64 []uint64
}

func NewPCIndex(sz int) PCIndex {
	return PCIndex{
		i32: make([]uint32, sz),
		i64: nil,
	}
}

func (it *PCIndex) Set(idx int, value uint64) {
	if it.i32 != nil && value < math.MaxUint32 {
		it.i32[idx] = uint32(value)
		return
	}
	it.setImpl(idx, value)
}

func (it *PCIndex) setImpl(idx int, value uint64) {
	if it.i32 != nil {
		if value >= math.MaxUint32 {
			values64 := make([]uint64, len(it.i32))
			for j := 0; j < idx; j++ {
				values64[j] = uint64(it.i32[j])
			}
			it.i32 = nil
			values64[idx] = value
			it.i64 = values64
		} else {
			it.i32[idx] = uint32(value)
		}
	} else {
		it.i64[idx] = value
	}
}

func (it *PCIndex) Length() int {
	if it.i32 != nil {
		return len(it.i32)
	}
	return len(it.i64)
}

func (it *PCIndex) Get(idx int) uint64 {
	if it.i32 != nil {
		return uint64(it.i32[idx])
	}
	return it.i64[idx]
}

// FindIndex returns the index of the entry with the largest value not
// greater than addr, or -1. When several entries share that value the first
// of the run is returned.
func (it *PCIndex) FindIndex(addr uint64) int {
	if it.Length() == 0 {
		return -1
	}
	if it.i32 != nil {
		if addr < uint64(it.i32[0]) {
			return -1
		}
		if addr >= math.MaxUint32 {
			return len(it.i32) - 1
		}
		i, found := slices.BinarySearch(it.i32, uint32(addr))
		if found {
			return i
		}
		i--
		v := it.i32[i]
		for i > 0 && it.i32[i-1] == v {
			i--
		}
		return i
	}
	if addr < it.i64[0] {
		return -1
	}
	i, found := slices.BinarySearch(it.i64, addr)
	if found {
		return i
	}
	i--
	v := it.i64[i]
	for i > 0 && it.i64[i-1] == v {
		i--
	}
	return i
}
