package elf

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPCIndexFindIndex(t *testing.T) {
	it := NewPCIndex(4)
	it.Set(0, 0x10)
	it.Set(1, 0x20)
	it.Set(2, 0x20)
	it.Set(3, 0x30)

	require.Equal(t, -1, it.FindIndex(0x0f))
	require.Equal(t, 0, it.FindIndex(0x10))
	require.Equal(t, 0, it.FindIndex(0x1f))
	require.Equal(t, 1, it.FindIndex(0x20), "equal run resolves to its first entry")
	require.Equal(t, 1, it.FindIndex(0x2f))
	require.Equal(t, 3, it.FindIndex(0x30))
	require.Equal(t, 3, it.FindIndex(0xffffffffffff))
}

func TestPCIndexPromotion(t *testing.T) {
	it := NewPCIndex(3)
	it.Set(0, 0x1000)
	it.Set(1, 0x2000)
	it.Set(2, 0x1_0000_0000)

	require.Equal(t, uint64(0x1000), it.Get(0))
	require.Equal(t, uint64(0x2000), it.Get(1))
	require.Equal(t, uint64(0x1_0000_0000), it.Get(2))
	require.Equal(t, 1, it.FindIndex(0x2001))
	require.Equal(t, 2, it.FindIndex(0x1_0000_0001))
}

func TestPCIndexNarrowMax(t *testing.T) {
	it := NewPCIndex(2)
	it.Set(0, 0x1000)
	it.Set(1, 0x2000)
	require.Equal(t, 1, it.FindIndex(math.MaxUint64))
}

func TestPCIndexEmpty(t *testing.T) {
	it := NewPCIndex(0)
	require.Equal(t, -1, it.FindIndex(0x1000))
}
