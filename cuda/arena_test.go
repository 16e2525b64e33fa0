package cuda

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestArena(t *testing.T) {
	arena := newArena(100)
	require.Equal(t, 104, arena.size)
	for range 2 {
		require.Equal(t, 0, arena.current)
		ints := arenaAllocSlice[int32](arena, 1)
		require.Equal(t, 8, arena.current)
		ints[0] = 7
		_ = arenaAllocSlice[uintptr](arena, 2)
		require.Equal(t, 24, arena.current)

		bytes := arenaAllocBytes(arena, 9) // Aligning, it will occupy 16 bytes total.
		require.Equal(t, 40, arena.current)
		require.Len(t, bytes, 9)
		require.Zero(t, uintptr(unsafe.Pointer(unsafe.SliceData(bytes)))%arenaAlignBytes)

		require.Panics(t, func() { _ = arenaAllocBytes(arena, 128) }, "Arena out of memory")
		require.Panics(t, func() { _ = arenaAllocSlice[float64](arena, 10) }, "Arena out of memory")
		arena.Reset()
		require.Zero(t, arena.buf[0], "Reset should zero the used memory")
	}
	require.Equal(t, 24, arenaSizeFor(8, 1, 3))
}

func TestArenaPools(t *testing.T) {
	pools := newArenaPools()
	arena := pools.Get(10)
	require.Equal(t, minPooledArenaSize, arena.size)
	require.Equal(t, 0, arena.poolIndex)
	pools.Return(arena)

	arena = pools.Get(minPooledArenaSize + 1)
	require.Equal(t, 2*minPooledArenaSize, arena.size)
	require.Equal(t, 1, arena.poolIndex)
	_ = arenaAllocBytes(arena, 16)
	pools.Return(arena)
	require.Equal(t, 0, arena.current)

	large := pools.Get(maxPooledArenaSize + 1)
	require.Equal(t, -1, large.poolIndex)
	require.GreaterOrEqual(t, large.size, maxPooledArenaSize+1)
	pools.Return(large)
}
