package cuda

import (
	"fmt"
	"math/bits"
	"sync"
	"unsafe"
)

// arenaContainer is a trivial arena used to hold the arguments of one kernel launch: the array
// of parameter pointers and the storage each one points to.
//
// The slab is Go memory without Go pointers, so the GC never scans it, and it's pinned by the
// caller while the driver holds pointers into it. All allocations are released at once with Reset.
type arenaContainer struct {
	// words backs buf, to guarantee 8-bytes alignment of the slab.
	words         []uint64
	buf           []byte
	size, current int
	poolIndex     int // index in the arenaPools, -1 if not from pool
}

// newArena creates a new arena with the given fixed size, rounded up to a multiple of arenaAlignBytes.
func newArena(size int) *arenaContainer {
	size = (size + arenaAlignBytes - 1) &^ (arenaAlignBytes - 1)
	words := make([]uint64, size/arenaAlignBytes)
	return &arenaContainer{
		words:     words,
		buf:       unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(words))), size),
		size:      size,
		poolIndex: -1,
	}
}

const arenaAlignBytes = 8

// arenaAllocBytes allocates n bytes from the arena. It panics if the arena runs out of memory.
func arenaAllocBytes(a *arenaContainer, n int) []byte {
	if a.current+n > a.size {
		panic(fmt.Sprintf("arena out of memory while allocating %d bytes (%d of %d bytes used)", n, a.current, a.size))
	}
	slice := a.buf[a.current : a.current+n : a.current+n]
	a.current += n
	a.current = (a.current + arenaAlignBytes - 1) &^ (arenaAlignBytes - 1)
	return slice
}

// arenaAllocSlice allocates n elements of type T from the arena. T must not hold Go pointers.
//
// It panics if the arena runs out of memory.
func arenaAllocSlice[T any](a *arenaContainer, n int) []T {
	var zero T
	bytes := arenaAllocBytes(a, n*int(unsafe.Sizeof(zero)))
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(bytes))), n)
}

// arenaSizeFor returns the arena size needed to hold the given allocations, including alignment padding.
func arenaSizeFor(sizes ...int) int {
	total := 0
	for _, size := range sizes {
		total += (size + arenaAlignBytes - 1) &^ (arenaAlignBytes - 1)
	}
	return total
}

// Reset invalidates all previous allocations of the arena, zeroing the memory used.
func (a *arenaContainer) Reset() {
	if a.current > 0 {
		clear(a.buf[:min(a.size, a.current)])
	}
	a.current = 0
}

const (
	// minPooledArenaSize is the minimum size for pooled arenas.
	minPooledArenaSize = 256
	// maxPooledArenaSize is the maximum size for pooled arenas (64KB), well above the kernel parameters limit.
	maxPooledArenaSize = 64 * 1024
)

// arenaPools manages pools of arenaContainer objects with power-of-2 sizes.
// It is safe for concurrent use.
type arenaPools struct {
	// pools[i] contains arenas of size 2^(i+minShift).
	pools    []sync.Pool
	minShift int
	maxShift int
}

func newArenaPools() *arenaPools {
	minShift := bits.TrailingZeros(uint(minPooledArenaSize))
	maxShift := bits.TrailingZeros(uint(maxPooledArenaSize))
	return &arenaPools{
		pools:    make([]sync.Pool, maxShift-minShift+1),
		minShift: minShift,
		maxShift: maxShift,
	}
}

// Get returns a reset arenaContainer of at least targetSize bytes.
func (ap *arenaPools) Get(targetSize int) *arenaContainer {
	if targetSize <= 0 {
		targetSize = minPooledArenaSize
	}
	shift := max(bits.Len(uint(targetSize-1)), ap.minShift)
	if shift > ap.maxShift {
		// Too large to be pooled.
		return newArena(targetSize)
	}
	poolIndex := shift - ap.minShift
	if obj := ap.pools[poolIndex].Get(); obj != nil {
		arena := obj.(*arenaContainer)
		arena.Reset()
		return arena
	}
	arena := newArena(1 << shift)
	arena.poolIndex = poolIndex
	return arena
}

// Return an arenaContainer to its pool. Arenas not from the pool are left to the GC.
func (ap *arenaPools) Return(arena *arenaContainer) {
	if arena == nil || arena.poolIndex < 0 || arena.poolIndex >= len(ap.pools) {
		return
	}
	arena.Reset()
	ap.pools[arena.poolIndex].Put(arena)
}

// launchArenas is shared by all launches.
var launchArenas = newArenaPools()
