// Package fakedriver implements driver.Driver and driver.ModuleLoader in host memory, with
// instrumentation for tests: it counts allocations and frees, can invalidate contexts, records
// every kernel launch and its arguments, and can inject failures.
//
// Kernels are Go functions registered with AddKernel, that read and write the simulated device
// memory through the Driver.
package fakedriver

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/gomlx/gocuda/driver"
)

// KernelFunc emulates a device function. It is called during LaunchKernel, with the argument
// bytes already captured in launch.Args.
type KernelFunc func(d *Driver, launch *Launch) driver.Status

// Launch records one call to LaunchKernel.
type Launch struct {
	Function       driver.Function
	Name           string
	Grid, Block    [3]uint32
	SharedMemBytes uint32
	Stream         driver.Stream

	// Params are the raw values of the pointer array given to LaunchKernel.
	Params []uintptr

	// Args holds a copy of the bytes each parameter pointer pointed to, taken during the call.
	Args [][]byte
}

// Arg returns parameter i of the launch interpreted as type T.
// It panics if the parameter is smaller than T.
func Arg[T any](l *Launch, i int) T {
	var v T
	if len(l.Args[i]) < int(unsafe.Sizeof(v)) {
		panic(fmt.Sprintf("fakedriver: argument #%d has %d bytes, can't be read as %T", i, len(l.Args[i]), v))
	}
	return *(*T)(unsafe.Pointer(&l.Args[i][0]))
}

// Pointer returns parameter i of the launch interpreted as a device address.
func (l *Launch) Pointer(i int) driver.DevicePtr {
	return Arg[driver.DevicePtr](l, i)
}

type allocation struct {
	data   []byte
	ctx    driver.ContextID
	global bool
}

type kernel struct {
	name       string
	paramSizes []int
	fn         KernelFunc
}

type module struct {
	globals map[string]driver.DevicePtr
	kernels map[string]driver.Function
}

// Driver is a host-memory simulation of a GPU driver. Create it with New.
type Driver struct {
	mu sync.Mutex

	nextAddr   uintptr
	nextHandle uintptr
	allocs     map[driver.DevicePtr]*allocation
	contexts   map[driver.ContextID]bool
	current    driver.ContextID
	stream     driver.Stream
	modules    map[driver.Module]*module
	kernels    map[driver.Function]*kernel

	numAllocs, numFrees int
	freesOf             map[driver.DevicePtr]int
	failAlloc           driver.Status
	failLaunch          driver.Status
	failCopy            driver.Status
	launches            []*Launch

	deferLaunches bool
	pending       []pendingLaunch
}

// pendingLaunch is a kernel launched while deferring, not run yet.
type pendingLaunch struct {
	launch *Launch
	fn     KernelFunc
}

var (
	_ driver.Driver       = (*Driver)(nil)
	_ driver.ModuleLoader = (*Driver)(nil)
	_ driver.Synchronizer = (*Driver)(nil)
)

// allocationGap separates simulated allocations, so out-of-bounds accesses don't silently land in a neighbour.
const allocationGap = 4096

// New creates a fake driver with one valid context, already current, and a non-default stream.
func New() *Driver {
	d := &Driver{
		nextAddr:   0x7f00_0000_0000,
		nextHandle: 1,
		allocs:     make(map[driver.DevicePtr]*allocation),
		contexts:   make(map[driver.ContextID]bool),
		modules:    make(map[driver.Module]*module),
		kernels:    make(map[driver.Function]*kernel),
		freesOf:    make(map[driver.DevicePtr]int),
	}
	d.current = d.NewContext()
	d.stream = driver.Stream(d.newHandle())
	return d
}

func (d *Driver) newHandle() uintptr {
	h := d.nextHandle
	d.nextHandle++
	return h
}

// NewContext creates a new valid context. It doesn't make it current.
func (d *Driver) NewContext() driver.ContextID {
	d.mu.Lock()
	defer d.mu.Unlock()
	ctx := driver.ContextID(0xc000 + d.newHandle())
	d.contexts[ctx] = true
	return ctx
}

// SetCurrent makes ctx the current context.
func (d *Driver) SetCurrent(ctx driver.ContextID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = ctx
}

// Invalidate simulates the destruction of ctx: its allocations are reclaimed without any MemFree call.
func (d *Driver) Invalidate(ctx driver.ContextID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contexts[ctx] = false
	for ptr, alloc := range d.allocs {
		if alloc.ctx == ctx {
			delete(d.allocs, ptr)
		}
	}
}

// SetStream changes the stream returned by CurrentStream.
func (d *Driver) SetStream(stream driver.Stream) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stream = stream
}

// FailNextAlloc makes the next MemAlloc return status.
func (d *Driver) FailNextAlloc(status driver.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failAlloc = status
}

// FailNextLaunch makes the next LaunchKernel return status, without calling the kernel.
func (d *Driver) FailNextLaunch(status driver.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failLaunch = status
}

// FailNextCopy makes the next Memcpy* call return status, without copying.
func (d *Driver) FailNextCopy(status driver.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failCopy = status
}

// DeferLaunches makes LaunchKernel queue the kernels instead of running them. Queued kernels run, in launch
// order, at the next copy, free or StreamSynchronize, like a GPU only guarantees their results by then.
// Turning it off doesn't run the kernels already queued.
func (d *Driver) DeferLaunches(deferred bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deferLaunches = deferred
}

// Pending returns the number of launched kernels not run yet.
func (d *Driver) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// flush runs the pending kernels and returns the status of the first one that failed.
// It must be called without holding d.mu, since kernels access the device memory.
func (d *Driver) flush() driver.Status {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()
	result := driver.Success
	for _, p := range pending {
		if status := p.fn(d, p.launch); status != driver.Success && result == driver.Success {
			result = status
		}
	}
	return result
}

// Allocs returns the number of successful MemAlloc calls.
func (d *Driver) Allocs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.numAllocs
}

// Frees returns the number of MemFree calls, successful or not.
func (d *Driver) Frees() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.numFrees
}

// FreesOf returns the number of MemFree calls for ptr.
func (d *Driver) FreesOf(ptr driver.DevicePtr) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.freesOf[ptr]
}

// LiveAllocations returns the number of allocations (excluding module globals) not yet freed or reclaimed.
func (d *Driver) LiveAllocations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	count := 0
	for _, alloc := range d.allocs {
		if !alloc.global {
			count++
		}
	}
	return count
}

// Launches returns the launches recorded so far, in order.
func (d *Driver) Launches() []*Launch {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Launch(nil), d.launches...)
}

// ContextIsValid implements driver.Driver.
func (d *Driver) ContextIsValid(ctx driver.ContextID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.contexts[ctx]
}

// CurrentContext implements driver.Driver.
func (d *Driver) CurrentContext() driver.ContextID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// CurrentStream implements driver.Driver.
func (d *Driver) CurrentStream() driver.Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream
}

func (d *Driver) allocateLocked(bytes int, global bool) driver.DevicePtr {
	ptr := driver.DevicePtr(d.nextAddr)
	d.nextAddr += uintptr(bytes) + allocationGap
	d.nextAddr = (d.nextAddr + 255) &^ 255
	d.allocs[ptr] = &allocation{data: make([]byte, bytes), ctx: d.current, global: global}
	return ptr
}

// MemAlloc implements driver.Driver.
func (d *Driver) MemAlloc(bytes int) (driver.DevicePtr, driver.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if status := d.failAlloc; status != driver.Success {
		d.failAlloc = driver.Success
		return 0, status
	}
	if bytes <= 0 {
		return 0, driver.ErrorInvalidValue
	}
	if !d.contexts[d.current] {
		return 0, driver.ErrorInvalidContext
	}
	d.numAllocs++
	return d.allocateLocked(bytes, false), driver.Success
}

// MemFree implements driver.Driver.
func (d *Driver) MemFree(ptr driver.DevicePtr) driver.Status {
	kernelStatus := d.flush()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.numFrees++
	d.freesOf[ptr]++
	alloc, found := d.allocs[ptr]
	if !found || alloc.global {
		return driver.ErrorInvalidValue
	}
	delete(d.allocs, ptr)
	return kernelStatus
}

// regionLocked returns the simulated memory for [ptr, ptr+bytes), which must be within one allocation.
func (d *Driver) regionLocked(ptr driver.DevicePtr, bytes int) ([]byte, driver.Status) {
	for base, alloc := range d.allocs {
		if ptr < base || ptr >= base+driver.DevicePtr(len(alloc.data)) {
			continue
		}
		offset := int(ptr - base)
		if offset+bytes > len(alloc.data) {
			return nil, driver.ErrorIllegalAddress
		}
		return alloc.data[offset : offset+bytes], driver.Success
	}
	return nil, driver.ErrorIllegalAddress
}

// Bytes returns a view of the simulated device memory at [ptr, ptr+bytes).
// Writes to the returned slice change the device memory. It's meant to be used by KernelFunc implementations.
func (d *Driver) Bytes(ptr driver.DevicePtr, bytes int) ([]byte, driver.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.regionLocked(ptr, bytes)
}

// Slice returns a view of n elements of type T of the simulated device memory starting at ptr.
func Slice[T any](d *Driver, ptr driver.DevicePtr, n int) ([]T, driver.Status) {
	var zero T
	data, status := d.Bytes(ptr, n*int(unsafe.Sizeof(zero)))
	if status != driver.Success || n == 0 {
		return nil, status
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), n), driver.Success
}

func (d *Driver) copyFailureLocked() driver.Status {
	status := d.failCopy
	d.failCopy = driver.Success
	return status
}

// MemcpyHtoD implements driver.Driver.
func (d *Driver) MemcpyHtoD(dst driver.DevicePtr, src unsafe.Pointer, bytes int) driver.Status {
	if status := d.flush(); status != driver.Success {
		return status
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if status := d.copyFailureLocked(); status != driver.Success {
		return status
	}
	region, status := d.regionLocked(dst, bytes)
	if status != driver.Success {
		return status
	}
	if bytes > 0 {
		copy(region, unsafe.Slice((*byte)(src), bytes))
	}
	return driver.Success
}

// MemcpyDtoH implements driver.Driver.
func (d *Driver) MemcpyDtoH(dst unsafe.Pointer, src driver.DevicePtr, bytes int) driver.Status {
	if status := d.flush(); status != driver.Success {
		return status
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if status := d.copyFailureLocked(); status != driver.Success {
		return status
	}
	region, status := d.regionLocked(src, bytes)
	if status != driver.Success {
		return status
	}
	if bytes > 0 {
		copy(unsafe.Slice((*byte)(dst), bytes), region)
	}
	return driver.Success
}

// MemcpyDtoD implements driver.Driver.
func (d *Driver) MemcpyDtoD(dst, src driver.DevicePtr, bytes int) driver.Status {
	if status := d.flush(); status != driver.Success {
		return status
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if status := d.copyFailureLocked(); status != driver.Success {
		return status
	}
	srcRegion, status := d.regionLocked(src, bytes)
	if status != driver.Success {
		return status
	}
	dstRegion, status := d.regionLocked(dst, bytes)
	if status != driver.Success {
		return status
	}
	copy(dstRegion, srcRegion)
	return driver.Success
}

// StreamSynchronize implements driver.Synchronizer. It runs the kernels queued by DeferLaunches, if any.
func (d *Driver) StreamSynchronize(driver.Stream) driver.Status {
	return d.flush()
}

// NewModule creates an empty loaded module, to be populated with AddGlobal and AddKernel.
func (d *Driver) NewModule() driver.Module {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := driver.Module(d.newHandle())
	d.modules[m] = &module{
		globals: make(map[string]driver.DevicePtr),
		kernels: make(map[string]driver.Function),
	}
	return m
}

// AddGlobal adds a zero-initialized global variable of the given size to the module, and returns its address.
func (d *Driver) AddGlobal(m driver.Module, name string, bytes int) driver.DevicePtr {
	d.mu.Lock()
	defer d.mu.Unlock()
	mod, found := d.modules[m]
	if !found {
		panic(fmt.Sprintf("fakedriver.AddGlobal: unknown module %d", m))
	}
	ptr := d.allocateLocked(bytes, true)
	mod.globals[name] = ptr
	return ptr
}

// AddKernel adds a kernel to the module.
//
// paramSizes is the size in bytes of each of the kernel parameters, used to capture the arguments of
// each launch. fn can be nil, in which case launches are only recorded.
func (d *Driver) AddKernel(m driver.Module, name string, paramSizes []int, fn KernelFunc) driver.Function {
	d.mu.Lock()
	defer d.mu.Unlock()
	mod, found := d.modules[m]
	if !found {
		panic(fmt.Sprintf("fakedriver.AddKernel: unknown module %d", m))
	}
	f := driver.Function(d.newHandle())
	d.kernels[f] = &kernel{name: name, paramSizes: append([]int(nil), paramSizes...), fn: fn}
	mod.kernels[name] = f
	return f
}

// ModuleLoadData implements driver.ModuleLoader. The image contents are ignored: it returns an empty module.
func (d *Driver) ModuleLoadData(image []byte) (driver.Module, driver.Status) {
	if len(image) == 0 {
		return 0, driver.ErrorInvalidImage
	}
	return d.NewModule(), driver.Success
}

// ModuleGetFunction implements driver.ModuleLoader.
func (d *Driver) ModuleGetFunction(m driver.Module, name string) (driver.Function, driver.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mod, found := d.modules[m]
	if !found {
		return 0, driver.ErrorInvalidHandle
	}
	f, found := mod.kernels[name]
	if !found {
		return 0, driver.ErrorNotFound
	}
	return f, driver.Success
}

// ModuleUnload implements driver.ModuleLoader. The module globals memory is reclaimed.
func (d *Driver) ModuleUnload(m driver.Module) driver.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	mod, found := d.modules[m]
	if !found {
		return driver.ErrorInvalidHandle
	}
	for _, ptr := range mod.globals {
		delete(d.allocs, ptr)
	}
	for _, f := range mod.kernels {
		delete(d.kernels, f)
	}
	delete(d.modules, m)
	return driver.Success
}

// ModuleGetGlobal implements driver.Driver.
func (d *Driver) ModuleGetGlobal(m driver.Module, name string) (driver.DevicePtr, int, driver.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mod, found := d.modules[m]
	if !found {
		return 0, 0, driver.ErrorInvalidHandle
	}
	ptr, found := mod.globals[name]
	if !found {
		return 0, 0, driver.ErrorNotFound
	}
	return ptr, len(d.allocs[ptr].data), driver.Success
}

// LaunchKernel implements driver.Driver: it records the launch, capturing the bytes of each argument,
// and then runs the kernel's KernelFunc, if one was given. See DeferLaunches to run it later.
func (d *Driver) LaunchKernel(f driver.Function,
	gridX, gridY, gridZ, blockX, blockY, blockZ uint32,
	sharedMemBytes uint32, stream driver.Stream, params unsafe.Pointer) driver.Status {
	d.mu.Lock()
	if status := d.failLaunch; status != driver.Success {
		d.failLaunch = driver.Success
		d.mu.Unlock()
		return status
	}
	k, found := d.kernels[f]
	if !found {
		d.mu.Unlock()
		return driver.ErrorInvalidHandle
	}
	launch := &Launch{
		Function:       f,
		Name:           k.name,
		Grid:           [3]uint32{gridX, gridY, gridZ},
		Block:          [3]uint32{blockX, blockY, blockZ},
		SharedMemBytes: sharedMemBytes,
		Stream:         stream,
	}
	if numParams := len(k.paramSizes); numParams > 0 {
		if params == nil {
			d.mu.Unlock()
			return driver.ErrorInvalidValue
		}
		pointers := unsafe.Slice((*unsafe.Pointer)(params), numParams)
		launch.Params = make([]uintptr, numParams)
		launch.Args = make([][]byte, numParams)
		for ii, p := range pointers {
			launch.Params[ii] = uintptr(p)
			if p == nil {
				d.mu.Unlock()
				return driver.ErrorInvalidValue
			}
			launch.Args[ii] = append([]byte(nil), unsafe.Slice((*byte)(p), k.paramSizes[ii])...)
		}
	}
	d.launches = append(d.launches, launch)
	if k.fn == nil {
		d.mu.Unlock()
		return driver.Success
	}
	if d.deferLaunches {
		d.pending = append(d.pending, pendingLaunch{launch: launch, fn: k.fn})
		d.mu.Unlock()
		return driver.Success
	}
	d.mu.Unlock()
	return k.fn(d, launch)
}
