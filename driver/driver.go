// Package driver defines the interfaces to the GPU driver that the cuda package depends on,
// and the opaque handle types that cross them.
//
// The cuda package never talks to a device directly: it only uses a Driver, which is
// implemented by driver/libcuda for real NVIDIA hardware and by driver/fakedriver for tests.
package driver

import (
	"unsafe"
)

// DevicePtr is a device memory address. It is not a Go pointer and it can't be dereferenced on the host.
type DevicePtr uintptr

// ContextID identifies an execution context on a device. Resources are bound to the context current
// at the time of their creation.
type ContextID uintptr

// Stream is a handle to an ordered queue of device operations. The zero value is the default (legacy) stream.
type Stream uintptr

// Module is a handle to a loaded device code module (PTX, cubin or fatbin).
type Module uintptr

// Function is a handle to a device function (kernel) within a loaded Module.
type Function uintptr

// Driver is the set of driver operations consumed by the cuda package.
//
// All methods are synchronous and must be safe to call from any goroutine, including from the
// goroutine running garbage collection cleanups.
type Driver interface {
	// ContextIsValid returns whether the context is still alive. Once a context is destroyed its
	// memory was already reclaimed by the driver, and freeing it again must not happen.
	ContextIsValid(ctx ContextID) bool

	// CurrentContext returns the context operations are issued on.
	CurrentContext() ContextID

	// CurrentStream returns the stream used when none is specified.
	CurrentStream() Stream

	// MemAlloc allocates bytes of device memory in the current context.
	MemAlloc(bytes int) (DevicePtr, Status)

	// MemFree frees memory previously returned by MemAlloc.
	MemFree(ptr DevicePtr) Status

	// MemcpyHtoD copies bytes from host memory to device memory, blocking until done.
	MemcpyHtoD(dst DevicePtr, src unsafe.Pointer, bytes int) Status

	// MemcpyDtoH copies bytes from device memory to host memory, blocking until done.
	MemcpyDtoH(dst unsafe.Pointer, src DevicePtr, bytes int) Status

	// MemcpyDtoD copies bytes between two device memory regions, blocking until done.
	MemcpyDtoD(dst, src DevicePtr, bytes int) Status

	// ModuleGetGlobal returns the address and size in bytes of a global variable of a module.
	ModuleGetGlobal(module Module, name string) (DevicePtr, int, Status)

	// LaunchKernel enqueues the execution of function on stream.
	//
	// params points to an array of pointers, one per kernel parameter, each pointing at the
	// parameter's value. The array and everything it points to must stay valid and unmoved
	// until LaunchKernel returns.
	LaunchKernel(function Function,
		gridX, gridY, gridZ, blockX, blockY, blockZ uint32,
		sharedMemBytes uint32, stream Stream, params unsafe.Pointer) Status
}

// ModuleLoader is implemented by drivers that can also load device code and look up its functions.
type ModuleLoader interface {
	// ModuleLoadData loads a module from an in-memory image (PTX text or cubin/fatbin binary).
	ModuleLoadData(image []byte) (Module, Status)

	// ModuleGetFunction returns the handle to the named kernel in module.
	ModuleGetFunction(module Module, name string) (Function, Status)

	// ModuleUnload unloads the module. Functions and globals of the module become invalid.
	ModuleUnload(module Module) Status
}

// Synchronizer is implemented by drivers that can block until all work submitted to a stream is done.
type Synchronizer interface {
	StreamSynchronize(stream Stream) Status
}
