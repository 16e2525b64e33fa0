//go:build linux

package libcuda

import (
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Driver implements driver.Driver, driver.ModuleLoader and driver.Synchronizer on top of the primary
// context of one CUDA device.
//
// Every call makes the context current on the calling OS thread, so it can be used from any goroutine.
type Driver struct {
	ordinal int
	device  int32
	ctx     uintptr
	stream  uintptr
	closed  atomic.Bool
}

var (
	_ driver.Driver       = (*Driver)(nil)
	_ driver.ModuleLoader = (*Driver)(nil)
	_ driver.Synchronizer = (*Driver)(nil)
)

// liveContexts counts the open Drivers per context: primary contexts are shared by all Drivers of
// the same device, and the context is only considered gone when the last one is closed.
var (
	liveContextsMu sync.Mutex
	liveContexts   = make(map[driver.ContextID]int)
)

func registerContext(ctx driver.ContextID) {
	liveContextsMu.Lock()
	defer liveContextsMu.Unlock()
	liveContexts[ctx]++
}

func unregisterContext(ctx driver.ContextID) {
	liveContextsMu.Lock()
	defer liveContextsMu.Unlock()
	if liveContexts[ctx] <= 1 {
		delete(liveContexts, ctx)
		return
	}
	liveContexts[ctx]--
}

// Open loads libcuda (if not loaded yet), retains the primary context of the device with the given
// ordinal and creates a blocking stream used as the default stream.
func Open(ordinal int) (*Driver, error) {
	if checksEnabled() && !HasNvidiaGPU() {
		klog.Warningf("libcuda.Open(%d): no NVIDIA GPU seems to be installed, this will likely fail. "+
			"Set %s=0 to disable this warning.", ordinal, ChecksEnv)
	}
	if err := initialize(); err != nil {
		return nil, err
	}
	d := &Driver{ordinal: ordinal}
	if status := cuDeviceGet(&d.device, int32(ordinal)); !status.Ok() {
		return nil, errors.Wrapf(status, "cuDeviceGet(%d) failed", ordinal)
	}
	if status := cuDevicePrimaryCtxRetain(&d.ctx, d.device); !status.Ok() {
		return nil, errors.Wrapf(status, "cuDevicePrimaryCtxRetain(%d) failed", ordinal)
	}
	// The stream must be a blocking one: the cuMemcpy* calls run on the legacy default stream, which
	// only waits for work queued on blocking streams.
	status := d.withContext(func() driver.Status {
		return cuStreamCreate(&d.stream, streamDefault)
	})
	if !status.Ok() {
		_ = cuDevicePrimaryCtxRelease(d.device)
		return nil, errors.Wrapf(status, "cuStreamCreate on device #%d failed", ordinal)
	}
	registerContext(driver.ContextID(d.ctx))
	klog.V(1).Infof("opened %s", d)
	return d, nil
}

// Close destroys the stream and releases the primary context. Resources allocated through it become invalid
// once no other Driver holds the same context. It is a no-op if called more than once.
func (d *Driver) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	status := d.withContext(func() driver.Status {
		return cuStreamDestroy(d.stream)
	})
	unregisterContext(driver.ContextID(d.ctx))
	if !status.Ok() {
		klog.Errorf("cuStreamDestroy on device #%d failed: %v", d.ordinal, status)
	}
	if status := cuDevicePrimaryCtxRelease(d.device); !status.Ok() {
		return errors.Wrapf(status, "cuDevicePrimaryCtxRelease(%d) failed", d.ordinal)
	}
	klog.V(1).Infof("closed libcuda.Driver for device #%d", d.ordinal)
	return nil
}

// Ordinal of the device this driver was opened on.
func (d *Driver) Ordinal() int { return d.ordinal }

// withContext runs fn with the driver's context current on a locked OS thread.
func (d *Driver) withContext(fn func() driver.Status) driver.Status {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if status := cuCtxSetCurrent(d.ctx); !status.Ok() {
		return status
	}
	return fn()
}

// ContextIsValid implements driver.Driver.
func (d *Driver) ContextIsValid(ctx driver.ContextID) bool {
	liveContextsMu.Lock()
	defer liveContextsMu.Unlock()
	return liveContexts[ctx] > 0
}

// CurrentContext implements driver.Driver.
func (d *Driver) CurrentContext() driver.ContextID { return driver.ContextID(d.ctx) }

// CurrentStream implements driver.Driver.
func (d *Driver) CurrentStream() driver.Stream { return driver.Stream(d.stream) }

// MemAlloc implements driver.Driver.
func (d *Driver) MemAlloc(bytes int) (driver.DevicePtr, driver.Status) {
	var ptr uintptr
	status := d.withContext(func() driver.Status {
		return cuMemAlloc(&ptr, uint64(bytes))
	})
	return driver.DevicePtr(ptr), status
}

// MemFree implements driver.Driver.
func (d *Driver) MemFree(ptr driver.DevicePtr) driver.Status {
	return d.withContext(func() driver.Status {
		return cuMemFree(uintptr(ptr))
	})
}

// MemcpyHtoD implements driver.Driver. Like the other copies it runs on the legacy default stream, so it
// starts after all kernels previously launched on blocking streams, including the Driver's one.
func (d *Driver) MemcpyHtoD(dst driver.DevicePtr, src unsafe.Pointer, bytes int) driver.Status {
	return d.withContext(func() driver.Status {
		return cuMemcpyHtoD(uintptr(dst), src, uint64(bytes))
	})
}

// MemcpyDtoH implements driver.Driver.
func (d *Driver) MemcpyDtoH(dst unsafe.Pointer, src driver.DevicePtr, bytes int) driver.Status {
	return d.withContext(func() driver.Status {
		return cuMemcpyDtoH(dst, uintptr(src), uint64(bytes))
	})
}

// MemcpyDtoD implements driver.Driver.
func (d *Driver) MemcpyDtoD(dst, src driver.DevicePtr, bytes int) driver.Status {
	return d.withContext(func() driver.Status {
		return cuMemcpyDtoD(uintptr(dst), uintptr(src), uint64(bytes))
	})
}

// ModuleGetGlobal implements driver.Driver.
func (d *Driver) ModuleGetGlobal(module driver.Module, name string) (driver.DevicePtr, int, driver.Status) {
	var (
		ptr   uintptr
		bytes uint64
	)
	cName := cString(name)
	status := d.withContext(func() driver.Status {
		return cuModuleGetGlobal(&ptr, &bytes, uintptr(module), &cName[0])
	})
	runtime.KeepAlive(cName)
	return driver.DevicePtr(ptr), int(bytes), status
}

// LaunchKernel implements driver.Driver.
func (d *Driver) LaunchKernel(function driver.Function,
	gridX, gridY, gridZ, blockX, blockY, blockZ uint32,
	sharedMemBytes uint32, stream driver.Stream, params unsafe.Pointer) driver.Status {
	return d.withContext(func() driver.Status {
		return cuLaunchKernel(uintptr(function), gridX, gridY, gridZ, blockX, blockY, blockZ,
			sharedMemBytes, uintptr(stream), params, nil)
	})
}

// ModuleLoadData implements driver.ModuleLoader. PTX images must be null-terminated.
func (d *Driver) ModuleLoadData(image []byte) (driver.Module, driver.Status) {
	if len(image) == 0 {
		return 0, driver.ErrorInvalidImage
	}
	var module uintptr
	status := d.withContext(func() driver.Status {
		return cuModuleLoadData(&module, unsafe.Pointer(&image[0]))
	})
	runtime.KeepAlive(image)
	return driver.Module(module), status
}

// ModuleGetFunction implements driver.ModuleLoader.
func (d *Driver) ModuleGetFunction(module driver.Module, name string) (driver.Function, driver.Status) {
	var function uintptr
	cName := cString(name)
	status := d.withContext(func() driver.Status {
		return cuModuleGetFunction(&function, uintptr(module), &cName[0])
	})
	runtime.KeepAlive(cName)
	return driver.Function(function), status
}

// ModuleUnload implements driver.ModuleLoader.
func (d *Driver) ModuleUnload(module driver.Module) driver.Status {
	return d.withContext(func() driver.Status {
		return cuModuleUnload(uintptr(module))
	})
}

// StreamSynchronize implements driver.Synchronizer.
func (d *Driver) StreamSynchronize(stream driver.Stream) driver.Status {
	return d.withContext(func() driver.Status {
		return cuStreamSynchronize(uintptr(stream))
	})
}
