//go:build linux

package libcuda

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// LibraryNames are the file names tried, in order, in each of the search paths.
var LibraryNames = []string{"libcuda.so.1", "libcuda.so"}

// Device attributes (CUdevice_attribute) used by Devices.
const (
	attrMaxThreadsPerBlock     = 1
	attrWarpSize               = 10
	attrMultiprocessorCount    = 16
	attrComputeCapabilityMajor = 75
	attrComputeCapabilityMinor = 76
	streamDefault              = 0
	maxDeviceNameLength        = 256
)

var (
	libraryOnce sync.Once
	libraryErr  error
	libraryPath string

	cuInit                    func(flags uint32) driver.Status
	cuDeviceGetCount          func(count *int32) driver.Status
	cuDeviceGet               func(device *int32, ordinal int32) driver.Status
	cuDeviceGetName           func(name *byte, length int32, dev int32) driver.Status
	cuDeviceGetAttribute      func(value *int32, attrib int32, dev int32) driver.Status
	cuDeviceTotalMem          func(bytes *uint64, dev int32) driver.Status
	cuDevicePrimaryCtxRetain  func(ctx *uintptr, dev int32) driver.Status
	cuDevicePrimaryCtxRelease func(dev int32) driver.Status
	cuCtxSetCurrent           func(ctx uintptr) driver.Status
	cuStreamCreate            func(stream *uintptr, flags uint32) driver.Status
	cuStreamDestroy           func(stream uintptr) driver.Status
	cuStreamSynchronize       func(stream uintptr) driver.Status
	cuMemAlloc                func(ptr *uintptr, bytes uint64) driver.Status
	cuMemFree                 func(ptr uintptr) driver.Status
	cuMemcpyHtoD              func(dst uintptr, src unsafe.Pointer, bytes uint64) driver.Status
	cuMemcpyDtoH              func(dst unsafe.Pointer, src uintptr, bytes uint64) driver.Status
	cuMemcpyDtoD              func(dst uintptr, src uintptr, bytes uint64) driver.Status
	cuModuleLoadData          func(module *uintptr, image unsafe.Pointer) driver.Status
	cuModuleGetFunction       func(function *uintptr, module uintptr, name *byte) driver.Status
	cuModuleGetGlobal         func(ptr *uintptr, bytes *uint64, module uintptr, name *byte) driver.Status
	cuModuleUnload            func(module uintptr) driver.Status
	cuLaunchKernel            func(
		f uintptr,
		gridX, gridY, gridZ uint32,
		blockX, blockY, blockZ uint32,
		sharedMemBytes uint32,
		stream uintptr,
		params unsafe.Pointer,
		extra unsafe.Pointer,
	) driver.Status
)

// LibraryPath returns the path of the loaded libcuda, or "" if it was not loaded yet.
func LibraryPath() string {
	if loadLibrary() != nil {
		return ""
	}
	return libraryPath
}

// loadLibrary dlopens libcuda and binds its functions, once. Search paths are given by
// SearchPaths, and as a last resort the dynamic linker's own search is used.
func loadLibrary() error {
	libraryOnce.Do(func() {
		var lib uintptr
		for _, dir := range SearchPaths() {
			for _, name := range LibraryNames {
				candidate := filepath.Join(dir, name)
				if info, err := os.Stat(candidate); err != nil || info.IsDir() {
					continue
				}
				klog.V(2).Infof("trying to load %s", candidate)
				handle, err := purego.Dlopen(candidate, purego.RTLD_LAZY|purego.RTLD_GLOBAL)
				if err != nil {
					klog.Warningf("failed to load %q: %v -- check with `ldd %s` in case there are missing required libraries", candidate, err, candidate)
					continue
				}
				lib, libraryPath = handle, candidate
				break
			}
			if lib != 0 {
				break
			}
		}
		if lib == 0 {
			handle, err := purego.Dlopen(LibraryNames[0], purego.RTLD_LAZY|purego.RTLD_GLOBAL)
			if err != nil {
				libraryErr = errors.Wrapf(err, "cannot load %s (is the NVIDIA driver installed? set GOCUDA_LIBRARY_PATH to its directory)", LibraryNames[0])
				return
			}
			lib, libraryPath = handle, LibraryNames[0]
		}
		if libraryErr = registerFunctions(lib); libraryErr != nil {
			return
		}
		klog.V(1).Infof("loaded CUDA driver library %s", libraryPath)
	})
	return libraryErr
}

// registerFunctions binds the driver functions. purego panics on missing symbols, so the panic is
// converted to an error.
func registerFunctions(lib uintptr) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("failed to bind CUDA driver functions from %s: %v", libraryPath, r)
		}
	}()
	for _, binding := range []struct {
		fn   any
		name string
	}{
		{&cuInit, "cuInit"},
		{&cuDeviceGetCount, "cuDeviceGetCount"},
		{&cuDeviceGet, "cuDeviceGet"},
		{&cuDeviceGetName, "cuDeviceGetName"},
		{&cuDeviceGetAttribute, "cuDeviceGetAttribute"},
		{&cuDeviceTotalMem, "cuDeviceTotalMem_v2"},
		{&cuDevicePrimaryCtxRetain, "cuDevicePrimaryCtxRetain"},
		{&cuDevicePrimaryCtxRelease, "cuDevicePrimaryCtxRelease_v2"},
		{&cuCtxSetCurrent, "cuCtxSetCurrent"},
		{&cuStreamCreate, "cuStreamCreate"},
		{&cuStreamDestroy, "cuStreamDestroy_v2"},
		{&cuStreamSynchronize, "cuStreamSynchronize"},
		{&cuMemAlloc, "cuMemAlloc_v2"},
		{&cuMemFree, "cuMemFree_v2"},
		{&cuMemcpyHtoD, "cuMemcpyHtoD_v2"},
		{&cuMemcpyDtoH, "cuMemcpyDtoH_v2"},
		{&cuMemcpyDtoD, "cuMemcpyDtoD_v2"},
		{&cuModuleLoadData, "cuModuleLoadData"},
		{&cuModuleGetFunction, "cuModuleGetFunction"},
		{&cuModuleGetGlobal, "cuModuleGetGlobal_v2"},
		{&cuModuleUnload, "cuModuleUnload"},
		{&cuLaunchKernel, "cuLaunchKernel"},
	} {
		purego.RegisterLibFunc(binding.fn, lib, binding.name)
	}
	return nil
}

// initialize loads the library and calls cuInit.
func initialize() error {
	if err := loadLibrary(); err != nil {
		return err
	}
	if status := cuInit(0); !status.Ok() {
		return errors.Wrap(status, "cuInit failed")
	}
	return nil
}

// cString returns a null-terminated copy of s. The caller must keep the slice alive during the call.
func cString(s string) []byte {
	return append([]byte(s), 0)
}

// DeviceCount returns the number of CUDA devices.
func DeviceCount() (int, error) {
	if err := initialize(); err != nil {
		return 0, err
	}
	var count int32
	if status := cuDeviceGetCount(&count); !status.Ok() {
		return 0, errors.Wrap(status, "cuDeviceGetCount failed")
	}
	return int(count), nil
}

// Devices returns the description of every CUDA device.
func Devices() ([]DeviceInfo, error) {
	count, err := DeviceCount()
	if err != nil {
		return nil, err
	}
	devices := make([]DeviceInfo, 0, count)
	for ordinal := range count {
		info, err := queryDevice(ordinal)
		if err != nil {
			return nil, err
		}
		devices = append(devices, info)
	}
	return devices, nil
}

func queryDevice(ordinal int) (DeviceInfo, error) {
	info := DeviceInfo{Ordinal: ordinal}
	var dev int32
	if status := cuDeviceGet(&dev, int32(ordinal)); !status.Ok() {
		return info, errors.Wrapf(status, "cuDeviceGet(%d) failed", ordinal)
	}
	name := make([]byte, maxDeviceNameLength)
	if status := cuDeviceGetName(&name[0], int32(len(name)), dev); !status.Ok() {
		return info, errors.Wrapf(status, "cuDeviceGetName(%d) failed", ordinal)
	}
	for ii, b := range name {
		if b == 0 {
			name = name[:ii]
			break
		}
	}
	info.Name = string(name)
	if status := cuDeviceTotalMem(&info.TotalMemory, dev); !status.Ok() {
		return info, errors.Wrapf(status, "cuDeviceTotalMem(%d) failed", ordinal)
	}
	attr := func(attrib int32) (int, error) {
		var value int32
		if status := cuDeviceGetAttribute(&value, attrib, dev); !status.Ok() {
			return 0, errors.Wrapf(status, "cuDeviceGetAttribute(%d, %d) failed", attrib, ordinal)
		}
		return int(value), nil
	}
	var err error
	for _, field := range []struct {
		attrib int32
		value  *int
	}{
		{attrComputeCapabilityMajor, &info.ComputeCapability[0]},
		{attrComputeCapabilityMinor, &info.ComputeCapability[1]},
		{attrMultiprocessorCount, &info.Multiprocessors},
		{attrMaxThreadsPerBlock, &info.MaxThreadsPerBlock},
		{attrWarpSize, &info.WarpSize},
	} {
		if *field.value, err = attr(field.attrib); err != nil {
			return info, err
		}
	}
	return info, nil
}

// String implements fmt.Stringer for debugging. See also DeviceInfo.String.
func (d *Driver) String() string {
	return fmt.Sprintf("libcuda.Driver[device #%d, context %#x, stream %#x]", d.ordinal, d.ctx, d.stream)
}
