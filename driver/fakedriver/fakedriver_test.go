package fakedriver

import (
	"testing"
	"unsafe"

	"github.com/gomlx/gocuda/driver"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	d := New()
	ptr, status := d.MemAlloc(16)
	require.Equal(t, driver.Success, status)
	require.Equal(t, 1, d.Allocs())
	require.Equal(t, 1, d.LiveAllocations())

	src := []int32{1, 2, 3, 4}
	require.Equal(t, driver.Success, d.MemcpyHtoD(ptr, unsafe.Pointer(&src[0]), 16))
	dst := make([]int32, 2)
	// Interior pointer: read elements 2 and 3.
	require.Equal(t, driver.Success, d.MemcpyDtoH(unsafe.Pointer(&dst[0]), ptr+8, 8))
	require.Equal(t, []int32{3, 4}, dst)

	// Out of bounds.
	require.Equal(t, driver.ErrorIllegalAddress, d.MemcpyDtoH(unsafe.Pointer(&dst[0]), ptr+12, 8))

	require.Equal(t, driver.Success, d.MemFree(ptr))
	require.Equal(t, driver.ErrorInvalidValue, d.MemFree(ptr))
	require.Equal(t, 2, d.Frees())
	require.Equal(t, 2, d.FreesOf(ptr))
	require.Equal(t, 0, d.LiveAllocations())
}

func TestInvalidate(t *testing.T) {
	d := New()
	ctx := d.CurrentContext()
	require.True(t, d.ContextIsValid(ctx))
	_, status := d.MemAlloc(8)
	require.Equal(t, driver.Success, status)
	d.Invalidate(ctx)
	require.False(t, d.ContextIsValid(ctx))
	require.Equal(t, 0, d.LiveAllocations())
	require.Equal(t, 0, d.Frees())
	_, status = d.MemAlloc(8)
	require.Equal(t, driver.ErrorInvalidContext, status)
}

func TestModules(t *testing.T) {
	d := New()
	m := d.NewModule()
	gPtr := d.AddGlobal(m, "counter", 4)
	ptr, size, status := d.ModuleGetGlobal(m, "counter")
	require.Equal(t, driver.Success, status)
	require.Equal(t, gPtr, ptr)
	require.Equal(t, 4, size)
	_, _, status = d.ModuleGetGlobal(m, "missing")
	require.Equal(t, driver.ErrorNotFound, status)

	called := false
	f := d.AddKernel(m, "scale", []int{8, 4}, func(d *Driver, launch *Launch) driver.Status {
		called = true
		return driver.Success
	})
	got, status := d.ModuleGetFunction(m, "scale")
	require.Equal(t, driver.Success, status)
	require.Equal(t, f, got)

	devPtr := driver.DevicePtr(0x1234)
	factor := float32(2)
	params := []unsafe.Pointer{unsafe.Pointer(&devPtr), unsafe.Pointer(&factor)}
	status = d.LaunchKernel(f, 1, 1, 1, 32, 1, 1, 0, d.CurrentStream(), unsafe.Pointer(&params[0]))
	require.Equal(t, driver.Success, status)
	require.True(t, called)
	launches := d.Launches()
	require.Len(t, launches, 1)
	require.Equal(t, devPtr, launches[0].Pointer(0))
	require.Equal(t, float32(2), Arg[float32](launches[0], 1))
	require.Equal(t, [3]uint32{32, 1, 1}, launches[0].Block)

	d.FailNextLaunch(driver.ErrorLaunchFailed)
	require.Equal(t, driver.ErrorLaunchFailed, d.LaunchKernel(f, 1, 1, 1, 1, 1, 1, 0, 0, unsafe.Pointer(&params[0])))
	require.Len(t, d.Launches(), 1)

	require.Equal(t, driver.Success, d.ModuleUnload(m))
	_, _, status = d.ModuleGetGlobal(m, "counter")
	require.Equal(t, driver.ErrorInvalidHandle, status)
}

func TestDeferLaunches(t *testing.T) {
	d := New()
	d.DeferLaunches(true)
	m := d.NewModule()
	double := d.AddKernel(m, "double", []int{8}, func(d *Driver, launch *Launch) driver.Status {
		values, status := Slice[int32](d, launch.Pointer(0), 2)
		if status != driver.Success {
			return status
		}
		for ii := range values {
			values[ii] *= 2
		}
		return driver.Success
	})
	ptr, status := d.MemAlloc(8)
	require.Equal(t, driver.Success, status)
	src := []int32{1, 2}
	require.Equal(t, driver.Success, d.MemcpyHtoD(ptr, unsafe.Pointer(&src[0]), 8))

	params := []unsafe.Pointer{unsafe.Pointer(&ptr)}
	launch := func() {
		require.Equal(t, driver.Success, d.LaunchKernel(double, 1, 1, 1, 2, 1, 1, 0, d.CurrentStream(), unsafe.Pointer(&params[0])))
	}
	launch()
	launch()
	require.Equal(t, 2, d.Pending())
	values, status := Slice[int32](d, ptr, 2)
	require.Equal(t, driver.Success, status)
	require.Equal(t, []int32{1, 2}, values)

	// A copy waits for the queued kernels.
	dst := make([]int32, 2)
	require.Equal(t, driver.Success, d.MemcpyDtoH(unsafe.Pointer(&dst[0]), ptr, 8))
	require.Equal(t, []int32{4, 8}, dst)
	require.Equal(t, 0, d.Pending())

	launch()
	require.Equal(t, 1, d.Pending())
	require.Equal(t, driver.Success, d.StreamSynchronize(d.CurrentStream()))
	require.Equal(t, 0, d.Pending())
	require.Equal(t, []int32{8, 16}, values)

	// Failures of queued kernels are reported by the call that runs them.
	require.Equal(t, driver.Success, d.MemFree(ptr))
	launch()
	require.Equal(t, driver.ErrorIllegalAddress, d.StreamSynchronize(d.CurrentStream()))
	require.Equal(t, 0, d.Pending())
}
