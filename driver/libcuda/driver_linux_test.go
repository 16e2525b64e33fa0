//go:build linux

package libcuda

import (
	"fmt"
	"testing"
	"unsafe"

	"github.com/gomlx/gocuda/cuda"
	"github.com/gomlx/gocuda/driver"
	"github.com/gomlx/gocuda/internal/kernels"
	"github.com/stretchr/testify/require"
)

// openOrSkip opens device #0, or skips the test if there is no usable GPU.
func openOrSkip(t *testing.T) *Driver {
	t.Helper()
	if !HasNvidiaGPU() {
		t.Skip("no NVIDIA GPU found")
	}
	d, err := Open(0)
	if err != nil {
		t.Skipf("failed to open CUDA device #0: %v", err)
	}
	t.Cleanup(func() { require.NoError(t, d.Close()) })
	return d
}

func TestDevices(t *testing.T) {
	openOrSkip(t)
	devices, err := Devices()
	require.NoError(t, err)
	require.NotEmpty(t, devices)
	for _, info := range devices {
		fmt.Printf("\t%s\n", info)
		require.Positive(t, info.TotalMemory)
		require.Positive(t, info.WarpSize)
	}
	fmt.Printf("Loaded from %s\n", LibraryPath())
}

func TestMemoryRoundTrip(t *testing.T) {
	d := openOrSkip(t)
	require.True(t, d.ContextIsValid(d.CurrentContext()))

	host := []int32{1, 2, 3, 4}
	bytes := len(host) * 4
	ptr, status := d.MemAlloc(bytes)
	require.True(t, status.Ok(), "MemAlloc: %v", status)
	require.NotZero(t, ptr)
	require.True(t, d.MemcpyHtoD(ptr, unsafe.Pointer(&host[0]), bytes).Ok())

	other, status := d.MemAlloc(bytes)
	require.True(t, status.Ok())
	require.True(t, d.MemcpyDtoD(other, ptr, bytes).Ok())
	got := make([]int32, len(host))
	require.True(t, d.MemcpyDtoH(unsafe.Pointer(&got[0]), other, bytes).Ok())
	require.Equal(t, host, got)
	require.True(t, d.StreamSynchronize(d.CurrentStream()).Ok())

	require.True(t, d.MemFree(ptr).Ok())
	require.True(t, d.MemFree(other).Ok())

	_, status = d.ModuleLoadData(nil)
	require.Equal(t, driver.ErrorInvalidImage, status)
}

// TestCopiesOrderedWithLaunches sets a global, launches a kernel reading it and copies the results back,
// with no explicit synchronization in between: the copies must wait for the kernel.
func TestCopiesOrderedWithLaunches(t *testing.T) {
	d := openOrSkip(t)
	client, err := cuda.NewClient(d, nil)
	require.NoError(t, err)
	module, err := client.LoadModule([]byte(kernels.PTX))
	require.NoError(t, err)
	defer func() { require.NoError(t, module.Unload()) }()
	scale, err := module.Function(kernels.ScaleName)
	require.NoError(t, err)
	factor, err := cuda.ResolveGlobal[float32](module, kernels.ScaleFactorGlobal)
	require.NoError(t, err)

	const n = 1 << 20
	host := make([]float32, n)
	for ii := range host {
		host[ii] = float32(ii % 100)
	}
	x, err := cuda.NewArrayFromHost(client, host)
	require.NoError(t, err)
	defer x.Destroy()
	for _, f := range []float32{-2, 3} {
		require.NoError(t, factor.Set(f))
		require.NoError(t, scale.Launch(x, int32(n)).Grid(n/256).Block(256).Done())
		for ii := range host {
			host[ii] *= f
		}
		got, err := x.ToHost()
		require.NoError(t, err)
		require.Equal(t, host, got)
	}
}
