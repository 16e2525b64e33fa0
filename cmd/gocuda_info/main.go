//go:build linux

// gocuda_info lists the CUDA devices found and, optionally, runs a few small kernels on one of them
// to check that the driver, the module loader and the launch path work end to end.
//
// Usage:
//
//	gocuda_info [-device=0] [-selftest] [-fake] [-n=1048576]
//
// With -fake the self-test runs against an in-memory emulation of the device, which needs no GPU.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/chewxy/math32"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gocuda/cuda"
	"github.com/gomlx/gocuda/driver/fakedriver"
	"github.com/gomlx/gocuda/driver/libcuda"
	"github.com/gomlx/gocuda/internal/kernels"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagDevice   = flag.Int("device", 0, "Ordinal of the device used for the self-test.")
	flagSelfTest = flag.Bool("selftest", false, "Run the saxpy, scale and mandelbrot kernels and compare with the host results.")
	flagFake     = flag.Bool("fake", false, "Run the self-test on an emulated device, no GPU required.")
	flagN        = flag.Int("n", 1<<20, "Number of elements used by the saxpy self-test.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *flagFake {
		fake := fakedriver.New()
		client := must.M1(cuda.NewClient(fake, nil))
		if err := selfTest(client, func(module *cuda.Module) { kernels.Emulate(fake, module.Handle()) }); err != nil {
			klog.Fatalf("self-test on emulated device failed: %+v", err)
		}
		return
	}

	devices, err := libcuda.Devices()
	if err != nil {
		klog.Fatalf("Failed to list CUDA devices: %+v", err)
	}
	fmt.Printf("CUDA driver library: %s\n", libcuda.LibraryPath())
	fmt.Printf("%d device(s):\n", len(devices))
	var totalMemory uint64
	for _, info := range devices {
		fmt.Printf("\t%s\n", info)
		totalMemory += info.TotalMemory
	}
	if len(devices) > 1 {
		fmt.Printf("Total device memory: %s\n", humanize.IBytes(totalMemory))
	}
	if !*flagSelfTest {
		return
	}

	drv, err := libcuda.Open(*flagDevice)
	if err != nil {
		klog.Fatalf("Failed to open device #%d: %+v", *flagDevice, err)
	}
	client := must.M1(cuda.NewClient(drv, nil))
	err = selfTest(client, nil)
	if closeErr := drv.Close(); closeErr != nil {
		klog.Errorf("Failed to close %s: %v", drv, closeErr)
	}
	if err != nil {
		klog.Errorf("self-test on device #%d failed: %+v", *flagDevice, err)
		os.Exit(1)
	}
}

// selfTest loads the kernels module and runs each kernel once. setup, if given, is called right
// after the module is loaded.
func selfTest(client *cuda.Client, setup func(module *cuda.Module)) error {
	module, err := client.LoadModule([]byte(kernels.PTX))
	if err != nil {
		return err
	}
	defer func() {
		if err := module.Unload(); err != nil {
			klog.Errorf("Failed to unload %s: %v", module, err)
		}
	}()
	if setup != nil {
		setup(module)
	}
	for _, test := range []struct {
		name string
		fn   func(*cuda.Client, *cuda.Module) error
	}{
		{kernels.SaxpyName, testSaxpy},
		{kernels.ScaleName, testScale},
		{kernels.MandelbrotName, testMandelbrot},
	} {
		start := time.Now()
		if err := test.fn(client, module); err != nil {
			return errors.WithMessagef(err, "kernel %q", test.name)
		}
		fmt.Printf("\t%-12s ok (%s)\n", test.name, time.Since(start))
	}
	fmt.Printf("Self-test passed, %d buffers still alive.\n", cuda.BuffersAlive())
	return nil
}

func loadFunction(module *cuda.Module, name, signature string) (*cuda.Function, error) {
	fn, err := module.Function(name)
	if err != nil {
		return nil, err
	}
	params, err := cuda.ParseSignature(signature)
	if err != nil {
		return nil, err
	}
	return fn.WithSignature(params...), nil
}

func testSaxpy(client *cuda.Client, module *cuda.Module) error {
	saxpy, err := loadFunction(module, kernels.SaxpyName, kernels.SaxpySignature)
	if err != nil {
		return err
	}
	n := *flagN
	hostX, hostY := make([]float32, n), make([]float32, n)
	for ii := range n {
		hostX[ii] = float32(ii%1000) / 10
		hostY[ii] = 1
	}
	x, err := cuda.NewArrayFromHost(client, hostX)
	if err != nil {
		return err
	}
	defer x.Destroy()
	y, err := cuda.NewArrayFromHost(client, hostY)
	if err != nil {
		return err
	}
	defer y.Destroy()

	const a = 0.5
	const blockSize = 256
	if err := saxpy.Launch(n, a, x, y).Grid((n + blockSize - 1) / blockSize).Block(blockSize).Done(); err != nil {
		return err
	}
	if err := client.Synchronize(); err != nil {
		return err
	}
	got, err := y.ToHost()
	if err != nil {
		return err
	}
	kernels.Saxpy(a, hostX, hostY)
	for ii := range n {
		if delta := math32.Abs(got[ii] - hostY[ii]); delta > 1e-5*math32.Max(1, math32.Abs(hostY[ii])) {
			return errors.Errorf("y[%d]=%g, wanted %g", ii, got[ii], hostY[ii])
		}
	}
	fmt.Printf("\t%-12s %s of float32 processed\n", kernels.SaxpyName, humanize.IBytes(uint64(3*x.ByteSize())))
	return nil
}

func testScale(client *cuda.Client, module *cuda.Module) error {
	scale, err := loadFunction(module, kernels.ScaleName, kernels.ScaleSignature)
	if err != nil {
		return err
	}
	factor, err := cuda.ResolveGlobal[float32](module, kernels.ScaleFactorGlobal)
	if err != nil {
		return err
	}
	if err := factor.Set(-2); err != nil {
		return err
	}
	x, err := cuda.NewArrayFromHost(client, []float32{1, 2, 3, 4, 5})
	if err != nil {
		return err
	}
	defer x.Destroy()
	if err := scale.Call(1, 32, x, x.Size()); err != nil {
		return err
	}
	got, err := x.ToHost()
	if err != nil {
		return err
	}
	for ii, v := range got {
		if want := -2 * float32(ii+1); v != want {
			return errors.Errorf("x[%d]=%g, wanted %g", ii, v, want)
		}
	}
	return nil
}

func testMandelbrot(client *cuda.Client, module *cuda.Module) error {
	mandelbrot, err := loadFunction(module, kernels.MandelbrotName, kernels.MandelbrotSignature)
	if err != nil {
		return err
	}
	const (
		width, height, maxIterations = 320, 240, 64
		xmin, ymin, xmax, ymax       = -2, -1.5, 1, 1.5
		tile                         = 16
	)
	out, err := cuda.NewArray[int32](client, height, width)
	if err != nil {
		return err
	}
	defer out.Destroy()
	err = mandelbrot.Launch(out, width, height, xmin, ymin, xmax, ymax, maxIterations).
		Grid((width+tile-1)/tile, (height+tile-1)/tile).
		Block(tile, tile).
		Done()
	if err != nil {
		return err
	}
	got, err := out.ToHost()
	if err != nil {
		return err
	}
	want := kernels.Mandelbrot(width, height, xmin, ymin, xmax, ymax, maxIterations)
	var mismatches int
	for ii := range want {
		if got[ii] != want[ii] {
			mismatches++
		}
	}
	// Points near the border of the set are sensitive to rounding differences between host and device.
	if mismatches > len(want)/100 {
		return errors.Errorf("%d of %d points differ from the host computation", mismatches, len(want))
	}
	return nil
}
