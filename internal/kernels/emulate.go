package kernels

import (
	"math"

	"github.com/gomlx/gocuda/driver"
	"github.com/gomlx/gocuda/driver/fakedriver"
)

// Emulate registers host implementations of the kernels (and the scale_factor global, set to 1) in a
// fakedriver module, so the tools and tests can run without a GPU.
//
// The module is usually one returned by cuda.Client.LoadModule(PTX) on a fakedriver.Driver.
func Emulate(d *fakedriver.Driver, m driver.Module) {
	scaleFactor := d.AddGlobal(m, ScaleFactorGlobal, 4)
	factor, _ := fakedriver.Slice[float32](d, scaleFactor, 1)
	factor[0] = 1

	d.AddKernel(m, SaxpyName, []int{4, 4, 8, 8}, func(d *fakedriver.Driver, l *fakedriver.Launch) driver.Status {
		n := int(fakedriver.Arg[int32](l, 0))
		a := fakedriver.Arg[float32](l, 1)
		n = min(n, threads(l, 0))
		x, status := fakedriver.Slice[float32](d, l.Pointer(2), n)
		if !status.Ok() {
			return status
		}
		y, status := fakedriver.Slice[float32](d, l.Pointer(3), n)
		if !status.Ok() {
			return status
		}
		Saxpy(a, x, y)
		return driver.Success
	})

	d.AddKernel(m, ScaleName, []int{8, 4}, func(d *fakedriver.Driver, l *fakedriver.Launch) driver.Status {
		n := min(int(fakedriver.Arg[int32](l, 1)), threads(l, 0))
		x, status := fakedriver.Slice[float32](d, l.Pointer(0), n)
		if !status.Ok() {
			return status
		}
		s, status := fakedriver.Slice[float32](d, scaleFactor, 1)
		if !status.Ok() {
			return status
		}
		for ii := range x {
			x[ii] *= s[0]
		}
		return driver.Success
	})

	d.AddKernel(m, MandelbrotName, []int{8, 4, 4, 4, 4, 4, 4, 4}, func(d *fakedriver.Driver, l *fakedriver.Launch) driver.Status {
		width := int(fakedriver.Arg[int32](l, 1))
		height := int(fakedriver.Arg[int32](l, 2))
		xmin, ymin := fakedriver.Arg[float32](l, 3), fakedriver.Arg[float32](l, 4)
		xmax, ymax := fakedriver.Arg[float32](l, 5), fakedriver.Arg[float32](l, 6)
		maxIterations := int(fakedriver.Arg[int32](l, 7))
		out, status := fakedriver.Slice[int32](d, l.Pointer(0), width*height)
		if !status.Ok() {
			return status
		}
		result := Mandelbrot(width, height, xmin, ymin, xmax, ymax, maxIterations)
		for y := range min(height, threads(l, 1)) {
			for x := range min(width, threads(l, 0)) {
				out[y*width+x] = result[y*width+x]
			}
		}
		return driver.Success
	})
}

// threads returns the number of threads launched along the given axis.
func threads(l *fakedriver.Launch, axis int) int {
	total := uint64(l.Grid[axis]) * uint64(l.Block[axis])
	return int(min(total, math.MaxInt32))
}
