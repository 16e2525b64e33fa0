package kernels

import (
	"github.com/chewxy/math32"
)

// Saxpy computes y = a*x + y on the host, the same computation of the saxpy kernel.
func Saxpy(a float32, x, y []float32) {
	for ii := range min(len(x), len(y)) {
		y[ii] = a*x[ii] + y[ii]
	}
}

// MandelbrotPoint returns the number of iterations of z = z^2 + c, starting at z=0, before |z| > 2,
// capped at maxIterations.
func MandelbrotPoint(cx, cy float32, maxIterations int) int {
	c := complex(cx, cy)
	z := complex(float32(0), float32(0))
	for n := 0; n < maxIterations; n++ {
		z = z*z + c
		if math32.Hypot(real(z), imag(z)) > 2 {
			return n
		}
	}
	return maxIterations
}

// Mandelbrot computes on the host what the mandelbrot kernel does on the device: the row-major
// width x height grid of iteration counts over the rectangle [xmin, xmax) x [ymin, ymax).
func Mandelbrot(width, height int, xmin, ymin, xmax, ymax float32, maxIterations int) []int32 {
	out := make([]int32, width*height)
	for y := range height {
		cy := ymin + (ymax-ymin)*float32(y)/float32(height)
		for x := range width {
			cx := xmin + (xmax-xmin)*float32(x)/float32(width)
			out[y*width+x] = int32(MandelbrotPoint(cx, cy, maxIterations))
		}
	}
	return out
}
