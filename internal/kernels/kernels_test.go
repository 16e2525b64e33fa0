package kernels

import (
	"fmt"
	"strings"
	"testing"

	"github.com/gomlx/gocuda/cuda"
	"github.com/gomlx/gocuda/driver/fakedriver"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
)

func TestKernelsDeclared(t *testing.T) {
	for name, signature := range map[string]string{
		SaxpyName:      SaxpySignature,
		ScaleName:      ScaleSignature,
		MandelbrotName: MandelbrotSignature,
	} {
		require.Containsf(t, PTX, fmt.Sprintf(".entry %s(", name), "kernel %q missing from PTX", name)
		params, err := cuda.ParseSignature(signature)
		require.NoErrorf(t, err, "kernel %q", name)

		// Each parameter is declared once in the entry.
		entry := PTX[strings.Index(PTX, fmt.Sprintf(".entry %s(", name)):]
		entry = entry[:strings.Index(entry, ")")]
		require.Equalf(t, len(params), strings.Count(entry, ".param"), "kernel %q", name)
	}
	require.Contains(t, PTX, ".f32 "+ScaleFactorGlobal)
}

func newEmulatedModule(t *testing.T) (*cuda.Client, *cuda.Module) {
	t.Helper()
	fake := fakedriver.New()
	client, err := cuda.NewClient(fake, nil)
	require.NoError(t, err)
	module, err := client.LoadModule([]byte(PTX))
	require.NoError(t, err)
	Emulate(fake, module.Handle())
	return client, module
}

func TestSaxpy(t *testing.T) {
	client, module := newEmulatedModule(t)
	saxpy, err := module.Function(SaxpyName)
	require.NoError(t, err)
	signature, err := cuda.ParseSignature(SaxpySignature)
	require.NoError(t, err)
	saxpy = saxpy.WithSignature(signature...)

	const n = 1000
	hostX, hostY := make([]float32, n), make([]float32, n)
	for ii := range n {
		hostX[ii], hostY[ii] = float32(ii), 1
	}
	x := must.M1(cuda.NewArrayFromHost(client, hostX))
	defer x.Destroy()
	y := must.M1(cuda.NewArrayFromHost(client, hostY))
	defer y.Destroy()

	// n is given as a Go int and converted to the kernel's int (int32).
	require.NoError(t, saxpy.Launch(n, 2.0, x, y).Grid((n+255)/256).Block(256).Done())
	got := must.M1(y.ToHost())
	Saxpy(2, hostX, hostY)
	require.Equal(t, hostY, got)
}

func TestScaleByGlobal(t *testing.T) {
	client, module := newEmulatedModule(t)
	factor := must.M1(cuda.ResolveGlobal[float32](module, ScaleFactorGlobal))
	require.Equal(t, float32(1), must.M1(factor.Get()))
	require.NoError(t, factor.Set(3))

	scale := must.M1(module.Function(ScaleName))
	x := must.M1(cuda.NewArrayFromHost(client, []float32{1, 2, 3}))
	defer x.Destroy()
	require.NoError(t, scale.Call(1, 32, x, int32(3)))
	require.Equal(t, []float32{3, 6, 9}, must.M1(x.ToHost()))
}

func TestMandelbrot(t *testing.T) {
	client, module := newEmulatedModule(t)
	mandelbrot := must.M1(module.Function(MandelbrotName))
	signature := must.M1(cuda.ParseSignature(MandelbrotSignature))
	const width, height, maxIterations = 64, 48, 32
	out := must.M1(cuda.NewArray[int32](client, height, width))
	defer out.Destroy()
	err := mandelbrot.Launch(out, width, height, -2, -1.5, 1, 1.5, maxIterations).
		WithSignature(signature...).
		Grid((width+15)/16, (height+15)/16).Block(16, 16).
		Done()
	require.NoError(t, err)
	got := must.M1(out.ToHost())
	require.Equal(t, Mandelbrot(width, height, -2, -1.5, 1, 1.5, maxIterations), got)

	// The center of the set never diverges, far away points diverge immediately.
	require.Equal(t, maxIterations, MandelbrotPoint(0, 0, maxIterations))
	require.Equal(t, 0, MandelbrotPoint(3, 3, maxIterations))
}
