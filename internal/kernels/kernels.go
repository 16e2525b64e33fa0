// Package kernels holds a few hand written PTX kernels used by the command line tools and examples
// to exercise a real device.
//
// PTX is JIT compiled by the driver for the actual GPU, so no nvcc is needed. The target is sm_52,
// which any currently supported device can run.
package kernels

// Kernel names and their C signatures, as given to cuda.ParseSignature.
const (
	SaxpyName      = "saxpy"
	SaxpySignature = "int n, float a, const float* x, float* y"

	ScaleName      = "scale"
	ScaleSignature = "float* x, int n"
	// ScaleFactorGlobal is the module global (a float) read by the scale kernel.
	ScaleFactorGlobal = "scale_factor"

	MandelbrotName      = "mandelbrot"
	MandelbrotSignature = "int* out, int width, int height, float xmin, float ymin, float xmax, float ymax, int max_iterations"
)

// PTX with all the kernels of this package. Kernels use 1D (saxpy, scale) or 2D (mandelbrot) grids
// of any block size.
const PTX = `
.version 7.0
.target sm_52
.address_size 64

.visible .global .align 4 .f32 scale_factor = 0f3F800000;

// ============================================================
// saxpy: y[i] = a * x[i] + y[i]
// ============================================================
.visible .entry saxpy(
    .param .u32 p_n,
    .param .f32 p_a,
    .param .u64 p_x,
    .param .u64 p_y
) {
    .reg .u32 %tidx, %bidx, %bdim, %idx, %n;
    .reg .u64 %x, %y, %off, %px, %py;
    .reg .f32 %a, %vx, %vy;
    .reg .pred %p;

    ld.param.u32 %n, [p_n];
    ld.param.f32 %a, [p_a];
    ld.param.u64 %x, [p_x];
    ld.param.u64 %y, [p_y];

    mov.u32 %tidx, %tid.x;
    mov.u32 %bidx, %ctaid.x;
    mov.u32 %bdim, %ntid.x;
    mad.lo.u32 %idx, %bidx, %bdim, %tidx;
    setp.ge.u32 %p, %idx, %n;
    @%p bra $L_saxpy_done;

    mul.wide.u32 %off, %idx, 4;
    add.u64 %px, %x, %off;
    add.u64 %py, %y, %off;
    ld.global.f32 %vx, [%px];
    ld.global.f32 %vy, [%py];
    fma.rn.f32 %vy, %a, %vx, %vy;
    st.global.f32 [%py], %vy;
$L_saxpy_done:
    ret;
}

// ============================================================
// scale: x[i] *= scale_factor
// ============================================================
.visible .entry scale(
    .param .u64 p_x,
    .param .u32 p_n
) {
    .reg .u32 %tidx, %bidx, %bdim, %idx, %n;
    .reg .u64 %x, %off;
    .reg .f32 %v, %s;
    .reg .pred %p;

    ld.param.u64 %x, [p_x];
    ld.param.u32 %n, [p_n];

    mov.u32 %tidx, %tid.x;
    mov.u32 %bidx, %ctaid.x;
    mov.u32 %bdim, %ntid.x;
    mad.lo.u32 %idx, %bidx, %bdim, %tidx;
    setp.ge.u32 %p, %idx, %n;
    @%p bra $L_scale_done;

    ld.global.f32 %s, [scale_factor];
    mul.wide.u32 %off, %idx, 4;
    add.u64 %off, %x, %off;
    ld.global.f32 %v, [%off];
    mul.f32 %v, %v, %s;
    st.global.f32 [%off], %v;
$L_scale_done:
    ret;
}

// ============================================================
// mandelbrot: out[y*width+x] = number of iterations of z = z^2 + c
// before |z| > 2, capped at max_iterations.
// ============================================================
.visible .entry mandelbrot(
    .param .u64 p_out,
    .param .u32 p_width,
    .param .u32 p_height,
    .param .f32 p_xmin,
    .param .f32 p_ymin,
    .param .f32 p_xmax,
    .param .f32 p_ymax,
    .param .u32 p_max_iterations
) {
    .reg .u32 %px, %py, %w, %h, %maxit, %n, %t, %idx;
    .reg .u64 %out, %off;
    .reg .f32 %xmin, %ymin, %xmax, %ymax, %cx, %cy, %zx, %zy, %zx2, %zy2, %tmp, %fd, %fp;
    .reg .pred %p, %q;

    ld.param.u64 %out, [p_out];
    ld.param.u32 %w, [p_width];
    ld.param.u32 %h, [p_height];
    ld.param.f32 %xmin, [p_xmin];
    ld.param.f32 %ymin, [p_ymin];
    ld.param.f32 %xmax, [p_xmax];
    ld.param.f32 %ymax, [p_ymax];
    ld.param.u32 %maxit, [p_max_iterations];

    mov.u32 %t, %ctaid.x;
    mov.u32 %n, %ntid.x;
    mov.u32 %px, %tid.x;
    mad.lo.u32 %px, %t, %n, %px;
    mov.u32 %t, %ctaid.y;
    mov.u32 %n, %ntid.y;
    mov.u32 %py, %tid.y;
    mad.lo.u32 %py, %t, %n, %py;
    setp.ge.u32 %p, %px, %w;
    setp.ge.or.u32 %p, %py, %h, %p;
    @%p bra $L_mandel_done;

    // cx = xmin + (xmax-xmin)*px/width, and the same for cy.
    cvt.rn.f32.u32 %fp, %px;
    cvt.rn.f32.u32 %fd, %w;
    sub.f32 %tmp, %xmax, %xmin;
    mul.f32 %tmp, %tmp, %fp;
    div.rn.f32 %tmp, %tmp, %fd;
    add.f32 %cx, %xmin, %tmp;
    cvt.rn.f32.u32 %fp, %py;
    cvt.rn.f32.u32 %fd, %h;
    sub.f32 %tmp, %ymax, %ymin;
    mul.f32 %tmp, %tmp, %fp;
    div.rn.f32 %tmp, %tmp, %fd;
    add.f32 %cy, %ymin, %tmp;

    mov.f32 %zx, 0f00000000;
    mov.f32 %zy, 0f00000000;
    mov.u32 %n, 0;
$L_mandel_loop:
    setp.ge.u32 %q, %n, %maxit;
    @%q bra $L_mandel_store;
    mul.f32 %zx2, %zx, %zx;
    mul.f32 %zy2, %zy, %zy;
    sub.f32 %tmp, %zx2, %zy2;
    mul.f32 %zy, %zx, %zy;
    add.f32 %zy, %zy, %zy;
    add.f32 %zy, %zy, %cy;
    add.f32 %zx, %tmp, %cx;
    mul.f32 %zx2, %zx, %zx;
    mul.f32 %zy2, %zy, %zy;
    add.f32 %tmp, %zx2, %zy2;
    setp.gt.f32 %q, %tmp, 0f40800000;
    @%q bra $L_mandel_store;
    add.u32 %n, %n, 1;
    bra $L_mandel_loop;
$L_mandel_store:
    mad.lo.u32 %idx, %py, %w, %px;
    mul.wide.u32 %off, %idx, 4;
    add.u64 %off, %out, %off;
    st.global.u32 [%off], %n;
$L_mandel_done:
    ret;
}
`
