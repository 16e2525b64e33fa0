package cuda

import (
	"math"
	"slices"
	"sync/atomic"

	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Function is a kernel (a `__global__` function) of a loaded Module.
//
// It is safe for concurrent launches.
type Function struct {
	module *Module
	handle driver.Function
	name   string

	// signature set with WithSignature, used by all launches that don't configure their own.
	signature atomic.Pointer[[]ParamType]

	// inferred signatures, per tuple of argument types.
	inferred signatureCache
}

func newFunction(module *Module, handle driver.Function, name string) *Function {
	return &Function{module: module, handle: handle, name: name}
}

// Module the function was resolved from.
func (f *Function) Module() *Module { return f.module }

// Handle returns the driver handle of the function.
func (f *Function) Handle() driver.Function { return f.handle }

// Name of the function.
func (f *Function) Name() string { return f.name }

// String implements fmt.Stringer.
func (f *Function) String() string {
	if signature := f.Signature(); signature != nil {
		return f.name + "(" + signatureString(signature) + ")"
	}
	return f.name
}

// WithSignature sets the parameter types of the function, used by every subsequent launch.
// It should match the kernel prototype, and it can be created with ParseSignature.
//
// Without a signature, launches infer the parameter types from the arguments' Go types (see Launch).
// It returns the Function itself, for chaining.
func (f *Function) WithSignature(types ...ParamType) *Function {
	signature := slices.Clone(types)
	f.signature.Store(&signature)
	return f
}

// Signature returns the signature set with WithSignature, or nil.
func (f *Function) Signature() []ParamType {
	if s := f.signature.Load(); s != nil {
		return *s
	}
	return nil
}

// Launch the function with the given arguments. It returns a LaunchConfig to configure the
// geometry (Grid and Block are required), and the launch happens when LaunchConfig.Done is called.
//
// Each argument is converted according to its parameter type: the one given to
// LaunchConfig.WithSignature, or else Function.WithSignature, or else inferred from the arguments:
//
//   - *Array[T], *Global[T], *Buffer (or anything implementing DevicePointer), driver.DevicePtr and
//     nil are passed as device pointers.
//   - Any other fixed-layout value is passed by copy. Go int is 64 bits, so pass an int32 to a C int
//     parameter, or declare the signature.
//
// Example:
//
//	err := saxpy.Launch(int32(n), float32(2), x, y).Grid(numBlocks).Block(256).Done()
func (f *Function) Launch(args ...any) *LaunchConfig {
	c := &LaunchConfig{
		function:     f,
		args:         args,
		sharedMemory: f.module.client.defaultSharedMemory,
	}
	return c
}

// Call launches the function with the given geometry and arguments, and returns after the launch
// was issued. grid and block accept anything AsDim does.
func (f *Function) Call(grid, block any, args ...any) error {
	return f.Launch(args...).Grid(grid).Block(block).Done()
}

// LaunchConfig holds the configuration of one launch, created with Function.Launch.
//
// After configuring it, call Done to actually issue the launch. Configuration errors are
// kept and returned by Done.
type LaunchConfig struct {
	function *Function
	args     []any

	grid, block       Dim
	gridSet, blockSet bool
	sharedMemory      uint32
	stream            driver.Stream
	streamSet         bool
	signature         []ParamType
	signatureSet      bool

	// err saves an error during the configuration.
	err error
}

// dimsFromArgs accepts either one value handled by AsDim, or up to 3 integers.
func dimsFromArgs(what string, dims []any) (Dim, error) {
	if len(dims) == 1 {
		return asDim(what, dims[0])
	}
	ints := make([]int, len(dims))
	for ii, dim := range dims {
		switch dim.(type) {
		case Dim, []int, [1]int, [2]int, [3]int, nil:
			return Dim{}, newErrorf(InvalidLaunchConfiguration, "%s given as a list of values, they must all be integers, got %v", what, dims)
		}
		d, err := asDim(what, dim)
		if err != nil {
			return Dim{}, err
		}
		ints[ii] = int(d.X)
	}
	return makeDim(what, ints)
}

// Grid sets the number of blocks in each dimension: either one value accepted by AsDim
// (an integer, []int, [N]int or Dim) or up to 3 integers. Required.
func (c *LaunchConfig) Grid(dims ...any) *LaunchConfig {
	if c.err != nil {
		return c
	}
	c.grid, c.err = dimsFromArgs("grid", dims)
	c.gridSet = c.err == nil
	return c
}

// Block sets the number of threads per block in each dimension, in the same way as Grid. Required.
func (c *LaunchConfig) Block(dims ...any) *LaunchConfig {
	if c.err != nil {
		return c
	}
	c.block, c.err = dimsFromArgs("block", dims)
	c.blockSet = c.err == nil
	return c
}

// SharedMemory sets the dynamic shared memory per block, in bytes.
// The default is the client option OptionDefaultSharedMemory.
func (c *LaunchConfig) SharedMemory(bytes int) *LaunchConfig {
	if c.err != nil {
		return c
	}
	if bytes < 0 || uint64(bytes) > math.MaxUint32 {
		c.err = newErrorf(InvalidLaunchConfiguration, "shared memory of %d bytes is out of range", bytes)
		return c
	}
	c.sharedMemory = uint32(bytes)
	return c
}

// OnStream issues the launch on the given stream, instead of the driver's current stream.
func (c *LaunchConfig) OnStream(stream driver.Stream) *LaunchConfig {
	if c.err != nil {
		return c
	}
	c.stream = stream
	c.streamSet = true
	return c
}

// WithSignature sets the parameter types for this launch only, overriding Function.WithSignature.
func (c *LaunchConfig) WithSignature(types ...ParamType) *LaunchConfig {
	if c.err != nil {
		return c
	}
	c.signature = slices.Clone(types)
	c.signatureSet = true
	return c
}

// resolveSignature returns the explicit signature if one was set, or infers it from the arguments.
func (c *LaunchConfig) resolveSignature() ([]ParamType, error) {
	if c.signatureSet {
		return c.signature, nil
	}
	if s := c.function.signature.Load(); s != nil {
		return *s, nil
	}
	return c.function.inferred.infer(c.args)
}

// Done converts the arguments and issues the launch.
//
// Validation errors (geometry, argument conversion) are returned before anything reaches the
// driver. A failure from the driver is returned as a LaunchError with the driver status.
func (c *LaunchConfig) Done() error {
	if c.err != nil {
		return c.err
	}
	f := c.function
	if !c.gridSet || !c.blockSet {
		return newErrorf(InvalidLaunchConfiguration, "launch of %q requires both Grid and Block to be set", f.name)
	}
	if err := f.module.checkLoaded(); err != nil {
		return err
	}
	signature, err := c.resolveSignature()
	if err != nil {
		return errors.WithMessagef(err, "launching %q", f.name)
	}
	args, err := marshalArguments(signature, c.args)
	if err != nil {
		return errors.WithMessagef(err, "launching %q", f.name)
	}
	defer args.release()

	drv := f.module.client.driver
	stream := c.stream
	if !c.streamSet {
		stream = drv.CurrentStream()
	}
	if klog.V(2).Enabled() {
		klog.Infof("launching %s: grid=%s, block=%s, shared=%d, stream=%#x", f, c.grid, c.block, c.sharedMemory, uintptr(stream))
	}
	status := drv.LaunchKernel(f.handle,
		c.grid.X, c.grid.Y, c.grid.Z,
		c.block.X, c.block.Y, c.block.Z,
		c.sharedMemory, stream, args.pointer())
	return statusErrorf(LaunchError, status, "failed to launch %q with grid=%s and block=%s", f.name, c.grid, c.block)
}
