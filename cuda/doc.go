// Package cuda manages GPU device memory and kernel launches on top of a driver.Driver.
//
// A Client wraps a driver. Memory is held by refcounted Buffers, and by typed Arrays, which share
// Buffers and are freed when destroyed or garbage collected. Modules give access to kernels (Function)
// and to device global variables (Global). Kernels are launched with Function.Launch, which converts
// Go values to the kernel's C parameter types and marshals them into the pointer array the driver wants.
//
// Example:
//
//	drv, err := libcuda.Open(0)
//	...
//	client, err := cuda.NewClient(drv, nil)
//	module, err := client.LoadModule(ptx)
//	saxpy, err := module.Function("saxpy")
//	x, err := cuda.NewArrayFromHost(client, hostX)
//	y, err := cuda.NewArrayFromHost(client, hostY)
//	err = saxpy.Launch(int32(n), float32(2), x, y).Grid((n+255)/256).Block(256).Done()
//	result, err := y.ToHost()
package cuda
