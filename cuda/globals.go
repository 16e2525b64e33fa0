package cuda

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/gomlx/gocuda/driver"
)

// Global is a typed handle to a global variable of a loaded Module (a `__device__` variable).
//
// It doesn't own the memory: it's valid while the Module is loaded. Using it after the Module is
// unloaded is an error of the caller, and may fail with a driver error or access unrelated memory.
type Global[T any] struct {
	module *Module
	name   string
	view   *Buffer
}

// ResolveGlobal looks up the global variable name in module. Its size must be exactly the size of T.
func ResolveGlobal[T any](module *Module, name string) (*Global[T], error) {
	if err := checkLayout[T](); err != nil {
		return nil, err
	}
	if err := module.checkLoaded(); err != nil {
		return nil, err
	}
	drv := module.client.driver
	ptr, size, status := drv.ModuleGetGlobal(module.handle, name)
	if status == driver.ErrorNotFound {
		return nil, statusErrorf(SymbolNotFound, status, "global %q not found in %s", name, module)
	}
	if err := statusErrorf(DeviceError, status, "failed to resolve global %q in %s", name, module); err != nil {
		return nil, err
	}
	if size != sizeOf[T]() {
		return nil, newErrorf(SizeMismatch, "global %q in %s has %d bytes, but %s has %d bytes",
			name, module, size, reflect.TypeFor[T](), sizeOf[T]())
	}
	view := &Buffer{client: module.client, ptr: ptr, size: size, ctx: drv.CurrentContext()}
	view.refs.Store(1)
	return &Global[T]{module: module, name: name, view: view}, nil
}

// Module the global was resolved from.
func (g *Global[T]) Module() *Module { return g.module }

// Name of the global variable.
func (g *Global[T]) Name() string { return g.name }

// Ptr returns the device address of the global variable.
func (g *Global[T]) Ptr() driver.DevicePtr { return g.view.ptr }

// DevicePtr implements DevicePointer.
func (g *Global[T]) DevicePtr() driver.DevicePtr { return g.view.ptr }

// Size in bytes of the global variable, always the size of T.
func (g *Global[T]) Size() int { return g.view.size }

func (g *Global[T]) elemType() reflect.Type { return reflect.TypeFor[T]() }

// Equal returns whether both handles refer to the same device address.
func (g *Global[T]) Equal(other *Global[T]) bool {
	return g != nil && other != nil && g.view.ptr == other.view.ptr
}

// String implements fmt.Stringer.
func (g *Global[T]) String() string {
	return fmt.Sprintf("Global[%s](%q @ %#x)", reflect.TypeFor[T](), g.name, uintptr(g.view.ptr))
}

// Get reads the value of the global variable, blocking until done.
func (g *Global[T]) Get() (T, error) {
	var value T
	err := g.view.Download(unsafe.Pointer(&value), g.view.size)
	return value, err
}

// Set writes the value of the global variable, blocking until done.
func (g *Global[T]) Set(value T) error {
	return g.view.Upload(unsafe.Pointer(&value), g.view.size)
}
