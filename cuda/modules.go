package cuda

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/gomlx/gocuda/driver"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Module is a loaded device code image (PTX or cubin), from which one can resolve functions
// (see Module.Function) and global variables (see ResolveGlobal).
type Module struct {
	client *Client
	handle driver.Module
	name   string

	// owned modules were loaded by the client, and are unloaded by Unload.
	owned    bool
	unloaded atomic.Bool
}

// LoadModule loads a module from a PTX or cubin image. It requires a driver that implements
// driver.ModuleLoader.
//
// The module must be unloaded with Module.Unload once its functions and globals are no longer used.
func (c *Client) LoadModule(image []byte) (*Module, error) {
	return c.loadModule("<memory>", image)
}

// LoadModuleFile reads a PTX or cubin file and loads it as a module. See LoadModule.
func (c *Client) LoadModuleFile(path string) (*Module, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read module %q", path)
	}
	return c.loadModule(path, image)
}

func (c *Client) loadModule(name string, image []byte) (*Module, error) {
	loader, ok := c.driver.(driver.ModuleLoader)
	if !ok {
		return nil, errors.Errorf("driver %T doesn't support loading modules", c.driver)
	}
	if len(image) > 0 && image[len(image)-1] != 0 {
		// PTX images are required to be null-terminated.
		image = append(image[:len(image):len(image)], 0)
	}
	handle, status := loader.ModuleLoadData(image)
	if err := statusErrorf(DeviceError, status, "failed to load module %q", name); err != nil {
		return nil, err
	}
	klog.V(1).Infof("loaded module %q (%d bytes) as %#x", name, len(image), uintptr(handle))
	return &Module{client: c, handle: handle, name: name, owned: true}, nil
}

// WrapModule creates a Module for a module handle loaded elsewhere. Unload on the returned Module
// is a no-op: the module lifetime is managed by whoever loaded it.
func (c *Client) WrapModule(handle driver.Module, name string) *Module {
	return &Module{client: c, handle: handle, name: name}
}

// Client that loaded the Module.
func (m *Module) Client() *Client { return m.client }

// Handle returns the driver handle of the module.
func (m *Module) Handle() driver.Module { return m.handle }

// Name of the module: the file it was loaded from, or the name given to WrapModule.
func (m *Module) Name() string { return m.name }

// String implements fmt.Stringer.
func (m *Module) String() string {
	return fmt.Sprintf("Module[%q, %#x]", m.name, uintptr(m.handle))
}

func (m *Module) checkLoaded() error {
	if m == nil {
		return newErrorf(ValidationError, "Module is nil")
	}
	if m.unloaded.Load() {
		return newErrorf(ValidationError, "%s was already unloaded", m)
	}
	return nil
}

// Function returns the kernel with the given name.
func (m *Module) Function(name string) (*Function, error) {
	if err := m.checkLoaded(); err != nil {
		return nil, err
	}
	loader, ok := m.client.driver.(driver.ModuleLoader)
	if !ok {
		return nil, errors.Errorf("driver %T doesn't support resolving module functions", m.client.driver)
	}
	handle, status := loader.ModuleGetFunction(m.handle, name)
	if status == driver.ErrorNotFound {
		return nil, statusErrorf(SymbolNotFound, status, "function %q not found in %s", name, m)
	}
	if err := statusErrorf(DeviceError, status, "failed to resolve function %q in %s", name, m); err != nil {
		return nil, err
	}
	return newFunction(m, handle, name), nil
}

// Unload the module. Functions and globals resolved from it can no longer be used.
// It's a no-op for modules created with WrapModule, or if it was already unloaded.
func (m *Module) Unload() error {
	if !m.owned || !m.unloaded.CompareAndSwap(false, true) {
		return nil
	}
	loader := m.client.driver.(driver.ModuleLoader)
	if err := statusErrorf(DeviceError, loader.ModuleUnload(m.handle), "failed to unload %s", m); err != nil {
		return err
	}
	klog.V(1).Infof("unloaded %s", m)
	return nil
}
