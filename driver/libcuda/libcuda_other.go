//go:build !linux

package libcuda

import (
	"runtime"

	"github.com/pkg/errors"
)

// Driver is only available on linux.
type Driver struct{}

// Open is only supported on linux: it always returns an error.
func Open(ordinal int) (*Driver, error) {
	return nil, errors.Errorf("libcuda.Open(%d): the CUDA driver is not supported on %s", ordinal, runtime.GOOS)
}

// Close is a no-op.
func (d *Driver) Close() error { return nil }

// HasNvidiaGPU always returns false.
func HasNvidiaGPU() bool { return false }

// SearchPaths returns no paths.
func SearchPaths() []string { return nil }

// LibraryPath returns "".
func LibraryPath() string { return "" }

// DeviceCount always returns an error.
func DeviceCount() (int, error) {
	return 0, errors.Errorf("the CUDA driver is not supported on %s", runtime.GOOS)
}

// Devices always returns an error.
func Devices() ([]DeviceInfo, error) {
	_, err := DeviceCount()
	return nil, err
}
