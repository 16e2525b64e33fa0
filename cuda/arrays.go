package cuda

import (
	"fmt"
	"math"
	"reflect"
	"runtime"
	"slices"
	"strings"
	"sync/atomic"
	"unsafe"

	"github.com/gomlx/gocuda/driver"
	"github.com/gomlx/gocuda/dtypes"
)

// Array is a typed, shaped view over a Buffer of device memory holding elements of type T.
//
// T must be fixed-layout: a scalar, or an array or struct built only from scalars, so it can be
// copied byte-for-byte between host and device. The dimensions are fixed at construction.
//
// Each Array holds one reference to its Buffer, released by Destroy or, if Destroy is never
// called, when the Array is garbage collected. Several Arrays (see Reshape and NewArrayFromBuffer)
// can share the same Buffer.
type Array[T any] struct {
	client *Client
	dims   []int
	size   int

	// ref is nil for empty arrays, which hold no device memory.
	ref *arrayRef
}

// arrayRef is the reference an Array holds on its Buffer. It is kept separate from the Array so
// it can be released by a cleanup function after the Array is collected.
type arrayRef struct {
	buffer   *Buffer
	released atomic.Bool
}

func (r *arrayRef) release() {
	if r.released.CompareAndSwap(false, true) {
		r.buffer.releaseOrLog()
	}
}

// newArrayWithRef takes ownership of one reference of buffer (which can be nil for empty arrays).
func newArrayWithRef[T any](client *Client, buffer *Buffer, dims []int, size int) *Array[T] {
	a := &Array[T]{client: client, dims: dims, size: size}
	if buffer != nil {
		a.ref = &arrayRef{buffer: buffer}
		runtime.AddCleanup(a, func(ref *arrayRef) { ref.release() }, a.ref)
	}
	return a
}

// validateDims returns the number of elements of an array with the given dimensions, whose elements
// have elemSize bytes. A scalar (no dims) has one element.
//
// The number of elements and the size in bytes must both fit in an int.
func validateDims(client *Client, dims []int, elemSize int) (int, error) {
	size := 1
	for axis, dim := range dims {
		if dim < 0 || (dim == 0 && !client.allowEmptyArrays) {
			return 0, newErrorf(ValidationError, "invalid dimension %d for axis #%d in dimensions %v (option %q is %v)",
				dim, axis, dims, OptionAllowEmptyArrays, client.allowEmptyArrays)
		}
		if dim > 0 && size > math.MaxInt/dim {
			return 0, newErrorf(ValidationError, "dimensions %v overflow the number of elements", dims)
		}
		size *= dim
	}
	if size > 0 && size > math.MaxInt/elemSize {
		return 0, newErrorf(ValidationError, "dimensions %v with elements of %d bytes overflow the size in bytes", dims, elemSize)
	}
	return size, nil
}

// NewArray allocates an uninitialized Array of T with the given dimensions.
//
// Zero dimensions are only accepted if the client was created with OptionAllowEmptyArrays.
func NewArray[T any](client *Client, dims ...int) (*Array[T], error) {
	if err := checkLayout[T](); err != nil {
		return nil, err
	}
	dims = slices.Clone(dims)
	size, err := validateDims(client, dims, sizeOf[T]())
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return newArrayWithRef[T](client, nil, dims, 0), nil
	}
	buffer, err := client.Allocate(size * sizeOf[T]())
	if err != nil {
		return nil, err
	}
	return newArrayWithRef[T](client, buffer, dims, size), nil
}

// NewArrayFromBuffer creates an Array over an existing Buffer, whose size must be exactly the one
// required by the dimensions. The Array takes a new reference to the buffer: the caller keeps its own.
func NewArrayFromBuffer[T any](buffer *Buffer, dims ...int) (*Array[T], error) {
	if err := checkLayout[T](); err != nil {
		return nil, err
	}
	if err := buffer.checkLive(); err != nil {
		return nil, err
	}
	dims = slices.Clone(dims)
	size, err := validateDims(buffer.client, dims, sizeOf[T]())
	if err != nil {
		return nil, err
	}
	if byteSize := size * sizeOf[T](); byteSize != buffer.size {
		return nil, newErrorf(SizeMismatch, "%s can't hold an Array[%s] with dimensions %v: it requires %d bytes",
			buffer, reflect.TypeFor[T](), dims, byteSize)
	}
	buffer.Retain()
	return newArrayWithRef[T](buffer.client, buffer, dims, size), nil
}

// NewArrayFromHost allocates an Array with the given dimensions and copies flat to it.
// If no dimensions are given, it creates a 1D Array with len(flat) elements.
func NewArrayFromHost[T any](client *Client, flat []T, dims ...int) (*Array[T], error) {
	if len(dims) == 0 {
		dims = []int{len(flat)}
	}
	a, err := NewArray[T](client, dims...)
	if err != nil {
		return nil, err
	}
	if err = a.CopyFromHost(flat); err != nil {
		a.Destroy()
		return nil, err
	}
	return a, nil
}

// buffer returns the Buffer of a live Array, or nil if it is empty or destroyed.
func (a *Array[T]) buffer() *Buffer {
	if a == nil || a.ref == nil || a.ref.released.Load() {
		return nil
	}
	return a.ref.buffer
}

// checkUsable returns an error if the Array was destroyed.
func (a *Array[T]) checkUsable() error {
	if a == nil {
		return newErrorf(ValidationError, "Array is nil")
	}
	if a.ref != nil && a.ref.released.Load() {
		return newErrorf(ValidationError, "%s has already been destroyed", a)
	}
	return nil
}

// Client used to create the Array.
func (a *Array[T]) Client() *Client { return a.client }

// Dimensions of the Array. The returned slice is owned by the Array, don't change it.
func (a *Array[T]) Dimensions() []int { return a.dims }

// Rank is the number of dimensions.
func (a *Array[T]) Rank() int { return len(a.dims) }

// Size is the number of elements.
func (a *Array[T]) Size() int { return a.size }

// ByteSize is the size of the Array in device memory.
func (a *Array[T]) ByteSize() int { return a.size * sizeOf[T]() }

// DType of the elements, or dtypes.InvalidDType if T is not a scalar.
func (a *Array[T]) DType() dtypes.DType { return dtypes.FromGoType(reflect.TypeFor[T]()) }

// Buffer returns the Buffer holding the Array data, or nil for empty or destroyed Arrays.
// The returned Buffer is not retained: call Buffer.Retain to keep it beyond the Array's lifetime.
func (a *Array[T]) Buffer() *Buffer { return a.buffer() }

// DevicePtr returns the device address of the first element, or 0 for empty or destroyed Arrays.
// It implements DevicePointer.
func (a *Array[T]) DevicePtr() driver.DevicePtr {
	if b := a.buffer(); b != nil {
		return b.ptr
	}
	return 0
}

// elemType is used by the launch marshaler to check typed pointer parameters.
func (a *Array[T]) elemType() reflect.Type { return reflect.TypeFor[T]() }

// Equal returns whether both Arrays refer to the same Buffer. It doesn't compare contents.
func (a *Array[T]) Equal(other *Array[T]) bool {
	b := a.buffer()
	return b != nil && b == other.buffer()
}

// String implements fmt.Stringer.
func (a *Array[T]) String() string {
	if a == nil {
		return "Array(nil)"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Array[%s]%v", reflect.TypeFor[T](), a.dims)
	switch {
	case a.ref == nil:
		sb.WriteString(" (empty)")
	case a.ref.released.Load():
		sb.WriteString(" (destroyed)")
	default:
		fmt.Fprintf(&sb, " @ %#x", uintptr(a.ref.buffer.ptr))
	}
	return sb.String()
}

// CopyFromHost copies src to the Array, blocking until done. src must have exactly Size elements,
// or a LengthMismatch is returned and nothing is copied.
func (a *Array[T]) CopyFromHost(src []T) error {
	if err := a.checkUsable(); err != nil {
		return err
	}
	if len(src) != a.size {
		return newErrorf(LengthMismatch, "can't copy %d elements from host to %s with %d elements", len(src), a, a.size)
	}
	if a.size == 0 {
		return nil
	}
	defer runtime.KeepAlive(a)
	return a.ref.buffer.Upload(unsafe.Pointer(unsafe.SliceData(src)), a.ByteSize())
}

// CopyToHost copies the Array contents to dst, blocking until done. dst must have exactly Size
// elements, or a LengthMismatch is returned and nothing is copied.
func (a *Array[T]) CopyToHost(dst []T) error {
	if err := a.checkUsable(); err != nil {
		return err
	}
	if len(dst) != a.size {
		return newErrorf(LengthMismatch, "can't copy %s with %d elements to a host slice of %d elements", a, a.size, len(dst))
	}
	if a.size == 0 {
		return nil
	}
	defer runtime.KeepAlive(a)
	return a.ref.buffer.Download(unsafe.Pointer(unsafe.SliceData(dst)), a.ByteSize())
}

// ToHost returns a new slice with the Array contents.
func (a *Array[T]) ToHost() ([]T, error) {
	if err := a.checkUsable(); err != nil {
		return nil, err
	}
	dst := make([]T, a.size)
	if err := a.CopyToHost(dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// CopyFrom copies, on device, the contents of src to the Array. Both must have the same number of
// elements, or a LengthMismatch is returned and nothing is copied. Dimensions are not compared.
func (a *Array[T]) CopyFrom(src *Array[T]) error {
	if err := a.checkUsable(); err != nil {
		return err
	}
	if err := src.checkUsable(); err != nil {
		return err
	}
	if src.size != a.size {
		return newErrorf(LengthMismatch, "can't copy %s with %d elements to %s with %d elements", src, src.size, a, a.size)
	}
	if a.size == 0 {
		return nil
	}
	defer runtime.KeepAlive(a)
	defer runtime.KeepAlive(src)
	return a.ref.buffer.Transfer(src.ref.buffer, a.ByteSize())
}

// Reshape returns a new Array sharing the same Buffer with different dimensions, holding the same
// number of elements. Both Arrays must be destroyed independently.
func (a *Array[T]) Reshape(dims ...int) (*Array[T], error) {
	if err := a.checkUsable(); err != nil {
		return nil, err
	}
	dims = slices.Clone(dims)
	size, err := validateDims(a.client, dims, sizeOf[T]())
	if err != nil {
		return nil, err
	}
	if size != a.size {
		return nil, newErrorf(LengthMismatch, "can't reshape %s with %d elements to dimensions %v with %d elements", a, a.size, dims, size)
	}
	b := a.buffer()
	if b == nil {
		return newArrayWithRef[T](a.client, nil, dims, 0), nil
	}
	b.Retain()
	runtime.KeepAlive(a)
	return newArrayWithRef[T](a.client, b, dims, size), nil
}

// Destroy releases the Array's reference to its Buffer, freeing the device memory if it was the
// last one. It's idempotent, and afterwards the Array can no longer be used.
//
// If not called, the reference is released when the Array is garbage collected.
// Errors are logged, not returned.
func (a *Array[T]) Destroy() {
	if a == nil || a.ref == nil {
		return
	}
	a.ref.release()
}
