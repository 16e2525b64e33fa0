package cuda

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gocuda/driver"
	"k8s.io/klog/v2"
)

// Buffer is a reference-counted region of device memory.
//
// A Buffer is shared by its owners (Arrays, views, or explicit Retain callers): each owner holds
// one reference, and the device memory is freed once, when the last reference is released, and
// only if the context that allocated it is still valid -- a destroyed context already reclaimed
// its memory.
//
// Buffers that wrap memory owned by someone else (e.g. a module global) are never freed.
//
// The address, size and context of a Buffer never change. Only the reference count does, and it
// is safe to Retain and Release concurrently.
type Buffer struct {
	client *Client
	ptr    driver.DevicePtr
	size   int
	ctx    driver.ContextID
	owned  bool

	refs  atomic.Int64
	freed atomic.Bool
}

// DevicePointer is implemented by values that refer to a device memory location. They are
// converted to their raw device address when passed as a kernel argument.
type DevicePointer interface {
	DevicePtr() driver.DevicePtr
}

var buffersAlive atomic.Int64

// BuffersAlive returns the number of Buffers with live references, across all clients.
func BuffersAlive() int64 {
	return buffersAlive.Load()
}

func newBuffer(client *Client, ptr driver.DevicePtr, size int, ctx driver.ContextID, owned bool) *Buffer {
	b := &Buffer{client: client, ptr: ptr, size: size, ctx: ctx, owned: owned}
	b.refs.Store(1)
	buffersAlive.Add(1)
	return b
}

// Allocate requests byteSize bytes of device memory in the current context.
// The returned Buffer has a reference count of 1, held by the caller.
func (c *Client) Allocate(byteSize int) (*Buffer, error) {
	if byteSize <= 0 {
		return nil, newErrorf(ValidationError, "Allocate requires a positive number of bytes, got %d", byteSize)
	}
	ctx := c.driver.CurrentContext()
	ptr, status := c.driver.MemAlloc(byteSize)
	if status == driver.ErrorOutOfMemory {
		return nil, statusErrorf(OutOfMemory, status, "failed to allocate %s on device", humanize.Bytes(uint64(byteSize)))
	}
	if status != driver.Success {
		return nil, statusErrorf(DeviceError, status, "failed to allocate %d bytes on device", byteSize)
	}
	if klog.V(1).Enabled() {
		klog.Infof("allocated %d bytes at %#x (context %#x)", byteSize, uintptr(ptr), uintptr(ctx))
	}
	return newBuffer(c, ptr, byteSize, ctx, true), nil
}

// WrapBuffer creates a Buffer for existing device memory, with a reference count of 1.
//
// If owned is true, the memory is freed (with the driver's MemFree) when the last reference is
// released, as if it had been allocated with Allocate. Otherwise its lifetime is managed by someone
// else and it is never freed.
func (c *Client) WrapBuffer(ptr driver.DevicePtr, byteSize int, ctx driver.ContextID, owned bool) (*Buffer, error) {
	if ptr == 0 {
		return nil, newErrorf(ValidationError, "WrapBuffer given a null device pointer")
	}
	if byteSize <= 0 {
		return nil, newErrorf(ValidationError, "WrapBuffer requires a positive number of bytes, got %d", byteSize)
	}
	return newBuffer(c, ptr, byteSize, ctx, owned), nil
}

// Client that created the Buffer.
func (b *Buffer) Client() *Client { return b.client }

// Ptr returns the device address of the Buffer.
func (b *Buffer) Ptr() driver.DevicePtr { return b.ptr }

// DevicePtr implements DevicePointer.
func (b *Buffer) DevicePtr() driver.DevicePtr { return b.ptr }

// Size returns the size of the Buffer in bytes.
func (b *Buffer) Size() int { return b.size }

// Context returns the context that owns the Buffer memory.
func (b *Buffer) Context() driver.ContextID { return b.ctx }

// IsOwned returns whether the Buffer frees its memory when its last reference is released.
func (b *Buffer) IsOwned() bool { return b.owned }

// RefCount returns the current number of references. Only meaningful for debugging and tests.
func (b *Buffer) RefCount() int64 { return b.refs.Load() }

// String implements fmt.Stringer.
func (b *Buffer) String() string {
	if b == nil {
		return "Buffer(nil)"
	}
	return fmt.Sprintf("Buffer[%#x, %s, refs=%d]", uintptr(b.ptr), humanize.Bytes(uint64(b.size)), b.refs.Load())
}

// Retain adds a reference to the Buffer. It never fails.
func (b *Buffer) Retain() {
	if b.refs.Add(1) == 1 {
		// Someone is holding a pointer to a Buffer whose last reference was already released.
		// It's counted alive again, so the next Release balances BuffersAlive.
		buffersAlive.Add(1)
		klog.Errorf("cuda.Buffer.Retain() called on %s, after its last reference was released", b)
	}
}

// Release drops one reference and returns whether it was the last one, in which case the caller
// should call Free.
//
// Releasing a Buffer with no references is logged and returns false: the count never goes negative.
func (b *Buffer) Release() bool {
	for {
		refs := b.refs.Load()
		if refs <= 0 {
			klog.Warningf("cuda.Buffer.Release() called on %s with no references left", b)
			return false
		}
		if b.refs.CompareAndSwap(refs, refs-1) {
			if refs == 1 {
				buffersAlive.Add(-1)
				return true
			}
			return false
		}
	}
}

// Free releases the device memory of a Buffer whose reference count reached zero.
//
// It's a no-op if the memory was already freed, if the Buffer doesn't own its memory, or if the
// owning context is no longer valid, in which case the memory was reclaimed with the context.
func (b *Buffer) Free() error {
	if refs := b.refs.Load(); refs > 0 {
		return newErrorf(ValidationError, "can't free %s, it still has %d references", b, refs)
	}
	if !b.freed.CompareAndSwap(false, true) {
		return nil
	}
	if !b.owned {
		return nil
	}
	drv := b.client.driver
	if !drv.ContextIsValid(b.ctx) {
		klog.V(1).Infof("skipping free of %s: context %#x is no longer valid", b, uintptr(b.ctx))
		return nil
	}
	if err := statusErrorf(DeviceError, drv.MemFree(b.ptr), "failed to free %s", b); err != nil {
		return err
	}
	klog.V(1).Infof("freed %d bytes at %#x", b.size, uintptr(b.ptr))
	return nil
}

// releaseOrLog releases one reference and frees the Buffer if it was the last one.
// Errors (and panics from the driver) are logged, never returned: it is used from cleanups and
// Destroy methods that have no caller to report to.
func (b *Buffer) releaseOrLog() {
	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("cuda.Buffer release of %s panicked: %v", b, r)
		}
	}()
	if !b.Release() {
		return
	}
	if err := b.Free(); err != nil {
		klog.Errorf("cuda.Buffer.Free failed: %+v", err)
	}
}

// checkLive returns an error if the Buffer has no references left.
func (b *Buffer) checkLive() error {
	if b == nil {
		return newErrorf(ValidationError, "Buffer is nil")
	}
	if b.refs.Load() <= 0 || b.freed.Load() {
		return newErrorf(ValidationError, "%s has already been released", b)
	}
	return nil
}

func (b *Buffer) checkTransferSize(op string, size int, other int) error {
	if size < 0 {
		return newErrorf(TransferError, "%s: negative transfer size %d", op, size)
	}
	if size > b.size || size > other {
		return newErrorf(TransferError, "%s: transfer of %d bytes exceeds capacity (device %d bytes, other endpoint %d bytes)", op, size, b.size, other)
	}
	return nil
}

// Upload copies size bytes from host memory at src to the start of the Buffer, blocking until done.
//
// src must point to at least size bytes of host memory.
func (b *Buffer) Upload(src unsafe.Pointer, size int) error {
	if err := b.checkLive(); err != nil {
		return err
	}
	if err := b.checkTransferSize("Upload", size, size); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	var pinner runtime.Pinner
	pinner.Pin(src)
	defer pinner.Unpin()
	return statusErrorf(TransferError, b.client.driver.MemcpyHtoD(b.ptr, src, size),
		"failed to upload %d bytes to %s", size, b)
}

// Download copies size bytes from the start of the Buffer to host memory at dst, blocking until done.
//
// dst must point to at least size bytes of host memory.
func (b *Buffer) Download(dst unsafe.Pointer, size int) error {
	if err := b.checkLive(); err != nil {
		return err
	}
	if err := b.checkTransferSize("Download", size, size); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	var pinner runtime.Pinner
	pinner.Pin(dst)
	defer pinner.Unpin()
	return statusErrorf(TransferError, b.client.driver.MemcpyDtoH(dst, b.ptr, size),
		"failed to download %d bytes from %s", size, b)
}

// UploadBytes copies data to the start of the Buffer. It fails with TransferError if data is larger than the Buffer.
func (b *Buffer) UploadBytes(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return b.Upload(unsafe.Pointer(unsafe.SliceData(data)), len(data))
}

// DownloadBytes fills data from the start of the Buffer. It fails with TransferError if data is larger than the Buffer.
func (b *Buffer) DownloadBytes(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return b.Download(unsafe.Pointer(unsafe.SliceData(data)), len(data))
}

// Transfer copies size bytes from src to the Buffer, both on device, blocking until done.
func (b *Buffer) Transfer(src *Buffer, size int) error {
	if err := b.checkLive(); err != nil {
		return err
	}
	if err := src.checkLive(); err != nil {
		return err
	}
	if err := b.checkTransferSize("Transfer", size, src.size); err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	return statusErrorf(TransferError, b.client.driver.MemcpyDtoD(b.ptr, src.ptr, size),
		"failed to transfer %d bytes from %s to %s", size, src, b)
}
