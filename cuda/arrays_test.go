package cuda

import (
	"math"
	"runtime"
	"testing"
	"time"

	"github.com/gomlx/gocuda/driver/fakedriver"
	"github.com/gomlx/gocuda/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestArrayRoundTrip(t *testing.T) {
	client, d := newTestClient(t, nil)
	input := []float32{1, 2, 3, 4, 5, 6}
	a, err := NewArrayFromHost(client, input, 2, 3)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, a.Dimensions())
	require.Equal(t, 2, a.Rank())
	require.Equal(t, 6, a.Size())
	require.Equal(t, 24, a.ByteSize())
	require.Equal(t, 24, a.Buffer().Size())
	require.Equal(t, dtypes.Float32, a.DType())

	got, err := a.ToHost()
	require.NoError(t, err)
	require.Equal(t, input, got)

	// The device memory holds the values in flat order.
	onDevice, status := fakedriver.Slice[float32](d, a.DevicePtr(), 6)
	require.True(t, status.Ok())
	require.Equal(t, input, onDevice)

	a.Destroy()
	require.Equal(t, 1, d.Frees())
}

func testArrayRoundTripOf[T any](t *testing.T, client *Client, values []T) {
	a, err := NewArrayFromHost(client, values)
	require.NoError(t, err)
	defer a.Destroy()
	require.Equal(t, []int{len(values)}, a.Dimensions())
	got := make([]T, len(values))
	require.NoError(t, a.CopyToHost(got))
	require.Equal(t, values, got)
}

func TestArrayElementTypes(t *testing.T) {
	client, _ := newTestClient(t, nil)
	testArrayRoundTripOf(t, client, []int8{-1, 2, -3})
	testArrayRoundTripOf(t, client, []uint64{1 << 40, 7})
	testArrayRoundTripOf(t, client, []float64{0.5, -0.25})
	testArrayRoundTripOf(t, client, []complex64{1 + 2i, 3 - 4i})
	testArrayRoundTripOf(t, client, []float16.Float16{float16.Fromfloat32(1.5), float16.Fromfloat32(-2)})
	testArrayRoundTripOf(t, client, []bool{true, false, true})

	// Nested aggregates of scalars are fixed-layout.
	type vec3 struct{ X, Y, Z float32 }
	type particle struct {
		Pos, Vel vec3
		Tags     [2]uint16
		ID       int32
	}
	testArrayRoundTripOf(t, client, []particle{
		{Pos: vec3{1, 2, 3}, Vel: vec3{-1, 0, 1}, Tags: [2]uint16{7, 8}, ID: 11},
		{ID: 12},
	})
}

func TestArrayLayoutValidation(t *testing.T) {
	client, d := newTestClient(t, nil)
	_, err := NewArray[*float32](client, 4)
	require.ErrorIs(t, err, ValidationError)

	type withString struct {
		Count int32
		Name  string
	}
	_, err = NewArray[withString](client, 4)
	require.ErrorIs(t, err, ValidationError)
	require.ErrorContains(t, err, "withString.Name")

	type nested struct {
		Inner struct{ Values []float32 }
	}
	_, err = NewArray[nested](client, 4)
	require.ErrorIs(t, err, ValidationError)
	require.ErrorContains(t, err, "Inner.Values")

	_, err = NewArray[struct{}](client, 4)
	require.ErrorIs(t, err, ValidationError)

	_, err = NewArray[[2]any](client, 4)
	require.ErrorIs(t, err, ValidationError)

	require.Equal(t, 0, d.Allocs())
}

func TestArrayLengthMismatch(t *testing.T) {
	client, d := newTestClient(t, nil)
	a, err := NewArrayFromHost(client, []int32{1, 2, 3, 4})
	require.NoError(t, err)

	err = a.CopyFromHost([]int32{9, 9, 9, 9, 9})
	require.ErrorIs(t, err, LengthMismatch)
	require.ErrorIs(t, err, ValidationError)
	err = a.CopyToHost(make([]int32, 3))
	require.ErrorIs(t, err, LengthMismatch)

	// Nothing was copied.
	onDevice, status := fakedriver.Slice[int32](d, a.DevicePtr(), 4)
	require.True(t, status.Ok())
	require.Equal(t, []int32{1, 2, 3, 4}, onDevice)

	b, err := NewArray[int32](client, 5)
	require.NoError(t, err)
	require.ErrorIs(t, b.CopyFrom(a), LengthMismatch)

	_, err = NewArrayFromHost(client, []int32{1, 2, 3}, 2, 2)
	require.ErrorIs(t, err, LengthMismatch)
}

func TestArrayCopyFrom(t *testing.T) {
	client, _ := newTestClient(t, nil)
	src, err := NewArrayFromHost(client, []float64{1, 2, 3, 4}, 2, 2)
	require.NoError(t, err)
	dst, err := NewArray[float64](client, 4)
	require.NoError(t, err)
	require.NoError(t, dst.CopyFrom(src))
	got, err := dst.ToHost()
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2, 3, 4}, got)
	require.False(t, dst.Equal(src))
}

func TestArraySharingAndDestroy(t *testing.T) {
	client, d := newTestClient(t, nil)
	a, err := NewArrayFromHost(client, []uint8{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	b, err := a.Reshape(3, 2)
	require.NoError(t, err)
	require.Equal(t, []int{3, 2}, b.Dimensions())
	require.True(t, a.Equal(b))
	require.True(t, b.Equal(a))
	require.Same(t, a.Buffer(), b.Buffer())
	require.EqualValues(t, 2, a.Buffer().RefCount())

	// Same contents, different buffer.
	c, err := NewArrayFromHost(client, []uint8{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	require.False(t, a.Equal(c))

	_, err = a.Reshape(4, 2)
	require.ErrorIs(t, err, LengthMismatch)

	buffer := a.Buffer()
	a.Destroy()
	a.Destroy()
	require.EqualValues(t, 1, buffer.RefCount())
	require.Equal(t, 0, d.FreesOf(buffer.Ptr()))
	require.False(t, a.Equal(b))
	require.Zero(t, a.DevicePtr())
	require.Contains(t, a.String(), "destroyed")
	require.ErrorIs(t, a.CopyFromHost(make([]uint8, 6)), ValidationError)
	_, err = a.ToHost()
	require.ErrorIs(t, err, ValidationError)

	got, err := b.ToHost()
	require.NoError(t, err)
	require.Equal(t, []uint8{1, 2, 3, 4, 5, 6}, got)
	b.Destroy()
	require.Equal(t, 1, d.FreesOf(buffer.Ptr()))
	c.Destroy()
	require.Equal(t, 0, d.LiveAllocations())
}

func TestNewArrayFromBuffer(t *testing.T) {
	client, d := newTestClient(t, nil)
	buffer, err := client.Allocate(16)
	require.NoError(t, err)

	a, err := NewArrayFromBuffer[float32](buffer, 2, 2)
	require.NoError(t, err)
	require.EqualValues(t, 2, buffer.RefCount())
	require.Equal(t, buffer.Ptr(), a.DevicePtr())

	_, err = NewArrayFromBuffer[float32](buffer, 5)
	require.ErrorIs(t, err, SizeMismatch)
	require.ErrorIs(t, err, ValidationError)
	_, err = NewArrayFromBuffer[float64](buffer, 4)
	require.ErrorIs(t, err, SizeMismatch)
	require.EqualValues(t, 2, buffer.RefCount())

	// Releasing the caller's reference leaves the array usable.
	buffer.releaseOrLog()
	require.NoError(t, a.CopyFromHost([]float32{1, 2, 3, 4}))
	require.Equal(t, 0, d.Frees())
	a.Destroy()
	require.Equal(t, 1, d.Frees())

	_, err = NewArrayFromBuffer[float32](buffer, 4)
	require.ErrorIs(t, err, ValidationError)
}

func TestEmptyArrays(t *testing.T) {
	client, d := newTestClient(t, nil)
	_, err := NewArray[float32](client, 3, 0)
	require.ErrorIs(t, err, ValidationError)
	_, err = NewArray[float32](client, -1)
	require.ErrorIs(t, err, ValidationError)

	client, d = newTestClient(t, NamedValuesMap{OptionAllowEmptyArrays: true})
	a, err := NewArray[float32](client, 3, 0)
	require.NoError(t, err)
	require.Equal(t, 0, a.Size())
	require.Nil(t, a.Buffer())
	require.Zero(t, a.DevicePtr())
	require.Contains(t, a.String(), "empty")
	got, err := a.ToHost()
	require.NoError(t, err)
	require.Empty(t, got)
	require.NoError(t, a.CopyFromHost(nil))
	a.Destroy()
	require.Equal(t, 0, d.Allocs())

	// Empty arrays don't share anything.
	b, err := NewArray[float32](client, 0)
	require.NoError(t, err)
	require.False(t, a.Equal(b))
}

func TestArrayDimensionsOverflow(t *testing.T) {
	client, d := newTestClient(t, nil)
	_, err := NewArray[float32](client, math.MaxInt/2+1, 2)
	require.ErrorIs(t, err, ValidationError)
	require.ErrorContains(t, err, "overflow")

	// The number of elements fits, the size in bytes doesn't.
	_, err = NewArray[float32](client, math.MaxInt/2)
	require.ErrorIs(t, err, ValidationError)
	_, err = NewArray[float32](client, 1<<16, 1<<16, 1<<16, 1<<16)
	require.ErrorIs(t, err, ValidationError)
	require.Equal(t, 0, d.Allocs())

	buffer, err := client.Allocate(8)
	require.NoError(t, err)
	_, err = NewArrayFromBuffer[float64](buffer, math.MaxInt/8+1)
	require.ErrorIs(t, err, ValidationError)
	require.Equal(t, int64(1), buffer.RefCount())

	a, err := NewArrayFromBuffer[float64](buffer, 1)
	require.NoError(t, err)
	_, err = a.Reshape(math.MaxInt/2+1, 2)
	require.ErrorIs(t, err, ValidationError)
	a.Destroy()
	buffer.releaseOrLog()
}

func TestScalarArray(t *testing.T) {
	client, _ := newTestClient(t, nil)
	a, err := NewArrayFromHost(client, []int64{42}, []int{}...)
	require.NoError(t, err)
	require.Equal(t, []int{1}, a.Dimensions())

	s, err := NewArray[int64](client)
	require.NoError(t, err)
	require.Equal(t, 0, s.Rank())
	require.Equal(t, 1, s.Size())
	require.NoError(t, s.CopyFrom(a))
	got, err := s.ToHost()
	require.NoError(t, err)
	require.Equal(t, []int64{42}, got)
}

// allocateAndDrop creates an Array and drops the only reference to it.
func allocateAndDrop(t *testing.T, client *Client) {
	a, err := NewArray[float32](client, 1024)
	require.NoError(t, err)
	require.NotZero(t, a.DevicePtr())
}

func TestArrayGarbageCollected(t *testing.T) {
	client, d := newTestClient(t, nil)
	allocateAndDrop(t, client)
	require.Equal(t, 1, d.LiveAllocations())
	assert.Eventually(t, func() bool {
		runtime.GC()
		return d.LiveAllocations() == 0
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, d.Frees())
}
