package cuda

import (
	"testing"

	"github.com/gomlx/gocuda/driver"
	"github.com/gomlx/gocuda/driver/fakedriver"
	"github.com/stretchr/testify/require"
)

func TestGlobals(t *testing.T) {
	client, d := newTestClient(t, nil)
	handle := d.NewModule()
	counterPtr := d.AddGlobal(handle, "counter", 4)
	d.AddGlobal(handle, "params", 12)
	module := client.WrapModule(handle, "test")

	counter, err := ResolveGlobal[int32](module, "counter")
	require.NoError(t, err)
	require.Equal(t, "counter", counter.Name())
	require.Equal(t, counterPtr, counter.Ptr())
	require.Equal(t, 4, counter.Size())
	require.Same(t, module, counter.Module())

	value, err := counter.Get()
	require.NoError(t, err)
	require.Equal(t, int32(0), value)
	require.NoError(t, counter.Set(-17))
	value, err = counter.Get()
	require.NoError(t, err)
	require.Equal(t, int32(-17), value)
	onDevice, status := fakedriver.Slice[int32](d, counterPtr, 1)
	require.True(t, status.Ok())
	require.Equal(t, []int32{-17}, onDevice)

	again, err := ResolveGlobal[int32](module, "counter")
	require.NoError(t, err)
	require.True(t, counter.Equal(again))

	type params struct {
		Scale  float32
		Offset float32
		Steps  uint32
	}
	p, err := ResolveGlobal[params](module, "params")
	require.NoError(t, err)
	require.NoError(t, p.Set(params{Scale: 2, Offset: 0.5, Steps: 10}))
	got, err := p.Get()
	require.NoError(t, err)
	require.Equal(t, params{Scale: 2, Offset: 0.5, Steps: 10}, got)

	// Globals are never freed.
	require.Equal(t, 0, d.Frees())
}

func TestGlobalErrors(t *testing.T) {
	client, d := newTestClient(t, nil)
	handle := d.NewModule()
	d.AddGlobal(handle, "counter", 4)
	module := client.WrapModule(handle, "test")

	_, err := ResolveGlobal[int64](module, "counter")
	require.ErrorIs(t, err, SizeMismatch)
	require.ErrorIs(t, err, ValidationError)

	_, err = ResolveGlobal[int32](module, "missing")
	require.ErrorIs(t, err, SymbolNotFound)
	require.Equal(t, driver.ErrorNotFound, StatusOf(err))

	_, err = ResolveGlobal[string](module, "counter")
	require.ErrorIs(t, err, ValidationError)

	// An unknown module handle is a device error.
	_, err = ResolveGlobal[int32](client.WrapModule(handle+1000, "bogus"), "counter")
	require.ErrorIs(t, err, DeviceError)
	require.Equal(t, driver.ErrorInvalidHandle, StatusOf(err))
}
