package cuda

import (
	"testing"

	"github.com/gomlx/gocuda/driver/fakedriver"
	"github.com/stretchr/testify/require"
)

// newTestClient creates a Client over a new fake driver.
func newTestClient(t *testing.T, options NamedValuesMap) (*Client, *fakedriver.Driver) {
	t.Helper()
	d := fakedriver.New()
	client, err := NewClient(d, options)
	require.NoError(t, err)
	return client, d
}

func TestNewClient(t *testing.T) {
	client, d := newTestClient(t, nil)
	require.Same(t, d, client.Driver())
	require.False(t, client.AllowEmptyArrays())
	require.Contains(t, client.String(), "fakedriver.Driver")
	require.NoError(t, client.Synchronize())

	client, _ = newTestClient(t, NamedValuesMap{
		OptionAllowEmptyArrays:    true,
		OptionDefaultSharedMemory: int64(1024),
	})
	require.True(t, client.AllowEmptyArrays())
	require.Equal(t, uint32(1024), client.defaultSharedMemory)

	_, err := NewClient(nil, nil)
	require.Error(t, err)

	// Unsupported value type.
	_, err = NewClient(fakedriver.New(), NamedValuesMap{OptionAllowEmptyArrays: 1})
	require.Error(t, err)

	// Supported type, but not for this option.
	_, err = NewClient(fakedriver.New(), NamedValuesMap{OptionAllowEmptyArrays: "yes"})
	require.ErrorContains(t, err, OptionAllowEmptyArrays)

	_, err = NewClient(fakedriver.New(), NamedValuesMap{"no_such_option": true})
	require.ErrorContains(t, err, "no_such_option")

	_, err = NewClient(fakedriver.New(), NamedValuesMap{OptionDefaultSharedMemory: int64(-1)})
	require.Error(t, err)
}

func TestErrorKinds(t *testing.T) {
	err := newErrorf(LengthMismatch, "copying %d elements", 3)
	require.ErrorIs(t, err, LengthMismatch)
	require.ErrorIs(t, err, ValidationError)
	require.NotErrorIs(t, err, TransferError)
	require.Equal(t, LengthMismatch, KindOf(err))
	require.Equal(t, "LengthMismatch: copying 3 elements", err.Error())

	err = newErrorf(ArgumentTypeMismatch, "bad argument")
	require.NotErrorIs(t, err, ValidationError)
	require.False(t, ArgumentTypeMismatch.IsValidation())
	require.True(t, InvalidLaunchConfiguration.IsValidation())
	require.Equal(t, ErrorKind(0), KindOf(nil))
}
