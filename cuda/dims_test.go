package cuda

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMakeDim(t *testing.T) {
	d, err := MakeDim(5)
	require.NoError(t, err)
	require.Equal(t, Dim{5, 1, 1}, d)

	d, err = MakeDim(2, 3)
	require.NoError(t, err)
	require.Equal(t, Dim{2, 3, 1}, d)
	require.Equal(t, 6, d.Total())
	require.Equal(t, "(2, 3, 1)", d.String())

	d, err = MakeDim(2, 3, 4)
	require.NoError(t, err)
	require.Equal(t, Dim{2, 3, 4}, d)

	_, err = MakeDim(2, 0, 3)
	require.ErrorIs(t, err, InvalidLaunchConfiguration)
	require.ErrorIs(t, err, ValidationError)
	require.ErrorContains(t, err, "component y")

	_, err = MakeDim()
	require.ErrorIs(t, err, InvalidLaunchConfiguration)
	_, err = MakeDim(1, 2, 3, 4)
	require.ErrorIs(t, err, InvalidLaunchConfiguration)
	_, err = MakeDim(-4)
	require.ErrorIs(t, err, InvalidLaunchConfiguration)
}

func TestAsDim(t *testing.T) {
	for _, v := range []any{7, int32(7), uint8(7), uint64(7), []int{7}, [1]int{7}, Dim{7, 1, 1}} {
		d, err := AsDim(v)
		require.NoErrorf(t, err, "AsDim(%#v)", v)
		require.Equalf(t, Dim{7, 1, 1}, d, "AsDim(%#v)", v)
	}
	d, err := AsDim([3]int{4, 2, 1})
	require.NoError(t, err)
	require.Equal(t, Dim{4, 2, 1}, d)
	d, err = AsDim([2]int{4, 2})
	require.NoError(t, err)
	require.Equal(t, Dim{4, 2, 1}, d)

	for _, v := range []any{0, -1, int64(math.MaxUint32) + 1, uint64(math.MaxUint32) + 1, []int{}, Dim{}, "8", 8.0, nil} {
		_, err := AsDim(v)
		require.ErrorIsf(t, err, InvalidLaunchConfiguration, "AsDim(%#v)", v)
	}
}
