package cuda

import (
	"fmt"
	"math"
	"reflect"
)

// Dim is a launch geometry (grid or block dimensions): all components are >= 1.
type Dim struct {
	X, Y, Z uint32
}

// String implements fmt.Stringer.
func (d Dim) String() string {
	return fmt.Sprintf("(%d, %d, %d)", d.X, d.Y, d.Z)
}

// Total number of threads (for block) or blocks (for grid).
func (d Dim) Total() int {
	return int(d.X) * int(d.Y) * int(d.Z)
}

// MakeDim creates a Dim from 1 to 3 components, missing trailing components default to 1.
//
// It returns an InvalidLaunchConfiguration error for 0 or more than 3 components, or if any
// component is not positive or doesn't fit an uint32.
func MakeDim(dims ...int) (Dim, error) {
	return makeDim("dimension", dims)
}

func makeDim(what string, dims []int) (Dim, error) {
	if len(dims) == 0 || len(dims) > 3 {
		return Dim{}, newErrorf(InvalidLaunchConfiguration, "%s must have 1 to 3 components, got %d (%v)", what, len(dims), dims)
	}
	values := [3]uint32{1, 1, 1}
	for axis, dim := range dims {
		if dim <= 0 || uint64(dim) > math.MaxUint32 {
			return Dim{}, newErrorf(InvalidLaunchConfiguration, "%s component %c must be between 1 and %d, got %d (dimensions %v)",
				what, "xyz"[axis], uint32(math.MaxUint32), dim, dims)
		}
		values[axis] = uint32(dim)
	}
	return Dim{X: values[0], Y: values[1], Z: values[2]}, nil
}

// AsDim converts v to a Dim. v can be a Dim, any Go integer, a []int or an [N]int array with N
// from 1 to 3. See MakeDim for the errors returned.
func AsDim(v any) (Dim, error) {
	return asDim("dimension", v)
}

func asDim(what string, v any) (Dim, error) {
	switch dims := v.(type) {
	case Dim:
		return makeDim(what, []int{int(dims.X), int(dims.Y), int(dims.Z)})
	case []int:
		return makeDim(what, dims)
	case [1]int:
		return makeDim(what, dims[:])
	case [2]int:
		return makeDim(what, dims[:])
	case [3]int:
		return makeDim(what, dims[:])
	case nil:
		return Dim{}, newErrorf(InvalidLaunchConfiguration, "%s not given", what)
	}
	value := reflect.ValueOf(v)
	switch value.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return makeDim(what, []int{clampToInt(value.Int())})
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := value.Uint()
		if u > math.MaxUint32 {
			return Dim{}, newErrorf(InvalidLaunchConfiguration, "%s component x must be between 1 and %d, got %d",
				what, uint32(math.MaxUint32), u)
		}
		return makeDim(what, []int{int(u)})
	default:
		return Dim{}, newErrorf(InvalidLaunchConfiguration, "%s must be given as an integer, []int, [N]int or cuda.Dim, got %T", what, v)
	}
}

// clampToInt converts v to int, saturating in 32-bit platforms so the range check in makeDim still fails.
func clampToInt(v int64) int {
	if v > math.MaxInt {
		return math.MaxInt
	}
	if v < math.MinInt {
		return math.MinInt
	}
	return int(v)
}
