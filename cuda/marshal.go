package cuda

import (
	"math"
	"reflect"
	"runtime"
	"unsafe"

	"github.com/gomlx/gocuda/driver"
	"github.com/gomlx/gocuda/dtypes"
	"github.com/x448/float16"
)

// argumentSet holds the converted arguments of one launch: the array of parameter pointers the
// driver expects, and the storage each of them points to, all in one arena.
//
// It only lives for the duration of the launch call.
type argumentSet struct {
	arena  *arenaContainer
	params []uintptr
	args   []any
	pinner runtime.Pinner
}

// marshalArguments converts args according to signature. The returned set must be released
// with argumentSet.release once the driver call returns.
func marshalArguments(signature []ParamType, args []any) (*argumentSet, error) {
	if len(signature) != len(args) {
		return nil, newErrorf(ArgumentTypeMismatch, "kernel signature has %d parameters (%s), but %d arguments were given",
			len(signature), signatureString(signature), len(args))
	}
	sizes := make([]int, 0, len(signature)+1)
	sizes = append(sizes, len(signature)*int(unsafe.Sizeof(uintptr(0))))
	for ii, p := range signature {
		if err := validateParamType(ii, p); err != nil {
			return nil, err
		}
		sizes = append(sizes, p.Size())
	}

	set := &argumentSet{arena: launchArenas.Get(arenaSizeFor(sizes...)), args: args}
	set.params = arenaAllocSlice[uintptr](set.arena, len(signature))
	for ii, p := range signature {
		slot := arenaAllocBytes(set.arena, p.Size())
		if err := convertArgument(ii, slot, args[ii], p); err != nil {
			launchArenas.Return(set.arena)
			return nil, err
		}
		set.params[ii] = uintptr(unsafe.Pointer(unsafe.SliceData(slot)))
	}
	if len(set.params) > 0 {
		set.pinner.Pin(unsafe.SliceData(set.arena.words))
	}
	return set, nil
}

// pointer returns the address of the parameter pointers array, or nil if there are no parameters.
func (s *argumentSet) pointer() unsafe.Pointer {
	if len(s.params) == 0 {
		return nil
	}
	return unsafe.Pointer(unsafe.SliceData(s.params))
}

// release unpins the arena and returns it to the pool. The set can't be used afterwards.
func (s *argumentSet) release() {
	s.pinner.Unpin()
	launchArenas.Return(s.arena)
	runtime.KeepAlive(s.args)
	s.arena, s.params, s.args = nil, nil, nil
}

func signatureString(signature []ParamType) string {
	var parts []byte
	for ii, p := range signature {
		if ii > 0 {
			parts = append(parts, ", "...)
		}
		parts = append(parts, p.String()...)
	}
	return string(parts)
}

func validateParamType(index int, p ParamType) error {
	if !p.IsValid() {
		return newErrorf(ArgumentTypeMismatch, "parameter #%d has an invalid (zero value) ParamType", index)
	}
	if !p.pointer {
		if err := checkFixedLayout(p.elem); err != nil {
			return newErrorf(ArgumentTypeMismatch, "parameter #%d of type %s can't be passed by value: %v", index, p.elem, err)
		}
	}
	return nil
}

// convertArgument writes the value of arg, converted to p, to slot, which has p.Size() bytes.
func convertArgument(index int, slot []byte, arg any, p ParamType) error {
	slotPtr := unsafe.Pointer(unsafe.SliceData(slot))
	if p.pointer {
		ptr, err := devicePointerOf(index, arg, p)
		if err != nil {
			return err
		}
		*(*driver.DevicePtr)(slotPtr) = ptr
		return nil
	}

	src := reflect.ValueOf(arg)
	if !src.IsValid() {
		return newErrorf(ArgumentTypeMismatch, "argument #%d is nil, but parameter is of type %s", index, p)
	}
	dst := reflect.NewAt(p.elem, slotPtr).Elem()
	if src.Type() == p.elem {
		dst.Set(src)
		return nil
	}
	if !convertNumeric(dst, src) {
		return newErrorf(ArgumentTypeMismatch, "argument #%d of type %s (value %v) can't be converted to parameter type %s without loss",
			index, src.Type(), arg, p)
	}
	return nil
}

// devicePointerOf returns the device address of arg, checking its element type against p if both are known.
func devicePointerOf(index int, arg any, p ParamType) (driver.DevicePtr, error) {
	switch v := arg.(type) {
	case nil:
		return 0, nil
	case driver.DevicePtr:
		return v, nil
	case DevicePointer:
		if value := reflect.ValueOf(arg); value.Kind() == reflect.Pointer && value.IsNil() {
			return 0, nil
		}
		switch live := arg.(type) {
		case *Buffer:
			if err := live.checkLive(); err != nil {
				return 0, err
			}
		case interface{ checkUsable() error }:
			if err := live.checkUsable(); err != nil {
				return 0, err
			}
		}
		if typed, ok := arg.(elemTyped); ok && p.elem != nil && !sameElementType(typed.elemType(), p.elem) {
			return 0, newErrorf(ArgumentTypeMismatch, "argument #%d is a pointer to %s, but parameter is of type %s",
				index, typed.elemType(), p)
		}
		return v.DevicePtr(), nil
	}
	return 0, newErrorf(ArgumentTypeMismatch, "argument #%d of type %T is not a device pointer, as required by parameter type %s",
		index, arg, p)
}

// sameElementType returns whether a and b are the same type, or scalars with the same DType
// (e.g. int and int64, or a named float32 type and float32).
func sameElementType(a, b reflect.Type) bool {
	if a == b {
		return true
	}
	dtype := dtypes.FromGoType(a)
	return dtype.IsValid() && dtype == dtypes.FromGoType(b) && a.Size() == b.Size()
}

var float16Type = reflect.TypeFor[float16.Float16]()

// maxFloat16 is the largest finite float16 value.
const maxFloat16 = 65504

// convertNumeric sets dst to the value of src, if both are numbers (or bools) and the value is
// preserved: integers must fit exactly, floats may be rounded but not overflow.
// It returns false if the conversion is not possible.
func convertNumeric(dst, src reflect.Value) bool {
	switch {
	case src.Type() == float16Type:
		return setFromFloat(dst, float64(src.Interface().(float16.Float16).Float32()))
	case src.Kind() == reflect.Bool:
		if dst.Kind() != reflect.Bool {
			return false
		}
		dst.SetBool(src.Bool())
		return true
	case isIntKind(src.Kind()):
		return setFromInt(dst, src.Int())
	case isUintKind(src.Kind()):
		return setFromUint(dst, src.Uint())
	case isFloatKind(src.Kind()):
		return setFromFloat(dst, src.Float())
	case isComplexKind(src.Kind()):
		if !isComplexKind(dst.Kind()) || dst.OverflowComplex(src.Complex()) {
			return false
		}
		dst.SetComplex(src.Complex())
		return true
	}
	return false
}

func setFromInt(dst reflect.Value, x int64) bool {
	switch kind := dst.Kind(); {
	case dst.Type() == float16Type:
		return setFloat16(dst, float64(x))
	case isIntKind(kind):
		if dst.OverflowInt(x) {
			return false
		}
		dst.SetInt(x)
	case isUintKind(kind):
		if x < 0 || dst.OverflowUint(uint64(x)) {
			return false
		}
		dst.SetUint(uint64(x))
	case isFloatKind(kind):
		dst.SetFloat(float64(x))
	default:
		return false
	}
	return true
}

func setFromUint(dst reflect.Value, x uint64) bool {
	switch kind := dst.Kind(); {
	case dst.Type() == float16Type:
		return setFloat16(dst, float64(x))
	case isIntKind(kind):
		if x > math.MaxInt64 || dst.OverflowInt(int64(x)) {
			return false
		}
		dst.SetInt(int64(x))
	case isUintKind(kind):
		if dst.OverflowUint(x) {
			return false
		}
		dst.SetUint(x)
	case isFloatKind(kind):
		dst.SetFloat(float64(x))
	default:
		return false
	}
	return true
}

func setFromFloat(dst reflect.Value, f float64) bool {
	finite := !math.IsInf(f, 0) && !math.IsNaN(f)
	switch kind := dst.Kind(); {
	case dst.Type() == float16Type:
		return setFloat16(dst, f)
	case isIntKind(kind):
		if !finite || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return false
		}
		return setFromInt(dst, int64(f))
	case isUintKind(kind):
		if !finite || f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 {
			return false
		}
		return setFromUint(dst, uint64(f))
	case isFloatKind(kind):
		if finite && dst.OverflowFloat(f) {
			return false
		}
		dst.SetFloat(f)
		return true
	}
	return false
}

func setFloat16(dst reflect.Value, f float64) bool {
	if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > maxFloat16 {
		return false
	}
	dst.Set(reflect.ValueOf(float16.Fromfloat32(float32(f))))
	return true
}

func isIntKind(kind reflect.Kind) bool {
	return kind >= reflect.Int && kind <= reflect.Int64
}

func isUintKind(kind reflect.Kind) bool {
	return kind >= reflect.Uint && kind <= reflect.Uintptr
}

func isFloatKind(kind reflect.Kind) bool {
	return kind == reflect.Float32 || kind == reflect.Float64
}

func isComplexKind(kind reflect.Kind) bool {
	return kind == reflect.Complex64 || kind == reflect.Complex128
}
