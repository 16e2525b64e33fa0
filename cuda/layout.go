package cuda

import (
	"reflect"
	"sync"
)

// layoutCache maps reflect.Type to the error (or nil) returned by checkFixedLayout.
var layoutCache sync.Map

// checkLayout returns a ValidationError if T can't be copied byte-for-byte to device memory.
func checkLayout[T any]() error {
	return checkFixedLayout(reflect.TypeFor[T]())
}

// checkFixedLayout accepts fixed-size scalars, and arrays and structs built exclusively from them,
// at any nesting depth. Anything holding a Go pointer (pointers, slices, maps, strings, interfaces,
// channels, funcs, unsafe.Pointer) is rejected, as is any type of size 0.
func checkFixedLayout(t reflect.Type) error {
	if cached, found := layoutCache.Load(t); found {
		if cached == nil {
			return nil
		}
		return cached.(error)
	}
	var err error
	if t.Size() == 0 {
		err = newErrorf(ValidationError, "element type %s has size 0, it can't be stored in device memory", t)
	} else if path, bad := findPointerField(t, t.String()); bad != nil {
		err = newErrorf(ValidationError, "element type %s is not fixed-layout: %s is of kind %s, which holds Go pointers", t, path, bad.Kind())
	}
	if err == nil {
		layoutCache.Store(t, nil)
	} else {
		layoutCache.Store(t, err)
	}
	return err
}

// findPointerField returns the path and type of the first non fixed-layout element found in t, or nil.
func findPointerField(t reflect.Type, path string) (string, reflect.Type) {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return "", nil
	case reflect.Array:
		return findPointerField(t.Elem(), path+"[]")
	case reflect.Struct:
		for ii := range t.NumField() {
			field := t.Field(ii)
			if fieldPath, bad := findPointerField(field.Type, path+"."+field.Name); bad != nil {
				return fieldPath, bad
			}
		}
		return "", nil
	default:
		return path, t
	}
}

// sizeOf returns the size in bytes of T.
func sizeOf[T any]() int {
	return int(reflect.TypeFor[T]().Size())
}
