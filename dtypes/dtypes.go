// Package dtypes defines the scalar data types that can cross the host/device boundary, and
// maps them to and from Go types and to the C type names used in kernel prototypes.
package dtypes

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/x448/float16"
)

// DType is the enumeration of the scalar types supported for kernel parameters and array elements.
//
// Values follow the order of the CUDA driver's CUarray_format where one exists, but they are only
// used host-side and carry no meaning for the driver.
type DType int32

const (
	// InvalidDType represents an invalid (or not set) dtype.
	InvalidDType DType = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float16
	Float32
	Float64
	Complex64
	Complex128

	// Pointer is an opaque 64-bit device address (a "void*" in a kernel prototype).
	Pointer
)

// Aliases commonly used in kernel code.
const (
	F16 = Float16
	F32 = Float32
	F64 = Float64
	S8  = Int8
	S16 = Int16
	S32 = Int32
	S64 = Int64
	U8  = Uint8
	U16 = Uint16
	U32 = Uint32
	U64 = Uint64
	C64 = Complex64
)

var dtypeNames = []string{
	InvalidDType: "InvalidDType",
	Bool:         "Bool",
	Int8:         "Int8",
	Int16:        "Int16",
	Int32:        "Int32",
	Int64:        "Int64",
	Uint8:        "Uint8",
	Uint16:       "Uint16",
	Uint32:       "Uint32",
	Uint64:       "Uint64",
	Float16:      "Float16",
	Float32:      "Float32",
	Float64:      "Float64",
	Complex64:    "Complex64",
	Complex128:   "Complex128",
	Pointer:      "Pointer",
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	if dtype < 0 || int(dtype) >= len(dtypeNames) {
		return fmt.Sprintf("DType(%d)", int32(dtype))
	}
	return dtypeNames[dtype]
}

// IsValid returns whether dtype is one of the enumerated values, excluding InvalidDType.
func (dtype DType) IsValid() bool {
	return dtype > InvalidDType && dtype <= Pointer
}

// Supported lists the Go types that map directly to a DType.
type Supported interface {
	bool | float16.Float16 | float32 | float64 | int | int32 | int8 | int16 | int64 |
		uint8 | uint16 | uint32 | uint64 | complex64 | complex128
}

// Number lists the numeric Go types that map to a DType.
type Number interface {
	float32 | float64 | int | int32 | int8 | int16 | int64 | uint8 | uint16 | uint32 | uint64
}

// FromGenericsType returns the DType enum for the given type that this package knows about.
func FromGenericsType[T Supported]() DType {
	var t T
	return FromAny(t)
}

// FromAny introspects the underlying type of any and returns the corresponding DType.
// Non-scalar types, or not supported types returns InvalidDType.
func FromAny(value any) DType {
	if value == nil {
		return InvalidDType
	}
	return FromGoType(reflect.TypeOf(value))
}

var float16Type = reflect.TypeOf(float16.Float16(0))

// FromGoType returns the DType for the given Go type, or InvalidDType if it is not a scalar
// this package maps.
//
// Platform dependent `int` and `uint` are mapped to their 64-bit equivalents, and `uintptr` is
// mapped to Pointer.
func FromGoType(t reflect.Type) DType {
	if t == float16Type {
		return Float16
	}
	switch t.Kind() {
	case reflect.Bool:
		return Bool
	case reflect.Int8:
		return Int8
	case reflect.Int16:
		return Int16
	case reflect.Int32:
		return Int32
	case reflect.Int64, reflect.Int:
		return Int64
	case reflect.Uint8:
		return Uint8
	case reflect.Uint16:
		return Uint16
	case reflect.Uint32:
		return Uint32
	case reflect.Uint64, reflect.Uint:
		return Uint64
	case reflect.Uintptr:
		return Pointer
	case reflect.Float32:
		return Float32
	case reflect.Float64:
		return Float64
	case reflect.Complex64:
		return Complex64
	case reflect.Complex128:
		return Complex128
	default:
		return InvalidDType
	}
}

// GoType returns the Go `reflect.Type` corresponding to the dtype.
// It returns nil for InvalidDType.
func (dtype DType) GoType() reflect.Type {
	switch dtype {
	case Bool:
		return reflect.TypeOf(false)
	case Int8:
		return reflect.TypeOf(int8(0))
	case Int16:
		return reflect.TypeOf(int16(0))
	case Int32:
		return reflect.TypeOf(int32(0))
	case Int64:
		return reflect.TypeOf(int64(0))
	case Uint8:
		return reflect.TypeOf(uint8(0))
	case Uint16:
		return reflect.TypeOf(uint16(0))
	case Uint32:
		return reflect.TypeOf(uint32(0))
	case Uint64:
		return reflect.TypeOf(uint64(0))
	case Float16:
		return float16Type
	case Float32:
		return reflect.TypeOf(float32(0))
	case Float64:
		return reflect.TypeOf(float64(0))
	case Complex64:
		return reflect.TypeOf(complex64(0))
	case Complex128:
		return reflect.TypeOf(complex128(0))
	case Pointer:
		return reflect.TypeOf(uintptr(0))
	default:
		return nil
	}
}

// Size returns the number of bytes for the given DType, or 0 for InvalidDType.
func (dtype DType) Size() int {
	t := dtype.GoType()
	if t == nil {
		return 0
	}
	return int(t.Size())
}

// IsFloat returns whether dtype is a supported float.
func (dtype DType) IsFloat() bool {
	return dtype == Float16 || dtype == Float32 || dtype == Float64
}

// IsComplex returns whether dtype is a supported complex number type.
func (dtype DType) IsComplex() bool {
	return dtype == Complex64 || dtype == Complex128
}

// IsInt returns whether dtype is a supported integer type -- float types and Pointer return false.
func (dtype DType) IsInt() bool {
	switch dtype {
	case Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64:
		return true
	}
	return false
}

// IsUnsigned returns whether dtype is one of the unsigned (only int for now) types.
func (dtype DType) IsUnsigned() bool {
	return dtype == Uint8 || dtype == Uint16 || dtype == Uint32 || dtype == Uint64
}

// CName returns the canonical C type name used in kernel prototypes for dtype, e.g. "float" for Float32.
func (dtype DType) CName() string {
	switch dtype {
	case Bool:
		return "bool"
	case Int8:
		return "int8_t"
	case Int16:
		return "int16_t"
	case Int32:
		return "int"
	case Int64:
		return "long long"
	case Uint8:
		return "uint8_t"
	case Uint16:
		return "uint16_t"
	case Uint32:
		return "unsigned int"
	case Uint64:
		return "unsigned long long"
	case Float16:
		return "half"
	case Float32:
		return "float"
	case Float64:
		return "double"
	case Complex64:
		return "cuFloatComplex"
	case Complex128:
		return "cuDoubleComplex"
	case Pointer:
		return "void*"
	}
	return "<invalid>"
}

// cNames maps C (and CUDA) scalar type spellings to DTypes. Keys are normalized with normalizeCName.
var cNames = map[string]DType{
	"bool":               Bool,
	"char":               Int8,
	"signed char":        Int8,
	"int8_t":             Int8,
	"short":              Int16,
	"int16_t":            Int16,
	"int":                Int32,
	"signed":             Int32,
	"int32_t":            Int32,
	"long":               Int64,
	"long long":          Int64,
	"int64_t":            Int64,
	"ptrdiff_t":          Int64,
	"unsigned char":      Uint8,
	"uint8_t":            Uint8,
	"unsigned short":     Uint16,
	"uint16_t":           Uint16,
	"unsigned":           Uint32,
	"unsigned int":       Uint32,
	"uint32_t":           Uint32,
	"unsigned long":      Uint64,
	"unsigned long long": Uint64,
	"uint64_t":           Uint64,
	"size_t":             Uint64,
	"half":               Float16,
	"__half":             Float16,
	"float":              Float32,
	"double":             Float64,
	"cufloatcomplex":     Complex64,
	"cudoublecomplex":    Complex128,
}

func normalizeCName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// FromCName returns the DType for a C scalar type name, like "float", "unsigned int" or "int64_t".
// Qualifiers like "const" and "volatile" are ignored. It returns InvalidDType if the name is not known.
func FromCName(name string) DType {
	var parts []string
	for _, part := range strings.Fields(name) {
		if part == "const" || part == "volatile" || part == "__restrict__" {
			continue
		}
		parts = append(parts, part)
	}
	if dtype, found := cNames[normalizeCName(strings.Join(parts, " "))]; found {
		return dtype
	}
	return InvalidDType
}

// MapOfNames to their dtypes. It includes also aliases to the various dtypes.
// It is also later initialized to include the lower-case version of the names.
var MapOfNames = map[string]DType{}

func init() {
	for dtype, name := range dtypeNames {
		MapOfNames[name] = DType(dtype)
		MapOfNames[strings.ToLower(name)] = DType(dtype)
	}
	for alias, dtype := range map[string]DType{
		"F16": F16, "F32": F32, "F64": F64,
		"S8": S8, "S16": S16, "S32": S32, "S64": S64,
		"U8": U8, "U16": U16, "U32": U32, "U64": U64,
		"C64": C64, "C128": Complex128,
	} {
		MapOfNames[alias] = dtype
		MapOfNames[strings.ToLower(alias)] = dtype
	}
}
