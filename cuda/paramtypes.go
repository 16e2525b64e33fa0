package cuda

import (
	"reflect"
	"strings"
	"sync"
	"unsafe"

	"github.com/gomlx/gocuda/driver"
	"github.com/gomlx/gocuda/dtypes"
)

// ParamType is the declared type of one kernel parameter: either a value of a fixed-layout Go
// type, passed by copy, or a pointer to device memory, optionally typed with its element type.
//
// The zero value is invalid. Create them with ParamOf, PtrParam, ValueParam, PtrOf, VoidPtr or
// ParseSignature.
type ParamType struct {
	pointer bool

	// elem is the type of the value, or the pointed element type for pointers. nil for void*.
	elem reflect.Type
}

// VoidPtr is an untyped device pointer parameter (`void*`): any device pointer is accepted.
var VoidPtr = ParamType{pointer: true}

// ParamOf returns the value parameter type for T, passed by copy. T must be fixed-layout.
func ParamOf[T any]() ParamType {
	return ParamType{elem: reflect.TypeFor[T]()}
}

// PtrParam returns the type of a pointer parameter to device memory holding elements of type T.
func PtrParam[T any]() ParamType {
	return ParamType{pointer: true, elem: reflect.TypeFor[T]()}
}

// ValueParam returns the value parameter type for dtype. dtypes.Pointer returns VoidPtr.
func ValueParam(dtype dtypes.DType) ParamType {
	if dtype == dtypes.Pointer {
		return VoidPtr
	}
	return ParamType{elem: dtype.GoType()}
}

// PtrOf returns the type of a pointer parameter to device memory with elements of dtype.
func PtrOf(dtype dtypes.DType) ParamType {
	return ParamType{pointer: true, elem: dtype.GoType()}
}

// IsPointer returns whether the parameter is a device pointer.
func (p ParamType) IsPointer() bool { return p.pointer }

// IsValid returns whether the ParamType was properly created.
func (p ParamType) IsValid() bool { return p.pointer || p.elem != nil }

// Elem returns the value type, or the pointed element type for pointers. It's nil for VoidPtr.
func (p ParamType) Elem() reflect.Type { return p.elem }

// DType of the value, or of the pointed element. It's dtypes.InvalidDType for aggregates and VoidPtr.
func (p ParamType) DType() dtypes.DType {
	if p.elem == nil {
		return dtypes.InvalidDType
	}
	return dtypes.FromGoType(p.elem)
}

// Size in bytes of the argument passed to the kernel.
func (p ParamType) Size() int {
	if p.pointer {
		return int(unsafe.Sizeof(driver.DevicePtr(0)))
	}
	if p.elem == nil {
		return 0
	}
	return int(p.elem.Size())
}

// Equal returns whether both describe the same parameter type.
func (p ParamType) Equal(other ParamType) bool {
	return p.pointer == other.pointer && p.elem == other.elem
}

// String returns the C-like name of the type, e.g. "float*" or "int". Aggregates use their Go name.
func (p ParamType) String() string {
	if !p.IsValid() {
		return "<invalid>"
	}
	name := "void"
	if p.elem != nil {
		name = p.elem.String()
		if dtype := p.DType(); dtype.IsValid() && (p.elem.PkgPath() == "" || p.elem == dtype.GoType()) {
			name = dtype.CName()
		}
	}
	if p.pointer {
		return name + "*"
	}
	return name
}

// ParseSignature parses a C-like list of parameter types, as in a kernel prototype, e.g.
// "const float* x, float *y, int n". Parameter names and qualifiers (const, volatile,
// __restrict__) are optional and ignored.
//
// Supported are the scalar names known by dtypes.FromCName, pointers to them and "void*".
// Pointers to pointers are parsed as pointers to a dtypes.Pointer element. An empty string or
// "void" means no parameters.
func ParseSignature(signature string) ([]ParamType, error) {
	trimmed := strings.TrimSpace(signature)
	if trimmed == "" || trimmed == "void" {
		return nil, nil
	}
	parts := strings.Split(trimmed, ",")
	types := make([]ParamType, 0, len(parts))
	for ii, part := range parts {
		p, err := parseParamType(part)
		if err != nil {
			return nil, newErrorf(ValidationError, "invalid parameter #%d %q in signature %q: %v", ii, strings.TrimSpace(part), signature, err)
		}
		types = append(types, p)
	}
	return types, nil
}

func parseParamType(decl string) (ParamType, error) {
	// Separate "*" from the names, so "float*x" and "float *x" are handled the same way.
	words := strings.Fields(strings.ReplaceAll(decl, "*", " * "))
	if len(words) == 0 {
		return ParamType{}, newErrorf(ValidationError, "empty parameter")
	}
	if p, ok := paramTypeFromWords(words); ok {
		return p, nil
	}
	// The last word may be the parameter name.
	if last := words[len(words)-1]; last != "*" && len(words) > 1 {
		if p, ok := paramTypeFromWords(words[:len(words)-1]); ok {
			return p, nil
		}
	}
	return ParamType{}, newErrorf(ValidationError, "unknown type %q", strings.Join(words, " "))
}

func paramTypeFromWords(words []string) (ParamType, bool) {
	var names []string
	stars := 0
	for _, word := range words {
		if word == "*" {
			stars++
			continue
		}
		if stars > 0 && word != "const" && word != "__restrict__" && word != "volatile" {
			// Only qualifiers can follow a "*".
			return ParamType{}, false
		}
		names = append(names, word)
	}
	base := strings.Join(names, " ")
	if stars > 0 && isVoid(base) {
		if stars > 1 {
			return PtrOf(dtypes.Pointer), true
		}
		return VoidPtr, true
	}
	dtype := dtypes.FromCName(base)
	if dtype == dtypes.InvalidDType {
		return ParamType{}, false
	}
	if stars > 1 {
		return PtrOf(dtypes.Pointer), true
	}
	if stars == 1 {
		return PtrOf(dtype), true
	}
	return ValueParam(dtype), true
}

// isVoid returns whether the type name is "void", ignoring qualifiers.
func isVoid(base string) bool {
	for _, word := range strings.Fields(base) {
		if word == "const" || word == "volatile" || word == "__restrict__" {
			continue
		}
		if word != "void" {
			return false
		}
	}
	return strings.Contains(base, "void")
}

// elemTyped is implemented by device pointer values that know their element type (Array and Global).
type elemTyped interface {
	elemType() reflect.Type
}

// inferParamType returns the parameter type for an argument value: device pointers become
// pointer parameters (typed, for Arrays and Globals), everything else a value parameter of its Go type.
func inferParamType(arg any) (ParamType, error) {
	switch v := arg.(type) {
	case nil:
		return VoidPtr, nil
	case elemTyped:
		return ParamType{pointer: true, elem: v.elemType()}, nil
	case DevicePointer, driver.DevicePtr:
		return VoidPtr, nil
	}
	t := reflect.TypeOf(arg)
	if err := checkFixedLayout(t); err != nil {
		return ParamType{}, newErrorf(ArgumentTypeMismatch, "can't pass argument of type %s to a kernel: %v", t, err)
	}
	return ParamType{elem: t}, nil
}

// signatureCache memoizes inferred signatures per tuple of argument types.
// It's a trie indexed by the argument Go types, with nil for untyped nil arguments.
type signatureCache struct {
	mu   sync.Mutex
	root signatureNode
}

type signatureNode struct {
	children  map[reflect.Type]*signatureNode
	signature []ParamType
	resolved  bool
}

// infer returns the signature for args, from the cache if the same argument types were seen before.
func (c *signatureCache) infer(args []any) ([]ParamType, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	node := &c.root
	for _, arg := range args {
		t := reflect.TypeOf(arg)
		child, found := node.children[t]
		if !found {
			if node.children == nil {
				node.children = make(map[reflect.Type]*signatureNode)
			}
			child = &signatureNode{}
			node.children[t] = child
		}
		node = child
	}
	if node.resolved {
		return node.signature, nil
	}
	signature := make([]ParamType, len(args))
	for ii, arg := range args {
		p, err := inferParamType(arg)
		if err != nil {
			return nil, err
		}
		signature[ii] = p
	}
	node.signature = signature
	node.resolved = true
	return signature, nil
}

// size returns the number of cached signatures.
func (c *signatureCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var count func(n *signatureNode) int
	count = func(n *signatureNode) int {
		total := 0
		if n.resolved {
			total = 1
		}
		for _, child := range n.children {
			total += count(child)
		}
		return total
	}
	return count(&c.root)
}
