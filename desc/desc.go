// Package desc parses Dalvik type descriptors.
//
// A descriptor is the compact signature form used throughout dex files:
// single letters for primitives ("I", "J", "Z"), "L...;" for classes and a
// leading "[" per array dimension ("[I", "[[Ljava/lang/String;"). The engine
// never loads classes, so everything it needs to know about a type is derived
// from the descriptor text alone.
package desc

import (
	"fmt"
	"strings"
)

// Category classifies a descriptor into the groups the engine cares about.
type Category uint8

// Descriptor categories.
const (
	Unknown Category = iota
	Void
	Boolean
	Byte
	Char
	Short
	Int
	Long
	Float
	Double
	Reference
	Array
)

// Common descriptors.
const (
	UnknownType = "?"
	VoidType    = "V"
	BooleanType = "Z"
	ByteType    = "B"
	CharType    = "C"
	ShortType   = "S"
	IntType     = "I"
	LongType    = "J"
	FloatType   = "F"
	DoubleType  = "D"

	Object    = "Ljava/lang/Object;"
	String    = "Ljava/lang/String;"
	Class     = "Ljava/lang/Class;"
	Throwable = "Ljava/lang/Throwable;"
)

var categoryNames = [...]string{
	Unknown:   "unknown",
	Void:      "void",
	Boolean:   "boolean",
	Byte:      "byte",
	Char:      "char",
	Short:     "short",
	Int:       "int",
	Long:      "long",
	Float:     "float",
	Double:    "double",
	Reference: "reference",
	Array:     "array",
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", c)
}

// IsWide reports whether values of this category occupy a register pair.
func (c Category) IsWide() bool {
	return c == Long || c == Double
}

// IsPrimitive reports whether the category is one of the eight primitives.
func (c Category) IsPrimitive() bool {
	return c >= Boolean && c <= Double
}

// IsReference reports whether the category is an object or array reference.
func (c Category) IsReference() bool {
	return c == Reference || c == Array
}

// IsIntegral reports whether the category is an int-like or long primitive.
func (c Category) IsIntegral() bool {
	return (c >= Boolean && c <= Int) || c == Long
}

// Bits returns the storage width of a primitive category, or 0.
func (c Category) Bits() int {
	switch c {
	case Boolean:
		return 1
	case Byte:
		return 8
	case Char, Short:
		return 16
	case Int, Float:
		return 32
	case Long, Double:
		return 64
	default:
		return 0
	}
}

// Signed reports whether the primitive category is sign-extended on widening.
func (c Category) Signed() bool {
	switch c {
	case Byte, Short, Int, Long:
		return true
	default:
		return false
	}
}

// Classify returns the category of a descriptor. Malformed descriptors and
// the "?" marker classify as Unknown.
func Classify(d string) Category {
	if len(d) == 0 {
		return Unknown
	}
	switch d[0] {
	case 'V':
		return single(d, Void)
	case 'Z':
		return single(d, Boolean)
	case 'B':
		return single(d, Byte)
	case 'C':
		return single(d, Char)
	case 'S':
		return single(d, Short)
	case 'I':
		return single(d, Int)
	case 'J':
		return single(d, Long)
	case 'F':
		return single(d, Float)
	case 'D':
		return single(d, Double)
	case 'L':
		if validClass(d) {
			return Reference
		}
	case '[':
		if Classify(d[1:]).isElement() {
			return Array
		}
	}
	return Unknown
}

func single(d string, c Category) Category {
	if len(d) != 1 {
		return Unknown
	}
	return c
}

func (c Category) isElement() bool {
	return c != Unknown && c != Void
}

func validClass(d string) bool {
	return len(d) > 2 && d[len(d)-1] == ';' && !strings.ContainsAny(d[1:len(d)-1], ";[")
}

// Valid reports whether d is a well-formed field-type descriptor.
func Valid(d string) bool {
	c := Classify(d)
	return c != Unknown && c != Void
}

// IsWide reports whether d is long or double.
func IsWide(d string) bool {
	return Classify(d).IsWide()
}

// IsPrimitive reports whether d is a primitive descriptor.
func IsPrimitive(d string) bool {
	return Classify(d).IsPrimitive()
}

// IsReference reports whether d is a class or array descriptor.
func IsReference(d string) bool {
	return Classify(d).IsReference()
}

// Component strips one array dimension. The unknown marker maps to itself
// since an unknown array type has an unknown element type.
func Component(d string) (string, error) {
	if d == UnknownType {
		return UnknownType, nil
	}
	if Classify(d) != Array {
		return "", fmt.Errorf("not an array descriptor: %q", d)
	}
	return d[1:], nil
}

// ArrayOf adds one array dimension.
func ArrayOf(d string) string {
	return "[" + d
}

// Dimensions returns the number of array dimensions of d.
func Dimensions(d string) int {
	n := 0
	for n < len(d) && d[n] == '[' {
		n++
	}
	return n
}

// Descriptor returns the descriptor for a primitive category.
func Descriptor(c Category) string {
	switch c {
	case Void:
		return VoidType
	case Boolean:
		return BooleanType
	case Byte:
		return ByteType
	case Char:
		return CharType
	case Short:
		return ShortType
	case Int:
		return IntType
	case Long:
		return LongType
	case Float:
		return FloatType
	case Double:
		return DoubleType
	case Reference:
		return Object
	default:
		return UnknownType
	}
}

// Promote applies binary numeric promotion: sub-int types widen to int and
// the wider of the remaining kinds wins, double over float over long.
func Promote(a, b Category) Category {
	switch {
	case a == Double || b == Double:
		return Double
	case a == Float || b == Float:
		return Float
	case a == Long || b == Long:
		return Long
	default:
		return Int
	}
}

// Widen applies unary numeric promotion.
func Widen(c Category) Category {
	switch c {
	case Boolean, Byte, Char, Short:
		return Int
	default:
		return c
	}
}

// ParseMethod splits a method prototype "(IJ[B)V" into parameter descriptors
// and the return descriptor.
func ParseMethod(proto string) ([]string, string, error) {
	if len(proto) < 3 || proto[0] != '(' {
		return nil, "", fmt.Errorf("malformed method prototype: %q", proto)
	}
	end := strings.IndexByte(proto, ')')
	if end < 0 {
		return nil, "", fmt.Errorf("malformed method prototype: %q", proto)
	}

	var params []string
	rest := proto[1:end]
	for len(rest) > 0 {
		n := fieldLen(rest)
		if n == 0 {
			return nil, "", fmt.Errorf("malformed parameter list in %q", proto)
		}
		params = append(params, rest[:n])
		rest = rest[n:]
	}

	ret := proto[end+1:]
	if ret != VoidType && !Valid(ret) {
		return nil, "", fmt.Errorf("malformed return type in %q", proto)
	}
	return params, ret, nil
}

// fieldLen returns the length of the leading field descriptor in s, or 0.
func fieldLen(s string) int {
	dims := Dimensions(s)
	if dims == len(s) {
		return 0
	}
	switch s[dims] {
	case 'Z', 'B', 'C', 'S', 'I', 'J', 'F', 'D':
		return dims + 1
	case 'L':
		end := strings.IndexByte(s[dims:], ';')
		if end < 0 {
			return 0
		}
		return dims + end + 1
	}
	return 0
}

// RegisterCount returns the number of registers the descriptors occupy.
func RegisterCount(ds []string) int {
	n := 0
	for _, d := range ds {
		if IsWide(d) {
			n += 2
		} else {
			n++
		}
	}
	return n
}
