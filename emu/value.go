// Package emu provides abstract interpretation of Dalvik methods.
//
// Registers hold Values drawn from a small lattice: a value is either known
// (a concrete primitive, array or object reference) or unknown with a
// declared type. Every handler propagates unknowns by type alone, so an
// unknown operand never produces a known result.
package emu

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/sarchlab/dexsim/desc"
)

// Kind is the lattice position of a Value.
type Kind uint8

// Value kinds.
const (
	KindUnknown Kind = iota
	KindPrimitive
	KindArray
	KindObject
	KindNull
)

// Handle identifies an array in a register state's heap.
type Handle uint32

var instanceIDs atomic.Uint64

// Instance is an opaque object identity. Two references are the same object
// only when they point to the same Instance.
type Instance struct {
	id      uint64
	typ     string
	literal string
	hasLit  bool
}

// NewInstance creates a fresh object of the given class descriptor.
func NewInstance(typ string) *Instance {
	return &Instance{id: instanceIDs.Add(1), typ: typ}
}

// NewString creates a string object carrying its literal value.
func NewString(s string) *Instance {
	return &Instance{id: instanceIDs.Add(1), typ: desc.String, literal: s, hasLit: true}
}

// NewClassObject creates a java.lang.Class object for the given descriptor.
func NewClassObject(typ string) *Instance {
	return &Instance{id: instanceIDs.Add(1), typ: desc.Class, literal: typ, hasLit: true}
}

// Type returns the class descriptor of the object.
func (i *Instance) Type() string {
	return i.typ
}

// Literal returns the string or class literal the object was created from.
func (i *Instance) Literal() (string, bool) {
	return i.literal, i.hasLit
}

func (i *Instance) String() string {
	if i.hasLit {
		return fmt.Sprintf("%s %q", i.typ, i.literal)
	}
	return fmt.Sprintf("%s@%d", i.typ, i.id)
}

// Value is the content of a register. Values are immutable; operations
// always build new Values.
type Value struct {
	kind   Kind
	typ    string
	bits   uint64
	handle Handle
	obj    *Instance
}

// Unknown returns an unknown value of the declared type.
func Unknown(typ string) Value {
	return Value{kind: KindUnknown, typ: typ}
}

func primitive(typ string, bits uint64) Value {
	return Value{kind: KindPrimitive, typ: typ, bits: bits}
}

// Boolean returns a known boolean.
func Boolean(b bool) Value {
	if b {
		return primitive(desc.BooleanType, 1)
	}
	return primitive(desc.BooleanType, 0)
}

// Byte returns a known byte.
func Byte(b int8) Value {
	return primitive(desc.ByteType, uint64(int64(b)))
}

// Char returns a known char.
func Char(c uint16) Value {
	return primitive(desc.CharType, uint64(c))
}

// Short returns a known short.
func Short(s int16) Value {
	return primitive(desc.ShortType, uint64(int64(s)))
}

// Int returns a known int.
func Int(i int32) Value {
	return primitive(desc.IntType, uint64(int64(i)))
}

// Long returns a known long.
func Long(l int64) Value {
	return primitive(desc.LongType, uint64(l))
}

// Float returns a known float.
func Float(f float32) Value {
	return primitive(desc.FloatType, uint64(math.Float32bits(f)))
}

// Double returns a known double.
func Double(d float64) Value {
	return primitive(desc.DoubleType, math.Float64bits(d))
}

// Null returns the null reference of a declared reference type.
func Null(typ string) Value {
	return Value{kind: KindNull, typ: typ}
}

// Object returns a known reference to obj.
func Object(obj *Instance) Value {
	return Value{kind: KindObject, typ: obj.typ, obj: obj}
}

// ArrayRef returns a known reference to the array h of type typ.
func ArrayRef(h Handle, typ string) Value {
	return Value{kind: KindArray, typ: typ, handle: h}
}

// Zero returns the default value of a descriptor: 0, false, '\0' or null.
func Zero(typ string) Value {
	switch desc.Classify(typ) {
	case desc.Boolean:
		return Boolean(false)
	case desc.Byte:
		return Byte(0)
	case desc.Char:
		return Char(0)
	case desc.Short:
		return Short(0)
	case desc.Int:
		return Int(0)
	case desc.Long:
		return Long(0)
	case desc.Float:
		return Float(0)
	case desc.Double:
		return Double(0)
	case desc.Reference, desc.Array:
		return Null(typ)
	default:
		return Unknown(typ)
	}
}

// Kind returns the lattice position of the value.
func (v Value) Kind() Kind { return v.kind }

// IsUnknown reports whether the value has no concrete content.
func (v Value) IsUnknown() bool { return v.kind == KindUnknown }

// IsKnown reports whether the value is concrete.
func (v Value) IsKnown() bool { return v.kind != KindUnknown }

// IsNull reports whether the value is the null reference.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsArray reports whether the value is a known array reference.
func (v Value) IsArray() bool { return v.kind == KindArray }

// Type returns the declared type descriptor. It is available for every kind.
func (v Value) Type() string { return v.typ }

// Category classifies the declared type.
func (v Value) Category() desc.Category { return desc.Classify(v.typ) }

// IsWide reports whether the value occupies a register pair.
func (v Value) IsWide() bool { return v.Category().IsWide() }

// Handle returns the array handle of a known array reference.
func (v Value) Handle() Handle { return v.handle }

// Instance returns the object of a known object reference.
func (v Value) Instance() *Instance { return v.obj }

// Bits returns the raw payload of a known primitive. Narrow integral values
// are stored sign- or zero-extended to 64 bits according to their type.
func (v Value) Bits() uint64 { return v.bits }

// AsInt returns the payload of a known primitive as an int.
func (v Value) AsInt() int32 { return int32(v.bits) }

// AsLong returns the payload of a known primitive as a long.
func (v Value) AsLong() int64 { return int64(v.bits) }

// AsFloat returns the payload of a known primitive as a float.
func (v Value) AsFloat() float32 { return math.Float32frombits(uint32(v.bits)) }

// AsDouble returns the payload of a known primitive as a double.
func (v Value) AsDouble() float64 { return math.Float64frombits(v.bits) }

// AsBool returns the payload of a known primitive as a boolean.
func (v Value) AsBool() bool { return v.bits != 0 }

// Equal reports structural equality for primitives and unknowns, and
// identity for arrays and objects.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind || v.typ != o.typ {
		return false
	}
	switch v.kind {
	case KindPrimitive:
		return v.bits == o.bits
	case KindArray:
		return v.handle == o.handle
	case KindObject:
		return v.obj == o.obj
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindUnknown:
		return "unknown " + v.typ
	case KindNull:
		return "null " + v.typ
	case KindArray:
		return fmt.Sprintf("array#%d %s", v.handle, v.typ)
	case KindObject:
		return v.obj.String()
	}

	switch v.Category() {
	case desc.Boolean:
		return fmt.Sprintf("boolean %t", v.AsBool())
	case desc.Byte:
		return fmt.Sprintf("byte %d", int8(v.bits))
	case desc.Char:
		return fmt.Sprintf("char %q", rune(uint16(v.bits)))
	case desc.Short:
		return fmt.Sprintf("short %d", int16(v.bits))
	case desc.Long:
		return fmt.Sprintf("long %d", v.AsLong())
	case desc.Float:
		return fmt.Sprintf("float %g", v.AsFloat())
	case desc.Double:
		return fmt.Sprintf("double %g", v.AsDouble())
	default:
		return fmt.Sprintf("int %d", v.AsInt())
	}
}
