package emu

import (
	"fmt"
	"sort"

	"github.com/sarchlab/dexsim/desc"
)

// Array is a fixed-length sequence of element Values. The element type is
// fixed at allocation; every stored value is coerced to it.
type Array struct {
	elemType string
	elems    []Value
}

// NewArray allocates an array of length zero-valued elements.
func NewArray(elemType string, length int) (*Array, error) {
	if length < 0 {
		return nil, &NegativeArraySizeError{Length: length}
	}
	a := &Array{elemType: elemType, elems: make([]Value, length)}
	zero := Zero(elemType)
	for i := range a.elems {
		a.elems[i] = zero
	}
	return a, nil
}

// ElementType returns the element descriptor.
func (a *Array) ElementType() string { return a.elemType }

// Type returns the array descriptor.
func (a *Array) Type() string { return desc.ArrayOf(a.elemType) }

// Len returns the array length.
func (a *Array) Len() int { return len(a.elems) }

// Get returns the element at index i.
func (a *Array) Get(i int) (Value, error) {
	if i < 0 || i >= len(a.elems) {
		return Value{}, &ArrayIndexOutOfBoundsCondition{Index: i, Length: len(a.elems)}
	}
	return a.elems[i], nil
}

// Set stores v at index i after coercing it to the element type.
func (a *Array) Set(i int, v Value) error {
	if i < 0 || i >= len(a.elems) {
		return &ArrayIndexOutOfBoundsCondition{Index: i, Length: len(a.elems)}
	}
	c, err := Coerce(v, a.elemType)
	if err != nil {
		return err
	}
	a.elems[i] = c
	return nil
}

// Clobber forgets every element. The length stays known.
func (a *Array) Clobber() {
	u := Unknown(a.elemType)
	for i := range a.elems {
		a.elems[i] = u
	}
}

// Elements returns a copy of the elements.
func (a *Array) Elements() []Value {
	return append([]Value(nil), a.elems...)
}

func (a *Array) clone() *Array {
	return &Array{elemType: a.elemType, elems: append([]Value(nil), a.elems...)}
}

// Equal compares element type and contents.
func (a *Array) Equal(b *Array) bool {
	if a == b {
		return true
	}
	if a.elemType != b.elemType || len(a.elems) != len(b.elems) {
		return false
	}
	for i := range a.elems {
		if !a.elems[i].Equal(b.elems[i]) {
			return false
		}
	}
	return true
}

func (a *Array) String() string {
	return fmt.Sprintf("%s%v", a.Type(), a.elems)
}

// Heap owns the arrays reachable from one register state. Cloned heaps share
// array storage until one side writes, at which point the writer receives a
// private copy.
type Heap struct {
	arrays  map[Handle]*Array
	owned   map[Handle]bool
	escaped map[Handle]bool
	next    Handle
}

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{
		arrays:  make(map[Handle]*Array),
		owned:   make(map[Handle]bool),
		escaped: make(map[Handle]bool),
		next:    1,
	}
}

// Alloc adds a to the heap and returns its handle.
func (h *Heap) Alloc(a *Array) Handle {
	id := h.next
	h.next++
	h.arrays[id] = a
	h.owned[id] = true
	return id
}

// Array returns the array behind id for reading. Callers must not modify it.
func (h *Heap) Array(id Handle) (*Array, bool) {
	a, ok := h.arrays[id]
	return a, ok
}

// Mutable returns the array behind id for writing, copying it first when the
// storage is shared with another heap.
func (h *Heap) Mutable(id Handle) (*Array, bool) {
	a, ok := h.arrays[id]
	if !ok {
		return nil, false
	}
	if !h.owned[id] {
		a = a.clone()
		h.arrays[id] = a
		h.owned[id] = true
	}
	return a, true
}

// Escape records that the array left the method's view, e.g. through a field
// store, so that calls may modify it.
func (h *Heap) Escape(id Handle) {
	h.escaped[id] = true
}

// Escaped returns the handles of escaped arrays in ascending order.
func (h *Heap) Escaped() []Handle {
	ids := make([]Handle, 0, len(h.escaped))
	for id := range h.escaped {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Handles returns every allocated handle in ascending order.
func (h *Heap) Handles() []Handle {
	ids := make([]Handle, 0, len(h.arrays))
	for id := range h.arrays {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of arrays.
func (h *Heap) Len() int {
	return len(h.arrays)
}

// Clone returns a heap sharing all arrays with h. Both heaps lose ownership
// of the shared arrays, so the next write on either side copies.
func (h *Heap) Clone() *Heap {
	c := &Heap{
		arrays:  make(map[Handle]*Array, len(h.arrays)),
		owned:   make(map[Handle]bool, len(h.arrays)),
		escaped: make(map[Handle]bool, len(h.escaped)),
		next:    h.next,
	}
	for id, a := range h.arrays {
		c.arrays[id] = a
	}
	for id := range h.escaped {
		c.escaped[id] = true
	}
	for id := range h.owned {
		delete(h.owned, id)
	}
	return c
}

// Coerce converts v to a value storable in a location of type typ. Integral
// values are truncated to the target width; 32-bit and 64-bit payloads are
// reinterpreted between integral and floating types. Unknown values take the
// target type.
func Coerce(v Value, typ string) (Value, error) {
	target := desc.Classify(typ)
	if v.IsUnknown() {
		if target == desc.Unknown {
			return v, nil
		}
		return Unknown(typ), nil
	}

	switch target {
	case desc.Unknown:
		return v, nil
	case desc.Reference, desc.Array:
		switch v.kind {
		case KindNull:
			return Null(typ), nil
		case KindArray, KindObject:
			return v, nil
		}
		if v.Category().IsIntegral() && !v.IsWide() && v.AsInt() == 0 {
			return Null(typ), nil
		}
		return Value{}, inconsistent("cannot store %s into %s", v, typ)
	case desc.Long, desc.Double:
		if v.kind != KindPrimitive || !v.IsWide() {
			return Value{}, inconsistent("cannot store %s into %s", v, typ)
		}
		if target == desc.Long {
			return Long(int64(v.bits)), nil
		}
		return primitive(desc.DoubleType, v.bits), nil
	}

	bits, err := narrowBits(v)
	if err != nil {
		return Value{}, inconsistent("cannot store %s into %s", v, typ)
	}
	return fromBits32(target, bits), nil
}

// narrowBits returns the 32-bit payload of a narrow primitive, or 0 for null.
func narrowBits(v Value) (uint32, error) {
	switch v.kind {
	case KindPrimitive:
		if v.IsWide() {
			return 0, inconsistent("%s is wide", v)
		}
		if v.Category() == desc.Float {
			return uint32(v.bits), nil
		}
		return uint32(int32(v.bits)), nil
	case KindNull:
		return 0, nil
	}
	return 0, inconsistent("%s is not a primitive", v)
}

// fromBits32 builds a known value of a narrow category from a 32-bit payload.
func fromBits32(c desc.Category, bits uint32) Value {
	switch c {
	case desc.Boolean:
		return Boolean(bits&0xff != 0)
	case desc.Byte:
		return Byte(int8(bits))
	case desc.Char:
		return Char(uint16(bits))
	case desc.Short:
		return Short(int16(bits))
	case desc.Float:
		return primitive(desc.FloatType, uint64(bits))
	default:
		return Int(int32(bits))
	}
}

// fromRaw builds a known value of category c from a sign-extended payload,
// as found in fill-array-data tables.
func fromRaw(c desc.Category, raw int64) Value {
	switch c {
	case desc.Long:
		return Long(raw)
	case desc.Double:
		return primitive(desc.DoubleType, uint64(raw))
	default:
		return fromBits32(c, uint32(raw))
	}
}
