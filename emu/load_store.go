package emu

import (
	"github.com/sarchlab/dexsim/desc"
	"github.com/sarchlab/dexsim/insts"
)

// variantType returns the element type an access variant implies when the
// array's own type says nothing, e.g. aget-char yields chars.
func variantType(kind desc.Category) string {
	return desc.Descriptor(kind)
}

// elementType returns the element descriptor of an array-typed value, or the
// variant's implied type when the declared type is not an array.
func elementType(arr Value, kind desc.Category) string {
	if arr.Category() == desc.Array {
		if t, err := desc.Component(arr.Type()); err == nil {
			return t
		}
	}
	return variantType(kind)
}

// readIndex extracts a known index.
func readIndex(idx Value) (int, error) {
	if idx.Category().IsReference() || idx.IsWide() {
		return 0, inconsistent("array index %s", idx)
	}
	bits, err := narrowBits(idx)
	if err != nil {
		return 0, err
	}
	return int(int32(bits)), nil
}

// resolveArray maps a known array reference to its storage. Null yields a
// NullPointerCondition.
func resolveArray(st *RegisterState, op string, arr Value) (*Array, error) {
	switch arr.kind {
	case KindArray:
		a, ok := st.heap.Array(arr.handle)
		if !ok {
			return nil, inconsistent("dangling array %s", arr)
		}
		return a, nil
	case KindNull:
		return nil, &NullPointerCondition{Op: op}
	}
	if arr.kind == KindPrimitive && arr.Category().IsIntegral() && !arr.IsWide() && arr.AsInt() == 0 {
		return nil, &NullPointerCondition{Op: op}
	}
	return nil, inconsistent("%s on non-array %s", op, arr)
}

// compatible reports whether an access variant may read or write elements of
// category elem.
func compatible(kind, elem desc.Category) bool {
	switch {
	case elem == desc.Unknown:
		return true
	case kind == desc.Reference:
		return elem.IsReference()
	case kind.IsWide():
		return elem.IsWide()
	default:
		return elem.IsPrimitive() && !elem.IsWide()
	}
}

// ArrayGet evaluates an aget of the given variant on arr[idx].
//
// An unknown array yields an unknown element of the array's component type.
// A known array with an unknown index yields an unknown element of the
// array's element type. A known in-range index yields the stored element,
// narrowed or widened to the variant. Unknown elements stay unknown.
func ArrayGet(st *RegisterState, kind desc.Category, arr, idx Value) (Value, error) {
	op := "aget"
	if arr.IsUnknown() {
		if c := arr.Category(); c != desc.Unknown && !c.IsReference() {
			return Value{}, inconsistent("%s on %s", op, arr)
		}
		t := elementType(arr, kind)
		if !compatible(kind, desc.Classify(t)) {
			return Value{}, &TypeModelInconsistencyError{
				Op:     "aget-" + kind.String(),
				Detail: "array of " + t,
			}
		}
		return Unknown(t), nil
	}

	a, err := resolveArray(st, op, arr)
	if err != nil {
		return Value{}, err
	}
	elem := desc.Classify(a.elemType)
	if !compatible(kind, elem) {
		return Value{}, &TypeModelInconsistencyError{
			Op:     "aget-" + kind.String(),
			Detail: "array of " + a.elemType,
		}
	}

	if idx.IsUnknown() {
		return Unknown(a.elemType), nil
	}
	i, err := readIndex(idx)
	if err != nil {
		return Value{}, err
	}
	v, err := a.Get(i)
	if err != nil {
		return Value{}, err
	}
	if v.IsUnknown() || kind == desc.Reference || kind.IsWide() {
		return v, nil
	}
	return narrowElement(kind, v)
}

// narrowElement converts a stored narrow element to the requested variant.
// Plain aget keeps floats as floats.
func narrowElement(kind desc.Category, v Value) (Value, error) {
	if kind == desc.Int && v.Category() == desc.Float {
		return v, nil
	}
	bits, err := narrowBits(v)
	if err != nil {
		return Value{}, err
	}
	return fromBits32(kind, bits), nil
}

// ArrayPut evaluates an aput of the given variant storing v into arr[idx].
//
// An unknown array is left alone since nothing is known about its storage.
// A known array with an unknown index loses every element. Otherwise the
// element is replaced in place, which every alias of the array observes.
func ArrayPut(st *RegisterState, kind desc.Category, arr, idx, v Value) error {
	op := "aput"
	if arr.IsUnknown() {
		if c := arr.Category(); c != desc.Unknown && !c.IsReference() {
			return inconsistent("%s on %s", op, arr)
		}
		return nil
	}

	a, err := resolveArray(st, op, arr)
	if err != nil {
		return err
	}
	if !compatible(kind, desc.Classify(a.elemType)) {
		return &TypeModelInconsistencyError{
			Op:     "aput-" + kind.String(),
			Detail: "array of " + a.elemType,
		}
	}

	if idx.IsUnknown() {
		m, _ := st.heap.Mutable(arr.handle)
		m.Clobber()
		return nil
	}
	i, err := readIndex(idx)
	if err != nil {
		return err
	}
	if i < 0 || i >= a.Len() {
		return &ArrayIndexOutOfBoundsCondition{Index: i, Length: a.Len()}
	}
	m, _ := st.heap.Mutable(arr.handle)
	return m.Set(i, v)
}

// ArrayLength evaluates array-length.
func ArrayLength(st *RegisterState, arr Value) (Value, error) {
	if arr.IsUnknown() {
		return Unknown(desc.IntType), nil
	}
	a, err := resolveArray(st, "array-length", arr)
	if err != nil {
		return Value{}, err
	}
	return Int(int32(a.Len())), nil
}

// NewArrayValue allocates an array of type typ in st. An unknown size yields
// an unknown array.
func NewArrayValue(st *RegisterState, typ string, size Value) (Value, error) {
	elem, err := desc.Component(typ)
	if err != nil || elem == desc.UnknownType {
		return Value{}, inconsistent("new-array of %q", typ)
	}
	if size.IsUnknown() {
		return Unknown(typ), nil
	}
	n, err := readIndex(size)
	if err != nil {
		return Value{}, err
	}
	a, err := NewArray(elem, n)
	if err != nil {
		return Value{}, err
	}
	return ArrayRef(st.heap.Alloc(a), typ), nil
}

// FilledArray allocates an array of type typ holding elems.
func FilledArray(st *RegisterState, typ string, elems []Value) (Value, error) {
	v, err := NewArrayValue(st, typ, Int(int32(len(elems))))
	if err != nil {
		return Value{}, err
	}
	a, _ := st.heap.Mutable(v.handle)
	for i, e := range elems {
		if err := a.Set(i, e); err != nil {
			return Value{}, err
		}
	}
	return v, nil
}

// FillArray copies a fill-array-data table into arr.
func FillArray(st *RegisterState, arr Value, p *insts.Payload) error {
	if arr.IsUnknown() {
		return nil
	}
	a, err := resolveArray(st, "fill-array-data", arr)
	if err != nil {
		return err
	}
	if len(p.Data) > a.Len() {
		return &ArrayIndexOutOfBoundsCondition{Index: len(p.Data) - 1, Length: a.Len()}
	}
	elem := desc.Classify(a.elemType)
	if !elem.IsPrimitive() || elem.Bits() > 8*p.ElementWidth {
		return inconsistent("fill-array-data of width %d into %s", p.ElementWidth, a.Type())
	}

	m, _ := st.heap.Mutable(arr.handle)
	for i, raw := range p.Data {
		m.elems[i] = fromRaw(elem, raw)
	}
	return nil
}

// clobberArray forgets the contents of a known array argument.
func clobberArray(st *RegisterState, v Value) {
	if !v.IsArray() {
		return
	}
	if m, ok := st.heap.Mutable(v.handle); ok {
		m.Clobber()
	}
}

// escape marks a known array as visible outside the method.
func escape(st *RegisterState, v Value) {
	if v.IsArray() {
		st.heap.Escape(v.handle)
	}
}

// StaticGet reads a static field. A field the path has not written reads as
// unknown of its declared type.
func StaticGet(st *RegisterState, f insts.FieldRef) Value {
	if v, ok := st.Static(f.String()); ok {
		return v
	}
	return Unknown(f.Type)
}

// StaticPut writes a static field.
func StaticPut(st *RegisterState, f insts.FieldRef, v Value) error {
	c, err := Coerce(v, f.Type)
	if err != nil {
		return err
	}
	escape(st, v)
	st.SetStatic(f.String(), c)
	return nil
}

// InstanceGet reads an instance field. Object contents are not modeled, so
// the result is unknown unless the receiver is null.
func InstanceGet(obj Value, f insts.FieldRef) (Value, error) {
	if err := checkReceiver("iget", obj); err != nil {
		return Value{}, err
	}
	return Unknown(f.Type), nil
}

// InstancePut writes an instance field. Stored arrays escape.
func InstancePut(st *RegisterState, obj Value, f insts.FieldRef, v Value) error {
	if err := checkReceiver("iput", obj); err != nil {
		return err
	}
	if _, err := Coerce(v, f.Type); err != nil {
		return err
	}
	escape(st, v)
	return nil
}

// checkReceiver fails on a known null or non-reference receiver.
func checkReceiver(op string, obj Value) error {
	if obj.IsNull() {
		return &NullPointerCondition{Op: op}
	}
	if _, ref := zeroAsNull(obj); ref {
		return &NullPointerCondition{Op: op}
	}
	if obj.kind == KindPrimitive {
		return inconsistent("%s on %s", op, obj)
	}
	return nil
}
