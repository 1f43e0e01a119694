package emu

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/sarchlab/dexsim/desc"
)

// slot is one register. A wide value lives in the low register of a pair;
// the high register is a continuation slot that holds no value of its own.
type slot struct {
	value Value
	cont  bool
}

// RegisterState is the abstract register file of one execution path. It also
// carries the path's array heap, the static field store and the result
// register filled by invoke and filled-new-array.
type RegisterState struct {
	regs    map[int]slot
	heap    *Heap
	statics map[string]Value

	result    Value
	hasResult bool
}

// NewRegisterState creates a state with every register unbound.
func NewRegisterState() *RegisterState {
	return &RegisterState{
		regs:    make(map[int]slot),
		heap:    NewHeap(),
		statics: make(map[string]Value),
	}
}

// Heap returns the array heap of the path.
func (s *RegisterState) Heap() *Heap {
	return s.heap
}

// Get reads a narrow register.
func (s *RegisterState) Get(i int) (Value, error) {
	sl, ok := s.regs[i]
	if !ok {
		return Value{}, &UnboundRegisterError{Register: i}
	}
	if sl.cont {
		return Value{}, &InvalidWideAccessError{Register: i, Reason: "high half of a wide pair"}
	}
	if sl.value.IsWide() {
		return Value{}, &InvalidWideAccessError{Register: i, Reason: "holds a wide value"}
	}
	return sl.value, nil
}

// GetWide reads the wide value whose low register is lo.
func (s *RegisterState) GetWide(lo int) (Value, error) {
	sl, ok := s.regs[lo]
	if !ok {
		return Value{}, &UnboundRegisterError{Register: lo}
	}
	if sl.cont || !sl.value.IsWide() {
		return Value{}, &InvalidWideAccessError{Register: lo, Reason: "not the low half of a wide pair"}
	}
	if hi, ok := s.regs[lo+1]; !ok || !hi.cont {
		return Value{}, &InvalidWideAccessError{Register: lo, Reason: "high half is missing"}
	}
	return sl.value, nil
}

// Set binds a narrow value to register i. Any wide pair overlapping i is
// invalidated.
func (s *RegisterState) Set(i int, v Value) error {
	if i < 0 {
		return &UnboundRegisterError{Register: i}
	}
	if v.IsWide() {
		return &InvalidWideAccessError{Register: i, Reason: "wide value in a narrow write"}
	}
	s.release(i)
	s.regs[i] = slot{value: v}
	return nil
}

// SetWide binds a wide value to the pair lo, lo+1.
func (s *RegisterState) SetWide(lo int, v Value) error {
	if lo < 0 {
		return &UnboundRegisterError{Register: lo}
	}
	if !v.IsWide() {
		return &InvalidWideAccessError{Register: lo, Reason: "narrow value in a wide write"}
	}
	s.release(lo)
	s.release(lo + 1)
	s.regs[lo] = slot{value: v}
	s.regs[lo+1] = slot{cont: true}
	return nil
}

// Assign writes v with Set or SetWide according to its width.
func (s *RegisterState) Assign(i int, v Value) error {
	if v.IsWide() {
		return s.SetWide(i, v)
	}
	return s.Set(i, v)
}

// Unbind forgets register i and any pair it belongs to.
func (s *RegisterState) Unbind(i int) {
	s.release(i)
}

// release drops register i together with the other half of its pair.
func (s *RegisterState) release(i int) {
	sl, ok := s.regs[i]
	if !ok {
		return
	}
	delete(s.regs, i)
	if sl.cont {
		delete(s.regs, i-1)
	} else if sl.value.IsWide() {
		delete(s.regs, i+1)
	}
}

// IsBound reports whether register i holds a value or a pair continuation.
func (s *RegisterState) IsBound(i int) bool {
	_, ok := s.regs[i]
	return ok
}

// Registers returns the bound value registers in ascending order. High
// halves of wide pairs are omitted.
func (s *RegisterState) Registers() []int {
	regs := make([]int, 0, len(s.regs))
	for i, sl := range s.regs {
		if !sl.cont {
			regs = append(regs, i)
		}
	}
	sort.Ints(regs)
	return regs
}

// Static reads a static field. The second result is false when the path has
// not written the field.
func (s *RegisterState) Static(field string) (Value, bool) {
	v, ok := s.statics[field]
	return v, ok
}

// SetStatic writes a static field.
func (s *RegisterState) SetStatic(field string, v Value) {
	s.statics[field] = v
}

// Result returns the pending result of the last invoke or filled-new-array.
func (s *RegisterState) Result() (Value, bool) {
	return s.result, s.hasResult
}

// SetResult fills the result register.
func (s *RegisterState) SetResult(v Value) {
	s.result, s.hasResult = v, true
}

// ClearResult empties the result register.
func (s *RegisterState) ClearResult() {
	s.result, s.hasResult = Value{}, false
}

// Clone returns an independent copy. Arrays are shared copy-on-write, so
// aliasing inside each copy is preserved and writes never cross copies.
func (s *RegisterState) Clone() *RegisterState {
	c := &RegisterState{
		regs:      make(map[int]slot, len(s.regs)),
		heap:      s.heap.Clone(),
		statics:   make(map[string]Value, len(s.statics)),
		result:    s.result,
		hasResult: s.hasResult,
	}
	for i, sl := range s.regs {
		c.regs[i] = sl
	}
	for k, v := range s.statics {
		c.statics[k] = v
	}
	return c
}

// roots returns every value the state refers to directly.
func (s *RegisterState) roots() []Value {
	var vs []Value
	for _, i := range s.Registers() {
		vs = append(vs, s.regs[i].value)
	}
	for _, k := range s.staticKeys() {
		vs = append(vs, s.statics[k])
	}
	if s.hasResult {
		vs = append(vs, s.result)
	}
	return vs
}

func (s *RegisterState) staticKeys() []string {
	keys := make([]string, 0, len(s.statics))
	for k := range s.statics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// reachable returns the handles of arrays reachable from the state, in
// ascending order.
func (s *RegisterState) reachable() []Handle {
	seen := make(map[Handle]bool)
	var walk func(v Value)
	walk = func(v Value) {
		if !v.IsArray() || seen[v.handle] {
			return
		}
		seen[v.handle] = true
		if a, ok := s.heap.Array(v.handle); ok {
			for _, e := range a.elems {
				walk(e)
			}
		}
	}
	for _, v := range s.roots() {
		walk(v)
	}

	ids := make([]Handle, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Equal reports whether both states bind the same registers to equal values,
// agree on static fields and on the result register, and hold equal contents
// in every reachable array.
func (s *RegisterState) Equal(o *RegisterState) bool {
	if s == o {
		return true
	}
	if len(s.regs) != len(o.regs) || len(s.statics) != len(o.statics) || s.hasResult != o.hasResult {
		return false
	}
	for i, sl := range s.regs {
		osl, ok := o.regs[i]
		if !ok || sl.cont != osl.cont || !sl.value.Equal(osl.value) {
			return false
		}
	}
	for k, v := range s.statics {
		ov, ok := o.statics[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	if s.hasResult && !s.result.Equal(o.result) {
		return false
	}

	for _, id := range s.reachable() {
		a, aok := s.heap.Array(id)
		b, bok := o.heap.Array(id)
		if aok != bok || (aok && !a.Equal(b)) {
			return false
		}
	}
	return true
}

// Fingerprint hashes the state so that equal states hash equally.
func (s *RegisterState) Fingerprint() uint64 {
	d := xxhash.New()
	var buf [8]byte
	putInt := func(n uint64) {
		binary.LittleEndian.PutUint64(buf[:], n)
		_, _ = d.Write(buf[:])
	}
	putValue := func(v Value) {
		putInt(uint64(v.kind))
		_, _ = d.WriteString(v.typ)
		putInt(v.bits)
		putInt(uint64(v.handle))
		if v.obj != nil {
			putInt(v.obj.id)
		}
	}

	for _, i := range s.Registers() {
		putInt(uint64(i))
		putValue(s.regs[i].value)
	}
	for _, k := range s.staticKeys() {
		_, _ = d.WriteString(k)
		putValue(s.statics[k])
	}
	if s.hasResult {
		putValue(s.result)
	}
	for _, id := range s.reachable() {
		a, _ := s.heap.Array(id)
		putInt(uint64(id))
		for _, e := range a.elems {
			putValue(e)
		}
	}
	return d.Sum64()
}

// Join returns a state that over-approximates both a and b. Registers bound
// to equal values in both keep them; registers bound in both to different
// values become unknown of a common type; registers bound in only one state
// are dropped. Arrays survive only when both states hold equal contents.
func Join(a, b *RegisterState) *RegisterState {
	j := &RegisterState{
		regs:    make(map[int]slot),
		heap:    a.heap.Clone(),
		statics: make(map[string]Value),
	}
	for i, sl := range a.regs {
		osl, ok := b.regs[i]
		if !ok || sl.cont != osl.cont {
			continue
		}
		if sl.cont {
			j.regs[i] = sl
			continue
		}
		j.regs[i] = slot{value: joinValue(a, b, sl.value, osl.value)}
	}
	// A pair survives only with both halves.
	for i, sl := range j.regs {
		if sl.cont {
			if lo, ok := j.regs[i-1]; !ok || !lo.value.IsWide() {
				delete(j.regs, i)
			}
		} else if sl.value.IsWide() {
			if hi, ok := j.regs[i+1]; !ok || !hi.cont {
				j.regs[i] = slot{value: Unknown(desc.UnknownType)}
			}
		}
	}

	for k, v := range a.statics {
		if ov, ok := b.statics[k]; ok {
			j.statics[k] = joinValue(a, b, v, ov)
		}
	}
	if a.hasResult && b.hasResult {
		j.SetResult(joinValue(a, b, a.result, b.result))
	}
	return j
}

func joinValue(sa, sb *RegisterState, a, b Value) Value {
	if a.Equal(b) {
		if !a.IsArray() {
			return a
		}
		x, xok := sa.heap.Array(a.handle)
		y, yok := sb.heap.Array(b.handle)
		if xok && yok && x.Equal(y) {
			return a
		}
		return Unknown(a.typ)
	}
	return Unknown(commonType(a.typ, b.typ))
}

// commonType returns the most precise descriptor covering both a and b.
func commonType(a, b string) string {
	if a == b {
		return a
	}
	ca, cb := desc.Classify(a), desc.Classify(b)
	switch {
	case ca.IsReference() && cb.IsReference():
		return desc.Object
	case ca.IsWide() && cb.IsWide():
		return desc.LongType
	case ca.IsPrimitive() && cb.IsPrimitive() && !ca.IsWide() && !cb.IsWide():
		return desc.IntType
	}
	return desc.UnknownType
}

func (s *RegisterState) String() string {
	var b strings.Builder
	for n, i := range s.Registers() {
		if n > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "v%d=%s", i, s.regs[i].value)
	}
	return b.String()
}
