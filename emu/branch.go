package emu

import (
	"github.com/sarchlab/dexsim/desc"
	"github.com/sarchlab/dexsim/insts"
)

// Truth is the outcome of a branch predicate over abstract values.
type Truth uint8

// Predicate outcomes.
const (
	False Truth = iota
	True
	Maybe
)

func (t Truth) String() string {
	switch t {
	case False:
		return "false"
	case True:
		return "true"
	default:
		return "maybe"
	}
}

func truth(b bool) Truth {
	if b {
		return True
	}
	return False
}

// Test evaluates "a cond b". Any unknown operand makes the outcome Maybe.
// References compare by identity and only support eq and ne.
func Test(cond insts.Cond, a, b Value) (Truth, error) {
	ra, aRef := asReference(a)
	rb, bRef := asReference(b)
	if aRef || bRef {
		if cond != insts.CondEQ && cond != insts.CondNE {
			return Maybe, inconsistent("if-%s on reference %s", cond, a)
		}
		if a.IsUnknown() || b.IsUnknown() {
			return Maybe, nil
		}
		if !aRef {
			ra, aRef = zeroAsNull(a)
		}
		if !bRef {
			rb, bRef = zeroAsNull(b)
		}
		if !aRef || !bRef {
			return Maybe, inconsistent("comparing %s with %s", a, b)
		}
		eq := ra == rb
		if cond == insts.CondNE {
			eq = !eq
		}
		return truth(eq), nil
	}

	if a.IsUnknown() || b.IsUnknown() {
		return Maybe, nil
	}
	x, err := narrowBits(a)
	if err != nil {
		return Maybe, err
	}
	y, err := narrowBits(b)
	if err != nil {
		return Maybe, err
	}
	c := compare(int32(x), int32(y))

	switch cond {
	case insts.CondEQ:
		return truth(c == 0), nil
	case insts.CondNE:
		return truth(c != 0), nil
	case insts.CondLT:
		return truth(c < 0), nil
	case insts.CondGE:
		return truth(c >= 0), nil
	case insts.CondGT:
		return truth(c > 0), nil
	default:
		return truth(c <= 0), nil
	}
}

// TestZero evaluates "a cond 0". For references zero is null.
func TestZero(cond insts.Cond, a Value) (Truth, error) {
	if _, ref := asReference(a); ref {
		return Test(cond, a, Null(a.typ))
	}
	return Test(cond, a, Int(0))
}

// reference identifies what a reference value points to.
type reference struct {
	handle Handle
	obj    *Instance
}

// asReference reports whether v is reference-typed and, if known, what it
// refers to. Null is the zero reference.
func asReference(v Value) (reference, bool) {
	switch v.kind {
	case KindNull:
		return reference{}, true
	case KindArray:
		return reference{handle: v.handle}, true
	case KindObject:
		return reference{obj: v.obj}, true
	case KindUnknown:
		return reference{}, v.Category().IsReference()
	}
	return reference{}, false
}

// zeroAsNull treats an untyped constant 0 as the null reference.
func zeroAsNull(v Value) (reference, bool) {
	if v.kind == KindPrimitive && !v.IsWide() && v.Category() != desc.Float && v.AsInt() == 0 {
		return reference{}, true
	}
	return reference{}, false
}

// successors returns the addresses a conditional branch may continue at.
// A Maybe outcome yields the taken target first.
func successors(t Truth, taken, fall int) []int {
	switch t {
	case True:
		return []int{taken}
	case False:
		return []int{fall}
	}
	if taken == fall {
		return []int{taken}
	}
	return []int{taken, fall}
}

// switchTargets returns the successors of a switch on key.
func switchTargets(inst *insts.Instruction, key Value) ([]int, error) {
	p := inst.Payload
	if p == nil {
		return nil, inconsistent("%s at %d has no payload", inst.Name(), inst.Address)
	}

	if key.IsUnknown() {
		if c := key.Category(); c != desc.Unknown && (c.IsReference() || c.IsWide()) {
			return nil, inconsistent("switch on %s", key)
		}
		seen := make(map[int]bool)
		var out []int
		for _, t := range p.Targets {
			addr := inst.Address + int(t)
			if !seen[addr] {
				seen[addr] = true
				out = append(out, addr)
			}
		}
		if !seen[inst.Next()] {
			out = append(out, inst.Next())
		}
		return out, nil
	}

	bits, err := narrowBits(key)
	if err != nil {
		return nil, err
	}
	k := int32(bits)
	for i, key := range p.Keys {
		if key == k {
			return []int{inst.Address + int(p.Targets[i])}, nil
		}
	}
	return []int{inst.Next()}, nil
}
