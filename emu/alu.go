package emu

import (
	"math"

	"golang.org/x/exp/constraints"

	"github.com/sarchlab/dexsim/desc"
	"github.com/sarchlab/dexsim/insts"
)

// ResultKind returns the category an arithmetic operation on operands of
// categories a and b produces. Shifts take the category of the shifted value.
func ResultKind(op insts.ArithOp, a, b desc.Category) desc.Category {
	switch op {
	case insts.ArithShl, insts.ArithShr, insts.ArithUshr:
		return desc.Widen(a)
	}
	return desc.Promote(a, b)
}

// Arith applies op to a and b, inferring the operand kind from their types.
func Arith(op insts.ArithOp, a, b Value) (Value, error) {
	return Binary(op, ResultKind(op, a.Category(), b.Category()), a, b)
}

// Binary applies op to a and b as values of category kind. If either operand
// is unknown the result is unknown of kind, except that an integral division
// by a known zero throws whatever the dividend is.
func Binary(op insts.ArithOp, kind desc.Category, a, b Value) (Value, error) {
	if zeroDivisor(op, kind, b) {
		if err := checkOperand(kind, a); err != nil {
			return Value{}, err
		}
		return Value{}, &ArithmeticCondition{Detail: "divide by zero"}
	}
	if a.IsUnknown() || b.IsUnknown() {
		if err := checkOperand(kind, a); err != nil {
			return Value{}, err
		}
		return Unknown(desc.Descriptor(kind)), nil
	}

	switch kind {
	case desc.Long:
		x, err := wideBits(a)
		if err != nil {
			return Value{}, err
		}
		if isShift(op) {
			n, err := shiftAmount(b)
			if err != nil {
				return Value{}, err
			}
			return Long(shift64(op, int64(x), n)), nil
		}
		y, err := wideBits(b)
		if err != nil {
			return Value{}, err
		}
		r, err := integral(op, int64(x), int64(y))
		return Long(r), err

	case desc.Float:
		x, err := narrowBits(a)
		if err != nil {
			return Value{}, err
		}
		y, err := narrowBits(b)
		if err != nil {
			return Value{}, err
		}
		r, err := floating(op, float64(math.Float32frombits(x)), float64(math.Float32frombits(y)))
		return Float(float32(r)), err

	case desc.Double:
		x, err := wideBits(a)
		if err != nil {
			return Value{}, err
		}
		y, err := wideBits(b)
		if err != nil {
			return Value{}, err
		}
		r, err := floating(op, math.Float64frombits(x), math.Float64frombits(y))
		return Double(r), err

	default:
		x, err := narrowBits(a)
		if err != nil {
			return Value{}, err
		}
		y, err := narrowBits(b)
		if err != nil {
			return Value{}, err
		}
		if isShift(op) {
			return Int(shift32(op, int32(x), uint(y))), nil
		}
		r, err := integral(op, int32(x), int32(y))
		return Int(r), err
	}
}

func zeroDivisor(op insts.ArithOp, kind desc.Category, b Value) bool {
	if op != insts.ArithDiv && op != insts.ArithRem {
		return false
	}
	if !kind.IsIntegral() || b.IsUnknown() {
		return false
	}
	if kind == desc.Long {
		y, err := wideBits(b)
		return err == nil && y == 0
	}
	y, err := narrowBits(b)
	return err == nil && y == 0
}

func isShift(op insts.ArithOp) bool {
	return op == insts.ArithShl || op == insts.ArithShr || op == insts.ArithUshr
}

func shiftAmount(v Value) (uint, error) {
	if v.IsWide() {
		x, err := wideBits(v)
		return uint(x), err
	}
	x, err := narrowBits(v)
	return uint(x), err
}

func shift32(op insts.ArithOp, x int32, n uint) int32 {
	n &= 0x1f
	switch op {
	case insts.ArithShl:
		return x << n
	case insts.ArithShr:
		return x >> n
	default:
		return int32(uint32(x) >> n)
	}
}

func shift64(op insts.ArithOp, x int64, n uint) int64 {
	n &= 0x3f
	switch op {
	case insts.ArithShl:
		return x << n
	case insts.ArithShr:
		return x >> n
	default:
		return int64(uint64(x) >> n)
	}
}

// integral evaluates two's-complement arithmetic. Go defines MinInt / -1 as
// MinInt with remainder 0, which matches the Dalvik result.
func integral[T constraints.Signed](op insts.ArithOp, x, y T) (T, error) {
	switch op {
	case insts.ArithAdd:
		return x + y, nil
	case insts.ArithSub:
		return x - y, nil
	case insts.ArithRsub:
		return y - x, nil
	case insts.ArithMul:
		return x * y, nil
	case insts.ArithDiv:
		if y == 0 {
			return 0, &ArithmeticCondition{Detail: "divide by zero"}
		}
		return x / y, nil
	case insts.ArithRem:
		if y == 0 {
			return 0, &ArithmeticCondition{Detail: "divide by zero"}
		}
		return x % y, nil
	case insts.ArithAnd:
		return x & y, nil
	case insts.ArithOr:
		return x | y, nil
	case insts.ArithXor:
		return x ^ y, nil
	}
	return 0, inconsistent("%s is not an integral binary operation", op)
}

func floating(op insts.ArithOp, x, y float64) (float64, error) {
	switch op {
	case insts.ArithAdd:
		return x + y, nil
	case insts.ArithSub:
		return x - y, nil
	case insts.ArithMul:
		return x * y, nil
	case insts.ArithDiv:
		return x / y, nil
	case insts.ArithRem:
		return math.Mod(x, y), nil
	}
	return 0, inconsistent("%s is not a floating-point operation", op)
}

// Unary applies a negation, complement or conversion from category src to
// category dst.
func Unary(op insts.ArithOp, src, dst desc.Category, a Value) (Value, error) {
	if a.IsUnknown() {
		if err := checkOperand(src, a); err != nil {
			return Value{}, err
		}
		return Unknown(desc.Descriptor(dst)), nil
	}

	switch op {
	case insts.ArithNeg:
		switch src {
		case desc.Long:
			x, err := wideBits(a)
			return Long(-int64(x)), err
		case desc.Float:
			x, err := narrowBits(a)
			return Float(-math.Float32frombits(x)), err
		case desc.Double:
			x, err := wideBits(a)
			return Double(-math.Float64frombits(x)), err
		default:
			x, err := narrowBits(a)
			return Int(-int32(x)), err
		}
	case insts.ArithNot:
		if src == desc.Long {
			x, err := wideBits(a)
			return Long(^int64(x)), err
		}
		x, err := narrowBits(a)
		return Int(^int32(x)), err
	case insts.ArithConvert:
		return convert(src, dst, a)
	}
	return Value{}, inconsistent("%s is not a unary operation", op)
}

func convert(src, dst desc.Category, a Value) (Value, error) {
	var (
		i   int64
		f   float64
		isF bool
	)
	switch src {
	case desc.Long:
		x, err := wideBits(a)
		if err != nil {
			return Value{}, err
		}
		i = int64(x)
	case desc.Double:
		x, err := wideBits(a)
		if err != nil {
			return Value{}, err
		}
		f, isF = math.Float64frombits(x), true
	case desc.Float:
		x, err := narrowBits(a)
		if err != nil {
			return Value{}, err
		}
		f, isF = float64(math.Float32frombits(x)), true
	default:
		x, err := narrowBits(a)
		if err != nil {
			return Value{}, err
		}
		i = int64(int32(x))
	}

	switch dst {
	case desc.Long:
		if isF {
			return Long(saturate[int64](f, math.MinInt64, math.MaxInt64)), nil
		}
		return Long(i), nil
	case desc.Float:
		if isF {
			return Float(float32(f)), nil
		}
		return Float(float32(i)), nil
	case desc.Double:
		if isF {
			return Double(f), nil
		}
		return Double(float64(i)), nil
	case desc.Int:
		if isF {
			return Int(saturate[int32](f, math.MinInt32, math.MaxInt32)), nil
		}
		return Int(int32(i)), nil
	default:
		return fromBits32(dst, uint32(i)), nil
	}
}

// saturate converts f to an integer the way the JVM does: NaN becomes zero
// and out-of-range values clamp to the nearest bound.
func saturate[T constraints.Signed](f float64, lo, hi T) T {
	switch {
	case math.IsNaN(f):
		return 0
	case f <= float64(lo):
		return lo
	case f >= float64(hi):
		return hi
	}
	return T(f)
}

// Cmp evaluates cmp-long, cmpl-* and cmpg-*. bias is the result when either
// floating operand is NaN.
func Cmp(kind desc.Category, bias int64, a, b Value) (Value, error) {
	if a.IsUnknown() || b.IsUnknown() {
		return Unknown(desc.IntType), nil
	}

	switch kind {
	case desc.Long:
		x, err := wideBits(a)
		if err != nil {
			return Value{}, err
		}
		y, err := wideBits(b)
		if err != nil {
			return Value{}, err
		}
		return Int(compare(int64(x), int64(y))), nil
	case desc.Float:
		x, err := narrowBits(a)
		if err != nil {
			return Value{}, err
		}
		y, err := narrowBits(b)
		if err != nil {
			return Value{}, err
		}
		return Int(compareFloat(float64(math.Float32frombits(x)), float64(math.Float32frombits(y)), bias)), nil
	default:
		x, err := wideBits(a)
		if err != nil {
			return Value{}, err
		}
		y, err := wideBits(b)
		if err != nil {
			return Value{}, err
		}
		return Int(compareFloat(math.Float64frombits(x), math.Float64frombits(y), bias)), nil
	}
}

func compare[T constraints.Ordered](x, y T) int32 {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func compareFloat(x, y float64, bias int64) int32 {
	if math.IsNaN(x) || math.IsNaN(y) {
		return int32(bias)
	}
	return compare(x, y)
}

// wideBits returns the 64-bit payload of a wide primitive.
func wideBits(v Value) (uint64, error) {
	if v.kind != KindPrimitive || !v.IsWide() {
		return 0, inconsistent("%s is not a wide primitive", v)
	}
	return v.bits, nil
}

// checkOperand rejects unknown operands whose declared type cannot be of
// category kind, such as a reference used in arithmetic.
func checkOperand(kind desc.Category, v Value) error {
	c := v.Category()
	if c == desc.Unknown {
		return nil
	}
	if c.IsReference() || c.IsWide() != kind.IsWide() {
		return inconsistent("%s used as %s", v, kind)
	}
	return nil
}
