package emu

import (
	"errors"
	"strconv"
	"unicode/utf16"
)

// ErrNotEmulated is returned by a MethodFunc that cannot produce a concrete
// result for its arguments. The call is then treated as unmodeled.
var ErrNotEmulated = errors.New("not emulated")

// MethodFunc computes the result of a side-effect-free method from known
// arguments. The receiver, if any, is args[0].
type MethodFunc func(args []Value) (Value, error)

// builtinMethods model a few pure library methods.
var builtinMethods = map[string]MethodFunc{
	"Ljava/lang/String;->length()I": func(args []Value) (Value, error) {
		s, ok := stringLiteral(args[0])
		if !ok {
			return Value{}, ErrNotEmulated
		}
		return Int(int32(len(utf16.Encode([]rune(s))))), nil
	},
	"Ljava/lang/String;->equals(Ljava/lang/Object;)Z": func(args []Value) (Value, error) {
		s, ok := stringLiteral(args[0])
		if !ok {
			return Value{}, ErrNotEmulated
		}
		if args[1].IsNull() {
			return Boolean(false), nil
		}
		o, ok := stringLiteral(args[1])
		if !ok {
			return Value{}, ErrNotEmulated
		}
		return Boolean(s == o), nil
	},
	"Ljava/lang/String;->valueOf(I)Ljava/lang/String;": func(args []Value) (Value, error) {
		return Object(NewString(strconv.Itoa(int(args[0].AsInt())))), nil
	},
	"Ljava/lang/Math;->abs(I)I": func(args []Value) (Value, error) {
		x := args[0].AsInt()
		if x < 0 {
			x = -x
		}
		return Int(x), nil
	},
	"Ljava/lang/Math;->max(II)I": func(args []Value) (Value, error) {
		return Int(max(args[0].AsInt(), args[1].AsInt())), nil
	},
	"Ljava/lang/Math;->min(II)I": func(args []Value) (Value, error) {
		return Int(min(args[0].AsInt(), args[1].AsInt())), nil
	},
}

// getClassMethod resolves to the interned class object of its receiver, so
// it is bound to an emulator rather than listed in builtinMethods.
const getClassMethod = "Ljava/lang/Object;->getClass()Ljava/lang/Class;"

// getClass returns the class object const-class yields for the receiver's
// type. Known objects carry their exact runtime type.
func (e *Emulator) getClass(args []Value) (Value, error) {
	if args[0].Kind() != KindObject {
		return Value{}, ErrNotEmulated
	}
	return Object(e.classObject(args[0].Type())), nil
}

func stringLiteral(v Value) (string, bool) {
	if v.Kind() != KindObject {
		return "", false
	}
	return v.Instance().Literal()
}

// emulate runs the model for sig when one exists and every argument is known.
func (e *Emulator) emulate(sig string, args []Value) (Value, bool, error) {
	fn, ok := e.methods[sig]
	if !ok {
		return Value{}, false, nil
	}
	for _, a := range args {
		if a.IsUnknown() {
			return Value{}, false, nil
		}
	}

	v, err := fn(args)
	if errors.Is(err, ErrNotEmulated) {
		return Value{}, false, nil
	}
	if err != nil {
		return Value{}, false, err
	}
	return v, true, nil
}
