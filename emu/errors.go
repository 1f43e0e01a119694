package emu

import (
	"errors"
	"fmt"

	"github.com/sarchlab/dexsim/desc"
)

// UnboundRegisterError reports a read of a register that holds no value on
// the current path.
type UnboundRegisterError struct {
	Register int
}

func (e *UnboundRegisterError) Error() string {
	return fmt.Sprintf("register v%d is not bound", e.Register)
}

// InvalidWideAccessError reports a wide access to a slot that does not hold
// a wide value, or a narrow access to the high half of a pair.
type InvalidWideAccessError struct {
	Register int
	Reason   string
}

func (e *InvalidWideAccessError) Error() string {
	return fmt.Sprintf("invalid wide access to v%d: %s", e.Register, e.Reason)
}

// TypeModelInconsistencyError reports an operand whose kind cannot be what
// the instruction requires, e.g. aget-object on an int array.
type TypeModelInconsistencyError struct {
	Op     string
	Detail string
}

func (e *TypeModelInconsistencyError) Error() string {
	if e.Op == "" {
		return "type model inconsistency: " + e.Detail
	}
	return fmt.Sprintf("type model inconsistency in %s: %s", e.Op, e.Detail)
}

func inconsistent(format string, args ...interface{}) error {
	return &TypeModelInconsistencyError{Detail: fmt.Sprintf(format, args...)}
}

// Exceptional is implemented by outcomes that model a runtime exception the
// analyzed code may throw. They end a path without invalidating the analysis.
type Exceptional interface {
	error
	ExceptionType() string
}

// NegativeArraySizeError is raised by array allocation with a negative size.
type NegativeArraySizeError struct {
	Length int
}

func (e *NegativeArraySizeError) Error() string {
	return fmt.Sprintf("negative array size %d", e.Length)
}

// ExceptionType returns the descriptor of the modeled exception.
func (e *NegativeArraySizeError) ExceptionType() string {
	return "Ljava/lang/NegativeArraySizeException;"
}

// ArrayIndexOutOfBoundsCondition is raised by a known index outside a known array.
type ArrayIndexOutOfBoundsCondition struct {
	Index  int
	Length int
}

func (e *ArrayIndexOutOfBoundsCondition) Error() string {
	return fmt.Sprintf("index %d out of bounds for length %d", e.Index, e.Length)
}

// ExceptionType returns the descriptor of the modeled exception.
func (e *ArrayIndexOutOfBoundsCondition) ExceptionType() string {
	return "Ljava/lang/ArrayIndexOutOfBoundsException;"
}

// NullPointerCondition is raised by dereferencing a known null reference.
type NullPointerCondition struct {
	Op string
}

func (e *NullPointerCondition) Error() string {
	return "null dereference in " + e.Op
}

// ExceptionType returns the descriptor of the modeled exception.
func (e *NullPointerCondition) ExceptionType() string {
	return "Ljava/lang/NullPointerException;"
}

// ArithmeticCondition is raised by integral division by a known zero.
type ArithmeticCondition struct {
	Detail string
}

func (e *ArithmeticCondition) Error() string {
	return e.Detail
}

// ExceptionType returns the descriptor of the modeled exception.
func (e *ArithmeticCondition) ExceptionType() string {
	return "Ljava/lang/ArithmeticException;"
}

// ThrownValue is the outcome of an explicit throw instruction.
type ThrownValue struct {
	Value Value
}

func (e *ThrownValue) Error() string {
	return "throw " + e.Value.String()
}

// ExceptionType returns the declared type of the thrown value.
func (e *ThrownValue) ExceptionType() string {
	if e.Value.Type() == desc.UnknownType {
		return desc.Throwable
	}
	return e.Value.Type()
}

// IsDefect reports whether err signals malformed input rather than a
// modeled exception.
func IsDefect(err error) bool {
	if err == nil {
		return false
	}
	var ex Exceptional
	return !errors.As(err, &ex)
}

// AsExceptional extracts the modeled exception from err.
func AsExceptional(err error) (Exceptional, bool) {
	var ex Exceptional
	if errors.As(err, &ex) {
		return ex, true
	}
	return nil, false
}
