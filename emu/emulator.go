package emu

import (
	"errors"
	"fmt"

	"github.com/sarchlab/dexsim/desc"
	"github.com/sarchlab/dexsim/insts"
)

// ErrInstructionLimit is reported by Run when the instruction budget is spent.
var ErrInstructionLimit = errors.New("instruction limit reached")

// StepResult represents the result of executing a single instruction.
type StepResult struct {
	// Next holds the addresses execution may continue at. More than one
	// entry means the instruction's outcome depends on unknown values.
	Next []int

	// Exited is true if the path terminated by return or by an exception.
	Exited bool

	// Returned is the returned value; nil for return-void and exceptions.
	Returned *Value

	// Thrown is set when the path ends with a modeled exception.
	Thrown Exceptional

	// Err is set if the input is malformed. The path state is undefined.
	Err error
}

// Forked reports whether execution continues at more than one address.
func (r StepResult) Forked() bool {
	return len(r.Next) > 1
}

// Emulator abstractly executes one decoded method. An Emulator is not safe
// for concurrent use.
type Emulator struct {
	code  []*insts.Instruction
	index map[int]int

	methods map[string]MethodFunc
	strings map[string]*Instance
	classes map[string]*Instance

	instructionCount uint64
	maxInstructions  uint64 // 0 means no limit
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithMethod installs a model for the method with the given signature, e.g.
// "Ljava/lang/Math;->abs(I)I". It replaces any built-in model.
func WithMethod(signature string, fn MethodFunc) EmulatorOption {
	return func(e *Emulator) {
		e.methods[signature] = fn
	}
}

// WithoutBuiltinMethods removes the built-in method models.
func WithoutBuiltinMethods() EmulatorOption {
	return func(e *Emulator) {
		for sig := range builtinMethods {
			delete(e.methods, sig)
		}
		delete(e.methods, getClassMethod)
	}
}

// WithMaxInstructions sets the maximum number of instructions Run executes.
// A value of 0 means no limit.
func WithMaxInstructions(max uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = max
	}
}

// NewEmulator creates an emulator for the given method body.
func NewEmulator(code []*insts.Instruction, opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		code:    code,
		index:   make(map[int]int, len(code)),
		methods: make(map[string]MethodFunc, len(builtinMethods)),
		strings: make(map[string]*Instance),
		classes: make(map[string]*Instance),
	}
	for i, inst := range code {
		e.index[inst.Address] = i
	}
	for sig, fn := range builtinMethods {
		e.methods[sig] = fn
	}
	e.methods[getClassMethod] = e.getClass

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Code returns the method body.
func (e *Emulator) Code() []*insts.Instruction {
	return e.code
}

// Entry returns the address of the first instruction.
func (e *Emulator) Entry() int {
	if len(e.code) == 0 {
		return 0
	}
	return e.code[0].Address
}

// Instruction returns the instruction at addr.
func (e *Emulator) Instruction(addr int) (*insts.Instruction, bool) {
	i, ok := e.index[addr]
	if !ok {
		return nil, false
	}
	return e.code[i], true
}

// InstructionCount returns the number of instructions executed so far.
func (e *Emulator) InstructionCount() uint64 {
	return e.instructionCount
}

// Step executes the instruction at pc against st, updating st in place.
func (e *Emulator) Step(pc int, st *RegisterState) StepResult {
	inst, ok := e.Instruction(pc)
	if !ok {
		return StepResult{Err: fmt.Errorf("no instruction at %d", pc)}
	}
	e.instructionCount++

	result := e.execute(inst, st)
	if result.Err != nil {
		if ex, ok := AsExceptional(result.Err); ok {
			return StepResult{Exited: true, Thrown: ex}
		}
		result.Err = fmt.Errorf("%s at %d: %w", inst.Name(), inst.Address, result.Err)
	}
	return result
}

// Run executes from pc until the path exits, forks or fails. A forked
// result is returned as is, leaving the choice of successor to the caller.
func (e *Emulator) Run(pc int, st *RegisterState) StepResult {
	for steps := uint64(0); ; steps++ {
		if e.maxInstructions > 0 && steps >= e.maxInstructions {
			return StepResult{Next: []int{pc}, Err: ErrInstructionLimit}
		}
		result := e.Step(pc, st)
		if result.Exited || result.Err != nil || result.Forked() {
			return result
		}
		pc = result.Next[0]
	}
}

// execute dispatches on the instruction family.
func (e *Emulator) execute(inst *insts.Instruction, st *RegisterState) StepResult {
	var err error
	switch inst.Family {
	case insts.FamilyNop:
	case insts.FamilyMove:
		err = e.executeMove(inst, st)
	case insts.FamilyMoveResult:
		err = e.executeMoveResult(inst, st)
	case insts.FamilyMoveException:
		err = st.Set(inst.A, Unknown(desc.Throwable))
	case insts.FamilyReturn:
		return e.executeReturn(inst, st)
	case insts.FamilyConst:
		err = e.executeConst(inst, st)
	case insts.FamilyConstString:
		err = st.Set(inst.A, Object(e.internString(inst.Str)))
	case insts.FamilyConstClass:
		err = st.Set(inst.A, Object(e.classObject(inst.Type)))
	case insts.FamilyMonitor:
		err = e.executeMonitor(inst, st)
	case insts.FamilyCheckCast:
		err = e.executeCheckCast(inst, st)
	case insts.FamilyInstanceOf:
		err = e.executeInstanceOf(inst, st)
	case insts.FamilyArrayLength:
		err = e.executeArrayLength(inst, st)
	case insts.FamilyNewInstance:
		err = st.Set(inst.A, Object(NewInstance(inst.Type)))
	case insts.FamilyNewArray:
		err = e.executeNewArray(inst, st)
	case insts.FamilyFilledNewArray:
		err = e.executeFilledNewArray(inst, st)
	case insts.FamilyFillArrayData:
		err = e.executeFillArrayData(inst, st)
	case insts.FamilyThrow:
		err = e.executeThrow(inst, st)
	case insts.FamilyGoto:
		return StepResult{Next: []int{inst.Target()}}
	case insts.FamilySwitch:
		return e.executeSwitch(inst, st)
	case insts.FamilyCmp:
		err = e.executeCmp(inst, st)
	case insts.FamilyIf, insts.FamilyIfZ:
		return e.executeIf(inst, st)
	case insts.FamilyArrayGet:
		err = e.executeArrayGet(inst, st)
	case insts.FamilyArrayPut:
		err = e.executeArrayPut(inst, st)
	case insts.FamilyInstanceGet:
		err = e.executeInstanceGet(inst, st)
	case insts.FamilyInstancePut:
		err = e.executeInstancePut(inst, st)
	case insts.FamilyStaticGet:
		err = st.Assign(inst.A, StaticGet(st, inst.Field))
	case insts.FamilyStaticPut:
		err = e.executeStaticPut(inst, st)
	case insts.FamilyInvoke:
		err = e.executeInvoke(inst, st)
	case insts.FamilyUnary:
		err = e.executeUnary(inst, st)
	case insts.FamilyBinary, insts.FamilyBinary2Addr, insts.FamilyBinaryLit:
		err = e.executeBinary(inst, st)
	default:
		err = fmt.Errorf("unimplemented instruction family %d", inst.Family)
	}

	if err != nil {
		return StepResult{Err: err}
	}
	return StepResult{Next: []int{inst.Next()}}
}

// read fetches a register with the width the instruction kind implies.
func read(st *RegisterState, reg int, kind desc.Category) (Value, error) {
	if kind.IsWide() {
		return st.GetWide(reg)
	}
	return st.Get(reg)
}

func (e *Emulator) executeMove(inst *insts.Instruction, st *RegisterState) error {
	v, err := read(st, inst.B, inst.Kind())
	if err != nil {
		return err
	}
	if inst.Kind() == desc.Reference {
		if c := v.Category(); v.IsKnown() && !c.IsReference() {
			if _, isNull := zeroAsNull(v); !isNull {
				return inconsistent("move-object of %s", v)
			}
		}
	}
	return st.Assign(inst.A, v)
}

func (e *Emulator) executeMoveResult(inst *insts.Instruction, st *RegisterState) error {
	v, ok := st.Result()
	if !ok {
		return inconsistent("%s without a pending result", inst.Name())
	}
	if v.IsWide() != inst.IsWide() {
		return inconsistent("%s of %s", inst.Name(), v)
	}
	st.ClearResult()
	return st.Assign(inst.A, v)
}

func (e *Emulator) executeReturn(inst *insts.Instruction, st *RegisterState) StepResult {
	if inst.Kind() == desc.Void {
		return StepResult{Exited: true}
	}
	v, err := read(st, inst.A, inst.Kind())
	if err != nil {
		return StepResult{Err: err}
	}
	return StepResult{Exited: true, Returned: &v}
}

func (e *Emulator) executeConst(inst *insts.Instruction, st *RegisterState) error {
	if inst.IsWide() {
		return st.SetWide(inst.A, Long(inst.Literal))
	}
	return st.Set(inst.A, Int(int32(inst.Literal)))
}

// internString returns the canonical object for a string literal, so equal
// literals are the same reference.
func (e *Emulator) internString(s string) *Instance {
	obj, ok := e.strings[s]
	if !ok {
		obj = NewString(s)
		e.strings[s] = obj
	}
	return obj
}

func (e *Emulator) classObject(typ string) *Instance {
	obj, ok := e.classes[typ]
	if !ok {
		obj = NewClassObject(typ)
		e.classes[typ] = obj
	}
	return obj
}

func (e *Emulator) executeMonitor(inst *insts.Instruction, st *RegisterState) error {
	v, err := st.Get(inst.A)
	if err != nil {
		return err
	}
	return checkReceiver(inst.Name(), v)
}

func (e *Emulator) executeCheckCast(inst *insts.Instruction, st *RegisterState) error {
	v, err := st.Get(inst.A)
	if err != nil {
		return err
	}
	if v.IsUnknown() {
		return st.Set(inst.A, Unknown(inst.Type))
	}
	return nil
}

// executeInstanceOf decides only what identity allows: null is never an
// instance and an exact type match always is. Class hierarchy is not modeled.
func (e *Emulator) executeInstanceOf(inst *insts.Instruction, st *RegisterState) error {
	v, err := st.Get(inst.B)
	if err != nil {
		return err
	}

	result := Unknown(desc.BooleanType)
	switch {
	case v.IsNull():
		result = Boolean(false)
	case v.IsKnown() && (v.Type() == inst.Type || inst.Type == desc.Object):
		result = Boolean(true)
	}
	return st.Set(inst.A, result)
}

func (e *Emulator) executeArrayLength(inst *insts.Instruction, st *RegisterState) error {
	arr, err := st.Get(inst.B)
	if err != nil {
		return err
	}
	n, err := ArrayLength(st, arr)
	if err != nil {
		return err
	}
	return st.Set(inst.A, n)
}

func (e *Emulator) executeNewArray(inst *insts.Instruction, st *RegisterState) error {
	size, err := st.Get(inst.B)
	if err != nil {
		return err
	}
	arr, err := NewArrayValue(st, inst.Type, size)
	if err != nil {
		return err
	}
	return st.Set(inst.A, arr)
}

func (e *Emulator) executeFilledNewArray(inst *insts.Instruction, st *RegisterState) error {
	elem, err := desc.Component(inst.Type)
	if err != nil {
		return err
	}
	if desc.IsWide(elem) {
		return inconsistent("%s of %s", inst.Name(), inst.Type)
	}

	elems := make([]Value, len(inst.Args))
	for i, r := range inst.Args {
		if elems[i], err = st.Get(r); err != nil {
			return err
		}
	}
	arr, err := FilledArray(st, inst.Type, elems)
	if err != nil {
		return err
	}
	st.SetResult(arr)
	return nil
}

func (e *Emulator) executeFillArrayData(inst *insts.Instruction, st *RegisterState) error {
	arr, err := st.Get(inst.A)
	if err != nil {
		return err
	}
	if inst.Payload == nil {
		return inconsistent("fill-array-data without payload")
	}
	return FillArray(st, arr, inst.Payload)
}

func (e *Emulator) executeThrow(inst *insts.Instruction, st *RegisterState) error {
	v, err := st.Get(inst.A)
	if err != nil {
		return err
	}
	if err := checkReceiver("throw", v); err != nil {
		return err
	}
	return &ThrownValue{Value: v}
}

func (e *Emulator) executeSwitch(inst *insts.Instruction, st *RegisterState) StepResult {
	key, err := st.Get(inst.A)
	if err != nil {
		return StepResult{Err: err}
	}
	next, err := switchTargets(inst, key)
	if err != nil {
		return StepResult{Err: err}
	}
	return StepResult{Next: next}
}

func (e *Emulator) executeIf(inst *insts.Instruction, st *RegisterState) StepResult {
	a, err := st.Get(inst.A)
	if err != nil {
		return StepResult{Err: err}
	}

	var t Truth
	if inst.Family == insts.FamilyIfZ {
		t, err = TestZero(inst.Cond(), a)
	} else {
		var b Value
		if b, err = st.Get(inst.B); err != nil {
			return StepResult{Err: err}
		}
		t, err = Test(inst.Cond(), a, b)
	}
	if err != nil {
		return StepResult{Err: err}
	}
	return StepResult{Next: successors(t, inst.Target(), inst.Next())}
}

func (e *Emulator) executeCmp(inst *insts.Instruction, st *RegisterState) error {
	a, err := read(st, inst.B, inst.Kind())
	if err != nil {
		return err
	}
	b, err := read(st, inst.C, inst.Kind())
	if err != nil {
		return err
	}
	r, err := Cmp(inst.Kind(), inst.NaNBias(), a, b)
	if err != nil {
		return err
	}
	return st.Set(inst.A, r)
}

func (e *Emulator) executeArrayGet(inst *insts.Instruction, st *RegisterState) error {
	arr, err := st.Get(inst.B)
	if err != nil {
		return err
	}
	idx, err := st.Get(inst.C)
	if err != nil {
		return err
	}
	v, err := ArrayGet(st, inst.Kind(), arr, idx)
	if err != nil {
		return err
	}
	if inst.IsWide() {
		return st.SetWide(inst.A, v)
	}
	return st.Set(inst.A, v)
}

func (e *Emulator) executeArrayPut(inst *insts.Instruction, st *RegisterState) error {
	v, err := read(st, inst.A, inst.Kind())
	if err != nil {
		return err
	}
	arr, err := st.Get(inst.B)
	if err != nil {
		return err
	}
	idx, err := st.Get(inst.C)
	if err != nil {
		return err
	}
	return ArrayPut(st, inst.Kind(), arr, idx, v)
}

func (e *Emulator) executeInstanceGet(inst *insts.Instruction, st *RegisterState) error {
	obj, err := st.Get(inst.B)
	if err != nil {
		return err
	}
	v, err := InstanceGet(obj, inst.Field)
	if err != nil {
		return err
	}
	return st.Assign(inst.A, v)
}

func (e *Emulator) executeInstancePut(inst *insts.Instruction, st *RegisterState) error {
	v, err := read(st, inst.A, desc.Classify(inst.Field.Type))
	if err != nil {
		return err
	}
	obj, err := st.Get(inst.B)
	if err != nil {
		return err
	}
	return InstancePut(st, obj, inst.Field, v)
}

func (e *Emulator) executeStaticPut(inst *insts.Instruction, st *RegisterState) error {
	v, err := read(st, inst.A, desc.Classify(inst.Field.Type))
	if err != nil {
		return err
	}
	return StaticPut(st, inst.Field, v)
}

func (e *Emulator) executeUnary(inst *insts.Instruction, st *RegisterState) error {
	a, err := read(st, inst.B, inst.SourceKind())
	if err != nil {
		return err
	}
	r, err := Unary(inst.Arith(), inst.SourceKind(), inst.Kind(), a)
	if err != nil {
		return err
	}
	return st.Assign(inst.A, r)
}

// executeBinary covers the three-register, /2addr and literal forms. Long
// shifts take their distance from a narrow register.
func (e *Emulator) executeBinary(inst *insts.Instruction, st *RegisterState) error {
	kind := inst.Kind()
	secondKind := kind
	if isShift(inst.Arith()) {
		secondKind = desc.Int
	}

	var (
		a, b Value
		err  error
	)
	switch inst.Family {
	case insts.FamilyBinary:
		if a, err = read(st, inst.B, kind); err != nil {
			return err
		}
		if b, err = read(st, inst.C, secondKind); err != nil {
			return err
		}
	case insts.FamilyBinary2Addr:
		if a, err = read(st, inst.A, kind); err != nil {
			return err
		}
		if b, err = read(st, inst.B, secondKind); err != nil {
			return err
		}
	default:
		if a, err = st.Get(inst.B); err != nil {
			return err
		}
		b = Int(int32(inst.Literal))
	}

	r, err := Binary(inst.Arith(), kind, a, b)
	if err != nil {
		return err
	}
	return st.Assign(inst.A, r)
}

func (e *Emulator) executeInvoke(inst *insts.Instruction, st *RegisterState) error {
	params, ret, err := desc.ParseMethod(inst.Method.Proto)
	if err != nil {
		return err
	}

	var args []Value
	k := 0
	if !inst.IsStatic() {
		if len(inst.Args) == 0 {
			return inconsistent("%s without receiver", inst.Name())
		}
		recv, err := st.Get(inst.Args[0])
		if err != nil {
			return err
		}
		if err := checkReceiver(inst.Name(), recv); err != nil {
			return err
		}
		args = append(args, recv)
		k = 1
	}
	for _, p := range params {
		if k >= len(inst.Args) {
			return inconsistent("%s: too few argument registers for %s", inst.Name(), inst.Method.Proto)
		}
		v, err := read(st, inst.Args[k], desc.Classify(p))
		if err != nil {
			return err
		}
		args = append(args, v)
		if desc.IsWide(p) {
			k += 2
		} else {
			k++
		}
	}
	if k != len(inst.Args) {
		return inconsistent("%s: %d argument registers for %s", inst.Name(), len(inst.Args), inst.Method.Proto)
	}

	st.ClearResult()
	if v, ok, err := e.emulate(inst.Method.String(), args); err != nil {
		return err
	} else if ok {
		if ret != desc.VoidType {
			c, err := Coerce(v, ret)
			if err != nil {
				return err
			}
			st.SetResult(c)
		}
		return nil
	}

	// The callee may modify any array it can reach.
	for _, a := range args {
		clobberArray(st, a)
		escape(st, a)
	}
	for _, h := range st.heap.Escaped() {
		clobberArray(st, ArrayRef(h, ""))
	}
	if ret != desc.VoidType {
		st.SetResult(Unknown(ret))
	}
	return nil
}
