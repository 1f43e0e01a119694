package insts

import (
	"fmt"

	"github.com/sarchlab/dexsim/desc"
)

// Op represents a Dalvik opcode.
type Op uint8

// Dalvik opcodes handled by the engine.
const (
	OpNop               Op = 0x00
	OpMove              Op = 0x01
	OpMoveFrom16        Op = 0x02
	OpMove16            Op = 0x03
	OpMoveWide          Op = 0x04
	OpMoveWideFrom16    Op = 0x05
	OpMoveWide16        Op = 0x06
	OpMoveObject        Op = 0x07
	OpMoveObjectFrom16  Op = 0x08
	OpMoveObject16      Op = 0x09
	OpMoveResult        Op = 0x0a
	OpMoveResultWide    Op = 0x0b
	OpMoveResultObject  Op = 0x0c
	OpMoveException     Op = 0x0d
	OpReturnVoid        Op = 0x0e
	OpReturn            Op = 0x0f
	OpReturnWide        Op = 0x10
	OpReturnObject      Op = 0x11
	OpConst4            Op = 0x12
	OpConst16           Op = 0x13
	OpConst             Op = 0x14
	OpConstHigh16       Op = 0x15
	OpConstWide16       Op = 0x16
	OpConstWide32       Op = 0x17
	OpConstWide         Op = 0x18
	OpConstWideHigh16   Op = 0x19
	OpConstString       Op = 0x1a
	OpConstStringJumbo  Op = 0x1b
	OpConstClass        Op = 0x1c
	OpMonitorEnter      Op = 0x1d
	OpMonitorExit       Op = 0x1e
	OpCheckCast         Op = 0x1f
	OpInstanceOf        Op = 0x20
	OpArrayLength       Op = 0x21
	OpNewInstance       Op = 0x22
	OpNewArray          Op = 0x23
	OpFilledNewArray    Op = 0x24
	OpFilledNewArrayRng Op = 0x25
	OpFillArrayData     Op = 0x26
	OpThrow             Op = 0x27
	OpGoto              Op = 0x28
	OpGoto16            Op = 0x29
	OpGoto32            Op = 0x2a
	OpPackedSwitch      Op = 0x2b
	OpSparseSwitch      Op = 0x2c
	OpCmplFloat         Op = 0x2d
	OpCmpgFloat         Op = 0x2e
	OpCmplDouble        Op = 0x2f
	OpCmpgDouble        Op = 0x30
	OpCmpLong           Op = 0x31
	OpIfEq              Op = 0x32
	OpIfNe              Op = 0x33
	OpIfLt              Op = 0x34
	OpIfGe              Op = 0x35
	OpIfGt              Op = 0x36
	OpIfLe              Op = 0x37
	OpIfEqz             Op = 0x38
	OpIfNez             Op = 0x39
	OpIfLtz             Op = 0x3a
	OpIfGez             Op = 0x3b
	OpIfGtz             Op = 0x3c
	OpIfLez             Op = 0x3d
	OpAget              Op = 0x44
	OpAgetWide          Op = 0x45
	OpAgetObject        Op = 0x46
	OpAgetBoolean       Op = 0x47
	OpAgetByte          Op = 0x48
	OpAgetChar          Op = 0x49
	OpAgetShort         Op = 0x4a
	OpAput              Op = 0x4b
	OpAputWide          Op = 0x4c
	OpAputObject        Op = 0x4d
	OpAputBoolean       Op = 0x4e
	OpAputByte          Op = 0x4f
	OpAputChar          Op = 0x50
	OpAputShort         Op = 0x51
	OpIget              Op = 0x52
	OpIput              Op = 0x59
	OpSget              Op = 0x60
	OpSput              Op = 0x67
	OpInvokeVirtual     Op = 0x6e
	OpInvokeSuper       Op = 0x6f
	OpInvokeDirect      Op = 0x70
	OpInvokeStatic      Op = 0x71
	OpInvokeInterface   Op = 0x72
	OpInvokeVirtualRng  Op = 0x74
	OpInvokeStaticRng   Op = 0x77
	OpNegInt            Op = 0x7b
	OpIntToByte         Op = 0x8d
	OpAddInt            Op = 0x90
	OpAddInt2Addr       Op = 0xb0
	OpAddIntLit16       Op = 0xd0
	OpAddIntLit8        Op = 0xd8
)

// Format represents a Dalvik instruction encoding format.
type Format uint8

// Instruction formats, named after the Dalvik format IDs.
const (
	FormatUnknown Format = iota
	Format10x
	Format12x
	Format11n
	Format11x
	Format10t
	Format20t
	Format22x
	Format21t
	Format21s
	Format21h
	Format21c
	Format23x
	Format22b
	Format22t
	Format22s
	Format22c
	Format32x
	Format30t
	Format31t
	Format31i
	Format31c
	Format35c
	Format3rc
	Format51l
)

// formatUnits is the size of each format in code units.
var formatUnits = [...]int{
	FormatUnknown: 1,
	Format10x:     1, Format12x: 1, Format11n: 1, Format11x: 1, Format10t: 1,
	Format20t: 2, Format22x: 2, Format21t: 2, Format21s: 2, Format21h: 2,
	Format21c: 2, Format23x: 2, Format22b: 2, Format22t: 2, Format22s: 2,
	Format22c: 2,
	Format32x: 3, Format30t: 3, Format31t: 3, Format31i: 3, Format31c: 3,
	Format35c: 3, Format3rc: 3,
	Format51l: 5,
}

// Units returns the encoded size of the format in code units.
func (f Format) Units() int {
	return formatUnits[f]
}

// Family groups opcodes that share one handler in the emulator.
type Family uint8

// Opcode families.
const (
	FamilyUnknown Family = iota
	FamilyNop
	FamilyMove
	FamilyMoveResult
	FamilyMoveException
	FamilyReturn
	FamilyConst
	FamilyConstString
	FamilyConstClass
	FamilyMonitor
	FamilyCheckCast
	FamilyInstanceOf
	FamilyArrayLength
	FamilyNewInstance
	FamilyNewArray
	FamilyFilledNewArray
	FamilyFillArrayData
	FamilyThrow
	FamilyGoto
	FamilySwitch
	FamilyCmp
	FamilyIf
	FamilyIfZ
	FamilyArrayGet
	FamilyArrayPut
	FamilyInstanceGet
	FamilyInstancePut
	FamilyStaticGet
	FamilyStaticPut
	FamilyInvoke
	FamilyUnary
	FamilyBinary
	FamilyBinary2Addr
	FamilyBinaryLit
)

// Cond represents the comparison performed by an if-test instruction.
type Cond uint8

// Branch conditions.
const (
	CondEQ Cond = iota
	CondNE
	CondLT
	CondGE
	CondGT
	CondLE
)

var condNames = [...]string{"eq", "ne", "lt", "ge", "gt", "le"}

func (c Cond) String() string {
	if int(c) < len(condNames) {
		return condNames[c]
	}
	return fmt.Sprintf("cond(%d)", c)
}

// ArithOp represents the operation of a unary or binary arithmetic instruction.
type ArithOp uint8

// Arithmetic operations.
const (
	ArithNone ArithOp = iota
	ArithAdd
	ArithSub
	ArithMul
	ArithDiv
	ArithRem
	ArithAnd
	ArithOr
	ArithXor
	ArithShl
	ArithShr
	ArithUshr
	ArithRsub
	ArithNeg
	ArithNot
	ArithConvert
)

var arithNames = [...]string{
	"none", "add", "sub", "mul", "div", "rem", "and", "or", "xor",
	"shl", "shr", "ushr", "rsub", "neg", "not", "convert",
}

func (a ArithOp) String() string {
	if int(a) < len(arithNames) {
		return arithNames[a]
	}
	return fmt.Sprintf("arith(%d)", a)
}

// opInfo describes a single opcode.
type opInfo struct {
	name   string
	format Format
	family Family

	// typ is the operand category: the element type of aget/aput, the
	// result type of arithmetic and conversions, the compared type of cmp.
	typ desc.Category
	// src is the source category of conversions.
	src   desc.Category
	arith ArithOp
	cond  Cond
	// bias is the cmp result when either operand is NaN.
	bias int64
	// static is set for static invokes and field accesses.
	static bool
}

var opTable [256]*opInfo

func def(op Op, name string, format Format, family Family, typ desc.Category) *opInfo {
	info := &opInfo{name: name, format: format, family: family, typ: typ}
	opTable[op] = info
	return info
}

// Name returns the Dalvik mnemonic of the opcode.
func (o Op) Name() string {
	if info := opTable[o]; info != nil {
		return info.name
	}
	return fmt.Sprintf("op_%02x", uint8(o))
}

// Format returns the encoding format of the opcode.
func (o Op) Format() Format {
	if info := opTable[o]; info != nil {
		return info.format
	}
	return FormatUnknown
}

// Family returns the handler family of the opcode.
func (o Op) Family() Family {
	if info := opTable[o]; info != nil {
		return info.family
	}
	return FamilyUnknown
}

// Supported reports whether the engine handles the opcode.
func (o Op) Supported() bool {
	return opTable[o] != nil
}

// Lookup finds an opcode by mnemonic.
func Lookup(name string) (Op, bool) {
	for i, info := range opTable {
		if info != nil && info.name == name {
			return Op(i), true
		}
	}
	return 0, false
}

var fieldSuffixes = []struct {
	suffix string
	typ    desc.Category
}{
	{"", desc.Int},
	{"-wide", desc.Long},
	{"-object", desc.Reference},
	{"-boolean", desc.Boolean},
	{"-byte", desc.Byte},
	{"-char", desc.Char},
	{"-short", desc.Short},
}

var binaryOps = []ArithOp{
	ArithAdd, ArithSub, ArithMul, ArithDiv, ArithRem,
	ArithAnd, ArithOr, ArithXor, ArithShl, ArithShr, ArithUshr,
}

var binaryGroups = []struct {
	typ desc.Category
	ops []ArithOp
}{
	{desc.Int, binaryOps},
	{desc.Long, binaryOps},
	{desc.Float, binaryOps[:5]},
	{desc.Double, binaryOps[:5]},
}

func init() {
	def(OpNop, "nop", Format10x, FamilyNop, desc.Void)

	def(OpMove, "move", Format12x, FamilyMove, desc.Int)
	def(OpMoveFrom16, "move/from16", Format22x, FamilyMove, desc.Int)
	def(OpMove16, "move/16", Format32x, FamilyMove, desc.Int)
	def(OpMoveWide, "move-wide", Format12x, FamilyMove, desc.Long)
	def(OpMoveWideFrom16, "move-wide/from16", Format22x, FamilyMove, desc.Long)
	def(OpMoveWide16, "move-wide/16", Format32x, FamilyMove, desc.Long)
	def(OpMoveObject, "move-object", Format12x, FamilyMove, desc.Reference)
	def(OpMoveObjectFrom16, "move-object/from16", Format22x, FamilyMove, desc.Reference)
	def(OpMoveObject16, "move-object/16", Format32x, FamilyMove, desc.Reference)
	def(OpMoveResult, "move-result", Format11x, FamilyMoveResult, desc.Int)
	def(OpMoveResultWide, "move-result-wide", Format11x, FamilyMoveResult, desc.Long)
	def(OpMoveResultObject, "move-result-object", Format11x, FamilyMoveResult, desc.Reference)
	def(OpMoveException, "move-exception", Format11x, FamilyMoveException, desc.Reference)

	def(OpReturnVoid, "return-void", Format10x, FamilyReturn, desc.Void)
	def(OpReturn, "return", Format11x, FamilyReturn, desc.Int)
	def(OpReturnWide, "return-wide", Format11x, FamilyReturn, desc.Long)
	def(OpReturnObject, "return-object", Format11x, FamilyReturn, desc.Reference)

	def(OpConst4, "const/4", Format11n, FamilyConst, desc.Int)
	def(OpConst16, "const/16", Format21s, FamilyConst, desc.Int)
	def(OpConst, "const", Format31i, FamilyConst, desc.Int)
	def(OpConstHigh16, "const/high16", Format21h, FamilyConst, desc.Int)
	def(OpConstWide16, "const-wide/16", Format21s, FamilyConst, desc.Long)
	def(OpConstWide32, "const-wide/32", Format31i, FamilyConst, desc.Long)
	def(OpConstWide, "const-wide", Format51l, FamilyConst, desc.Long)
	def(OpConstWideHigh16, "const-wide/high16", Format21h, FamilyConst, desc.Long)
	def(OpConstString, "const-string", Format21c, FamilyConstString, desc.Reference)
	def(OpConstStringJumbo, "const-string/jumbo", Format31c, FamilyConstString, desc.Reference)
	def(OpConstClass, "const-class", Format21c, FamilyConstClass, desc.Reference)

	def(OpMonitorEnter, "monitor-enter", Format11x, FamilyMonitor, desc.Reference)
	def(OpMonitorExit, "monitor-exit", Format11x, FamilyMonitor, desc.Reference)
	def(OpCheckCast, "check-cast", Format21c, FamilyCheckCast, desc.Reference)
	def(OpInstanceOf, "instance-of", Format22c, FamilyInstanceOf, desc.Boolean)
	def(OpArrayLength, "array-length", Format12x, FamilyArrayLength, desc.Int)
	def(OpNewInstance, "new-instance", Format21c, FamilyNewInstance, desc.Reference)
	def(OpNewArray, "new-array", Format22c, FamilyNewArray, desc.Array)
	def(OpFilledNewArray, "filled-new-array", Format35c, FamilyFilledNewArray, desc.Array)
	def(OpFilledNewArrayRng, "filled-new-array/range", Format3rc, FamilyFilledNewArray, desc.Array)
	def(OpFillArrayData, "fill-array-data", Format31t, FamilyFillArrayData, desc.Array)
	def(OpThrow, "throw", Format11x, FamilyThrow, desc.Reference)

	def(OpGoto, "goto", Format10t, FamilyGoto, desc.Void)
	def(OpGoto16, "goto/16", Format20t, FamilyGoto, desc.Void)
	def(OpGoto32, "goto/32", Format30t, FamilyGoto, desc.Void)
	def(OpPackedSwitch, "packed-switch", Format31t, FamilySwitch, desc.Int)
	def(OpSparseSwitch, "sparse-switch", Format31t, FamilySwitch, desc.Int)

	def(OpCmplFloat, "cmpl-float", Format23x, FamilyCmp, desc.Float).bias = -1
	def(OpCmpgFloat, "cmpg-float", Format23x, FamilyCmp, desc.Float).bias = 1
	def(OpCmplDouble, "cmpl-double", Format23x, FamilyCmp, desc.Double).bias = -1
	def(OpCmpgDouble, "cmpg-double", Format23x, FamilyCmp, desc.Double).bias = 1
	def(OpCmpLong, "cmp-long", Format23x, FamilyCmp, desc.Long)

	for i := 0; i < 6; i++ {
		c := Cond(i)
		def(OpIfEq+Op(i), "if-"+c.String(), Format22t, FamilyIf, desc.Int).cond = c
		def(OpIfEqz+Op(i), "if-"+c.String()+"z", Format21t, FamilyIfZ, desc.Int).cond = c
	}

	for i, s := range fieldSuffixes {
		def(OpAget+Op(i), "aget"+s.suffix, Format23x, FamilyArrayGet, s.typ)
		def(OpAput+Op(i), "aput"+s.suffix, Format23x, FamilyArrayPut, s.typ)
		def(OpIget+Op(i), "iget"+s.suffix, Format22c, FamilyInstanceGet, s.typ)
		def(OpIput+Op(i), "iput"+s.suffix, Format22c, FamilyInstancePut, s.typ)
		def(OpSget+Op(i), "sget"+s.suffix, Format21c, FamilyStaticGet, s.typ).static = true
		def(OpSput+Op(i), "sput"+s.suffix, Format21c, FamilyStaticPut, s.typ).static = true
	}

	invokes := []string{"virtual", "super", "direct", "static", "interface"}
	for i, kind := range invokes {
		def(OpInvokeVirtual+Op(i), "invoke-"+kind, Format35c, FamilyInvoke, desc.Void).static = kind == "static"
		def(OpInvokeVirtualRng+Op(i), "invoke-"+kind+"/range", Format3rc, FamilyInvoke, desc.Void).static = kind == "static"
	}

	defineUnary()
	defineBinary()
}

func defineUnary() {
	unary := []struct {
		name     string
		arith    ArithOp
		src, dst desc.Category
	}{
		{"neg-int", ArithNeg, desc.Int, desc.Int},
		{"not-int", ArithNot, desc.Int, desc.Int},
		{"neg-long", ArithNeg, desc.Long, desc.Long},
		{"not-long", ArithNot, desc.Long, desc.Long},
		{"neg-float", ArithNeg, desc.Float, desc.Float},
		{"neg-double", ArithNeg, desc.Double, desc.Double},
		{"int-to-long", ArithConvert, desc.Int, desc.Long},
		{"int-to-float", ArithConvert, desc.Int, desc.Float},
		{"int-to-double", ArithConvert, desc.Int, desc.Double},
		{"long-to-int", ArithConvert, desc.Long, desc.Int},
		{"long-to-float", ArithConvert, desc.Long, desc.Float},
		{"long-to-double", ArithConvert, desc.Long, desc.Double},
		{"float-to-int", ArithConvert, desc.Float, desc.Int},
		{"float-to-long", ArithConvert, desc.Float, desc.Long},
		{"float-to-double", ArithConvert, desc.Float, desc.Double},
		{"double-to-int", ArithConvert, desc.Double, desc.Int},
		{"double-to-long", ArithConvert, desc.Double, desc.Long},
		{"double-to-float", ArithConvert, desc.Double, desc.Float},
		{"int-to-byte", ArithConvert, desc.Int, desc.Byte},
		{"int-to-char", ArithConvert, desc.Int, desc.Char},
		{"int-to-short", ArithConvert, desc.Int, desc.Short},
	}
	for i, u := range unary {
		info := def(OpNegInt+Op(i), u.name, Format12x, FamilyUnary, u.dst)
		info.src = u.src
		info.arith = u.arith
	}
}

func defineBinary() {
	op := OpAddInt
	for _, g := range binaryGroups {
		for _, a := range g.ops {
			name := a.String() + "-" + g.typ.String()
			def(op, name, Format23x, FamilyBinary, g.typ).arith = a
			def(op+(OpAddInt2Addr-OpAddInt), name+"/2addr", Format12x, FamilyBinary2Addr, g.typ).arith = a
			op++
		}
	}

	lit16 := []ArithOp{ArithAdd, ArithRsub, ArithMul, ArithDiv, ArithRem, ArithAnd, ArithOr, ArithXor}
	for i, a := range lit16 {
		name := a.String() + "-int/lit16"
		if a == ArithRsub {
			name = "rsub-int"
		}
		def(OpAddIntLit16+Op(i), name, Format22s, FamilyBinaryLit, desc.Int).arith = a
	}

	lit8 := append(append([]ArithOp{}, lit16...), ArithShl, ArithShr, ArithUshr)
	for i, a := range lit8 {
		def(OpAddIntLit8+Op(i), a.String()+"-int/lit8", Format22b, FamilyBinaryLit, desc.Int).arith = a
	}
}
