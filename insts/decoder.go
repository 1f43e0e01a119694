package insts

import (
	"fmt"
	"strings"

	"github.com/sarchlab/dexsim/desc"
)

// FieldRef identifies a field by its defining class, name and type.
type FieldRef struct {
	Class string `json:"class"`
	Name  string `json:"name"`
	Type  string `json:"type"`
}

func (f FieldRef) String() string {
	return f.Class + "->" + f.Name + ":" + f.Type
}

// MethodRef identifies a method by its defining class, name and prototype.
type MethodRef struct {
	Class string `json:"class"`
	Name  string `json:"name"`
	Proto string `json:"proto"`
}

func (m MethodRef) String() string {
	return m.Class + "->" + m.Name + m.Proto
}

// Pool resolves the index operands of 21c/22c/31c/35c/3rc instructions.
type Pool interface {
	StringAt(idx uint32) (string, error)
	TypeAt(idx uint32) (string, error)
	FieldAt(idx uint32) (FieldRef, error)
	MethodAt(idx uint32) (MethodRef, error)
}

// TablePool is a Pool backed by plain slices.
type TablePool struct {
	Strings []string    `json:"strings"`
	Types   []string    `json:"types"`
	Fields  []FieldRef  `json:"fields"`
	Methods []MethodRef `json:"methods"`
}

// StringAt returns the string literal at idx, or an error when idx is out of range.
func (p *TablePool) StringAt(idx uint32) (string, error) {
	if int(idx) >= len(p.Strings) {
		return "", fmt.Errorf("string index %d out of range", idx)
	}
	return p.Strings[idx], nil
}

// TypeAt returns the type descriptor at idx, or an error when idx is out of range.
func (p *TablePool) TypeAt(idx uint32) (string, error) {
	if int(idx) >= len(p.Types) {
		return "", fmt.Errorf("type index %d out of range", idx)
	}
	return p.Types[idx], nil
}

// FieldAt returns the field reference at idx, or an error when idx is out of range.
func (p *TablePool) FieldAt(idx uint32) (FieldRef, error) {
	if int(idx) >= len(p.Fields) {
		return FieldRef{}, fmt.Errorf("field index %d out of range", idx)
	}
	return p.Fields[idx], nil
}

// MethodAt returns the method reference at idx, or an error when idx is out of range.
func (p *TablePool) MethodAt(idx uint32) (MethodRef, error) {
	if int(idx) >= len(p.Methods) {
		return MethodRef{}, fmt.Errorf("method index %d out of range", idx)
	}
	return p.Methods[idx], nil
}

// PayloadKind identifies a payload pseudo-instruction.
type PayloadKind uint16

// Payload identifiers as they appear in the first code unit.
const (
	PayloadPackedSwitch  PayloadKind = 0x0100
	PayloadSparseSwitch  PayloadKind = 0x0200
	PayloadFillArrayData PayloadKind = 0x0300
)

// Payload is the decoded data table of a switch or fill-array-data.
type Payload struct {
	Kind PayloadKind

	// Keys and Targets hold switch cases; targets are offsets relative to
	// the switch instruction.
	Keys    []int32
	Targets []int32

	// ElementWidth is the width in bytes of each fill-array-data element.
	ElementWidth int
	// Data holds fill-array-data elements, sign-extended.
	Data []int64
}

// Instruction represents a decoded Dalvik instruction.
type Instruction struct {
	Op     Op     // Operation code
	Format Format // Encoding format
	Family Family // Handler family

	Address int // Offset of the first code unit
	Size    int // Size in code units

	// Register operands, named after the format's vA/vB/vC fields.
	A, B, C int
	// Args holds the argument registers of 35c/3rc instructions.
	Args []int

	// Literal holds immediate values, already shifted for high16 forms.
	Literal int64
	// Offset is a branch or payload offset in code units, relative to Address.
	Offset int

	// Resolved index operands.
	Type   string
	Str    string
	Field  FieldRef
	Method MethodRef

	// Payload is attached by DecodeMethod for switches and fill-array-data.
	Payload *Payload
}

func (i *Instruction) info() *opInfo {
	return opTable[i.Op]
}

// Name returns the mnemonic.
func (i *Instruction) Name() string {
	return i.Op.Name()
}

// Kind returns the operand category of the instruction: the element type of
// array accesses, the result type of arithmetic and conversions, the value
// type of moves, returns and field accesses.
func (i *Instruction) Kind() desc.Category {
	return i.info().typ
}

// SourceKind returns the operand category of a conversion source.
func (i *Instruction) SourceKind() desc.Category {
	if src := i.info().src; src != desc.Unknown {
		return src
	}
	return i.info().typ
}

// Arith returns the arithmetic operation of unary and binary instructions.
func (i *Instruction) Arith() ArithOp {
	return i.info().arith
}

// Cond returns the condition of if-test instructions.
func (i *Instruction) Cond() Cond {
	return i.info().cond
}

// NaNBias returns the cmp result when an operand is NaN.
func (i *Instruction) NaNBias() int64 {
	return i.info().bias
}

// IsStatic reports whether the invoke or field access is static.
func (i *Instruction) IsStatic() bool {
	return i.info().static
}

// IsWide reports whether the instruction operates on register pairs.
func (i *Instruction) IsWide() bool {
	return i.Kind().IsWide()
}

// Target returns the absolute branch target.
func (i *Instruction) Target() int {
	return i.Address + i.Offset
}

// Next returns the address of the following instruction.
func (i *Instruction) Next() int {
	return i.Address + i.Size
}

func (i *Instruction) String() string {
	var b strings.Builder
	b.WriteString(i.Name())
	args := i.operands()
	if len(args) > 0 {
		b.WriteString(" ")
		b.WriteString(strings.Join(args, ", "))
	}
	return b.String()
}

func (i *Instruction) operands() []string {
	reg := func(r int) string { return fmt.Sprintf("v%d", r) }
	switch i.Format {
	case Format10x:
		return nil
	case Format11x:
		return []string{reg(i.A)}
	case Format12x, Format22x, Format32x:
		return []string{reg(i.A), reg(i.B)}
	case Format11n, Format21s, Format21h, Format31i, Format51l:
		return []string{reg(i.A), fmt.Sprintf("%#x", i.Literal)}
	case Format10t, Format20t, Format30t:
		return []string{fmt.Sprintf(":addr_%d", i.Target())}
	case Format21t, Format31t:
		return []string{reg(i.A), fmt.Sprintf(":addr_%d", i.Target())}
	case Format22t:
		return []string{reg(i.A), reg(i.B), fmt.Sprintf(":addr_%d", i.Target())}
	case Format23x:
		return []string{reg(i.A), reg(i.B), reg(i.C)}
	case Format22b, Format22s:
		return []string{reg(i.A), reg(i.B), fmt.Sprintf("%#x", i.Literal)}
	case Format21c, Format31c:
		return []string{reg(i.A), i.reference()}
	case Format22c:
		return []string{reg(i.A), reg(i.B), i.reference()}
	case Format35c, Format3rc:
		regs := make([]string, len(i.Args))
		for n, r := range i.Args {
			regs[n] = reg(r)
		}
		return []string{"{" + strings.Join(regs, ", ") + "}", i.reference()}
	}
	return nil
}

func (i *Instruction) reference() string {
	switch i.Family {
	case FamilyConstString:
		return fmt.Sprintf("%q", i.Str)
	case FamilyInstanceGet, FamilyInstancePut, FamilyStaticGet, FamilyStaticPut:
		return i.Field.String()
	case FamilyInvoke:
		return i.Method.String()
	default:
		return i.Type
	}
}

// Decoder decodes Dalvik code units into instructions.
type Decoder struct {
	pool Pool
}

// NewDecoder creates a new decoder resolving index operands through pool.
// A nil pool is allowed for code without index operands.
func NewDecoder(pool Pool) *Decoder {
	if pool == nil {
		pool = &TablePool{}
	}
	return &Decoder{pool: pool}
}

// DecodeMethod decodes a complete method body. Payload pseudo-instructions
// are not returned; they are attached to the instructions that use them.
func (d *Decoder) DecodeMethod(units []uint16) ([]*Instruction, error) {
	var (
		code     []*Instruction
		payloads = make(map[int]*Payload)
	)

	for addr := 0; addr < len(units); {
		if kind := PayloadKind(units[addr]); isPayload(kind) {
			p, size, err := decodePayload(units, addr)
			if err != nil {
				return nil, err
			}
			payloads[addr] = p
			addr += size
			continue
		}

		inst, err := d.Decode(units, addr)
		if err != nil {
			return nil, err
		}
		code = append(code, inst)
		addr += inst.Size
	}

	for _, inst := range code {
		if inst.Family != FamilySwitch && inst.Family != FamilyFillArrayData {
			continue
		}
		p, ok := payloads[inst.Target()]
		if !ok {
			return nil, fmt.Errorf("%s at %d: no payload at %d", inst.Name(), inst.Address, inst.Target())
		}
		if !payloadMatches(inst.Op, p.Kind) {
			return nil, fmt.Errorf("%s at %d: payload kind %#04x does not match", inst.Name(), inst.Address, uint16(p.Kind))
		}
		inst.Payload = p
	}

	return code, nil
}

func isPayload(kind PayloadKind) bool {
	return kind == PayloadPackedSwitch || kind == PayloadSparseSwitch || kind == PayloadFillArrayData
}

func payloadMatches(op Op, kind PayloadKind) bool {
	switch op {
	case OpPackedSwitch:
		return kind == PayloadPackedSwitch
	case OpSparseSwitch:
		return kind == PayloadSparseSwitch
	case OpFillArrayData:
		return kind == PayloadFillArrayData
	}
	return false
}

// Decode decodes the single instruction starting at units[addr].
func (d *Decoder) Decode(units []uint16, addr int) (*Instruction, error) {
	if addr < 0 || addr >= len(units) {
		return nil, fmt.Errorf("address %d outside code of %d units", addr, len(units))
	}

	word := units[addr]
	op := Op(word & 0xff)
	if !op.Supported() {
		return nil, fmt.Errorf("unsupported opcode %#02x at %d", uint8(op), addr)
	}

	format := op.Format()
	size := format.Units()
	if addr+size > len(units) {
		return nil, fmt.Errorf("%s at %d: truncated, need %d units", op.Name(), addr, size)
	}

	inst := &Instruction{
		Op:      op,
		Format:  format,
		Family:  op.Family(),
		Address: addr,
		Size:    size,
	}
	u := units[addr : addr+size]
	aa := int(word >> 8)
	nibA := int(word>>8) & 0xf
	nibB := int(word >> 12)

	switch format {
	case Format10x:
	case Format12x:
		inst.A, inst.B = nibA, nibB
	case Format11n:
		inst.A = nibA
		inst.Literal = int64(int8(word>>8) >> 4)
	case Format11x:
		inst.A = aa
	case Format10t:
		inst.Offset = int(int8(aa))
	case Format20t:
		inst.Offset = int(int16(u[1]))
	case Format22x:
		inst.A, inst.B = aa, int(u[1])
	case Format21t:
		inst.A, inst.Offset = aa, int(int16(u[1]))
	case Format21s:
		inst.A, inst.Literal = aa, int64(int16(u[1]))
	case Format21h:
		inst.A = aa
		if inst.IsWide() {
			inst.Literal = int64(int16(u[1])) << 48
		} else {
			inst.Literal = int64(int32(uint32(u[1]) << 16))
		}
	case Format21c:
		inst.A = aa
		if err := d.resolve(inst, uint32(u[1])); err != nil {
			return nil, err
		}
	case Format23x:
		inst.A, inst.B, inst.C = aa, int(u[1]&0xff), int(u[1]>>8)
	case Format22b:
		inst.A, inst.B = aa, int(u[1]&0xff)
		inst.Literal = int64(int8(u[1] >> 8))
	case Format22t:
		inst.A, inst.B, inst.Offset = nibA, nibB, int(int16(u[1]))
	case Format22s:
		inst.A, inst.B, inst.Literal = nibA, nibB, int64(int16(u[1]))
	case Format22c:
		inst.A, inst.B = nibA, nibB
		if err := d.resolve(inst, uint32(u[1])); err != nil {
			return nil, err
		}
	case Format32x:
		inst.A, inst.B = int(u[1]), int(u[2])
	case Format30t:
		inst.Offset = int(int32(uint32(u[1]) | uint32(u[2])<<16))
	case Format31t:
		inst.A, inst.Offset = aa, int(int32(uint32(u[1])|uint32(u[2])<<16))
	case Format31i:
		inst.A, inst.Literal = aa, int64(int32(uint32(u[1])|uint32(u[2])<<16))
	case Format31c:
		inst.A = aa
		if err := d.resolve(inst, uint32(u[1])|uint32(u[2])<<16); err != nil {
			return nil, err
		}
	case Format35c:
		count := nibB
		if count > 5 {
			return nil, fmt.Errorf("%s at %d: %d arguments", op.Name(), addr, count)
		}
		regs := []int{int(u[2] & 0xf), int(u[2]>>4) & 0xf, int(u[2]>>8) & 0xf, int(u[2] >> 12), nibA}
		inst.Args = append([]int(nil), regs[:count]...)
		if err := d.resolve(inst, uint32(u[1])); err != nil {
			return nil, err
		}
	case Format3rc:
		first := int(u[2])
		for r := first; r < first+aa; r++ {
			inst.Args = append(inst.Args, r)
		}
		if err := d.resolve(inst, uint32(u[1])); err != nil {
			return nil, err
		}
	case Format51l:
		inst.A = aa
		inst.Literal = int64(uint64(u[1]) | uint64(u[2])<<16 | uint64(u[3])<<32 | uint64(u[4])<<48)
	default:
		return nil, fmt.Errorf("unimplemented format %d at %d", format, addr)
	}

	return inst, nil
}

// resolve fills the index operand according to the instruction family.
func (d *Decoder) resolve(inst *Instruction, idx uint32) error {
	var err error
	switch inst.Family {
	case FamilyConstString:
		inst.Str, err = d.pool.StringAt(idx)
	case FamilyInstanceGet, FamilyInstancePut, FamilyStaticGet, FamilyStaticPut:
		inst.Field, err = d.pool.FieldAt(idx)
	case FamilyInvoke:
		inst.Method, err = d.pool.MethodAt(idx)
	default:
		inst.Type, err = d.pool.TypeAt(idx)
	}
	if err != nil {
		return fmt.Errorf("%s at %d: %w", inst.Name(), inst.Address, err)
	}
	return nil
}

// decodePayload decodes the payload pseudo-instruction at addr and returns
// it with its size in code units.
func decodePayload(units []uint16, addr int) (*Payload, int, error) {
	u := units[addr:]
	if len(u) < 2 {
		return nil, 0, fmt.Errorf("truncated payload at %d", addr)
	}
	p := &Payload{Kind: PayloadKind(u[0])}
	word32 := func(i int) int32 { return int32(uint32(u[i]) | uint32(u[i+1])<<16) }

	switch p.Kind {
	case PayloadPackedSwitch:
		n := int(u[1])
		size := 4 + 2*n
		if len(u) < size {
			return nil, 0, fmt.Errorf("truncated packed-switch payload at %d", addr)
		}
		first := word32(2)
		for i := 0; i < n; i++ {
			p.Keys = append(p.Keys, first+int32(i))
			p.Targets = append(p.Targets, word32(4+2*i))
		}
		return p, size, nil

	case PayloadSparseSwitch:
		n := int(u[1])
		size := 2 + 4*n
		if len(u) < size {
			return nil, 0, fmt.Errorf("truncated sparse-switch payload at %d", addr)
		}
		for i := 0; i < n; i++ {
			p.Keys = append(p.Keys, word32(2+2*i))
			p.Targets = append(p.Targets, word32(2+2*n+2*i))
		}
		return p, size, nil

	case PayloadFillArrayData:
		if len(u) < 4 {
			return nil, 0, fmt.Errorf("truncated fill-array-data payload at %d", addr)
		}
		width := int(u[1])
		n := int(uint32(u[2]) | uint32(u[3])<<16)
		switch width {
		case 1, 2, 4, 8:
		default:
			return nil, 0, fmt.Errorf("fill-array-data payload at %d: element width %d", addr, width)
		}
		size := 4 + (n*width+1)/2
		if len(u) < size {
			return nil, 0, fmt.Errorf("truncated fill-array-data payload at %d", addr)
		}
		p.ElementWidth = width
		p.Data = make([]int64, n)
		for i := 0; i < n; i++ {
			var raw uint64
			for b := 0; b < width; b++ {
				off := i*width + b
				unit := u[4+off/2]
				raw |= uint64((unit>>(8*(off%2)))&0xff) << (8 * b)
			}
			shift := 64 - 8*width
			p.Data[i] = int64(raw<<shift) >> shift
		}
		return p, size, nil
	}

	return nil, 0, fmt.Errorf("unknown payload %#04x at %d", u[0], addr)
}
