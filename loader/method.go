// Package loader reads method fixtures for the abstract interpreter.
//
// A fixture is a JSON description of one Dalvik method: its signature, its
// register count, its code units and the pools its index operands refer to.
// Optional argument values make some parameters known; the rest start out
// unknown. A null argument is unknown; inside a list null is a null
// reference and {"unknown": true} marks an unknown element.
//
//	{
//	  "class": "LFoo;", "name": "pick", "proto": "(I[B)B", "static": true,
//	  "registers": 4,
//	  "units": ["0x0148", "0x0302", "0x010f"],
//	  "args": [null, [{"unknown": true}, 5]]
//	}
package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/sarchlab/dexsim/desc"
	"github.com/sarchlab/dexsim/emu"
	"github.com/sarchlab/dexsim/insts"
)

// Units is a list of 16-bit code units. In JSON each unit is a number or a
// string in any base strconv accepts, e.g. "0x3112".
type Units []uint16

// UnmarshalJSON decodes numbers and numeric strings.
func (u *Units) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	units := make(Units, len(raw))
	for i, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err != nil {
			s = string(r)
		}
		n, err := strconv.ParseUint(s, 0, 16)
		if err != nil {
			return fmt.Errorf("code unit %d: %w", i, err)
		}
		units[i] = uint16(n)
	}

	*u = units
	return nil
}

// Method is a method fixture.
type Method struct {
	Class  string `json:"class"`
	Name   string `json:"name"`
	Proto  string `json:"proto"`
	Static bool   `json:"static"`

	// Registers is the size of the register frame, parameters included.
	Registers int `json:"registers"`

	Units Units           `json:"units"`
	Pool  insts.TablePool `json:"pool"`

	// Args holds one entry per declared parameter, receiver excluded.
	// null leaves the parameter unknown.
	Args []json.RawMessage `json:"args"`
}

// Load reads a method fixture from a JSON file.
func Load(path string) (*Method, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read method fixture: %w", err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and validates a method fixture.
func Parse(data []byte) (*Method, error) {
	m := &Method{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse method fixture: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks the signature against the register frame.
func (m *Method) Validate() error {
	if !desc.Valid(m.Class) || desc.Classify(m.Class) != desc.Reference {
		return fmt.Errorf("invalid class descriptor %q", m.Class)
	}
	params, err := m.Params()
	if err != nil {
		return err
	}
	if ins := desc.RegisterCount(params); ins > m.Registers {
		return fmt.Errorf("%s: %d parameter registers exceed %d registers", m.Signature(), ins, m.Registers)
	}
	if len(m.Args) > len(params)-m.receivers() {
		return fmt.Errorf("%s: %d arguments for %d parameters", m.Signature(), len(m.Args), len(params)-m.receivers())
	}
	if len(m.Units) == 0 {
		return fmt.Errorf("%s: no code units", m.Signature())
	}
	return nil
}

// Signature returns the method reference, e.g. "LFoo;->pick(I[B)B".
func (m *Method) Signature() string {
	return insts.MethodRef{Class: m.Class, Name: m.Name, Proto: m.Proto}.String()
}

func (m *Method) receivers() int {
	if m.Static {
		return 0
	}
	return 1
}

// Params returns the descriptors of the incoming registers in order,
// starting with the receiver of an instance method.
func (m *Method) Params() ([]string, error) {
	params, _, err := desc.ParseMethod(m.Proto)
	if err != nil {
		return nil, err
	}
	if !m.Static {
		params = append([]string{m.Class}, params...)
	}
	return params, nil
}

// Decode decodes the code units.
func (m *Method) Decode() ([]*insts.Instruction, error) {
	pool := m.Pool
	return insts.NewDecoder(&pool).DecodeMethod(m.Units)
}

// InitialState binds the parameters to the last registers of the frame.
// The receiver is a fresh non-null instance of the class; parameters
// without an argument value are unknown.
func (m *Method) InitialState() (*emu.RegisterState, error) {
	params, err := m.Params()
	if err != nil {
		return nil, err
	}

	st := emu.NewRegisterState()
	reg := m.Registers - desc.RegisterCount(params)
	for i, typ := range params {
		v := emu.Unknown(typ)
		switch arg := i - m.receivers(); {
		case arg < 0:
			v = emu.Object(emu.NewInstance(typ))
		case arg < len(m.Args):
			if v, err = argument(st, typ, m.Args[arg]); err != nil {
				return nil, fmt.Errorf("argument %d: %w", arg, err)
			}
		}

		if err := st.Assign(reg, v); err != nil {
			return nil, err
		}
		if desc.IsWide(typ) {
			reg += 2
		} else {
			reg++
		}
	}
	return st, nil
}

func argument(st *emu.RegisterState, typ string, raw json.RawMessage) (emu.Value, error) {
	d := json.NewDecoder(bytes.NewReader(raw))
	d.UseNumber()

	var x interface{}
	if err := d.Decode(&x); err != nil {
		return emu.Value{}, err
	}
	return value(st, typ, x)
}

// value converts a decoded JSON value to a value of type typ.
func value(st *emu.RegisterState, typ string, x interface{}) (emu.Value, error) {
	c := desc.Classify(typ)
	switch x := x.(type) {
	case nil:
		return emu.Unknown(typ), nil

	case bool:
		if c != desc.Boolean {
			return emu.Value{}, fmt.Errorf("boolean for %s", typ)
		}
		return emu.Boolean(x), nil

	case string:
		if typ != desc.String && typ != desc.Object {
			return emu.Value{}, fmt.Errorf("string for %s", typ)
		}
		return emu.Object(emu.NewString(x)), nil

	case json.Number:
		return number(typ, c, x)

	case map[string]interface{}:
		if unknown, ok := x["unknown"].(bool); ok && unknown && len(x) == 1 {
			return emu.Unknown(typ), nil
		}
		return emu.Value{}, fmt.Errorf("unsupported object %v for %s", x, typ)

	case []interface{}:
		if c != desc.Array {
			return emu.Value{}, fmt.Errorf("list for %s", typ)
		}
		elem, err := desc.Component(typ)
		if err != nil {
			return emu.Value{}, err
		}
		elems := make([]emu.Value, len(x))
		for i, e := range x {
			if e == nil {
				if !desc.IsReference(elem) {
					return emu.Value{}, fmt.Errorf("element %d: null for %s", i, elem)
				}
				elems[i] = emu.Null(elem)
				continue
			}
			if elems[i], err = value(st, elem, e); err != nil {
				return emu.Value{}, fmt.Errorf("element %d: %w", i, err)
			}
		}
		return emu.FilledArray(st, typ, elems)
	}

	return emu.Value{}, fmt.Errorf("unsupported value %v for %s", x, typ)
}

func number(typ string, c desc.Category, n json.Number) (emu.Value, error) {
	switch c {
	case desc.Float, desc.Double:
		f, err := n.Float64()
		if err != nil {
			return emu.Value{}, err
		}
		if c == desc.Float {
			return emu.Float(float32(f)), nil
		}
		return emu.Double(f), nil
	case desc.Long:
		i, err := n.Int64()
		if err != nil {
			return emu.Value{}, err
		}
		return emu.Long(i), nil
	}

	if !c.IsIntegral() {
		return emu.Value{}, fmt.Errorf("number for %s", typ)
	}
	i, err := n.Int64()
	if err != nil {
		return emu.Value{}, err
	}

	lo, hi := int64(math.MinInt32), int64(math.MaxInt32)
	switch c {
	case desc.Boolean:
		lo, hi = 0, 1
	case desc.Byte:
		lo, hi = math.MinInt8, math.MaxInt8
	case desc.Char:
		lo, hi = 0, math.MaxUint16
	case desc.Short:
		lo, hi = math.MinInt16, math.MaxInt16
	}
	if i < lo || i > hi {
		return emu.Value{}, fmt.Errorf("%d out of range for %s", i, typ)
	}
	return emu.Coerce(emu.Int(int32(i)), typ)
}
