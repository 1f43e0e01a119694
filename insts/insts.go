// Package insts provides Dalvik instruction definitions and decoding.
//
// This package decodes Dalvik code units (16-bit words) into structured
// instruction representations for the abstract interpreter. It supports the
// opcode families the engine executes:
//   - Moves, constants, returns and throw
//   - Array allocation, length, fill and the aget/aput families
//   - Instance and static field access and the invoke family
//   - Unary, binary, binary/2addr and binary/lit arithmetic, comparisons
//   - goto, if-test, if-testz, packed-switch and sparse-switch
//
// Switch and fill-array-data payload pseudo-instructions are decoded as part
// of DecodeMethod and attached to the instruction that references them.
//
// Usage:
//
//	decoder := insts.NewDecoder(pool)
//	method, err := decoder.DecodeMethod(units)
//	inst := method[0]
//	fmt.Printf("%s v%d, v%d, v%d\n", inst.Name(), inst.A, inst.B, inst.C)
package insts
