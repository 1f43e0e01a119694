package insts_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/dexsim/insts"
)

var _ = Describe("Decoder", func() {
	var (
		pool    *insts.TablePool
		decoder *insts.Decoder
	)

	BeforeEach(func() {
		pool = &insts.TablePool{
			Strings: []string{"hello"},
			Types:   []string{"[I", "LFoo;"},
			Fields:  []insts.FieldRef{{Class: "LFoo;", Name: "bar", Type: "[B"}},
			Methods: []insts.MethodRef{{Class: "LFoo;", Name: "baz", Proto: "(III)V"}},
		}
		decoder = insts.NewDecoder(pool)
	})

	decode := func(units ...uint16) *insts.Instruction {
		inst, err := decoder.Decode(units, 0)
		Expect(err).NotTo(HaveOccurred())
		return inst
	}

	Describe("register formats", func() {
		// aget-byte v1, v2, v3
		It("should decode 23x", func() {
			inst := decode(0x0148, 0x0302)

			Expect(inst.Op).To(Equal(insts.OpAgetByte))
			Expect(inst.Format).To(Equal(insts.Format23x))
			Expect(inst.Family).To(Equal(insts.FamilyArrayGet))
			Expect(inst.A).To(Equal(1))
			Expect(inst.B).To(Equal(2))
			Expect(inst.C).To(Equal(3))
			Expect(inst.Size).To(Equal(2))
			Expect(inst.String()).To(Equal("aget-byte v1, v2, v3"))
		})

		// move-wide v4, v2
		It("should decode 12x", func() {
			inst := decode(0x2404)

			Expect(inst.Op).To(Equal(insts.OpMoveWide))
			Expect(inst.A).To(Equal(4))
			Expect(inst.B).To(Equal(2))
			Expect(inst.IsWide()).To(BeTrue())
		})

		// move/16 v300, v2
		It("should decode 32x", func() {
			inst := decode(0x0003, 300, 2)

			Expect(inst.A).To(Equal(300))
			Expect(inst.B).To(Equal(2))
			Expect(inst.Next()).To(Equal(3))
		})
	})

	Describe("literals", func() {
		// const/4 v2, #-3
		It("should sign-extend 11n", func() {
			inst := decode(0xd212)

			Expect(inst.A).To(Equal(2))
			Expect(inst.Literal).To(Equal(int64(-3)))
		})

		// const/high16 v0, #0x41200000
		It("should shift 21h into the high half of an int", func() {
			inst := decode(0x0015, 0x4120)

			Expect(inst.Literal).To(Equal(int64(0x41200000)))
		})

		// const-wide/high16 v0, #0x4024000000000000
		It("should shift 21h into the high half of a long", func() {
			inst := decode(0x0019, 0x4024)

			Expect(inst.Literal).To(Equal(int64(0x4024) << 48))
		})

		// const-wide v2, #0x123456789abcdef0
		It("should decode 51l", func() {
			inst := decode(0x0218, 0xdef0, 0x9abc, 0x5678, 0x1234)

			Expect(inst.A).To(Equal(2))
			Expect(inst.Literal).To(Equal(int64(0x123456789abcdef0)))
			Expect(inst.Size).To(Equal(5))
		})

		// const v1, #-2
		It("should decode 31i", func() {
			inst := decode(0x0114, 0xfffe, 0xffff)

			Expect(inst.Literal).To(Equal(int64(-2)))
		})

		// add-int/lit8 v0, v1, #-1
		It("should decode 22b", func() {
			inst := decode(0x00d8, 0xff01)

			Expect(inst.Family).To(Equal(insts.FamilyBinaryLit))
			Expect(inst.Arith()).To(Equal(insts.ArithAdd))
			Expect(inst.B).To(Equal(1))
			Expect(inst.Literal).To(Equal(int64(-1)))
		})

		// rsub-int v0, v1, #5
		It("should decode 22s", func() {
			inst := decode(0x10d1, 0x0005)

			Expect(inst.Arith()).To(Equal(insts.ArithRsub))
			Expect(inst.B).To(Equal(1))
			Expect(inst.Literal).To(Equal(int64(5)))
		})
	})

	Describe("branches", func() {
		// goto -2
		It("should decode a backward 10t", func() {
			inst := decode(0xfe28)

			Expect(inst.Offset).To(Equal(-2))
		})

		// if-ne v1, v2, -3
		It("should decode 22t", func() {
			inst, err := decoder.Decode([]uint16{0x0000, 0x0000, 0x0000, 0x2133, 0xfffd}, 3)

			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Cond()).To(Equal(insts.CondNE))
			Expect(inst.A).To(Equal(1))
			Expect(inst.B).To(Equal(2))
			Expect(inst.Target()).To(Equal(0))
			Expect(inst.String()).To(Equal("if-ne v1, v2, :addr_0"))
		})
	})

	Describe("index operands", func() {
		It("should resolve strings", func() {
			inst := decode(0x001a, 0x0000)

			Expect(inst.Str).To(Equal("hello"))
			Expect(inst.String()).To(Equal(`const-string v0, "hello"`))
		})

		It("should resolve types", func() {
			inst := decode(0x2123, 0x0000) // new-array v1, v2, [I

			Expect(inst.Type).To(Equal("[I"))
			Expect(inst.A).To(Equal(1))
			Expect(inst.B).To(Equal(2))
		})

		It("should resolve fields", func() {
			inst := decode(0x0062, 0x0000) // sget-object v0

			Expect(inst.IsStatic()).To(BeTrue())
			Expect(inst.Field.String()).To(Equal("LFoo;->bar:[B"))
		})

		// invoke-static {v1, v2, v3}, LFoo;->baz(III)V
		It("should decode 35c argument lists", func() {
			inst := decode(0x3071, 0x0000, 0x0321)

			Expect(inst.Args).To(Equal([]int{1, 2, 3}))
			Expect(inst.IsStatic()).To(BeTrue())
			Expect(inst.String()).To(Equal("invoke-static {v1, v2, v3}, LFoo;->baz(III)V"))
		})

		// invoke-virtual/range {v4 .. v6}
		It("should decode 3rc argument ranges", func() {
			inst := decode(0x0374, 0x0000, 0x0004)

			Expect(inst.Args).To(Equal([]int{4, 5, 6}))
			Expect(inst.IsStatic()).To(BeFalse())
		})

		It("should report an out of range index", func() {
			_, err := decoder.Decode([]uint16{0x001a, 0x0005}, 0)

			Expect(err).To(MatchError(ContainSubstring("string index 5 out of range")))
		})
	})

	Describe("errors", func() {
		It("should reject unsupported opcodes", func() {
			_, err := decoder.Decode([]uint16{0x003e}, 0)

			Expect(err).To(MatchError(ContainSubstring("unsupported opcode")))
		})

		It("should reject truncated instructions", func() {
			_, err := decoder.Decode([]uint16{0x0013}, 0)

			Expect(err).To(MatchError(ContainSubstring("truncated")))
		})

		It("should reject addresses outside the code", func() {
			_, err := decoder.Decode([]uint16{0x0000}, 1)

			Expect(err).To(HaveOccurred())
		})
	})

	Describe("DecodeMethod", func() {
		It("should attach a packed-switch payload", func() {
			code, err := decoder.DecodeMethod([]uint16{
				0x002b, 0x0004, 0x0000, // packed-switch v0, :payload
				0x000e,                 // return-void
				0x0100, 0x0002, 0x000a, 0x0000, 0x0003, 0x0000, 0x0003, 0x0000,
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(HaveLen(2))
			Expect(code[0].Payload).NotTo(BeNil())
			Expect(code[0].Payload.Keys).To(Equal([]int32{10, 11}))
			Expect(code[0].Payload.Targets).To(Equal([]int32{3, 3}))
			Expect(code[1].Address).To(Equal(3))
		})

		It("should attach a sparse-switch payload", func() {
			code, err := decoder.DecodeMethod([]uint16{
				0x002c, 0x0004, 0x0000, // sparse-switch v0, :payload
				0x000e,                 // return-void
				0x0200, 0x0002,
				0xffff, 0xffff, 0x0064, 0x0000,
				0x0003, 0x0000, 0x0003, 0x0000,
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(code[0].Payload.Kind).To(Equal(insts.PayloadSparseSwitch))
			Expect(code[0].Payload.Keys).To(Equal([]int32{-1, 100}))
		})

		It("should sign-extend fill-array-data elements", func() {
			code, err := decoder.DecodeMethod([]uint16{
				0x0026, 0x0004, 0x0000, // fill-array-data v0, :payload
				0x000e,                 // return-void
				0x0300, 0x0001, 0x0003, 0x0000, 0xff01, 0x0003,
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(code[0].Payload.ElementWidth).To(Equal(1))
			Expect(code[0].Payload.Data).To(Equal([]int64{1, -1, 3}))
		})

		It("should decode wide fill-array-data elements", func() {
			code, err := decoder.DecodeMethod([]uint16{
				0x0026, 0x0004, 0x0000,
				0x000e,
				0x0300, 0x0004, 0x0001, 0x0000, 0xfffe, 0xffff,
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(code[0].Payload.Data).To(Equal([]int64{-2}))
		})

		It("should reject a switch without a payload", func() {
			_, err := decoder.DecodeMethod([]uint16{0x002b, 0x0003, 0x0000, 0x000e})

			Expect(err).To(MatchError(ContainSubstring("no payload")))
		})

		It("should reject a payload of the wrong kind", func() {
			_, err := decoder.DecodeMethod([]uint16{
				0x002b, 0x0004, 0x0000,
				0x000e,
				0x0300, 0x0001, 0x0000, 0x0000,
			})

			Expect(err).To(MatchError(ContainSubstring("does not match")))
		})
	})
})
