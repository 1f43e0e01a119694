package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/dexsim/emu"
	"github.com/sarchlab/dexsim/insts"
)

var _ = Describe("Branch predicates", func() {
	DescribeTable("Test on known ints",
		func(cond insts.Cond, a, b int32, want emu.Truth) {
			t, err := emu.Test(cond, emu.Int(a), emu.Int(b))

			Expect(err).NotTo(HaveOccurred())
			Expect(t).To(Equal(want))
		},
		Entry("eq true", insts.CondEQ, int32(1), int32(1), emu.True),
		Entry("eq false", insts.CondEQ, int32(1), int32(2), emu.False),
		Entry("ne", insts.CondNE, int32(1), int32(2), emu.True),
		Entry("lt", insts.CondLT, int32(-1), int32(0), emu.True),
		Entry("ge", insts.CondGE, int32(0), int32(0), emu.True),
		Entry("gt", insts.CondGT, int32(0), int32(0), emu.False),
		Entry("le", insts.CondLE, int32(-5), int32(3), emu.True),
	)

	It("should be Maybe when an operand is unknown", func() {
		t, err := emu.Test(insts.CondLT, emu.Unknown("I"), emu.Int(0))

		Expect(err).NotTo(HaveOccurred())
		Expect(t).To(Equal(emu.Maybe))
	})

	It("should compare references by identity", func() {
		obj := emu.NewInstance("LFoo;")

		t, err := emu.Test(insts.CondEQ, emu.Object(obj), emu.Object(obj))
		Expect(err).NotTo(HaveOccurred())
		Expect(t).To(Equal(emu.True))

		t, err = emu.Test(insts.CondEQ, emu.Object(obj), emu.Object(emu.NewInstance("LFoo;")))
		Expect(err).NotTo(HaveOccurred())
		Expect(t).To(Equal(emu.False))
	})

	It("should test references against null", func() {
		t, err := emu.TestZero(insts.CondEQ, emu.Null("LFoo;"))
		Expect(err).NotTo(HaveOccurred())
		Expect(t).To(Equal(emu.True))

		t, err = emu.TestZero(insts.CondNE, emu.Object(emu.NewInstance("LFoo;")))
		Expect(err).NotTo(HaveOccurred())
		Expect(t).To(Equal(emu.True))

		t, err = emu.TestZero(insts.CondEQ, emu.Unknown("LFoo;"))
		Expect(err).NotTo(HaveOccurred())
		Expect(t).To(Equal(emu.Maybe))
	})

	It("should reject ordering comparisons on references", func() {
		_, err := emu.TestZero(insts.CondLT, emu.Null("LFoo;"))

		Expect(emu.IsDefect(err)).To(BeTrue())
	})
})

var _ = Describe("Control flow", func() {
	var st *emu.RegisterState

	BeforeEach(func() {
		st = emu.NewRegisterState()
	})

	ifz := func(op insts.Op, offset int) *insts.Instruction {
		inst := makeInst(op, 0, 0, 0)
		inst.Offset = offset
		return inst
	}

	It("should take a known branch", func() {
		e := emu.NewEmulator(program(ifz(insts.OpIfEqz, 4), makeInst(insts.OpNop, 0, 0, 0)))
		Expect(st.Set(0, emu.Int(0))).To(Succeed())

		result := e.Step(0, st)

		Expect(result.Next).To(Equal([]int{4}))
		Expect(result.Forked()).To(BeFalse())
	})

	It("should fall through a known branch", func() {
		e := emu.NewEmulator(program(ifz(insts.OpIfEqz, 4), makeInst(insts.OpNop, 0, 0, 0)))
		Expect(st.Set(0, emu.Int(3))).To(Succeed())

		result := e.Step(0, st)

		Expect(result.Next).To(Equal([]int{2}))
	})

	It("should fork on an unknown predicate, taken target first", func() {
		e := emu.NewEmulator(program(ifz(insts.OpIfNez, 4), makeInst(insts.OpNop, 0, 0, 0)))
		Expect(st.Set(0, emu.Unknown("I"))).To(Succeed())

		result := e.Step(0, st)

		Expect(result.Forked()).To(BeTrue())
		Expect(result.Next).To(Equal([]int{4, 2}))
	})

	It("should compare two registers", func() {
		inst := makeInst(insts.OpIfLt, 0, 1, 0)
		inst.Offset = -1
		e := emu.NewEmulator(program(makeInst(insts.OpNop, 0, 0, 0), inst))
		Expect(st.Set(0, emu.Int(1))).To(Succeed())
		Expect(st.Set(1, emu.Int(2))).To(Succeed())

		result := e.Step(1, st)

		Expect(result.Next).To(Equal([]int{0}))
	})

	It("should jump unconditionally", func() {
		inst := makeInst(insts.OpGoto, 0, 0, 0)
		inst.Offset = 7
		e := emu.NewEmulator(program(inst))

		Expect(e.Step(0, st).Next).To(Equal([]int{7}))
	})

	Describe("switch", func() {
		var e *emu.Emulator

		BeforeEach(func() {
			sw := makeInst(insts.OpPackedSwitch, 0, 0, 0)
			sw.Payload = &insts.Payload{
				Kind:    insts.PayloadPackedSwitch,
				Keys:    []int32{10, 11, 12},
				Targets: []int32{10, 20, 10},
			}
			e = emu.NewEmulator(program(sw))
		})

		It("should select the matching case", func() {
			Expect(st.Set(0, emu.Int(11))).To(Succeed())

			Expect(e.Step(0, st).Next).To(Equal([]int{20}))
		})

		It("should fall through on no match", func() {
			Expect(st.Set(0, emu.Int(99))).To(Succeed())

			Expect(e.Step(0, st).Next).To(Equal([]int{3}))
		})

		It("should fork to every distinct target on an unknown key", func() {
			Expect(st.Set(0, emu.Unknown("I"))).To(Succeed())

			Expect(e.Step(0, st).Next).To(Equal([]int{10, 20, 3}))
		})
	})
})
