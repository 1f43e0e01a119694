package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/dexsim/desc"
	"github.com/sarchlab/dexsim/emu"
)

var _ = Describe("RegisterState", func() {
	var st *emu.RegisterState

	BeforeEach(func() {
		st = emu.NewRegisterState()
	})

	Describe("Get and Set", func() {
		It("should fail on an unbound register", func() {
			_, err := st.Get(3)

			Expect(err).To(BeAssignableToTypeOf(&emu.UnboundRegisterError{}))
			Expect(err.(*emu.UnboundRegisterError).Register).To(Equal(3))
		})

		It("should return the bound value", func() {
			Expect(st.Set(3, emu.Int(7))).To(Succeed())

			Expect(mustGet(st, 3)).To(Equal(emu.Int(7)))
			Expect(st.Registers()).To(Equal([]int{3}))
		})

		It("should refuse a wide value in a narrow write", func() {
			err := st.Set(0, emu.Long(1))

			Expect(err).To(BeAssignableToTypeOf(&emu.InvalidWideAccessError{}))
		})
	})

	Describe("wide pairs", func() {
		BeforeEach(func() {
			Expect(st.SetWide(2, emu.Long(0x10000000000))).To(Succeed())
		})

		It("should read back the pair", func() {
			v, err := st.GetWide(2)

			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(emu.Long(0x10000000000)))
			Expect(st.IsBound(3)).To(BeTrue())
			Expect(st.Registers()).To(Equal([]int{2}))
		})

		It("should refuse a narrow read of either half", func() {
			_, err := st.Get(2)
			Expect(err).To(BeAssignableToTypeOf(&emu.InvalidWideAccessError{}))

			_, err = st.Get(3)
			Expect(err).To(BeAssignableToTypeOf(&emu.InvalidWideAccessError{}))
		})

		It("should refuse a wide read of the high half", func() {
			_, err := st.GetWide(3)

			Expect(err).To(BeAssignableToTypeOf(&emu.InvalidWideAccessError{}))
		})

		It("should refuse a wide read of a narrow value", func() {
			Expect(st.Set(0, emu.Int(1))).To(Succeed())

			_, err := st.GetWide(0)

			Expect(err).To(BeAssignableToTypeOf(&emu.InvalidWideAccessError{}))
		})

		It("should invalidate the pair when the high half is overwritten", func() {
			Expect(st.Set(3, emu.Int(1))).To(Succeed())

			Expect(st.IsBound(2)).To(BeFalse())
			Expect(mustGet(st, 3)).To(Equal(emu.Int(1)))
		})

		It("should invalidate the pair when the low half is overwritten", func() {
			Expect(st.Set(2, emu.Int(1))).To(Succeed())

			Expect(st.IsBound(3)).To(BeFalse())
			Expect(mustGet(st, 2)).To(Equal(emu.Int(1)))
		})

		It("should invalidate an overlapping pair", func() {
			Expect(st.SetWide(3, emu.Double(1.5))).To(Succeed())

			Expect(st.IsBound(2)).To(BeFalse())
			v, err := st.GetWide(3)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(emu.Double(1.5)))
		})
	})

	Describe("Clone", func() {
		It("should not share registers", func() {
			Expect(st.Set(0, emu.Int(1))).To(Succeed())
			clone := st.Clone()

			Expect(clone.Set(0, emu.Int(2))).To(Succeed())

			Expect(mustGet(st, 0)).To(Equal(emu.Int(1)))
			Expect(mustGet(clone, 0)).To(Equal(emu.Int(2)))
		})

		It("should preserve aliasing within the copy", func() {
			arr := filled(st, "[I", emu.Int(0))
			Expect(st.Set(0, arr)).To(Succeed())
			Expect(st.Set(1, arr)).To(Succeed())
			clone := st.Clone()

			Expect(emu.ArrayPut(clone, desc.Int, mustGet(clone, 0), emu.Int(0), emu.Int(9))).To(Succeed())

			through, err := emu.ArrayGet(clone, desc.Int, mustGet(clone, 1), emu.Int(0))
			Expect(err).NotTo(HaveOccurred())
			Expect(through).To(Equal(emu.Int(9)))

			original, err := emu.ArrayGet(st, desc.Int, mustGet(st, 1), emu.Int(0))
			Expect(err).NotTo(HaveOccurred())
			Expect(original).To(Equal(emu.Int(0)))
		})

		It("should copy static fields and the result register", func() {
			st.SetStatic("LFoo;->x:I", emu.Int(3))
			st.SetResult(emu.Int(4))
			clone := st.Clone()

			clone.SetStatic("LFoo;->x:I", emu.Int(5))
			clone.ClearResult()

			v, ok := st.Static("LFoo;->x:I")
			Expect(ok).To(BeTrue())
			Expect(v).To(Equal(emu.Int(3)))
			_, ok = st.Result()
			Expect(ok).To(BeTrue())
		})
	})

	Describe("Equal and Fingerprint", func() {
		It("should hold for a state and its clone", func() {
			Expect(st.Set(0, emu.Int(1))).To(Succeed())
			Expect(st.SetWide(1, emu.Long(2))).To(Succeed())
			Expect(st.Set(3, filled(st, "[I", emu.Int(3)))).To(Succeed())
			clone := st.Clone()

			Expect(st.Equal(clone)).To(BeTrue())
			Expect(st.Fingerprint()).To(Equal(clone.Fingerprint()))
		})

		It("should distinguish different values", func() {
			Expect(st.Set(0, emu.Int(1))).To(Succeed())
			other := emu.NewRegisterState()
			Expect(other.Set(0, emu.Int(2))).To(Succeed())

			Expect(st.Equal(other)).To(BeFalse())
		})

		It("should distinguish known from unknown", func() {
			Expect(st.Set(0, emu.Int(1))).To(Succeed())
			other := emu.NewRegisterState()
			Expect(other.Set(0, emu.Unknown("I"))).To(Succeed())

			Expect(st.Equal(other)).To(BeFalse())
		})

		It("should compare array contents", func() {
			Expect(st.Set(0, filled(st, "[I", emu.Int(1)))).To(Succeed())
			clone := st.Clone()
			Expect(emu.ArrayPut(clone, desc.Int, mustGet(clone, 0), emu.Int(0), emu.Int(2))).To(Succeed())

			Expect(st.Equal(clone)).To(BeFalse())
			Expect(st.Fingerprint()).NotTo(Equal(clone.Fingerprint()))
		})
	})

	Describe("Join", func() {
		It("should keep agreeing registers and forget the rest", func() {
			Expect(st.Set(0, emu.Int(1))).To(Succeed())
			Expect(st.Set(1, emu.Int(2))).To(Succeed())
			Expect(st.Set(2, emu.Int(3))).To(Succeed())
			other := st.Clone()
			Expect(other.Set(1, emu.Int(5))).To(Succeed())
			other.Unbind(2)

			j := emu.Join(st, other)

			Expect(mustGet(j, 0)).To(Equal(emu.Int(1)))
			Expect(mustGet(j, 1)).To(Equal(emu.Unknown("I")))
			Expect(j.IsBound(2)).To(BeFalse())
		})

		It("should widen arrays whose contents differ", func() {
			Expect(st.Set(0, filled(st, "[I", emu.Int(1)))).To(Succeed())
			other := st.Clone()
			Expect(emu.ArrayPut(other, desc.Int, mustGet(other, 0), emu.Int(0), emu.Int(2))).To(Succeed())

			j := emu.Join(st, other)

			Expect(mustGet(j, 0)).To(Equal(emu.Unknown("[I")))
		})

		It("should use a common reference type", func() {
			Expect(st.Set(0, emu.Object(emu.NewInstance("LFoo;")))).To(Succeed())
			other := emu.NewRegisterState()
			Expect(other.Set(0, emu.Object(emu.NewInstance("LBar;")))).To(Succeed())

			j := emu.Join(st, other)

			Expect(mustGet(j, 0)).To(Equal(emu.Unknown("Ljava/lang/Object;")))
		})

		It("should be equal to its inputs when they agree", func() {
			Expect(st.SetWide(0, emu.Long(7))).To(Succeed())
			other := st.Clone()

			Expect(emu.Join(st, other).Equal(st)).To(BeTrue())
		})
	})
})
