package desc_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/dexsim/desc"
)

var _ = Describe("Descriptors", func() {
	DescribeTable("Classify",
		func(d string, want desc.Category) {
			Expect(desc.Classify(d)).To(Equal(want))
		},
		Entry("boolean", "Z", desc.Boolean),
		Entry("byte", "B", desc.Byte),
		Entry("char", "C", desc.Char),
		Entry("short", "S", desc.Short),
		Entry("int", "I", desc.Int),
		Entry("long", "J", desc.Long),
		Entry("float", "F", desc.Float),
		Entry("double", "D", desc.Double),
		Entry("void", "V", desc.Void),
		Entry("class", "Lfoo/Bar;", desc.Reference),
		Entry("int array", "[I", desc.Array),
		Entry("nested object array", "[[Ljava/lang/String;", desc.Array),
		Entry("unknown marker", "?", desc.Unknown),
		Entry("empty", "", desc.Unknown),
		Entry("void array", "[V", desc.Unknown),
		Entry("unterminated class", "Lfoo/Bar", desc.Unknown),
		Entry("trailing garbage", "II", desc.Unknown),
	)

	Describe("Component", func() {
		It("should strip exactly one dimension", func() {
			Expect(desc.Component("[I")).To(Equal("I"))
			Expect(desc.Component("[[J")).To(Equal("[J"))
			Expect(desc.Component("[Lfoo/Bar;")).To(Equal("Lfoo/Bar;"))
		})

		It("should keep the unknown marker", func() {
			Expect(desc.Component("?")).To(Equal("?"))
		})

		It("should reject non-array descriptors", func() {
			_, err := desc.Component("I")
			Expect(err).To(HaveOccurred())

			_, err = desc.Component("Lfoo/Bar;")
			Expect(err).To(HaveOccurred())
		})
	})

	It("should round-trip ArrayOf and Component", func() {
		for _, d := range []string{"I", "J", "Z", "Lfoo/Bar;", "[S"} {
			Expect(desc.Component(desc.ArrayOf(d))).To(Equal(d))
		}
		Expect(desc.Dimensions("[[[I")).To(Equal(3))
		Expect(desc.Dimensions("I")).To(Equal(0))
	})

	It("should know which categories are wide", func() {
		Expect(desc.IsWide("J")).To(BeTrue())
		Expect(desc.IsWide("D")).To(BeTrue())
		Expect(desc.IsWide("I")).To(BeFalse())
		Expect(desc.IsWide("[J")).To(BeFalse())
	})

	It("should describe primitive widths and signedness", func() {
		Expect(desc.Byte.Bits()).To(Equal(8))
		Expect(desc.Byte.Signed()).To(BeTrue())
		Expect(desc.Char.Bits()).To(Equal(16))
		Expect(desc.Char.Signed()).To(BeFalse())
		Expect(desc.Long.Bits()).To(Equal(64))
		Expect(desc.Reference.Bits()).To(Equal(0))
	})

	DescribeTable("Promote",
		func(a, b, want desc.Category) {
			Expect(desc.Promote(a, b)).To(Equal(want))
			Expect(desc.Promote(b, a)).To(Equal(want))
		},
		Entry("byte and short", desc.Byte, desc.Short, desc.Int),
		Entry("char and int", desc.Char, desc.Int, desc.Int),
		Entry("int and long", desc.Int, desc.Long, desc.Long),
		Entry("long and float", desc.Long, desc.Float, desc.Float),
		Entry("float and double", desc.Float, desc.Double, desc.Double),
		Entry("boolean and boolean", desc.Boolean, desc.Boolean, desc.Int),
	)

	Describe("ParseMethod", func() {
		It("should split parameters and return type", func() {
			params, ret, err := desc.ParseMethod("(I[JLfoo/Bar;D)Ljava/lang/String;")
			Expect(err).NotTo(HaveOccurred())
			Expect(params).To(Equal([]string{"I", "[J", "Lfoo/Bar;", "D"}))
			Expect(ret).To(Equal(desc.String))
			Expect(desc.RegisterCount(params)).To(Equal(5))
		})

		It("should accept an empty parameter list", func() {
			params, ret, err := desc.ParseMethod("()V")
			Expect(err).NotTo(HaveOccurred())
			Expect(params).To(BeEmpty())
			Expect(ret).To(Equal("V"))
		})

		It("should reject malformed prototypes", func() {
			for _, proto := range []string{"", "I", "(I", "(Lfoo)V", "(I)Q"} {
				_, _, err := desc.ParseMethod(proto)
				Expect(err).To(HaveOccurred(), proto)
			}
		})
	})
})
