package loader_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/dexsim/desc"
	"github.com/sarchlab/dexsim/emu"
	"github.com/sarchlab/dexsim/insts"
	"github.com/sarchlab/dexsim/loader"
)

// pick returns bytes[index] with index in v2 and bytes in v3.
const pick = `{
	"class": "LFoo;",
	"name": "pick",
	"proto": "(I[B)B",
	"static": true,
	"registers": 4,
	"units": ["0x0048", "0x0203", 15],
	"args": [1, [1, -2, 3]]
}`

var _ = Describe("Method fixtures", func() {
	Describe("a static method", func() {
		var m *loader.Method

		BeforeEach(func() {
			var err error
			m, err = loader.Parse([]byte(pick))
			Expect(err).NotTo(HaveOccurred())
		})

		It("should parse the signature and code", func() {
			Expect(m.Signature()).To(Equal("LFoo;->pick(I[B)B"))
			Expect(m.Units).To(Equal(loader.Units{0x0048, 0x0203, 0x000f}))

			code, err := m.Decode()
			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(HaveLen(2))
			Expect(code[0].Op).To(Equal(insts.OpAgetByte))
		})

		It("should bind the parameters to the last registers", func() {
			st, err := m.InitialState()
			Expect(err).NotTo(HaveOccurred())

			Expect(st.Registers()).To(Equal([]int{2, 3}))
			index, err := st.Get(2)
			Expect(err).NotTo(HaveOccurred())
			Expect(index).To(Equal(emu.Int(1)))

			bytes, err := st.Get(3)
			Expect(err).NotTo(HaveOccurred())
			Expect(bytes.Type()).To(Equal("[B"))
			v, err := emu.ArrayGet(st, desc.Byte, bytes, emu.Int(1))
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(emu.Byte(-2)))
		})

		It("should run", func() {
			code, err := m.Decode()
			Expect(err).NotTo(HaveOccurred())
			st, err := m.InitialState()
			Expect(err).NotTo(HaveOccurred())

			result := emu.NewEmulator(code).Run(0, st)

			Expect(result.Err).NotTo(HaveOccurred())
			Expect(result.Returned).NotTo(BeNil())
			Expect(result.Returned.AsInt()).To(Equal(int32(-2)))
		})
	})

	It("should mark array elements unknown", func() {
		m, err := loader.Parse([]byte(`{
			"class": "LFoo;", "name": "g", "proto": "([I[Ljava/lang/String;)V", "static": true,
			"registers": 2, "units": [14], "args": [[{"unknown": true}, 5], [null, {"unknown": true}]]
		}`))
		Expect(err).NotTo(HaveOccurred())

		st, err := m.InitialState()
		Expect(err).NotTo(HaveOccurred())

		ints, err := st.Get(0)
		Expect(err).NotTo(HaveOccurred())
		first, err := emu.ArrayGet(st, desc.Int, ints, emu.Int(0))
		Expect(err).NotTo(HaveOccurred())
		Expect(first).To(Equal(emu.Unknown("I")))
		second, err := emu.ArrayGet(st, desc.Int, ints, emu.Int(1))
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal(emu.Int(5)))

		strs, err := st.Get(1)
		Expect(err).NotTo(HaveOccurred())
		null, err := emu.ArrayGet(st, desc.Reference, strs, emu.Int(0))
		Expect(err).NotTo(HaveOccurred())
		Expect(null.IsNull()).To(BeTrue())
		unknown, err := emu.ArrayGet(st, desc.Reference, strs, emu.Int(1))
		Expect(err).NotTo(HaveOccurred())
		Expect(unknown).To(Equal(emu.Unknown(desc.String)))
	})

	Describe("an instance method", func() {
		It("should bind a non-null receiver and wide parameters", func() {
			m, err := loader.Parse([]byte(`{
				"class": "LFoo;", "name": "f", "proto": "(JLjava/lang/String;)V",
				"registers": 5, "units": [14], "args": [null, "hi"]
			}`))
			Expect(err).NotTo(HaveOccurred())

			st, err := m.InitialState()
			Expect(err).NotTo(HaveOccurred())

			this, err := st.Get(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(this.Kind()).To(Equal(emu.KindObject))
			Expect(this.Type()).To(Equal("LFoo;"))

			long, err := st.GetWide(2)
			Expect(err).NotTo(HaveOccurred())
			Expect(long).To(Equal(emu.Unknown("J")))

			s, err := st.Get(4)
			Expect(err).NotTo(HaveOccurred())
			lit, ok := s.Instance().Literal()
			Expect(ok).To(BeTrue())
			Expect(lit).To(Equal("hi"))
		})
	})

	It("should load a fixture file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "pick.json")
		Expect(os.WriteFile(path, []byte(pick), 0644)).To(Succeed())

		m, err := loader.Load(path)

		Expect(err).NotTo(HaveOccurred())
		Expect(m.Name).To(Equal("pick"))
	})

	It("should fail on a missing file", func() {
		_, err := loader.Load(filepath.Join(GinkgoT().TempDir(), "missing.json"))

		Expect(err).To(MatchError(ContainSubstring("failed to read")))
	})

	DescribeTable("invalid fixtures",
		func(fixture, message string) {
			m, err := loader.Parse([]byte(fixture))
			if err == nil {
				_, err = m.InitialState()
			}

			Expect(err).To(MatchError(ContainSubstring(message)))
		},
		Entry("malformed JSON", `{`, "failed to parse"),
		Entry("bad class", `{"class": "Foo", "proto": "()V", "registers": 1, "units": [14]}`, "class descriptor"),
		Entry("bad prototype", `{"class": "LFoo;", "proto": "(Q)V", "static": true, "registers": 1, "units": [14]}`, "malformed"),
		Entry("too few registers", `{"class": "LFoo;", "proto": "(JJ)V", "static": true, "registers": 3, "units": [14]}`, "exceed"),
		Entry("too many arguments", `{"class": "LFoo;", "proto": "(I)V", "static": true, "registers": 1, "units": [14], "args": [1, 2]}`, "arguments"),
		Entry("no code", `{"class": "LFoo;", "proto": "()V", "static": true, "registers": 0, "units": []}`, "no code units"),
		Entry("unit too large", `{"class": "LFoo;", "proto": "()V", "static": true, "registers": 0, "units": ["0x10000"]}`, "code unit 0"),
		Entry("byte out of range", `{"class": "LFoo;", "proto": "(B)V", "static": true, "registers": 1, "units": [14], "args": [300]}`, "out of range"),
		Entry("string for int", `{"class": "LFoo;", "proto": "(I)V", "static": true, "registers": 1, "units": [14], "args": ["x"]}`, "string for I"),
		Entry("unknown marker with extra keys", `{"class": "LFoo;", "proto": "(I)V", "static": true, "registers": 1, "units": [14], "args": [{"unknown": true, "x": 1}]}`, "unsupported object"),
		Entry("null primitive element", `{"class": "LFoo;", "proto": "([I)V", "static": true, "registers": 1, "units": [14], "args": [[null]]}`, "null for I"),
	)
})
