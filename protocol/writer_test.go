package protocol_test

import (
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	"github.com/luma/lrcp/protocol"
)

var _ = Describe("Writer", func() {
	Describe("Marshal()", func() {
		It("encodes a connect", func() {
			Expect(string(protocol.Marshal(&protocol.Connect{Session: 42}))).To(Equal("/connect/42/"))
		})

		It("encodes an ack", func() {
			Expect(string(protocol.Marshal(&protocol.Ack{Session: 42, Position: 6}))).To(Equal("/ack/42/6/"))
		})

		It("encodes a close", func() {
			Expect(string(protocol.Marshal(&protocol.Close{Session: 42}))).To(Equal("/close/42/"))
		})

		It("encodes data and escapes the payload", func() {
			msg := &protocol.Data{Session: 42, Position: 3, Payload: `a/b\c`}
			Expect(string(protocol.Marshal(msg))).To(Equal(`/data/42/3/a\/b\\c/`))
		})

		It("appends to an existing buffer", func() {
			buf := []byte("prefix")
			buf = protocol.AppendMessage(buf, &protocol.Close{Session: 1})
			Expect(string(buf)).To(Equal("prefix/close/1/"))
		})
	})

	Describe("Escape()", func() {
		It("escapes backslashes before slashes", func() {
			Expect(protocol.Escape(`\/`)).To(Equal(`\\\/`))
			Expect(protocol.Escape(`/\`)).To(Equal(`\/\\`))
		})

		It("reports the escaped length", func() {
			for _, s := range []string{"", "abc", `a/b\c`, `\\//`} {
				Expect(protocol.EscapedLen(s)).To(Equal(len(protocol.Escape(s))))
			}
		})
	})

	Describe("round trips", func() {
		DescribeTable("decode(encode(m)) == m",
			func(m protocol.Message) {
				decoded, err := protocol.ParseMessage(protocol.Marshal(m))
				Expect(err).To(Succeed())
				Expect(decoded).To(Equal(m))
			},
			Entry("connect", &protocol.Connect{Session: 0}),
			Entry("ack", &protocol.Ack{Session: 7, Position: 123456}),
			Entry("close", &protocol.Close{Session: 2147483647}),
			Entry("plain data", &protocol.Data{Session: 1, Position: 0, Payload: "hello\n"}),
			Entry("data with slashes", &protocol.Data{Session: 1, Position: 9, Payload: "/usr/bin/"}),
			Entry("data with backslashes", &protocol.Data{Session: 1, Position: 9, Payload: `C:\Windows\`}),
			Entry("data with both", &protocol.Data{Session: 1, Position: 9, Payload: `a\/b/\c\\//`}),
			Entry("data that looks escaped", &protocol.Data{Session: 1, Position: 9, Payload: `\/ and \\`}),
		)
	})

	Describe("SplitPayload()", func() {
		It("keeps a short payload in one piece", func() {
			Expect(protocol.SplitPayload("hello\n", protocol.MaxDataPayload)).To(Equal([]string{"hello\n"}))
		})

		It("returns one empty piece for an empty payload", func() {
			Expect(protocol.SplitPayload("", 10)).To(Equal([]string{""}))
		})

		It("splits on the escaped length", func() {
			Expect(protocol.SplitPayload("ab/cd", 3)).To(Equal([]string{"ab", "/c", "d"}))
		})

		It("keeps every piece of a large payload inside the datagram ceiling", func() {
			payload := strings.Repeat(`x/\`, 1000) + "\n"
			pieces := protocol.SplitPayload(payload, protocol.MaxDataPayload)
			Expect(strings.Join(pieces, "")).To(Equal(payload))

			for _, piece := range pieces {
				msg := &protocol.Data{Session: 4294967295, Position: 4294967295, Payload: piece}
				Expect(len(protocol.Marshal(msg))).To(BeNumerically("<", protocol.MaxMessageSize))
			}
		})
	})
})
