package protocol

import (
	"strconv"
	"strings"
)

// MaxDataPayload is the largest escaped payload that keeps a data message with
// the widest possible session and position under MaxMessageSize.
const MaxDataPayload = MaxMessageSize - 1 - len("/data/4294967295/4294967295//")

var escaper = strings.NewReplacer(`\`, `\\`, `/`, `\/`)

// Marshal encodes m as a datagram.
func Marshal(m Message) []byte {
	return AppendMessage(nil, m)
}

// AppendMessage appends the encoding of m to dst and returns the extended buffer.
func AppendMessage(dst []byte, m Message) []byte {
	dst = append(dst, Separator)
	dst = append(dst, m.GetType()...)
	dst = append(dst, Separator)
	dst = strconv.AppendUint(dst, uint64(m.GetSession()), 10)
	dst = append(dst, Separator)

	switch msg := m.(type) {
	case *Data:
		dst = strconv.AppendUint(dst, uint64(msg.Position), 10)
		dst = append(dst, Separator)
		dst = append(dst, Escape(msg.Payload)...)
		dst = append(dst, Separator)

	case *Ack:
		dst = strconv.AppendUint(dst, uint64(msg.Position), 10)
		dst = append(dst, Separator)
	}

	return dst
}

// Escape escapes a data payload. Backslashes are escaped before slashes.
//
// strings.Replacer matches at each position in argument order and never
// rescans its own output, which gives the same result as replacing `\` with
// `\\` first and only then `/` with `\/`.
func Escape(s string) string {
	return escaper.Replace(s)
}

// EscapedLen returns len(Escape(s)) without allocating.
func EscapedLen(s string) int {
	n := len(s)

	for i := 0; i < len(s); i++ {
		if s[i] == EscapeChar || s[i] == Separator {
			n++
		}
	}

	return n
}

// SplitPayload splits payload into consecutive pieces whose escaped length is
// at most budget. Escape sequences are never split across pieces.
func SplitPayload(payload string, budget int) []string {
	if budget < 2 {
		budget = 2
	}

	pieces := make([]string, 0, EscapedLen(payload)/budget+1)

	start, size := 0, 0
	for i := 0; i < len(payload); i++ {
		width := 1
		if payload[i] == EscapeChar || payload[i] == Separator {
			width = 2
		}

		if size+width > budget {
			pieces = append(pieces, payload[start:i])
			start, size = i, 0
		}

		size += width
	}

	if start < len(payload) || len(pieces) == 0 {
		pieces = append(pieces, payload[start:])
	}

	return pieces
}
