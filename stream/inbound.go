package stream

import (
	"math"
	"strings"
)

// Status describes what Inbound.Apply did with a data message.
type Status int

const (
	// StatusAccepted means new bytes were appended to the stream
	StatusAccepted Status = iota

	// StatusGap means the data starts past the received bytes, so some data
	// in between has not arrived yet
	StatusGap

	// StatusDuplicate means every byte of the data was already received
	StatusDuplicate

	// StatusOverflow means appending the data would take the stream past the
	// largest position the protocol can express
	StatusOverflow
)

func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusGap:
		return "gap"
	case StatusDuplicate:
		return "duplicate"
	case StatusOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Inbound reassembles the bytes a peer sends into an ordered stream.
//
// Only data that starts at or before the number of bytes already received
// is accepted, so the stream is always a contiguous prefix of what the peer
// sent. Inbound is not safe for concurrent use; it is owned by the goroutine
// that reads the peer's messages.
type Inbound struct {
	received uint32
	buffer   string
}

// Apply applies the payload of a data message starting at position. It
// returns the bytes that were appended to the stream, if any.
func (in *Inbound) Apply(position uint32, payload string) (string, Status) {
	if position > in.received {
		return "", StatusGap
	}

	overlap := int(in.received - position)
	if overlap >= len(payload) {
		return "", StatusDuplicate
	}

	fresh := payload[overlap:]
	if uint64(in.received)+uint64(len(fresh)) > math.MaxUint32 {
		return "", StatusOverflow
	}

	in.buffer += fresh
	in.received += uint32(len(fresh))

	return fresh, StatusAccepted
}

// Received returns the number of contiguous bytes received so far.
func (in *Inbound) Received() uint32 {
	return in.received
}

// Buffered returns the received bytes that are not part of a complete line yet.
func (in *Inbound) Buffered() string {
	return in.buffer
}

// Lines removes every complete line from the buffer and returns them in
// stream order, each including its trailing newline.
func (in *Inbound) Lines() []string {
	lines, rest := SplitLines(in.buffer)
	// Clone so the consumed lines can be collected
	in.buffer = strings.Clone(rest)

	return lines
}
