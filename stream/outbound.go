package stream

import (
	"errors"
	"sync/atomic"

	"github.com/luma/lrcp/protocol"
)

var (
	ErrAckBeyondSent = errors.New("Ack acknowledges bytes that were never sent")
)

// Outbound tracks the stream we send to a peer.
//
// Sent and Acked are read by every retransmission task of a session while the
// session goroutine updates them, so both are atomics.
type Outbound struct {
	sent  atomic.Uint32
	acked atomic.Uint32

	// budget is the largest escaped payload of a single chunk
	budget int
}

// NewOutbound returns an Outbound that splits payloads into chunks whose
// escaped size is at most budget. A budget of zero means
// protocol.MaxDataPayload.
func NewOutbound(budget int) *Outbound {
	if budget <= 0 || budget > protocol.MaxDataPayload {
		budget = protocol.MaxDataPayload
	}

	return &Outbound{budget: budget}
}

// Sent returns the number of bytes queued on the stream so far.
func (o *Outbound) Sent() uint32 {
	return o.sent.Load()
}

// Acked returns the number of bytes the peer confirmed.
func (o *Outbound) Acked() uint32 {
	return o.acked.Load()
}

// Chunk splits payload into data messages for session, at increasing
// positions starting at Sent, and advances Sent past them.
//
// Chunk must only be called by the goroutine that owns the stream.
func (o *Outbound) Chunk(session uint32, payload string) []*protocol.Data {
	pieces := protocol.SplitPayload(payload, o.budget)
	chunks := make([]*protocol.Data, 0, len(pieces))

	position := o.sent.Load()
	for _, piece := range pieces {
		chunks = append(chunks, &protocol.Data{
			Session:  session,
			Position: position,
			Payload:  piece,
		})

		position += uint32(len(piece))
	}

	o.sent.Store(position)

	return chunks
}

// Ack records that the peer holds the first position bytes of the stream.
//
// Acked never moves backwards: an ack lower than a previous one is ignored and
// reported as not advanced.
func (o *Outbound) Ack(position uint32) (advanced bool, err error) {
	if position > o.sent.Load() {
		return false, ErrAckBeyondSent
	}

	for {
		current := o.acked.Load()
		if position <= current {
			return false, nil
		}

		if o.acked.CompareAndSwap(current, position) {
			return true, nil
		}
	}
}
