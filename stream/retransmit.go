package stream

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/luma/lrcp/protocol"
)

const (
	DefaultRetransmitInterval = 3 * time.Second
	DefaultExpiryInterval     = 20 * time.Second
)

var (
	ErrExpired = errors.New("Data was not acknowledged before the expiry interval")
	ErrAborted = errors.New("Retransmission was aborted")
)

// SendFunc delivers a single message to the peer.
type SendFunc func(msg protocol.Message) error

// Retransmitter delivers a group of chunks, usually one line, and keeps
// resending them until the peer acknowledges all of them.
//
// Many groups of the same stream run at once, each in its own goroutine, all
// polling the same Outbound.
type Retransmitter struct {
	// Interval between resends of unacknowledged chunks
	Interval time.Duration

	// Expiry is how long a group may go without any acknowledgement progress
	Expiry time.Duration

	// Abort is closed when the stream is being torn down, for example because
	// another group expired
	Abort <-chan struct{}

	Log *zap.Logger
}

// Run sends chunks straight away and then resends the unacknowledged ones every
// Interval. It returns nil once the last chunk is acknowledged, ErrExpired if
// Acked has not moved for Expiry, and ErrAborted or the context error when it
// is told to stop. Nothing is sent after Run returns.
func (r *Retransmitter) Run(
	ctx context.Context,
	out *Outbound,
	send SendFunc,
	chunks []*protocol.Data,
) error {
	if len(chunks) == 0 {
		return nil
	}

	end := chunks[len(chunks)-1].End()

	if err := r.transmit(ctx, out, send, chunks); err != nil {
		return err
	}

	interval, expiryInterval := r.intervals()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	expiry := time.NewTimer(expiryInterval)
	defer expiry.Stop()

	lastAcked := out.Acked()

	for {
		if uint64(out.Acked()) >= end {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-r.Abort:
			return ErrAborted

		case <-expiry.C:
			acked := out.Acked()
			if uint64(acked) >= end {
				return nil
			}

			if acked > lastAcked {
				// The peer is making progress, give it another window
				lastAcked = acked
				expiry.Reset(expiryInterval)
				continue
			}

			r.log().Debug("Data expired",
				zap.Uint32("acked", acked),
				zap.Uint64("end", end))

			return ErrExpired

		case <-ticker.C:
			if err := r.transmit(ctx, out, send, chunks); err != nil {
				return err
			}
		}
	}
}

// transmit sends every chunk the peer has not fully acknowledged yet.
func (r *Retransmitter) transmit(
	ctx context.Context,
	out *Outbound,
	send SendFunc,
	chunks []*protocol.Data,
) error {
	for _, chunk := range chunks {
		if uint64(out.Acked()) >= chunk.End() {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-r.Abort:
			return ErrAborted

		default:
		}

		if err := send(chunk); err != nil {
			// A lost datagram is no different from a dropped one, the next
			// tick will try again
			r.log().Warn("Failed to send data",
				zap.Uint32("position", chunk.Position),
				zap.Error(err))
		}
	}

	return nil
}

func (r *Retransmitter) intervals() (time.Duration, time.Duration) {
	interval, expiry := r.Interval, r.Expiry

	if interval <= 0 {
		interval = DefaultRetransmitInterval
	}

	if expiry <= 0 {
		expiry = DefaultExpiryInterval
	}

	return interval, expiry
}

func (r *Retransmitter) log() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}

	return r.Log
}
