package session

import (
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/luma/lrcp/storage"
)

const (
	DefaultMailboxSize = 16
)

// PacketWriter sends datagrams. *net.UDPConn and every other net.PacketConn
// satisfy it.
type PacketWriter interface {
	WriteTo(p []byte, addr net.Addr) (n int, err error)
}

type Options struct {
	// MailboxSize bounds the number of messages queued for the session
	MailboxSize int

	// RetransmitInterval is the time between resends of unacknowledged data
	RetransmitInterval time.Duration

	// ExpiryInterval is how long the session waits for acknowledgement
	// progress before it gives up on the peer
	ExpiryInterval time.Duration

	// Store receives the session's statistics. Optional.
	Store storage.Store

	Log *zap.Logger
}
