package transport

import (
	"time"

	"go.uber.org/zap"

	"github.com/luma/lrcp/storage"
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on
	Port int

	// Reuseport controls setting SO_REUSEPORT
	Reuseport bool

	// Trace will log every datagram. This is only useful in local debugging
	Trace bool

	// MailboxSize bounds the number of messages queued per session
	MailboxSize int

	// RetransmitInterval is the time between resends of unacknowledged data
	RetransmitInterval time.Duration

	// ExpiryInterval is how long a session waits for acknowledgement progress
	ExpiryInterval time.Duration

	// ClosedSessionTTL is how long the id of a closed session keeps being
	// answered with a close
	ClosedSessionTTL time.Duration

	Store storage.Store

	Log *zap.Logger
}
