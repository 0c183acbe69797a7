package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/luma/lrcp/protocol"
	"github.com/luma/lrcp/storage"
	"github.com/luma/lrcp/stream"
)

type State string

const (
	StateAwaitingConnect State = "awaiting_connect"
	StateConnected       State = "connected"
	StateClosed          State = "closed"
)

// Stats is the snapshot of a session that is written to the store.
type Stats struct {
	Session       uint32 `json:"session"`
	Peer          string `json:"peer"`
	State         State  `json:"state"`
	BytesReceived uint32 `json:"bytesReceived"`
	Buffered      int    `json:"buffered"`
	BytesSent     uint32 `json:"bytesSent"`
	BytesAcked    uint32 `json:"bytesAcked"`
	Lines         int    `json:"lines"`
}

// StatsKey is the store key of a session's Stats.
func StatsKey(id uint32) string {
	return "session_" + strconv.FormatUint(uint64(id), 10)
}

// Session is one LRCP session with a single peer.
//
// The transport delivers the peer's messages into the session's mailbox and
// Run applies them one at a time, so the inbound stream and the connection
// state need no locking. Every line the peer completes is reversed and sent
// back by its own retransmission goroutine; those goroutines share the
// outbound counters with Run.
type Session struct {
	id   uint32
	peer net.Addr
	conn PacketWriter

	mailbox chan protocol.Message

	// done is closed once the session stops accepting messages
	done     chan struct{}
	doneOnce sync.Once

	// expired is closed by the first retransmission group that gives up
	expired    chan struct{}
	expireOnce sync.Once

	groups       sync.WaitGroup
	groupCtx     context.Context
	cancelGroups context.CancelFunc

	retransmitter *stream.Retransmitter

	// Owned by the Run goroutine
	state State
	in    stream.Inbound
	out   *stream.Outbound
	lines int

	store storage.Store
	log   *zap.Logger
}

func New(id uint32, peer net.Addr, conn PacketWriter, options Options) *Session {
	mailboxSize := options.MailboxSize
	if mailboxSize < 1 {
		mailboxSize = DefaultMailboxSize
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	log = log.With(zap.Uint32("session", id), zap.Stringer("peer", peer))

	s := &Session{
		id:      id,
		peer:    peer,
		conn:    conn,
		mailbox: make(chan protocol.Message, mailboxSize),
		done:    make(chan struct{}),
		expired: make(chan struct{}),
		state:   StateAwaitingConnect,
		out:     stream.NewOutbound(protocol.MaxDataPayload),
		store:   options.Store,
		log:     log,
	}

	s.retransmitter = &stream.Retransmitter{
		Interval: options.RetransmitInterval,
		Expiry:   options.ExpiryInterval,
		Abort:    s.expired,
		Log:      log.Named("retransmit"),
	}

	return s
}

func (s *Session) ID() uint32 {
	return s.id
}

// Peer returns the address the session was created for. Replies always go
// there, whichever address later messages come from.
func (s *Session) Peer() net.Addr {
	return s.peer
}

// Done is closed when the session has terminated.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Deliver queues msg for the session. It blocks while the mailbox is full and
// returns ErrSessionClosed if the session has terminated.
func (s *Session) Deliver(ctx context.Context, msg protocol.Message) error {
	// Check first so a terminated session never looks like it has room
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case <-s.done:
		return ErrSessionClosed

	case <-ctx.Done():
		return ctx.Err()

	case s.mailbox <- msg:
		return nil
	}
}

// Run processes the session's messages until it terminates and returns the
// reason it did. Before returning it stops every retransmission goroutine and
// sends a close to the peer.
func (s *Session) Run(ctx context.Context) error {
	s.groupCtx, s.cancelGroups = context.WithCancel(ctx)

	s.log.Debug("Session started")
	s.publish()

	reason := s.loop(ctx)
	s.terminate(reason)

	return reason
}

func (s *Session) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-s.expired:
			return ErrSessionTimeout

		case msg := <-s.mailbox:
			if err := s.handle(msg); err != nil {
				return err
			}

			s.publish()
		}
	}
}

func (s *Session) handle(msg protocol.Message) error {
	switch m := msg.(type) {
	case *protocol.Connect:
		// Connect is idempotent, the peer resends it until it sees our ack
		s.state = StateConnected
		s.ack(0)

	case *protocol.Data:
		if s.state != StateConnected {
			return fmt.Errorf("data before connect: %w", ErrProtocolViolation)
		}

		return s.handleData(m)

	case *protocol.Ack:
		if s.state != StateConnected {
			return fmt.Errorf("ack before connect: %w", ErrProtocolViolation)
		}

		advanced, err := s.out.Ack(m.Position)
		if err != nil {
			s.log.Info("Peer acknowledged unsent data",
				zap.Uint32("ack", m.Position),
				zap.Uint32("sent", s.out.Sent()))

			return fmt.Errorf("%w: %w", ErrProtocolViolation, err)
		}

		if !advanced {
			s.log.Debug("Redundant ack", zap.Uint32("ack", m.Position))
		}

	case *protocol.Close:
		return ErrPeerClosed
	}

	return nil
}

func (s *Session) handleData(m *protocol.Data) error {
	appended, status := s.in.Apply(m.Position, m.Payload)

	switch status {
	case stream.StatusGap, stream.StatusDuplicate:
		// Tell the peer where we are so it resends from the right place
		s.log.Debug("Data not applied",
			zap.Stringer("status", status),
			zap.Uint32("position", m.Position),
			zap.Uint32("received", s.in.Received()))

		s.ack(s.in.Received())

	case stream.StatusOverflow:
		return fmt.Errorf("stream overflow at %d: %w", m.Position, ErrProtocolViolation)

	case stream.StatusAccepted:
		s.ack(s.in.Received())

		if strings.IndexByte(appended, '\n') == -1 {
			return nil
		}

		for _, line := range s.in.Lines() {
			s.sendLine(stream.ReverseLine(line))
		}
	}

	return nil
}

// sendLine queues line on the outbound stream and starts a goroutine that
// retransmits it until the peer acknowledges it.
func (s *Session) sendLine(line string) {
	chunks := s.out.Chunk(s.id, line)
	s.lines++

	s.groups.Add(1)
	go func() {
		defer s.groups.Done()

		err := s.retransmitter.Run(s.groupCtx, s.out, s.send, chunks)
		if errors.Is(err, stream.ErrExpired) {
			s.expire()
		}
	}()
}

// expire raises the session wide timeout. Only the first call has an effect.
func (s *Session) expire() {
	s.expireOnce.Do(func() {
		close(s.expired)
	})
}

func (s *Session) terminate(reason error) {
	s.doneOnce.Do(func() {
		close(s.done)
	})

	// Stop the retransmissions before the close goes out so nothing follows it
	s.cancelGroups()
	s.groups.Wait()

	_ = s.send(&protocol.Close{Session: s.id})

	s.state = StateClosed
	s.publish()

	switch {
	case errors.Is(reason, ErrPeerClosed), errors.Is(reason, context.Canceled):
		s.log.Debug("Session closed", zap.Error(reason))

	default:
		s.log.Info("Session closed", zap.Error(reason))
	}
}

func (s *Session) ack(position uint32) {
	_ = s.send(&protocol.Ack{Session: s.id, Position: position})
}

func (s *Session) send(msg protocol.Message) error {
	if _, err := s.conn.WriteTo(protocol.Marshal(msg), s.peer); err != nil {
		s.log.Warn("Failed to send message",
			zap.String("type", string(msg.GetType())),
			zap.Error(err))

		return err
	}

	return nil
}

// publish writes the session's statistics to the store.
func (s *Session) publish() {
	if s.store == nil {
		return
	}

	stats := Stats{
		Session:       s.id,
		Peer:          s.peer.String(),
		State:         s.state,
		BytesReceived: s.in.Received(),
		Buffered:      len(s.in.Buffered()),
		BytesSent:     s.out.Sent(),
		BytesAcked:    s.out.Acked(),
		Lines:         s.lines,
	}

	if err := s.store.Set(context.Background(), []byte(StatsKey(s.id)), stats); err != nil {
		s.log.Warn("Failed to publish session stats", zap.Error(err))
	}
}
