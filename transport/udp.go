package transport

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"github.com/patrickmn/go-cache"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/lrcp/protocol"
	"github.com/luma/lrcp/session"
	"github.com/luma/lrcp/storage"
)

const (
	DefaultClosedSessionTTL = time.Minute

	// ServerStatsKey is the store key of the server wide statistics
	ServerStatsKey = "server"

	// Larger than protocol.MaxMessageSize so oversized datagrams are seen
	// whole and rejected, rather than truncated into something that parses
	readBufferSize = 2 * protocol.MaxMessageSize

	inboundBufferSize = 255
)

// ServerStats are the server wide statistics written to the store.
type ServerStats struct {
	SessionsOpened uint64 `json:"sessionsOpened"`
	SessionsClosed uint64 `json:"sessionsClosed"`
	Active         int    `json:"active"`
	Malformed      uint64 `json:"malformed"`
}

type datagram struct {
	msg  protocol.Message
	addr net.Addr
}

// UDP owns the server's socket and routes every datagram to its session.
//
// A reader goroutine receives and parses datagrams. A single demux goroutine
// owns the session registry: it creates sessions for unknown ids, delivers
// messages into their mailboxes and removes sessions once they terminate.
type UDP struct {
	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup
	demuxDone  chan struct{}

	sessionWaiter sync.WaitGroup

	addr      string
	reuseport bool
	conn      net.PacketConn

	// Owned by the demux goroutine
	sessions map[uint32]*session.Session
	stats    ServerStats

	// Ids of recently closed sessions
	closed *cache.Cache

	malformed atomic.Uint64

	inbound chan datagram
	reaped  chan *session.Session

	sessionOptions session.Options

	store storage.Store

	closeOnce sync.Once

	log   *zap.Logger
	trace bool
}

func NewUDP(options Options) *UDP {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	store := options.Store
	if store == nil {
		store = storage.NewInmemoryStore()
	}

	closedTTL := options.ClosedSessionTTL
	if closedTTL <= 0 {
		closedTTL = DefaultClosedSessionTTL
	}

	return &UDP{
		addr:      net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		reuseport: options.Reuseport,
		demuxDone: make(chan struct{}),
		sessions:  make(map[uint32]*session.Session),
		closed:    cache.New(closedTTL, 2*closedTTL),
		inbound:   make(chan datagram, inboundBufferSize),
		reaped:    make(chan *session.Session),
		sessionOptions: session.Options{
			MailboxSize:        options.MailboxSize,
			RetransmitInterval: options.RetransmitInterval,
			ExpiryInterval:     options.ExpiryInterval,
			Store:              store,
			Log:                log.Named("session"),
		},
		store: store,
		log:   log,
		trace: options.Trace,
	}
}

// Start binds the socket and starts routing datagrams. It returns once the
// socket is bound.
func (t *UDP) Start(parentCtx context.Context) error {
	conn, err := t.listen()
	if err != nil {
		return err
	}

	t.conn = conn

	ctx, cancel := context.WithCancel(parentCtx)
	t.cancel = cancel

	t.loopWaiter.Add(1)
	go func() {
		defer t.loopWaiter.Done()
		t.readLoop(ctx)
	}()

	go func() {
		defer close(t.demuxDone)
		t.demuxLoop(ctx)
	}()

	t.log.Info("Listening for datagrams", zap.Stringer("addr", conn.LocalAddr()))

	return nil
}

func (t *UDP) listen() (net.PacketConn, error) {
	if t.reuseport {
		return reuseport.ListenPacket("udp", t.addr)
	}

	return net.ListenPacket("udp", t.addr)
}

// Addr returns the address the socket is bound to. Only valid after Start.
func (t *UDP) Addr() net.Addr {
	return t.conn.LocalAddr()
}

func (t *UDP) Store() storage.Store {
	return t.store
}

// Close stops routing, terminates every session, which sends each peer a
// close, and then closes the socket.
func (t *UDP) Close() (err error) {
	t.closeOnce.Do(func() {
		if t.cancel == nil {
			// Never started
			return
		}

		t.log.Info("Stopping UDP server")
		t.cancel()

		// No sessions are created once the demux loop has exited
		<-t.demuxDone

		t.log.Info("Waiting for sessions to close")
		t.sessionWaiter.Wait()

		err = multierr.Append(err, t.conn.Close())

		t.loopWaiter.Wait()
		t.closed.Flush()

		t.log.Info("UDP server stopped")
	})

	return err
}

func (t *UDP) readLoop(ctx context.Context) {
	log := t.log.Named("readLoop")
	buf := make([]byte, readBufferSize)

	for {
		n, addr, err := t.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				log.Info("Read loop exiting")
				return
			}

			// Socket errors never reach the sessions
			log.Warn("Failed to read datagram", zap.Error(err))
			continue
		}

		if t.trace {
			log.Debug("Received datagram",
				zap.Stringer("from", addr),
				zap.ByteString("data", buf[:n]))
		}

		msg, err := protocol.ParseMessage(buf[:n])
		if err != nil {
			t.malformed.Add(1)
			log.Debug("Dropping malformed datagram",
				zap.Stringer("from", addr),
				zap.Error(err))
			continue
		}

		select {
		case t.inbound <- datagram{msg: msg, addr: addr}:
		case <-ctx.Done():
			return
		}
	}
}

func (t *UDP) demuxLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case d := <-t.inbound:
			t.route(ctx, d)

		case s := <-t.reaped:
			t.reap(s)
		}
	}
}

func (t *UDP) route(ctx context.Context, d datagram) {
	id := d.msg.GetSession()

	s, ok := t.sessions[id]
	if !ok {
		if _, closed := t.closed.Get(closedKey(id)); closed {
			t.sendClose(id, d.addr)
			return
		}

		s = t.open(ctx, id, d.addr)
	}

	// Waits while this session's mailbox is full
	if err := s.Deliver(ctx, d.msg); err != nil {
		if errors.Is(err, session.ErrSessionClosed) {
			t.sendClose(id, d.addr)
		}
	}
}

func (t *UDP) open(ctx context.Context, id uint32, addr net.Addr) *session.Session {
	s := session.New(id, addr, t.conn, t.sessionOptions)
	t.sessions[id] = s

	t.stats.SessionsOpened++
	t.publish()

	t.sessionWaiter.Add(1)
	go func() {
		defer t.sessionWaiter.Done()

		_ = s.Run(ctx)

		select {
		case t.reaped <- s:
		case <-ctx.Done():
		}
	}()

	return s
}

func (t *UDP) reap(s *session.Session) {
	id := s.ID()

	if current, ok := t.sessions[id]; ok && current == s {
		delete(t.sessions, id)
	}

	t.closed.SetDefault(closedKey(id), struct{}{})

	if err := t.store.Delete(context.Background(), []byte(session.StatsKey(id))); err != nil {
		t.log.Warn("Failed to delete session stats", zap.Uint32("session", id), zap.Error(err))
	}

	t.stats.SessionsClosed++
	t.publish()
}

func (t *UDP) sendClose(id uint32, addr net.Addr) {
	if _, err := t.conn.WriteTo(protocol.Marshal(&protocol.Close{Session: id}), addr); err != nil {
		t.log.Warn("Failed to send close",
			zap.Uint32("session", id),
			zap.Stringer("to", addr),
			zap.Error(err))
	}
}

func (t *UDP) publish() {
	t.stats.Active = len(t.sessions)
	t.stats.Malformed = t.malformed.Load()

	if err := t.store.Set(context.Background(), []byte(ServerStatsKey), t.stats); err != nil {
		t.log.Warn("Failed to publish server stats", zap.Error(err))
	}
}

func closedKey(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
