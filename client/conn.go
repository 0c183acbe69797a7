package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/lrcp/protocol"
	"github.com/luma/lrcp/stream"
)

const (
	lineBufferSize = 255
)

var (
	ErrClosed = errors.New("Connection is closed")
)

type Options struct {
	// RetransmitInterval is the time between resends of connects and
	// unacknowledged data
	RetransmitInterval time.Duration

	// ExpiryInterval is how long to wait for acknowledgement progress before
	// giving up on the server
	ExpiryInterval time.Duration
}

// Conn is the client side of one LRCP session.
//
// Lines written with Write are delivered reliably to the server, and every
// line the server sends back is made available, in order, on Lines.
type Conn struct {
	ctx        context.Context
	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup

	conn    *net.UDPConn
	session uint32

	connected     chan struct{}
	connectedOnce sync.Once

	closed     chan struct{}
	closedOnce sync.Once
	closeOnce  sync.Once
	closeErr   error

	// writeMu serialises Write against itself and against Close
	writeMu sync.Mutex
	out     *stream.Outbound

	// Owned by the read loop
	in stream.Inbound

	lines chan string

	retransmitter *stream.Retransmitter
	interval      time.Duration

	log *zap.Logger
}

func New(log *zap.Logger, options Options) *Conn {
	if log == nil {
		log = zap.NewNop()
	}

	interval := options.RetransmitInterval
	if interval <= 0 {
		interval = stream.DefaultRetransmitInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Conn{
		ctx:       ctx,
		cancel:    cancel,
		connected: make(chan struct{}),
		closed:    make(chan struct{}),
		out:       stream.NewOutbound(protocol.MaxDataPayload),
		lines:     make(chan string, lineBufferSize),
		interval:  interval,
		log:       log,
	}

	c.retransmitter = &stream.Retransmitter{
		Interval: interval,
		Expiry:   options.ExpiryInterval,
		Abort:    c.closed,
		Log:      log.Named("retransmit"),
	}

	return c
}

// Connect opens session on the server at addr. The connect is resent until
// the server acknowledges it or ctx is done.
func (c *Conn) Connect(ctx context.Context, addr string, session uint32) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return err
	}

	c.conn = conn
	c.session = session
	c.log = c.log.With(zap.Uint32("session", session))

	c.loopWaiter.Add(1)
	go func() {
		defer c.loopWaiter.Done()
		c.readLoop()
	}()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.Send(&protocol.Connect{Session: session}); err != nil {
			c.log.Debug("Failed to send connect", zap.Error(err))
		}

		select {
		case <-c.connected:
			return nil

		case <-c.closed:
			return ErrClosed

		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
		}
	}
}

// Session returns the session id passed to Connect.
func (c *Conn) Session() uint32 {
	return c.session
}

// Lines returns the lines received from the server, newline included.
func (c *Conn) Lines() <-chan string {
	return c.lines
}

// Closed is closed once the session is over, whoever ended it.
func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}

// Write queues p on the session's stream and returns immediately. The data is
// retransmitted in the background until the server acknowledges it.
func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if !c.isRunning() {
		return 0, ErrClosed
	}

	chunks := c.out.Chunk(c.session, string(p))

	c.loopWaiter.Add(1)
	go func() {
		defer c.loopWaiter.Done()

		err := c.retransmitter.Run(c.ctx, c.out, c.Send, chunks)
		if errors.Is(err, stream.ErrExpired) {
			c.log.Warn("Server stopped acknowledging data, closing")
			c.markClosed()
		}
	}()

	return len(p), nil
}

// Send writes a single message to the server.
func (c *Conn) Send(msg protocol.Message) error {
	if c.conn == nil {
		return ErrClosed
	}

	_, err := c.conn.Write(protocol.Marshal(msg))
	return err
}

// Close tells the server the session is over, unless the server closed it
// first, and releases the socket. It is safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		serverClosed := !c.isRunning()
		c.markClosed()
		c.writeMu.Unlock()

		if c.conn == nil {
			return
		}

		if !serverClosed {
			c.closeErr = multierr.Append(c.closeErr, c.Send(&protocol.Close{Session: c.session}))
		}

		c.closeErr = multierr.Append(c.closeErr, c.conn.Close())
		c.loopWaiter.Wait()
	})

	return c.closeErr
}

func (c *Conn) readLoop() {
	log := c.log.Named("readLoop")
	buf := make([]byte, 2*protocol.MaxMessageSize)

	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			// Usually an ICMP error from an earlier write, keep reading
			log.Debug("Failed to read datagram", zap.Error(err))
			continue
		}

		msg, err := protocol.ParseMessage(buf[:n])
		if err != nil {
			log.Debug("Dropping malformed datagram", zap.Error(err))
			continue
		}

		if msg.GetSession() != c.session {
			continue
		}

		if !c.handle(msg) {
			return
		}
	}
}

// handle applies a message from the server. It returns false once the
// session is over.
func (c *Conn) handle(msg protocol.Message) bool {
	switch m := msg.(type) {
	case *protocol.Ack:
		if m.Position == 0 {
			c.connectedOnce.Do(func() {
				close(c.connected)
			})
		}

		if _, err := c.out.Ack(m.Position); err != nil {
			c.log.Warn("Server acknowledged unsent data", zap.Uint32("ack", m.Position))
			_ = c.Send(&protocol.Close{Session: c.session})
			c.markClosed()
			return false
		}

	case *protocol.Data:
		_, status := c.in.Apply(m.Position, m.Payload)
		if status == stream.StatusOverflow {
			_ = c.Send(&protocol.Close{Session: c.session})
			c.markClosed()
			return false
		}

		if err := c.Send(&protocol.Ack{Session: c.session, Position: c.in.Received()}); err != nil {
			c.log.Debug("Failed to send ack", zap.Error(err))
		}

		for _, line := range c.in.Lines() {
			select {
			case c.lines <- line:
			case <-c.ctx.Done():
				return false
			}
		}

	case *protocol.Close:
		c.log.Debug("Server closed the session")
		c.markClosed()
		return false
	}

	return true
}

func (c *Conn) markClosed() {
	c.closedOnce.Do(func() {
		close(c.closed)
		c.cancel()
	})
}

// isRunning returns true until the session is closed
func (c *Conn) isRunning() bool {
	select {
	case <-c.closed:
		return false

	default:
		return true
	}
}
