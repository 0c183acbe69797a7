package transport_test

import (
	"context"
	"encoding/json"
	"net"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/lrcp/session"
	"github.com/luma/lrcp/storage"
	"github.com/luma/lrcp/transport"
)

// peer is a raw UDP socket speaking to the server under test.
type peer struct {
	conn *net.UDPConn
}

func dial(addr net.Addr) *peer {
	conn, err := net.DialUDP("udp", nil, addr.(*net.UDPAddr))
	ExpectWithOffset(1, err).NotTo(HaveOccurred())

	return &peer{conn: conn}
}

func (p *peer) send(packet string) {
	_, err := p.conn.Write([]byte(packet))
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
}

func (p *peer) recv() string {
	buf := make([]byte, 2000)

	ExpectWithOffset(1, p.conn.SetReadDeadline(time.Now().Add(time.Second))).To(Succeed())
	n, err := p.conn.Read(buf)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())

	return string(buf[:n])
}

// drain returns every datagram that arrives within d.
func (p *peer) drain(d time.Duration) []string {
	var packets []string
	buf := make([]byte, 2000)
	deadline := time.Now().Add(d)

	for {
		ExpectWithOffset(1, p.conn.SetReadDeadline(deadline)).To(Succeed())

		n, err := p.conn.Read(buf)
		if err != nil {
			return packets
		}

		packets = append(packets, string(buf[:n]))
	}
}

func (p *peer) close() {
	_ = p.conn.Close()
}

var _ = Describe("UDP", func() {
	var (
		store  *storage.InmemoryStore
		server *transport.UDP
		client *peer
	)

	serverStats := func() transport.ServerStats {
		var stats transport.ServerStats

		raw, err := store.Get(context.Background(), []byte(transport.ServerStatsKey))
		if err != nil {
			return stats
		}

		Expect(json.Unmarshal(raw, &stats)).To(Succeed())
		return stats
	}

	sessionExists := func(id uint32) func() bool {
		return func() bool {
			_, err := store.Get(context.Background(), []byte(session.StatsKey(id)))
			return err == nil
		}
	}

	BeforeEach(func() {
		store = storage.NewInmemoryStore()
		server = transport.NewUDP(transport.Options{
			Host:               "127.0.0.1",
			Port:               0,
			RetransmitInterval: 20 * time.Millisecond,
			ExpiryInterval:     200 * time.Millisecond,
			ClosedSessionTTL:   time.Minute,
			Store:              store,
			Log:                zap.NewNop(),
		})

		Expect(server.Start(context.Background())).To(Succeed())
		client = dial(server.Addr())
	})

	AfterEach(func() {
		client.close()
		Expect(server.Close()).To(Succeed())
		store.Close()
	})

	It("reverses a line and closes the session", func() {
		client.send("/connect/1/")
		Expect(client.recv()).To(Equal("/ack/1/0/"))
		Eventually(sessionExists(1)).Should(BeTrue())

		client.send("/data/1/0/hello\n/")
		Expect(client.recv()).To(Equal("/ack/1/6/"))
		Expect(client.recv()).To(Equal("/data/1/0/olleh\n/"))

		client.send("/ack/1/6/")
		Eventually(func() uint32 {
			var stats session.Stats
			raw, err := store.Get(context.Background(), []byte(session.StatsKey(1)))
			if err == nil {
				Expect(json.Unmarshal(raw, &stats)).To(Succeed())
			}
			return stats.BytesAcked
		}).Should(Equal(uint32(6)))

		client.drain(30 * time.Millisecond)
		Expect(client.drain(100 * time.Millisecond)).To(BeEmpty())

		client.send("/close/1/")
		Expect(client.recv()).To(Equal("/close/1/"))

		Eventually(sessionExists(1)).Should(BeFalse())
		Eventually(func() int { return serverStats().Active }).Should(BeZero())
		Expect(serverStats().SessionsOpened).To(Equal(uint64(1)))
		Eventually(func() uint64 { return serverStats().SessionsClosed }).Should(Equal(uint64(1)))

		// The id is remembered as closed
		client.send("/data/1/6/more\n/")
		Expect(client.recv()).To(Equal("/close/1/"))
	})

	It("drops malformed datagrams silently", func() {
		for _, packet := range []string{
			"garbage",
			"/connect/",
			"/connect/4294967296/",
			"/data/1/0/a/b/",
			"/ack/1/",
			"/jump/1/",
			"/close/1",
		} {
			client.send(packet)
		}

		Expect(client.drain(100 * time.Millisecond)).To(BeEmpty())

		client.send("/connect/7/")
		Expect(client.recv()).To(Equal("/ack/7/0/"))
		Eventually(func() uint64 { return serverStats().Malformed }).Should(Equal(uint64(7)))
	})

	It("closes sessions that send data before connecting", func() {
		client.send("/data/2/0/hello\n/")
		Expect(client.recv()).To(Equal("/close/2/"))

		Eventually(func() uint64 { return serverStats().SessionsClosed }).Should(Equal(uint64(1)))
	})

	It("acknowledges what it has when data arrives past a gap", func() {
		client.send("/connect/3/")
		Expect(client.recv()).To(Equal("/ack/3/0/"))

		client.send("/data/3/5/hello\n/")
		Expect(client.recv()).To(Equal("/ack/3/0/"))
		Expect(client.drain(100 * time.Millisecond)).To(BeEmpty())
	})

	It("closes a session whose peer acknowledges unsent data", func() {
		client.send("/connect/4/")
		Expect(client.recv()).To(Equal("/ack/4/0/"))

		client.send("/ack/4/100/")
		Expect(client.recv()).To(Equal("/close/4/"))
	})

	It("times out sessions whose peer stops acknowledging", func() {
		client.send("/connect/5/")
		Expect(client.recv()).To(Equal("/ack/5/0/"))

		client.send("/data/5/0/hi\n/")
		Expect(client.recv()).To(Equal("/ack/5/3/"))

		packets := client.drain(400 * time.Millisecond)
		Expect(len(packets)).To(BeNumerically(">", 2))
		Expect(packets[0]).To(Equal("/data/5/0/ih\n/"))
		Expect(packets[1]).To(Equal("/data/5/0/ih\n/"))
		Expect(packets[len(packets)-1]).To(Equal("/close/5/"))

		Expect(client.drain(100 * time.Millisecond)).To(BeEmpty())
		Eventually(sessionExists(5)).Should(BeFalse())
	})

	It("keeps sessions apart", func() {
		other := dial(server.Addr())
		defer other.close()

		client.send("/connect/10/")
		other.send("/connect/11/")
		Expect(client.recv()).To(Equal("/ack/10/0/"))
		Expect(other.recv()).To(Equal("/ack/11/0/"))

		client.send("/data/10/0/abc\n/")
		other.send("/data/11/0/xyz\n/")

		Expect(client.recv()).To(Equal("/ack/10/4/"))
		Expect(client.recv()).To(Equal("/data/10/0/cba\n/"))
		Expect(other.recv()).To(Equal("/ack/11/4/"))
		Expect(other.recv()).To(Equal("/data/11/0/zyx\n/"))

		Eventually(func() int { return serverStats().Active }).Should(Equal(2))
	})

	It("closes every session when it stops", func() {
		client.send("/connect/12/")
		Expect(client.recv()).To(Equal("/ack/12/0/"))

		Expect(server.Close()).To(Succeed())
		Expect(client.recv()).To(Equal("/close/12/"))
	})
})
