package protocol

type Type string

const (
	CONNECT Type = "connect"
	DATA    Type = "data"
	ACK     Type = "ack"
	CLOSE   Type = "close"
)

// Message is one decoded LRCP datagram.
type Message interface {
	GetSession() uint32
	GetType() Type
}

type Connect struct {
	Session uint32
}

func (m *Connect) GetSession() uint32 {
	return m.Session
}

func (m *Connect) GetType() Type {
	return CONNECT
}

type Data struct {
	Session  uint32
	Position uint32

	// Payload is the unescaped stream bytes
	Payload string
}

func (m *Data) GetSession() uint32 {
	return m.Session
}

func (m *Data) GetType() Type {
	return DATA
}

// End returns the stream offset just past the last byte of the payload.
func (m *Data) End() uint64 {
	return uint64(m.Position) + uint64(len(m.Payload))
}

type Ack struct {
	Session  uint32
	Position uint32
}

func (m *Ack) GetSession() uint32 {
	return m.Session
}

func (m *Ack) GetType() Type {
	return ACK
}

type Close struct {
	Session uint32
}

func (m *Close) GetSession() uint32 {
	return m.Session
}

func (m *Close) GetType() Type {
	return CLOSE
}

var _ Message = (*Connect)(nil)
var _ Message = (*Data)(nil)
var _ Message = (*Ack)(nil)
var _ Message = (*Close)(nil)
