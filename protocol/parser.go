package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// MaxMessageSize is the exclusive upper bound on the size of a datagram
	MaxMessageSize = 1000

	// Separator delimits a message and its fields
	Separator = '/'

	// EscapeChar prefixes an escaped Separator or EscapeChar in a data field
	EscapeChar = '\\'
)

var (
	ErrMalformedMessage = errors.New("Malformed message")

	ErrMessageTooLarge  = fmt.Errorf("%w: message is too large", ErrMalformedMessage)
	ErrNotASCII         = fmt.Errorf("%w: message is not ascii", ErrMalformedMessage)
	ErrMissingDelimiter = fmt.Errorf("%w: message must start and end with /", ErrMalformedMessage)
	ErrFieldCount       = fmt.Errorf("%w: wrong number of fields", ErrMalformedMessage)
	ErrInvalidNumber    = fmt.Errorf("%w: field is not an unsigned 32bit integer", ErrMalformedMessage)
	ErrUnknownType      = fmt.Errorf("%w: unknown message type", ErrMalformedMessage)
	ErrUnescapedSlash   = fmt.Errorf("%w: data contains an unescaped /", ErrMalformedMessage)
)

// ParseMessage parses a single datagram as an LRCP message.
//
// Every error returned wraps ErrMalformedMessage.
func ParseMessage(packet []byte) (Message, error) {
	if len(packet) >= MaxMessageSize {
		return nil, ErrMessageTooLarge
	}

	for _, b := range packet {
		if b > 0x7f {
			return nil, ErrNotASCII
		}
	}

	if len(packet) < 2 || packet[0] != Separator || packet[len(packet)-1] != Separator {
		return nil, ErrMissingDelimiter
	}

	// Only the data field may contain separators, and it is always last, so
	// splitting into at most four fields leaves it intact.
	fields := strings.SplitN(string(packet[1:len(packet)-1]), string(Separator), 4)

	switch Type(fields[0]) {
	case CONNECT:
		if len(fields) != 2 {
			return nil, fmt.Errorf("Failed to parse connect: %w", ErrFieldCount)
		}

		session, err := parseUint32(fields[1])
		if err != nil {
			return nil, err
		}

		return &Connect{Session: session}, nil

	case DATA:
		if len(fields) != 4 {
			return nil, fmt.Errorf("Failed to parse data: %w", ErrFieldCount)
		}

		session, err := parseUint32(fields[1])
		if err != nil {
			return nil, err
		}

		position, err := parseUint32(fields[2])
		if err != nil {
			return nil, err
		}

		if err := validateEscaping(fields[3]); err != nil {
			return nil, err
		}

		return &Data{
			Session:  session,
			Position: position,
			Payload:  Unescape(fields[3]),
		}, nil

	case ACK:
		if len(fields) != 3 {
			return nil, fmt.Errorf("Failed to parse ack: %w", ErrFieldCount)
		}

		session, err := parseUint32(fields[1])
		if err != nil {
			return nil, err
		}

		position, err := parseUint32(fields[2])
		if err != nil {
			return nil, err
		}

		return &Ack{Session: session, Position: position}, nil

	case CLOSE:
		if len(fields) != 2 {
			return nil, fmt.Errorf("Failed to parse close: %w", ErrFieldCount)
		}

		session, err := parseUint32(fields[1])
		if err != nil {
			return nil, err
		}

		return &Close{Session: session}, nil

	default:
		return nil, fmt.Errorf("Failed to parse '%s': %w", fields[0], ErrUnknownType)
	}
}

// Unescape reverses Escape. It makes a single pass over s, so a `\\` followed
// by a `/` is a backslash and then an unescaped slash, never an escaped slash.
// A backslash followed by any other character is kept as is.
func Unescape(s string) string {
	if strings.IndexByte(s, EscapeChar) == -1 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]

		if c == EscapeChar && i+1 < len(s) && (s[i+1] == EscapeChar || s[i+1] == Separator) {
			b.WriteByte(s[i+1])
			i++
			continue
		}

		b.WriteByte(c)
	}

	return b.String()
}

// validateEscaping makes sure every separator in a data field is escaped.
func validateEscaping(field string) error {
	for i := 0; i < len(field); i++ {
		switch field[i] {
		case EscapeChar:
			// Whatever follows is escaped
			i++

		case Separator:
			return ErrUnescapedSlash
		}
	}

	return nil
}

func parseUint32(field string) (uint32, error) {
	n, err := strconv.ParseUint(field, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("Failed to parse '%s': %w", field, ErrInvalidNumber)
	}

	return uint32(n), nil
}
