package session

import "errors"

var (
	ErrSessionClosed     = errors.New("Session is closed")
	ErrPeerClosed        = errors.New("Peer closed the session")
	ErrSessionTimeout    = errors.New("Session timed out waiting for acknowledgements")
	ErrProtocolViolation = errors.New("Peer violated the protocol")
)
