package errors

import "fmt"

var (
	ErrWorkerPanic   = fmt.Errorf("worker panic")
	ErrEmptyWords    = fmt.Errorf("no words have been found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")
)

// Protocol violations. Only the first message of a connection turns them into a rejection.
var (
	ErrMalformedMessage   = fmt.Errorf("protocol: malformed message")
	ErrUnknownMessageType = fmt.Errorf("protocol: unknown message type")
	ErrMissingID          = fmt.Errorf("protocol: missing participant id")
	ErrIDMismatch         = fmt.Errorf("protocol: participant id does not match the bound session")
)

var (
	ErrInvalidHandshake = fmt.Errorf("session: invalid handshake")
	ErrHandshakeAborted = fmt.Errorf("session: channel closed before handshake")
	ErrSessionClosed    = fmt.Errorf("session: closed")
	ErrSinkFull         = fmt.Errorf("session: outbound buffer full")
)
