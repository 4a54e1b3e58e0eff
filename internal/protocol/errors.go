package protocol

import (
	"errors"
	"fmt"
)

// error taxonomy shared by the TCP listener, the sessions and the announcer
var (
	ErrBind              = errors.New("bind failed")
	ErrMalformedMessage  = errors.New("malformed message")
	ErrHandshakeRejected = errors.New("handshake rejected")
	ErrPeerDisconnected  = errors.New("peer disconnected")
	ErrSendFailure       = errors.New("send failure")
	ErrShutdownTimeout   = errors.New("shutdown timeout")
	ErrMessageTooLarge   = errors.New("message too large")
	ErrReadTimeout       = errors.New("read timeout")
)

// BindError reports a socket that could not be bound or configured.
type BindError struct {
	Op   string // "listen_tcp", "listen_udp", "resolve"
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrBind) match any *BindError.
func (e *BindError) Is(target error) bool { return target == ErrBind }

// malformed wraps a parse failure so that it matches ErrMalformedMessage.
func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedMessage, fmt.Sprintf(format, args...))
}
