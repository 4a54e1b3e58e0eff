package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// A frame is everything one side writes before half-closing its write
// direction. Each direction of a connection carries at most one frame.

// DefaultMaxFrameSize bounds a single frame when the caller passes 0.
const DefaultMaxFrameSize = 64 * 1024

type halfCloser interface {
	CloseWrite() error
}

// WriteFrame writes data and signals end of stream to the peer.
// Connections that cannot half-close (net.Pipe in tests) are left open.
func WriteFrame(conn net.Conn, data []byte, timeout time.Duration) error {
	if timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(timeout))
		defer conn.SetWriteDeadline(time.Time{})
	}

	n, err := conn.Write(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailure, err)
	}
	if n == 0 && len(data) > 0 {
		return fmt.Errorf("%w: 0 of %d bytes written", ErrSendFailure, len(data))
	}

	if hc, ok := conn.(halfCloser); ok {
		if err := hc.CloseWrite(); err != nil {
			return fmt.Errorf("%w: close write: %w", ErrSendFailure, err)
		}
	}
	return nil
}

// ReadFrame reads until the peer half-closes, at most maxBytes and no longer
// than timeout in total. An empty stream counts as a disconnect.
func ReadFrame(conn net.Conn, maxBytes int64, timeout time.Duration) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameSize
	}
	if timeout > 0 {
		conn.SetReadDeadline(time.Now().Add(timeout))
		defer conn.SetReadDeadline(time.Time{})
	}

	data, err := io.ReadAll(io.LimitReader(conn, maxBytes+1))
	if err != nil {
		return nil, classifyReadError(err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrMessageTooLarge, maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: stream closed before any data", ErrPeerDisconnected)
	}
	return data, nil
}

func classifyReadError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrReadTimeout, err)
	}
	// reset, abort and use-of-closed-conn all mean the stream is gone
	return fmt.Errorf("%w: %w", ErrPeerDisconnected, err)
}

// IsRejection reports whether err ends a handshake as a rejection rather
// than a fault of the server itself.
func IsRejection(err error) bool {
	return errors.Is(err, ErrMalformedMessage) ||
		errors.Is(err, ErrHandshakeRejected) ||
		errors.Is(err, ErrPeerDisconnected) ||
		errors.Is(err, ErrMessageTooLarge) ||
		errors.Is(err, ErrReadTimeout)
}
