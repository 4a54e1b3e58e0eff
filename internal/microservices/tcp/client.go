package tcp

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"ptzserver/internal/protocol"
)

// DialOptions configures the client side of the handshake.
type DialOptions struct {
	Version float64
	Magic   string
	Codec   protocol.Codec
	Timeout time.Duration // overall bound when ctx has no deadline
	// Abort before replying when the server hello carries another version.
	RequireVersionMatch bool
}

// Handshake connects to addr, reads the server hello, answers with the
// client hello and waits for the server to close the connection.
// It returns the server hello.
func Handshake(ctx context.Context, addr string, opts DialOptions) (protocol.Message, error) {
	if opts.Version == 0 {
		opts.Version = ProtocolVersion
	}
	if opts.Magic == "" {
		opts.Magic = Magic
	}
	if opts.Codec == nil {
		opts.Codec = protocol.JSON()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(opts.Timeout)
	}

	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	remaining := time.Until(deadline)
	data, err := protocol.ReadFrame(conn, protocol.DefaultMaxFrameSize, remaining)
	if err != nil {
		return nil, fmt.Errorf("read server hello: %w", err)
	}
	hello, err := protocol.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode server hello: %w", err)
	}

	if opts.RequireVersionMatch {
		v, ok := hello.Number(KeyVersion)
		if !ok || v != opts.Version {
			return hello, fmt.Errorf("%w: server version %v, want %v",
				protocol.ErrHandshakeRejected, hello[KeyVersion], opts.Version)
		}
	}

	reply, err := opts.Codec.Marshal(ClientHello(opts.Version, opts.Magic))
	if err != nil {
		return hello, err
	}
	if err := protocol.WriteFrame(conn, reply, time.Until(deadline)); err != nil {
		return hello, fmt.Errorf("send client hello: %w", err)
	}

	// the server closes once it has judged the hello
	conn.SetReadDeadline(deadline)
	io.Copy(io.Discard, conn)
	return hello, nil
}
