package protocol

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (server, client net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server = <-accepted
	require.NotNil(t, server)

	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return server, client
}

func TestFrame_WriteThenRead(t *testing.T) {
	server, client := tcpPair(t)

	payload, err := Encode(Message{"version": 0.3})
	require.NoError(t, err)

	require.NoError(t, WriteFrame(server, payload, time.Second))

	got, err := ReadFrame(client, 1024, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// the other direction is still usable after the half-close
	require.NoError(t, WriteFrame(client, []byte(`{"magic":"x"}`), time.Second))
	back, err := ReadFrame(server, 1024, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, `{"magic":"x"}`, string(back))
}

func TestReadFrame_TooLarge(t *testing.T) {
	server, client := tcpPair(t)

	go WriteFrame(client, make([]byte, 2048), time.Second)

	_, err := ReadFrame(server, 1024, 2*time.Second)
	assert.ErrorIs(t, err, ErrMessageTooLarge)
	assert.True(t, IsRejection(err))
}

func TestReadFrame_Timeout(t *testing.T) {
	server, client := tcpPair(t)

	// send something but never half-close
	_, err := client.Write([]byte(`{"version":`))
	require.NoError(t, err)

	start := time.Now()
	_, err = ReadFrame(server, 1024, 150*time.Millisecond)
	assert.ErrorIs(t, err, ErrReadTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestReadFrame_EmptyStreamIsDisconnect(t *testing.T) {
	server, client := tcpPair(t)

	require.NoError(t, client.Close())

	_, err := ReadFrame(server, 1024, time.Second)
	assert.ErrorIs(t, err, ErrPeerDisconnected)
}

func TestWriteFrame_ClosedConn(t *testing.T) {
	server, _ := tcpPair(t)
	require.NoError(t, server.Close())

	err := WriteFrame(server, []byte("{}"), time.Second)
	assert.ErrorIs(t, err, ErrSendFailure)
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestBindError_MatchesSentinel(t *testing.T) {
	err := error(&BindError{Op: "listen_tcp", Addr: "127.0.0.1:1", Err: assert.AnError})
	assert.ErrorIs(t, err, ErrBind)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "listen_tcp 127.0.0.1:1")
}
