package tcp

import "ptzserver/internal/protocol"

// handshake field names
const (
	KeyVersion = "version"
	KeyMagic   = "magic"
)

// ServerHello is the first message a server sends on every connection.
func ServerHello(version float64) protocol.Message {
	return protocol.Message{KeyVersion: version}
}

// ClientHello is the reply a client sends to prove it speaks the same protocol.
func ClientHello(version float64, magic string) protocol.Message {
	return protocol.Message{
		KeyVersion: version,
		KeyMagic:   magic,
	}
}
