package tcp

import (
	"fmt"

	"ptzserver/internal/protocol"
)

// HandshakeState tracks a session through
// Connected -> AwaitingClientHello -> {Verified, Rejected} -> Closed.
type HandshakeState int

const (
	StateConnected HandshakeState = iota
	StateAwaitingClientHello
	StateVerified
	StateRejected
	StateClosed
)

func (s HandshakeState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAwaitingClientHello:
		return "awaiting_client_hello"
	case StateVerified:
		return "verified"
	case StateRejected:
		return "rejected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s HandshakeState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// VerifyClientHello accepts msg only if it carries exactly the version and
// magic fields and both match. The returned error wraps ErrHandshakeRejected
// and names the first problem found.
func VerifyClientHello(msg protocol.Message, version float64, magic string) error {
	for _, k := range msg.Keys() {
		if k != KeyVersion && k != KeyMagic {
			return fmt.Errorf("%w: unexpected field %q", protocol.ErrHandshakeRejected, k)
		}
	}

	got, ok := msg.Number(KeyVersion)
	if !ok {
		return fmt.Errorf("%w: missing or non-numeric %q", protocol.ErrHandshakeRejected, KeyVersion)
	}
	if got != version {
		return fmt.Errorf("%w: version %v, want %v", protocol.ErrHandshakeRejected, got, version)
	}

	marker, ok := msg.String(KeyMagic)
	if !ok {
		return fmt.Errorf("%w: missing or non-string %q", protocol.ErrHandshakeRejected, KeyMagic)
	}
	if marker != magic {
		return fmt.Errorf("%w: identity marker mismatch", protocol.ErrHandshakeRejected)
	}
	return nil
}
