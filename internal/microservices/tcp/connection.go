package tcp

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"ptzserver/internal/protocol"
)

// ClientSession is the server side of one accepted connection.
// It runs its own handshake once spawned; the manager may force-close it.
type ClientSession struct {
	ID          string // unique identifier = key in the manager's map
	conn        net.Conn
	remoteAddr  string
	connectedAt time.Time
	manager     *ConnectionManager // owner, used for options, logging and release

	mu     sync.Mutex
	state  HandshakeState
	closed bool
}

// constructor for ClientSession
func newClientSession(conn net.Conn, manager *ConnectionManager) *ClientSession {
	return &ClientSession{
		ID:          uuid.NewString(),
		conn:        conn,
		remoteAddr:  conn.RemoteAddr().String(),
		connectedAt: time.Now(),
		manager:     manager,
		state:       StateConnected,
	}
}

// SessionInfo is a point-in-time view of a session for operators.
type SessionInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	State       string    `json:"state"`
	ConnectedAt time.Time `json:"connected_at"`
}

func (s *ClientSession) Info() SessionInfo {
	return SessionInfo{
		ID:          s.ID,
		RemoteAddr:  s.remoteAddr,
		State:       s.State().String(),
		ConnectedAt: s.connectedAt,
	}
}

func (s *ClientSession) RemoteAddr() string { return s.remoteAddr }

func (s *ClientSession) ConnectedAt() time.Time { return s.connectedAt }

func (s *ClientSession) State() HandshakeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState moves the session forward; a closed session stays closed.
func (s *ClientSession) setState(next HandshakeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = next
}

// Run drives the handshake to Verified or Rejected, then closes the
// connection. It returns the handshake outcome.
// The connection is closed and released before the outcome is reported,
// so a slow recorder never holds a finished session open.
func (s *ClientSession) Run() HandshakeState {
	defer s.Close()

	err := s.handshake()
	outcome := StateVerified
	if err != nil {
		outcome = StateRejected
	}
	s.setState(outcome)
	s.Close()
	s.report(outcome, err)
	return outcome
}

func (s *ClientSession) handshake() error {
	opts := s.manager.opts

	s.setState(StateAwaitingClientHello)
	if err := s.Send(ServerHello(opts.Version)); err != nil {
		return err
	}

	msg, err := s.Receive()
	if err != nil {
		return err
	}
	return VerifyClientHello(msg, opts.Version, opts.Magic)
}

// report logs the outcome and hands it to the audit recorder.
// A recorder failure never changes the outcome.
func (s *ClientSession) report(outcome HandshakeState, err error) {
	logger := s.manager.logger
	reason := ""

	switch {
	case err == nil:
		logger.Info("handshake_verified",
			"session_id", s.ID,
			"remote_addr", s.remoteAddr,
		)
	case errors.Is(err, net.ErrClosed) && !s.manager.IsServing():
		// force-closed by shutdown while waiting for the client
		reason = "server_shutdown"
		logger.Info("handshake_interrupted",
			"session_id", s.ID,
			"remote_addr", s.remoteAddr,
		)
	case protocol.IsRejection(err):
		reason = err.Error()
		logger.Warn("handshake_rejected",
			"session_id", s.ID,
			"remote_addr", s.remoteAddr,
			"reason", reason,
		)
	default:
		reason = err.Error()
		logger.Error("handshake_failed",
			"session_id", s.ID,
			"remote_addr", s.remoteAddr,
			"error", reason,
		)
	}

	s.manager.recordHandshake(&HandshakeEvent{
		SessionID:  s.ID,
		RemoteAddr: s.remoteAddr,
		Outcome:    outcome.String(),
		Reason:     reason,
		At:         time.Now(),
	})
}

// Send writes one message and half-closes the write side.
func (s *ClientSession) Send(msg protocol.Message) error {
	data, err := s.manager.opts.Codec.Marshal(msg)
	if err != nil {
		return err
	}
	return protocol.WriteFrame(s.conn, data, s.manager.opts.WriteTimeout)
}

// Receive reads one message, bounded by the size and time limits.
func (s *ClientSession) Receive() (protocol.Message, error) {
	opts := s.manager.opts
	data, err := protocol.ReadFrame(s.conn, opts.MaxMessageSize, opts.HandshakeTimeout)
	if err != nil {
		return nil, err
	}
	return protocol.Decode(data)
}

// Close is idempotent. The connection is closed and the session leaves the
// manager's registry in one step.
func (s *ClientSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	last := s.state
	s.state = StateClosed
	s.mu.Unlock()

	err := s.manager.release(s)
	s.manager.logger.Info("session_closed",
		"session_id", s.ID,
		"remote_addr", s.remoteAddr,
		"last_state", last.String(),
	)
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
