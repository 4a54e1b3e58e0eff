package tcp

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"ptzserver/internal/protocol"
	"ptzserver/internal/shared"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Start binds the listening socket and runs the accept loop in the
// background. A bind failure is returned as *protocol.BindError and leaves
// the manager not serving.
func (m *ConnectionManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return fmt.Errorf("connection manager already serving on %s", m.listener.Addr())
	}

	addr := net.JoinHostPort(m.host, strconv.Itoa(m.requestedPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return &protocol.BindError{Op: "listen_tcp", Addr: addr, Err: err}
	}

	m.listener = listener
	m.port = listener.Addr().(*net.TCPAddr).Port
	m.active = true
	m.status[shared.SubsystemListener] = shared.Active
	m.acceptDone = make(chan struct{})

	m.logger.Info("client_listener_started",
		"addr", listener.Addr().String(),
		"port", m.port,
		"version", m.opts.Version,
		"wire_format", m.opts.Codec.Name(),
	)

	go m.acceptLoop(listener, m.acceptDone)
	return nil
}

// acceptLoop hands every connection to its own goroutine right away,
// so a slow or silent client never holds up the next accept.
func (m *ConnectionManager) acceptLoop(listener net.Listener, done chan struct{}) {
	defer close(done)
	defer m.SetStatus(shared.SubsystemListener, shared.Inactive)

	var backoff time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !m.IsServing() {
				return
			}
			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(backoff*2, maxAcceptBackoff)
			}
			m.logger.Warn("accept_failed",
				"error", err.Error(),
				"retry_in", backoff.String(),
			)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if m.limiter != nil && !m.limiter.Allow() {
			m.logger.Warn("accept_rate_limited",
				"remote_addr", conn.RemoteAddr().String(),
			)
			conn.Close()
			continue
		}

		session := newClientSession(conn, m)
		if !m.register(session) {
			// shutdown started between Accept and register
			conn.Close()
			continue
		}
		m.logger.Info("session_accepted",
			"session_id", session.ID,
			"remote_addr", session.remoteAddr,
		)

		go func(s *ClientSession) {
			defer m.wg.Done()
			s.Run()
		}(session)
	}
}

// Close stops accepting, force-closes every session, closes the listener
// and waits for everything to settle. The wait is bounded by
// ShutdownTimeout; past it the remaining connections are dropped and
// ErrShutdownTimeout is returned. Calling Close on a stopped manager is a no-op.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return nil
	}
	m.active = false
	listener := m.listener
	acceptDone := m.acceptDone
	sessions := make([]*ClientSession, 0, len(m.clients))
	for _, c := range m.clients {
		sessions = append(sessions, c)
	}
	m.mu.Unlock()

	m.logger.Info("client_listener_stop_requested",
		"clients_connected", len(sessions),
	)

	for _, s := range sessions {
		s.Close()
	}
	if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		m.logger.Warn("listener_close_failed", "error", err.Error())
	}

	settled := make(chan struct{})
	go func() {
		<-acceptDone
		m.wg.Wait()
		close(settled)
	}()

	if m.waitQuiesced(settled) {
		m.logger.Info("client_listener_stopped")
		return nil
	}

	m.logger.Warn("shutdown_timeout",
		"timeout", m.opts.ShutdownTimeout.String(),
		"clients_remaining", m.ClientCount(),
		"status", m.Status(),
	)
	m.forceClear()
	return fmt.Errorf("%w after %s", protocol.ErrShutdownTimeout, m.opts.ShutdownTimeout)
}

// waitQuiesced polls until the goroutines have exited and the status table
// is all inactive, or until the shutdown bound expires.
func (m *ConnectionManager) waitQuiesced(settled <-chan struct{}) bool {
	deadline := time.NewTimer(m.opts.ShutdownTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(m.opts.ShutdownPoll)
	defer ticker.Stop()

	done := false
	for {
		if done && m.quiesced() {
			return true
		}
		select {
		case <-settled:
			done = true
			settled = nil
		case <-ticker.C:
			m.logger.Debug("waiting_for_quiesce",
				"clients_remaining", m.ClientCount(),
			)
		case <-deadline.C:
			return false
		}
	}
}

// forceClear drops whatever is still registered after a shutdown timeout.
func (m *ConnectionManager) forceClear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.clients {
		c.conn.Close()
		m.logger.Warn("client_force_closed", "session_id", id)
	}
	m.clients = make(map[string]*ClientSession)
}

// Disconnect force-closes one session by ID.
func (m *ConnectionManager) Disconnect(id string) bool {
	m.mu.RLock()
	s, ok := m.clients[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	s.Close()
	return true
}
