package tcp

import (
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ptzserver/internal/protocol"
	"ptzserver/internal/shared"
)

// reference protocol constants
const (
	ProtocolVersion = 0.3
	Magic           = "pr7d68j1"
	DefaultPort     = 50201
)

// Options configures a ConnectionManager. Every manager gets its own copy.
type Options struct {
	Version          float64        // protocol revision both sides must share
	Magic            string         // identity marker both sides must share
	Codec            protocol.Codec // encoding used for outgoing messages
	MaxMessageSize   int64          // byte budget of one incoming frame
	HandshakeTimeout time.Duration  // max time to read the client hello
	WriteTimeout     time.Duration
	ShutdownTimeout  time.Duration // bound on Close waiting for quiescence
	ShutdownPoll     time.Duration
	AcceptRate       rate.Limit // accepted connections per second, 0 = unlimited
	AcceptBurst      int
	Recorder         HandshakeRecorder
	Logger           *slog.Logger
}

// DefaultOptions returns the reference behaviour: shutdown waits up to
// 10s, polling every 2s.
func DefaultOptions() Options {
	return Options{
		Version:          ProtocolVersion,
		Magic:            Magic,
		Codec:            protocol.JSON(),
		MaxMessageSize:   protocol.DefaultMaxFrameSize,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ShutdownTimeout:  10 * time.Second,
		ShutdownPoll:     2 * time.Second,
		AcceptRate:       100,
		AcceptBurst:      50,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Version == 0 {
		o.Version = def.Version
	}
	if o.Magic == "" {
		o.Magic = def.Magic
	}
	if o.Codec == nil {
		o.Codec = def.Codec
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = def.MaxMessageSize
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = def.HandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = def.ShutdownTimeout
	}
	if o.ShutdownPoll <= 0 || o.ShutdownPoll > o.ShutdownTimeout {
		o.ShutdownPoll = min(def.ShutdownPoll, o.ShutdownTimeout)
	}
	if o.AcceptBurst <= 0 {
		o.AcceptBurst = def.AcceptBurst
	}
	if o.Recorder == nil {
		o.Recorder = NopRecorder{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type ConnectionManager struct {
	host          string // bind address
	requestedPort int    // 0 lets the OS pick an ephemeral port
	opts          Options
	logger        *slog.Logger
	limiter       *rate.Limiter // nil when accept rate is unlimited

	mu         sync.RWMutex // guards everything below, clients and status together
	port       int          // bound port, 0 until listening
	active     bool
	listener   net.Listener
	clients    map[string]*ClientSession // key: session ID
	status     map[string]shared.SubsystemState
	acceptDone chan struct{}

	wg sync.WaitGroup // one per registered session goroutine
}

// constructor for ConnectionManager
func NewConnectionManager(host string, port int, opts Options) *ConnectionManager {
	opts = opts.withDefaults()

	var limiter *rate.Limiter
	if opts.AcceptRate > 0 {
		limiter = rate.NewLimiter(opts.AcceptRate, opts.AcceptBurst)
	}

	return &ConnectionManager{
		host:          host,
		requestedPort: port,
		opts:          opts,
		logger:        opts.Logger,
		limiter:       limiter,
		clients:       make(map[string]*ClientSession),
		status:        make(map[string]shared.SubsystemState),
	}
}

// register adds a session unless the manager has stopped serving.
// The wait group is bumped under the same lock so Close cannot miss it.
func (m *ConnectionManager) register(s *ClientSession) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.active {
		return false
	}
	m.clients[s.ID] = s
	m.wg.Add(1)
	m.logger.Info("client_added",
		"session_id", s.ID,
		"remote_addr", s.remoteAddr,
		"clients_connected", len(m.clients),
	)
	return true
}

// release closes the session's connection and drops it from the map
// while holding the lock, so no reader sees a closed session as connected.
func (m *ConnectionManager) release(s *ClientSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := s.conn.Close()
	if _, ok := m.clients[s.ID]; ok {
		delete(m.clients, s.ID)
		m.logger.Info("client_removed",
			"session_id", s.ID,
			"clients_connected", len(m.clients),
		)
	}
	return err
}

// SetStatus implements shared.StatusReporter.
func (m *ConnectionManager) SetStatus(subsystem string, state shared.SubsystemState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[subsystem] = state
	m.logger.Debug("subsystem_status",
		"subsystem", subsystem,
		"state", state.String(),
	)
}

// Status returns a copy of the subsystem status table.
func (m *ConnectionManager) Status() map[string]shared.SubsystemState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]shared.SubsystemState, len(m.status))
	for k, v := range m.status {
		out[k] = v
	}
	return out
}

// GetClients returns the sessions whose connection is still open.
func (m *ConnectionManager) GetClients() []*ClientSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ClientSession, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	return out
}

// Sessions returns a snapshot of every registered session, oldest first.
func (m *ConnectionManager) Sessions() []SessionInfo {
	clients := m.GetClients()
	out := make([]SessionInfo, 0, len(clients))
	for _, c := range clients {
		out = append(out, c.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

func (m *ConnectionManager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

func (m *ConnectionManager) IsServing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Port returns the bound TCP port, 0 before the first successful Start.
func (m *ConnectionManager) Port() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.port
}

// Addr returns the listening address, or nil when not serving.
func (m *ConnectionManager) Addr() net.Addr {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener == nil || !m.active {
		return nil
	}
	return m.listener.Addr()
}

// quiesced reports whether no session is left and every subsystem is inactive.
func (m *ConnectionManager) quiesced() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.clients) > 0 {
		return false
	}
	for _, st := range m.status {
		if st != shared.Inactive {
			return false
		}
	}
	return true
}

func (m *ConnectionManager) recordHandshake(evt *HandshakeEvent) {
	if err := m.opts.Recorder.RecordHandshake(evt); err != nil {
		m.logger.Warn("handshake_record_failed",
			"session_id", evt.SessionID,
			"error", err.Error(),
		)
	}
}
