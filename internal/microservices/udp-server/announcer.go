package udp

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"ptzserver/internal/protocol"
	"ptzserver/internal/shared"
)

// PortSource reports the TCP port to announce. The ConnectionManager is one.
type PortSource interface {
	Port() int
}

type AnnouncerOptions struct {
	Interval    time.Duration  // time between datagrams
	BroadcastIP string         // destination address, limited broadcast by default
	Magic       string         // identity marker carried in every datagram
	Codec       protocol.Codec // datagram encoding
	// Status receives Active/Inactive transitions of the announcer.
	Status shared.StatusReporter
	// consecutive non-fatal send errors tolerated before the loop gives up
	MaxConsecutiveFailures int
	WriteTimeout           time.Duration
	Logger                 *slog.Logger
}

func DefaultAnnouncerOptions() AnnouncerOptions {
	return AnnouncerOptions{
		Interval:               5 * time.Second,
		BroadcastIP:            "255.255.255.255",
		Magic:                  "pr7d68j1",
		Codec:                  protocol.JSON(),
		MaxConsecutiveFailures: 3,
		WriteTimeout:           time.Second,
	}
}

func (o AnnouncerOptions) withDefaults() AnnouncerOptions {
	def := DefaultAnnouncerOptions()
	if o.Interval <= 0 {
		o.Interval = def.Interval
	}
	if o.BroadcastIP == "" {
		o.BroadcastIP = def.BroadcastIP
	}
	if o.Magic == "" {
		o.Magic = def.Magic
	}
	if o.Codec == nil {
		o.Codec = def.Codec
	}
	if o.MaxConsecutiveFailures <= 0 {
		o.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// AnnouncementService periodically broadcasts the host's identity marker,
// hostname and current TCP port so clients can find it without a fixed
// rendezvous port.
type AnnouncementService struct {
	hostname string
	ports    PortSource
	opts     AnnouncerOptions
	logger   *slog.Logger

	mu     sync.Mutex
	active bool
	conn   *net.UDPConn
	dest   *net.UDPAddr
	stop   chan struct{}
	done   chan struct{}
	err    error  // fatal error that ended the last run
	sent   uint64 // datagrams sent since the last Start
}

// constructor for AnnouncementService
func NewAnnouncementService(hostname string, ports PortSource, opts AnnouncerOptions) *AnnouncementService {
	opts = opts.withDefaults()
	return &AnnouncementService{
		hostname: hostname,
		ports:    ports,
		opts:     opts,
		logger:   opts.Logger,
	}
}

// Start opens the broadcast socket on bindAddress and announces to
// broadcastPort right away, then every Interval until Stop.
func (a *AnnouncementService) Start(bindAddress string, broadcastPort int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active {
		return fmt.Errorf("announcer already running towards %s", a.dest)
	}

	destAddr := net.JoinHostPort(a.opts.BroadcastIP, strconv.Itoa(broadcastPort))
	dest, err := net.ResolveUDPAddr("udp4", destAddr)
	if err != nil {
		return &protocol.BindError{Op: "resolve", Addr: destAddr, Err: err}
	}

	localAddr := net.JoinHostPort(bindAddress, "0")
	local, err := net.ResolveUDPAddr("udp4", localAddr)
	if err != nil {
		return &protocol.BindError{Op: "resolve", Addr: localAddr, Err: err}
	}

	// the runtime enables SO_BROADCAST on every datagram socket
	conn, err := net.ListenUDP("udp4", local)
	if err != nil {
		return &protocol.BindError{Op: "listen_udp", Addr: localAddr, Err: err}
	}

	a.conn = conn
	a.dest = dest
	a.active = true
	a.err = nil
	a.sent = 0
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	a.setStatus(shared.Active)

	a.logger.Info("announcer_started",
		"local_addr", conn.LocalAddr().String(),
		"dest", dest.String(),
		"interval", a.opts.Interval.String(),
		"hostname", a.hostname,
	)

	go a.run(conn, dest, a.stop, a.done)
	return nil
}

func (a *AnnouncementService) run(conn *net.UDPConn, dest *net.UDPAddr, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(a.opts.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		err := a.announce(conn, dest)
		if err != nil {
			select {
			case <-stop:
				// socket closed by Stop mid-send
				return
			default:
			}

			if isFatalSend(err) {
				a.abort(conn, err)
				return
			}
			failures++
			a.logger.Warn("announce_failed",
				"error", err.Error(),
				"consecutive_failures", failures,
			)
			if failures >= a.opts.MaxConsecutiveFailures {
				a.abort(conn, fmt.Errorf("%w: %d consecutive failures: %w",
					protocol.ErrSendFailure, failures, err))
				return
			}
		} else {
			failures = 0
		}

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// announce sends one datagram with the port the manager is bound to now.
func (a *AnnouncementService) announce(conn *net.UDPConn, dest *net.UDPAddr) error {
	port := a.ports.Port()
	if port == 0 {
		a.logger.Debug("announce_skipped", "reason", "tcp_port_not_bound")
		return nil
	}

	ann := &Announcement{Magic: a.opts.Magic, Hostname: a.hostname, Port: port}
	data, err := ann.Encode(a.opts.Codec)
	if err != nil {
		return err
	}

	conn.SetWriteDeadline(time.Now().Add(a.opts.WriteTimeout))
	n, err := conn.WriteToUDP(data, dest)
	if err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrSendFailure, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %w", protocol.ErrSendFailure, errNothingSent)
	}

	a.mu.Lock()
	a.sent++
	a.mu.Unlock()

	a.logger.Debug("announce_sent",
		"dest", dest.String(),
		"port", port,
		"bytes", n,
	)
	return nil
}

var errNothingSent = errors.New("0 bytes sent")

// isFatalSend tells a broken socket apart from a transient network error.
func isFatalSend(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, errNothingSent)
}

// abort ends the run after a fatal send error; the error stays readable through Err.
func (a *AnnouncementService) abort(conn *net.UDPConn, err error) {
	a.mu.Lock()
	a.err = err
	a.active = false
	a.mu.Unlock()

	conn.Close()
	a.setStatus(shared.Inactive)
	a.logger.Error("announcer_stopped_on_error", "error", err.Error())
}

// Stop clears active, closes the socket and waits for the loop to exit,
// so no datagram leaves after it returns. Safe to call more than once.
func (a *AnnouncementService) Stop() {
	a.mu.Lock()
	stop, done, conn := a.stop, a.done, a.conn
	a.stop = nil
	a.active = false
	a.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	conn.Close()
	<-done

	a.setStatus(shared.Inactive)
	a.logger.Info("announcer_stopped")
}

func (a *AnnouncementService) IsActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Err returns the error that stopped the loop on its own, if any.
func (a *AnnouncementService) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *AnnouncementService) Sent() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sent
}

func (a *AnnouncementService) setStatus(state shared.SubsystemState) {
	if a.opts.Status != nil {
		a.opts.Status.SetStatus(shared.SubsystemAnnouncer, state)
	}
}
