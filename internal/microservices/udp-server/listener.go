package udp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"time"

	"ptzserver/internal/protocol"
)

const maxDatagramSize = 2048

type ListenerOptions struct {
	Magic    string
	Registry *HostRegistry // optional, fed with every valid announcement
	Logger   *slog.Logger
}

// DiscoveryListener receives announcement datagrams on the broadcast port.
type DiscoveryListener struct {
	conn     *net.UDPConn
	magic    string
	registry *HostRegistry
	logger   *slog.Logger
	buffer   []byte
}

// ListenDiscovery binds bindAddress:port for incoming announcements.
func ListenDiscovery(bindAddress string, port int, opts ListenerOptions) (*DiscoveryListener, error) {
	addr := net.JoinHostPort(bindAddress, strconv.Itoa(port))
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, &protocol.BindError{Op: "resolve", Addr: addr, Err: err}
	}

	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, &protocol.BindError{Op: "listen_udp", Addr: addr, Err: err}
	}

	if opts.Magic == "" {
		opts.Magic = DefaultAnnouncerOptions().Magic
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &DiscoveryListener{
		conn:     conn,
		magic:    opts.Magic,
		registry: opts.Registry,
		logger:   opts.Logger,
		buffer:   make([]byte, maxDatagramSize),
	}, nil
}

func (l *DiscoveryListener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Next blocks until a valid announcement arrives, ctx is done or the
// listener is closed. Datagrams that fail to parse are logged and skipped.
func (l *DiscoveryListener) Next(ctx context.Context) (*Discovered, error) {
	// wake the blocked read when ctx ends
	stop := context.AfterFunc(ctx, func() {
		l.conn.SetReadDeadline(time.Now())
	})
	defer l.conn.SetReadDeadline(time.Time{})
	defer stop()

	for {
		n, from, err := l.conn.ReadFromUDP(l.buffer)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// deadline left behind by an earlier cancelled call
				l.conn.SetReadDeadline(time.Time{})
				continue
			}
			return nil, err
		}

		ann, err := ParseAnnouncement(l.buffer[:n], l.magic)
		if err != nil {
			l.logger.Debug("announcement_ignored",
				"from", from.String(),
				"bytes", n,
				"reason", err.Error(),
			)
			continue
		}

		found := &Discovered{Announcement: *ann, From: from, ReceivedAt: time.Now()}
		if l.registry != nil && l.registry.Observe(found) {
			l.logger.Info("host_discovered",
				"hostname", found.Hostname,
				"addr", found.TCPAddr(),
			)
		}
		return found, nil
	}
}

// Run feeds the registry until ctx is done or the listener is closed.
func (l *DiscoveryListener) Run(ctx context.Context) error {
	for {
		if _, err := l.Next(ctx); err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (l *DiscoveryListener) Close() error {
	return l.conn.Close()
}
