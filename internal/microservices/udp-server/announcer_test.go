package udp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ptzserver/internal/protocol"
	"ptzserver/internal/shared"
)

type fixedPort struct{ port atomic.Int64 }

func (p *fixedPort) Port() int { return int(p.port.Load()) }

func newPort(n int) *fixedPort {
	p := &fixedPort{}
	p.port.Store(int64(n))
	return p
}

type statusTable struct {
	mu     sync.Mutex
	states map[string]shared.SubsystemState
}

func (s *statusTable) SetStatus(subsystem string, state shared.SubsystemState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states == nil {
		s.states = make(map[string]shared.SubsystemState)
	}
	s.states[subsystem] = state
}

func (s *statusTable) get(subsystem string) shared.SubsystemState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[subsystem]
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// loopbackListener receives what the announcer sends to 127.0.0.1.
func loopbackListener(t *testing.T, registry *HostRegistry) *DiscoveryListener {
	t.Helper()
	l, err := ListenDiscovery("127.0.0.1", 0, ListenerOptions{Registry: registry, Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func loopbackAnnouncer(ports PortSource, status shared.StatusReporter, interval time.Duration) *AnnouncementService {
	return NewAnnouncementService("cam-test", ports, AnnouncerOptions{
		Interval:    interval,
		BroadcastIP: "127.0.0.1",
		Status:      status,
		Logger:      quietLogger(),
	})
}

func nextWithin(t *testing.T, l *DiscoveryListener, d time.Duration) *Discovered {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	found, err := l.Next(ctx)
	require.NoError(t, err)
	return found
}

func TestAnnouncer_SendsPortOnEveryTick(t *testing.T) {
	l := loopbackListener(t, nil)
	status := &statusTable{}
	a := loopbackAnnouncer(newPort(50201), status, 50*time.Millisecond)

	require.NoError(t, a.Start("127.0.0.1", l.Addr().(*net.UDPAddr).Port))
	defer a.Stop()
	assert.Equal(t, shared.Active, status.get(shared.SubsystemAnnouncer))
	assert.True(t, a.IsActive())

	start := time.Now()
	for i := 0; i < 3; i++ {
		found := nextWithin(t, l, time.Second)
		assert.Equal(t, "pr7d68j1", found.Magic)
		assert.Equal(t, "cam-test", found.Hostname)
		assert.Equal(t, 50201, found.Port)
		assert.Equal(t, "127.0.0.1:50201", found.TCPAddr())
	}
	// first datagram goes out immediately, then one per interval
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.GreaterOrEqual(t, a.Sent(), uint64(3))
}

func TestAnnouncer_FollowsPortChanges(t *testing.T) {
	l := loopbackListener(t, nil)
	ports := newPort(50201)
	a := loopbackAnnouncer(ports, nil, 30*time.Millisecond)

	require.NoError(t, a.Start("127.0.0.1", l.Addr().(*net.UDPAddr).Port))
	defer a.Stop()

	assert.Equal(t, 50201, nextWithin(t, l, time.Second).Port)
	ports.port.Store(41234)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if nextWithin(t, l, time.Second).Port == 41234 {
			return
		}
	}
	t.Fatal("announcer never picked up the new port")
}

func TestAnnouncer_SilentAfterStop(t *testing.T) {
	l := loopbackListener(t, nil)
	status := &statusTable{}
	a := loopbackAnnouncer(newPort(50201), status, 20*time.Millisecond)

	require.NoError(t, a.Start("127.0.0.1", l.Addr().(*net.UDPAddr).Port))
	nextWithin(t, l, time.Second)

	a.Stop()
	assert.False(t, a.IsActive())
	assert.Equal(t, shared.Inactive, status.get(shared.SubsystemAnnouncer))

	// drain what was in flight before Stop returned
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		_, err := l.Next(ctx)
		cancel()
		if err != nil {
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err := l.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "no datagram after Stop")
}

func TestAnnouncer_StopIsIdempotent(t *testing.T) {
	a := loopbackAnnouncer(newPort(50201), nil, time.Second)
	a.Stop()

	require.NoError(t, a.Start("127.0.0.1", 50299))
	a.Stop()
	a.Stop()
	assert.False(t, a.IsActive())
	assert.NoError(t, a.Err())
}

func TestAnnouncer_StartTwice(t *testing.T) {
	a := loopbackAnnouncer(newPort(50201), nil, time.Second)
	require.NoError(t, a.Start("127.0.0.1", 50299))
	defer a.Stop()
	assert.Error(t, a.Start("127.0.0.1", 50299))
}

func TestAnnouncer_SkipsUnboundPort(t *testing.T) {
	l := loopbackListener(t, nil)
	a := loopbackAnnouncer(newPort(0), nil, 20*time.Millisecond)

	require.NoError(t, a.Start("127.0.0.1", l.Addr().(*net.UDPAddr).Port))
	defer a.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := l.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, a.Sent())
	assert.True(t, a.IsActive())
}

func TestAnnouncer_BindError(t *testing.T) {
	a := loopbackAnnouncer(newPort(50201), nil, time.Second)

	// TEST-NET-3 is never assigned to a local interface
	err := a.Start("203.0.113.7", 50299)
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrBind)
	var bindErr *protocol.BindError
	require.True(t, errors.As(err, &bindErr))
	assert.Equal(t, "listen_udp", bindErr.Op)
	assert.False(t, a.IsActive())
}

func TestAnnouncer_BrokenSocketStopsLoop(t *testing.T) {
	status := &statusTable{}
	a := loopbackAnnouncer(newPort(50201), status, 20*time.Millisecond)
	require.NoError(t, a.Start("127.0.0.1", 50299))

	// break the socket behind the loop's back
	a.mu.Lock()
	a.conn.Close()
	a.mu.Unlock()

	require.Eventually(t, func() bool { return !a.IsActive() }, time.Second, 10*time.Millisecond)
	err := a.Err()
	assert.ErrorIs(t, err, protocol.ErrSendFailure)
	assert.ErrorIs(t, err, net.ErrClosed)
	assert.Equal(t, shared.Inactive, status.get(shared.SubsystemAnnouncer))

	a.Stop()
}

func TestParseAnnouncement(t *testing.T) {
	valid := &Announcement{Magic: "pr7d68j1", Hostname: "cam-1", Port: 50201}
	jsonData, err := valid.Encode(protocol.JSON())
	require.NoError(t, err)
	cborData, err := valid.Encode(protocol.CBOR())
	require.NoError(t, err)

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{name: "json", data: jsonData},
		{name: "cbor", data: cborData},
		{name: "foreign magic", data: []byte(`{"magic":"other","hostname":"cam-1","port":50201}`), wantErr: ErrForeignAnnouncement},
		{name: "missing magic", data: []byte(`{"hostname":"cam-1","port":50201}`), wantErr: protocol.ErrMalformedMessage},
		{name: "missing hostname", data: []byte(`{"magic":"pr7d68j1","port":50201}`), wantErr: protocol.ErrMalformedMessage},
		{name: "fractional port", data: []byte(`{"magic":"pr7d68j1","hostname":"cam-1","port":50201.5}`), wantErr: protocol.ErrMalformedMessage},
		{name: "port zero", data: []byte(`{"magic":"pr7d68j1","hostname":"cam-1","port":0}`), wantErr: protocol.ErrMalformedMessage},
		{name: "port out of range", data: []byte(`{"magic":"pr7d68j1","hostname":"cam-1","port":70000}`), wantErr: protocol.ErrMalformedMessage},
		{name: "port as string", data: []byte(`{"magic":"pr7d68j1","hostname":"cam-1","port":"50201"}`), wantErr: protocol.ErrMalformedMessage},
		{name: "garbage", data: []byte("pr7d68j1 cam-1 50201"), wantErr: protocol.ErrMalformedMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ann, err := ParseAnnouncement(tt.data, "pr7d68j1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, ann)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, valid, ann)
		})
	}
}

func TestDiscoveryListener_SkipsInvalidDatagrams(t *testing.T) {
	registry := NewHostRegistry(time.Minute)
	l := loopbackListener(t, registry)

	sender, err := net.DialUDP("udp4", nil, l.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	defer sender.Close()

	_, err = sender.Write([]byte("not an announcement"))
	require.NoError(t, err)
	_, err = sender.Write([]byte(`{"magic":"other","hostname":"x","port":1}`))
	require.NoError(t, err)
	_, err = sender.Write([]byte(`{"magic":"pr7d68j1","hostname":"cam-2","port":50201}`))
	require.NoError(t, err)

	found := nextWithin(t, l, time.Second)
	assert.Equal(t, "cam-2", found.Hostname)
	assert.Equal(t, 1, registry.Count())

	host, ok := registry.Get("127.0.0.1:50201")
	require.True(t, ok)
	assert.Equal(t, "cam-2", host.Hostname)
}

func TestDiscoveryListener_NextHonoursContext(t *testing.T) {
	l := loopbackListener(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	_, err := l.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// a later call is not affected by the earlier cancellation
	sender, err := net.DialUDP("udp4", nil, l.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	defer sender.Close()
	_, err = sender.Write([]byte(`{"magic":"pr7d68j1","hostname":"cam-3","port":50201}`))
	require.NoError(t, err)
	assert.Equal(t, "cam-3", nextWithin(t, l, time.Second).Hostname)
}

func TestDiscoveryListener_RunStopsOnClose(t *testing.T) {
	l := loopbackListener(t, NewHostRegistry(time.Minute))

	errc := make(chan error, 1)
	go func() { errc <- l.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	l.Close()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}
