package udp

import (
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"time"

	"ptzserver/internal/protocol"
)

// field names of the discovery datagram
const (
	KeyMagic    = "magic"
	KeyHostname = "hostname"
	KeyPort     = "port"
)

// DefaultBroadcastPort is where hosts announce themselves and listeners wait.
const DefaultBroadcastPort = 50200

// ErrForeignAnnouncement is returned for a well-formed datagram carrying
// another service's identity marker.
var ErrForeignAnnouncement = errors.New("announcement from a foreign service")

// Announcement is the payload of one discovery datagram
type Announcement struct {
	Magic    string `json:"magic"`
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
}

// ToMessage converts the announcement to its wire map.
func (a *Announcement) ToMessage() protocol.Message {
	return protocol.Message{
		KeyMagic:    a.Magic,
		KeyHostname: a.Hostname,
		KeyPort:     float64(a.Port),
	}
}

// Encode serialises the announcement with the given codec.
func (a *Announcement) Encode(codec protocol.Codec) ([]byte, error) {
	return codec.Marshal(a.ToMessage())
}

// ParseAnnouncement decodes a datagram and checks it against the expected
// identity marker.
func ParseAnnouncement(data []byte, magic string) (*Announcement, error) {
	msg, err := protocol.Decode(data)
	if err != nil {
		return nil, err
	}

	got, ok := msg.String(KeyMagic)
	if !ok {
		return nil, fmt.Errorf("%w: missing or non-string %q", protocol.ErrMalformedMessage, KeyMagic)
	}
	if got != magic {
		return nil, ErrForeignAnnouncement
	}

	hostname, ok := msg.String(KeyHostname)
	if !ok {
		return nil, fmt.Errorf("%w: missing or non-string %q", protocol.ErrMalformedMessage, KeyHostname)
	}

	port, ok := msg.Number(KeyPort)
	if !ok || port != math.Trunc(port) || port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: invalid %q %v", protocol.ErrMalformedMessage, KeyPort, msg[KeyPort])
	}

	return &Announcement{Magic: got, Hostname: hostname, Port: int(port)}, nil
}

// Discovered is an announcement together with where it came from.
type Discovered struct {
	Announcement
	From       *net.UDPAddr `json:"-"`
	ReceivedAt time.Time    `json:"received_at"`
}

// TCPAddr is the address a client should dial: the sender's IP and the
// announced port. The hostname is informational.
func (d *Discovered) TCPAddr() string {
	if d.From == nil {
		return net.JoinHostPort(d.Hostname, strconv.Itoa(d.Port))
	}
	return net.JoinHostPort(d.From.IP.String(), strconv.Itoa(d.Port))
}
