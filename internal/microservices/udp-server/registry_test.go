package udp

import (
	"net"
	"strconv"
	"testing"
	"time"
)

func discovered(hostname, ip string, port int) *Discovered {
	return &Discovered{
		Announcement: Announcement{Magic: "pr7d68j1", Hostname: hostname, Port: port},
		From:         &net.UDPAddr{IP: net.ParseIP(ip), Port: 40000},
	}
}

func TestHostRegistry_ObserveAndRemove(t *testing.T) {
	r := NewHostRegistry(5 * time.Minute)

	if !r.Observe(discovered("cam-1", "192.168.1.10", 50201)) {
		t.Error("Expected first observation to report a new host")
	}
	if r.Observe(discovered("cam-1", "192.168.1.10", 50201)) {
		t.Error("Expected repeated observation not to report a new host")
	}

	if r.Count() != 1 {
		t.Errorf("Expected 1 host, got %d", r.Count())
	}

	host, exists := r.Get("192.168.1.10:50201")
	if !exists {
		t.Fatal("Expected host to exist")
	}
	if host.Hostname != "cam-1" {
		t.Errorf("Expected hostname 'cam-1', got '%s'", host.Hostname)
	}
	if host.Seen != 2 {
		t.Errorf("Expected 2 sightings, got %d", host.Seen)
	}

	r.Remove("192.168.1.10:50201")
	if r.Count() != 0 {
		t.Errorf("Expected 0 hosts after removal, got %d", r.Count())
	}
}

func TestHostRegistry_SameHostNewPort(t *testing.T) {
	r := NewHostRegistry(5 * time.Minute)

	// an ephemeral-port server announces a different port after a restart
	r.Observe(discovered("cam-1", "192.168.1.10", 50201))
	r.Observe(discovered("cam-1", "192.168.1.10", 41234))

	if r.Count() != 2 {
		t.Errorf("Expected 2 entries, got %d", r.Count())
	}
	if got := len(r.GetByHostname("cam-1")); got != 2 {
		t.Errorf("Expected 2 entries for cam-1, got %d", got)
	}
}

func TestHostRegistry_GetAllSorted(t *testing.T) {
	r := NewHostRegistry(5 * time.Minute)

	r.Observe(discovered("b", "10.0.0.2", 50201))
	r.Observe(discovered("a", "10.0.0.1", 50201))

	hosts := r.GetAll()
	if len(hosts) != 2 {
		t.Fatalf("Expected 2 hosts, got %d", len(hosts))
	}
	if hosts[0].Addr != "10.0.0.1:50201" || hosts[1].Addr != "10.0.0.2:50201" {
		t.Errorf("Unexpected order: %v", hosts)
	}
}

func TestHostRegistry_CleanupInactive(t *testing.T) {
	r := NewHostRegistry(100 * time.Millisecond)

	r.Observe(discovered("cam-1", "192.168.1.10", 50201))

	// Wait for timeout
	time.Sleep(150 * time.Millisecond)

	if removed := r.CleanupInactive(); removed != 1 {
		t.Errorf("Expected 1 host removed, got %d", removed)
	}
	if r.Count() != 0 {
		t.Errorf("Expected 0 hosts after cleanup, got %d", r.Count())
	}
}

func TestHostRegistry_ObserveKeepsHostAlive(t *testing.T) {
	r := NewHostRegistry(100 * time.Millisecond)

	r.Observe(discovered("cam-1", "192.168.1.10", 50201))
	time.Sleep(50 * time.Millisecond)
	r.Observe(discovered("cam-1", "192.168.1.10", 50201))
	time.Sleep(60 * time.Millisecond)

	r.CleanupInactive()
	if r.Count() != 1 {
		t.Errorf("Expected 1 host after refresh, got %d", r.Count())
	}
}

func TestHostRegistry_Concurrent(t *testing.T) {
	r := NewHostRegistry(5 * time.Minute)

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			r.Observe(discovered("cam-"+strconv.Itoa(id), "10.0.0.1", 50000+id))
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	if r.Count() != 10 {
		t.Errorf("Expected 10 hosts, got %d", r.Count())
	}
}

func TestDiscovered_TCPAddr(t *testing.T) {
	d := discovered("cam-1", "192.168.1.10", 50201)
	if got := d.TCPAddr(); got != "192.168.1.10:50201" {
		t.Errorf("Expected sender IP with announced port, got %s", got)
	}

	d.From = nil
	if got := d.TCPAddr(); got != "cam-1:50201" {
		t.Errorf("Expected hostname fallback, got %s", got)
	}
}
