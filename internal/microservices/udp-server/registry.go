package udp

import (
	"sort"
	"sync"
	"time"
)

// Host is a server seen on the discovery channel
type Host struct {
	Hostname  string    `json:"hostname"`
	Addr      string    `json:"addr"` // dialable TCP address
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Seen      int       `json:"seen"` // announcements received
}

// HostRegistry tracks discovered hosts and forgets the ones that went quiet
type HostRegistry struct {
	mu      sync.RWMutex
	hosts   map[string]*Host // TCP address -> Host
	timeout time.Duration
}

// NewHostRegistry creates a registry that drops hosts silent for longer than timeout
func NewHostRegistry(timeout time.Duration) *HostRegistry {
	return &HostRegistry{
		hosts:   make(map[string]*Host),
		timeout: timeout,
	}
}

// Observe adds a host or refreshes its last-seen time. It reports whether the host is new.
func (r *HostRegistry) Observe(d *Discovered) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	addr := d.TCPAddr()
	at := d.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}

	if h, exists := r.hosts[addr]; exists {
		h.Hostname = d.Hostname
		h.LastSeen = at
		h.Seen++
		return false
	}

	r.hosts[addr] = &Host{
		Hostname:  d.Hostname,
		Addr:      addr,
		FirstSeen: at,
		LastSeen:  at,
		Seen:      1,
	}
	return true
}

// Remove removes a host
func (r *HostRegistry) Remove(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.hosts, addr)
}

// Get returns a copy of the host registered under addr
func (r *HostRegistry) Get(addr string) (Host, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, exists := r.hosts[addr]
	if !exists {
		return Host{}, false
	}
	return *h, true
}

// GetAll returns copies of every host, ordered by address
func (r *HostRegistry) GetAll() []Host {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hosts := make([]Host, 0, len(r.hosts))
	for _, h := range r.hosts {
		hosts = append(hosts, *h)
	}
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Addr < hosts[j].Addr })
	return hosts
}

// GetByHostname returns the hosts announcing the given name
func (r *HostRegistry) GetByHostname(hostname string) []Host {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var hosts []Host
	for _, h := range r.hosts {
		if h.Hostname == hostname {
			hosts = append(hosts, *h)
		}
	}
	return hosts
}

// CleanupInactive removes hosts not seen within the timeout and returns how many went
func (r *HostRegistry) CleanupInactive() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	removed := 0
	for addr, h := range r.hosts {
		if now.Sub(h.LastSeen) > r.timeout {
			delete(r.hosts, addr)
			removed++
		}
	}
	return removed
}

// Count returns the number of known hosts
func (r *HostRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.hosts)
}

// StartCleanupRoutine periodically drops stale hosts until done is closed
func (r *HostRegistry) StartCleanupRoutine(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.CleanupInactive()
		case <-done:
			return
		}
	}
}

