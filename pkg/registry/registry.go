// Package registry tracks live connections by peer address so the server
// can route an out-of-band push_event to the right socket without the
// caller needing to hold onto a Connection reference itself.
package registry

import (
	"fmt"
	"sync"
)

// PeerID identifies one controller connection by its socket address.
type PeerID struct {
	Host string
	Port int
}

// String renders the peer as host:port.
func (p PeerID) String() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// Conn is the narrow view of a connection the registry needs: enough to
// push an event frame and to tear it down on shutdown. *conn.Connection
// satisfies this without pkg/registry importing pkg/conn.
type Conn interface {
	PushEvent(payload []byte) error
	Close()
}

// Stats is a point-in-time snapshot of registry activity, the accept-side
// analogue of a dial-pool's PoolStats.
type Stats struct {
	Active        int
	TotalAccepted uint64
	TotalClosed   uint64
}

// Registry maps connected peers to their Connection. The mutex guards
// only the map itself — never held across a dispatch or a push — so one
// slow or stuck connection can't stall registration of another.
type Registry struct {
	mu            sync.Mutex
	conns         map[PeerID]Conn
	totalAccepted uint64
	totalClosed   uint64
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{conns: make(map[PeerID]Conn)}
}

// Insert registers c under id, replacing any previous entry for the same
// peer (a reconnect from the same address races the old entry's Remove).
func (r *Registry) Insert(id PeerID, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[id] = c
	r.totalAccepted++
}

// Remove unregisters id, if present.
func (r *Registry) Remove(id PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; ok {
		delete(r.conns, id)
		r.totalClosed++
	}
}

// Lookup returns the connection registered for id, if any.
func (r *Registry) Lookup(id PeerID) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	return c, ok
}

// PushEvent looks up id and, if a connection is registered, writes an
// event frame to it. Returns false if no such peer is currently
// connected; the caller decides whether that's worth logging.
func (r *Registry) PushEvent(id PeerID, payload []byte) bool {
	c, ok := r.Lookup(id)
	if !ok {
		return false
	}
	return c.PushEvent(payload) == nil
}

// CloseAll requests every currently-registered connection close. Used by
// server shutdown; each Connection removes itself from the registry as
// part of its own close path, so this only needs a point-in-time list.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// Stats returns current registry counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Active:        len(r.conns),
		TotalAccepted: r.totalAccepted,
		TotalClosed:   r.totalClosed,
	}
}
