// Package partner tracks remote endpoints by their stable PartnerID and decides,
// per inbound request, how a partner's configured ServiceMode affects delivery.
//
// A partner moves from Unknown to Registered on its first handshake (or on the
// first administrative SetMode naming it) and stays Registered for the lifetime
// of the process: a reconnect only swaps the live connection, keeping the mode.
package partner

import (
	"net"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Entry is a point-in-time copy of a partner's registry state.
type Entry struct {
	ID          string
	Mode        ServiceMode
	Connected   bool
	RemoteAddr  string
	Connects    int       // handshakes seen under this id
	LastConnect time.Time // zero if the partner never connected
}

type entry struct {
	mode        ServiceMode
	conn        net.Conn
	connects    int
	lastConnect time.Time
}

// Registry is the only state shared across connection goroutines; all access
// goes through its mutex.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// lookup returns the entry for id, creating it in RELIABLE mode if unseen.
// Callers hold r.mu.
func (r *Registry) lookup(id string) *entry {
	e, ok := r.entries[id]
	if !ok {
		e = &entry{mode: Reliable}
		r.entries[id] = e
	}
	return e
}

// Attach makes conn the live connection of partner id, registering the partner
// on first sight. The mode is preserved across reconnects. The connection it
// replaces, if any and still set, is returned so the caller can close it.
func (r *Registry) Attach(id string, conn net.Conn) (previous net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.lookup(id)
	previous = e.conn
	if previous == conn {
		previous = nil
	}
	e.conn = conn
	e.connects++
	e.lastConnect = r.now()
	return previous
}

// Detach clears the live connection of partner id, but only if it is still conn:
// a connection that was already superseded by a reconnect must not clear its successor.
func (r *Registry) Detach(id string, conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok && e.conn == conn {
		e.conn = nil
	}
}

// SetMode changes the service mode of partner id, creating the entry if unseen.
// It applies to requests read after the call returns. An unknown mode is rejected
// and leaves the registry untouched.
func (r *Registry) SetMode(id string, mode ServiceMode) error {
	if !mode.Valid() {
		return errors.Errorf("partner: invalid service mode %d", int(mode))
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lookup(id).mode = mode
	return nil
}

// Mode returns the current mode of partner id; unknown partners are RELIABLE.
func (r *Registry) Mode(id string) ServiceMode {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok {
		return e.mode
	}
	return Reliable
}

func (r *Registry) Lookup(id string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return e.snapshot(id), true
}

// Snapshot returns all known partners ordered by id.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for id, e := range r.entries {
		out = append(out, e.snapshot(id))
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CloseAll closes every live connection and returns how many were closed.
// Entries and modes are kept.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	conns := make([]net.Conn, 0, len(r.entries))
	for _, e := range r.entries {
		if e.conn != nil {
			conns = append(conns, e.conn)
		}
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	return len(conns)
}

func (e *entry) snapshot(id string) Entry {
	s := Entry{
		ID:          id,
		Mode:        e.mode,
		Connected:   e.conn != nil,
		Connects:    e.connects,
		LastConnect: e.lastConnect,
	}
	if e.conn != nil && e.conn.RemoteAddr() != nil {
		s.RemoteAddr = e.conn.RemoteAddr().String()
	}
	return s
}
