package chat

import (
	"errors"
	"sort"
	"sync"

	"github.com/ledzpl/tcpchat/internal/observe"
)

var (
	// ErrServerFull is returned by Add when the registry is at its client limit.
	ErrServerFull = errors.New("chat: server is full")
	// ErrAlreadyRegistered is returned by Add for a connection that already has a record.
	ErrAlreadyRegistered = errors.New("chat: connection already registered")
)

// Registry is the set of handshake-completed clients, keyed by connection. All
// mutation and snapshotting go through one mutex.
type Registry struct {
	mu      sync.Mutex
	clients map[*clientConn]*Client
	limit   int
}

// NewRegistry constructs an empty registry. A limit of 0 or less means unbounded.
func NewRegistry(limit int) *Registry {
	if limit < 0 {
		limit = 0
	}
	return &Registry{
		clients: make(map[*clientConn]*Client),
		limit:   limit,
	}
}

// Add inserts c. The caller owns the matching Remove.
func (r *Registry) Add(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c.conn]; ok {
		return ErrAlreadyRegistered
	}
	if r.limit > 0 && len(r.clients) >= r.limit {
		return ErrServerFull
	}
	r.clients[c.conn] = c
	observe.AddOnline(1)
	return nil
}

// Remove deletes c and reports whether this call removed it. Exactly one of any
// number of concurrent Remove calls for the same client returns true.
func (r *Registry) Remove(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.clients[c.conn]
	if !ok || existing != c {
		return false
	}
	delete(r.clients, c.conn)
	observe.AddOnline(-1)
	return true
}

// Contains reports whether c is currently registered.
func (r *Registry) Contains(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients[c.conn] == c
}

// Snapshot returns the registered clients at this instant.
func (r *Registry) Snapshot() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Full reports whether Add would fail with ErrServerFull.
func (r *Registry) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limit > 0 && len(r.clients) >= r.limit
}

// Nicknames returns the sorted nicknames of registered clients.
func (r *Registry) Nicknames() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.clients))
	for _, c := range r.clients {
		names = append(names, c.Nickname)
	}
	r.mu.Unlock()

	sort.Strings(names)
	return names
}
