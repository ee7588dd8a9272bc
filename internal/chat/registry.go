package chat

import (
	"sort"
	"sync"
)

// Registry maps an identity to its one live connection.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]*Client{}}
}

// Anonymous reports whether identity must be kept out of the registry.
func Anonymous(identity string) bool {
	switch identity {
	case "", "undefined", "null":
		return true
	}
	return false
}

// Connect stores c for identity, replacing any previous connection
// (last connect wins). Anonymous identities are rejected.
func (r *Registry) Connect(identity string, c *Client) bool {
	if Anonymous(identity) || c == nil {
		return false
	}
	r.mu.Lock()
	r.entries[identity] = c
	r.mu.Unlock()
	return true
}

// Disconnect removes identity only while c is still the stored connection,
// so a late disconnect of an old socket cannot evict a newer one.
func (r *Registry) Disconnect(identity string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[identity]; ok && cur == c {
		delete(r.entries, identity)
		return true
	}
	return false
}

func (r *Registry) Lookup(identity string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.entries[identity]
	return c, ok
}

// Identities returns the online identities, sorted.
func (r *Registry) Identities() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.entries))
	for id := range r.entries {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
