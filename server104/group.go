package server104

import (
	"fmt"
	"sync"
)

// redundancyGroup (the data model's RedundancyGroup entity) partitions
// a known set of peer IPs and exclusively activates at most one
// connection at a time (spec.md invariant P5).
type redundancyGroup struct {
	name  string
	allow map[string]bool

	mu      sync.Mutex
	active  *Conn
	freedCh chan struct{}
}

func newRedundancyGroup(cfg GroupConfig) (*redundancyGroup, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server104: redundancy group must have a name")
	}
	if len(cfg.Allow) == 0 {
		return nil, fmt.Errorf("server104: redundancy group %q has an empty allow-list; true redundancy requires naming the member IPs", cfg.Name)
	}
	allow := make(map[string]bool, len(cfg.Allow))
	for _, ip := range cfg.Allow {
		allow[ip] = true
	}
	return &redundancyGroup{name: cfg.Name, allow: allow, freedCh: make(chan struct{})}, nil
}

// WaitFreed returns a channel that closes the next time the active
// slot is released, for a pending connection to retry TryActivate.
func (g *redundancyGroup) WaitFreed() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.freedCh
}

func (g *redundancyGroup) Contains(ip string) bool {
	return g.allow[ip]
}

// TryActivate grants the active slot to c if the group is currently
// unoccupied. It reports false if another connection already holds it.
func (g *redundancyGroup) TryActivate(c *Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active != nil && g.active != c {
		return false
	}
	g.active = c
	return true
}

// Deactivate releases the active slot if c currently holds it.
func (g *redundancyGroup) Deactivate(c *Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == c {
		g.active = nil
		close(g.freedCh)
		g.freedCh = make(chan struct{})
	}
}

// IsActive reports whether c currently holds the group's active slot.
func (g *redundancyGroup) IsActive(c *Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active == c
}
