// Package directory is the authoritative node/domain registry. It answers
// which node a provider currently belongs to.
package directory

import (
	"sort"
	"sync"
)

// Resolver maps a provider to the node whose domain it belongs to.
type Resolver interface {
	ResolveDomain(providerUUID string) (nodeID string, ok bool)
}

// Directory is a thread-safe in-memory Resolver.
type Directory struct {
	mu      sync.RWMutex
	domains map[string]string // providerUUID → nodeID
}

// New creates an empty Directory.
func New() *Directory {
	return &Directory{domains: make(map[string]string)}
}

// Assign places providerUUID in nodeID's domain, replacing any prior assignment.
func (d *Directory) Assign(providerUUID, nodeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.domains[providerUUID] = nodeID
}

// Unassign removes the domain assignment of providerUUID.
func (d *Directory) Unassign(providerUUID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.domains, providerUUID)
}

// ResolveDomain implements Resolver.
func (d *Directory) ResolveDomain(providerUUID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	node, ok := d.domains[providerUUID]
	return node, ok
}

// Members returns the providers assigned to nodeID, sorted.
func (d *Directory) Members(nodeID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for p, n := range d.domains {
		if n == nodeID {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}
