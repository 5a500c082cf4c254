// Package zone tracks which remote zone the client currently addresses.
package zone

import (
	"sync"

	"github.com/systmms/vaultsync/pkg/vault"
)

// Registry holds the current zone. Exactly one zone is current at a time; it
// starts at the unified zone.
type Registry struct {
	mu      sync.RWMutex
	owner   string
	current vault.ZoneID
}

// NewRegistry returns a registry for owner pointing at the unified zone.
func NewRegistry(owner string) *Registry {
	if owner == "" {
		owner = vault.DefaultOwner
	}
	return &Registry{
		owner:   owner,
		current: vault.ZoneID{Name: vault.UnifiedZone, Owner: owner},
	}
}

// Owner returns the account the registry's zones belong to.
func (r *Registry) Owner() string {
	return r.owner
}

// CurrentZone returns the zone sync passes run against.
func (r *Registry) CurrentZone() vault.ZoneID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// SetCurrentZone points the registry at the zone called name.
func (r *Registry) SetCurrentZone(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = vault.ZoneID{Name: name, Owner: r.owner}
}

// Zone returns the zone called name for the registry's owner.
func (r *Registry) Zone(name string) vault.ZoneID {
	return vault.ZoneID{Name: name, Owner: r.owner}
}
