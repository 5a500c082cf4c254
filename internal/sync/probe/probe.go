// Package probe discovers which vault generations exist remotely before any
// sync pass runs.
package probe

import (
	"context"
	"fmt"
	"sort"
	"time"

	vserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/logging"
	"github.com/systmms/vaultsync/internal/metrics"
	"github.com/systmms/vaultsync/internal/remote"
	"github.com/systmms/vaultsync/pkg/vault"
)

// DefaultLimit is the number of Info records a probe asks for.
const DefaultLimit = 2

// infoPredicate keeps stray objects of the Info kind out of the result; only
// the per-zone singleton says which generation a zone holds.
var infoPredicate = fmt.Sprintf("name == %q", vault.InfoRecordName)

// Result is the outcome of a probe: the generation found in each zone.
type Result struct {
	Zones map[vault.ZoneID]vault.Generation
}

// Generations returns the distinct generations found, oldest first.
func (r Result) Generations() []vault.Generation {
	seen := make(map[vault.Generation]bool)
	var out []vault.Generation
	for _, g := range r.Zones {
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports whether generation g was found.
func (r Result) Has(g vault.Generation) bool {
	for _, found := range r.Zones {
		if found == g {
			return true
		}
	}
	return false
}

// Empty reports whether no vault exists remotely.
func (r Result) Empty() bool {
	return len(r.Zones) == 0
}

// OldestLegacy returns the zone legacy data was found in and the oldest
// legacy generation there. A legacy vault in the legacy zone is preferred
// over one in the unified zone whatever its version.
func (r Result) OldestLegacy() (vault.ZoneID, vault.Generation, bool) {
	var (
		zone  vault.ZoneID
		gen   vault.Generation
		found bool
	)
	for z, g := range r.Zones {
		if !g.IsLegacy() {
			continue
		}
		switch {
		case !found:
		case z.IsLegacy() != zone.IsLegacy():
			if !z.IsLegacy() {
				continue
			}
		case g >= gen:
			continue
		}
		zone, gen, found = z, g, true
	}
	return zone, gen, found
}

// Probe queries Info records across every zone of an owner.
type Probe struct {
	store   remote.Store
	owner   string
	limit   int
	logger  *logging.Logger
	metrics *metrics.SyncMetrics
}

// Option configures a Probe.
type Option func(*Probe)

// WithLimit sets the result limit of the probe query.
func WithLimit(n int) Option {
	return func(p *Probe) {
		if n > 0 {
			p.limit = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Probe) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics records probe durations.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(p *Probe) {
		p.metrics = m
	}
}

// New creates a probe for owner's zones in store.
func New(store remote.Store, owner string, opts ...Option) *Probe {
	p := &Probe{
		store:  store,
		owner:  owner,
		limit:  DefaultLimit,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckForVaults returns the generations present remotely. Records that
// cannot be read are skipped; a failed query is returned as a ProbeError.
// An account without any Info record yields an empty result.
func (p *Probe) CheckForVaults(ctx context.Context) (Result, error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordProbe(time.Since(start).Seconds())
	}()

	result := Result{Zones: make(map[vault.ZoneID]vault.Generation)}
	q := remote.Query{
		Kind:      vault.KindInfo,
		Owner:     p.owner,
		Predicate: infoPredicate,
		Limit:     p.limit,
		Priority:  remote.PriorityVeryHigh,
	}
	err := p.store.Query(ctx, q, func(m remote.Match) error {
		if m.Err != nil {
			p.logger.Warn("Skipping unreadable info record %s: %v", m.ID, m.Err)
			return nil
		}
		info, err := vault.InfoFromRecord(m.Record)
		if err != nil {
			p.logger.Warn("Skipping info record %s: %v", m.ID, err)
			return nil
		}
		g := vault.GenerationFromVersion(info.Version)
		p.logger.Debug("Found %s vault in %s", g, m.ID.Zone)
		result.Zones[m.ID.Zone] = g
		return nil
	})
	if err != nil {
		return Result{}, vserrors.ProbeError{Err: err}
	}
	return result, nil
}
