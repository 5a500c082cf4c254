// Package migration decides whether this device must migrate a legacy vault
// to the unified generation and drives that migration through ordinary sync
// passes: first against the legacy zone, then against the unified zone.
package migration

import (
	"context"
	"fmt"
	"sync"

	"github.com/systmms/vaultsync/internal/events"
	"github.com/systmms/vaultsync/internal/logging"
	"github.com/systmms/vaultsync/internal/metrics"
	"github.com/systmms/vaultsync/internal/sync/probe"
	"github.com/systmms/vaultsync/internal/sync/zone"
	"github.com/systmms/vaultsync/pkg/vault"
)

// Prober discovers the remote vault generations.
type Prober interface {
	CheckForVaults(ctx context.Context) (probe.Result, error)
}

// FlagStore persists whether the unified generation is known to exist.
type FlagStore interface {
	MigratedToV3() bool
	SetMigratedToV3(v bool) error
}

// Coordinator is the migration state machine. Callers serialize its use with
// sync passes; the lock only protects readers such as status reporting.
type Coordinator struct {
	mu       sync.RWMutex
	state    State
	from     vault.Generation
	registry *zone.Registry
	prober   Prober
	flags    FlagStore
	events   events.Emitter
	logger   *logging.Logger
	metrics  *metrics.SyncMetrics
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics exports the state as a gauge.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// NewCoordinator creates the state machine. When flags records a completed
// migration the coordinator starts Migrated and points registry at the
// unified zone without probing.
func NewCoordinator(registry *zone.Registry, prober Prober, flags FlagStore, emitter events.Emitter, opts ...Option) *Coordinator {
	if emitter == nil {
		emitter = events.Nop{}
	}
	c := &Coordinator{
		state:    NotMigrating,
		registry: registry,
		prober:   prober,
		flags:    flags,
		events:   emitter,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if flags.MigratedToV3() {
		c.state = Migrated
		registry.SetCurrentZone(vault.UnifiedZone)
	}
	c.exportState()
	return c
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// From returns the generation being migrated from, if any.
func (c *Coordinator) From() (vault.Generation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.from, c.from != 0
}

// IsMigrating reports whether a migration is in progress.
func (c *Coordinator) IsMigrating() bool {
	return c.State() == MigratingInProgress
}

// IsMigratingInLegacyZone reports whether a migration is in progress and the
// next pass targets a legacy zone.
func (c *Coordinator) IsMigratingInLegacyZone() bool {
	return c.IsMigrating() && c.registry.CurrentZone().IsLegacy()
}

func (c *Coordinator) transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !CanTransition(c.state, to) {
		return fmt.Errorf("invalid migration transition %s -> %s", c.state, to)
	}
	c.logger.Debug("Migration state %s -> %s", c.state, to)
	c.state = to
	return nil
}

func (c *Coordinator) exportState() {
	all := make([]string, 0, len(AllStates()))
	for _, s := range AllStates() {
		all = append(all, s.String())
	}
	c.metrics.SetMigrationState(c.State().String(), all)
}

func (c *Coordinator) emit(t events.Type) {
	e := events.New(t)
	e.Zone = c.registry.CurrentZone()
	c.events.Emit(e)
}

// CheckIfMigrationNeeded runs once per bootstrap. It probes the remote store
// unless a completed migration is cached, and points the registry at the zone
// the next pass must use.
//
// A probe failure leaves the state NotMigrating, falls back to the unified
// zone and returns the ProbeError; the probe is retried on the next
// bootstrap.
func (c *Coordinator) CheckIfMigrationNeeded(ctx context.Context) error {
	defer c.exportState()

	if c.flags.MigratedToV3() {
		c.registry.SetCurrentZone(vault.UnifiedZone)
		c.mu.Lock()
		c.state = Migrated
		c.mu.Unlock()
		return nil
	}
	switch c.State() {
	case MigratingInProgress:
		return nil
	case Migrated:
		c.registry.SetCurrentZone(vault.UnifiedZone)
		return nil
	}

	result, err := c.prober.CheckForVaults(ctx)
	if err != nil {
		c.logger.Warn("Version probe failed, using the unified zone: %v", err)
		c.registry.SetCurrentZone(vault.UnifiedZone)
		c.emit(events.ClearLegacyState)
		return err
	}

	switch {
	case result.Has(vault.GenerationV3):
		c.logger.Info("Unified vault found")
		c.registry.SetCurrentZone(vault.UnifiedZone)
		if err := c.flags.SetMigratedToV3(true); err != nil {
			return fmt.Errorf("failed to persist migration flag: %w", err)
		}
		c.emit(events.ClearLegacyState)
		return c.transition(Migrated)

	case result.Empty():
		c.logger.Info("No remote vault found, starting on the unified zone")
		c.registry.SetCurrentZone(vault.UnifiedZone)
		if err := c.flags.SetMigratedToV3(true); err != nil {
			return fmt.Errorf("failed to persist migration flag: %w", err)
		}
		return c.transition(Migrated)

	default:
		legacy, from, _ := result.OldestLegacy()
		c.logger.Info("Legacy %s vault found in %s, migrating", from, legacy.Name)
		c.mu.Lock()
		c.from = from
		c.mu.Unlock()
		if err := c.transition(AwaitingMigration); err != nil {
			return err
		}
		c.registry.SetCurrentZone(legacy.Name)
		if err := c.transition(MigratingInProgress); err != nil {
			return err
		}
		c.emit(events.FirstStart)
		c.emit(events.MigrationStarted)
		return nil
	}
}

// MigrateIfNeeded is called after every successful pass. It returns true
// when the registry moved from a legacy zone to the unified zone and one more
// pass is required. Once a pass against the unified zone has completed the
// migration is finished and the result is persisted.
func (c *Coordinator) MigrateIfNeeded() (bool, error) {
	if !c.IsMigrating() {
		return false, nil
	}
	if c.registry.CurrentZone().IsLegacy() {
		c.registry.SetCurrentZone(vault.UnifiedZone)
		c.logger.Info("Legacy zone synced, continuing in %s", vault.UnifiedZone)
		return true, nil
	}

	if err := c.flags.SetMigratedToV3(true); err != nil {
		return false, fmt.Errorf("failed to persist migration flag: %w", err)
	}
	if err := c.transition(Migrated); err != nil {
		return false, err
	}
	c.exportState()
	c.logger.Info("Migration finished")
	c.emit(events.MigrationFinished)
	c.emit(events.VaultMigrated)
	return false, nil
}
