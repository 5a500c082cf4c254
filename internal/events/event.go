// Package events delivers sync lifecycle signals to observers.
//
// Producers emit through the Emitter interface and never block. Observers
// registered on a Bus are invoked from a single worker goroutine, in emission
// order, so they never run concurrently with each other.
package events

import (
	"time"

	"github.com/systmms/vaultsync/pkg/vault"
)

// Type identifies a sync lifecycle signal.
type Type string

const (
	// MigrationStarted is emitted when a legacy zone starts migrating.
	MigrationStarted Type = "migration_started"

	// FirstStart is emitted when this device begins migrating a legacy
	// vault.
	FirstStart Type = "first_start"

	// MigrationFinished is emitted when a migration pass completed.
	MigrationFinished Type = "migration_finished"

	// VaultMigrated is the application-wide notice that the vault now lives
	// in the unified generation.
	VaultMigrated Type = "vault_migrated"

	// RotationStarted is emitted when credential re-encryption begins.
	RotationStarted Type = "rotation_started"

	// RotationFinished is emitted when a re-encryption batch was committed.
	RotationFinished Type = "rotation_finished"

	// SecretError is emitted for a service that cannot be synced.
	SecretError Type = "secret_error"

	// ClearLegacyState asks holders of legacy-zone metadata to drop it.
	ClearLegacyState Type = "clear_legacy_state"

	// ServicesUpdated is emitted when services were edited locally.
	ServicesUpdated Type = "services_updated"

	// SectionsUpdated is emitted when sections were edited locally.
	SectionsUpdated Type = "sections_updated"
)

// AllTypes returns every signal type.
func AllTypes() []Type {
	return []Type{
		MigrationStarted,
		FirstStart,
		MigrationFinished,
		VaultMigrated,
		RotationStarted,
		RotationFinished,
		SecretError,
		ClearLegacyState,
		ServicesUpdated,
		SectionsUpdated,
	}
}

// Event is a single signal.
type Event struct {
	Type Type

	// Zone is set for migration and rotation signals.
	Zone vault.ZoneID

	// DisplayName is set for SecretError. It is the service's display
	// name, never its secret.
	DisplayName string

	Timestamp time.Time
}

// New returns an event of type t stamped with the current time.
func New(t Type) Event {
	return Event{Type: t, Timestamp: time.Now()}
}

// Emitter is the producer side of the bus.
type Emitter interface {
	Emit(Event)
}

// Handler consumes events on the bus worker.
type Handler func(Event)

// Nop is an Emitter that discards everything.
type Nop struct{}

// Emit discards e.
func (Nop) Emit(Event) {}
