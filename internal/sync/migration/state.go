package migration

import "fmt"

// State is the migration state of this device.
type State int

const (
	// NotMigrating is the initial state before the probe ran, and the
	// state kept after a failed probe.
	NotMigrating State = iota

	// AwaitingMigration means a legacy vault was found and a migration is
	// about to start.
	AwaitingMigration

	// MigratingInProgress means sync passes are walking the legacy zones
	// towards the unified zone.
	MigratingInProgress

	// Migrated means this device syncs against the unified zone only.
	Migrated
)

func (s State) String() string {
	switch s {
	case NotMigrating:
		return "not_migrating"
	case AwaitingMigration:
		return "awaiting_migration"
	case MigratingInProgress:
		return "migrating"
	case Migrated:
		return "migrated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// AllStates lists every state, for metrics.
func AllStates() []State {
	return []State{NotMigrating, AwaitingMigration, MigratingInProgress, Migrated}
}

// ValidTransitions lists the states reachable from each state.
var ValidTransitions = map[State][]State{
	NotMigrating:        {AwaitingMigration, Migrated},
	AwaitingMigration:   {MigratingInProgress},
	MigratingInProgress: {Migrated},
	Migrated:            {},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
