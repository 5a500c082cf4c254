// Package state persists the small amount of sync state that must survive
// process restarts: the migrated-to-unified flag, the pending rotation latch,
// the active encryption scheme and a history of sync cycles.
package state

import (
	"time"

	"github.com/systmms/vaultsync/pkg/vault"
)

// Snapshot is the persisted flag set.
type Snapshot struct {
	MigratedToV3     bool                 `json:"migrated_to_v3"`
	RotationRequired bool                 `json:"rotation_required"`
	Encryption       vault.EncryptionType `json:"encryption"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// Cycle results recorded in history.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// HistoryEntry describes one sync cycle.
type HistoryEntry struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Zone      string        `json:"zone"`
	Result    string        `json:"result"`
	Passes    int           `json:"passes"`
	Pushed    int           `json:"pushed"`
	Pulled    int           `json:"pulled"`
	Deleted   int           `json:"deleted"`
	Rotated   bool          `json:"rotated,omitempty"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}
