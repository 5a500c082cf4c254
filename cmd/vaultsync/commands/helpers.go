package commands

import (
	"fmt"
	"sync"
	"time"

	"github.com/systmms/vaultsync/internal/events"
	"github.com/systmms/vaultsync/internal/logging"
)

// reportEvents logs lifecycle events the user should see. Local edit
// signals are left to the observer.
func reportEvents(logger *logging.Logger) events.Handler {
	return func(e events.Event) {
		switch e.Type {
		case events.SecretError:
			logger.Warn("Service %q was not synced: its secret cannot be stored remotely", e.DisplayName)
		case events.MigrationStarted:
			logger.Info("Migrating legacy vault in zone %s", e.Zone.Name)
		case events.VaultMigrated:
			logger.Info("Vault migrated to the current format")
		case events.RotationStarted:
			logger.Info("Re-encrypting credentials")
		case events.RotationFinished:
			logger.Info("Credentials re-encrypted")
		default:
			logger.Debug("event %s", e.Type)
		}
	}
}

// formatTimestamp renders t relative to now for recent times.
func formatTimestamp(t, now time.Time) string {
	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return formatUnit(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return formatUnit(int(diff.Hours()), "hour")
	default:
		return t.Format("2006-01-02 15:04")
	}
}

func formatUnit(n int, unit string) string {
	if n == 1 {
		return "1 " + unit + " ago"
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

// healthState is the outcome of the most recent cycle, served on /health.
type healthState struct {
	mu  sync.Mutex
	err error
}

func (h *healthState) set(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

func (h *healthState) check() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return fmt.Errorf("last sync failed: %w", h.err)
	}
	return nil
}
