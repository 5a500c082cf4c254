package localstore

import (
	"context"

	"github.com/systmms/vaultsync/internal/config"
)

// Open returns the repository selected by cfg.Driver.
func Open(ctx context.Context, cfg config.LocalConfig) (Repository, error) {
	if cfg.Driver == "memory" {
		return NewMemoryStore(), nil
	}
	return OpenSQL(ctx, cfg.Driver, cfg.DSN)
}
