package remote

import (
	"context"
	"fmt"

	"github.com/systmms/vaultsync/internal/config"
	"github.com/systmms/vaultsync/internal/logging"
)

// New creates the store selected by cfg.Type.
func New(ctx context.Context, cfg config.RemoteConfig, logger *logging.Logger) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "s3":
		return NewS3Store(ctx, cfg, WithS3Logger(logger))
	default:
		return nil, fmt.Errorf("unsupported remote type %q", cfg.Type)
	}
}
