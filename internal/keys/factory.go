package keys

import (
	"context"
	"fmt"

	"github.com/systmms/vaultsync/internal/config"
)

// NewSource builds the system key source selected in cfg.
func NewSource(ctx context.Context, cfg config.SystemKeyConfig) (Source, error) {
	switch cfg.Source {
	case "keyring", "":
		return NewKeyringSource(cfg.Service, cfg.Account), nil
	case "aws-secretsmanager":
		return NewSecretsManagerSource(ctx, cfg.SecretID, cfg.Region, cfg.Endpoint)
	case "static":
		return NewStaticSource(cfg.Key, cfg.KeyEnv), nil
	default:
		return nil, fmt.Errorf("unknown system key source %q", cfg.Source)
	}
}
