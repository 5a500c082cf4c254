package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/systmms/vaultsync/internal/config"
	"github.com/systmms/vaultsync/internal/encryption"
	vserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/events"
	"github.com/systmms/vaultsync/internal/keys"
	"github.com/systmms/vaultsync/internal/localstore"
	"github.com/systmms/vaultsync/internal/logging"
	"github.com/systmms/vaultsync/internal/metrics"
	"github.com/systmms/vaultsync/internal/remote"
	"github.com/systmms/vaultsync/internal/state"
	vsync "github.com/systmms/vaultsync/internal/sync"
	"github.com/systmms/vaultsync/pkg/vault"
)

// busQueueSize bounds the event queue of long running commands.
const busQueueSize = 256

// runtime holds the components a command works with.
type runtime struct {
	def    *config.Definition
	logger *logging.Logger
	state  *state.FileStore
	repo   localstore.Repository
	editor *localstore.Editor
	bus    *events.Bus

	// Set by openSync only.
	enc    *encryption.SyncEncryption
	syncer *vsync.Syncer
}

// openLocal loads the config and opens the state directory and the local
// repository. Local edits are published on the runtime's bus.
func openLocal(ctx context.Context, cfg *config.Config) (*runtime, error) {
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	def := cfg.Definition
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	st, err := state.Open(def.StateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open state directory: %w", err)
	}
	repo, err := localstore.Open(ctx, def.Local)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	bus := events.NewBus(busQueueSize, logger)
	return &runtime{
		def:    def,
		logger: logger,
		state:  st,
		repo:   repo,
		editor: localstore.NewEditor(repo, bus),
		bus:    bus,
	}, nil
}

// openSync opens everything openLocal does plus the remote store, the
// system key and the syncer. When the persisted scheme is user encryption
// the password is read from the configured environment variable.
func openSync(ctx context.Context, cfg *config.Config) (*runtime, error) {
	rt, err := openLocal(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := rt.connect(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) connect(ctx context.Context) error {
	def := rt.def

	store, err := remote.New(ctx, def.Remote, rt.logger.Named("remote"))
	if err != nil {
		return vserrors.RemoteStoreError(def.Remote.Type, "connect", err)
	}

	source, err := keys.NewSource(ctx, def.Encryption.SystemKey)
	if err != nil {
		return err
	}
	key, err := source.SystemKey(ctx)
	if err != nil {
		return vserrors.UserError{
			Message:    fmt.Sprintf("Failed to load the system key from %s", source.Name()),
			Details:    err.Error(),
			Suggestion: "Every device syncing one vault must use the same system key",
			Err:        fmt.Errorf("%w: %w", vserrors.ErrKeyUnavailable, err),
		}
	}
	enc, err := encryption.NewSyncEncryption(key, def.Owner)
	if err != nil {
		return err
	}

	if rt.state.Encryption() == vault.EncryptionUser {
		password := os.Getenv(def.Encryption.PasswordEnv)
		if password == "" {
			return vserrors.UserError{
				Message:    "This device syncs with a vault password",
				Suggestion: fmt.Sprintf("Export %s with the vault password", def.Encryption.PasswordEnv),
				Err:        vserrors.ErrPasswordRequired,
			}
		}
		if err := enc.Unlock(password); err != nil {
			return err
		}
	}

	var m *metrics.SyncMetrics
	if def.Metrics.Enabled {
		m = metrics.NewSyncMetrics()
	}

	rt.enc = enc
	rt.syncer = vsync.New(store, rt.repo, enc, rt.state, rt.bus,
		vsync.WithLogger(rt.logger.Named("sync")),
		vsync.WithMetrics(m),
		vsync.WithOwner(def.Owner),
		vsync.WithProbeLimit(def.Sync.ProbeLimit),
		vsync.WithRetryAttempts(def.Sync.RetryAttempts),
		vsync.WithDebounce(def.Sync.Debounce),
	)
	return nil
}

// Close releases the local repository and stops the bus.
func (rt *runtime) Close() {
	rt.bus.Stop()
	if err := rt.repo.Close(); err != nil {
		rt.logger.Warn("Failed to close local store: %v", err)
	}
}
