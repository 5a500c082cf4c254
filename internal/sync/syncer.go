// Package sync orchestrates sync cycles between the local repository and the
// remote record store.
//
// A Syncer owns every sync component and serializes their use: at most one
// pass runs at a time, and the migration and rotation state machines are only
// advanced between passes.
package sync

import (
	"context"
	"errors"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/systmms/vaultsync/internal/encryption"
	vserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/events"
	"github.com/systmms/vaultsync/internal/localstore"
	"github.com/systmms/vaultsync/internal/logging"
	"github.com/systmms/vaultsync/internal/metrics"
	"github.com/systmms/vaultsync/internal/remote"
	"github.com/systmms/vaultsync/internal/state"
	"github.com/systmms/vaultsync/internal/sync/migration"
	"github.com/systmms/vaultsync/internal/sync/probe"
	"github.com/systmms/vaultsync/internal/sync/reconcile"
	"github.com/systmms/vaultsync/internal/sync/reencrypt"
	"github.com/systmms/vaultsync/internal/sync/zone"
	"github.com/systmms/vaultsync/pkg/vault"
)

const (
	// DefaultDebounce is the quiet window after a local edit before a cycle
	// starts.
	DefaultDebounce = 5 * time.Second

	// DefaultRetryAttempts is how often a pass is tried when it fails with
	// a retryable error.
	DefaultRetryAttempts = 3
)

// StateStore persists the flags that survive restarts, plus cycle history.
type StateStore interface {
	MigratedToV3() bool
	SetMigratedToV3(v bool) error
	RotationRequired() bool
	SetRotationRequired(v bool) error
	Encryption() vault.EncryptionType
	SetEncryption(t vault.EncryptionType) error
	SaveHistory(entry *state.HistoryEntry) error
}

// Result summarizes one cycle.
type Result struct {
	Zone    vault.ZoneID
	Passes  int
	Pushed  int
	Pulled  int
	Deleted int
	Rotated bool
}

// Syncer runs sync cycles.
type Syncer struct {
	store    remote.Store
	repo     localstore.Repository
	enc      *encryption.SyncEncryption
	state    StateStore
	events   events.Emitter
	logger   *logging.Logger
	metrics  *metrics.SyncMetrics
	owner    string
	limit    int
	retries  int
	debounce time.Duration

	registry  *zone.Registry
	prober    *probe.Probe
	migration *migration.Coordinator
	engine    *reconcile.Engine
	rotation  *reencrypt.Coordinator

	// mu is held for the duration of a cycle or a key change.
	mu          gosync.Mutex
	clearLegacy atomic.Bool

	observerMu  gosync.Mutex
	unsubscribe func()
	debouncer   *debouncer
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Syncer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics enables instrumentation of every component.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(s *Syncer) {
		s.metrics = m
	}
}

// WithOwner scopes zones to owner.
func WithOwner(owner string) Option {
	return func(s *Syncer) {
		s.owner = owner
	}
}

// WithProbeLimit sets the result limit of the version probe.
func WithProbeLimit(n int) Option {
	return func(s *Syncer) {
		s.limit = n
	}
}

// WithRetryAttempts sets how often a retryable pass is attempted.
func WithRetryAttempts(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.retries = n
		}
	}
}

// WithDebounce sets the observer's quiet window.
func WithDebounce(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// New wires the sync components around store, repo and enc.
func New(store remote.Store, repo localstore.Repository, enc *encryption.SyncEncryption, st StateStore, emitter events.Emitter, opts ...Option) *Syncer {
	if emitter == nil {
		emitter = events.Nop{}
	}
	s := &Syncer{
		store:    store,
		repo:     repo,
		enc:      enc,
		state:    st,
		logger:   logging.Discard(),
		owner:    vault.DefaultOwner,
		retries:  DefaultRetryAttempts,
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.events = legacyInterceptor{next: emitter, flag: &s.clearLegacy}

	s.registry = zone.NewRegistry(s.owner)
	s.prober = probe.New(store, s.registry.Owner(),
		probe.WithLimit(s.limit),
		probe.WithLogger(s.logger.Named("probe")),
		probe.WithMetrics(s.metrics),
	)
	s.migration = migration.NewCoordinator(s.registry, s.prober, st, s.events,
		migration.WithLogger(s.logger.Named("migration")),
		migration.WithMetrics(s.metrics),
	)
	s.engine = reconcile.NewEngine(repo, encryption.NewServiceRecordHandler(enc), enc, s.events,
		reconcile.WithLogger(s.logger.Named("reconcile")),
		reconcile.WithMetrics(s.metrics),
	)
	s.rotation = reencrypt.NewCoordinator(st, s.engine, s.events,
		reencrypt.WithLogger(s.logger.Named("rotation")),
		reencrypt.WithMetrics(s.metrics),
		reencrypt.WithCompletion(s.rotationFinished),
	)
	return s
}

// legacyInterceptor notes ClearLegacyState so the next pass drops the
// locally held metadata, then forwards every event.
type legacyInterceptor struct {
	next events.Emitter
	flag *atomic.Bool
}

func (l legacyInterceptor) Emit(e events.Event) {
	if e.Type == events.ClearLegacyState {
		l.flag.Store(true)
	}
	l.next.Emit(e)
}

func (s *Syncer) rotationFinished() {
	if err := s.state.SetRotationRequired(false); err != nil {
		s.logger.Warn("Failed to clear rotation flag: %v", err)
	}
	s.enc.DropRetired()
	s.logger.Info("Credential re-encryption finished")
}

// Zone returns the zone passes currently run against.
func (s *Syncer) Zone() vault.ZoneID {
	return s.registry.CurrentZone()
}

// MigrationState returns the migration state.
func (s *Syncer) MigrationState() migration.State {
	return s.migration.State()
}

// RotationState returns the rotation state.
func (s *Syncer) RotationState() reencrypt.State {
	return s.rotation.State()
}

// Engine returns the reconciliation engine.
func (s *Syncer) Engine() *reconcile.Engine {
	return s.engine
}

// Probe runs the version probe without touching any state.
func (s *Syncer) Probe(ctx context.Context) (probe.Result, error) {
	return s.prober.CheckForVaults(ctx)
}

// Bootstrap decides which zone to sync against. A failed probe is not
// fatal: the unified zone is used and the probe is retried on the next
// bootstrap.
func (s *Syncer) Bootstrap(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rotation.Reset()
	if err := s.migration.CheckIfMigrationNeeded(ctx); err != nil {
		var probeErr vserrors.ProbeError
		if errors.As(err, &probeErr) {
			s.logger.Warn("Could not determine vault version, using %s: %v", vault.UnifiedZone, err)
			return nil
		}
		return err
	}
	s.logger.Debug("Bootstrapped in zone %s (%s)", s.registry.CurrentZone(), s.migration.State())
	return nil
}

// RunCycle runs one sync cycle. While a migration moves to another zone,
// further passes run within the same cycle. ErrSyncInProgress is returned
// when another cycle is running.
func (s *Syncer) RunCycle(ctx context.Context) (Result, error) {
	if !s.mu.TryLock() {
		return Result{}, vserrors.ErrSyncInProgress
	}
	defer s.mu.Unlock()

	start := time.Now()
	var result Result
	err := s.runCycle(ctx, &result)
	s.record(result, err, time.Since(start))
	return result, err
}

func (s *Syncer) runCycle(ctx context.Context, result *Result) error {
	for {
		result.Zone = s.registry.CurrentZone()
		if err := s.passWithRetry(ctx, result); err != nil {
			return err
		}
		advanced, err := s.migration.MigrateIfNeeded()
		if err != nil {
			return err
		}
		if !advanced {
			break
		}
	}

	result.Rotated = s.rotation.State() == reencrypt.InProgress
	s.rotation.OnSyncSucceeded()
	return nil
}

func (s *Syncer) passWithRetry(ctx context.Context, result *Result) error {
	for attempt := 1; ; attempt++ {
		result.Passes++
		err := s.pass(ctx, result)
		if err == nil {
			return nil
		}
		if attempt >= s.retries || !vserrors.IsRetryable(err) || ctx.Err() != nil {
			return err
		}
		s.logger.Warn("Sync pass failed (attempt %d/%d), retrying: %v", attempt, s.retries, err)
	}
}

func (s *Syncer) record(result Result, err error, elapsed time.Duration) {
	entry := &state.HistoryEntry{
		Zone:     result.Zone.Name,
		Result:   state.ResultSuccess,
		Passes:   result.Passes,
		Pushed:   result.Pushed,
		Pulled:   result.Pulled,
		Deleted:  result.Deleted,
		Rotated:  result.Rotated,
		Duration: elapsed,
	}
	if err != nil {
		entry.Result = state.ResultFailed
		entry.Error = err.Error()
	}
	s.metrics.RecordCycle(result.Zone.Name, entry.Result, elapsed.Seconds())
	if saveErr := s.state.SaveHistory(entry); saveErr != nil {
		s.logger.Warn("Failed to save sync history: %v", saveErr)
	}
}
