package sync

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/vaultsync/internal/encryption"
	vserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/events"
	"github.com/systmms/vaultsync/internal/localstore"
	"github.com/systmms/vaultsync/internal/remote"
	"github.com/systmms/vaultsync/internal/secure"
	"github.com/systmms/vaultsync/internal/state"
	"github.com/systmms/vaultsync/internal/sync/migration"
	"github.com/systmms/vaultsync/internal/sync/reencrypt"
	"github.com/systmms/vaultsync/pkg/vault"
)

const secretA = "JBSWY3DPEHPK3PXP"

var (
	legacyZone  = vault.NewZoneID(vault.ZoneV1)
	unifiedZone = vault.NewZoneID(vault.ZoneV2)
)

// device is one client sharing a remote store and system key with others.
type device struct {
	repo   *localstore.MemoryStore
	enc    *encryption.SyncEncryption
	state  *state.FileStore
	events *events.Recorder
	editor *localstore.Editor
	syncer *Syncer
}

func newDevice(t *testing.T, store remote.Store) *device {
	t.Helper()
	key, err := secure.NewKey(bytes.Repeat([]byte{0x5a}, 32))
	require.NoError(t, err)
	enc, err := encryption.NewSyncEncryption(key, vault.DefaultOwner)
	require.NoError(t, err)
	st, err := state.Open(t.TempDir())
	require.NoError(t, err)

	d := &device{
		repo:   localstore.NewMemoryStore(),
		enc:    enc,
		state:  st,
		events: &events.Recorder{},
	}
	d.editor = localstore.NewEditor(d.repo, d.events)
	d.syncer = New(store, d.repo, enc, st, d.events, WithRetryAttempts(2))
	return d
}

func (d *device) sync(t *testing.T) Result {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, d.syncer.Bootstrap(ctx))
	result, err := d.syncer.RunCycle(ctx)
	require.NoError(t, err)
	return result
}

func fetch(t *testing.T, store remote.Store, zone vault.ZoneID) map[vault.RecordKind][]vault.Record {
	t.Helper()
	recs, err := store.Fetch(context.Background(), zone)
	require.NoError(t, err)
	out := make(map[vault.RecordKind][]vault.Record)
	for _, rec := range recs {
		out[rec.Kind()] = append(out[rec.Kind()], rec)
	}
	return out
}

func TestSyncer_FreshAccountPushesEverything(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := remote.NewMemoryStore()
	d := newDevice(t, store)

	sec, err := d.editor.AddSection(ctx, "Work")
	require.NoError(t, err)
	require.NoError(t, d.editor.AddService(ctx, vault.Service{Name: "GitHub", Secret: secretA, SectionID: sec.SectionID}))

	result := d.sync(t)
	assert.Equal(t, 3, result.Pushed)
	assert.Equal(t, migration.Migrated, d.syncer.MigrationState())
	assert.True(t, d.state.MigratedToV3())

	remoteRecs := fetch(t, store, unifiedZone)
	assert.Len(t, remoteRecs[vault.KindSection], 1)
	assert.Len(t, remoteRecs[vault.KindServiceV3], 1)
	require.Len(t, remoteRecs[vault.KindInfo], 1)
	info, err := vault.InfoFromRecord(remoteRecs[vault.KindInfo][0])
	require.NoError(t, err)
	assert.Equal(t, int64(vault.CurrentInfoVersion), info.Version)

	again, err := d.syncer.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Pushed)
	assert.Zero(t, again.Deleted)
	assert.Equal(t, 1, store.ModifyCount(), "nothing to write on the second cycle")

	history, err := d.state.History(0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestSyncer_MigratesLegacyVault(t *testing.T) {
	t.Parallel()
	store := remote.NewMemoryStore()
	d := newDevice(t, store)

	legacySvc := vault.Service{Name: "Legacy", Secret: secretA, Period: 30}
	rec, err := encryption.NewServiceRecordHandler(d.enc).CreateServiceRecordV2(legacyZone, legacySvc, nil, nil)
	require.NoError(t, err)
	store.Put(rec)
	store.Put(vault.InfoRecord(legacyZone, vault.Info{Version: 1, Encryption: vault.EncryptionSystem}, nil))

	ctx := context.Background()
	require.NoError(t, d.syncer.Bootstrap(ctx))
	assert.Equal(t, migration.MigratingInProgress, d.syncer.MigrationState())
	assert.Equal(t, legacyZone, d.syncer.Zone())

	result, err := d.syncer.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Passes)
	assert.Equal(t, unifiedZone, result.Zone)
	assert.Equal(t, migration.Migrated, d.syncer.MigrationState())
	assert.True(t, d.state.MigratedToV3())

	assert.Equal(t, []events.Type{
		events.FirstStart,
		events.MigrationStarted,
		events.MigrationFinished,
		events.VaultMigrated,
	}, d.events.Types())

	unified := fetch(t, store, unifiedZone)
	require.Len(t, unified[vault.KindServiceV3], 1)
	assert.Equal(t, secretA, unified[vault.KindServiceV3][0].ID.Name)
	assert.Len(t, unified[vault.KindInfo], 1)

	legacy := fetch(t, store, legacyZone)
	assert.Len(t, legacy[vault.KindServiceV2], 1, "legacy zone is left untouched")

	got, ok, err := d.repo.Service(ctx, secretA)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Legacy", got.Value.Name)
	assert.Equal(t, unifiedZone, got.Metadata.Zone)
}

func TestSyncer_MigratesV2InfoFoundInLegacyZone(t *testing.T) {
	t.Parallel()
	store := remote.NewMemoryStore()
	d := newDevice(t, store)

	rec, err := encryption.NewServiceRecordHandler(d.enc).CreateServiceRecordV2(legacyZone, vault.Service{Name: "Legacy", Secret: secretA}, nil, nil)
	require.NoError(t, err)
	store.Put(rec)
	store.Put(vault.InfoRecord(legacyZone, vault.Info{Version: 2}, nil))

	result := d.sync(t)
	assert.Equal(t, 2, result.Passes)
	assert.Equal(t, unifiedZone, result.Zone)
	assert.True(t, d.state.MigratedToV3())

	got, ok, err := d.repo.Service(context.Background(), secretA)
	require.NoError(t, err)
	require.True(t, ok, "legacy service is pulled before the unified pass")
	assert.Equal(t, "Legacy", got.Value.Name)
	assert.Len(t, fetch(t, store, unifiedZone)[vault.KindServiceV3], 1)
}

func TestSyncer_ConvertsV2RecordsInUnifiedZone(t *testing.T) {
	t.Parallel()
	store := remote.NewMemoryStore()
	d := newDevice(t, store)

	rec, err := encryption.NewServiceRecordHandler(d.enc).CreateServiceRecordV2(unifiedZone, vault.Service{Name: "Old", Secret: secretA}, nil, nil)
	require.NoError(t, err)
	store.Put(rec)
	store.Put(vault.InfoRecord(unifiedZone, vault.Info{Version: 2}, nil))

	result := d.sync(t)
	assert.Equal(t, 1, result.Passes)
	assert.Equal(t, migration.Migrated, d.syncer.MigrationState())

	unified := fetch(t, store, unifiedZone)
	assert.Empty(t, unified[vault.KindServiceV2], "legacy records are replaced")
	assert.Len(t, unified[vault.KindServiceV3], 1)
}

func TestSyncer_PropagatesEditsBetweenDevices(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := remote.NewMemoryStore()
	a := newDevice(t, store)
	b := newDevice(t, store)

	require.NoError(t, a.editor.AddService(ctx, vault.Service{Name: "GitHub", Secret: secretA}))
	a.sync(t)

	b.sync(t)
	got, ok, err := b.repo.Service(ctx, secretA)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "GitHub", got.Value.Name)

	require.NoError(t, b.editor.RemoveService(ctx, secretA))
	result, err := b.syncer.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	pending, err := b.repo.PendingDeletions(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = a.syncer.RunCycle(ctx)
	require.NoError(t, err)
	_, ok, err = a.repo.Service(ctx, secretA)
	require.NoError(t, err)
	assert.False(t, ok, "remote deletion reaches the other device")
}

func TestSyncer_TombstoneIsNotPulledBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := remote.NewMemoryStore()
	d := newDevice(t, store)

	require.NoError(t, d.editor.AddService(ctx, vault.Service{Name: "GitHub", Secret: secretA}))
	d.sync(t)

	// Another device rewrote the record after this device removed it.
	require.NoError(t, d.editor.RemoveService(ctx, secretA))
	current := fetch(t, store, unifiedZone)[vault.KindServiceV3][0]
	store.Put(current)

	_, err := d.syncer.RunCycle(ctx)
	require.NoError(t, err)

	_, ok, err := d.repo.Service(ctx, secretA)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, fetch(t, store, unifiedZone)[vault.KindServiceV3])
}

func TestSyncer_RetriesConflicts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := remote.NewMemoryStore()
	d := newDevice(t, store)

	require.NoError(t, d.editor.AddService(ctx, vault.Service{Name: "GitHub", Secret: secretA}))
	require.NoError(t, d.syncer.Bootstrap(ctx))
	store.FailNextModify(vserrors.ErrConflict)

	result, err := d.syncer.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Passes)
	assert.Len(t, fetch(t, store, unifiedZone)[vault.KindServiceV3], 1)
}

func TestSyncer_FailedCycleIsRecorded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := remote.NewMemoryStore()
	d := newDevice(t, store)

	require.NoError(t, d.syncer.Bootstrap(ctx))
	store.FailNextQuery(assert.AnError)

	_, err := d.syncer.RunCycle(ctx)
	require.ErrorIs(t, err, assert.AnError)

	history, err := d.state.History(1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, state.ResultFailed, history[0].Result)
}

func TestSyncer_RejectsOverlappingCycles(t *testing.T) {
	t.Parallel()
	d := newDevice(t, remote.NewMemoryStore())

	d.syncer.mu.Lock()
	_, err := d.syncer.RunCycle(context.Background())
	d.syncer.mu.Unlock()

	assert.ErrorIs(t, err, vserrors.ErrSyncInProgress)
}

func TestSyncer_ProbeFailureFallsBackToUnifiedZone(t *testing.T) {
	t.Parallel()
	store := remote.NewMemoryStore()
	d := newDevice(t, store)

	store.FailNextQuery(assert.AnError)
	require.NoError(t, d.syncer.Bootstrap(context.Background()))
	assert.Equal(t, unifiedZone, d.syncer.Zone())
	assert.False(t, d.state.MigratedToV3())
	assert.Equal(t, 1, d.events.Count(events.ClearLegacyState))
}

func TestSyncer_ClearLegacyStateDropsMetadata(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := remote.NewMemoryStore()
	d := newDevice(t, store)

	store.Put(vault.InfoRecord(unifiedZone, vault.Info{Version: vault.CurrentInfoVersion}, nil))
	stale := vault.Metadata{Zone: unifiedZone, Kind: vault.KindServiceV3, Tag: "from-another-life"}
	require.NoError(t, d.repo.SaveServices(ctx, []vault.Stored[vault.Service]{{Value: vault.Service{Name: "Kept", Secret: secretA}, Metadata: stale}}, nil))

	d.sync(t)
	assert.Equal(t, 1, d.events.Count(events.ClearLegacyState))

	got, ok, err := d.repo.Service(ctx, secretA)
	require.NoError(t, err)
	require.True(t, ok, "entity with metadata from before the reset is merged, not dropped")
	assert.NotEqual(t, stale.Tag, got.Metadata.Tag)
	assert.Len(t, fetch(t, store, unifiedZone)[vault.KindServiceV3], 1)
}

func TestSyncer_PasswordRotation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := remote.NewMemoryStore()
	a := newDevice(t, store)
	b := newDevice(t, store)

	require.NoError(t, a.editor.AddService(ctx, vault.Service{Name: "GitHub", Secret: secretA}))
	require.NoError(t, a.editor.AddService(ctx, vault.Service{Name: "Broken", Secret: "not valid"}))
	a.sync(t)
	b.sync(t)

	require.NoError(t, a.syncer.SetPassword(ctx, "correct horse"))
	assert.True(t, a.state.RotationRequired())
	assert.Equal(t, vault.EncryptionUser, a.state.Encryption())
	assert.Equal(t, reencrypt.Pending, a.syncer.RotationState())

	result, err := a.syncer.RunCycle(ctx)
	require.NoError(t, err)
	assert.True(t, result.Rotated)
	assert.Equal(t, reencrypt.Idle, a.syncer.RotationState())
	assert.False(t, a.state.RotationRequired())
	assert.False(t, a.enc.HasRetired())
	assert.Equal(t, 1, a.events.Count(events.RotationStarted))
	assert.Equal(t, 1, a.events.Count(events.RotationFinished))

	unified := fetch(t, store, unifiedZone)
	require.Len(t, unified[vault.KindServiceV3], 1)
	assert.Equal(t, a.enc.Reference(), unified[vault.KindServiceV3][0].Fields.Bytes(vault.FieldReference))
	info, err := vault.InfoFromRecord(unified[vault.KindInfo][0])
	require.NoError(t, err)
	assert.Equal(t, vault.EncryptionUser, info.Encryption)

	_, err = b.syncer.RunCycle(ctx)
	require.ErrorIs(t, err, vserrors.ErrPasswordRequired)

	require.NoError(t, b.enc.Unlock("correct horse"))
	_, err = b.syncer.RunCycle(ctx)
	require.NoError(t, err)
}

func TestSyncer_RotationReportsInvalidSecretOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newDevice(t, remote.NewMemoryStore())

	require.NoError(t, d.editor.AddService(ctx, vault.Service{Name: "GitHub", Secret: secretA}))
	require.NoError(t, d.editor.AddService(ctx, vault.Service{Name: "Broken", Secret: "not valid"}))
	d.sync(t)

	require.NoError(t, d.syncer.SetPassword(ctx, "correct horse"))
	before := d.events.Count(events.SecretError)

	result, err := d.syncer.RunCycle(ctx)
	require.NoError(t, err)
	assert.True(t, result.Rotated)
	assert.Equal(t, before+1, d.events.Count(events.SecretError))
}

func TestSyncer_FailedRotationWriteStaysPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := remote.NewMemoryStore()
	d := newDevice(t, store)

	require.NoError(t, d.editor.AddService(ctx, vault.Service{Name: "GitHub", Secret: secretA}))
	d.sync(t)
	require.NoError(t, d.syncer.SetPassword(ctx, "correct horse"))

	store.FailNextModify(assert.AnError)
	_, err := d.syncer.RunCycle(ctx)
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, reencrypt.Pending, d.syncer.RotationState())
	assert.True(t, d.state.RotationRequired())

	result, err := d.syncer.RunCycle(ctx)
	require.NoError(t, err)
	assert.True(t, result.Rotated)
	assert.Equal(t, reencrypt.Idle, d.syncer.RotationState())
	assert.False(t, d.state.RotationRequired())

	unified := fetch(t, store, unifiedZone)
	require.Len(t, unified[vault.KindServiceV3], 1)
	assert.Equal(t, d.enc.Reference(), unified[vault.KindServiceV3][0].Fields.Bytes(vault.FieldReference))
}

func TestSyncer_PasswordPreconditions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newDevice(t, remote.NewMemoryStore())

	assert.Error(t, d.syncer.ChangePassword(ctx, "x"))
	assert.Error(t, d.syncer.RemovePassword(ctx))

	require.NoError(t, d.syncer.SetPassword(ctx, "first"))
	assert.Error(t, d.syncer.SetPassword(ctx, "again"))
	require.NoError(t, d.syncer.ChangePassword(ctx, "second"))
	require.NoError(t, d.syncer.RemovePassword(ctx))
	assert.Equal(t, vault.EncryptionSystem, d.state.Encryption())
	assert.True(t, d.state.RotationRequired())
}

func TestDebouncer_CoalescesBursts(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	d := newDebouncer(30*time.Millisecond, func() { runs.Add(1) })
	for i := 0; i < 5; i++ {
		d.Trigger()
		time.Sleep(5 * time.Millisecond)
	}

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())

	d.Stop()
	d.Trigger()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestSyncer_ObserverSyncsAfterEdits(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := remote.NewMemoryStore()
	d := newDevice(t, store)
	d.syncer.debounce = 50 * time.Millisecond
	require.NoError(t, d.syncer.Bootstrap(ctx))

	bus := events.NewBus(0, nil)
	bus.Start(ctx)
	defer bus.Stop()

	// Starting twice leaves a single subscription.
	d.syncer.StartObserver(ctx, bus)
	d.syncer.StartObserver(ctx, bus)
	defer d.syncer.StopObserver()

	editor := localstore.NewEditor(d.repo, bus)
	require.NoError(t, editor.AddService(ctx, vault.Service{Name: "GitHub", Secret: secretA}))
	require.NoError(t, editor.AddService(ctx, vault.Service{Name: "GitLab", Secret: "GEZDGNBVGY3TQOJQ"}))

	assert.Eventually(t, func() bool {
		recs, err := store.Fetch(ctx, unifiedZone)
		return err == nil && len(recs) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return store.ModifyCount() == 1 }, time.Second, 10*time.Millisecond)
}
