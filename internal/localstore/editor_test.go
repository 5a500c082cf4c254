package localstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/vaultsync/internal/events"
	"github.com/systmms/vaultsync/pkg/vault"
)

func TestEditor_AddServiceKeepsMetadataAndEmits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryStore()
	rec := &events.Recorder{}
	editor := NewEditor(repo, rec)

	md := vault.Metadata{Zone: vault.NewZoneID(vault.ZoneV2), Kind: vault.KindServiceV3, Tag: "t"}
	require.NoError(t, repo.SaveServices(ctx, []vault.Stored[vault.Service]{{Value: vault.Service{Secret: "S", Name: "old"}, Metadata: md}}, nil))

	require.NoError(t, editor.AddService(ctx, vault.Service{Secret: "S", Name: "new"}))

	got, ok, err := repo.Service(ctx, "S")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", got.Value.Name)
	assert.Equal(t, md, got.Metadata)
	assert.Equal(t, []events.Type{events.ServicesUpdated}, rec.Types())

	logs, err := repo.Logs(ctx, "S")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, ActionUpdated, logs[0].Action)
}

func TestEditor_AddServiceAppendsToSection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryStore()
	editor := NewEditor(repo, nil)

	sec, err := editor.AddSection(ctx, "Work")
	require.NoError(t, err)
	require.NoError(t, editor.AddService(ctx, vault.Service{Secret: "A", SectionID: sec.SectionID}))
	require.NoError(t, editor.AddService(ctx, vault.Service{Secret: "B", SectionID: sec.SectionID}))

	b, _, err := repo.Service(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, 1, b.Value.SectionOrder)

	err = editor.AddService(ctx, vault.Service{Secret: "C", SectionID: "nope"})
	assert.ErrorContains(t, err, "not found")
	assert.Error(t, editor.AddService(ctx, vault.Service{Name: "no secret"}))
}

func TestEditor_RemoveServiceRecordsPendingDeletion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryStore()
	rec := &events.Recorder{}
	editor := NewEditor(repo, rec)

	require.NoError(t, editor.AddService(ctx, vault.Service{Secret: "S"}))
	require.NoError(t, editor.RemoveService(ctx, "S"))

	_, ok, err := repo.Service(ctx, "S")
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err := repo.PendingDeletions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, vault.Identity{Family: vault.FamilyService, Key: "S"}, pending[0].Identity())

	logs, err := repo.Logs(ctx, "S")
	require.NoError(t, err)
	assert.Empty(t, logs)
	assert.Equal(t, 2, rec.Count(events.ServicesUpdated))

	// Re-adding cancels the pending deletion.
	require.NoError(t, editor.AddService(ctx, vault.Service{Secret: "S"}))
	pending, err = repo.PendingDeletions(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.Error(t, editor.RemoveService(ctx, "missing"))
}

func TestEditor_RemoveSectionUngroupsServices(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryStore()
	rec := &events.Recorder{}
	editor := NewEditor(repo, rec)

	sec, err := editor.AddSection(ctx, "Work")
	require.NoError(t, err)
	require.NoError(t, editor.AddService(ctx, vault.Service{Secret: "A", SectionID: sec.SectionID}))
	rec.Reset()

	require.NoError(t, editor.RemoveSection(ctx, sec.SectionID))

	a, _, err := repo.Service(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, a.Value.SectionID)
	assert.Equal(t, []events.Type{events.SectionsUpdated, events.ServicesUpdated}, rec.Types())

	pending, err := repo.PendingDeletions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, vault.KindSection, pending[0].Kind)

	_, err = editor.AddSection(ctx, "  ")
	assert.Error(t, err)
}
