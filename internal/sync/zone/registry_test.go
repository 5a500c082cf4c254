package zone

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/systmms/vaultsync/pkg/vault"
)

func TestRegistry_StartsOnUnifiedZone(t *testing.T) {
	t.Parallel()

	r := NewRegistry("")
	assert.Equal(t, vault.NewZoneID(vault.UnifiedZone), r.CurrentZone())
	assert.Equal(t, vault.DefaultOwner, r.Owner())
}

func TestRegistry_SetCurrentZoneKeepsOwner(t *testing.T) {
	t.Parallel()

	r := NewRegistry("alice")
	r.SetCurrentZone(vault.ZoneV1)

	assert.Equal(t, vault.ZoneID{Name: vault.ZoneV1, Owner: "alice"}, r.CurrentZone())
	assert.True(t, r.CurrentZone().IsLegacy())
	assert.Equal(t, vault.ZoneID{Name: vault.ZoneV2, Owner: "alice"}, r.Zone(vault.ZoneV2))
}
