package vault

import "fmt"

const (
	// ZoneV1 is the zone holding generation 1 vaults.
	ZoneV1 = "Vault1"

	// ZoneV2 is the zone holding generation 2 vaults and the unified
	// generation 3 vault.
	ZoneV2 = "Vault2"

	// UnifiedZone is the zone every migrated client ends up addressing.
	UnifiedZone = ZoneV2

	// DefaultOwner scopes zones to the signed-in account.
	DefaultOwner = "__defaultOwner__"
)

// Generation is a schema version of the synced credential format.
// Generations only move forward.
type Generation int

const (
	GenerationV1 Generation = iota + 1
	GenerationV2
	GenerationV3
)

// GenerationFromVersion maps the version field of an Info record to a
// generation. Anything other than 1 or 2 is treated as the unified generation.
func GenerationFromVersion(version int64) Generation {
	switch version {
	case 1:
		return GenerationV1
	case 2:
		return GenerationV2
	default:
		return GenerationV3
	}
}

// String returns the short generation name (v1, v2, v3).
func (g Generation) String() string {
	switch g {
	case GenerationV1, GenerationV2, GenerationV3:
		return fmt.Sprintf("v%d", int(g))
	default:
		return fmt.Sprintf("generation(%d)", int(g))
	}
}

// IsLegacy reports whether the generation predates the unified generation.
func (g Generation) IsLegacy() bool {
	return g == GenerationV1 || g == GenerationV2
}

// ZoneID names a partition of the remote record store.
type ZoneID struct {
	Name  string `json:"name"`
	Owner string `json:"owner"`
}

// NewZoneID returns the zone with the given name owned by the current account.
func NewZoneID(name string) ZoneID {
	return ZoneID{Name: name, Owner: DefaultOwner}
}

// IsLegacy reports whether the zone only ever holds pre-unified vaults.
func (z ZoneID) IsLegacy() bool {
	return z.Name == ZoneV1
}

// IsUnified reports whether the zone is the one shared by generations 2 and 3.
func (z ZoneID) IsUnified() bool {
	return z.Name == UnifiedZone
}

// ServiceKind returns the record kind services are written as in this zone.
func (z ZoneID) ServiceKind() RecordKind {
	if z.IsLegacy() {
		return KindServiceV2
	}
	return KindServiceV3
}

func (z ZoneID) String() string {
	return z.Owner + "/" + z.Name
}
