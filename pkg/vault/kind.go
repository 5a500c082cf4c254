package vault

import "fmt"

// RecordKind is the schema tag of a remote record.
type RecordKind string

const (
	KindSection   RecordKind = "SectionRecord"
	KindServiceV2 RecordKind = "ServiceRecord2"
	KindServiceV3 RecordKind = "ServiceRecord3"
	KindInfo      RecordKind = "InfoRecord"
)

// AllKinds lists every record kind in commit order.
func AllKinds() []RecordKind {
	return []RecordKind{KindSection, KindServiceV2, KindServiceV3, KindInfo}
}

// ParseRecordKind converts a stored record type name back to a kind.
func ParseRecordKind(s string) (RecordKind, error) {
	for _, k := range AllKinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown record kind %q", s)
}

// Family groups record kinds that describe the same kind of entity.
type Family string

const (
	FamilySection Family = "section"
	FamilyService Family = "service"
	FamilyInfo    Family = "info"
)

// Family returns the entity family of the kind. ServiceRecord2 and
// ServiceRecord3 share a family.
func (k RecordKind) Family() Family {
	switch k {
	case KindSection:
		return FamilySection
	case KindServiceV2, KindServiceV3:
		return FamilyService
	default:
		return FamilyInfo
	}
}

// IsService reports whether the kind carries a credential.
func (k RecordKind) IsService() bool {
	return k.Family() == FamilyService
}

// Identity is the kind-independent natural key of an entity.
type Identity struct {
	Family Family
	Key    string
}

func (i Identity) String() string {
	return string(i.Family) + ":" + i.Key
}

// InfoIdentity is the identity of the per-zone Info singleton.
var InfoIdentity = Identity{Family: FamilyInfo, Key: InfoRecordName}

// EntityReference marks an entity for deletion. It carries no payload.
type EntityReference struct {
	EntityID string
	Kind     RecordKind
}

// Identity returns the natural key the reference points at.
func (r EntityReference) Identity() Identity {
	if r.Kind == KindInfo {
		return InfoIdentity
	}
	return Identity{Family: r.Kind.Family(), Key: r.EntityID}
}

// RecordID returns the record the reference maps to in zone. Services are
// addressed with the service kind the zone is written in.
func (r EntityReference) RecordID(zone ZoneID) RecordID {
	switch r.Kind.Family() {
	case FamilyInfo:
		return RecordID{Zone: zone, Kind: KindInfo, Name: InfoRecordName}
	case FamilyService:
		return RecordID{Zone: zone, Kind: zone.ServiceKind(), Name: r.EntityID}
	default:
		return RecordID{Zone: zone, Kind: r.Kind, Name: r.EntityID}
	}
}
