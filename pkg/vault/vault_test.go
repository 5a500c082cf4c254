package vault

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerationFromVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		version int64
		want    Generation
	}{
		{version: 1, want: GenerationV1},
		{version: 2, want: GenerationV2},
		{version: 3, want: GenerationV3},
		{version: 0, want: GenerationV3},
		{version: 42, want: GenerationV3},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, GenerationFromVersion(tt.version), "version %d", tt.version)
	}
}

func TestGeneration_IsLegacy(t *testing.T) {
	t.Parallel()

	assert.True(t, GenerationV1.IsLegacy())
	assert.True(t, GenerationV2.IsLegacy())
	assert.False(t, GenerationV3.IsLegacy())
}

func TestZoneID_ServiceKind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KindServiceV2, NewZoneID(ZoneV1).ServiceKind())
	assert.Equal(t, KindServiceV3, NewZoneID(ZoneV2).ServiceKind())
	assert.True(t, NewZoneID(ZoneV1).IsLegacy())
	assert.True(t, NewZoneID(ZoneV2).IsUnified())
}

func TestIsValidSecret(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		secret string
		want   bool
	}{
		{name: "base32", secret: "JBSWY3DPEHPK3PXP", want: true},
		{name: "padded", secret: "JBSWY3DPEHPK3PX=", want: true},
		{name: "lowercase", secret: "jbswy3dpehpk3pxp", want: true},
		{name: "empty", secret: "", want: false},
		{name: "whitespace", secret: "JBSW Y3DP", want: false},
		{name: "leading underscore", secret: "_JBSWY3DP", want: false},
		{name: "slash", secret: "abc/def", want: false},
		{name: "padding in middle", secret: "AB=CD", want: false},
		{name: "too long", secret: strings.Repeat("A", 256), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsValidSecret(tt.secret))
		})
	}
}

func TestIdentity_IgnoresServiceSchema(t *testing.T) {
	t.Parallel()

	zone := NewZoneID(ZoneV2)
	v2 := RecordID{Zone: zone, Kind: KindServiceV2, Name: "SECRET"}
	v3 := RecordID{Zone: zone, Kind: KindServiceV3, Name: "SECRET"}

	assert.Equal(t, v2.Identity(), v3.Identity())
	assert.Equal(t, Service{Secret: "SECRET"}.Identity(), v3.Identity())
	assert.NotEqual(t, Section{SectionID: "SECRET"}.Identity(), v3.Identity())
}

func TestEntityReference_RecordIDFollowsZone(t *testing.T) {
	t.Parallel()

	ref := EntityReference{EntityID: "SECRET", Kind: KindServiceV3}

	assert.Equal(t, KindServiceV2, ref.RecordID(NewZoneID(ZoneV1)).Kind)
	assert.Equal(t, KindServiceV3, ref.RecordID(NewZoneID(ZoneV2)).Kind)

	info := EntityReference{Kind: KindInfo}
	assert.Equal(t, InfoRecordName, info.RecordID(NewZoneID(ZoneV2)).Name)
}

func TestMetadata_Matches(t *testing.T) {
	t.Parallel()

	zone := NewZoneID(ZoneV2)
	id := RecordID{Zone: zone, Kind: KindServiceV3, Name: "S"}

	assert.True(t, Metadata{Zone: zone, Kind: KindServiceV3, Tag: "t1"}.Matches(id))
	assert.False(t, Metadata{Zone: zone, Kind: KindServiceV2, Tag: "t1"}.Matches(id))
	assert.False(t, Metadata{Zone: NewZoneID(ZoneV1), Kind: KindServiceV3, Tag: "t1"}.Matches(id))
	assert.False(t, Metadata{Zone: zone, Kind: KindServiceV3}.Matches(id))
}

func TestFields_KeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	f := NewFields()
	f.Set("b", "x")
	f.Set("a", 1)
	f.Set("b", "y")

	assert.Equal(t, []string{"b", "a"}, f.Keys())
	assert.Equal(t, "y", f.String("b"))
	assert.Equal(t, int64(1), f.Int("a"))

	other := NewFields()
	other.Set("a", 1)
	other.Set("b", "y")
	assert.False(t, f.Equal(other), "order is part of equality")
}

func TestSectionRecord_RoundTrip(t *testing.T) {
	t.Parallel()

	zone := NewZoneID(ZoneV2)
	section := Section{SectionID: "sec-1", Title: "Work", Collapsed: true}

	rec := SectionRecord(zone, section, 4, nil)
	got, err := SectionFromRecord(rec)
	require.NoError(t, err)

	section.Order = 4
	assert.Equal(t, section, got)
	assert.True(t, rec.Metadata.IsZero())
}

func TestSectionRecord_DropsForeignMetadata(t *testing.T) {
	t.Parallel()

	zone := NewZoneID(ZoneV2)
	foreign := Metadata{Zone: NewZoneID(ZoneV1), Kind: KindSection, Tag: "old"}
	own := Metadata{Zone: zone, Kind: KindSection, Tag: "new"}

	assert.True(t, SectionRecord(zone, Section{SectionID: "s"}, 0, &foreign).Metadata.IsZero())
	assert.Equal(t, own, SectionRecord(zone, Section{SectionID: "s"}, 0, &own).Metadata)
}

func TestServiceV2Record_RoundTripKeepsUncarriedFields(t *testing.T) {
	t.Parallel()

	zone := NewZoneID(ZoneV1)
	svc := Service{
		Name:      "GitHub",
		Secret:    "JBSWY3DPEHPK3PXP",
		Issuer:    "GitHub",
		Period:    30,
		Digits:    6,
		Algorithm: "SHA1",
		TokenType: "TOTP",
		SectionID: "sec-1",
	}
	enc := EncryptedSecret{Ciphertext: []byte{1, 2, 3}, Reference: []byte{9}}

	rec := ServiceV2Record(zone, svc, enc, 2, nil)
	assert.Equal(t, enc, V2EncryptedSecret(rec))
	assert.Equal(t, svc.Secret, rec.ID.Name)

	base := Service{LabelColor: "red", Source: "manual"}
	got, err := ServiceFromV2Record(rec, svc.Secret, base)
	require.NoError(t, err)

	want := svc
	want.SectionOrder = 2
	want.LabelColor = "red"
	want.Source = "manual"
	assert.Equal(t, want, got)
}

func TestServiceFromV2Record_WrongKind(t *testing.T) {
	t.Parallel()

	rec := SectionRecord(NewZoneID(ZoneV1), Section{SectionID: "s"}, 0, nil)
	_, err := ServiceFromV2Record(rec, "S", Service{})
	assert.ErrorIs(t, err, ErrWrongKind)
}

func TestInfoRecord_RoundTrip(t *testing.T) {
	t.Parallel()

	info := Info{
		Version:             CurrentInfoVersion,
		Encryption:          EncryptionUser,
		AllowedDevices:      []string{"phone", "watch"},
		EncryptionReference: []byte("ref"),
	}

	got, err := InfoFromRecord(InfoRecord(NewZoneID(ZoneV2), info, nil))
	require.NoError(t, err)
	assert.True(t, info.Equal(got))
}

func TestInfoFromRecord_DefaultsToSystemEncryption(t *testing.T) {
	t.Parallel()

	fields := NewFields()
	fields.Set(FieldVersion, 1)
	rec := Record{ID: RecordID{Zone: NewZoneID(ZoneV1), Kind: KindInfo, Name: InfoRecordName}, Fields: fields}

	got, err := InfoFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, EncryptionSystem, got.Encryption)
	assert.Equal(t, int64(1), got.Version)
}

func TestSectionOrder(t *testing.T) {
	t.Parallel()

	siblings := []Service{
		{Secret: "A", SectionID: "x"},
		{Secret: "B", SectionID: "y"},
		{Secret: "C", SectionID: "x"},
		{Secret: "D", SectionID: ""},
		{Secret: "E", SectionID: "x"},
	}

	assert.Equal(t, 0, SectionOrder(siblings, siblings[0]))
	assert.Equal(t, 0, SectionOrder(siblings, siblings[1]))
	assert.Equal(t, 1, SectionOrder(siblings, siblings[2]))
	assert.Equal(t, 0, SectionOrder(siblings, siblings[3]))
	assert.Equal(t, 2, SectionOrder(siblings, siblings[4]))
}
