package encryption

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/secure"
	"github.com/systmms/vaultsync/pkg/vault"
)

func newSystemKey(t *testing.T, fill byte) *secure.Key {
	t.Helper()
	key, err := secure.NewKey(bytes.Repeat([]byte{fill}, 32))
	require.NoError(t, err)
	return key
}

func newSyncEncryption(t *testing.T) *SyncEncryption {
	t.Helper()
	enc, err := NewSyncEncryption(newSystemKey(t, 0x11), "alice")
	require.NoError(t, err)
	return enc
}

func TestSealOpen(t *testing.T) {
	t.Parallel()

	key := newSystemKey(t, 0x01)
	ct, err := Seal(key, []byte("JBSWY3DPEHPK3PXP"), []byte("aad"))
	require.NoError(t, err)

	pt, err := Open(key, ct, []byte("aad"))
	require.NoError(t, err)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", string(pt))

	_, err = Open(key, ct, []byte("other"))
	assert.Error(t, err, "aad is authenticated")

	_, err = Open(newSystemKey(t, 0x02), ct, []byte("aad"))
	assert.Error(t, err, "wrong key")

	_, err = Open(key, []byte{1, 2}, nil)
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}

func TestSeal_UsesFreshNonce(t *testing.T) {
	t.Parallel()

	key := newSystemKey(t, 0x01)
	a, err := Seal(key, []byte("same"), nil)
	require.NoError(t, err)
	b, err := Seal(key, []byte("same"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestReference_StablePerKey(t *testing.T) {
	t.Parallel()

	a, err := Reference(newSystemKey(t, 0x01))
	require.NoError(t, err)
	b, err := Reference(newSystemKey(t, 0x01))
	require.NoError(t, err)
	c, err := Reference(newSystemKey(t, 0x02))
	require.NoError(t, err)

	assert.Len(t, a, ReferenceSize)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestEncrypt_TagsReference(t *testing.T) {
	t.Parallel()

	key := newSystemKey(t, 0x03)
	secret, err := Encrypt(key, []byte("plain"))
	require.NoError(t, err)

	ref, err := Reference(key)
	require.NoError(t, err)
	assert.Equal(t, ref, secret.Reference)

	pt, err := Open(key, secret.Ciphertext, secret.Reference)
	require.NoError(t, err)
	assert.Equal(t, "plain", string(pt))
}

func TestDeriveUserKey(t *testing.T) {
	t.Parallel()

	a, err := DeriveUserKey("correct horse", "alice")
	require.NoError(t, err)
	b, err := DeriveUserKey("correct horse", "alice")
	require.NoError(t, err)
	otherOwner, err := DeriveUserKey("correct horse", "bob")
	require.NoError(t, err)

	assert.True(t, a.Equal(b), "same password and owner derive the same key")
	assert.False(t, a.Equal(otherOwner))

	_, err = DeriveUserKey("", "alice")
	assert.ErrorIs(t, err, ErrEmptyPassword)
}

func TestSyncEncryption_PasswordLifecycle(t *testing.T) {
	t.Parallel()

	enc := newSyncEncryption(t)
	systemRef := enc.Reference()
	assert.Equal(t, vault.EncryptionSystem, enc.Type())
	assert.False(t, enc.HasRetired())

	underSystem, err := enc.Encrypt([]byte("s1"))
	require.NoError(t, err)

	require.NoError(t, enc.SetPassword("hunter22"))
	assert.Equal(t, vault.EncryptionUser, enc.Type())
	assert.NotEqual(t, systemRef, enc.Reference())
	assert.True(t, enc.HasRetired())
	assert.True(t, enc.IsCurrent(enc.Reference()))
	assert.False(t, enc.IsCurrent(systemRef))

	underUser, err := enc.Encrypt([]byte("s2"))
	require.NoError(t, err)
	userRef := enc.Reference()

	pt, err := enc.Decrypt(underSystem)
	require.NoError(t, err)
	assert.Equal(t, "s1", string(pt))

	require.NoError(t, enc.SetPassword("new-password"))
	assert.True(t, enc.Knows(userRef), "old user key retired, still readable")
	pt, err = enc.Decrypt(underUser)
	require.NoError(t, err)
	assert.Equal(t, "s2", string(pt))

	enc.DropRetired()
	assert.False(t, enc.Knows(userRef))
	_, err = enc.Decrypt(underUser)
	assert.ErrorIs(t, err, vserrors.ErrKeyUnavailable)

	enc.RemovePassword()
	assert.Equal(t, vault.EncryptionSystem, enc.Type())
	assert.Equal(t, systemRef, enc.Reference())
	assert.True(t, enc.HasRetired())
}

func TestSyncEncryption_SystemKeyAlwaysKnown(t *testing.T) {
	t.Parallel()

	enc := newSyncEncryption(t)
	legacy, err := enc.EncryptWithSystemKey([]byte("legacy"))
	require.NoError(t, err)

	require.NoError(t, enc.SetPassword("pw"))
	enc.DropRetired()

	pt, err := enc.Decrypt(legacy)
	require.NoError(t, err)
	assert.Equal(t, "legacy", string(pt))
}

func TestSyncEncryption_Unlock(t *testing.T) {
	t.Parallel()

	writer := newSyncEncryption(t)
	require.NoError(t, writer.SetPassword("shared"))
	secret, err := writer.Encrypt([]byte("token"))
	require.NoError(t, err)

	reader := newSyncEncryption(t)
	assert.False(t, reader.Knows(secret.Reference))
	require.NoError(t, reader.Unlock("shared"))
	assert.False(t, reader.HasRetired())

	pt, err := reader.Decrypt(secret)
	require.NoError(t, err)
	assert.Equal(t, "token", string(pt))
}

func TestSyncEncryption_UnlockDestroysReplacedKey(t *testing.T) {
	t.Parallel()
	enc := newSyncEncryption(t)

	require.NoError(t, enc.Unlock("first"))
	first := enc.user.key
	require.NoError(t, enc.Unlock("second"))

	assert.ErrorIs(t, first.Use(func([]byte) error { return nil }), secure.ErrDestroyed)
	assert.NoError(t, enc.user.key.Use(func([]byte) error { return nil }))
}

func TestSyncEncryption_UnlockKeepsRetiredKey(t *testing.T) {
	t.Parallel()
	enc := newSyncEncryption(t)

	require.NoError(t, enc.SetPassword("first"))
	require.NoError(t, enc.SetPassword("second"))
	retired := enc.retired.key
	require.NoError(t, enc.Unlock("third"))

	assert.NoError(t, retired.Use(func([]byte) error { return nil }))
}

func TestServiceRecordHandler_V3RoundTrip(t *testing.T) {
	t.Parallel()

	h := NewServiceRecordHandler(newSyncEncryption(t))
	zone := vault.NewZoneID(vault.ZoneV2)
	siblings := []vault.Service{
		{Name: "A", Secret: "AAAA", SectionID: "work"},
		{Name: "B", Secret: "BBBB", SectionID: "work", LabelColor: "red", Source: "manual", Period: 30},
	}

	rec, err := h.CreateServiceRecordV3(zone, siblings[1], nil, siblings)
	require.NoError(t, err)
	assert.Equal(t, vault.KindServiceV3, rec.Kind())
	assert.Equal(t, "BBBB", rec.ID.Name)
	assert.True(t, h.IsCurrentEncryption(rec))
	assert.NotContains(t, string(rec.Fields.Bytes(FieldPayload)), "manual")

	got, err := h.ServiceFromRecord(rec, vault.Service{})
	require.NoError(t, err)

	want := siblings[1]
	want.SectionOrder = 1
	assert.Equal(t, want, got)
}

func TestServiceRecordHandler_V3RejectsRenamedPayload(t *testing.T) {
	t.Parallel()

	h := NewServiceRecordHandler(newSyncEncryption(t))
	zone := vault.NewZoneID(vault.ZoneV2)
	svc := vault.Service{Name: "A", Secret: "AAAA"}

	rec, err := h.CreateServiceRecordV3(zone, svc, nil, []vault.Service{svc})
	require.NoError(t, err)
	rec.ID.Name = "BBBB"

	_, err = h.ServiceFromRecord(rec, vault.Service{})
	assert.Error(t, err)
}

func TestServiceRecordHandler_V3KeepsMatchingMetadataOnly(t *testing.T) {
	t.Parallel()

	h := NewServiceRecordHandler(newSyncEncryption(t))
	zone := vault.NewZoneID(vault.ZoneV2)
	svc := vault.Service{Secret: "AAAA"}

	v2md := vault.Metadata{Zone: zone, Kind: vault.KindServiceV2, Tag: "etag-v2"}
	rec, err := h.CreateServiceRecordV3(zone, svc, &v2md, nil)
	require.NoError(t, err)
	assert.True(t, rec.Metadata.IsZero())

	v3md := vault.Metadata{Zone: zone, Kind: vault.KindServiceV3, Tag: "etag-v3"}
	rec, err = h.CreateServiceRecordV3(zone, svc, &v3md, nil)
	require.NoError(t, err)
	assert.Equal(t, v3md, rec.Metadata)
}

func TestServiceRecordHandler_V2RoundTrip(t *testing.T) {
	t.Parallel()

	enc := newSyncEncryption(t)
	require.NoError(t, enc.SetPassword("pw"))
	h := NewServiceRecordHandler(enc)
	zone := vault.NewZoneID(vault.ZoneV1)
	svc := vault.Service{Name: "GitHub", Secret: "JBSWY3DPEHPK3PXP", Digits: 6}

	rec, err := h.CreateServiceRecordV2(zone, svc, nil, []vault.Service{svc})
	require.NoError(t, err)
	assert.Equal(t, vault.KindServiceV2, rec.Kind())
	assert.False(t, h.IsCurrentEncryption(rec))

	got, err := h.ServiceFromRecord(rec, vault.Service{LabelColor: "blue"})
	require.NoError(t, err)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", got.Secret)
	assert.Equal(t, "blue", got.LabelColor)
	assert.Equal(t, 6, got.Digits)
}

func TestServiceRecordHandler_UnknownKey(t *testing.T) {
	t.Parallel()

	writer := NewServiceRecordHandler(newSyncEncryption(t))
	require.NoError(t, writer.Encryption().SetPassword("theirs"))
	svc := vault.Service{Secret: "AAAA"}
	rec, err := writer.CreateServiceRecordV3(vault.NewZoneID(vault.ZoneV2), svc, nil, nil)
	require.NoError(t, err)

	reader := NewServiceRecordHandler(newSyncEncryption(t))
	_, err = reader.ServiceFromRecord(rec, vault.Service{})
	assert.ErrorIs(t, err, vserrors.ErrKeyUnavailable)
}

func TestServiceRecordHandler_WrongKind(t *testing.T) {
	t.Parallel()

	h := NewServiceRecordHandler(newSyncEncryption(t))
	rec := vault.SectionRecord(vault.NewZoneID(vault.ZoneV2), vault.Section{SectionID: "s"}, 0, nil)

	_, err := h.ServiceFromRecord(rec, vault.Service{})
	assert.ErrorIs(t, err, vault.ErrWrongKind)
}
