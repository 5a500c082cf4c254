package vault

import (
	"bytes"
	"slices"
)

// Entity is a local payload that can be mapped to a remote record. It is a
// closed union of Section, Service and Info.
type Entity interface {
	Identity() Identity
	isEntity()
}

// Section groups services in the local list.
type Section struct {
	SectionID string
	Title     string
	Order     int
	Collapsed bool
}

func (Section) isEntity() {}

// Identity returns the section's natural key.
func (s Section) Identity() Identity {
	return Identity{Family: FamilySection, Key: s.SectionID}
}

// Reference returns a deletion marker for the section.
func (s Section) Reference() EntityReference {
	return EntityReference{EntityID: s.SectionID, Kind: KindSection}
}

// Service is a single credential. Its natural key is the raw secret.
type Service struct {
	Name           string
	Secret         string
	ServiceTypeID  string
	AdditionalInfo string
	Issuer         string
	OTPAuth        string
	Period         int
	Digits         int
	Algorithm      string
	Counter        int
	TokenType      string
	SectionID      string
	SectionOrder   int
	LabelTitle     string
	LabelColor     string
	IconType       string
	Source         string
}

func (Service) isEntity() {}

// Identity returns the service's natural key.
func (s Service) Identity() Identity {
	return Identity{Family: FamilyService, Key: s.Secret}
}

// Reference returns a deletion marker for the service in the given kind.
func (s Service) Reference(kind RecordKind) EntityReference {
	return EntityReference{EntityID: s.Secret, Kind: kind}
}

// EncryptionType names the key scheme secrets are synced under.
type EncryptionType string

const (
	// EncryptionSystem uses the device-held system key.
	EncryptionSystem EncryptionType = "system"

	// EncryptionUser uses a key derived from the user's backup password.
	EncryptionUser EncryptionType = "user"
)

// CurrentInfoVersion is the version written into Info records by this
// client. Any value above 2 marks the unified generation.
const CurrentInfoVersion = 3

// Info is the per-zone singleton carrying sync metadata.
type Info struct {
	Version             int64
	Encryption          EncryptionType
	AllowedDevices      []string
	EncryptionReference []byte
}

func (Info) isEntity() {}

// Identity returns the singleton identity.
func (Info) Identity() Identity {
	return InfoIdentity
}

// Equal compares two Info payloads field by field.
func (i Info) Equal(other Info) bool {
	return i.Version == other.Version &&
		i.Encryption == other.Encryption &&
		slices.Equal(i.AllowedDevices, other.AllowedDevices) &&
		bytes.Equal(i.EncryptionReference, other.EncryptionReference)
}

// EncryptedSecret is the encrypted form of a plaintext secret plus the
// reference that identifies the key needed to decrypt it.
type EncryptedSecret struct {
	Ciphertext []byte
	Reference  []byte
}

// Stored pairs a local payload with the remote metadata it was last synced
// with.
type Stored[T any] struct {
	Value    T
	Metadata Metadata
}
