package vault

import (
	"errors"
	"fmt"
)

// Field names shared by record encoders and decoders.
const (
	FieldSectionID      = "sectionID"
	FieldTitle          = "title"
	FieldOrder          = "order"
	FieldCollapsed      = "collapsed"
	FieldName           = "name"
	FieldSecret         = "secret"
	FieldReference      = "reference"
	FieldServiceTypeID  = "serviceTypeID"
	FieldAdditionalInfo = "additionalInfo"
	FieldRawIssuer      = "rawIssuer"
	FieldOTPAuth        = "otpAuth"
	FieldTokenPeriod    = "tokenPeriod"
	FieldTokenLength    = "tokenLength"
	FieldAlgorithm      = "algorithm"
	FieldCounter        = "counter"
	FieldTokenType      = "tokenType"
	FieldSectionOrder   = "sectionOrder"
	FieldLabelTitle     = "labelTitle"
	FieldIconType       = "iconType"
	FieldVersion        = "version"
	FieldEncryption     = "encryption"
	FieldAllowedDevices = "allowedDevices"
)

// ErrWrongKind is returned when a decoder is handed a record of another kind.
var ErrWrongKind = errors.New("record kind mismatch")

func metadataFor(id RecordID, md *Metadata) Metadata {
	if md != nil && md.Matches(id) {
		return *md
	}
	return Metadata{}
}

// SectionRecord encodes a section at the given position. Previous metadata is
// kept only when it was issued for the same record.
func SectionRecord(zone ZoneID, s Section, order int, md *Metadata) Record {
	id := RecordID{Zone: zone, Kind: KindSection, Name: s.SectionID}
	fields := NewFields()
	fields.Set(FieldSectionID, s.SectionID)
	fields.Set(FieldTitle, s.Title)
	fields.Set(FieldOrder, order)
	fields.Set(FieldCollapsed, s.Collapsed)
	return Record{ID: id, Fields: fields, Metadata: metadataFor(id, md)}
}

// SectionFromRecord decodes a section record.
func SectionFromRecord(rec Record) (Section, error) {
	if rec.Kind() != KindSection {
		return Section{}, fmt.Errorf("%w: want %s, got %s", ErrWrongKind, KindSection, rec.Kind())
	}
	id := rec.Fields.String(FieldSectionID)
	if id == "" {
		id = rec.ID.Name
	}
	if id == "" {
		return Section{}, fmt.Errorf("section record %s has no identifier", rec.ID)
	}
	return Section{
		SectionID: id,
		Title:     rec.Fields.String(FieldTitle),
		Order:     int(rec.Fields.Int(FieldOrder)),
		Collapsed: rec.Fields.Bool(FieldCollapsed),
	}, nil
}

// SectionOrder returns the position of svc among the services of siblings
// sharing its section. Ordering is positional and must be recomputed on every
// sync.
func SectionOrder(siblings []Service, svc Service) int {
	pos := 0
	for _, s := range siblings {
		if s.SectionID != svc.SectionID {
			continue
		}
		if s.Secret == svc.Secret {
			return pos
		}
		pos++
	}
	return 0
}

// ServiceV2Record encodes a legacy service record. The secret travels only in
// its encrypted form; the raw secret is the record name.
func ServiceV2Record(zone ZoneID, svc Service, secret EncryptedSecret, sectionOrder int, md *Metadata) Record {
	id := RecordID{Zone: zone, Kind: KindServiceV2, Name: svc.Secret}
	fields := NewFields()
	fields.Set(FieldName, svc.Name)
	fields.Set(FieldSecret, secret.Ciphertext)
	fields.Set(FieldReference, secret.Reference)
	fields.Set(FieldServiceTypeID, svc.ServiceTypeID)
	fields.Set(FieldAdditionalInfo, svc.AdditionalInfo)
	fields.Set(FieldRawIssuer, svc.Issuer)
	fields.Set(FieldOTPAuth, svc.OTPAuth)
	fields.Set(FieldTokenPeriod, svc.Period)
	fields.Set(FieldTokenLength, svc.Digits)
	fields.Set(FieldAlgorithm, svc.Algorithm)
	fields.Set(FieldCounter, svc.Counter)
	fields.Set(FieldTokenType, svc.TokenType)
	fields.Set(FieldSectionID, svc.SectionID)
	fields.Set(FieldSectionOrder, sectionOrder)
	fields.Set(FieldLabelTitle, svc.LabelTitle)
	fields.Set(FieldIconType, svc.IconType)
	return Record{ID: id, Fields: fields, Metadata: metadataFor(id, md)}
}

// V2EncryptedSecret extracts the encrypted secret of a legacy service record.
func V2EncryptedSecret(rec Record) EncryptedSecret {
	return EncryptedSecret{
		Ciphertext: rec.Fields.Bytes(FieldSecret),
		Reference:  rec.Fields.Bytes(FieldReference),
	}
}

// ServiceFromV2Record decodes a legacy service record on top of base. Fields
// the legacy schema does not carry (label colour, source) keep base's values.
func ServiceFromV2Record(rec Record, secret string, base Service) (Service, error) {
	if rec.Kind() != KindServiceV2 {
		return Service{}, fmt.Errorf("%w: want %s, got %s", ErrWrongKind, KindServiceV2, rec.Kind())
	}
	if secret == "" {
		return Service{}, fmt.Errorf("service record %s has an empty secret", rec.ID)
	}
	f := rec.Fields
	svc := base
	svc.Secret = secret
	svc.Name = f.String(FieldName)
	svc.ServiceTypeID = f.String(FieldServiceTypeID)
	svc.AdditionalInfo = f.String(FieldAdditionalInfo)
	svc.Issuer = f.String(FieldRawIssuer)
	svc.OTPAuth = f.String(FieldOTPAuth)
	svc.Period = int(f.Int(FieldTokenPeriod))
	svc.Digits = int(f.Int(FieldTokenLength))
	svc.Algorithm = f.String(FieldAlgorithm)
	svc.Counter = int(f.Int(FieldCounter))
	svc.TokenType = f.String(FieldTokenType)
	svc.SectionID = f.String(FieldSectionID)
	svc.SectionOrder = int(f.Int(FieldSectionOrder))
	svc.LabelTitle = f.String(FieldLabelTitle)
	svc.IconType = f.String(FieldIconType)
	return svc, nil
}

// InfoRecord encodes the Info singleton for zone.
func InfoRecord(zone ZoneID, info Info, md *Metadata) Record {
	id := RecordID{Zone: zone, Kind: KindInfo, Name: InfoRecordName}
	fields := NewFields()
	fields.Set(FieldVersion, info.Version)
	fields.Set(FieldEncryption, string(info.Encryption))
	if info.AllowedDevices != nil {
		fields.Set(FieldAllowedDevices, info.AllowedDevices)
	}
	fields.Set(FieldReference, info.EncryptionReference)
	return Record{ID: id, Fields: fields, Metadata: metadataFor(id, md)}
}

// InfoFromRecord decodes an Info record. Records written before encryption
// types existed default to system encryption.
func InfoFromRecord(rec Record) (Info, error) {
	if rec.Kind() != KindInfo {
		return Info{}, fmt.Errorf("%w: want %s, got %s", ErrWrongKind, KindInfo, rec.Kind())
	}
	enc := EncryptionType(rec.Fields.String(FieldEncryption))
	if enc == "" {
		enc = EncryptionSystem
	}
	return Info{
		Version:             rec.Fields.Int(FieldVersion),
		Encryption:          enc,
		AllowedDevices:      rec.Fields.Strings(FieldAllowedDevices),
		EncryptionReference: rec.Fields.Bytes(FieldReference),
	}, nil
}
