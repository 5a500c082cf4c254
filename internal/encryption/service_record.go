package encryption

import (
	"encoding/json"
	"fmt"

	vserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/pkg/vault"
)

// FieldPayload carries the sealed service payload of a unified-generation
// service record.
const FieldPayload = "payload"

// servicePayload is the plaintext sealed into a unified service record.
type servicePayload struct {
	Name           string `json:"name"`
	Secret         string `json:"secret"`
	ServiceTypeID  string `json:"serviceTypeID,omitempty"`
	AdditionalInfo string `json:"additionalInfo,omitempty"`
	Issuer         string `json:"rawIssuer,omitempty"`
	OTPAuth        string `json:"otpAuth,omitempty"`
	Period         int    `json:"tokenPeriod,omitempty"`
	Digits         int    `json:"tokenLength,omitempty"`
	Algorithm      string `json:"algorithm,omitempty"`
	Counter        int    `json:"counter,omitempty"`
	TokenType      string `json:"tokenType,omitempty"`
	SectionID      string `json:"sectionID,omitempty"`
	SectionOrder   int    `json:"sectionOrder"`
	LabelTitle     string `json:"labelTitle,omitempty"`
	LabelColor     string `json:"labelColor,omitempty"`
	IconType       string `json:"iconType,omitempty"`
	Source         string `json:"source,omitempty"`
}

func payloadFrom(svc vault.Service, sectionOrder int) servicePayload {
	return servicePayload{
		Name:           svc.Name,
		Secret:         svc.Secret,
		ServiceTypeID:  svc.ServiceTypeID,
		AdditionalInfo: svc.AdditionalInfo,
		Issuer:         svc.Issuer,
		OTPAuth:        svc.OTPAuth,
		Period:         svc.Period,
		Digits:         svc.Digits,
		Algorithm:      svc.Algorithm,
		Counter:        svc.Counter,
		TokenType:      svc.TokenType,
		SectionID:      svc.SectionID,
		SectionOrder:   sectionOrder,
		LabelTitle:     svc.LabelTitle,
		LabelColor:     svc.LabelColor,
		IconType:       svc.IconType,
		Source:         svc.Source,
	}
}

func (p servicePayload) service() vault.Service {
	return vault.Service{
		Name:           p.Name,
		Secret:         p.Secret,
		ServiceTypeID:  p.ServiceTypeID,
		AdditionalInfo: p.AdditionalInfo,
		Issuer:         p.Issuer,
		OTPAuth:        p.OTPAuth,
		Period:         p.Period,
		Digits:         p.Digits,
		Algorithm:      p.Algorithm,
		Counter:        p.Counter,
		TokenType:      p.TokenType,
		SectionID:      p.SectionID,
		SectionOrder:   p.SectionOrder,
		LabelTitle:     p.LabelTitle,
		LabelColor:     p.LabelColor,
		IconType:       p.IconType,
		Source:         p.Source,
	}
}

// ServiceRecordHandler encodes and decodes service records of both
// generations using the keys held by a SyncEncryption.
type ServiceRecordHandler struct {
	enc *SyncEncryption
}

// NewServiceRecordHandler creates a handler backed by enc.
func NewServiceRecordHandler(enc *SyncEncryption) *ServiceRecordHandler {
	return &ServiceRecordHandler{enc: enc}
}

// Encryption returns the underlying key handler.
func (h *ServiceRecordHandler) Encryption() *SyncEncryption {
	return h.enc
}

// CreateServiceRecordV3 builds a unified service record. Every field is
// sealed under the active key; the record name is bound into the
// ciphertext so a payload cannot be replayed under another name. siblings is
// the full local service list, used to derive the position within the
// section.
func (h *ServiceRecordHandler) CreateServiceRecordV3(zone vault.ZoneID, svc vault.Service, md *vault.Metadata, siblings []vault.Service) (vault.Record, error) {
	id := vault.RecordID{Zone: zone, Kind: vault.KindServiceV3, Name: svc.Secret}

	plaintext, err := json.Marshal(payloadFrom(svc, vault.SectionOrder(siblings, svc)))
	if err != nil {
		return vault.Record{}, fmt.Errorf("encode service payload: %w", err)
	}

	h.enc.mu.RLock()
	active := h.enc.active()
	h.enc.mu.RUnlock()

	sealed, err := Seal(active.key, plaintext, recordAAD(id.Name, active.ref))
	if err != nil {
		return vault.Record{}, err
	}

	fields := vault.NewFields()
	fields.Set(FieldPayload, sealed)
	fields.Set(vault.FieldReference, active.ref)

	rec := vault.Record{ID: id, Fields: fields}
	if md != nil && md.Matches(id) {
		rec.Metadata = *md
	}
	return rec, nil
}

// CreateServiceRecordV2 builds a legacy service record. The secret is
// encrypted with the system key.
func (h *ServiceRecordHandler) CreateServiceRecordV2(zone vault.ZoneID, svc vault.Service, md *vault.Metadata, siblings []vault.Service) (vault.Record, error) {
	secret, err := h.enc.EncryptWithSystemKey([]byte(svc.Secret))
	if err != nil {
		return vault.Record{}, err
	}
	return vault.ServiceV2Record(zone, svc, secret, vault.SectionOrder(siblings, svc), md), nil
}

// ServiceFromRecord decodes a service record of either generation. Fields
// the record's schema does not carry are taken from base.
func (h *ServiceRecordHandler) ServiceFromRecord(rec vault.Record, base vault.Service) (vault.Service, error) {
	switch rec.Kind() {
	case vault.KindServiceV3:
		return h.serviceFromV3(rec)
	case vault.KindServiceV2:
		secret := rec.ID.Name
		if enc := vault.V2EncryptedSecret(rec); len(enc.Ciphertext) > 0 {
			plain, err := h.enc.Decrypt(enc)
			if err != nil {
				return vault.Service{}, err
			}
			secret = string(plain)
		}
		return vault.ServiceFromV2Record(rec, secret, base)
	default:
		return vault.Service{}, fmt.Errorf("%w: %s is not a service record", vault.ErrWrongKind, rec.ID)
	}
}

func (h *ServiceRecordHandler) serviceFromV3(rec vault.Record) (vault.Service, error) {
	ref := rec.Fields.Bytes(vault.FieldReference)
	key, ok := h.enc.keyFor(ref)
	if !ok {
		return vault.Service{}, vserrors.EncryptionError{Op: "decrypt " + string(rec.Kind()), Err: vserrors.ErrKeyUnavailable}
	}

	plaintext, err := Open(key, rec.Fields.Bytes(FieldPayload), recordAAD(rec.ID.Name, ref))
	if err != nil {
		return vault.Service{}, err
	}

	var p servicePayload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return vault.Service{}, fmt.Errorf("decode service payload: %w", err)
	}
	if p.Secret != rec.ID.Name {
		return vault.Service{}, fmt.Errorf("service payload does not belong to record %s", rec.ID)
	}
	return p.service(), nil
}

// IsCurrentEncryption reports whether a service record is encrypted with
// the active key.
func (h *ServiceRecordHandler) IsCurrentEncryption(rec vault.Record) bool {
	if rec.Kind() != vault.KindServiceV3 {
		return false
	}
	return h.enc.IsCurrent(rec.Fields.Bytes(vault.FieldReference))
}

func recordAAD(name string, ref []byte) []byte {
	aad := make([]byte, 0, len(name)+1+len(ref))
	aad = append(aad, name...)
	aad = append(aad, 0)
	return append(aad, ref...)
}
