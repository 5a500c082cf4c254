package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"

	vserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/events"
	"github.com/systmms/vaultsync/pkg/vault"
)

// legacyInfoVersion is written into Info records of the legacy zone.
const legacyInfoVersion = 1

// InfoFor returns the Info payload to publish in zone. An existing local copy
// is updated in place; otherwise a fresh one is created. Either way it
// carries the active encryption scheme.
func (e *Engine) InfoFor(zone vault.ZoneID, local *vault.Stored[vault.Info]) vault.Info {
	var info vault.Info
	if local != nil {
		info = local.Value
		info.AllowedDevices = slices.Clone(info.AllowedDevices)
	}
	if zone.IsLegacy() {
		info.Version = legacyInfoVersion
		info.Encryption = vault.EncryptionSystem
		info.EncryptionReference = nil
		return info
	}
	info.Version = vault.CurrentInfoVersion
	info.Encryption = e.keys.Type()
	info.EncryptionReference = e.keys.Reference()
	return info
}

func displayName(svc vault.Service) string {
	switch {
	case svc.Name != "":
		return svc.Name
	case svc.Issuer != "":
		return svc.Issuer
	default:
		return "unnamed service"
	}
}

// rejectSecret reports a service whose secret cannot be a record name. Only
// the display name leaves this function.
func (e *Engine) rejectSecret(ctx context.Context, svc vault.Service) error {
	name := displayName(svc)
	e.logger.Warn("Service %q has a secret that cannot be synced", name)
	e.metrics.RecordSecretError()

	ev := events.New(events.SecretError)
	ev.DisplayName = name
	e.events.Emit(ev)

	if err := e.repo.DeleteLogs(ctx, svc.Secret); err != nil {
		e.logger.Debug("Failed to purge audit log for %q: %v", name, err)
	}
	return vserrors.ValidationError{DisplayName: name}
}

// BuildRecord maps one local entity to the record of kind in zone. md is the
// metadata last seen for the entity; it is kept only if it was issued for
// the same record. snap supplies the sibling lists positions are derived
// from.
//
// A service with an invalid secret yields a ValidationError after emitting
// SecretError; an encryption failure yields an EncryptionError. Either way
// the entity is skipped for this cycle.
func (e *Engine) BuildRecord(ctx context.Context, zone vault.ZoneID, kind vault.RecordKind, entity vault.Entity, md *vault.Metadata, snap Snapshot) (vault.Record, error) {
	switch v := entity.(type) {
	case vault.Section:
		if kind != vault.KindSection {
			return vault.Record{}, fmt.Errorf("%w: section as %s", vault.ErrWrongKind, kind)
		}
		return vault.SectionRecord(zone, v, snap.sectionIndex(v.SectionID), md), nil

	case vault.Service:
		if !kind.IsService() {
			return vault.Record{}, fmt.Errorf("%w: service as %s", vault.ErrWrongKind, kind)
		}
		if !vault.IsValidSecret(v.Secret) {
			return vault.Record{}, e.rejectSecret(ctx, v)
		}
		build := e.codec.CreateServiceRecordV3
		if kind == vault.KindServiceV2 {
			build = e.codec.CreateServiceRecordV2
		}
		rec, err := build(zone, v, md, snap.ServiceValues())
		if err != nil {
			var encErr vserrors.EncryptionError
			if !errors.As(err, &encErr) {
				err = vserrors.EncryptionError{Op: "encrypt " + string(kind), Err: err}
			}
			e.logger.Warn("Skipping service %q: %v", displayName(v), err)
			return vault.Record{}, err
		}
		return rec, nil

	case vault.Info:
		if kind != vault.KindInfo {
			return vault.Record{}, fmt.Errorf("%w: info as %s", vault.ErrWrongKind, kind)
		}
		return vault.InfoRecord(zone, v, md), nil

	default:
		return vault.Record{}, fmt.Errorf("unsupported entity %T", entity)
	}
}
