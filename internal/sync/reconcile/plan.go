package reconcile

import (
	"context"
	"errors"

	vserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/pkg/vault"
)

// AllRemoteIdentifiers returns the record identifiers local state accounts
// for in zone: every local section and service plus every record staged for
// upsert, without the Info singleton. Remote records outside this set are
// orphans.
func (e *Engine) AllRemoteIdentifiers(zone vault.ZoneID, snap Snapshot) map[vault.RecordID]struct{} {
	ids := make(map[vault.RecordID]struct{}, len(snap.Sections)+len(snap.Services)+len(e.pending.upserts))
	for _, sec := range snap.Sections {
		ids[sec.Value.Reference().RecordID(zone)] = struct{}{}
	}
	for _, svc := range snap.Services {
		ids[svc.Value.Reference(zone.ServiceKind()).RecordID(zone)] = struct{}{}
	}
	for _, rec := range e.pending.upserts {
		if rec.Kind() == vault.KindInfo {
			continue
		}
		ref := vault.EntityReference{EntityID: rec.ID.Name, Kind: rec.Kind()}
		ids[ref.RecordID(zone)] = struct{}{}
	}
	return ids
}

// PullPlan is the set of local changes a remote snapshot implies.
type PullPlan struct {
	Upserts   []vault.Record
	Deletions []vault.EntityReference
}

// PlanPull compares the remote records of zone with local state. Remote
// records whose metadata differs from the copy held locally are staged as
// upserts; local entities last synced in zone that no longer exist remotely
// are staged as deletions. Identities in tombstones are never pulled back.
//
// When a service exists remotely in both generations, the record of the
// kind zone is written in wins.
func (e *Engine) PlanPull(zone vault.ZoneID, snap Snapshot, remote []vault.Record, tombstones []vault.EntityReference) PullPlan {
	tombstoned := make(map[vault.Identity]bool, len(tombstones))
	for _, ref := range tombstones {
		tombstoned[ref.Identity()] = true
	}

	preferred := zone.ServiceKind()
	byIdentity := make(map[vault.Identity]vault.Record, len(remote))
	var order []vault.Identity
	for _, rec := range remote {
		if rec.ID.Zone != zone {
			continue
		}
		id := rec.ID.Identity()
		existing, seen := byIdentity[id]
		if !seen {
			order = append(order, id)
		} else if existing.Kind() == preferred && rec.Kind() != preferred {
			continue
		}
		byIdentity[id] = rec
	}

	local := snap.metadata()
	var plan PullPlan
	for _, id := range order {
		if tombstoned[id] {
			continue
		}
		rec := byIdentity[id]
		if md, ok := local[id]; ok && md == rec.Metadata {
			continue
		}
		plan.Upserts = append(plan.Upserts, rec)
	}

	gone := func(id vault.Identity, md vault.Metadata) bool {
		_, exists := byIdentity[id]
		return md.InZone(zone) && !exists
	}
	for _, sec := range snap.Sections {
		if gone(sec.Value.Identity(), sec.Metadata) {
			plan.Deletions = append(plan.Deletions, sec.Value.Reference())
		}
	}
	for _, svc := range snap.Services {
		if gone(svc.Value.Identity(), svc.Metadata) {
			plan.Deletions = append(plan.Deletions, svc.Value.Reference(svc.Metadata.Kind))
		}
	}
	if snap.Info != nil && gone(vault.InfoIdentity, snap.Info.Metadata) {
		plan.Deletions = append(plan.Deletions, vault.EntityReference{EntityID: vault.InfoRecordName, Kind: vault.KindInfo})
	}
	return plan
}

// PushPlan is the set of remote writes local state implies.
type PushPlan struct {
	Records []vault.Record

	// Rejected counts entities skipped because they could not be mapped
	// to a record.
	Rejected int
}

// PlanPush rebuilds the records of every local entity not in deleted and
// keeps those whose payload differs from the remote copy. Local state is
// authoritative for payloads; the Info record is rebuilt from the local copy
// and pushed when missing or different.
func (e *Engine) PlanPush(ctx context.Context, zone vault.ZoneID, snap Snapshot, remote []vault.Record, deleted []vault.EntityReference) (PushPlan, error) {
	return e.planPush(ctx, zone, snap, remote, deleted, true)
}

// PlanStructurePush is PlanPush without services. It is used when every
// service record is rebuilt by a re-encryption batch instead.
func (e *Engine) PlanStructurePush(ctx context.Context, zone vault.ZoneID, snap Snapshot, remote []vault.Record, deleted []vault.EntityReference) (PushPlan, error) {
	return e.planPush(ctx, zone, snap, remote, deleted, false)
}

func (e *Engine) planPush(ctx context.Context, zone vault.ZoneID, snap Snapshot, remote []vault.Record, deleted []vault.EntityReference, services bool) (PushPlan, error) {
	upserts := e.ComputeUpsertSet(snap, deleted)
	remoteByID := make(map[vault.RecordID]vault.Record, len(remote))
	for _, rec := range remote {
		remoteByID[rec.ID] = rec
	}

	var plan PushPlan
	for _, sec := range upserts.Sections {
		md := sec.Metadata
		rec, err := e.BuildRecord(ctx, zone, vault.KindSection, sec.Value, &md, upserts)
		if err != nil {
			return PushPlan{}, err
		}
		if current, ok := remoteByID[rec.ID]; ok && current.Fields.Equal(rec.Fields) {
			continue
		}
		plan.Records = append(plan.Records, rec)
	}

	kind := zone.ServiceKind()
	siblings := upserts.ServiceValues()
	candidates := upserts.Services
	if !services {
		candidates = nil
	}
	for _, svc := range candidates {
		id := svc.Value.Reference(kind).RecordID(zone)
		if current, ok := remoteByID[id]; ok && !e.serviceChanged(current, svc.Value, siblings) {
			continue
		}
		md := svc.Metadata
		rec, err := e.BuildRecord(ctx, zone, kind, svc.Value, &md, upserts)
		if err != nil {
			if isSkippable(err) {
				plan.Rejected++
				continue
			}
			return PushPlan{}, err
		}
		plan.Records = append(plan.Records, rec)
	}

	desired := e.InfoFor(zone, upserts.Info)
	infoID := vault.RecordID{Zone: zone, Kind: vault.KindInfo, Name: vault.InfoRecordName}
	if current, ok := remoteByID[infoID]; ok {
		if info, err := vault.InfoFromRecord(current); err == nil && info.Equal(desired) {
			plan.Records = AlignMetadata(plan.Records, remote)
			return plan, nil
		}
	}
	var md *vault.Metadata
	if upserts.Info != nil {
		md = &upserts.Info.Metadata
	}
	rec, err := e.BuildRecord(ctx, zone, vault.KindInfo, desired, md, upserts)
	if err != nil {
		return PushPlan{}, err
	}
	plan.Records = append(plan.Records, rec)
	plan.Records = AlignMetadata(plan.Records, remote)
	return plan, nil
}

// serviceChanged reports whether the remote copy of a service must be
// rewritten: it is under a retired key, cannot be read, or differs from the
// local payload.
func (e *Engine) serviceChanged(current vault.Record, svc vault.Service, siblings []vault.Service) bool {
	if current.Kind() == vault.KindServiceV3 && !e.codec.IsCurrentEncryption(current) {
		return true
	}
	decoded, err := e.codec.ServiceFromRecord(current, svc)
	if err != nil {
		return true
	}
	want := svc
	want.SectionOrder = vault.SectionOrder(siblings, svc)
	return decoded != want
}

// AlignMetadata sets the metadata of each record to that of the remote copy
// fetched this cycle, or clears it when there is none. Writes are then
// conditional on the fetched state rather than on whatever local state last
// saw.
func AlignMetadata(recs []vault.Record, remote []vault.Record) []vault.Record {
	byID := make(map[vault.RecordID]vault.Metadata, len(remote))
	for _, rec := range remote {
		byID[rec.ID] = rec.Metadata
	}
	for i := range recs {
		recs[i].Metadata = byID[recs[i].ID]
	}
	return recs
}

func isSkippable(err error) bool {
	var validation vserrors.ValidationError
	var encryption vserrors.EncryptionError
	return errors.As(err, &validation) || errors.As(err, &encryption)
}
