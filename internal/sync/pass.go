package sync

import (
	"context"
	"fmt"

	vserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/sync/reconcile"
	"github.com/systmms/vaultsync/internal/sync/reencrypt"
	"github.com/systmms/vaultsync/pkg/vault"
)

// pass runs one pull and push against the current zone. Every failure
// leaves the remote store untouched or fully applied; the pending change set
// is always discarded.
func (s *Syncer) pass(ctx context.Context, result *Result) error {
	zone := s.registry.CurrentZone()
	defer s.engine.Cleanup()

	if s.clearLegacy.Swap(false) {
		s.logger.Info("Dropping locally held remote metadata")
		if err := s.repo.ClearMetadata(ctx); err != nil {
			s.clearLegacy.Store(true)
			return fmt.Errorf("failed to clear metadata: %w", err)
		}
	}

	remoteRecords, err := s.store.Fetch(ctx, zone)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", zone, err)
	}
	if err := s.checkPassword(remoteRecords); err != nil {
		return err
	}

	tombstones, err := s.repo.PendingDeletions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending deletions: %w", err)
	}

	skipped, err := s.pull(ctx, zone, remoteRecords, tombstones, result)
	if err != nil {
		return err
	}
	if s.migration.IsMigratingInLegacyZone() {
		s.logger.Debug("Pulled legacy zone %s, nothing pushed", zone)
		return nil
	}
	return s.push(ctx, zone, remoteRecords, tombstones, skipped, result)
}

// checkPassword stops the pass when the remote vault is protected by a
// password this device does not hold and no rotation is about to overwrite
// it.
func (s *Syncer) checkPassword(remoteRecords []vault.Record) error {
	for _, rec := range remoteRecords {
		if rec.Kind() != vault.KindInfo {
			continue
		}
		info, err := vault.InfoFromRecord(rec)
		if err != nil {
			return nil
		}
		if info.Encryption != vault.EncryptionUser || s.enc.Knows(info.EncryptionReference) {
			return nil
		}
		if s.rotation.IsRotationNeeded() || s.rotation.State() == reencrypt.InProgress {
			return nil
		}
		return vserrors.ErrPasswordRequired
	}
	return nil
}

func (s *Syncer) pull(ctx context.Context, zone vault.ZoneID, remoteRecords []vault.Record, tombstones []vault.EntityReference, result *Result) (map[vault.Identity]bool, error) {
	snap, err := s.engine.ListLocalEntities(ctx)
	if err != nil {
		return nil, err
	}

	plan := s.engine.PlanPull(zone, snap, remoteRecords, tombstones)
	s.engine.QueueDeletions(plan.Deletions...)
	s.engine.QueueUpserts(plan.Upserts...)
	commit, err := s.engine.Commit(ctx)
	if err != nil {
		return nil, err
	}

	for kind, n := range commit.Applied {
		s.metrics.RecordPulled(string(kind), n)
		result.Pulled += n
	}
	for _, n := range commit.Deleted {
		result.Pulled += n
	}

	skipped := make(map[vault.Identity]bool, len(commit.Skipped))
	for _, id := range commit.Skipped {
		skipped[id] = true
	}
	if len(skipped) > 0 {
		s.logger.Warn("%d remote records could not be read and were left in place", len(skipped))
	}
	return skipped, nil
}

func (s *Syncer) push(ctx context.Context, zone vault.ZoneID, remoteRecords []vault.Record, tombstones []vault.EntityReference, skipped map[vault.Identity]bool, result *Result) error {
	snap, err := s.engine.ListLocalEntities(ctx)
	if err != nil {
		return err
	}

	rotating := zone.IsUnified() && s.rotation.IsRotationNeeded()
	planPush := s.engine.PlanPush
	if rotating {
		planPush = s.engine.PlanStructurePush
	}
	plan, err := planPush(ctx, zone, snap, remoteRecords, tombstones)
	if err != nil {
		return err
	}
	save := plan.Records

	var batch []vault.Record
	if rotating {
		batch, err = s.rotation.BuildRotationBatch(ctx, zone, s.engine.ComputeUpsertSet(snap, tombstones))
		if err != nil {
			return err
		}
		if batch != nil {
			defer s.rotation.Abort()
			save = reconcile.AlignMetadata(append(batch, sectionsOf(plan.Records)...), remoteRecords)
		}
	}

	deletes := s.deletions(zone, snap, remoteRecords, tombstones, skipped)
	if len(save) == 0 && len(deletes) == 0 {
		return s.repo.ClearPendingDeletions(ctx, tombstones)
	}

	saved, err := s.store.Modify(ctx, zone, save, deletes)
	if err != nil {
		return err
	}
	if batch != nil {
		s.rotation.MarkBatchApplied()
	}

	s.engine.QueueUpserts(saved...)
	if _, err := s.engine.Commit(ctx); err != nil {
		return fmt.Errorf("failed to store new metadata: %w", err)
	}
	if err := s.repo.ClearPendingDeletions(ctx, tombstones); err != nil {
		return fmt.Errorf("failed to clear pending deletions: %w", err)
	}

	pushed := make(map[vault.RecordKind]int)
	for _, rec := range saved {
		pushed[rec.Kind()]++
	}
	for kind, n := range pushed {
		s.metrics.RecordPushed(string(kind), n)
	}
	deleted := make(map[vault.RecordKind]int)
	for _, id := range deletes {
		deleted[id.Kind]++
	}
	for kind, n := range deleted {
		s.metrics.RecordDeleted(string(kind), n)
	}

	result.Pushed += len(saved)
	result.Deleted += len(deletes)
	s.logger.Debug("Pushed %d and deleted %d records in %s", len(saved), len(deletes), zone)
	return nil
}

// deletions returns the remote records to delete: tombstoned entities and
// orphans local state no longer accounts for. Records that could not be
// read this pass are never deleted.
func (s *Syncer) deletions(zone vault.ZoneID, snap reconcile.Snapshot, remoteRecords []vault.Record, tombstones []vault.EntityReference, skipped map[vault.Identity]bool) []vault.RecordID {
	present := make(map[vault.RecordID]bool, len(remoteRecords))
	for _, rec := range remoteRecords {
		present[rec.ID] = true
	}

	seen := make(map[vault.RecordID]bool)
	var out []vault.RecordID
	add := func(id vault.RecordID) {
		if !seen[id] && present[id] && !skipped[id.Identity()] {
			seen[id] = true
			out = append(out, id)
		}
	}

	for _, ref := range tombstones {
		if ref.Kind == vault.KindInfo {
			continue
		}
		add(ref.RecordID(zone))
	}

	known := s.engine.AllRemoteIdentifiers(zone, snap)
	for _, rec := range remoteRecords {
		if rec.Kind() == vault.KindInfo {
			continue
		}
		if _, ok := known[rec.ID]; !ok {
			add(rec.ID)
		}
	}
	return out
}

func sectionsOf(recs []vault.Record) []vault.Record {
	var out []vault.Record
	for _, rec := range recs {
		if rec.Kind() == vault.KindSection {
			out = append(out, rec)
		}
	}
	return out
}
