package reconcile

import (
	"context"
	"fmt"

	"github.com/systmms/vaultsync/internal/localstore"
	"github.com/systmms/vaultsync/pkg/vault"
)

// changeSet is the pending change set of one cycle.
type changeSet struct {
	deleted map[vault.Identity]vault.EntityReference
	order   []vault.Identity
	upserts []vault.Record
}

func newChangeSet() changeSet {
	return changeSet{deleted: make(map[vault.Identity]vault.EntityReference)}
}

func (c changeSet) empty() bool {
	return len(c.deleted) == 0 && len(c.upserts) == 0
}

// CommitResult summarizes what a commit applied locally.
type CommitResult struct {
	Applied map[vault.RecordKind]int
	Deleted map[vault.Family]int

	// Skipped lists identities of records that could not be decoded.
	Skipped []vault.Identity
}

// batch collects local writes so each family is saved once.
type batch struct {
	sections       map[string]vault.Stored[vault.Section]
	sectionDeletes map[string]bool
	services       map[string]vault.Stored[vault.Service]
	serviceDeletes map[string]bool
	info           *vault.Stored[vault.Info]
	infoDelete     bool
	infoTouched    bool
}

func newBatch() *batch {
	return &batch{
		sections:       make(map[string]vault.Stored[vault.Section]),
		sectionDeletes: make(map[string]bool),
		services:       make(map[string]vault.Stored[vault.Service]),
		serviceDeletes: make(map[string]bool),
	}
}

func (b *batch) delete(ref vault.EntityReference) {
	switch ref.Kind.Family() {
	case vault.FamilySection:
		delete(b.sections, ref.EntityID)
		b.sectionDeletes[ref.EntityID] = true
	case vault.FamilyService:
		delete(b.services, ref.EntityID)
		b.serviceDeletes[ref.EntityID] = true
	default:
		b.info = nil
		b.infoDelete = true
		b.infoTouched = true
	}
}

func (b *batch) putSection(s vault.Stored[vault.Section]) {
	delete(b.sectionDeletes, s.Value.SectionID)
	b.sections[s.Value.SectionID] = s
}

func (b *batch) putService(s vault.Stored[vault.Service]) {
	delete(b.serviceDeletes, s.Value.Secret)
	b.services[s.Value.Secret] = s
}

func (b *batch) putInfo(s vault.Stored[vault.Info]) {
	b.info = &s
	b.infoDelete = false
	b.infoTouched = true
}

func mapValues[T any](m map[string]T) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func mapKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// flush writes every staged change in one repository batch.
func (b *batch) flush(ctx context.Context, e *Engine) error {
	if err := e.repo.SaveBatch(ctx, localstore.Batch{
		Sections:       mapValues(b.sections),
		SectionDeletes: mapKeys(b.sectionDeletes),
		Services:       mapValues(b.services),
		ServiceDeletes: mapKeys(b.serviceDeletes),
		ReplaceInfo:    b.infoTouched,
		Info:           b.info,
	}); err != nil {
		return fmt.Errorf("failed to save local changes: %w", err)
	}
	return nil
}

// decode turns a remote record into its local payload and stages it in b.
func (e *Engine) decode(ctx context.Context, rec vault.Record, b *batch) error {
	switch rec.Kind() {
	case vault.KindSection:
		sec, err := vault.SectionFromRecord(rec)
		if err != nil {
			return err
		}
		b.putSection(vault.Stored[vault.Section]{Value: sec, Metadata: rec.Metadata})

	case vault.KindServiceV2, vault.KindServiceV3:
		base, ok := b.services[rec.ID.Name]
		if !ok {
			local, _, err := e.repo.Service(ctx, rec.ID.Name)
			if err != nil {
				return fmt.Errorf("failed to load service: %w", err)
			}
			base = local
		}
		svc, err := e.codec.ServiceFromRecord(rec, base.Value)
		if err != nil {
			return err
		}
		if svc.Secret != rec.ID.Name {
			return fmt.Errorf("service record %s decodes to another secret", rec.ID)
		}
		b.putService(vault.Stored[vault.Service]{Value: svc, Metadata: rec.Metadata})

	case vault.KindInfo:
		info, err := vault.InfoFromRecord(rec)
		if err != nil {
			return err
		}
		b.putInfo(vault.Stored[vault.Info]{Value: info, Metadata: rec.Metadata})

	default:
		return fmt.Errorf("%w: %s", vault.ErrWrongKind, rec.Kind())
	}
	return nil
}

// ApplyRemoteChange updates or creates the local entity described by rec and
// saves it immediately. Fields the record's schema does not carry keep their
// local values.
func (e *Engine) ApplyRemoteChange(ctx context.Context, rec vault.Record) error {
	b := newBatch()
	if err := e.decode(ctx, rec, b); err != nil {
		return fmt.Errorf("failed to apply %s: %w", rec.ID, err)
	}
	return b.flush(ctx, e)
}

// QueueDeletions stages local deletions for the next commit.
func (e *Engine) QueueDeletions(refs ...vault.EntityReference) {
	for _, ref := range refs {
		id := ref.Identity()
		if _, ok := e.pending.deleted[id]; !ok {
			e.pending.order = append(e.pending.order, id)
		}
		e.pending.deleted[id] = ref
	}
}

// QueueUpserts stages remote records to apply locally on the next commit.
func (e *Engine) QueueUpserts(recs ...vault.Record) {
	e.pending.upserts = append(e.pending.upserts, recs...)
}

// Commit applies the pending change set to the local repository: deletions
// first, then upserts, then one save per affected kind. Records that cannot
// be decoded are skipped and reported. The change set is cleared once the
// save succeeded; committing an empty set does nothing.
func (e *Engine) Commit(ctx context.Context) (CommitResult, error) {
	result := CommitResult{
		Applied: make(map[vault.RecordKind]int),
		Deleted: make(map[vault.Family]int),
	}
	if e.pending.empty() {
		return result, nil
	}

	b := newBatch()
	for _, id := range e.pending.order {
		ref := e.pending.deleted[id]
		b.delete(ref)
		result.Deleted[id.Family]++
	}
	for _, rec := range e.pending.upserts {
		if err := e.decode(ctx, rec, b); err != nil {
			e.logger.Warn("Skipping remote record %s/%s: %v", rec.Kind(), logName(rec.ID), err)
			result.Skipped = append(result.Skipped, rec.ID.Identity())
			continue
		}
		result.Applied[rec.Kind()]++
	}

	if err := b.flush(ctx, e); err != nil {
		return CommitResult{}, err
	}
	e.Cleanup()
	return result, nil
}

// Cleanup discards the pending change set.
func (e *Engine) Cleanup() {
	e.pending = newChangeSet()
}

// logName hides service record names, which are raw secrets.
func logName(id vault.RecordID) string {
	if id.Kind.IsService() {
		return "<service>"
	}
	return id.Name
}
