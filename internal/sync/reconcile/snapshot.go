package reconcile

import (
	"context"
	"fmt"

	"github.com/systmms/vaultsync/pkg/vault"
)

// Snapshot is the local state of one cycle: every entity kind with the
// metadata it was last synced with, in list order.
type Snapshot struct {
	Sections []vault.Stored[vault.Section]
	Services []vault.Stored[vault.Service]
	Info     *vault.Stored[vault.Info]
}

// ServiceValues returns the services without metadata, in list order.
func (s Snapshot) ServiceValues() []vault.Service {
	out := make([]vault.Service, 0, len(s.Services))
	for _, svc := range s.Services {
		out = append(out, svc.Value)
	}
	return out
}

// sectionIndex returns the position of the section in the list, or the list
// length when absent.
func (s Snapshot) sectionIndex(id string) int {
	for i, sec := range s.Sections {
		if sec.Value.SectionID == id {
			return i
		}
	}
	return len(s.Sections)
}

// metadata returns the remote metadata held locally for each identity.
func (s Snapshot) metadata() map[vault.Identity]vault.Metadata {
	out := make(map[vault.Identity]vault.Metadata, len(s.Sections)+len(s.Services)+1)
	for _, sec := range s.Sections {
		out[sec.Value.Identity()] = sec.Metadata
	}
	for _, svc := range s.Services {
		out[svc.Value.Identity()] = svc.Metadata
	}
	if s.Info != nil {
		out[vault.InfoIdentity] = s.Info.Metadata
	}
	return out
}

// ListLocalEntities reads the local repository.
func (e *Engine) ListLocalEntities(ctx context.Context) (Snapshot, error) {
	sections, err := e.repo.Sections(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to list sections: %w", err)
	}
	services, err := e.repo.Services(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to list services: %w", err)
	}
	snap := Snapshot{Sections: sections, Services: services}

	info, ok, err := e.repo.Info(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load info: %w", err)
	}
	if ok {
		snap.Info = &info
	}
	return snap, nil
}

// ComputeUpsertSet drops every entity whose identity is in deleted, so a
// removal made during the cycle is never resurrected by the push.
func (e *Engine) ComputeUpsertSet(snap Snapshot, deleted []vault.EntityReference) Snapshot {
	if len(deleted) == 0 {
		return snap
	}
	gone := make(map[vault.Identity]bool, len(deleted))
	for _, ref := range deleted {
		gone[ref.Identity()] = true
	}

	out := Snapshot{}
	for _, sec := range snap.Sections {
		if !gone[sec.Value.Identity()] {
			out.Sections = append(out.Sections, sec)
		}
	}
	for _, svc := range snap.Services {
		if !gone[svc.Value.Identity()] {
			out.Services = append(out.Services, svc)
		}
	}
	if snap.Info != nil && !gone[vault.InfoIdentity] {
		out.Info = snap.Info
	}
	return out
}

// IsCacheEmpty reports whether nothing is stored locally.
func (e *Engine) IsCacheEmpty(ctx context.Context) (bool, error) {
	snap, err := e.ListLocalEntities(ctx)
	if err != nil {
		return false, err
	}
	return len(snap.Sections) == 0 && len(snap.Services) == 0 && snap.Info == nil, nil
}

// Purge removes every local entity and discards the pending change set.
func (e *Engine) Purge(ctx context.Context) error {
	e.Cleanup()
	return e.repo.Purge(ctx)
}
