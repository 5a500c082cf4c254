package localstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/systmms/vaultsync/internal/events"
	"github.com/systmms/vaultsync/pkg/vault"
)

// Audit log actions.
const (
	ActionAdded   = "added"
	ActionUpdated = "updated"
)

// Editor applies user edits to a Repository. Removals are recorded as pending
// deletions so the next sync pass removes the remote copy, and every edit
// emits ServicesUpdated or SectionsUpdated.
type Editor struct {
	repo   Repository
	events events.Emitter
	now    func() time.Time
}

// NewEditor returns an editor writing to repo. A nil emitter discards signals.
func NewEditor(repo Repository, emitter events.Emitter) *Editor {
	if emitter == nil {
		emitter = events.Nop{}
	}
	return &Editor{repo: repo, events: emitter, now: time.Now}
}

// AddSection appends a section with a fresh identifier.
func (e *Editor) AddSection(ctx context.Context, title string) (vault.Section, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return vault.Section{}, fmt.Errorf("section title is required")
	}
	sections, err := e.repo.Sections(ctx)
	if err != nil {
		return vault.Section{}, err
	}
	sec := vault.Section{SectionID: uuid.NewString(), Title: title, Order: len(sections)}
	if err := e.repo.SaveSections(ctx, []vault.Stored[vault.Section]{{Value: sec}}, nil); err != nil {
		return vault.Section{}, err
	}
	e.events.Emit(events.New(events.SectionsUpdated))
	return sec, nil
}

// RemoveSection deletes a section. Its services move to the unsectioned list.
func (e *Editor) RemoveSection(ctx context.Context, id string) error {
	stored, ok, err := e.repo.Section(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("section %s not found", id)
	}

	services, err := e.repo.Services(ctx)
	if err != nil {
		return err
	}
	var moved []vault.Stored[vault.Service]
	for _, s := range services {
		if s.Value.SectionID == id {
			s.Value.SectionID = ""
			moved = append(moved, s)
		}
	}

	if err := e.repo.AddPendingDeletion(ctx, stored.Value.Reference()); err != nil {
		return err
	}
	if err := e.repo.SaveSections(ctx, nil, []string{id}); err != nil {
		return err
	}
	e.events.Emit(events.New(events.SectionsUpdated))

	if len(moved) > 0 {
		if err := e.repo.SaveServices(ctx, moved, nil); err != nil {
			return err
		}
		e.events.Emit(events.New(events.ServicesUpdated))
	}
	return nil
}

// AddService creates or updates a service keyed by its secret, keeping the
// remote metadata of an existing copy. A previously removed service is no
// longer pending deletion once re-added.
func (e *Editor) AddService(ctx context.Context, svc vault.Service) error {
	if svc.Secret == "" {
		return fmt.Errorf("service secret is required")
	}
	existing, ok, err := e.repo.Service(ctx, svc.Secret)
	if err != nil {
		return err
	}
	if svc.SectionID != "" {
		if _, found, err := e.repo.Section(ctx, svc.SectionID); err != nil {
			return err
		} else if !found {
			return fmt.Errorf("section %s not found", svc.SectionID)
		}
	}

	action := ActionAdded
	stored := vault.Stored[vault.Service]{Value: svc}
	if ok {
		action = ActionUpdated
		stored.Metadata = existing.Metadata
	} else {
		services, err := e.repo.Services(ctx)
		if err != nil {
			return err
		}
		stored.Value.SectionOrder = countInSection(services, svc.SectionID)
	}

	if err := e.repo.ClearPendingDeletions(ctx, []vault.EntityReference{svc.Reference(vault.KindServiceV3)}); err != nil {
		return err
	}
	if err := e.repo.SaveServices(ctx, []vault.Stored[vault.Service]{stored}, nil); err != nil {
		return err
	}
	if err := e.repo.AppendLog(ctx, LogEntry{ID: uuid.NewString(), Secret: svc.Secret, Action: action, At: e.now()}); err != nil {
		return err
	}
	e.events.Emit(events.New(events.ServicesUpdated))
	return nil
}

// RemoveService deletes a service and its audit log.
func (e *Editor) RemoveService(ctx context.Context, secret string) error {
	stored, ok, err := e.repo.Service(ctx, secret)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("service not found")
	}
	if err := e.repo.AddPendingDeletion(ctx, stored.Value.Reference(vault.KindServiceV3)); err != nil {
		return err
	}
	if err := e.repo.SaveServices(ctx, nil, []string{secret}); err != nil {
		return err
	}
	if err := e.repo.DeleteLogs(ctx, secret); err != nil {
		return err
	}
	e.events.Emit(events.New(events.ServicesUpdated))
	return nil
}

func countInSection(services []vault.Stored[vault.Service], sectionID string) int {
	n := 0
	for _, s := range services {
		if s.Value.SectionID == sectionID {
			n++
		}
	}
	return n
}
