// Package localstore is the device-side repository of sections, services and
// the Info singleton, together with the remote metadata each was last synced
// with.
//
// Besides entity payloads it keeps pending deletions (local removals not yet
// pushed) and a per-secret audit log.
package localstore

import (
	"context"
	"sort"
	"time"

	"github.com/systmms/vaultsync/pkg/vault"
)

// LogEntry is one audit log line for a service.
type LogEntry struct {
	ID     string
	Secret string
	Action string
	At     time.Time
}

// Batch is a set of changes across kinds that is applied all or nothing.
type Batch struct {
	Sections       []vault.Stored[vault.Section]
	SectionDeletes []string
	Services       []vault.Stored[vault.Service]
	ServiceDeletes []string

	// ReplaceInfo makes the batch replace the Info copy with Info. A nil Info
	// removes it.
	ReplaceInfo bool
	Info        *vault.Stored[vault.Info]
}

func (b Batch) hasSections() bool {
	return len(b.Sections) > 0 || len(b.SectionDeletes) > 0
}

func (b Batch) hasServices() bool {
	return len(b.Services) > 0 || len(b.ServiceDeletes) > 0
}

// Repository is the local store contract.
//
// Save* calls apply every change of one kind as a single batch; SaveBatch
// applies changes of several kinds as one.
type Repository interface {
	Sections(ctx context.Context) ([]vault.Stored[vault.Section], error)
	Section(ctx context.Context, id string) (vault.Stored[vault.Section], bool, error)
	SaveSections(ctx context.Context, upserts []vault.Stored[vault.Section], deletes []string) error

	Services(ctx context.Context) ([]vault.Stored[vault.Service], error)
	Service(ctx context.Context, secret string) (vault.Stored[vault.Service], bool, error)
	SaveServices(ctx context.Context, upserts []vault.Stored[vault.Service], deletes []string) error

	// Info returns the local Info copy, if any.
	Info(ctx context.Context) (vault.Stored[vault.Info], bool, error)
	// SaveInfo replaces the Info copy. A nil info removes it.
	SaveInfo(ctx context.Context, info *vault.Stored[vault.Info]) error

	SaveBatch(ctx context.Context, b Batch) error

	PendingDeletions(ctx context.Context) ([]vault.EntityReference, error)
	AddPendingDeletion(ctx context.Context, ref vault.EntityReference) error
	ClearPendingDeletions(ctx context.Context, refs []vault.EntityReference) error

	AppendLog(ctx context.Context, entry LogEntry) error
	Logs(ctx context.Context, secret string) ([]LogEntry, error)
	DeleteLogs(ctx context.Context, secret string) error

	// ClearMetadata forgets every remote metadata token while keeping the
	// payloads.
	ClearMetadata(ctx context.Context) error

	// Purge removes all sections, services and Info.
	Purge(ctx context.Context) error

	Close() error
}

// sortSections orders sections by position, then identifier.
func sortSections(sections []vault.Stored[vault.Section]) {
	sort.SliceStable(sections, func(i, j int) bool {
		a, b := sections[i].Value, sections[j].Value
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.SectionID < b.SectionID
	})
}

// sortServices orders services by section, then position within it.
func sortServices(services []vault.Stored[vault.Service]) {
	sort.SliceStable(services, func(i, j int) bool {
		a, b := services[i].Value, services[j].Value
		if a.SectionID != b.SectionID {
			return a.SectionID < b.SectionID
		}
		if a.SectionOrder != b.SectionOrder {
			return a.SectionOrder < b.SectionOrder
		}
		return a.Secret < b.Secret
	})
}
