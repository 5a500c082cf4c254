package localstore

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/systmms/vaultsync/pkg/vault"
)

// MemoryStore is a Repository held in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	sections  map[string]vault.Stored[vault.Section]
	services  map[string]vault.Stored[vault.Service]
	info      *vault.Stored[vault.Info]
	pending   map[vault.Identity]vault.EntityReference
	logs      []LogEntry
	saveCalls map[vault.Family]int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sections:  make(map[string]vault.Stored[vault.Section]),
		services:  make(map[string]vault.Stored[vault.Service]),
		pending:   make(map[vault.Identity]vault.EntityReference),
		saveCalls: make(map[vault.Family]int),
	}
}

// SaveCalls returns how many batched saves were applied for family.
func (m *MemoryStore) SaveCalls(family vault.Family) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saveCalls[family]
}

func (m *MemoryStore) Sections(_ context.Context) ([]vault.Stored[vault.Section], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]vault.Stored[vault.Section], 0, len(m.sections))
	for _, s := range m.sections {
		out = append(out, s)
	}
	sortSections(out)
	return out, nil
}

func (m *MemoryStore) Section(_ context.Context, id string) (vault.Stored[vault.Section], bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sections[id]
	return s, ok, nil
}

func (m *MemoryStore) SaveSections(_ context.Context, upserts []vault.Stored[vault.Section], deletes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveSectionsLocked(upserts, deletes)
	return nil
}

func (m *MemoryStore) saveSectionsLocked(upserts []vault.Stored[vault.Section], deletes []string) {
	for _, id := range deletes {
		delete(m.sections, id)
	}
	for _, s := range upserts {
		m.sections[s.Value.SectionID] = s
	}
	m.saveCalls[vault.FamilySection]++
}

func (m *MemoryStore) Services(_ context.Context) ([]vault.Stored[vault.Service], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]vault.Stored[vault.Service], 0, len(m.services))
	for _, s := range m.services {
		out = append(out, s)
	}
	sortServices(out)
	return out, nil
}

func (m *MemoryStore) Service(_ context.Context, secret string) (vault.Stored[vault.Service], bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.services[secret]
	return s, ok, nil
}

func (m *MemoryStore) SaveServices(_ context.Context, upserts []vault.Stored[vault.Service], deletes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveServicesLocked(upserts, deletes)
	return nil
}

func (m *MemoryStore) saveServicesLocked(upserts []vault.Stored[vault.Service], deletes []string) {
	for _, secret := range deletes {
		delete(m.services, secret)
	}
	for _, s := range upserts {
		m.services[s.Value.Secret] = s
	}
	m.saveCalls[vault.FamilyService]++
}

func (m *MemoryStore) Info(_ context.Context) (vault.Stored[vault.Info], bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.info == nil {
		return vault.Stored[vault.Info]{}, false, nil
	}
	info := *m.info
	info.Value.AllowedDevices = slices.Clone(info.Value.AllowedDevices)
	info.Value.EncryptionReference = slices.Clone(info.Value.EncryptionReference)
	return info, true, nil
}

func (m *MemoryStore) SaveInfo(_ context.Context, info *vault.Stored[vault.Info]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveInfoLocked(info)
	return nil
}

func (m *MemoryStore) saveInfoLocked(info *vault.Stored[vault.Info]) {
	m.saveCalls[vault.FamilyInfo]++
	if info == nil {
		m.info = nil
		return
	}
	cp := *info
	cp.Value.AllowedDevices = slices.Clone(cp.Value.AllowedDevices)
	cp.Value.EncryptionReference = slices.Clone(cp.Value.EncryptionReference)
	m.info = &cp
}

// SaveBatch applies b under one lock. Each touched kind counts as one save.
func (m *MemoryStore) SaveBatch(_ context.Context, b Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.hasSections() {
		m.saveSectionsLocked(b.Sections, b.SectionDeletes)
	}
	if b.hasServices() {
		m.saveServicesLocked(b.Services, b.ServiceDeletes)
	}
	if b.ReplaceInfo {
		m.saveInfoLocked(b.Info)
	}
	return nil
}

func (m *MemoryStore) PendingDeletions(_ context.Context) ([]vault.EntityReference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]vault.EntityReference, 0, len(m.pending))
	for _, ref := range m.pending {
		out = append(out, ref)
	}
	slices.SortFunc(out, func(a, b vault.EntityReference) int {
		return compareIdentity(a.Identity(), b.Identity())
	})
	return out, nil
}

func (m *MemoryStore) AddPendingDeletion(_ context.Context, ref vault.EntityReference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[ref.Identity()] = ref
	return nil
}

func (m *MemoryStore) ClearPendingDeletions(_ context.Context, refs []vault.EntityReference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ref := range refs {
		delete(m.pending, ref.Identity())
	}
	return nil
}

func (m *MemoryStore) AppendLog(_ context.Context, entry LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, entry)
	return nil
}

func (m *MemoryStore) Logs(_ context.Context, secret string) ([]LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []LogEntry
	for _, e := range m.logs {
		if e.Secret == secret {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) DeleteLogs(_ context.Context, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = slices.DeleteFunc(m.logs, func(e LogEntry) bool {
		return e.Secret == secret
	})
	return nil
}

func (m *MemoryStore) ClearMetadata(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sections {
		s.Metadata = vault.Metadata{}
		m.sections[id] = s
	}
	for id, s := range m.services {
		s.Metadata = vault.Metadata{}
		m.services[id] = s
	}
	if m.info != nil {
		m.info.Metadata = vault.Metadata{}
	}
	return nil
}

func (m *MemoryStore) Purge(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sections = make(map[string]vault.Stored[vault.Section])
	m.services = make(map[string]vault.Stored[vault.Service])
	m.info = nil
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func compareIdentity(a, b vault.Identity) int {
	return strings.Compare(a.String(), b.String())
}
