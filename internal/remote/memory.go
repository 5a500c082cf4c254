package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"

	vserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/pkg/vault"
)

// MemoryStore is an in-process Store. It is used by tests and by the
// "memory" remote type for dry runs.
type MemoryStore struct {
	mu         sync.Mutex
	zones      map[vault.ZoneID]map[string]vault.Record
	tagSeq     int64
	predicates *predicateCache

	recordErrs map[vault.RecordID]error
	queryErr   error
	modifyErr  error
	modifies   int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		zones:      make(map[vault.ZoneID]map[string]vault.Record),
		predicates: newPredicateCache(),
		recordErrs: make(map[vault.RecordID]error),
	}
}

// Name implements Store.
func (s *MemoryStore) Name() string {
	return "memory"
}

func recordKey(kind vault.RecordKind, name string) string {
	return string(kind) + "/" + name
}

func (s *MemoryStore) nextTag() string {
	s.tagSeq++
	return fmt.Sprintf("m%d", s.tagSeq)
}

func cloneRecord(rec vault.Record) vault.Record {
	rec.Fields = rec.Fields.Clone()
	return rec
}

// Put stores rec unconditionally and returns it with fresh metadata. It
// simulates a write by another device.
func (s *MemoryStore) Put(rec vault.Record) vault.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(rec)
}

func (s *MemoryStore) putLocked(rec vault.Record) vault.Record {
	records, ok := s.zones[rec.ID.Zone]
	if !ok {
		records = make(map[string]vault.Record)
		s.zones[rec.ID.Zone] = records
	}
	rec = cloneRecord(rec)
	rec.Metadata = vault.Metadata{Zone: rec.ID.Zone, Kind: rec.ID.Kind, Tag: s.nextTag()}
	records[recordKey(rec.ID.Kind, rec.ID.Name)] = rec
	return cloneRecord(rec)
}

// Remove deletes a record unconditionally.
func (s *MemoryStore) Remove(id vault.RecordID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.zones[id.Zone], recordKey(id.Kind, id.Name))
}

// InjectRecordError makes queries report err for the record id instead of
// delivering it.
func (s *MemoryStore) InjectRecordError(id vault.RecordID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordErrs[id] = err
}

// FailNextQuery makes the next Query or Fetch fail with err.
func (s *MemoryStore) FailNextQuery(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryErr = err
}

// FailNextModify makes the next Modify fail with err without applying it.
func (s *MemoryStore) FailNextModify(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modifyErr = err
}

// ModifyCount returns how many Modify calls reached the store.
func (s *MemoryStore) ModifyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modifies
}

func (s *MemoryStore) takeQueryErr() error {
	err := s.queryErr
	s.queryErr = nil
	return err
}

// sortedZones returns the known zones in stable order.
func (s *MemoryStore) sortedZones() []vault.ZoneID {
	zones := make([]vault.ZoneID, 0, len(s.zones))
	for z := range s.zones {
		zones = append(zones, z)
	}
	sort.Slice(zones, func(i, j int) bool {
		return zones[i].String() < zones[j].String()
	})
	return zones
}

func sortedRecords(records map[string]vault.Record) []vault.Record {
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]vault.Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, cloneRecord(records[k]))
	}
	return out
}

// Query implements Store.
func (s *MemoryStore) Query(ctx context.Context, q Query, fn func(Match) error) error {
	program, err := s.predicates.load(q.Predicate)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.takeQueryErr(); err != nil {
		s.mu.Unlock()
		return err
	}
	var matches []Match
	for _, zone := range s.sortedZones() {
		if !zoneSelected(q, zone) {
			continue
		}
		for _, rec := range sortedRecords(s.zones[zone]) {
			if rec.ID.Kind != q.Kind {
				continue
			}
			if err, ok := s.recordErrs[rec.ID]; ok {
				matches = append(matches, Match{ID: rec.ID, Err: err})
				continue
			}
			matches = append(matches, Match{ID: rec.ID, Record: rec})
		}
	}
	s.mu.Unlock()

	delivered := 0
	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.Err == nil {
			ok, err := program.eval(m.Record)
			if err != nil {
				m = Match{ID: m.ID, Err: err}
			} else if !ok {
				continue
			}
		}
		if err := fn(m); err != nil {
			return err
		}
		if m.Err == nil {
			delivered++
			if q.Limit > 0 && delivered >= q.Limit {
				return nil
			}
		}
	}
	return nil
}

// Fetch implements Store.
func (s *MemoryStore) Fetch(ctx context.Context, zone vault.ZoneID) ([]vault.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeQueryErr(); err != nil {
		return nil, err
	}
	return sortedRecords(s.zones[zone]), nil
}

// Modify implements Store. The batch is applied atomically: if any record
// carries stale metadata nothing is written.
func (s *MemoryStore) Modify(ctx context.Context, zone vault.ZoneID, save []vault.Record, deletes []vault.RecordID) ([]vault.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.modifies++
	if err := s.modifyErr; err != nil {
		s.modifyErr = nil
		return nil, vserrors.CommitError{Zone: zone.String(), Err: err}
	}

	records := s.zones[zone]
	var conflicts []string
	for _, rec := range save {
		if rec.ID.Zone != zone {
			return nil, fmt.Errorf("record %s does not belong to zone %s", rec.ID, zone)
		}
		current, exists := records[recordKey(rec.ID.Kind, rec.ID.Name)]
		switch {
		case rec.Metadata.IsZero() && exists:
			conflicts = append(conflicts, rec.ID.String())
		case !rec.Metadata.IsZero() && (!exists || current.Metadata.Tag != rec.Metadata.Tag):
			conflicts = append(conflicts, rec.ID.String())
		}
	}
	if len(conflicts) > 0 {
		return nil, vserrors.CommitError{Zone: zone.String(), Conflicts: conflicts, Err: vserrors.ErrConflict}
	}

	for _, id := range deletes {
		delete(records, recordKey(id.Kind, id.Name))
	}
	saved := make([]vault.Record, 0, len(save))
	for _, rec := range save {
		saved = append(saved, s.putLocked(rec))
	}
	return saved, nil
}
