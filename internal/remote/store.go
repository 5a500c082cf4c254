// Package remote defines the remote record store the sync engine talks to
// and provides an in-memory and an S3 implementation.
//
// A store is addressed by zone. Every record carries opaque concurrency
// metadata; writes must present the metadata they last saw and are rejected
// with ErrConflict when the record changed in between.
package remote

import (
	"context"

	"github.com/systmms/vaultsync/pkg/vault"
)

// Priority is a scheduling hint for queries. Stores may ignore it.
type Priority int

const (
	PriorityDefault Priority = iota
	PriorityHigh
	PriorityVeryHigh
)

// Query selects records of one kind.
type Query struct {
	Kind vault.RecordKind

	// Owner scopes the query to one account.
	Owner string

	// Zones restricts the query. Empty means every zone of Owner.
	Zones []vault.ZoneID

	// Predicate is an expr-lang boolean expression evaluated against the
	// record's fields plus name, kind and zone. Empty matches everything.
	Predicate string

	// Limit caps the number of matches delivered. 0 means no limit.
	Limit int

	Priority Priority
}

// Match is one query result. Err is set when this record could not be read
// or evaluated; the query itself continues.
type Match struct {
	ID     vault.RecordID
	Record vault.Record
	Err    error
}

// Store is the remote record store contract.
type Store interface {
	// Name identifies the backend in logs and errors.
	Name() string

	// Query streams matches to fn in store order. A non-nil error from fn
	// stops the query and is returned. A terminal store failure is
	// returned as the error.
	Query(ctx context.Context, q Query, fn func(Match) error) error

	// Fetch returns every record in zone.
	Fetch(ctx context.Context, zone vault.ZoneID) ([]vault.Record, error)

	// Modify saves and deletes records in zone. Records with zero metadata
	// are created; others must carry the metadata the store last issued.
	// Deleting an absent record is not an error. The saved records are
	// returned with their new metadata. Stale metadata yields an
	// errors.CommitError wrapping errors.ErrConflict.
	Modify(ctx context.Context, zone vault.ZoneID, save []vault.Record, deletes []vault.RecordID) ([]vault.Record, error)
}
