// Package reconcile computes the difference between local entities and the
// records of one remote zone, and applies remote changes back to the local
// repository.
//
// Local state is authoritative for payloads: records are always rebuilt from
// local entities. The remote store is authoritative for existence: records
// changed or removed remotely are pulled before anything is pushed.
package reconcile

import (
	"github.com/systmms/vaultsync/internal/events"
	"github.com/systmms/vaultsync/internal/localstore"
	"github.com/systmms/vaultsync/internal/logging"
	"github.com/systmms/vaultsync/internal/metrics"
	"github.com/systmms/vaultsync/pkg/vault"
)

// ServiceCodec converts services to and from records of both generations.
type ServiceCodec interface {
	CreateServiceRecordV3(zone vault.ZoneID, svc vault.Service, md *vault.Metadata, siblings []vault.Service) (vault.Record, error)
	CreateServiceRecordV2(zone vault.ZoneID, svc vault.Service, md *vault.Metadata, siblings []vault.Service) (vault.Record, error)
	ServiceFromRecord(rec vault.Record, base vault.Service) (vault.Service, error)
	IsCurrentEncryption(rec vault.Record) bool
}

// KeyState describes the active encryption scheme written into Info records.
type KeyState interface {
	Type() vault.EncryptionType
	Reference() []byte
}

// Engine is the reconciliation engine for one local repository. It holds
// the pending change set of the current cycle; callers must not run two
// cycles on the same engine concurrently.
type Engine struct {
	repo    localstore.Repository
	codec   ServiceCodec
	keys    KeyState
	events  events.Emitter
	logger  *logging.Logger
	metrics *metrics.SyncMetrics

	pending changeSet
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records secret validation errors.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an engine.
func NewEngine(repo localstore.Repository, codec ServiceCodec, keys KeyState, emitter events.Emitter, opts ...Option) *Engine {
	if emitter == nil {
		emitter = events.Nop{}
	}
	e := &Engine{
		repo:    repo,
		codec:   codec,
		keys:    keys,
		events:  emitter,
		logger:  logging.Discard(),
		pending: newChangeSet(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Repository returns the local repository.
func (e *Engine) Repository() localstore.Repository {
	return e.repo
}
