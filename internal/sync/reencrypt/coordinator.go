// Package reencrypt drives credential re-encryption after the encryption
// scheme or key changed.
//
// A rotation replaces the regular push of one cycle: every service is
// rebuilt under the active key and sent together with an updated Info
// record. The rotation only counts as finished once that cycle succeeded.
package reencrypt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	vserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/events"
	"github.com/systmms/vaultsync/internal/logging"
	"github.com/systmms/vaultsync/internal/metrics"
	"github.com/systmms/vaultsync/internal/sync/reconcile"
	"github.com/systmms/vaultsync/pkg/vault"
)

// State is the rotation state.
type State int

const (
	Idle State = iota
	Pending
	InProgress
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case InProgress:
		return "in_progress"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Policy answers whether a rotation is required.
type Policy interface {
	RotationRequired() bool
}

// Builder maps local entities to records.
type Builder interface {
	BuildRecord(ctx context.Context, zone vault.ZoneID, kind vault.RecordKind, entity vault.Entity, md *vault.Metadata, snap reconcile.Snapshot) (vault.Record, error)
	InfoFor(zone vault.ZoneID, local *vault.Stored[vault.Info]) vault.Info
}

// Coordinator tracks one rotation at a time.
type Coordinator struct {
	policy  Policy
	builder Builder
	events  events.Emitter
	logger  *logging.Logger
	metrics *metrics.SyncMetrics
	onDone  func()

	mu       sync.Mutex
	latched  bool
	inFlight bool
	checked  bool
	zone     vault.ZoneID
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records completed rotations.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithCompletion registers fn to run whenever a rotation finishes.
func WithCompletion(fn func()) Option {
	return func(c *Coordinator) {
		c.onDone = fn
	}
}

// NewCoordinator creates an idle coordinator.
func NewCoordinator(policy Policy, builder Builder, emitter events.Emitter, opts ...Option) *Coordinator {
	if emitter == nil {
		emitter = events.Nop{}
	}
	c := &Coordinator{
		policy:  policy,
		builder: builder,
		events:  emitter,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state. An in-flight rotation reports
// InProgress even while the latch is still set.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Coordinator) stateLocked() State {
	switch {
	case c.inFlight:
		return InProgress
	case c.latched:
		return Pending
	default:
		return Idle
	}
}

// Reset forgets the memoized policy answer and the latch. It is called on
// every bootstrap.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checked = false
	c.latched = false
}

// Request latches a rotation regardless of the policy. It is used when the
// key changed in this process.
func (c *Coordinator) Request() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checked = true
	c.latched = true
}

// IsRotationNeeded consults the policy once per bootstrap. A positive answer
// latches Pending until MarkBatchApplied.
func (c *Coordinator) IsRotationNeeded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.checked {
		c.checked = true
		if c.policy != nil && c.policy.RotationRequired() {
			c.latched = true
		}
	}
	return c.latched
}

// BuildRotationBatch re-derives every service record of snap under the
// active key and appends an updated Info record. It returns nil unless a
// rotation is pending and not already in flight. Services that cannot be mapped are skipped with a
// SecretError or an encryption warning.
//
// When no service can be encrypted the rotation is treated as finished
// without touching the remote store.
func (c *Coordinator) BuildRotationBatch(ctx context.Context, zone vault.ZoneID, snap reconcile.Snapshot) ([]vault.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stateLocked() != Pending {
		return nil, nil
	}

	var batch []vault.Record
	for _, svc := range snap.Services {
		md := svc.Metadata
		rec, err := c.builder.BuildRecord(ctx, zone, vault.KindServiceV3, svc.Value, &md, snap)
		if err != nil {
			var verr vserrors.ValidationError
			var eerr vserrors.EncryptionError
			if errors.As(err, &verr) || errors.As(err, &eerr) {
				continue
			}
			return nil, err
		}
		batch = append(batch, rec)
	}

	if len(batch) == 0 {
		c.logger.Info("No services to re-encrypt")
		c.latched = false
		c.finishLocked()
		return nil, nil
	}

	var md *vault.Metadata
	if snap.Info != nil {
		md = &snap.Info.Metadata
	}
	info, err := c.builder.BuildRecord(ctx, zone, vault.KindInfo, c.builder.InfoFor(zone, snap.Info), md, snap)
	if err != nil {
		return nil, err
	}
	batch = append(batch, info)

	c.inFlight = true
	c.zone = zone
	c.logger.Info("Re-encrypting %d services", len(batch)-1)
	ev := events.New(events.RotationStarted)
	ev.Zone = zone
	c.events.Emit(ev)
	return batch, nil
}

// MarkBatchApplied clears the Pending latch once the batch was written. The
// rotation stays in progress until OnSyncSucceeded.
func (c *Coordinator) MarkBatchApplied() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latched = false
}

// Abort returns an in-flight batch that was never written to Pending, so
// the next pass rebuilds it.
func (c *Coordinator) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight && c.latched {
		c.inFlight = false
	}
}

// OnSyncSucceeded finishes an in-flight rotation.
func (c *Coordinator) OnSyncSucceeded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.inFlight {
		return
	}
	c.inFlight = false
	ev := events.New(events.RotationFinished)
	ev.Zone = c.zone
	c.events.Emit(ev)
	c.finishLocked()
}

func (c *Coordinator) finishLocked() {
	c.metrics.RecordRotationCompleted()
	if c.onDone != nil {
		c.onDone()
	}
}
