// Package metrics exposes Prometheus instrumentation for sync passes.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cycle metrics
	cycleTotal    *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec

	// Record traffic
	recordsPushedTotal  *prometheus.CounterVec
	recordsPulledTotal  *prometheus.CounterVec
	recordsDeletedTotal *prometheus.CounterVec
	secretErrorsTotal   prometheus.Counter

	// State machines
	migrationState     *prometheus.GaugeVec
	rotationsCompleted prometheus.Counter
	probeDuration      prometheus.Histogram

	metricsOnce       sync.Once
	metricsRegistered bool
)

// SyncMetrics records sync instrumentation. All methods are no-ops until
// InitMetrics has been called, so components can record unconditionally.
type SyncMetrics struct{}

// NewSyncMetrics creates a SyncMetrics recorder.
func NewSyncMetrics() *SyncMetrics {
	return &SyncMetrics{}
}

// InitMetrics registers every collector with the default registry. This
// should be called once at startup when metrics are enabled.
func InitMetrics() {
	metricsOnce.Do(func() {
		cycleTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultsync_cycles_total",
				Help: "Total number of sync cycles by result",
			},
			[]string{"result"},
		)

		cycleDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vaultsync_cycle_duration_seconds",
				Help:    "Duration of sync cycles in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
			[]string{"zone"},
		)

		recordsPushedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultsync_records_pushed_total",
				Help: "Total number of records saved to the remote store",
			},
			[]string{"kind"},
		)

		recordsPulledTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultsync_records_pulled_total",
				Help: "Total number of remote records applied locally",
			},
			[]string{"kind"},
		)

		recordsDeletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultsync_records_deleted_total",
				Help: "Total number of remote records deleted",
			},
			[]string{"kind"},
		)

		secretErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "vaultsync_secret_errors_total",
			Help: "Total number of services skipped because their secret cannot be synced",
		})

		migrationState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vaultsync_migration_state",
				Help: "Current migration state (1 for the active state, 0 otherwise)",
			},
			[]string{"state"},
		)

		rotationsCompleted = promauto.NewCounter(prometheus.CounterOpts{
			Name: "vaultsync_rotations_completed_total",
			Help: "Total number of credential re-encryptions completed",
		})

		probeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaultsync_probe_duration_seconds",
			Help:    "Duration of remote version probes in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
		})

		metricsRegistered = true
	})
}

// RecordCycle records the outcome of a sync cycle.
func (m *SyncMetrics) RecordCycle(zone, result string, durationSeconds float64) {
	if !metricsRegistered {
		return
	}
	if cycleTotal != nil {
		cycleTotal.WithLabelValues(result).Inc()
	}
	if cycleDuration != nil {
		cycleDuration.WithLabelValues(zone).Observe(durationSeconds)
	}
}

// RecordPushed records n records of kind saved remotely.
func (m *SyncMetrics) RecordPushed(kind string, n int) {
	if !metricsRegistered || recordsPushedTotal == nil || n == 0 {
		return
	}
	recordsPushedTotal.WithLabelValues(kind).Add(float64(n))
}

// RecordPulled records n remote records of kind applied locally.
func (m *SyncMetrics) RecordPulled(kind string, n int) {
	if !metricsRegistered || recordsPulledTotal == nil || n == 0 {
		return
	}
	recordsPulledTotal.WithLabelValues(kind).Add(float64(n))
}

// RecordDeleted records n remote records of kind deleted.
func (m *SyncMetrics) RecordDeleted(kind string, n int) {
	if !metricsRegistered || recordsDeletedTotal == nil || n == 0 {
		return
	}
	recordsDeletedTotal.WithLabelValues(kind).Add(float64(n))
}

// RecordSecretError records a service rejected for an invalid secret.
func (m *SyncMetrics) RecordSecretError() {
	if !metricsRegistered || secretErrorsTotal == nil {
		return
	}
	secretErrorsTotal.Inc()
}

// SetMigrationState marks state as the active migration state. Every other
// state in all is reset to 0.
func (m *SyncMetrics) SetMigrationState(state string, all []string) {
	if !metricsRegistered || migrationState == nil {
		return
	}
	for _, s := range all {
		migrationState.WithLabelValues(s).Set(0)
	}
	migrationState.WithLabelValues(state).Set(1)
}

// RecordRotationCompleted records a finished credential re-encryption.
func (m *SyncMetrics) RecordRotationCompleted() {
	if !metricsRegistered || rotationsCompleted == nil {
		return
	}
	rotationsCompleted.Inc()
}

// RecordProbe records the duration of a version probe.
func (m *SyncMetrics) RecordProbe(durationSeconds float64) {
	if !metricsRegistered || probeDuration == nil {
		return
	}
	probeDuration.Observe(durationSeconds)
}

// GetCycleTotal returns the cycle counter for testing.
func GetCycleTotal() *prometheus.CounterVec {
	return cycleTotal
}

// GetRecordsPushedTotal returns the pushed counter for testing.
func GetRecordsPushedTotal() *prometheus.CounterVec {
	return recordsPushedTotal
}

// GetSecretErrorsTotal returns the secret error counter for testing.
func GetSecretErrorsTotal() prometheus.Counter {
	return secretErrorsTotal
}

// GetMigrationState returns the migration gauge for testing.
func GetMigrationState() *prometheus.GaugeVec {
	return migrationState
}

// GetRotationsCompleted returns the rotation counter for testing.
func GetRotationsCompleted() prometheus.Counter {
	return rotationsCompleted
}

// IsMetricsRegistered returns whether metrics have been initialized.
func IsMetricsRegistered() bool {
	return metricsRegistered
}
