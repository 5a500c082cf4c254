package events

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// droppedTotal tracks the number of events dropped due to queue overflow.
	droppedTotal prometheus.Counter

	metricsOnce       sync.Once
	metricsRegistered bool
)

// InitMetrics registers the bus metrics. Call once at startup when metrics
// are enabled.
func InitMetrics() {
	metricsOnce.Do(func() {
		droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "vaultsync_events_dropped_total",
			Help: "Total number of sync events dropped due to queue overflow",
		})
		metricsRegistered = true
	})
}

// incrementDroppedCounter is safe to call before InitMetrics.
func incrementDroppedCounter() {
	if metricsRegistered && droppedTotal != nil {
		droppedTotal.Inc()
	}
}

// GetDroppedCounter returns the dropped counter for testing, or nil before
// InitMetrics.
func GetDroppedCounter() prometheus.Counter {
	return droppedTotal
}
