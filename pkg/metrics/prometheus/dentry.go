// Package prometheus contains the Prometheus-backed implementations of the
// metric interfaces in pkg/metrics.
package prometheus

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/loomfs/loomfs/pkg/metrics"
)

// dentryMetrics is the Prometheus implementation of metrics.DentryMetrics.
type dentryMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	rows       prometheus.Gauge
}

// NewDentryMetrics creates a Prometheus-backed DentryMetrics instance for
// one partition.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewDentryMetrics(partitionID uint32) metrics.DentryMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()
	partition := fmt.Sprintf("%d", partitionID)

	return &dentryMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name:        "loomfs_dentry_operations_total",
				Help:        "Total number of dentry storage operations by operation and status code",
				ConstLabels: prometheus.Labels{"partition": partition},
			},
			[]string{"operation", "status"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "loomfs_dentry_operation_duration_seconds",
				Help:        "Dentry storage operation latency in seconds",
				ConstLabels: prometheus.Labels{"partition": partition},
				Buckets:     prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs .. ~1.6s
			},
			[]string{"operation"},
		),
		rows: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name:        "loomfs_dentry_rows",
				Help:        "Number of physically stored dentry rows, including tombstones and chain versions",
				ConstLabels: prometheus.Labels{"partition": partition},
			},
		),
	}
}

func (m *dentryMetrics) RecordOperation(operation string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, status).Inc()
	m.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *dentryMetrics) SetRows(count int64) {
	if m == nil {
		return
	}
	m.rows.Set(float64(count))
}
