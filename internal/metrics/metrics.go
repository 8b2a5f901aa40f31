// Package metrics provides Prometheus metrics for branchfs
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for branchfs
type Metrics struct {
	// Transaction lifecycle metrics
	TxnsBegunTotal   prometheus.Counter
	TxnsAbortedTotal prometheus.Counter
	OpenTxns         prometheus.Gauge

	// Commit and merge metrics
	CommitsTotal        prometheus.Counter
	CommitRetriesTotal  prometheus.Counter
	MergeConflictsTotal prometheus.Counter
	CommitDuration      prometheus.Histogram

	// Trail runtime metrics
	TrailsTotal       *prometheus.CounterVec
	TrailRetriesTotal prometheus.Counter
	TrailDuration     prometheus.Histogram

	// Tree layer metrics
	ClonesTotal      prometheus.Counter
	PathOpensTotal   prometheus.Counter
	CopiesTotal      prometheus.Counter

	// KV engine metrics
	KvCommitsTotal  prometheus.Counter
	KvSizeBytes     prometheus.Gauge
	KvFreePages     prometheus.Gauge

	// Process metrics
	UptimeSeconds prometheus.Gauge
	StartTime     time.Time
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		StartTime: time.Now(),
	}

	// Transaction lifecycle metrics
	m.TxnsBegunTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "branchfs_txns_begun_total",
			Help: "Total number of transactions opened",
		},
	)

	m.TxnsAbortedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "branchfs_txns_aborted_total",
			Help: "Total number of transactions aborted",
		},
	)

	m.OpenTxns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "branchfs_txns_open",
			Help: "Number of currently open transactions",
		},
	)

	// Commit and merge metrics
	m.CommitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "branchfs_commits_total",
			Help: "Total number of successful commits",
		},
	)

	m.CommitRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "branchfs_commit_retries_total",
			Help: "Total number of commit rounds restarted because another commit won the race",
		},
	)

	m.MergeConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "branchfs_merge_conflicts_total",
			Help: "Total number of commits rejected with a merge conflict",
		},
	)

	m.CommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "branchfs_commit_duration_seconds",
			Help:    "Duration of commit operations in seconds, merge rounds included",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// Trail runtime metrics
	m.TrailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "branchfs_trails_total",
			Help: "Total number of trails run",
		},
		[]string{"status"},
	)

	m.TrailRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "branchfs_trail_retries_total",
			Help: "Total number of trail bodies re-run after a KV deadlock",
		},
	)

	m.TrailDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "branchfs_trail_duration_seconds",
			Help:    "Duration of individual trails in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Tree layer metrics
	m.ClonesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "branchfs_clones_total",
			Help: "Total number of copy-on-write node clones",
		},
	)

	m.PathOpensTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "branchfs_path_opens_total",
			Help: "Total number of path resolutions",
		},
	)

	m.CopiesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "branchfs_copies_total",
			Help: "Total number of copy operations with history",
		},
	)

	// KV engine metrics
	m.KvCommitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "branchfs_kv_commits_total",
			Help: "Total number of KV write transactions committed",
		},
	)

	m.KvSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "branchfs_kv_size_bytes",
			Help: "Current database file size in bytes",
		},
	)

	m.KvFreePages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "branchfs_kv_free_pages",
			Help: "Number of recyclable pages on the free list",
		},
	)

	// Process metrics
	m.UptimeSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "branchfs_uptime_seconds",
			Help: "Process uptime in seconds",
		},
	)

	return m
}

// RecordTrail records one trail run
func (m *Metrics) RecordTrail(status string, duration time.Duration) {
	m.TrailsTotal.WithLabelValues(status).Inc()
	m.TrailDuration.Observe(duration.Seconds())
}

// UpdateUptime refreshes the uptime gauge
func (m *Metrics) UpdateUptime() {
	m.UptimeSeconds.Set(time.Since(m.StartTime).Seconds())
}
