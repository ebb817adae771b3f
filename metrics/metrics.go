// Package metrics exposes Prometheus metrics for the clinical record store.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecordMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_record_mutations_total",
			Help: "Total number of committed record mutations",
		},
		[]string{"table", "action"},
	)

	MutationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lumen_mutation_duration_seconds",
			Help:    "Time taken to commit record mutations",
			Buckets: prometheus.DefBuckets,
		},
	)

	AuditWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumen_audit_write_failures_total",
			Help: "Total number of audit log write failures",
		},
	)

	BackupsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_backups_created_total",
			Help: "Total number of backup artifacts written",
		},
		[]string{"kind"},
	)

	BackupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_backup_failures_total",
			Help: "Total number of failed backup attempts",
		},
		[]string{"kind"},
	)

	BackupsPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_backups_pruned_total",
			Help: "Total number of backup artifacts removed by retention",
		},
		[]string{"kind"},
	)
)
