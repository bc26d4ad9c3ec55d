package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Document code generation
	CodeCollisions *prometheus.CounterVec
	CodeExhausted  *prometheus.CounterVec

	// Patient dedupe
	DuplicatePatientsRejected prometheus.Counter

	// Audit trail
	AuditRecordsWritten prometheus.Counter
	AuditRecordsDropped prometheus.Counter

	// Outbox related metrics
	OutboxEventsProcessed   prometheus.Counter
	OutboxEventsFailed      prometheus.Counter
	OutboxProcessingLatency prometheus.Histogram

	// Database metrics
	DatabaseOperations *prometheus.CounterVec

	// Overdue notifier
	OverdueNoticesSent prometheus.Counter
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		CodeCollisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_code_collisions_total",
			Help:      "Unique-constraint collisions on generated document codes, by prefix",
		}, []string{"prefix"}),
		CodeExhausted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_code_exhausted_total",
			Help:      "Document creations that exhausted the code regeneration budget, by prefix",
		}, []string{"prefix"}),
		DuplicatePatientsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_patients_rejected_total",
			Help:      "Patient writes rejected by dedupe-key conflict",
		}),
		AuditRecordsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_records_written_total",
			Help:      "Audit records successfully persisted",
		}),
		AuditRecordsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_records_dropped_total",
			Help:      "Audit records dropped after a recorder failure",
		}),
		OutboxEventsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_processed_total",
			Help:      "Total number of successfully processed outbox events",
		}),
		OutboxEventsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_failed_total",
			Help:      "Total number of failed outbox events",
		}),
		OutboxProcessingLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_processing_duration_seconds",
			Help:      "Time spent processing outbox events",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
		OverdueNoticesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overdue_notices_sent_total",
			Help:      "Overdue lab test notices e-mailed to ordering officers",
		}),
	}
}
