// Package worker holds the background loops run by cmd/worker: record
// retention sweeps and the overdue lab test notifier.
package worker

import (
	"context"
	"time"

	"github.com/careline/records-api/internal/repository"
	"github.com/careline/records-api/pkg/logger"
)

// CleanupWorker enforces retention: audit records older than the
// retention window and outbox rows already published are deleted on a
// fixed interval.
type CleanupWorker struct {
	auditRepo     repository.AuditRepository
	outboxRepo    repository.OutboxRepository
	retentionDays int
	interval      time.Duration
	logger        *logger.Logger
}

func NewCleanupWorker(auditRepo repository.AuditRepository, outboxRepo repository.OutboxRepository, retentionDays int, interval time.Duration, log *logger.Logger) *CleanupWorker {
	if log == nil {
		log = logger.NewLogger(nil)
	}
	return &CleanupWorker{
		auditRepo:     auditRepo,
		outboxRepo:    outboxRepo,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        log,
	}
}

func (w *CleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("Starting cleanup worker", "retention_days", w.retentionDays)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Shutting down cleanup worker")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *CleanupWorker) sweep(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -w.retentionDays)

	if n, err := w.auditRepo.DeleteBefore(ctx, cutoff); err != nil {
		w.logger.Error(err, "Failed to clean up audit records")
	} else if n > 0 {
		w.logger.Info("Deleted expired audit records", "count", n)
	}

	if n, err := w.outboxRepo.DeleteProcessedBefore(ctx, cutoff); err != nil {
		w.logger.Error(err, "Failed to clean up outbox rows")
	} else if n > 0 {
		w.logger.Info("Deleted published outbox rows", "count", n)
	}
}
