// Package audit is the append-only trail behind every core mutation.
// The recorder is fire-and-forget: a failure here is logged and counted
// but never aborts the mutation that triggered it.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/careline/records-api/internal/model"
	"github.com/careline/records-api/internal/repository"
	"github.com/careline/records-api/pkg/logger"
	"github.com/careline/records-api/pkg/metrics"
)

type Recorder struct {
	repo    repository.AuditRepository
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewRecorder(repo repository.AuditRepository, log *logger.Logger, m *metrics.Metrics) *Recorder {
	if log == nil {
		log = logger.NewLogger(nil)
	}
	return &Recorder{repo: repo, logger: log, metrics: m}
}

// Record writes one trail entry for a logical mutation. fieldsTouched
// names the fields the mutation changed; values are deliberately not
// captured so the trail never duplicates clinical data. Errors are
// swallowed after logging.
func (r *Recorder) Record(ctx context.Context, actorID uuid.UUID, action, entityType string, entityID uuid.UUID, fieldsTouched []string) {
	var metadata json.RawMessage
	if len(fieldsTouched) > 0 {
		var err error
		metadata, err = json.Marshal(map[string]interface{}{"fields": fieldsTouched})
		if err != nil {
			r.drop(err, action, entityType)
			return
		}
	}

	entry := &model.AuditLog{
		ID:         uuid.New(),
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   metadata,
		CreatedAt:  time.Now(),
	}

	if err := r.repo.Create(ctx, entry); err != nil {
		r.drop(err, action, entityType)
		return
	}
	if r.metrics != nil {
		r.metrics.AuditRecordsWritten.Inc()
	}
}

func (r *Recorder) drop(err error, action, entityType string) {
	r.logger.Error(err, "audit record dropped",
		"action", action,
		"entity_type", entityType,
	)
	if r.metrics != nil {
		r.metrics.AuditRecordsDropped.Inc()
	}
}

// List exposes the trail for review surfaces.
func (r *Recorder) List(ctx context.Context, filters map[string]interface{}) ([]*model.AuditLog, error) {
	return r.repo.List(ctx, filters)
}
