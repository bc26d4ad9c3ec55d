package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/careline/records-api/internal/model"
	"github.com/careline/records-api/internal/repository"
)

type auditRepository struct {
	BaseRepository
}

func NewAuditRepository(base BaseRepository) repository.AuditRepository {
	return &auditRepository{base}
}

func (r *auditRepository) Create(ctx context.Context, log *model.AuditLog) error {
	query := `
		INSERT INTO audit_logs (
			id, actor_id, action, entity_type, entity_id, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			log.ID,
			log.ActorID,
			log.Action,
			log.EntityType,
			log.EntityID,
			log.Metadata,
			log.CreatedAt,
		)
		return err
	})
}

func (r *auditRepository) List(ctx context.Context, filters map[string]interface{}) ([]*model.AuditLog, error) {
	query := `SELECT * FROM audit_logs WHERE 1=1`
	var args []interface{}

	if v, ok := filters["actor_id"]; ok {
		args = append(args, v)
		query += fmt.Sprintf(" AND actor_id = $%d", len(args))
	}
	if v, ok := filters["entity_type"]; ok {
		args = append(args, v)
		query += fmt.Sprintf(" AND entity_type = $%d", len(args))
	}
	if v, ok := filters["entity_id"]; ok {
		args = append(args, v)
		query += fmt.Sprintf(" AND entity_id = $%d", len(args))
	}

	query += " ORDER BY created_at DESC"

	var logs []*model.AuditLog
	if err := r.GetDB().SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, nil
}

func (r *auditRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.GetDB().ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit logs: %w", err)
	}
	return result.RowsAffected()
}
