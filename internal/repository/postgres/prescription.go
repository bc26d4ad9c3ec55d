package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/careline/records-api/internal/model"
	"github.com/careline/records-api/internal/repository"
)

type prescriptionRepository struct {
	db *sqlx.DB
}

func NewPrescriptionRepository(db *sqlx.DB) repository.PrescriptionRepository {
	return &prescriptionRepository{db: db}
}

func (r *prescriptionRepository) Create(ctx context.Context, rx *model.Prescription) error {
	query := `
		INSERT INTO prescriptions (
			id, patient_id, prescribed_by, diagnosis_id, prescription_number,
			status, instructions, medications, attachments, expiry_date,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`
	rx.CreatedAt = time.Now()
	rx.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		rx.ID,
		rx.PatientID,
		rx.PrescribedBy,
		rx.DiagnosisID,
		rx.PrescriptionNumber,
		rx.Status,
		rx.Instructions,
		rx.MedicationsJSON,
		rx.AttachmentsJSON,
		rx.ExpiryDate,
		rx.CreatedAt,
		rx.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err, ConstraintPrescriptionNumber) {
			return repository.ErrDuplicateCode
		}
		return fmt.Errorf("failed to create prescription: %w", err)
	}
	return nil
}

func (r *prescriptionRepository) Get(ctx context.Context, id uuid.UUID) (*model.Prescription, error) {
	query := `SELECT * FROM prescriptions WHERE id = $1`
	var rx model.Prescription
	err := r.db.GetContext(ctx, &rx, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prescription: %w", err)
	}
	return &rx, nil
}

func (r *prescriptionRepository) Update(ctx context.Context, rx *model.Prescription) error {
	query := `
		UPDATE prescriptions SET
			medications = $1, instructions = $2, diagnosis_id = $3, updated_at = $4
		WHERE id = $5 AND status = $6
	`
	result, err := r.db.ExecContext(ctx, query,
		rx.MedicationsJSON,
		rx.Instructions,
		rx.DiagnosisID,
		time.Now(),
		rx.ID,
		model.PrescriptionStatusActive,
	)
	if err != nil {
		return fmt.Errorf("failed to update prescription: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Dispense moves active → completed. The WHERE clause re-checks status
// and expiry inside the statement, so a second dispense (or a dispense
// racing an expiry) loses cleanly instead of re-stamping.
func (r *prescriptionRepository) Dispense(ctx context.Context, id, actorID uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE prescriptions SET
			status = $1, dispensed_by = $2, dispensed_at = $3, updated_at = $3
		WHERE id = $4 AND status = $5 AND expiry_date >= $3
	`
	result, err := r.db.ExecContext(ctx, query,
		model.PrescriptionStatusCompleted, actorID, at, id, model.PrescriptionStatusActive,
	)
	if err != nil {
		return false, fmt.Errorf("failed to dispense prescription: %w", err)
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (r *prescriptionRepository) Cancel(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE prescriptions SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	result, err := r.db.ExecContext(ctx, query,
		model.PrescriptionStatusCancelled, at, id, model.PrescriptionStatusActive,
	)
	if err != nil {
		return false, fmt.Errorf("failed to cancel prescription: %w", err)
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (r *prescriptionRepository) List(ctx context.Context, filters *model.PrescriptionFilters) ([]*model.Prescription, error) {
	query := `SELECT * FROM prescriptions WHERE 1=1`
	var args []interface{}

	if filters != nil {
		if filters.PatientID != uuid.Nil {
			args = append(args, filters.PatientID)
			query += fmt.Sprintf(" AND patient_id = $%d", len(args))
		}
		if filters.PrescribedBy != uuid.Nil {
			args = append(args, filters.PrescribedBy)
			query += fmt.Sprintf(" AND prescribed_by = $%d", len(args))
		}
		if filters.Status != "" {
			args = append(args, filters.Status)
			query += fmt.Sprintf(" AND status = $%d", len(args))
		}
	}

	query += " ORDER BY created_at DESC"
	if filters != nil && filters.PageSize > 0 {
		page := filters.Page
		if page < 1 {
			page = 1
		}
		args = append(args, filters.PageSize, (page-1)*filters.PageSize)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	var rxs []*model.Prescription
	if err := r.db.SelectContext(ctx, &rxs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list prescriptions: %w", err)
	}
	return rxs, nil
}
