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

type labTestRepository struct {
	db *sqlx.DB
}

func NewLabTestRepository(db *sqlx.DB) repository.LabTestRepository {
	return &labTestRepository{db: db}
}

func (r *labTestRepository) Create(ctx context.Context, test *model.LabTest) error {
	query := `
		INSERT INTO lab_tests (
			id, patient_id, ordered_by, test_type, test_code, priority,
			status, sample_type, sample_collected, notes, referred_lab,
			results, due_date, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
	`
	test.CreatedAt = time.Now()
	test.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		test.ID,
		test.PatientID,
		test.OrderedBy,
		test.TestType,
		test.TestCode,
		test.Priority,
		test.Status,
		test.SampleType,
		test.SampleCollected,
		test.Notes,
		test.ReferredLab,
		test.Results,
		test.DueDate,
		test.CreatedAt,
		test.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err, ConstraintLabTestCode) {
			return repository.ErrDuplicateCode
		}
		return fmt.Errorf("failed to create lab test: %w", err)
	}
	return nil
}

func (r *labTestRepository) Get(ctx context.Context, id uuid.UUID) (*model.LabTest, error) {
	query := `SELECT * FROM lab_tests WHERE id = $1`
	var test model.LabTest
	err := r.db.GetContext(ctx, &test, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lab test: %w", err)
	}
	return &test, nil
}

func (r *labTestRepository) UpdateResults(ctx context.Context, test *model.LabTest) error {
	query := `
		UPDATE lab_tests SET
			results = $1, normal_range = $2, interpretation = $3,
			notes = $4, sample_type = $5, updated_at = $6
		WHERE id = $7
	`
	result, err := r.db.ExecContext(ctx, query,
		test.Results,
		test.NormalRange,
		test.Interpretation,
		test.Notes,
		test.SampleType,
		time.Now(),
		test.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update lab test: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// MarkInProgress advances pending → in_progress in a single conditional
// statement. processed_by is only filled when still unset, and the
// sample-collected timestamp is written at most once.
func (r *labTestRepository) MarkInProgress(ctx context.Context, id, actorID uuid.UUID, collectSample bool, at time.Time) (bool, error) {
	query := `
		UPDATE lab_tests SET
			status = $1,
			processed_by = COALESCE(processed_by, $2),
			sample_collected = sample_collected OR $3,
			sample_collected_at = CASE
				WHEN $3 AND sample_collected_at IS NULL THEN $4
				ELSE sample_collected_at
			END,
			updated_at = $4
		WHERE id = $5 AND status = $6
	`
	result, err := r.db.ExecContext(ctx, query,
		model.LabTestStatusInProgress, actorID, collectSample, at, id, model.LabTestStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to start lab test: %w", err)
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (r *labTestRepository) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE lab_tests SET status = $1, completed_at = $2, updated_at = $2
		WHERE id = $3 AND status IN ($4, $5)
	`
	result, err := r.db.ExecContext(ctx, query,
		model.LabTestStatusCompleted, at, id,
		model.LabTestStatusPending, model.LabTestStatusInProgress,
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete lab test: %w", err)
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (r *labTestRepository) MarkCancelled(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE lab_tests SET status = $1, updated_at = $2
		WHERE id = $3 AND status IN ($4, $5)
	`
	result, err := r.db.ExecContext(ctx, query,
		model.LabTestStatusCancelled, at, id,
		model.LabTestStatusPending, model.LabTestStatusInProgress,
	)
	if err != nil {
		return false, fmt.Errorf("failed to cancel lab test: %w", err)
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

func (r *labTestRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM lab_tests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete lab test: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *labTestRepository) List(ctx context.Context, filters *model.LabTestFilters) ([]*model.LabTest, error) {
	query := `SELECT * FROM lab_tests WHERE 1=1`
	var args []interface{}

	if filters != nil {
		if filters.PatientID != uuid.Nil {
			args = append(args, filters.PatientID)
			query += fmt.Sprintf(" AND patient_id = $%d", len(args))
		}
		if filters.Status != "" {
			args = append(args, filters.Status)
			query += fmt.Sprintf(" AND status = $%d", len(args))
		}
		if filters.Priority != "" {
			args = append(args, filters.Priority)
			query += fmt.Sprintf(" AND priority = $%d", len(args))
		}
		if filters.Overdue {
			args = append(args, time.Now(), model.LabTestStatusCompleted, model.LabTestStatusCancelled)
			query += fmt.Sprintf(" AND due_date < $%d AND status NOT IN ($%d, $%d)", len(args)-2, len(args)-1, len(args))
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

	var tests []*model.LabTest
	if err := r.db.SelectContext(ctx, &tests, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list lab tests: %w", err)
	}
	return tests, nil
}
