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

type patientRepository struct {
	db *sqlx.DB
}

func NewPatientRepository(db *sqlx.DB) repository.PatientRepository {
	return &patientRepository{db: db}
}

func (r *patientRepository) Create(ctx context.Context, patient *model.Patient) error {
	query := `
		INSERT INTO patients (
			id, full_name, nickname, national_id, date_of_birth, gender,
			phones, address, email, dedupe_key, insurance, referral,
			allergies, medications, problems, immunizations, vital_signs,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19
		)
	`
	patient.CreatedAt = time.Now()
	patient.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		patient.ID,
		patient.FullName,
		patient.Nickname,
		patient.NationalID,
		patient.DateOfBirth,
		patient.Gender,
		patient.PhonesJSON,
		patient.Address,
		patient.Email,
		patient.DedupeKey,
		patient.InsuranceJSON,
		patient.ReferralJSON,
		patient.AllergiesJSON,
		patient.MedicationsJSON,
		patient.ProblemsJSON,
		patient.ImmunizationsJSON,
		patient.VitalSignsJSON,
		patient.CreatedAt,
		patient.UpdatedAt,
	)
	if err != nil {
		switch {
		case IsUniqueViolation(err, ConstraintPatientDedupeKey):
			return repository.ErrDuplicateDedupeKey
		case IsUniqueViolation(err, ConstraintPatientNationalID):
			return repository.ErrDuplicateNationalID
		}
		return fmt.Errorf("failed to create patient: %w", err)
	}
	return nil
}

func (r *patientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	query := `SELECT * FROM patients WHERE id = $1`
	var patient model.Patient
	err := r.db.GetContext(ctx, &patient, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return &patient, nil
}

func (r *patientRepository) GetByDedupeKey(ctx context.Context, key string) (*model.Patient, error) {
	query := `SELECT * FROM patients WHERE dedupe_key = $1`
	var patient model.Patient
	err := r.db.GetContext(ctx, &patient, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up dedupe key: %w", err)
	}
	return &patient, nil
}

func (r *patientRepository) Update(ctx context.Context, patient *model.Patient) error {
	query := `
		UPDATE patients SET
			full_name = $1, nickname = $2, date_of_birth = $3, gender = $4,
			phones = $5, address = $6, email = $7, dedupe_key = $8,
			insurance = $9, referral = $10, allergies = $11, medications = $12,
			problems = $13, immunizations = $14, vital_signs = $15, updated_at = $16
		WHERE id = $17
	`
	result, err := r.db.ExecContext(ctx, query,
		patient.FullName,
		patient.Nickname,
		patient.DateOfBirth,
		patient.Gender,
		patient.PhonesJSON,
		patient.Address,
		patient.Email,
		patient.DedupeKey,
		patient.InsuranceJSON,
		patient.ReferralJSON,
		patient.AllergiesJSON,
		patient.MedicationsJSON,
		patient.ProblemsJSON,
		patient.ImmunizationsJSON,
		patient.VitalSignsJSON,
		time.Now(),
		patient.ID,
	)
	if err != nil {
		if IsUniqueViolation(err, ConstraintPatientDedupeKey) {
			return repository.ErrDuplicateDedupeKey
		}
		return fmt.Errorf("failed to update patient: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *patientRepository) List(ctx context.Context, filters *model.PatientFilters) ([]*model.Patient, error) {
	query := `SELECT * FROM patients WHERE 1=1`
	var args []interface{}

	if filters != nil {
		if filters.SearchTerm != "" {
			args = append(args, "%"+filters.SearchTerm+"%")
			query += fmt.Sprintf(" AND (full_name ILIKE $%d OR national_id ILIKE $%d)", len(args), len(args))
		}
		if filters.NationalID != "" {
			args = append(args, filters.NationalID)
			query += fmt.Sprintf(" AND national_id = $%d", len(args))
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

	var patients []*model.Patient
	if err := r.db.SelectContext(ctx, &patients, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	return patients, nil
}
