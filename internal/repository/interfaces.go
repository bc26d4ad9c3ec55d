package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/careline/records-api/internal/model"
)

// Sentinel errors the storage implementations translate driver errors
// into, so services (and test fakes) stay driver-agnostic.
var (
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateCode is a unique violation on a generated document
	// code (testCode / prescriptionNumber); callers regenerate and retry.
	ErrDuplicateCode = errors.New("duplicate document code")

	// ErrDuplicateDedupeKey is a unique violation on the patient
	// dedupe fingerprint.
	ErrDuplicateDedupeKey = errors.New("duplicate patient dedupe key")

	ErrDuplicateNationalID = errors.New("duplicate national identity number")
	ErrDuplicateEmail      = errors.New("duplicate email")
)

// All repository interfaces in one file
type (
	PatientRepository interface {
		Create(ctx context.Context, patient *model.Patient) error
		Get(ctx context.Context, id uuid.UUID) (*model.Patient, error)
		// GetByDedupeKey returns nil, nil when no patient holds the key.
		GetByDedupeKey(ctx context.Context, key string) (*model.Patient, error)
		Update(ctx context.Context, patient *model.Patient) error
		List(ctx context.Context, filters *model.PatientFilters) ([]*model.Patient, error)
	}

	LabTestRepository interface {
		Create(ctx context.Context, test *model.LabTest) error
		Get(ctx context.Context, id uuid.UUID) (*model.LabTest, error)
		UpdateResults(ctx context.Context, test *model.LabTest) error
		// The Mark* methods are conditional updates: the WHERE clause
		// re-checks the current status inside the same statement, so two
		// racing transitions cannot both win. They report whether a row
		// was actually moved.
		MarkInProgress(ctx context.Context, id, actorID uuid.UUID, collectSample bool, at time.Time) (bool, error)
		MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
		MarkCancelled(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, filters *model.LabTestFilters) ([]*model.LabTest, error)
	}

	PrescriptionRepository interface {
		Create(ctx context.Context, rx *model.Prescription) error
		Get(ctx context.Context, id uuid.UUID) (*model.Prescription, error)
		Update(ctx context.Context, rx *model.Prescription) error
		// Dispense moves active → completed, refusing rows whose expiry
		// has passed; Cancel moves active → cancelled. Both are
		// conditional updates reporting whether a row moved.
		Dispense(ctx context.Context, id, actorID uuid.UUID, at time.Time) (bool, error)
		Cancel(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
		List(ctx context.Context, filters *model.PrescriptionFilters) ([]*model.Prescription, error)
	}

	UserRepository interface {
		Create(ctx context.Context, user *model.User) error
		Get(ctx context.Context, id uuid.UUID) (*model.User, error)
		GetByEmail(ctx context.Context, email string) (*model.User, error)
		Update(ctx context.Context, user *model.User) error
		UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string, at time.Time) error
		Delete(ctx context.Context, id uuid.UUID) error
	}

	AuditRepository interface {
		Create(ctx context.Context, log *model.AuditLog) error
		List(ctx context.Context, filters map[string]interface{}) ([]*model.AuditLog, error)
		DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	}

	OutboxRepository interface {
		Create(ctx context.Context, event *model.OutboxEvent) error
		GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errorMessage *string) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)
