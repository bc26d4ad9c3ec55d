package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/careline/records-api/internal/authz"
	"github.com/careline/records-api/internal/identity"
	"github.com/careline/records-api/internal/model"
	"github.com/careline/records-api/internal/repository"
	"github.com/careline/records-api/internal/service/audit"
	apperrors "github.com/careline/records-api/pkg/errors"
	"github.com/careline/records-api/pkg/logger"
	"github.com/careline/records-api/pkg/metrics"
)

// precheckTTL bounds how stale a cached duplicate pre-check answer may
// be. The pre-check is advisory; storage holds the real constraint.
const precheckTTL = 30 * time.Second

type Service interface {
	CreatePatient(ctx context.Context, actor model.Actor, req *model.CreatePatientRequest) (*model.Patient, error)
	UpdatePatient(ctx context.Context, actor model.Actor, id uuid.UUID, req *model.UpdatePatientRequest) (*model.Patient, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*model.Patient, error)
	ListPatients(ctx context.Context, filters *model.PatientFilters) ([]*model.Patient, error)
	CheckDuplicate(ctx context.Context, check *model.DuplicateCheck) (*model.ExistingPatientRef, error)
}

type service struct {
	repo     repository.PatientRepository
	resolver *identity.Resolver
	auditor  *audit.Recorder
	outbox   repository.OutboxRepository
	validate *validator.Validate
	precheck *gocache.Cache
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

func NewService(repo repository.PatientRepository, resolver *identity.Resolver, auditor *audit.Recorder, outbox repository.OutboxRepository, log *logger.Logger, m *metrics.Metrics) Service {
	if log == nil {
		log = logger.NewLogger(nil)
	}
	return &service{
		repo:     repo,
		resolver: resolver,
		auditor:  auditor,
		outbox:   outbox,
		validate: validator.New(),
		precheck: gocache.New(precheckTTL, 2*precheckTTL),
		logger:   log,
		metrics:  m,
	}
}

func (s *service) CreatePatient(ctx context.Context, actor model.Actor, req *model.CreatePatientRequest) (*model.Patient, error) {
	if err := authz.Authorize(actor.Role, authz.EntityPatient, authz.OpCreate); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.Validationf("invalid patient data: %v", err)
	}

	key := identity.ComputeKey(req.FullName, req.DateOfBirth, req.Phones)
	existing, err := s.resolver.FindDuplicate(ctx, key)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if existing != nil {
		return nil, s.duplicateConflict(existing)
	}

	patient := &model.Patient{
		Base: model.Base{
			ID: uuid.New(),
		},
		FullName:      req.FullName,
		NationalID:    req.NationalID,
		DateOfBirth:   req.DateOfBirth,
		Gender:        req.Gender,
		Phones:        req.Phones,
		Address:       req.Address,
		Email:         req.Email,
		DedupeKey:     key,
		Insurance:     req.Insurance,
		Referral:      req.Referral,
		Allergies:     req.Allergies,
		Medications:   req.Medications,
		Problems:      req.Problems,
		Immunizations: req.Immunizations,
		VitalSigns:    req.VitalSigns,
	}
	if req.Nickname != "" {
		patient.Nickname = &req.Nickname
	}

	if err := marshalJSONFields(patient); err != nil {
		return nil, apperrors.Internal(err)
	}

	if err := s.repo.Create(ctx, patient); err != nil {
		return nil, s.mapWriteError(ctx, err, key)
	}

	s.auditor.Record(ctx, actor.ID, model.AuditActionCreate, model.AuditEntityPatient, patient.ID, nil)
	s.emit(ctx, model.EventPatientCreated, patient)
	return patient, nil
}

func (s *service) UpdatePatient(ctx context.Context, actor model.Actor, id uuid.UUID, req *model.UpdatePatientRequest) (*model.Patient, error) {
	if err := authz.Authorize(actor.Role, authz.EntityPatient, authz.OpUpdate); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.Validationf("invalid patient data: %v", err)
	}

	patient, err := s.getPatient(ctx, id)
	if err != nil {
		return nil, err
	}

	touched := applyPatientUpdate(patient, req)
	if len(touched) == 0 {
		return patient, nil
	}

	// A changed name, DOB or phone moves the fingerprint; re-run
	// duplicate detection against everyone but ourselves.
	newKey := identity.ComputeKey(patient.FullName, patient.DateOfBirth, patient.Phones)
	if newKey != patient.DedupeKey {
		existing, err := s.resolver.FindDuplicateExcluding(ctx, newKey, patient.ID)
		if err != nil {
			return nil, apperrors.Internal(err)
		}
		if existing != nil {
			return nil, s.duplicateConflict(existing)
		}
		patient.DedupeKey = newKey
	}

	if err := marshalJSONFields(patient); err != nil {
		return nil, apperrors.Internal(err)
	}

	if err := s.repo.Update(ctx, patient); err != nil {
		return nil, s.mapWriteError(ctx, err, patient.DedupeKey)
	}

	s.auditor.Record(ctx, actor.ID, model.AuditActionUpdate, model.AuditEntityPatient, patient.ID, touched)
	s.emit(ctx, model.EventPatientUpdated, patient)
	return patient, nil
}

func (s *service) GetPatient(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	return s.getPatient(ctx, id)
}

func (s *service) ListPatients(ctx context.Context, filters *model.PatientFilters) ([]*model.Patient, error) {
	patients, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	for _, p := range patients {
		if err := unmarshalJSONFields(p); err != nil {
			return nil, apperrors.Internal(fmt.Errorf("patient %s: %w", p.ID, err))
		}
	}
	return patients, nil
}

// CheckDuplicate is the pre-flight query the front desk runs before
// registering. It never mutates state and its answer is advisory, so a
// short-lived cache absorbs repeated checks for the same person.
func (s *service) CheckDuplicate(ctx context.Context, check *model.DuplicateCheck) (*model.ExistingPatientRef, error) {
	if err := s.validate.Struct(check); err != nil {
		return nil, apperrors.Validationf("invalid duplicate check: %v", err)
	}

	key := identity.ComputeKey(check.FullName, check.DateOfBirth, check.Phones)
	if cached, ok := s.precheck.Get(key); ok {
		if ref, ok := cached.(*model.ExistingPatientRef); ok {
			return ref, nil
		}
		return nil, nil
	}

	existing, err := s.resolver.FindDuplicate(ctx, key)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if existing == nil {
		s.precheck.SetDefault(key, false)
		return nil, nil
	}

	ref := &model.ExistingPatientRef{ID: existing.ID, FullName: existing.FullName}
	s.precheck.SetDefault(key, ref)
	return ref, nil
}

func (s *service) getPatient(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	patient, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("patient")
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if err := unmarshalJSONFields(patient); err != nil {
		return nil, apperrors.Internal(err)
	}
	return patient, nil
}

func (s *service) duplicateConflict(existing *model.Patient) error {
	if s.metrics != nil {
		s.metrics.DuplicatePatientsRejected.Inc()
	}
	return apperrors.DuplicateConflict(
		fmt.Sprintf("a patient with the same name, date of birth and phone already exists (%s)", existing.FullName),
		existing.ID,
	)
}

// mapWriteError turns the storage dedupe-key violation into the same
// conflict the pre-check produces, looking up the winner so the caller
// still gets the existing record's id.
func (s *service) mapWriteError(ctx context.Context, err error, key string) error {
	switch {
	case errors.Is(err, repository.ErrDuplicateDedupeKey):
		existing, lookupErr := s.repo.GetByDedupeKey(ctx, key)
		if lookupErr == nil && existing != nil {
			return s.duplicateConflict(existing)
		}
		return apperrors.Conflict("duplicate patient", err)
	case errors.Is(err, repository.ErrDuplicateNationalID):
		return apperrors.Conflict("a patient with this national identity number already exists", err)
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NotFound("patient")
	}
	return apperrors.Internal(err)
}

func (s *service) emit(ctx context.Context, eventType string, payload interface{}) {
	if s.outbox == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error(err, "failed to marshal outbox payload", "event_type", eventType)
		return
	}
	if err := s.outbox.Create(ctx, &model.OutboxEvent{EventType: eventType, Payload: body}); err != nil {
		s.logger.Error(err, "failed to enqueue outbox event", "event_type", eventType)
	}
}

func applyPatientUpdate(p *model.Patient, req *model.UpdatePatientRequest) []string {
	var touched []string
	if req.FullName != nil && *req.FullName != p.FullName {
		p.FullName = *req.FullName
		touched = append(touched, "full_name")
	}
	if req.Nickname != nil {
		p.Nickname = req.Nickname
		touched = append(touched, "nickname")
	}
	if req.DateOfBirth != nil && !req.DateOfBirth.Equal(p.DateOfBirth) {
		p.DateOfBirth = *req.DateOfBirth
		touched = append(touched, "date_of_birth")
	}
	if req.Gender != nil && *req.Gender != p.Gender {
		p.Gender = *req.Gender
		touched = append(touched, "gender")
	}
	if req.Phones != nil {
		p.Phones = req.Phones
		touched = append(touched, "phones")
	}
	if req.Address != nil && *req.Address != p.Address {
		p.Address = *req.Address
		touched = append(touched, "address")
	}
	if req.Email != nil && *req.Email != p.Email {
		p.Email = *req.Email
		touched = append(touched, "email")
	}
	if req.Insurance != nil {
		p.Insurance = req.Insurance
		touched = append(touched, "insurance")
	}
	if req.Referral != nil {
		p.Referral = req.Referral
		touched = append(touched, "referral")
	}
	if req.Allergies != nil {
		p.Allergies = req.Allergies
		touched = append(touched, "allergies")
	}
	if req.Medications != nil {
		p.Medications = req.Medications
		touched = append(touched, "medications")
	}
	if req.Problems != nil {
		p.Problems = req.Problems
		touched = append(touched, "problems")
	}
	if req.Immunizations != nil {
		p.Immunizations = req.Immunizations
		touched = append(touched, "immunizations")
	}
	if req.VitalSigns != nil {
		p.VitalSigns = req.VitalSigns
		touched = append(touched, "vital_signs")
	}
	return touched
}

func marshalJSONFields(p *model.Patient) error {
	var err error
	if p.PhonesJSON, err = json.Marshal(p.Phones); err != nil {
		return err
	}
	marshalOpt := func(v interface{}) (json.RawMessage, error) {
		if v == nil {
			return nil, nil
		}
		return json.Marshal(v)
	}
	if p.Insurance != nil {
		if p.InsuranceJSON, err = marshalOpt(p.Insurance); err != nil {
			return err
		}
	}
	if p.Referral != nil {
		if p.ReferralJSON, err = marshalOpt(p.Referral); err != nil {
			return err
		}
	}
	if p.VitalSigns != nil {
		if p.VitalSignsJSON, err = marshalOpt(p.VitalSigns); err != nil {
			return err
		}
	}
	if p.Allergies != nil {
		if p.AllergiesJSON, err = json.Marshal(p.Allergies); err != nil {
			return err
		}
	}
	if p.Medications != nil {
		if p.MedicationsJSON, err = json.Marshal(p.Medications); err != nil {
			return err
		}
	}
	if p.Problems != nil {
		if p.ProblemsJSON, err = json.Marshal(p.Problems); err != nil {
			return err
		}
	}
	if p.Immunizations != nil {
		if p.ImmunizationsJSON, err = json.Marshal(p.Immunizations); err != nil {
			return err
		}
	}
	return nil
}

func unmarshalJSONFields(p *model.Patient) error {
	if len(p.PhonesJSON) > 0 {
		if err := json.Unmarshal(p.PhonesJSON, &p.Phones); err != nil {
			return err
		}
	}
	if len(p.InsuranceJSON) > 0 {
		if err := json.Unmarshal(p.InsuranceJSON, &p.Insurance); err != nil {
			return err
		}
	}
	if len(p.ReferralJSON) > 0 {
		if err := json.Unmarshal(p.ReferralJSON, &p.Referral); err != nil {
			return err
		}
	}
	if len(p.AllergiesJSON) > 0 {
		if err := json.Unmarshal(p.AllergiesJSON, &p.Allergies); err != nil {
			return err
		}
	}
	if len(p.MedicationsJSON) > 0 {
		if err := json.Unmarshal(p.MedicationsJSON, &p.Medications); err != nil {
			return err
		}
	}
	if len(p.ProblemsJSON) > 0 {
		if err := json.Unmarshal(p.ProblemsJSON, &p.Problems); err != nil {
			return err
		}
	}
	if len(p.ImmunizationsJSON) > 0 {
		if err := json.Unmarshal(p.ImmunizationsJSON, &p.Immunizations); err != nil {
			return err
		}
	}
	if len(p.VitalSignsJSON) > 0 {
		if err := json.Unmarshal(p.VitalSignsJSON, &p.VitalSigns); err != nil {
			return err
		}
	}
	return nil
}
