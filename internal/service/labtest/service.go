// Package labtest owns the laboratory order state machine:
// pending → in_progress → completed, with cancellation possible from
// any non-terminal state.
package labtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/careline/records-api/internal/authz"
	"github.com/careline/records-api/internal/model"
	"github.com/careline/records-api/internal/repository"
	"github.com/careline/records-api/internal/service/audit"
	apperrors "github.com/careline/records-api/pkg/errors"
	"github.com/careline/records-api/pkg/identifier"
	"github.com/careline/records-api/pkg/logger"
	"github.com/careline/records-api/pkg/metrics"
)

type Service interface {
	CreateLabTest(ctx context.Context, actor model.Actor, req *model.CreateLabTestRequest) (*model.LabTestView, error)
	GetLabTest(ctx context.Context, id uuid.UUID) (*model.LabTestView, error)
	ListLabTests(ctx context.Context, filters *model.LabTestFilters) ([]*model.LabTestView, error)
	UpdateResults(ctx context.Context, actor model.Actor, id uuid.UUID, req *model.UpdateLabTestRequest) (*model.LabTestView, error)
	StartProcessing(ctx context.Context, actor model.Actor, id uuid.UUID, collectSample bool) (*model.LabTestView, error)
	Complete(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.LabTestView, error)
	Cancel(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.LabTestView, error)
	Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error
}

type service struct {
	repo        repository.LabTestRepository
	patientRepo repository.PatientRepository
	codes       identifier.Generator
	auditor     *audit.Recorder
	outbox      repository.OutboxRepository
	validate    *validator.Validate
	logger      *logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewService(repo repository.LabTestRepository, patientRepo repository.PatientRepository, codes identifier.Generator, auditor *audit.Recorder, outbox repository.OutboxRepository, log *logger.Logger, m *metrics.Metrics) Service {
	if log == nil {
		log = logger.NewLogger(nil)
	}
	return &service{
		repo:        repo,
		patientRepo: patientRepo,
		codes:       codes,
		auditor:     auditor,
		outbox:      outbox,
		validate:    validator.New(),
		logger:      log,
		metrics:     m,
		now:         time.Now,
	}
}

func (s *service) CreateLabTest(ctx context.Context, actor model.Actor, req *model.CreateLabTestRequest) (*model.LabTestView, error) {
	if err := authz.Authorize(actor.Role, authz.EntityLabTest, authz.OpCreate); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.Validationf("invalid lab test data: %v", err)
	}
	if !req.TestType.Valid() {
		return nil, apperrors.Validationf("unknown test type %q", req.TestType)
	}
	if !req.Priority.Valid() {
		return nil, apperrors.Validationf("unknown priority %q", req.Priority)
	}
	if !req.SampleType.Valid() {
		return nil, apperrors.Validationf("unknown sample type %q", req.SampleType)
	}

	if _, err := s.patientRepo.Get(ctx, req.PatientID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("patient")
		}
		return nil, apperrors.Internal(err)
	}

	now := s.now()
	dueDate := now.Add(req.Priority.DefaultDueIn())
	if req.DueDate != nil {
		dueDate = *req.DueDate
	}

	test := &model.LabTest{
		Base: model.Base{
			ID: uuid.New(),
		},
		PatientID:  req.PatientID,
		OrderedBy:  actor.ID,
		TestType:   req.TestType,
		Priority:   req.Priority,
		Status:     model.LabTestStatusPending,
		SampleType: req.SampleType,
		Notes:      req.Notes,
		DueDate:    dueDate,
	}
	if req.ReferredLab != "" {
		test.ReferredLab = &req.ReferredLab
	}

	if err := s.createWithCode(ctx, test); err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, actor.ID, model.AuditActionCreate, model.AuditEntityLabTest, test.ID, nil)
	s.emit(ctx, model.EventLabTestCreated, test)
	return model.NewLabTestView(test, now), nil
}

// createWithCode assigns a generated testCode and inserts, regenerating
// on a code collision. The storage unique constraint arbitrates; this
// loop only bounds how many times we ask it.
func (s *service) createWithCode(ctx context.Context, test *model.LabTest) error {
	var err error
	for attempt := 0; attempt < identifier.MaxAttempts; attempt++ {
		test.TestCode = s.codes.Generate(identifier.PrefixLabTest)
		err = s.repo.Create(ctx, test)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicateCode) {
			return apperrors.Internal(err)
		}
		if s.metrics != nil {
			s.metrics.CodeCollisions.WithLabelValues(identifier.PrefixLabTest).Inc()
		}
	}
	if s.metrics != nil {
		s.metrics.CodeExhausted.WithLabelValues(identifier.PrefixLabTest).Inc()
	}
	return apperrors.ResourceExhausted("exhausted test code generation attempts", err)
}

func (s *service) GetLabTest(ctx context.Context, id uuid.UUID) (*model.LabTestView, error) {
	test, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return model.NewLabTestView(test, s.now()), nil
}

func (s *service) ListLabTests(ctx context.Context, filters *model.LabTestFilters) ([]*model.LabTestView, error) {
	tests, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	now := s.now()
	views := make([]*model.LabTestView, 0, len(tests))
	for _, t := range tests {
		views = append(views, model.NewLabTestView(t, now))
	}
	return views, nil
}

func (s *service) UpdateResults(ctx context.Context, actor model.Actor, id uuid.UUID, req *model.UpdateLabTestRequest) (*model.LabTestView, error) {
	if err := authz.Authorize(actor.Role, authz.EntityLabTest, authz.OpUpdate); err != nil {
		return nil, err
	}

	test, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if test.Status.Terminal() {
		return nil, apperrors.InvalidTransition(fmt.Sprintf("cannot modify a %s lab test", test.Status))
	}

	var touched []string
	if req.Results != nil {
		test.Results = req.Results
		touched = append(touched, "results")
	}
	if req.NormalRange != nil {
		test.NormalRange = *req.NormalRange
		touched = append(touched, "normal_range")
	}
	if req.Interpretation != nil {
		test.Interpretation = *req.Interpretation
		touched = append(touched, "interpretation")
	}
	if req.Notes != nil {
		test.Notes = *req.Notes
		touched = append(touched, "notes")
	}
	if req.SampleType != nil {
		if !req.SampleType.Valid() {
			return nil, apperrors.Validationf("unknown sample type %q", *req.SampleType)
		}
		test.SampleType = *req.SampleType
		touched = append(touched, "sample_type")
	}
	if len(touched) == 0 {
		return model.NewLabTestView(test, s.now()), nil
	}

	if err := s.repo.UpdateResults(ctx, test); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("lab test")
		}
		return nil, apperrors.Internal(err)
	}

	s.auditor.Record(ctx, actor.ID, model.AuditActionUpdate, model.AuditEntityLabTest, test.ID, touched)
	return model.NewLabTestView(test, s.now()), nil
}

func (s *service) StartProcessing(ctx context.Context, actor model.Actor, id uuid.UUID, collectSample bool) (*model.LabTestView, error) {
	if err := authz.Authorize(actor.Role, authz.EntityLabTest, authz.OpUpdate); err != nil {
		return nil, err
	}

	moved, err := s.repo.MarkInProgress(ctx, id, actor.ID, collectSample, s.now())
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if !moved {
		return nil, s.transitionFailure(ctx, id, model.LabTestStatusInProgress)
	}

	fields := []string{"status", "processed_by"}
	if collectSample {
		fields = append(fields, "sample_collected")
	}
	s.auditor.Record(ctx, actor.ID, model.AuditActionStatusChange, model.AuditEntityLabTest, id, fields)

	test, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, model.EventLabTestStatusChanged, test)
	return model.NewLabTestView(test, s.now()), nil
}

func (s *service) Complete(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.LabTestView, error) {
	if err := authz.Authorize(actor.Role, authz.EntityLabTest, authz.OpUpdate); err != nil {
		return nil, err
	}

	moved, err := s.repo.MarkCompleted(ctx, id, s.now())
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if !moved {
		return nil, s.transitionFailure(ctx, id, model.LabTestStatusCompleted)
	}

	s.auditor.Record(ctx, actor.ID, model.AuditActionStatusChange, model.AuditEntityLabTest, id, []string{"status", "completed_at"})

	test, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, model.EventLabTestStatusChanged, test)
	return model.NewLabTestView(test, s.now()), nil
}

func (s *service) Cancel(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.LabTestView, error) {
	if err := authz.Authorize(actor.Role, authz.EntityLabTest, authz.OpCancel); err != nil {
		return nil, err
	}

	moved, err := s.repo.MarkCancelled(ctx, id, s.now())
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if !moved {
		return nil, s.transitionFailure(ctx, id, model.LabTestStatusCancelled)
	}

	s.auditor.Record(ctx, actor.ID, model.AuditActionCancel, model.AuditEntityLabTest, id, []string{"status"})

	test, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, model.EventLabTestStatusChanged, test)
	return model.NewLabTestView(test, s.now()), nil
}

func (s *service) Delete(ctx context.Context, actor model.Actor, id uuid.UUID) error {
	if err := authz.Authorize(actor.Role, authz.EntityLabTest, authz.OpDelete); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("lab test")
		}
		return apperrors.Internal(err)
	}
	s.auditor.Record(ctx, actor.ID, model.AuditActionDelete, model.AuditEntityLabTest, id, nil)
	s.emit(ctx, model.EventLabTestDeleted, map[string]interface{}{"id": id})
	return nil
}

func (s *service) get(ctx context.Context, id uuid.UUID) (*model.LabTest, error) {
	test, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("lab test")
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return test, nil
}

// transitionFailure decides, after a conditional update moved nothing,
// whether the record is missing or the transition was illegal.
func (s *service) transitionFailure(ctx context.Context, id uuid.UUID, target model.LabTestStatus) error {
	test, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	return apperrors.InvalidTransition(fmt.Sprintf("cannot move lab test from %s to %s", test.Status, target))
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
