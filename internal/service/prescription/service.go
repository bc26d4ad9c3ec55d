// Package prescription owns the medication order lifecycle. Expiry is
// computed once at creation from the longest medication course; the
// expired status itself is derived at read time and never stored.
package prescription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
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

// defaultCourseDays is assumed when no medication duration on the
// order parses; the longest course across the order drives the expiry
// date.
const defaultCourseDays = 30

var durationPattern = regexp.MustCompile(`(?i)^\s*(\d+)\s*(day|week|month)s?\s*$`)

type Service interface {
	CreatePrescription(ctx context.Context, actor model.Actor, req *model.CreatePrescriptionRequest) (*model.PrescriptionView, error)
	GetPrescription(ctx context.Context, id uuid.UUID) (*model.PrescriptionView, error)
	ListPrescriptions(ctx context.Context, filters *model.PrescriptionFilters) ([]*model.PrescriptionView, error)
	UpdatePrescription(ctx context.Context, actor model.Actor, id uuid.UUID, req *model.UpdatePrescriptionRequest) (*model.PrescriptionView, error)
	CancelPrescription(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.PrescriptionView, error)
	Dispense(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.PrescriptionView, error)
	GetAttachment(ctx context.Context, id uuid.UUID, index int) (*model.PrescriptionAttachment, error)
}

type service struct {
	repo        repository.PrescriptionRepository
	patientRepo repository.PatientRepository
	codes       identifier.Generator
	auditor     *audit.Recorder
	outbox      repository.OutboxRepository
	validate    *validator.Validate
	logger      *logger.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewService(repo repository.PrescriptionRepository, patientRepo repository.PatientRepository, codes identifier.Generator, auditor *audit.Recorder, outbox repository.OutboxRepository, log *logger.Logger, m *metrics.Metrics) Service {
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

func (s *service) CreatePrescription(ctx context.Context, actor model.Actor, req *model.CreatePrescriptionRequest) (*model.PrescriptionView, error) {
	if err := authz.Authorize(actor.Role, authz.EntityPrescription, authz.OpCreate); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.Validationf("invalid prescription data: %v", err)
	}

	if _, err := s.patientRepo.Get(ctx, req.PatientID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("patient")
		}
		return nil, apperrors.Internal(err)
	}

	now := s.now()
	expiry := now.Add(time.Duration(longestCourseDays(req.Medications)) * 24 * time.Hour)
	if req.ExpiryDate != nil {
		expiry = *req.ExpiryDate
	}

	attachments := make([]model.PrescriptionAttachment, len(req.Attachments))
	for i, a := range req.Attachments {
		a.UploadedAt = now
		attachments[i] = a
	}

	rx := &model.Prescription{
		Base: model.Base{
			ID: uuid.New(),
		},
		PatientID:    req.PatientID,
		PrescribedBy: actor.ID,
		DiagnosisID:  req.DiagnosisID,
		Status:       model.PrescriptionStatusActive,
		Instructions: req.Instructions,
		Medications:  req.Medications,
		Attachments:  attachments,
		ExpiryDate:   expiry,
	}
	if err := marshalJSONFields(rx); err != nil {
		return nil, apperrors.Internal(err)
	}

	if err := s.createWithNumber(ctx, rx); err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, actor.ID, model.AuditActionCreate, model.AuditEntityPrescription, rx.ID, nil)
	s.emit(ctx, model.EventPrescriptionCreated, rx)
	return model.NewPrescriptionView(rx, now), nil
}

func (s *service) createWithNumber(ctx context.Context, rx *model.Prescription) error {
	var err error
	for attempt := 0; attempt < identifier.MaxAttempts; attempt++ {
		rx.PrescriptionNumber = s.codes.Generate(identifier.PrefixPrescription)
		err = s.repo.Create(ctx, rx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicateCode) {
			return apperrors.Internal(err)
		}
		if s.metrics != nil {
			s.metrics.CodeCollisions.WithLabelValues(identifier.PrefixPrescription).Inc()
		}
	}
	if s.metrics != nil {
		s.metrics.CodeExhausted.WithLabelValues(identifier.PrefixPrescription).Inc()
	}
	return apperrors.ResourceExhausted("exhausted prescription number generation attempts", err)
}

func (s *service) GetPrescription(ctx context.Context, id uuid.UUID) (*model.PrescriptionView, error) {
	rx, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return model.NewPrescriptionView(rx, s.now()), nil
}

func (s *service) ListPrescriptions(ctx context.Context, filters *model.PrescriptionFilters) ([]*model.PrescriptionView, error) {
	rxs, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	now := s.now()
	views := make([]*model.PrescriptionView, 0, len(rxs))
	for _, rx := range rxs {
		if err := unmarshalJSONFields(rx); err != nil {
			return nil, apperrors.Internal(err)
		}
		views = append(views, model.NewPrescriptionView(rx, now))
	}
	return views, nil
}

func (s *service) UpdatePrescription(ctx context.Context, actor model.Actor, id uuid.UUID, req *model.UpdatePrescriptionRequest) (*model.PrescriptionView, error) {
	rx, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authz.AuthorizeOwner(actor.Role, authz.EntityPrescription, authz.OpUpdate, actor.ID, rx.PrescribedBy); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.Validationf("invalid prescription data: %v", err)
	}

	now := s.now()
	if status := rx.EffectiveStatus(now); status.Terminal() {
		return nil, apperrors.InvalidTransition(fmt.Sprintf("cannot modify a %s prescription", status))
	}

	var touched []string
	if req.Medications != nil {
		rx.Medications = req.Medications
		touched = append(touched, "medications")
	}
	if req.Instructions != nil {
		rx.Instructions = *req.Instructions
		touched = append(touched, "instructions")
	}
	if req.DiagnosisID != nil {
		rx.DiagnosisID = req.DiagnosisID
		touched = append(touched, "diagnosis_id")
	}
	if len(touched) == 0 {
		return model.NewPrescriptionView(rx, now), nil
	}

	if err := marshalJSONFields(rx); err != nil {
		return nil, apperrors.Internal(err)
	}
	if err := s.repo.Update(ctx, rx); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Lost a race with a cancel or dispense between read and write.
			return nil, s.transitionFailure(ctx, id, "modify")
		}
		return nil, apperrors.Internal(err)
	}

	s.auditor.Record(ctx, actor.ID, model.AuditActionUpdate, model.AuditEntityPrescription, rx.ID, touched)
	s.emit(ctx, model.EventPrescriptionUpdated, rx)
	return model.NewPrescriptionView(rx, now), nil
}

func (s *service) CancelPrescription(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.PrescriptionView, error) {
	rx, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authz.AuthorizeOwner(actor.Role, authz.EntityPrescription, authz.OpCancel, actor.ID, rx.PrescribedBy); err != nil {
		return nil, err
	}

	now := s.now()
	if status := rx.EffectiveStatus(now); status.Terminal() {
		return nil, apperrors.InvalidTransition(fmt.Sprintf("cannot cancel a %s prescription", status))
	}

	moved, err := s.repo.Cancel(ctx, id, now)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if !moved {
		return nil, s.transitionFailure(ctx, id, "cancel")
	}

	s.auditor.Record(ctx, actor.ID, model.AuditActionCancel, model.AuditEntityPrescription, id, []string{"status"})

	rx, err = s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, model.EventPrescriptionCancelled, rx)
	return model.NewPrescriptionView(rx, now), nil
}

func (s *service) Dispense(ctx context.Context, actor model.Actor, id uuid.UUID) (*model.PrescriptionView, error) {
	if err := authz.Authorize(actor.Role, authz.EntityPrescription, authz.OpDispense); err != nil {
		return nil, err
	}

	now := s.now()
	moved, err := s.repo.Dispense(ctx, id, actor.ID, now)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if !moved {
		return nil, s.transitionFailure(ctx, id, "dispense")
	}

	s.auditor.Record(ctx, actor.ID, model.AuditActionDispense, model.AuditEntityPrescription, id, []string{"status", "dispensed_by", "dispensed_at"})

	rx, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, model.EventPrescriptionDispensed, rx)
	return model.NewPrescriptionView(rx, now), nil
}

func (s *service) GetAttachment(ctx context.Context, id uuid.UUID, index int) (*model.PrescriptionAttachment, error) {
	rx, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(rx.Attachments) {
		return nil, apperrors.NotFound("attachment")
	}
	att := rx.Attachments[index]
	return &att, nil
}

func (s *service) get(ctx context.Context, id uuid.UUID) (*model.Prescription, error) {
	rx, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("prescription")
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if err := unmarshalJSONFields(rx); err != nil {
		return nil, apperrors.Internal(err)
	}
	return rx, nil
}

// transitionFailure decides, after a conditional update moved nothing,
// whether the record is missing or the operation was illegal for its
// effective status.
func (s *service) transitionFailure(ctx context.Context, id uuid.UUID, verb string) error {
	rx, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	return apperrors.InvalidTransition(fmt.Sprintf("cannot %s a %s prescription", verb, rx.EffectiveStatus(s.now())))
}

// longestCourseDays parses every medication duration and returns the
// longest in days. Durations that don't match the "<n> day|week|month"
// pattern contribute nothing; the default applies only when no
// medication parses at all.
func longestCourseDays(meds []model.Medication) int {
	max := 0
	for _, m := range meds {
		if d := courseDays(m.Duration); d > max {
			max = d
		}
	}
	if max == 0 {
		return defaultCourseDays
	}
	return max
}

func courseDays(duration string) int {
	m := durationPattern.FindStringSubmatch(duration)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0
	}
	switch strings.ToLower(m[2]) {
	case "week":
		return n * 7
	case "month":
		return n * 30
	default:
		return n
	}
}

func marshalJSONFields(rx *model.Prescription) error {
	meds, err := json.Marshal(rx.Medications)
	if err != nil {
		return err
	}
	rx.MedicationsJSON = meds

	atts := rx.Attachments
	if atts == nil {
		atts = []model.PrescriptionAttachment{}
	}
	raw, err := json.Marshal(atts)
	if err != nil {
		return err
	}
	rx.AttachmentsJSON = raw
	return nil
}

func unmarshalJSONFields(rx *model.Prescription) error {
	if len(rx.MedicationsJSON) > 0 {
		if err := json.Unmarshal(rx.MedicationsJSON, &rx.Medications); err != nil {
			return err
		}
	}
	if len(rx.AttachmentsJSON) > 0 {
		if err := json.Unmarshal(rx.AttachmentsJSON, &rx.Attachments); err != nil {
			return err
		}
	}
	return nil
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
