package prescription

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careline/records-api/internal/model"
	"github.com/careline/records-api/internal/repository"
	"github.com/careline/records-api/internal/service/audit"
	apperrors "github.com/careline/records-api/pkg/errors"
	"github.com/careline/records-api/pkg/identifier"
)

type fakePrescriptionRepo struct {
	byID     map[uuid.UUID]*model.Prescription
	byNumber map[string]uuid.UUID
}

func newFakePrescriptionRepo() *fakePrescriptionRepo {
	return &fakePrescriptionRepo{
		byID:     make(map[uuid.UUID]*model.Prescription),
		byNumber: make(map[string]uuid.UUID),
	}
}

func (f *fakePrescriptionRepo) Create(_ context.Context, rx *model.Prescription) error {
	if _, taken := f.byNumber[rx.PrescriptionNumber]; taken {
		return repository.ErrDuplicateCode
	}
	rx.CreatedAt = time.Now()
	rx.UpdatedAt = rx.CreatedAt
	cp := *rx
	f.byID[rx.ID] = &cp
	f.byNumber[rx.PrescriptionNumber] = rx.ID
	return nil
}

func (f *fakePrescriptionRepo) Get(_ context.Context, id uuid.UUID) (*model.Prescription, error) {
	rx, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rx
	return &cp, nil
}

func (f *fakePrescriptionRepo) Update(_ context.Context, rx *model.Prescription) error {
	stored, ok := f.byID[rx.ID]
	if !ok || stored.Status != model.PrescriptionStatusActive {
		return repository.ErrNotFound
	}
	stored.MedicationsJSON = rx.MedicationsJSON
	stored.Instructions = rx.Instructions
	stored.DiagnosisID = rx.DiagnosisID
	stored.UpdatedAt = time.Now()
	return nil
}

func (f *fakePrescriptionRepo) Dispense(_ context.Context, id, actorID uuid.UUID, at time.Time) (bool, error) {
	rx, ok := f.byID[id]
	if !ok || rx.Status != model.PrescriptionStatusActive || rx.ExpiryDate.Before(at) {
		return false, nil
	}
	rx.Status = model.PrescriptionStatusCompleted
	rx.DispensedBy = &actorID
	rx.DispensedAt = &at
	rx.UpdatedAt = at
	return true, nil
}

func (f *fakePrescriptionRepo) Cancel(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	rx, ok := f.byID[id]
	if !ok || rx.Status != model.PrescriptionStatusActive {
		return false, nil
	}
	rx.Status = model.PrescriptionStatusCancelled
	rx.UpdatedAt = at
	return true, nil
}

func (f *fakePrescriptionRepo) List(_ context.Context, _ *model.PrescriptionFilters) ([]*model.Prescription, error) {
	var out []*model.Prescription
	for _, rx := range f.byID {
		cp := *rx
		out = append(out, &cp)
	}
	return out, nil
}

type fakePatientRepo struct{ byID map[uuid.UUID]*model.Patient }

func (f *fakePatientRepo) Create(_ context.Context, p *model.Patient) error {
	f.byID[p.ID] = p
	return nil
}
func (f *fakePatientRepo) Get(_ context.Context, id uuid.UUID) (*model.Patient, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}
func (f *fakePatientRepo) GetByDedupeKey(_ context.Context, _ string) (*model.Patient, error) {
	return nil, nil
}
func (f *fakePatientRepo) Update(_ context.Context, _ *model.Patient) error { return nil }
func (f *fakePatientRepo) List(_ context.Context, _ *model.PatientFilters) ([]*model.Patient, error) {
	return nil, nil
}

type fakeAuditRepo struct{ entries []*model.AuditLog }

func (f *fakeAuditRepo) Create(_ context.Context, log *model.AuditLog) error {
	f.entries = append(f.entries, log)
	return nil
}
func (f *fakeAuditRepo) List(_ context.Context, _ map[string]interface{}) ([]*model.AuditLog, error) {
	return f.entries, nil
}
func (f *fakeAuditRepo) DeleteBefore(_ context.Context, _ time.Time) (int64, error) { return 0, nil }

type fixture struct {
	svc       Service
	repo      *fakePrescriptionRepo
	auditRepo *fakeAuditRepo
	patientID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newFakePrescriptionRepo()
	patients := &fakePatientRepo{byID: make(map[uuid.UUID]*model.Patient)}
	auditRepo := &fakeAuditRepo{}
	auditor := audit.NewRecorder(auditRepo, nil, nil)

	patientID := uuid.New()
	patients.byID[patientID] = &model.Patient{Base: model.Base{ID: patientID}, FullName: "John Doe"}

	svc := NewService(repo, patients, identifier.New(), auditor, nil, nil, nil)
	return &fixture{svc: svc, repo: repo, auditRepo: auditRepo, patientID: patientID}
}

func (fx *fixture) createRequest() *model.CreatePrescriptionRequest {
	return &model.CreatePrescriptionRequest{
		PatientID: fx.patientID,
		Medications: []model.Medication{
			{Name: "Amoxicillin", Dosage: "500mg", Frequency: "three times daily", Duration: "7 days"},
		},
	}
}

func TestCreatePrescription(t *testing.T) {
	fx := newFixture(t)
	actor := model.Actor{ID: uuid.New(), Role: model.RoleMedicalOfficer}

	view, err := fx.svc.CreatePrescription(context.Background(), actor, fx.createRequest())
	require.NoError(t, err)
	assert.Equal(t, model.PrescriptionStatusActive, view.Status)
	assert.Equal(t, actor.ID, view.PrescribedBy)
	assert.Regexp(t, `^RX\d{12}$`, view.PrescriptionNumber)
	require.Len(t, view.Medications, 1)
}

func TestCreatePrescriptionRequiresAMedication(t *testing.T) {
	fx := newFixture(t)
	actor := model.Actor{ID: uuid.New(), Role: model.RoleMedicalOfficer}

	req := fx.createRequest()
	req.Medications = nil
	_, err := fx.svc.CreatePrescription(context.Background(), actor, req)
	assert.True(t, apperrors.IsValidation(err))

	// Medication lines need every core field.
	req = fx.createRequest()
	req.Medications = []model.Medication{{Name: "Amoxicillin"}}
	_, err = fx.svc.CreatePrescription(context.Background(), actor, req)
	assert.True(t, apperrors.IsValidation(err))
}

func TestExpiryFollowsLongestCourse(t *testing.T) {
	fx := newFixture(t)
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	fx.svc.(*service).now = func() time.Time { return now }
	actor := model.Actor{ID: uuid.New(), Role: model.RoleMedicalOfficer}

	cases := []struct {
		name      string
		durations []string
		days      int
	}{
		{"single course", []string{"7 days"}, 7},
		{"singular unit", []string{"1 day"}, 1},
		{"weeks", []string{"2 weeks"}, 14},
		{"months", []string{"3 months"}, 90},
		{"longest wins", []string{"5 days", "2 weeks", "10 days"}, 14},
		{"case and spacing", []string{"2WEEKS"}, 14},
		{"unparseable falls back", []string{"until finished"}, 30},
		{"unparseable never inflates a short course", []string{"5 days", "as needed"}, 5},
		{"longest matching wins over unparseable", []string{"until finished", "2 months"}, 60},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := fx.createRequest()
			req.Medications = nil
			for _, d := range tc.durations {
				req.Medications = append(req.Medications, model.Medication{
					Name: "Drug", Dosage: "1 tab", Frequency: "daily", Duration: d,
				})
			}
			view, err := fx.svc.CreatePrescription(context.Background(), actor, req)
			require.NoError(t, err)
			assert.Equal(t, now.Add(time.Duration(tc.days)*24*time.Hour), view.ExpiryDate)
		})
	}

	// An explicit expiry wins over derivation.
	explicit := now.Add(12 * time.Hour)
	req := fx.createRequest()
	req.ExpiryDate = &explicit
	view, err := fx.svc.CreatePrescription(context.Background(), actor, req)
	require.NoError(t, err)
	assert.Equal(t, explicit, view.ExpiryDate)
}

func TestDispense(t *testing.T) {
	fx := newFixture(t)
	prescriber := model.Actor{ID: uuid.New(), Role: model.RoleMedicalOfficer}
	pharmacist := model.Actor{ID: uuid.New(), Role: model.RolePharmacist}

	created, err := fx.svc.CreatePrescription(context.Background(), prescriber, fx.createRequest())
	require.NoError(t, err)

	view, err := fx.svc.Dispense(context.Background(), pharmacist, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PrescriptionStatusCompleted, view.Status)
	require.NotNil(t, view.DispensedBy)
	assert.Equal(t, pharmacist.ID, *view.DispensedBy)
	require.NotNil(t, view.DispensedAt)

	// A second dispense finds the order already completed.
	_, err = fx.svc.Dispense(context.Background(), pharmacist, created.ID)
	assert.True(t, apperrors.IsInvalidTransition(err))
}

func TestDispenseAuthz(t *testing.T) {
	fx := newFixture(t)
	prescriber := model.Actor{ID: uuid.New(), Role: model.RoleMedicalOfficer}

	created, err := fx.svc.CreatePrescription(context.Background(), prescriber, fx.createRequest())
	require.NoError(t, err)

	// Prescribers do not dispense their own orders.
	_, err = fx.svc.Dispense(context.Background(), prescriber, created.ID)
	assert.True(t, apperrors.IsForbidden(err))

	nurse := model.Actor{ID: uuid.New(), Role: model.RoleNurse}
	_, err = fx.svc.Dispense(context.Background(), nurse, created.ID)
	assert.True(t, apperrors.IsForbidden(err))

	admin := model.Actor{ID: uuid.New(), Role: model.RoleAdmin}
	_, err = fx.svc.Dispense(context.Background(), admin, created.ID)
	require.NoError(t, err)
}

func TestExpiredPrescriptionReadsExpiredAndRefusesDispense(t *testing.T) {
	fx := newFixture(t)
	svc := fx.svc.(*service)
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	prescriber := model.Actor{ID: uuid.New(), Role: model.RoleMedicalOfficer}
	pharmacist := model.Actor{ID: uuid.New(), Role: model.RolePharmacist}

	created, err := fx.svc.CreatePrescription(context.Background(), prescriber, fx.createRequest())
	require.NoError(t, err)

	// Jump past the 7-day course expiry. The stored status stays active;
	// only the read-time view changes.
	svc.now = func() time.Time { return now.Add(8 * 24 * time.Hour) }

	view, err := fx.svc.GetPrescription(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PrescriptionStatusExpired, view.Status)
	assert.Equal(t, model.PrescriptionStatusActive, fx.repo.byID[created.ID].Status)

	_, err = fx.svc.Dispense(context.Background(), pharmacist, created.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidTransition(err))
	assert.Contains(t, err.Error(), "expired")

	// Expired is terminal for every other mutation too.
	instr := "take with food"
	_, err = fx.svc.UpdatePrescription(context.Background(), prescriber, created.ID, &model.UpdatePrescriptionRequest{Instructions: &instr})
	assert.True(t, apperrors.IsInvalidTransition(err))
	_, err = fx.svc.CancelPrescription(context.Background(), prescriber, created.ID)
	assert.True(t, apperrors.IsInvalidTransition(err))
}

func TestUpdateReplacesMedicationsWholesale(t *testing.T) {
	fx := newFixture(t)
	prescriber := model.Actor{ID: uuid.New(), Role: model.RoleMedicalOfficer}

	created, err := fx.svc.CreatePrescription(context.Background(), prescriber, fx.createRequest())
	require.NoError(t, err)

	view, err := fx.svc.UpdatePrescription(context.Background(), prescriber, created.ID, &model.UpdatePrescriptionRequest{
		Medications: []model.Medication{
			{Name: "Paracetamol", Dosage: "1g", Frequency: "as needed", Duration: "5 days"},
			{Name: "Ibuprofen", Dosage: "400mg", Frequency: "twice daily", Duration: "5 days"},
		},
	})
	require.NoError(t, err)
	require.Len(t, view.Medications, 2)
	assert.Equal(t, "Paracetamol", view.Medications[0].Name)

	stored, err := fx.svc.GetPrescription(context.Background(), created.ID)
	require.NoError(t, err)
	require.Len(t, stored.Medications, 2)
}

func TestOwnerOrAdminGuardsMutations(t *testing.T) {
	fx := newFixture(t)
	prescriber := model.Actor{ID: uuid.New(), Role: model.RoleMedicalOfficer}
	colleague := model.Actor{ID: uuid.New(), Role: model.RoleMedicalOfficer}
	admin := model.Actor{ID: uuid.New(), Role: model.RoleAdmin}

	created, err := fx.svc.CreatePrescription(context.Background(), prescriber, fx.createRequest())
	require.NoError(t, err)

	instr := "after meals"
	_, err = fx.svc.UpdatePrescription(context.Background(), colleague, created.ID, &model.UpdatePrescriptionRequest{Instructions: &instr})
	assert.True(t, apperrors.IsForbidden(err))
	_, err = fx.svc.CancelPrescription(context.Background(), colleague, created.ID)
	assert.True(t, apperrors.IsForbidden(err))

	_, err = fx.svc.UpdatePrescription(context.Background(), admin, created.ID, &model.UpdatePrescriptionRequest{Instructions: &instr})
	require.NoError(t, err)
	cancelled, err := fx.svc.CancelPrescription(context.Background(), admin, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PrescriptionStatusCancelled, cancelled.Status)
}

func TestAttachments(t *testing.T) {
	fx := newFixture(t)
	prescriber := model.Actor{ID: uuid.New(), Role: model.RoleMedicalOfficer}

	req := fx.createRequest()
	req.Attachments = []model.PrescriptionAttachment{
		{Filename: "scan.pdf", MimeType: "application/pdf", Data: []byte("%PDF-1.4")},
	}
	created, err := fx.svc.CreatePrescription(context.Background(), prescriber, req)
	require.NoError(t, err)

	att, err := fx.svc.GetAttachment(context.Background(), created.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "scan.pdf", att.Filename)
	assert.Equal(t, []byte("%PDF-1.4"), att.Data)
	assert.False(t, att.UploadedAt.IsZero())

	_, err = fx.svc.GetAttachment(context.Background(), created.ID, 1)
	assert.True(t, apperrors.IsNotFound(err))
	_, err = fx.svc.GetAttachment(context.Background(), created.ID, -1)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestPrescriptionNumberCollisionRetries(t *testing.T) {
	fx := newFixture(t)
	actor := model.Actor{ID: uuid.New(), Role: model.RoleMedicalOfficer}

	fx.repo.byNumber["RX202604010001"] = uuid.New()
	fx.svc.(*service).codes = &stubCodes{codes: []string{"RX202604010001", "RX202604010002"}}

	view, err := fx.svc.CreatePrescription(context.Background(), actor, fx.createRequest())
	require.NoError(t, err)
	assert.Equal(t, "RX202604010002", view.PrescriptionNumber)
}

func TestPrescriptionNumberExhaustion(t *testing.T) {
	fx := newFixture(t)
	actor := model.Actor{ID: uuid.New(), Role: model.RoleMedicalOfficer}

	taken := "RX202604010001"
	fx.repo.byNumber[taken] = uuid.New()
	fx.svc.(*service).codes = &stubCodes{codes: []string{taken}}

	_, err := fx.svc.CreatePrescription(context.Background(), actor, fx.createRequest())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindResourceExhausted, apperrors.KindOf(err))
}

// stubCodes replays a fixed code sequence.
type stubCodes struct {
	codes []string
	i     int
}

func (s *stubCodes) Generate(string) string {
	c := s.codes[s.i%len(s.codes)]
	s.i++
	return c
}
