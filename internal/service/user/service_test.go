package user

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
	"github.com/careline/records-api/pkg/security"
)

type fakeUserRepo struct {
	byID    map[uuid.UUID]*model.User
	byEmail map[string]uuid.UUID
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		byID:    make(map[uuid.UUID]*model.User),
		byEmail: make(map[string]uuid.UUID),
	}
}

func (f *fakeUserRepo) Create(_ context.Context, u *model.User) error {
	if _, taken := f.byEmail[u.Email]; taken {
		return repository.ErrDuplicateEmail
	}
	cp := *u
	f.byID[u.ID] = &cp
	f.byEmail[u.Email] = u.ID
	return nil
}

func (f *fakeUserRepo) Get(_ context.Context, id uuid.UUID) (*model.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	id, ok := f.byEmail[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return f.Get(context.Background(), id)
}

func (f *fakeUserRepo) Update(_ context.Context, u *model.User) error {
	old, ok := f.byID[u.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if other, taken := f.byEmail[u.Email]; taken && other != u.ID {
		return repository.ErrDuplicateEmail
	}
	delete(f.byEmail, old.Email)
	cp := *u
	f.byID[u.ID] = &cp
	f.byEmail[u.Email] = u.ID
	return nil
}

func (f *fakeUserRepo) UpdatePassword(_ context.Context, id uuid.UUID, hash string, at time.Time) error {
	u, ok := f.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = hash
	u.LastPasswordChangeAt = &at
	return nil
}

func (f *fakeUserRepo) Delete(_ context.Context, id uuid.UUID) error {
	u, ok := f.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	delete(f.byEmail, u.Email)
	delete(f.byID, id)
	return nil
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

func newTestService() (Service, *fakeUserRepo, *fakeAuditRepo) {
	repo := newFakeUserRepo()
	auditRepo := &fakeAuditRepo{}
	auditor := audit.NewRecorder(auditRepo, nil, nil)
	// Minimum bcrypt cost keeps the tests fast.
	svc := NewService(repo, security.NewBcryptHasher(4), auditor, nil)
	return svc, repo, auditRepo
}

func createRequest() *model.CreateUserRequest {
	return &model.CreateUserRequest{
		Email:    "jane@clinic.example",
		FullName: "Jane Perera",
		Password: "correct horse battery",
		Role:     model.RoleLabOfficer,
	}
}

func TestCreateUser(t *testing.T) {
	svc, _, auditRepo := newTestService()
	admin := model.Actor{ID: uuid.New(), Role: model.RoleAdmin}

	u, err := svc.CreateUser(context.Background(), admin, createRequest())
	require.NoError(t, err)
	assert.Equal(t, model.UserStatusActive, u.Status)
	assert.NotEmpty(t, u.PasswordHash)
	assert.NotEqual(t, "correct horse battery", u.PasswordHash)
	require.Len(t, auditRepo.entries, 1)
	assert.Equal(t, "user", auditRepo.entries[0].EntityType)
}

func TestOnlyAdminsManageUsers(t *testing.T) {
	svc, _, _ := newTestService()
	officer := model.Actor{ID: uuid.New(), Role: model.RoleMedicalOfficer}

	_, err := svc.CreateUser(context.Background(), officer, createRequest())
	assert.True(t, apperrors.IsForbidden(err))

	err = svc.DeleteUser(context.Background(), officer, uuid.New())
	assert.True(t, apperrors.IsForbidden(err))
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService()
	admin := model.Actor{ID: uuid.New(), Role: model.RoleAdmin}

	_, err := svc.CreateUser(context.Background(), admin, createRequest())
	require.NoError(t, err)

	_, err = svc.CreateUser(context.Background(), admin, createRequest())
	assert.True(t, apperrors.IsConflict(err))
}

func TestUpdateUserRole(t *testing.T) {
	svc, _, auditRepo := newTestService()
	admin := model.Actor{ID: uuid.New(), Role: model.RoleAdmin}

	u, err := svc.CreateUser(context.Background(), admin, createRequest())
	require.NoError(t, err)

	role := model.RolePharmacist
	updated, err := svc.UpdateUser(context.Background(), admin, u.ID, &model.UpdateUserRequest{Role: &role})
	require.NoError(t, err)
	assert.Equal(t, model.RolePharmacist, updated.Role)

	bogus := model.Role("superuser")
	_, err = svc.UpdateUser(context.Background(), admin, u.ID, &model.UpdateUserRequest{Role: &bogus})
	assert.True(t, apperrors.IsValidation(err))

	entry := auditRepo.entries[len(auditRepo.entries)-1]
	assert.Equal(t, "update", entry.Action)
}

func TestAuthenticate(t *testing.T) {
	svc, _, _ := newTestService()
	admin := model.Actor{ID: uuid.New(), Role: model.RoleAdmin}

	created, err := svc.CreateUser(context.Background(), admin, createRequest())
	require.NoError(t, err)

	u, err := svc.Authenticate(context.Background(), "jane@clinic.example", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, created.ID, u.ID)

	// Wrong password and unknown email fail identically.
	_, err = svc.Authenticate(context.Background(), "jane@clinic.example", "wrong")
	assert.True(t, apperrors.IsForbidden(err))
	wrongPwMsg := err.Error()
	_, err = svc.Authenticate(context.Background(), "nobody@clinic.example", "correct horse battery")
	assert.True(t, apperrors.IsForbidden(err))
	assert.Equal(t, wrongPwMsg, err.Error())
}

func TestAuthenticateInactiveAccount(t *testing.T) {
	svc, _, _ := newTestService()
	admin := model.Actor{ID: uuid.New(), Role: model.RoleAdmin}

	u, err := svc.CreateUser(context.Background(), admin, createRequest())
	require.NoError(t, err)

	inactive := model.UserStatusInactive
	_, err = svc.UpdateUser(context.Background(), admin, u.ID, &model.UpdateUserRequest{Status: &inactive})
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), "jane@clinic.example", "correct horse battery")
	assert.True(t, apperrors.IsForbidden(err))
	assert.Contains(t, err.Error(), "inactive")
}

func TestResetPassword(t *testing.T) {
	svc, repo, _ := newTestService()
	admin := model.Actor{ID: uuid.New(), Role: model.RoleAdmin}

	u, err := svc.CreateUser(context.Background(), admin, createRequest())
	require.NoError(t, err)
	oldHash := u.PasswordHash

	// A user may reset their own password.
	self := model.Actor{ID: u.ID, Role: model.RoleLabOfficer}
	require.NoError(t, svc.ResetPassword(context.Background(), self, u.ID, "a different secret"))
	assert.NotEqual(t, oldHash, repo.byID[u.ID].PasswordHash)
	assert.NotNil(t, repo.byID[u.ID].LastPasswordChangeAt)

	// But not anyone else's.
	stranger := model.Actor{ID: uuid.New(), Role: model.RoleNurse}
	err = svc.ResetPassword(context.Background(), stranger, u.ID, "sneaky")
	assert.True(t, apperrors.IsForbidden(err))

	// Admins reset anyone.
	require.NoError(t, svc.ResetPassword(context.Background(), admin, u.ID, "rotated by admin"))
}

func TestCannotDeleteSelf(t *testing.T) {
	svc, _, _ := newTestService()
	admin := model.Actor{ID: uuid.New(), Role: model.RoleAdmin}

	err := svc.DeleteUser(context.Background(), admin, admin.ID)
	assert.True(t, apperrors.IsValidation(err))
}
