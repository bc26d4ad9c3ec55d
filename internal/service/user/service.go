// Package user manages staff accounts. Mutations are admin-gated
// except for self-service password resets; role changes take effect on
// the caller's next request since the authorization gate reads the
// role off the supplied actor.
package user

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/careline/records-api/internal/authz"
	"github.com/careline/records-api/internal/model"
	"github.com/careline/records-api/internal/repository"
	"github.com/careline/records-api/internal/service/audit"
	apperrors "github.com/careline/records-api/pkg/errors"
	"github.com/careline/records-api/pkg/logger"
	"github.com/careline/records-api/pkg/security"
)

type Service interface {
	CreateUser(ctx context.Context, actor model.Actor, req *model.CreateUserRequest) (*model.User, error)
	Authenticate(ctx context.Context, email, password string) (*model.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)
	UpdateUser(ctx context.Context, actor model.Actor, id uuid.UUID, req *model.UpdateUserRequest) (*model.User, error)
	ResetPassword(ctx context.Context, actor model.Actor, id uuid.UUID, newPassword string) error
	DeleteUser(ctx context.Context, actor model.Actor, id uuid.UUID) error
}

type service struct {
	repo     repository.UserRepository
	hasher   security.PasswordHasher
	auditor  *audit.Recorder
	validate *validator.Validate
	logger   *logger.Logger
	now      func() time.Time
}

func NewService(repo repository.UserRepository, hasher security.PasswordHasher, auditor *audit.Recorder, log *logger.Logger) Service {
	if log == nil {
		log = logger.NewLogger(nil)
	}
	return &service{
		repo:     repo,
		hasher:   hasher,
		auditor:  auditor,
		validate: validator.New(),
		logger:   log,
		now:      time.Now,
	}
}

func (s *service) CreateUser(ctx context.Context, actor model.Actor, req *model.CreateUserRequest) (*model.User, error) {
	if err := authz.Authorize(actor.Role, authz.EntityUser, authz.OpCreate); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.Validationf("invalid user data: %v", err)
	}
	if !req.Role.Valid() {
		return nil, apperrors.Validationf("unknown role %q", req.Role)
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, apperrors.Validationf("unusable password: %v", err)
	}

	u := &model.User{
		Base: model.Base{
			ID: uuid.New(),
		},
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: hash,
		Role:         req.Role,
		Status:       model.UserStatusActive,
	}
	if req.Phone != "" {
		u.Phone = &req.Phone
	}

	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, apperrors.Conflict("a user with this email already exists", err)
		}
		return nil, apperrors.Internal(err)
	}

	s.auditor.Record(ctx, actor.ID, model.AuditActionCreate, model.AuditEntityUser, u.ID, nil)
	return u, nil
}

// Authenticate verifies staff credentials. Unknown emails and wrong
// passwords produce the same error so the response never confirms
// whether an account exists.
func (s *service) Authenticate(ctx context.Context, email, password string) (*model.User, error) {
	u, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Forbidden("invalid credentials")
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if err := s.hasher.Compare(u.PasswordHash, password); err != nil {
		return nil, apperrors.Forbidden("invalid credentials")
	}
	if u.Status != model.UserStatusActive {
		return nil, apperrors.Forbidden("account is inactive")
	}
	return u, nil
}

func (s *service) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	u, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("user")
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return u, nil
}

func (s *service) UpdateUser(ctx context.Context, actor model.Actor, id uuid.UUID, req *model.UpdateUserRequest) (*model.User, error) {
	if err := authz.Authorize(actor.Role, authz.EntityUser, authz.OpUpdate); err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.Validationf("invalid user data: %v", err)
	}

	u, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	var touched []string
	if req.Email != nil {
		u.Email = *req.Email
		touched = append(touched, "email")
	}
	if req.FullName != nil {
		u.FullName = *req.FullName
		touched = append(touched, "full_name")
	}
	if req.Role != nil {
		if !req.Role.Valid() {
			return nil, apperrors.Validationf("unknown role %q", *req.Role)
		}
		u.Role = *req.Role
		touched = append(touched, "role")
	}
	if req.Status != nil {
		if *req.Status != model.UserStatusActive && *req.Status != model.UserStatusInactive {
			return nil, apperrors.Validationf("unknown status %q", *req.Status)
		}
		u.Status = *req.Status
		touched = append(touched, "status")
	}
	if req.Phone != nil {
		u.Phone = req.Phone
		touched = append(touched, "phone")
	}
	if len(touched) == 0 {
		return u, nil
	}

	if err := s.repo.Update(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, apperrors.Conflict("a user with this email already exists", err)
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("user")
		}
		return nil, apperrors.Internal(err)
	}

	s.auditor.Record(ctx, actor.ID, model.AuditActionUpdate, model.AuditEntityUser, u.ID, touched)
	return u, nil
}

func (s *service) ResetPassword(ctx context.Context, actor model.Actor, id uuid.UUID, newPassword string) error {
	// Admins reset anyone; everyone else only their own.
	if actor.Role != model.RoleAdmin && actor.ID != id {
		return apperrors.Forbidden("only an admin may reset another user's password")
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return apperrors.Validationf("unusable password: %v", err)
	}

	if err := s.repo.UpdatePassword(ctx, id, hash, s.now()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("user")
		}
		return apperrors.Internal(err)
	}

	s.auditor.Record(ctx, actor.ID, model.AuditActionPasswordReset, model.AuditEntityUser, id, []string{"password_hash"})
	return nil
}

func (s *service) DeleteUser(ctx context.Context, actor model.Actor, id uuid.UUID) error {
	if err := authz.Authorize(actor.Role, authz.EntityUser, authz.OpDelete); err != nil {
		return err
	}
	if actor.ID == id {
		return apperrors.Validation("cannot delete your own account")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("user")
		}
		return apperrors.Internal(err)
	}
	s.auditor.Record(ctx, actor.ID, model.AuditActionDelete, model.AuditEntityUser, id, nil)
	return nil
}
