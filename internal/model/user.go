package model

import (
	"time"

	"github.com/google/uuid"
)

// Role is the closed set of staff roles known to the authorization gate.
type Role string

const (
	RoleAdmin          Role = "admin"
	RoleMedicalOfficer Role = "medical_officer"
	RoleLabOfficer     Role = "lab_officer"
	RolePharmacist     Role = "pharmacist"
	RoleNurse          Role = "nurse"
	RoleFrontDesk      Role = "front_desk"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleMedicalOfficer, RoleLabOfficer, RolePharmacist, RoleNurse, RoleFrontDesk:
		return true
	}
	return false
}

// Actor is the already-authenticated caller identity supplied by the
// transport layer on every request.
type Actor struct {
	ID   uuid.UUID `json:"actor_id"`
	Role Role      `json:"role"`
}

// User status constants
const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)

// User represents a staff member able to act on clinical records.
type User struct {
	Base
	Email                string     `json:"email" db:"email"`
	FullName             string     `json:"full_name" db:"full_name"`
	Password             string     `json:"password,omitempty" db:"-"`
	PasswordHash         string     `json:"-" db:"password_hash"`
	Role                 Role       `json:"role" db:"role"`
	Status               string     `json:"status" db:"status"`
	Phone                *string    `json:"phone" db:"phone"`
	LastPasswordChangeAt *time.Time `json:"last_password_change_at" db:"last_password_change_at"`
}

type CreateUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
	Role     Role   `json:"role" validate:"required"`
	Phone    string `json:"phone"`
}

type UpdateUserRequest struct {
	Email    *string `json:"email" validate:"omitempty,email"`
	FullName *string `json:"full_name"`
	Role     *Role   `json:"role"`
	Status   *string `json:"status"`
	Phone    *string `json:"phone"`
}
