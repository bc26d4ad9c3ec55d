// Package authz is the single place role permissions live. Every
// lifecycle mutation consults this table; nothing compares role strings
// anywhere else.
package authz

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/careline/records-api/internal/model"
	apperrors "github.com/careline/records-api/pkg/errors"
)

type Entity string

const (
	EntityPatient      Entity = "patient"
	EntityLabTest      Entity = "lab_test"
	EntityPrescription Entity = "prescription"
	EntityUser         Entity = "user"
)

type Operation string

const (
	OpCreate   Operation = "create"
	OpUpdate   Operation = "update"
	OpDelete   Operation = "delete"
	OpCancel   Operation = "cancel"
	OpDispense Operation = "dispense"
)

type permission struct {
	entity Entity
	op     Operation
}

// grants is the static role capability table. Denial is terminal: the
// gate never downgrades an operation.
var grants = map[permission][]model.Role{
	{EntityPatient, OpCreate}: {model.RoleFrontDesk, model.RoleMedicalOfficer, model.RoleNurse, model.RoleAdmin},
	{EntityPatient, OpUpdate}: {model.RoleFrontDesk, model.RoleAdmin},

	{EntityLabTest, OpCreate}: {model.RoleMedicalOfficer, model.RoleLabOfficer, model.RoleAdmin},
	{EntityLabTest, OpUpdate}: {model.RoleLabOfficer, model.RoleAdmin},
	{EntityLabTest, OpCancel}: {model.RoleLabOfficer, model.RoleAdmin},
	{EntityLabTest, OpDelete}: {model.RoleAdmin},

	{EntityPrescription, OpCreate}:   {model.RoleMedicalOfficer, model.RoleAdmin},
	{EntityPrescription, OpUpdate}:   {model.RoleMedicalOfficer, model.RoleAdmin},
	{EntityPrescription, OpCancel}:   {model.RoleMedicalOfficer, model.RoleAdmin},
	{EntityPrescription, OpDispense}: {model.RolePharmacist, model.RoleAdmin},

	{EntityUser, OpCreate}: {model.RoleAdmin},
	{EntityUser, OpUpdate}: {model.RoleAdmin},
	{EntityUser, OpDelete}: {model.RoleAdmin},
}

// Authorize checks the static table. The returned error, when non-nil,
// is always a Forbidden AppError carrying the denial reason.
func Authorize(role model.Role, entity Entity, op Operation) error {
	if !role.Valid() {
		return apperrors.Forbidden(fmt.Sprintf("unknown role %q", role))
	}
	for _, allowed := range grants[permission{entity, op}] {
		if role == allowed {
			return nil
		}
	}
	return apperrors.Forbidden(fmt.Sprintf("role %q may not %s %s", role, op, entity))
}

// AuthorizeOwner enforces the narrower owner-or-admin rule used for
// prescription update/cancel: the original prescriber, or an admin.
// The static table is consulted first so role membership still applies.
func AuthorizeOwner(role model.Role, entity Entity, op Operation, actorID, ownerID uuid.UUID) error {
	if err := Authorize(role, entity, op); err != nil {
		return err
	}
	if role == model.RoleAdmin || actorID == ownerID {
		return nil
	}
	return apperrors.Forbidden(fmt.Sprintf("only the original prescriber or an admin may %s this %s", op, entity))
}
