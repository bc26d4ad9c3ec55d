package authz

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/careline/records-api/internal/model"
	apperrors "github.com/careline/records-api/pkg/errors"
)

func TestAuthorizeTable(t *testing.T) {
	tests := []struct {
		name    string
		role    model.Role
		entity  Entity
		op      Operation
		allowed bool
	}{
		{"front desk creates patient", model.RoleFrontDesk, EntityPatient, OpCreate, true},
		{"nurse creates patient", model.RoleNurse, EntityPatient, OpCreate, true},
		{"medical officer creates patient", model.RoleMedicalOfficer, EntityPatient, OpCreate, true},
		{"nurse updates patient", model.RoleNurse, EntityPatient, OpUpdate, false},
		{"front desk updates patient", model.RoleFrontDesk, EntityPatient, OpUpdate, true},
		{"pharmacist creates lab test", model.RolePharmacist, EntityLabTest, OpCreate, false},
		{"lab officer creates lab test", model.RoleLabOfficer, EntityLabTest, OpCreate, true},
		{"lab officer updates lab test", model.RoleLabOfficer, EntityLabTest, OpUpdate, true},
		{"front desk deletes lab test", model.RoleFrontDesk, EntityLabTest, OpDelete, false},
		{"admin deletes lab test", model.RoleAdmin, EntityLabTest, OpDelete, true},
		{"front desk creates prescription", model.RoleFrontDesk, EntityPrescription, OpCreate, false},
		{"medical officer creates prescription", model.RoleMedicalOfficer, EntityPrescription, OpCreate, true},
		{"nurse dispenses", model.RoleNurse, EntityPrescription, OpDispense, false},
		{"pharmacist dispenses", model.RolePharmacist, EntityPrescription, OpDispense, true},
		{"admin dispenses", model.RoleAdmin, EntityPrescription, OpDispense, true},
		{"pharmacist creates user", model.RolePharmacist, EntityUser, OpCreate, false},
		{"admin creates user", model.RoleAdmin, EntityUser, OpCreate, true},
		{"unknown role", model.Role("janitor"), EntityPatient, OpCreate, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(tt.role, tt.entity, tt.op)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.True(t, apperrors.IsForbidden(err), "expected forbidden, got %v", err)
			}
		})
	}
}

func TestAuthorizeOwner(t *testing.T) {
	prescriber := uuid.New()
	other := uuid.New()

	// Prescriber may cancel their own prescription.
	assert.NoError(t, AuthorizeOwner(model.RoleMedicalOfficer, EntityPrescription, OpCancel, prescriber, prescriber))

	// A different medical officer may not.
	err := AuthorizeOwner(model.RoleMedicalOfficer, EntityPrescription, OpCancel, other, prescriber)
	assert.True(t, apperrors.IsForbidden(err))

	// Admin may regardless of ownership.
	assert.NoError(t, AuthorizeOwner(model.RoleAdmin, EntityPrescription, OpCancel, other, prescriber))

	// Role table still applies before the owner rule.
	err = AuthorizeOwner(model.RolePharmacist, EntityPrescription, OpCancel, prescriber, prescriber)
	assert.True(t, apperrors.IsForbidden(err))
}
