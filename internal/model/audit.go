package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditLog is one append-only trail entry per logical mutation. The
// metadata bag names the fields touched, never their values, so the
// trail does not duplicate clinical data.
type AuditLog struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	ActorID    uuid.UUID       `json:"actor_id" db:"actor_id"`
	Action     string          `json:"action" db:"action"`
	EntityType string          `json:"entity_type" db:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id" db:"entity_id"`
	Metadata   json.RawMessage `json:"metadata" db:"metadata"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

const (
	// Action types
	AuditActionCreate        = "create"
	AuditActionUpdate        = "update"
	AuditActionDelete        = "delete"
	AuditActionCancel        = "cancel"
	AuditActionDispense      = "dispense"
	AuditActionStatusChange  = "status_change"
	AuditActionPasswordReset = "password_reset"

	// Entity types
	AuditEntityUser         = "user"
	AuditEntityPatient      = "patient"
	AuditEntityLabTest      = "lab_test"
	AuditEntityPrescription = "prescription"
)
