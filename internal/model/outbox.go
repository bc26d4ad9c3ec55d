package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusProcessed OutboxStatus = "PROCESSED"
	OutboxStatusFailed    OutboxStatus = "FAILED"
)

// Event types published to integrators for each core mutation.
const (
	EventPatientCreated        = "PATIENT_CREATED"
	EventPatientUpdated        = "PATIENT_UPDATED"
	EventLabTestCreated        = "LAB_TEST_CREATED"
	EventLabTestStatusChanged  = "LAB_TEST_STATUS_CHANGED"
	EventLabTestDeleted        = "LAB_TEST_DELETED"
	EventPrescriptionCreated   = "PRESCRIPTION_CREATED"
	EventPrescriptionUpdated   = "PRESCRIPTION_UPDATED"
	EventPrescriptionCancelled = "PRESCRIPTION_CANCELLED"
	EventPrescriptionDispensed = "PRESCRIPTION_DISPENSED"
)

type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       string          `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
}
