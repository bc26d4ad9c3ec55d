package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type PrescriptionStatus string

const (
	PrescriptionStatusActive    PrescriptionStatus = "active"
	PrescriptionStatusCompleted PrescriptionStatus = "completed"
	PrescriptionStatusCancelled PrescriptionStatus = "cancelled"
	PrescriptionStatusExpired   PrescriptionStatus = "expired"
)

func (s PrescriptionStatus) Valid() bool {
	switch s {
	case PrescriptionStatusActive, PrescriptionStatusCompleted, PrescriptionStatusCancelled, PrescriptionStatusExpired:
		return true
	}
	return false
}

func (s PrescriptionStatus) Terminal() bool {
	return s != PrescriptionStatusActive
}

// Medication is one line of a prescription. Name, dosage, frequency and
// duration are all mandatory.
type Medication struct {
	Name         string `json:"name" validate:"required"`
	Dosage       string `json:"dosage" validate:"required"`
	Frequency    string `json:"frequency" validate:"required"`
	Duration     string `json:"duration" validate:"required"`
	Instructions string `json:"instructions"`
}

// PrescriptionAttachment is a binary blob fixed at creation time and
// retrieved by position.
type PrescriptionAttachment struct {
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mime_type"`
	Data       []byte    `json:"data"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Prescription is a medication order. PrescriptionNumber is generated
// once at creation and immutable.
type Prescription struct {
	Base
	PatientID          uuid.UUID          `db:"patient_id" json:"patient_id"`
	PrescribedBy       uuid.UUID          `db:"prescribed_by" json:"prescribed_by"`
	DiagnosisID        *uuid.UUID         `db:"diagnosis_id" json:"diagnosis_id,omitempty"`
	PrescriptionNumber string             `db:"prescription_number" json:"prescription_number"`
	Status             PrescriptionStatus `db:"status" json:"status"`
	Instructions       string             `db:"instructions" json:"instructions,omitempty"`
	MedicationsJSON    json.RawMessage    `db:"medications" json:"-"`
	AttachmentsJSON    json.RawMessage    `db:"attachments" json:"-"`
	DispensedBy        *uuid.UUID         `db:"dispensed_by" json:"dispensed_by,omitempty"`
	DispensedAt        *time.Time         `db:"dispensed_at" json:"dispensed_at,omitempty"`
	ExpiryDate         time.Time          `db:"expiry_date" json:"expiry_date"`

	Medications []Medication             `db:"-" json:"medications"`
	Attachments []PrescriptionAttachment `db:"-" json:"attachments,omitempty"`
}

// EffectiveStatus derives the read-time status: an active prescription
// past its expiry date reads as expired. Nothing ever writes the
// expired value; deriving it on read avoids a sweeper racing concurrent
// dispense attempts.
func (p *Prescription) EffectiveStatus(now time.Time) PrescriptionStatus {
	if p.Status == PrescriptionStatusActive && p.ExpiryDate.Before(now) {
		return PrescriptionStatusExpired
	}
	return p.Status
}

// PrescriptionView is the read-model handed back to callers; Status is
// the effective (read-time derived) status.
type PrescriptionView struct {
	*Prescription
	Status PrescriptionStatus `json:"status"`
}

func NewPrescriptionView(p *Prescription, now time.Time) *PrescriptionView {
	return &PrescriptionView{
		Prescription: p,
		Status:       p.EffectiveStatus(now),
	}
}

type CreatePrescriptionRequest struct {
	PatientID    uuid.UUID                `json:"patient_id" validate:"required"`
	DiagnosisID  *uuid.UUID               `json:"diagnosis_id"`
	Medications  []Medication             `json:"medications" validate:"required,min=1,dive"`
	Instructions string                   `json:"instructions"`
	Attachments  []PrescriptionAttachment `json:"attachments"`
	ExpiryDate   *time.Time               `json:"expiry_date"`
}

// UpdatePrescriptionRequest replaces the medication list wholesale when
// present; there is no incremental patching.
type UpdatePrescriptionRequest struct {
	Medications  []Medication `json:"medications" validate:"omitempty,min=1,dive"`
	Instructions *string      `json:"instructions"`
	DiagnosisID  *uuid.UUID   `json:"diagnosis_id"`
}

type PrescriptionFilters struct {
	PatientID    uuid.UUID          `json:"patient_id" form:"patient_id"`
	PrescribedBy uuid.UUID          `json:"prescribed_by" form:"prescribed_by"`
	Status       PrescriptionStatus `json:"status" form:"status"`
	Pagination
}
