package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type PhoneType string

const (
	PhoneTypeMobile PhoneType = "mobile"
	PhoneTypeHome   PhoneType = "home"
	PhoneTypeWork   PhoneType = "work"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
)

type Phone struct {
	Type   PhoneType `json:"type"`
	Number string    `json:"number"`
}

type InsuranceInfo struct {
	Provider     string `json:"provider"`
	PolicyNumber string `json:"policy_number"`
	ValidUntil   string `json:"valid_until,omitempty"`
}

type ReferralInfo struct {
	ReferredBy string `json:"referred_by"`
	Facility   string `json:"facility"`
	Reason     string `json:"reason,omitempty"`
}

// VitalSigns is the check-in snapshot taken at registration.
type VitalSigns struct {
	BloodPressure string  `json:"blood_pressure,omitempty"`
	HeartRate     int     `json:"heart_rate,omitempty"`
	Temperature   float64 `json:"temperature,omitempty"`
	Weight        float64 `json:"weight,omitempty"`
	Height        float64 `json:"height,omitempty"`
	RecordedAt    string  `json:"recorded_at,omitempty"`
}

// Patient is the master identity record. DedupeKey is the normalized
// (name, dob, first phone) fingerprint; it carries a unique constraint
// so concurrent registrations of the same person collide in storage
// rather than silently duplicating.
type Patient struct {
	Base
	FullName          string          `db:"full_name" json:"full_name"`
	Nickname          *string         `db:"nickname" json:"nickname,omitempty"`
	NationalID        string          `db:"national_id" json:"national_id"`
	DateOfBirth       time.Time       `db:"date_of_birth" json:"date_of_birth"`
	Gender            Gender          `db:"gender" json:"gender"`
	Address           string          `db:"address" json:"address"`
	Email             string          `db:"email" json:"email"`
	DedupeKey         string          `db:"dedupe_key" json:"-"`
	PhonesJSON        json.RawMessage `db:"phones" json:"-"`
	InsuranceJSON     json.RawMessage `db:"insurance" json:"-"`
	ReferralJSON      json.RawMessage `db:"referral" json:"-"`
	AllergiesJSON     json.RawMessage `db:"allergies" json:"-"`
	MedicationsJSON   json.RawMessage `db:"medications" json:"-"`
	ProblemsJSON      json.RawMessage `db:"problems" json:"-"`
	ImmunizationsJSON json.RawMessage `db:"immunizations" json:"-"`
	VitalSignsJSON    json.RawMessage `db:"vital_signs" json:"-"`

	Phones        []Phone        `db:"-" json:"phones"`
	Insurance     *InsuranceInfo `db:"-" json:"insurance,omitempty"`
	Referral      *ReferralInfo  `db:"-" json:"referral,omitempty"`
	Allergies     []string       `db:"-" json:"allergies,omitempty"`
	Medications   []string       `db:"-" json:"medications,omitempty"`
	Problems      []string       `db:"-" json:"problems,omitempty"`
	Immunizations []string       `db:"-" json:"immunizations,omitempty"`
	VitalSigns    *VitalSigns    `db:"-" json:"vital_signs,omitempty"`
}

type CreatePatientRequest struct {
	FullName      string         `json:"full_name" validate:"required"`
	Nickname      string         `json:"nickname"`
	NationalID    string         `json:"national_id" validate:"required"`
	DateOfBirth   time.Time      `json:"date_of_birth" validate:"required"`
	Gender        Gender         `json:"gender" validate:"required,oneof=male female other"`
	Phones        []Phone        `json:"phones" validate:"required,min=1,dive"`
	Address       string         `json:"address"`
	Email         string         `json:"email" validate:"omitempty,email"`
	Insurance     *InsuranceInfo `json:"insurance"`
	Referral      *ReferralInfo  `json:"referral"`
	Allergies     []string       `json:"allergies"`
	Medications   []string       `json:"medications"`
	Problems      []string       `json:"problems"`
	Immunizations []string       `json:"immunizations"`
	VitalSigns    *VitalSigns    `json:"vital_signs"`
}

type UpdatePatientRequest struct {
	FullName      *string        `json:"full_name"`
	Nickname      *string        `json:"nickname"`
	DateOfBirth   *time.Time     `json:"date_of_birth"`
	Gender        *Gender        `json:"gender" validate:"omitempty,oneof=male female other"`
	Phones        []Phone        `json:"phones" validate:"omitempty,min=1,dive"`
	Address       *string        `json:"address"`
	Email         *string        `json:"email" validate:"omitempty,email"`
	Insurance     *InsuranceInfo `json:"insurance"`
	Referral      *ReferralInfo  `json:"referral"`
	Allergies     []string       `json:"allergies"`
	Medications   []string       `json:"medications"`
	Problems      []string       `json:"problems"`
	Immunizations []string       `json:"immunizations"`
	VitalSigns    *VitalSigns    `json:"vital_signs"`
}

// DuplicateCheck is the pre-flight duplicate query payload. It never
// mutates state; the answer is advisory, for front-desk review.
type DuplicateCheck struct {
	FullName    string    `json:"full_name" validate:"required"`
	DateOfBirth time.Time `json:"date_of_birth" validate:"required"`
	Phones      []Phone   `json:"phones" validate:"required,min=1"`
}

type PatientFilters struct {
	SearchTerm string `json:"search_term" form:"search_term"`
	NationalID string `json:"national_id" form:"national_id"`
	Pagination
}

type ExistingPatientRef struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"full_name"`
}
