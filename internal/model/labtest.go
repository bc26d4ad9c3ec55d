package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type LabTestStatus string

const (
	LabTestStatusPending    LabTestStatus = "pending"
	LabTestStatusInProgress LabTestStatus = "in_progress"
	LabTestStatusCompleted  LabTestStatus = "completed"
	LabTestStatusCancelled  LabTestStatus = "cancelled"
)

// Valid reports whether s is a known lab test status.
func (s LabTestStatus) Valid() bool {
	switch s {
	case LabTestStatusPending, LabTestStatusInProgress, LabTestStatusCompleted, LabTestStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is permitted from s.
func (s LabTestStatus) Terminal() bool {
	return s == LabTestStatusCompleted || s == LabTestStatusCancelled
}

type LabTestPriority string

const (
	PriorityRoutine LabTestPriority = "routine"
	PriorityUrgent  LabTestPriority = "urgent"
	PriorityStat    LabTestPriority = "stat"
)

func (p LabTestPriority) Valid() bool {
	switch p {
	case PriorityRoutine, PriorityUrgent, PriorityStat:
		return true
	}
	return false
}

// DefaultDueIn is the turnaround window applied when the order carries
// no explicit due date.
func (p LabTestPriority) DefaultDueIn() time.Duration {
	switch p {
	case PriorityStat:
		return 24 * time.Hour
	case PriorityUrgent:
		return 48 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

type SampleType string

const (
	SampleBlood  SampleType = "blood"
	SampleUrine  SampleType = "urine"
	SampleStool  SampleType = "stool"
	SampleSputum SampleType = "sputum"
	SampleTissue SampleType = "tissue"
	SampleSwab   SampleType = "swab"
	SampleOther  SampleType = "other"
)

func (s SampleType) Valid() bool {
	switch s {
	case SampleBlood, SampleUrine, SampleStool, SampleSputum, SampleTissue, SampleSwab, SampleOther:
		return true
	}
	return false
}

type LabTestType string

// The laboratory's procedure catalog. Closed list; orders naming
// anything else are rejected at creation.
const (
	TestFullBloodCount    LabTestType = "full_blood_count"
	TestFastingBloodSugar LabTestType = "fasting_blood_sugar"
	TestRandomBloodSugar  LabTestType = "random_blood_sugar"
	TestLipidProfile      LabTestType = "lipid_profile"
	TestLiverFunction     LabTestType = "liver_function"
	TestRenalFunction     LabTestType = "renal_function"
	TestThyroidProfile    LabTestType = "thyroid_profile"
	TestHbA1c             LabTestType = "hba1c"
	TestUrineFullReport   LabTestType = "urine_full_report"
	TestESR               LabTestType = "esr"
	TestCRP               LabTestType = "crp"
	TestBloodGroup        LabTestType = "blood_group"
	TestSerumCreatinine   LabTestType = "serum_creatinine"
	TestSerumElectrolytes LabTestType = "serum_electrolytes"
	TestDengueNS1         LabTestType = "dengue_ns1"
	TestMalariaSmear      LabTestType = "malaria_smear"
	TestStoolFullReport   LabTestType = "stool_full_report"
	TestSputumCulture     LabTestType = "sputum_culture"
	TestBloodCulture      LabTestType = "blood_culture"
	TestVDRL              LabTestType = "vdrl"
	TestHIVScreening      LabTestType = "hiv_screening"
)

var labTestCatalog = map[LabTestType]bool{
	TestFullBloodCount: true, TestFastingBloodSugar: true, TestRandomBloodSugar: true,
	TestLipidProfile: true, TestLiverFunction: true, TestRenalFunction: true,
	TestThyroidProfile: true, TestHbA1c: true, TestUrineFullReport: true,
	TestESR: true, TestCRP: true, TestBloodGroup: true, TestSerumCreatinine: true,
	TestSerumElectrolytes: true, TestDengueNS1: true, TestMalariaSmear: true,
	TestStoolFullReport: true, TestSputumCulture: true, TestBloodCulture: true,
	TestVDRL: true, TestHIVScreening: true,
}

func (t LabTestType) Valid() bool {
	return labTestCatalog[t]
}

// LabTest is a laboratory order. TestCode is generated once at creation
// and immutable; Results stays loosely typed because shapes vary per
// procedure.
type LabTest struct {
	Base
	PatientID         uuid.UUID       `db:"patient_id" json:"patient_id"`
	OrderedBy         uuid.UUID       `db:"ordered_by" json:"ordered_by"`
	ProcessedBy       *uuid.UUID      `db:"processed_by" json:"processed_by,omitempty"`
	TestType          LabTestType     `db:"test_type" json:"test_type"`
	TestCode          string          `db:"test_code" json:"test_code"`
	Priority          LabTestPriority `db:"priority" json:"priority"`
	Status            LabTestStatus   `db:"status" json:"status"`
	SampleType        SampleType      `db:"sample_type" json:"sample_type"`
	SampleCollected   bool            `db:"sample_collected" json:"sample_collected"`
	SampleCollectedAt *time.Time      `db:"sample_collected_at" json:"sample_collected_at,omitempty"`
	Results           json.RawMessage `db:"results" json:"results,omitempty"`
	NormalRange       string          `db:"normal_range" json:"normal_range,omitempty"`
	Interpretation    string          `db:"interpretation" json:"interpretation,omitempty"`
	Notes             string          `db:"notes" json:"notes,omitempty"`
	ReferredLab       *string         `db:"referred_lab" json:"referred_lab,omitempty"`
	ReferredLabRef    *string         `db:"referred_lab_ref" json:"referred_lab_ref,omitempty"`
	DueDate           time.Time       `db:"due_date" json:"due_date"`
	CompletedAt       *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

// IsOverdue is derived on read, never stored: past due and still open.
func (t *LabTest) IsOverdue(now time.Time) bool {
	return t.DueDate.Before(now) && !t.Status.Terminal()
}

// AgeInDays is the whole days elapsed since the order was placed.
func (t *LabTest) AgeInDays(now time.Time) int {
	return int(now.Sub(t.CreatedAt).Hours() / 24)
}

// LabTestView is the read-model handed back to callers: the stored row
// plus the derived temporal fields, computed at read time.
type LabTestView struct {
	*LabTest
	IsOverdue bool `json:"is_overdue"`
	AgeInDays int  `json:"age_in_days"`
}

func NewLabTestView(t *LabTest, now time.Time) *LabTestView {
	return &LabTestView{
		LabTest:   t,
		IsOverdue: t.IsOverdue(now),
		AgeInDays: t.AgeInDays(now),
	}
}

type CreateLabTestRequest struct {
	PatientID   uuid.UUID       `json:"patient_id" validate:"required"`
	TestType    LabTestType     `json:"test_type" validate:"required"`
	Priority    LabTestPriority `json:"priority" validate:"required"`
	SampleType  SampleType      `json:"sample_type" validate:"required"`
	Notes       string          `json:"notes"`
	ReferredLab string          `json:"referred_lab"`
	DueDate     *time.Time      `json:"due_date"`
}

// UpdateLabTestRequest carries the mutable processing fields. Status
// changes ride through the explicit transition operations, not here.
type UpdateLabTestRequest struct {
	Results        json.RawMessage `json:"results"`
	NormalRange    *string         `json:"normal_range"`
	Interpretation *string         `json:"interpretation"`
	Notes          *string         `json:"notes"`
	SampleType     *SampleType     `json:"sample_type"`
}

type LabTestFilters struct {
	PatientID uuid.UUID       `json:"patient_id" form:"patient_id"`
	Status    LabTestStatus   `json:"status" form:"status"`
	Priority  LabTestPriority `json:"priority" form:"priority"`
	Overdue   bool            `json:"overdue" form:"overdue"`
	Pagination
}
