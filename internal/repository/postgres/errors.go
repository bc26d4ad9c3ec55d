package postgres

import (
	"errors"

	"github.com/lib/pq"
)

// Unique constraint names the services key their retry/conflict
// handling on. They must match the schema in migrations/.
const (
	ConstraintPatientDedupeKey   = "patients_dedupe_key_key"
	ConstraintPatientNationalID  = "patients_national_id_key"
	ConstraintLabTestCode        = "lab_tests_test_code_key"
	ConstraintPrescriptionNumber = "prescriptions_prescription_number_key"
	ConstraintUserEmail          = "users_email_key"
)

const uniqueViolationCode = "23505"

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation. When constraint is non-empty, the violated constraint must
// also match by name.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if pqErr.Code != uniqueViolationCode {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
