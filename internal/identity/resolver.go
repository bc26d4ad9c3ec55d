// Package identity computes the normalized patient fingerprint used to
// catch duplicate registrations before they happen.
package identity

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/careline/records-api/internal/model"
	"github.com/careline/records-api/internal/repository"
)

// keySeparator joins the key components. A pipe cannot appear in a
// normalized name, an ISO date, or a digits-only phone number.
const keySeparator = "|"

// ComputeKey derives the dedupe fingerprint from a patient's full name,
// date of birth and first phone number. It is a pure function: casing
// and whitespace variation in the name and formatting of the phone
// number do not change the result, and only the calendar date of birth
// is kept, in its own location, with time-of-day discarded.
func ComputeKey(fullName string, dateOfBirth time.Time, phones []model.Phone) string {
	name := normalizeName(fullName)
	dob := dateOfBirth.Format("2006-01-02")

	phone := ""
	if len(phones) > 0 {
		phone = digitsOnly(phones[0].Number)
	}

	return name + keySeparator + dob + keySeparator + phone
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(name))), " ")
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Resolver answers "does a patient with this fingerprint already
// exist". The lookup is an exact match on the stored key; no fuzzy
// matching. The lookup is an advisory pre-check: storage holds the
// unique constraint that closes the race between concurrent
// registrations.
type Resolver struct {
	repo repository.PatientRepository
}

func NewResolver(repo repository.PatientRepository) *Resolver {
	return &Resolver{repo: repo}
}

// FindDuplicate returns the patient holding key, or nil if none does.
func (r *Resolver) FindDuplicate(ctx context.Context, key string) (*model.Patient, error) {
	return r.repo.GetByDedupeKey(ctx, key)
}

// FindDuplicateExcluding is the update-path variant: the record being
// updated must not count as its own duplicate.
func (r *Resolver) FindDuplicateExcluding(ctx context.Context, key string, selfID uuid.UUID) (*model.Patient, error) {
	existing, err := r.repo.GetByDedupeKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.ID == selfID {
		return nil, nil
	}
	return existing, nil
}
