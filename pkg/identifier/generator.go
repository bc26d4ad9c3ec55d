// Package identifier produces the human-readable codes stamped on
// clinical documents: a prefix, the current UTC calendar date, and a
// four-digit random suffix (e.g. LAB202608280417).
//
// The generator makes no uniqueness promise. Ten thousand suffixes per
// day collide under load; the storage layer's unique constraint is the
// source of truth and callers regenerate on a constraint violation.
package identifier

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

const (
	// PrefixLabTest and PrefixPrescription are the only prefixes in use.
	PrefixLabTest      = "LAB"
	PrefixPrescription = "RX"

	// MaxAttempts bounds the regenerate-on-collision loop in callers.
	MaxAttempts = 3

	suffixSpace = 10000
)

// Generator produces document codes.
type Generator interface {
	Generate(prefix string) string
}

// Clock returns the current time; swapped out in tests to pin the date.
type Clock func() time.Time

type generator struct {
	now Clock

	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a Generator using the wall clock.
func New() Generator {
	return NewWithClock(time.Now)
}

// NewWithClock returns a Generator with an injected clock.
func NewWithClock(now Clock) Generator {
	return &generator{
		now: now,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *generator) Generate(prefix string) string {
	g.mu.Lock()
	n := g.rng.Intn(suffixSpace)
	g.mu.Unlock()

	return fmt.Sprintf("%s%s%04d", prefix, g.now().UTC().Format("20060102"), n)
}
