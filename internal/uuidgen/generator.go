// Package uuidgen issues identifiers for collaboration objects.
package uuidgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Kind selects the UUID version used for an identifier
type Kind string

const (
	// KindSession ids are time ordered so log lines and metrics sort by connect time
	KindSession Kind = "session"
	// KindRateEntry ids only need to be unique within a rate-limit window
	KindRateEntry Kind = "rate_entry"
)

// New generates a UUID for the given kind. Sessions get UUIDv7, everything
// else UUIDv4.
func New(kind Kind) (uuid.UUID, error) {
	if kind == KindSession {
		return uuid.NewV7()
	}
	return uuid.NewRandom()
}

// MustString is like New but returns the string form and panics on error.
// Entropy exhaustion is the only failure mode.
func MustString(kind Kind) string {
	id, err := New(kind)
	if err != nil {
		panic(fmt.Sprintf("failed to generate %s id: %v", kind, err))
	}
	return id.String()
}
