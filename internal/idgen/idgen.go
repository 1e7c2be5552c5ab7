package idgen

import "github.com/google/uuid"

// NewRunID returns a time-ordered UUIDv7 identifier for a run.
// If UUIDv7 generation fails, it falls back to a random UUIDv4.
func NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
