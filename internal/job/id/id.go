// Package id provides unique identifier generation for jobs.
package id

import (
	"github.com/google/uuid"
)

// Generate creates a new unique job ID.
// Format: job-<uuid v7>, so IDs sort by creation time.
// Example: job-01932c07-a9a8-7a4e-bd3e-8f2a1c9d0b11
func Generate() string {
	u, err := uuid.NewV7()
	if err != nil {
		// Fallback to a random v4 if the clock source fails
		return "job-" + uuid.NewString()
	}
	return "job-" + u.String()
}
