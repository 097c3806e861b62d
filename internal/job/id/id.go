// Package id provides unique identifier generation for jobs.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// Prefix starts every job ID.
const Prefix = "job-"

// Generate creates a new unique job ID.
// Format: job-<uuid>
// Example: job-9b2f0d4e-8c1a-4f7e-b6a5-3d2c1b0a9f8e
func Generate() string {
	return Prefix + uuid.NewString()
}

// Valid reports whether s has the shape of a generated job ID.
func Valid(s string) bool {
	rest, ok := strings.CutPrefix(s, Prefix)
	if !ok {
		return false
	}
	return uuid.Validate(rest) == nil
}
